package client

import (
	"context"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"example.com/communityfeed/cmd/server"
	"example.com/communityfeed/cmd/worker"
	"example.com/communityfeed/internal/auth"
	appkafka "example.com/communityfeed/internal/broker"
	"example.com/communityfeed/internal/feed"
	"example.com/communityfeed/internal/forms"
	"example.com/communityfeed/internal/models"
	"example.com/communityfeed/internal/session"
	"example.com/communityfeed/internal/store"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"
)

type env struct {
	api   *httptest.Server
	rt    *httptest.Server
	hub   *worker.Hub
	store *store.MockStore
	c     *Client
}

func newEnv(t *testing.T, rules forms.PostRules) *env {
	t.Helper()
	st := store.NewMock()
	svc := auth.NewService(st, auth.NewTokens("test-secret", time.Hour), bcrypt.MinCost)
	srv := server.New(st, &appkafka.MockKafka{}, svc, feed.New(st, 0, 0), rules)
	api := httptest.NewServer(srv.Routes())
	t.Cleanup(api.Close)

	gw := worker.New(&appkafka.MockKafka{}, worker.NewHub(), 1, 1)
	rt := httptest.NewServer(gw.Routes())
	t.Cleanup(rt.Close)

	c := New(api.URL, rt.URL)
	t.Cleanup(func() { _ = c.Close() })
	return &env{api: api, rt: rt, hub: gw.Hub(), store: st, c: c}
}

func TestSessionOverHTTP(t *testing.T) {
	e := newEnv(t, forms.PostRules{})
	ctx := context.Background()
	dir := t.TempDir()

	s := session.New(e.c, session.NewFilePersister(dir), "")
	_, err := s.Signup(ctx, "alice", "pw123", "")
	require.NoError(t, err)
	_, ok := s.Current()
	require.False(t, ok, "signup does not sign in")

	_, err = s.Signup(ctx, "alice", "pw999", "")
	require.ErrorIs(t, err, auth.ErrUsernameTaken)
	_, err = s.Signup(ctx, "x", "pw999", "")
	require.ErrorIs(t, err, auth.ErrInvalidUsername)

	require.ErrorIs(t, s.Login(ctx, "alice", "wrong"), auth.ErrInvalidCredentials)
	require.Equal(t, session.Unauthenticated, s.State())

	require.NoError(t, s.Login(ctx, "alice", "pw123"))
	me, err := e.c.Me(ctx, s.Token())
	require.NoError(t, err)
	require.Equal(t, "alice", me.Username)

	s.Logout()
	reloaded := session.New(e.c, session.NewFilePersister(dir), "")
	require.False(t, reloaded.Restore())
	require.Equal(t, session.LoginPath, reloaded.Guard("/posts/new"))
}

func TestUnreachableServerIsGeneric(t *testing.T) {
	c := New("http://127.0.0.1:1", "ws://127.0.0.1:1")
	defer c.Close()

	s := session.New(c, session.NewFilePersister(t.TempDir()), "")
	require.ErrorIs(t, s.Login(context.Background(), "alice", "pw123"), auth.ErrUnavailable)
}

func TestSubmitAndListOverHTTP(t *testing.T) {
	e := newEnv(t, forms.PostRules{RequirePrice: true})
	ctx := context.Background()

	s := session.New(e.c, session.NewFilePersister(t.TempDir()), "")
	_, err := s.Signup(ctx, "alice", "pw123", "Alice")
	require.NoError(t, err)
	require.NoError(t, s.Login(ctx, "alice", "pw123"))

	sub := forms.NewSubmitter(s, e.c, forms.PostRules{RequirePrice: true})

	_, err = sub.SubmitPost(ctx, forms.PostForm{Title: "Bike", Content: "Barely used", Price: "-1"})
	var verr *forms.ValidationError
	require.ErrorAs(t, err, &verr)
	require.Empty(t, e.store.Posts)

	post, err := sub.SubmitPost(ctx, forms.PostForm{Title: "Bike", Content: "Barely used", Price: "150000"})
	require.NoError(t, err)
	require.NotNil(t, post.Price)

	_, err = sub.SubmitComment(ctx, forms.CommentForm{PostID: post.ID, Content: "still available?"})
	require.NoError(t, err)

	like := &forms.LikeState{PostID: post.ID}
	require.NoError(t, sub.ToggleLike(ctx, like))
	require.Equal(t, forms.LikeState{PostID: post.ID, Liked: true, Count: 1}, *like)

	views, err := e.c.ListPosts(ctx, s.Token(), "")
	require.NoError(t, err)
	require.Len(t, views, 1)
	require.EqualValues(t, 1, views[0].LikesCount)
	require.EqualValues(t, 1, views[0].CommentsCount)
	require.True(t, views[0].LikedByMe)
	require.Equal(t, "Alice", views[0].AuthorNickname)

	require.NoError(t, sub.ToggleLike(ctx, like))
	require.Equal(t, forms.LikeState{PostID: post.ID, Liked: false, Count: 0}, *like)

	comments, err := e.c.Comments(ctx, post.ID)
	require.NoError(t, err)
	require.Len(t, comments, 1)

	_, err = e.c.GetPost(ctx, "", "missing")
	require.ErrorIs(t, err, ErrNotFound)
}

func TestServerSideValidationMirrorsForm(t *testing.T) {
	e := newEnv(t, forms.PostRules{RequirePrice: true})
	ctx := context.Background()

	_, err := e.c.Signup(ctx, "bob", "pw123", "")
	require.NoError(t, err)
	sess, err := e.c.Login(ctx, "bob", "pw123")
	require.NoError(t, err)

	// the server enforces the price rule even if a client skips validation
	_, err = e.c.CreatePost(ctx, sess.Token, forms.PostForm{Title: "t", Content: "c"})
	var verr *forms.ValidationError
	require.ErrorAs(t, err, &verr)
	require.Equal(t, "price", verr.Field)

	_, err = e.c.CreatePost(ctx, "bad-token", forms.PostForm{Title: "t", Content: "c", Price: "1"})
	require.ErrorIs(t, err, session.ErrNotAuthenticated)
}

func TestSubscribeFeedsTimeline(t *testing.T) {
	e := newEnv(t, forms.PostRules{})
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	events, err := e.c.Subscribe(ctx, models.TablePosts)
	require.NoError(t, err)
	require.Eventually(t, func() bool { return e.hub.Len() == 1 }, time.Second, 5*time.Millisecond)

	existing := models.PostView{Post: models.Post{ID: "p1", Title: "old"}}
	tl := NewTimeline([]models.PostView{existing})

	for _, p := range []models.Post{{ID: "p2", Title: "new"}, {ID: "p1", Title: "dup"}} {
		ev, err := appkafka.NewEvent(models.EventPostCreated, models.TablePosts, p)
		require.NoError(t, err)
		e.hub.Broadcast(ev)
	}

	changed := 0
	for i := 0; i < 2; i++ {
		select {
		case ev := <-events:
			if tl.Apply(ev) {
				changed++
			}
		case <-ctx.Done():
			t.Fatal("timed out waiting for realtime events")
		}
	}
	require.Equal(t, 1, changed)

	posts := tl.Posts()
	require.Len(t, posts, 2)
	require.Equal(t, "p2", posts[0].ID)
	require.Equal(t, "old", posts[1].Title)

	cancel()
	require.Eventually(t, func() bool {
		_, open := <-events
		return !open
	}, time.Second, 5*time.Millisecond)
}

func TestRealtimeEndpoint(t *testing.T) {
	c := New("http://localhost:8080", "https://rt.example.com")
	defer c.Close()
	u, err := c.realtimeEndpoint("likes")
	require.NoError(t, err)
	require.True(t, strings.HasPrefix(u, "wss://rt.example.com/realtime"))
	require.Contains(t, u, "table=likes")
}
