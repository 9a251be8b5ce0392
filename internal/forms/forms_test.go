package forms

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"example.com/communityfeed/internal/auth"
	"example.com/communityfeed/internal/models"
	"example.com/communityfeed/internal/session"
	"example.com/communityfeed/internal/store"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"
)

// fakeBackend keeps likes per post and counts every call.
type fakeBackend struct {
	mu    sync.Mutex
	calls int
	likes map[string]map[string]bool
	extra int64 // likes by other users, added to every count

	fail  error
	block chan struct{}
}

func newFakeBackend() *fakeBackend {
	return &fakeBackend{likes: make(map[string]map[string]bool)}
}

func (f *fakeBackend) enter() error {
	f.mu.Lock()
	f.calls++
	block, fail := f.block, f.fail
	f.mu.Unlock()
	if block != nil {
		<-block
	}
	return fail
}

func (f *fakeBackend) Calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

func (f *fakeBackend) CreatePost(_ context.Context, token string, form PostForm) (*models.Post, error) {
	if err := f.enter(); err != nil {
		return nil, err
	}
	return &models.Post{ID: "post_1", Title: form.Title, Content: form.Content}, nil
}

func (f *fakeBackend) AddComment(_ context.Context, token string, form CommentForm) (*models.Comment, error) {
	if err := f.enter(); err != nil {
		return nil, err
	}
	return &models.Comment{ID: "comment_1", PostID: form.PostID, Content: form.Content}, nil
}

func (f *fakeBackend) setLike(postID, token string, liked bool) models.LikeResult {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.likes[postID] == nil {
		f.likes[postID] = make(map[string]bool)
	}
	if liked {
		f.likes[postID][token] = true
	} else {
		delete(f.likes[postID], token)
	}
	return models.LikeResult{PostID: postID, Liked: liked, LikesCount: int64(len(f.likes[postID])) + f.extra}
}

func (f *fakeBackend) Like(_ context.Context, token, postID string) (models.LikeResult, error) {
	if err := f.enter(); err != nil {
		return models.LikeResult{}, err
	}
	return f.setLike(postID, token, true), nil
}

func (f *fakeBackend) Unlike(_ context.Context, token, postID string) (models.LikeResult, error) {
	if err := f.enter(); err != nil {
		return models.LikeResult{}, err
	}
	return f.setLike(postID, token, false), nil
}

func signedIn(t *testing.T) *session.Store {
	t.Helper()
	ctx := context.Background()
	svc := auth.NewService(store.NewMock(), auth.NewTokens("test-secret", time.Hour), bcrypt.MinCost)
	_, err := svc.Signup(ctx, "alice", "pw123", "Alice")
	require.NoError(t, err)

	sess := session.New(svc, session.NewFilePersister(t.TempDir()), "")
	require.NoError(t, sess.Login(ctx, "alice", "pw123"))
	return sess
}

func TestPostForm_InvalidNeverCallsBackend(t *testing.T) {
	backend := newFakeBackend()
	sub := NewSubmitter(signedIn(t), backend, PostRules{RequirePrice: true})

	cases := []struct {
		name  string
		form  PostForm
		field string
	}{
		{"empty title", PostForm{Title: "  ", Content: "body", Price: "10"}, "title"},
		{"empty content", PostForm{Title: "t", Content: "", Price: "10"}, "content"},
		{"missing price", PostForm{Title: "t", Content: "c"}, "price"},
		{"negative price", PostForm{Title: "t", Content: "c", Price: "-1"}, "price"},
		{"non-numeric price", PostForm{Title: "t", Content: "c", Price: "abc"}, "price"},
		{"nan price", PostForm{Title: "t", Content: "c", Price: "NaN"}, "price"},
		{"long title", PostForm{Title: strings.Repeat("가", MaxTitleLen+1), Content: "c", Price: "1"}, "title"},
		{"bad image url", PostForm{Title: "t", Content: "c", Price: "1", ImageURL: "javascript:alert(1)"}, "image_url"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := sub.SubmitPost(context.Background(), tc.form)
			var verr *ValidationError
			require.ErrorAs(t, err, &verr)
			require.Equal(t, tc.field, verr.Field)
			require.NotEmpty(t, verr.Error())
		})
	}
	require.Zero(t, backend.Calls())
}

func TestPostForm_BuildNormalizes(t *testing.T) {
	post, err := PostForm{
		Title:    "  Hello ",
		Content:  "world",
		Price:    "12,000",
		ImageURL: "https://picsum.photos/200",
		Hashtags: "#go, #feed go  #",
	}.Build(PostRules{})
	require.NoError(t, err)
	require.Equal(t, "Hello", post.Title)
	require.NotNil(t, post.Price)
	require.Equal(t, 12000.0, *post.Price)
	require.Equal(t, []string{"go", "feed"}, post.Hashtags)

	post, err = PostForm{Title: "t", Content: "c"}.Build(PostRules{})
	require.NoError(t, err)
	require.Nil(t, post.Price)

	_, err = PostForm{Title: "t", Content: "c", Price: "0"}.Build(PostRules{RequirePrice: true})
	require.NoError(t, err)
}

func TestCommentForm_Validate(t *testing.T) {
	require.NoError(t, CommentForm{PostID: "p", Content: "nice"}.Validate())
	require.Error(t, CommentForm{Content: "nice"}.Validate())
	require.Error(t, CommentForm{PostID: "p", Content: " "}.Validate())
	require.Error(t, CommentForm{PostID: "p", Content: strings.Repeat("a", MaxCommentLen+1)}.Validate())
}

func TestSubmitPost_OneCall(t *testing.T) {
	backend := newFakeBackend()
	sub := NewSubmitter(signedIn(t), backend, PostRules{})

	post, err := sub.SubmitPost(context.Background(), PostForm{Title: "t", Content: "c"})
	require.NoError(t, err)
	require.Equal(t, "post_1", post.ID)
	require.Equal(t, 1, backend.Calls())
}

func TestSubmit_RequiresSession(t *testing.T) {
	backend := newFakeBackend()
	svc := auth.NewService(store.NewMock(), auth.NewTokens("s", time.Hour), bcrypt.MinCost)
	anon := session.New(svc, session.NewFilePersister(t.TempDir()), "")
	sub := NewSubmitter(anon, backend, PostRules{})

	_, err := sub.SubmitPost(context.Background(), PostForm{Title: "t", Content: "c"})
	require.ErrorIs(t, err, session.ErrNotAuthenticated)
	err = sub.ToggleLike(context.Background(), &LikeState{PostID: "p"})
	require.ErrorIs(t, err, session.ErrNotAuthenticated)
	require.Zero(t, backend.Calls())
}

func TestSubmit_DoubleSubmitRefused(t *testing.T) {
	backend := newFakeBackend()
	backend.block = make(chan struct{})
	sess := signedIn(t)
	sub := NewSubmitter(sess, backend, PostRules{})

	form := PostForm{Title: "t", Content: "c"}
	done := make(chan error, 1)
	go func() {
		_, err := sub.SubmitPost(context.Background(), form)
		done <- err
	}()

	require.Eventually(t, func() bool { return backend.Calls() == 1 }, time.Second, 5*time.Millisecond)
	require.Equal(t, session.Submitting, sess.State())

	_, err := sub.SubmitPost(context.Background(), form)
	require.ErrorIs(t, err, ErrSubmitInFlight)

	close(backend.block)
	require.NoError(t, <-done)
	require.Equal(t, 1, backend.Calls())
	require.Equal(t, session.Authenticated, sess.State())

	backend.block = nil
	_, err = sub.SubmitPost(context.Background(), form)
	require.NoError(t, err)
	require.Equal(t, 2, backend.Calls())
}

func TestSubmit_RemoteErrorIsGeneric(t *testing.T) {
	backend := newFakeBackend()
	backend.fail = errors.New("502 bad gateway")
	sub := NewSubmitter(signedIn(t), backend, PostRules{})

	_, err := sub.SubmitComment(context.Background(), CommentForm{PostID: "p", Content: "hi"})
	require.ErrorIs(t, err, ErrSubmitFailed)

	backend.fail = &ValidationError{Field: "title", Message: "제목을 입력해주세요"}
	_, err = sub.SubmitPost(context.Background(), PostForm{Title: "t", Content: "c"})
	var verr *ValidationError
	require.ErrorAs(t, err, &verr)
	require.Equal(t, "title", verr.Field)
}

func TestToggleLike_RoundTrip(t *testing.T) {
	backend := newFakeBackend()
	backend.extra = 3
	sub := NewSubmitter(signedIn(t), backend, PostRules{})
	ctx := context.Background()

	st := &LikeState{PostID: "p1", Liked: false, Count: 3}

	require.NoError(t, sub.ToggleLike(ctx, st))
	require.True(t, st.Liked)
	require.EqualValues(t, 4, st.Count)

	require.NoError(t, sub.ToggleLike(ctx, st))
	require.False(t, st.Liked)
	require.EqualValues(t, 3, st.Count)
	require.Equal(t, 2, backend.Calls())
}

func TestToggleLike_ReconcilesWithServer(t *testing.T) {
	backend := newFakeBackend()
	backend.extra = 9
	sub := NewSubmitter(signedIn(t), backend, PostRules{})

	// local count is stale; the server knows about more likes
	st := &LikeState{PostID: "p1", Count: 2}
	require.NoError(t, sub.ToggleLike(context.Background(), st))
	require.True(t, st.Liked)
	require.EqualValues(t, 10, st.Count)
}

func TestToggleLike_RollsBackOnError(t *testing.T) {
	backend := newFakeBackend()
	backend.fail = errors.New("connection reset")
	sub := NewSubmitter(signedIn(t), backend, PostRules{})

	st := &LikeState{PostID: "p1", Liked: true, Count: 5}
	err := sub.ToggleLike(context.Background(), st)
	require.ErrorIs(t, err, ErrSubmitFailed)
	require.Equal(t, LikeState{PostID: "p1", Liked: true, Count: 5}, *st)
}

func TestParseHashtags(t *testing.T) {
	require.Equal(t, []string{"맛집", "seoul"}, ParseHashtags("#맛집 #seoul,#맛집"))
	require.Empty(t, ParseHashtags("  , # "))
}
