package server

import (
	"bytes"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"example.com/communityfeed/internal/auth"
	appkafka "example.com/communityfeed/internal/broker"
	"example.com/communityfeed/internal/feed"
	"example.com/communityfeed/internal/forms"
	"example.com/communityfeed/internal/models"
	"example.com/communityfeed/internal/store"
	"golang.org/x/crypto/bcrypt"
)

//
// --- Helpers ---
//

// create HTTP request with optional JWT token
func sendJSONRequest(t *testing.T, method, url string, body any, token string, expectedStatus int) *http.Response {
	t.Helper()

	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("json.Marshal failed: %v", err)
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequest(method, url, reader)
	if err != nil {
		t.Fatalf("NewRequest failed: %v", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("request failed: %v", err)
	}

	if resp.StatusCode != expectedStatus {
		b, _ := io.ReadAll(resp.Body)
		defer resp.Body.Close()
		t.Fatalf("%s %s: expected %d, got %d: %s", method, url, expectedStatus, resp.StatusCode, string(b))
	}
	return resp
}

func decodeResp[T any](t *testing.T, resp *http.Response) T {
	t.Helper()
	defer resp.Body.Close()
	var v T
	if err := json.NewDecoder(resp.Body).Decode(&v); err != nil {
		t.Fatalf("decode failed: %v", err)
	}
	return v
}

//
// --- Setup test server ---
//

type testEnv struct {
	s     *Server
	ts    *httptest.Server
	store *store.MockStore
	kafka *appkafka.MockKafka
}

func setupTestServer(t *testing.T, rules forms.PostRules) *testEnv {
	t.Helper()
	mockStore := store.NewMock()
	mockKafka := &appkafka.MockKafka{}
	svc := auth.NewService(mockStore, auth.NewTokens("test-secret", time.Hour), bcrypt.MinCost)
	s := New(mockStore, mockKafka, svc, feed.New(mockStore, 2, 2), rules)

	ts := httptest.NewServer(s.Routes())
	t.Cleanup(ts.Close)
	return &testEnv{s: s, ts: ts, store: mockStore, kafka: mockKafka}
}

// signup + login, returns the token
func (e *testEnv) login(t *testing.T, username, password string) (string, models.User) {
	t.Helper()
	sendJSONRequest(t, http.MethodPost, e.ts.URL+"/signup",
		map[string]string{"username": username, "password": password}, "", http.StatusCreated).Body.Close()

	sess := decodeResp[models.Session](t, sendJSONRequest(t, http.MethodPost, e.ts.URL+"/login",
		map[string]string{"username": username, "password": password}, "", http.StatusOK))
	if sess.Token == "" {
		t.Fatalf("expected token in login response")
	}
	return sess.Token, sess.User
}

//
// --- Tests ---
//

func TestSignupLoginMe(t *testing.T) {
	e := setupTestServer(t, forms.PostRules{})

	token, user := e.login(t, "alice", "pw123")
	if user.Nickname != "alice" {
		t.Fatalf("expected nickname to default to username, got %q", user.Nickname)
	}

	me := decodeResp[map[string]any](t, sendJSONRequest(t, http.MethodGet, e.ts.URL+"/me", nil, token, http.StatusOK))
	if me["id"] != user.ID {
		t.Fatalf("unexpected /me: %+v", me)
	}
	if _, leaked := me["password_hash"]; leaked {
		t.Fatalf("password hash must not be serialized")
	}

	sendJSONRequest(t, http.MethodGet, e.ts.URL+"/me", nil, "", http.StatusUnauthorized).Body.Close()
	sendJSONRequest(t, http.MethodGet, e.ts.URL+"/me", nil, "garbage", http.StatusUnauthorized).Body.Close()
}

func TestSignup_Duplicate(t *testing.T) {
	e := setupTestServer(t, forms.PostRules{})
	e.login(t, "alice", "pw123")

	resp := sendJSONRequest(t, http.MethodPost, e.ts.URL+"/signup",
		map[string]string{"username": "alice", "password": "other1"}, "", http.StatusConflict)
	body := decodeResp[map[string]string](t, resp)
	if body["error"] != auth.ErrUsernameTaken.Error() {
		t.Fatalf("unexpected error body: %+v", body)
	}
	if len(e.store.Users) != 1 {
		t.Fatalf("expected exactly one user, got %d", len(e.store.Users))
	}
}

func TestLogin_WrongPassword(t *testing.T) {
	e := setupTestServer(t, forms.PostRules{})
	e.login(t, "alice", "pw123")

	body := decodeResp[map[string]string](t, sendJSONRequest(t, http.MethodPost, e.ts.URL+"/login",
		map[string]string{"username": "alice", "password": "nope"}, "", http.StatusUnauthorized))
	if body["error"] != auth.ErrInvalidCredentials.Error() {
		t.Fatalf("unexpected error body: %+v", body)
	}
}

// full flow: post -> comment -> like -> list
func TestPostCommentLikeListFlow(t *testing.T) {
	e := setupTestServer(t, forms.PostRules{})
	aliceToken, alice := e.login(t, "alice", "pw123")
	bobToken, _ := e.login(t, "bob", "pw456")

	post := decodeResp[models.Post](t, sendJSONRequest(t, http.MethodPost, e.ts.URL+"/posts",
		forms.PostForm{Title: "Hello", Content: "First post", Hashtags: "#hi"}, aliceToken, http.StatusCreated))
	if post.AuthorID != alice.ID || post.ID == "" {
		t.Fatalf("unexpected post: %+v", post)
	}

	sendJSONRequest(t, http.MethodPost, e.ts.URL+"/posts/"+post.ID+"/comments",
		map[string]string{"content": "nice"}, bobToken, http.StatusCreated).Body.Close()

	like := decodeResp[models.LikeResult](t, sendJSONRequest(t, http.MethodPost,
		e.ts.URL+"/posts/"+post.ID+"/like", nil, bobToken, http.StatusOK))
	if !like.Liked || like.LikesCount != 1 {
		t.Fatalf("unexpected like result: %+v", like)
	}
	// liking twice keeps one row
	like = decodeResp[models.LikeResult](t, sendJSONRequest(t, http.MethodPost,
		e.ts.URL+"/posts/"+post.ID+"/like", nil, bobToken, http.StatusOK))
	if like.LikesCount != 1 {
		t.Fatalf("expected idempotent like, got %+v", like)
	}

	views := decodeResp[[]models.PostView](t, sendJSONRequest(t, http.MethodGet, e.ts.URL+"/posts", nil, bobToken, http.StatusOK))
	if len(views) != 1 {
		t.Fatalf("expected 1 post, got %d", len(views))
	}
	v := views[0]
	if v.LikesCount != 1 || v.CommentsCount != 1 || !v.LikedByMe || v.AuthorNickname != "alice" {
		t.Fatalf("unexpected view: %+v", v)
	}

	anon := decodeResp[[]models.PostView](t, sendJSONRequest(t, http.MethodGet, e.ts.URL+"/posts?author="+alice.ID, nil, "", http.StatusOK))
	if len(anon) != 1 || anon[0].LikedByMe {
		t.Fatalf("unexpected anonymous view: %+v", anon)
	}

	unlike := decodeResp[models.LikeResult](t, sendJSONRequest(t, http.MethodDelete,
		e.ts.URL+"/posts/"+post.ID+"/like", nil, bobToken, http.StatusOK))
	if unlike.Liked || unlike.LikesCount != 0 {
		t.Fatalf("unexpected unlike result: %+v", unlike)
	}

	comments := decodeResp[[]models.Comment](t, sendJSONRequest(t, http.MethodGet,
		e.ts.URL+"/posts/"+post.ID+"/comments", nil, "", http.StatusOK))
	if len(comments) != 1 || comments[0].AuthorNickname != "bob" {
		t.Fatalf("unexpected comments: %+v", comments)
	}

	// post_created, comment_created, like_added, like_removed
	if n := len(e.kafka.Written()); n != 4 {
		t.Fatalf("expected 4 events, got %d", n)
	}
}

func TestGetPost_CountsView(t *testing.T) {
	e := setupTestServer(t, forms.PostRules{})
	token, _ := e.login(t, "alice", "pw123")

	post := decodeResp[models.Post](t, sendJSONRequest(t, http.MethodPost, e.ts.URL+"/posts",
		forms.PostForm{Title: "t", Content: "c"}, token, http.StatusCreated))

	view := decodeResp[models.PostView](t, sendJSONRequest(t, http.MethodGet, e.ts.URL+"/posts/"+post.ID, nil, "", http.StatusOK))
	if view.Views != 1 {
		t.Fatalf("expected 1 view, got %d", view.Views)
	}
	e.s.feed.Wait()
	if got := e.store.Posts[post.ID].Views; got != 1 {
		t.Fatalf("expected stored views 1, got %d", got)
	}

	sendJSONRequest(t, http.MethodGet, e.ts.URL+"/posts/missing", nil, "", http.StatusNotFound).Body.Close()
	sendJSONRequest(t, http.MethodPost, e.ts.URL+"/posts/missing/like", nil, token, http.StatusNotFound).Body.Close()
}

func TestCreatePost_Invalid(t *testing.T) {
	e := setupTestServer(t, forms.PostRules{RequirePrice: true})
	token, _ := e.login(t, "alice", "pw123")

	for _, form := range []forms.PostForm{
		{Title: "", Content: "c", Price: "1"},
		{Title: "t", Content: "", Price: "1"},
		{Title: "t", Content: "c", Price: "-5"},
		{Title: "t", Content: "c", Price: "free"},
		{Title: "t", Content: "c"},
	} {
		body := decodeResp[map[string]string](t, sendJSONRequest(t, http.MethodPost, e.ts.URL+"/posts", form, token, http.StatusBadRequest))
		if body["error"] == "" || body["field"] == "" {
			t.Fatalf("expected field error, got %+v", body)
		}
	}
	if len(e.store.Posts) != 0 || len(e.kafka.Written()) != 0 {
		t.Fatalf("invalid posts must not be stored or published")
	}
}

func TestCreatePost_Unauthorized(t *testing.T) {
	e := setupTestServer(t, forms.PostRules{})
	sendJSONRequest(t, http.MethodPost, e.ts.URL+"/posts", forms.PostForm{Title: "t", Content: "c"}, "", http.StatusUnauthorized).Body.Close()
	sendJSONRequest(t, http.MethodPost, e.ts.URL+"/posts/x/like", nil, "", http.StatusUnauthorized).Body.Close()
}

// invalid JSON body
func TestCreateUser_InvalidJSON(t *testing.T) {
	e := setupTestServer(t, forms.PostRules{})

	resp, err := http.Post(e.ts.URL+"/signup", "application/json", bytes.NewBufferString(`{"username":123}`))
	if err != nil {
		t.Fatalf("http.Post failed: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", resp.StatusCode)
	}
}

// Kafka write error does not fail the request
func TestKafkaWriteError(t *testing.T) {
	e := setupTestServer(t, forms.PostRules{})
	token, _ := e.login(t, "alice", "pw123")
	e.s.kafkaWriter = &appkafka.MockKafkaFail{}

	sendJSONRequest(t, http.MethodPost, e.ts.URL+"/posts", forms.PostForm{Title: "t", Content: "c"}, token, http.StatusCreated).Body.Close()
	if len(e.store.Posts) != 1 {
		t.Fatalf("expected post to be stored despite publish failure")
	}
}

// Store failure maps to a generic message
func TestStoreFailure(t *testing.T) {
	e := setupTestServer(t, forms.PostRules{})
	e.store.ShouldFail = true

	body := decodeResp[map[string]string](t, sendJSONRequest(t, http.MethodGet, e.ts.URL+"/posts", nil, "", http.StatusServiceUnavailable))
	if body["error"] != errFetchFailed.Error() {
		t.Fatalf("unexpected error body: %+v", body)
	}

	body = decodeResp[map[string]string](t, sendJSONRequest(t, http.MethodPost, e.ts.URL+"/login",
		map[string]string{"username": "alice", "password": "pw123"}, "", http.StatusUnauthorized))
	if body["error"] != auth.ErrInvalidCredentials.Error() {
		t.Fatalf("lookup failure should look like a mismatch: %+v", body)
	}
}

func TestHealthAndMetrics(t *testing.T) {
	e := setupTestServer(t, forms.PostRules{})
	sendJSONRequest(t, http.MethodGet, e.ts.URL+"/health", nil, "", http.StatusOK).Body.Close()

	resp := sendJSONRequest(t, http.MethodGet, e.ts.URL+"/metrics", nil, "", http.StatusOK)
	defer resp.Body.Close()
	b, _ := io.ReadAll(resp.Body)
	if !bytes.Contains(b, []byte("communityfeed_http_request_duration_seconds")) {
		t.Fatalf("expected request histogram in metrics output")
	}
}
