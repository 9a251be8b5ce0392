package server

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"example.com/communityfeed/internal/auth"
	appkafka "example.com/communityfeed/internal/broker"
	"example.com/communityfeed/internal/feed"
	"example.com/communityfeed/internal/forms"
	"example.com/communityfeed/internal/middleware"
	"example.com/communityfeed/internal/models"
	"example.com/communityfeed/internal/store"
	"github.com/google/uuid"
)

const maxBodyBytes = 1 << 20

var (
	errBadRequest   = errors.New("잘못된 요청입니다")
	errUnauthorized = errors.New("로그인이 필요합니다")
	errFetchFailed  = errors.New("목록을 불러오지 못했습니다. 잠시 후 다시 시도해주세요")
	errSaveFailed   = errors.New("저장에 실패했습니다. 잠시 후 다시 시도해주세요")
)

// --- Helpers ---

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logg.Error("http", "Failed to encode response", err)
	}
}

func writeError(w http.ResponseWriter, code int, err error) {
	body := map[string]string{"error": err.Error()}
	var verr *forms.ValidationError
	if errors.As(err, &verr) {
		body["field"] = verr.Field
	}
	writeJSON(w, code, body)
}

func decodeBody(w http.ResponseWriter, r *http.Request, v any) bool {
	defer r.Body.Close()
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes)).Decode(v); err != nil {
		logg.Error("http", "Invalid request body on "+r.URL.Path, err)
		writeError(w, http.StatusBadRequest, errBadRequest)
		return false
	}
	return true
}

// publish hands an event to Kafka after the store write. A failure is logged only.
func (s *Server) publish(typ models.EventType, table string, record any) {
	if err := appkafka.Publish(s.kafkaWriter, typ, table, record); err != nil {
		eventsPublished.WithLabelValues(table, "error").Inc()
		logg.Error("http/events", "Failed to publish "+string(typ)+" event", err)
		return
	}
	eventsPublished.WithLabelValues(table, "ok").Inc()
}

// --- Auth ---

type credentials struct {
	Username string `json:"username"`
	Password string `json:"password"`
	Nickname string `json:"nickname,omitempty"`
}

// signupHandler creates an account. It does not return a token.
func (s *Server) signupHandler(w http.ResponseWriter, r *http.Request) {
	var body credentials
	if !decodeBody(w, r, &body) {
		return
	}

	user, err := s.auth.Signup(r.Context(), body.Username, body.Password, body.Nickname)
	switch {
	case err == nil:
		writeJSON(w, http.StatusCreated, user)
	case errors.Is(err, auth.ErrUsernameTaken):
		logg.Info("http/signup", "Username already taken")
		writeError(w, http.StatusConflict, err)
	case errors.Is(err, auth.ErrInvalidUsername),
		errors.Is(err, auth.ErrInvalidPassword),
		errors.Is(err, auth.ErrInvalidNickname):
		writeError(w, http.StatusBadRequest, err)
	default:
		writeError(w, http.StatusServiceUnavailable, auth.ErrUnavailable)
	}
}

func (s *Server) loginHandler(w http.ResponseWriter, r *http.Request) {
	var body credentials
	if !decodeBody(w, r, &body) {
		return
	}

	sess, err := s.auth.Login(r.Context(), body.Username, body.Password)
	switch {
	case err == nil:
		loginsTotal.WithLabelValues("ok").Inc()
		writeJSON(w, http.StatusOK, sess)
	case errors.Is(err, auth.ErrInvalidCredentials):
		loginsTotal.WithLabelValues("invalid").Inc()
		writeError(w, http.StatusUnauthorized, err)
	default:
		loginsTotal.WithLabelValues("error").Inc()
		writeError(w, http.StatusServiceUnavailable, auth.ErrUnavailable)
	}
}

func (s *Server) meHandler(w http.ResponseWriter, r *http.Request) {
	userID, ok := middleware.UserIDFromContext(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, errUnauthorized)
		return
	}

	user, err := s.store.GetUserByID(r.Context(), userID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			// token outlived its account
			writeError(w, http.StatusUnauthorized, errUnauthorized)
			return
		}
		logg.Error("http/me", "Failed to load user_id="+userID, err)
		writeError(w, http.StatusServiceUnavailable, auth.ErrUnavailable)
		return
	}
	user.PasswordHash = nil
	writeJSON(w, http.StatusOK, user)
}

// --- Reads ---

// listPostsHandler returns aggregated post views. Query parameters: ?author=<user id>
func (s *Server) listPostsHandler(w http.ResponseWriter, r *http.Request) {
	viewerID, _ := middleware.UserIDFromContext(r.Context())
	opts := feed.ListOptions{
		AuthorID: strings.TrimSpace(r.URL.Query().Get("author")),
		ViewerID: viewerID,
	}

	views, err := s.feed.List(r.Context(), opts)
	if err != nil {
		logg.Error("http/posts", "Failed to list posts", err)
		writeError(w, http.StatusServiceUnavailable, errFetchFailed)
		return
	}
	writeJSON(w, http.StatusOK, views)
}

func (s *Server) getPostHandler(w http.ResponseWriter, r *http.Request) {
	viewerID, _ := middleware.UserIDFromContext(r.Context())

	view, err := s.feed.Get(r.Context(), r.PathValue("id"), viewerID)
	if err != nil {
		if errors.Is(err, feed.ErrPostNotFound) {
			writeError(w, http.StatusNotFound, err)
			return
		}
		logg.Error("http/posts", "Failed to load post", err)
		writeError(w, http.StatusServiceUnavailable, errFetchFailed)
		return
	}
	writeJSON(w, http.StatusOK, view)
}

func (s *Server) listCommentsHandler(w http.ResponseWriter, r *http.Request) {
	comments, err := s.feed.Comments(r.Context(), r.PathValue("id"))
	if err != nil {
		logg.Error("http/comments", "Failed to list comments", err)
		writeError(w, http.StatusServiceUnavailable, errFetchFailed)
		return
	}
	writeJSON(w, http.StatusOK, comments)
}

// --- Mutations ---

// createPostHandler validates the form, stores the post and publishes post_created.
func (s *Server) createPostHandler(w http.ResponseWriter, r *http.Request) {
	userID, ok := middleware.UserIDFromContext(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, errUnauthorized)
		return
	}

	var form forms.PostForm
	if !decodeBody(w, r, &form) {
		return
	}

	post, err := form.Build(s.rules)
	if err != nil {
		logg.Info("http/posts", "Rejected invalid post from user_id="+userID)
		writeError(w, http.StatusBadRequest, err)
		return
	}
	post.ID = uuid.NewString()
	post.AuthorID = userID
	post.Created = time.Now().UTC()

	if err := s.store.AddPost(r.Context(), post); err != nil {
		mutationsTotal.WithLabelValues(models.TablePosts, "error").Inc()
		logg.Error("http/posts", "Failed to save post", err)
		writeError(w, http.StatusServiceUnavailable, errSaveFailed)
		return
	}
	mutationsTotal.WithLabelValues(models.TablePosts, "ok").Inc()
	logg.Info("http/posts", "Post created successfully by user_id="+userID)

	s.publish(models.EventPostCreated, models.TablePosts, post)
	writeJSON(w, http.StatusCreated, post)
}

func (s *Server) createCommentHandler(w http.ResponseWriter, r *http.Request) {
	userID, ok := middleware.UserIDFromContext(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, errUnauthorized)
		return
	}

	var form forms.CommentForm
	if !decodeBody(w, r, &form) {
		return
	}
	form.PostID = r.PathValue("id")
	if err := form.Validate(); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	if !s.postExists(w, r, form.PostID) {
		return
	}

	comment := models.Comment{
		ID:       uuid.NewString(),
		PostID:   form.PostID,
		AuthorID: userID,
		Content:  strings.TrimSpace(form.Content),
		Created:  time.Now().UTC(),
	}
	if u, err := s.store.GetUserByID(r.Context(), userID); err == nil {
		comment.AuthorNickname = u.Nickname
	}

	if err := s.store.AddComment(r.Context(), comment); err != nil {
		mutationsTotal.WithLabelValues(models.TableComments, "error").Inc()
		logg.Error("http/comments", "Failed to save comment", err)
		writeError(w, http.StatusServiceUnavailable, errSaveFailed)
		return
	}
	mutationsTotal.WithLabelValues(models.TableComments, "ok").Inc()

	s.publish(models.EventCommentCreated, models.TableComments, comment)
	writeJSON(w, http.StatusCreated, comment)
}

func (s *Server) likeHandler(w http.ResponseWriter, r *http.Request) {
	s.toggleLike(w, r, true)
}

func (s *Server) unlikeHandler(w http.ResponseWriter, r *http.Request) {
	s.toggleLike(w, r, false)
}

// toggleLike applies the like or unlike and answers with the authoritative count.
// Repeating the same request is a no-op apart from the returned count.
func (s *Server) toggleLike(w http.ResponseWriter, r *http.Request, like bool) {
	userID, ok := middleware.UserIDFromContext(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, errUnauthorized)
		return
	}
	postID := r.PathValue("id")
	if !s.postExists(w, r, postID) {
		return
	}

	rec := models.Like{PostID: postID, UserID: userID, Created: time.Now().UTC()}
	var (
		applied bool
		err     error
		evType  = models.EventLikeAdded
	)
	if like {
		applied, err = s.store.AddLike(r.Context(), rec)
	} else {
		evType = models.EventLikeRemoved
		applied, err = s.store.RemoveLike(r.Context(), postID, userID)
	}
	if err != nil {
		mutationsTotal.WithLabelValues(models.TableLikes, "error").Inc()
		logg.Error("http/likes", "Failed to update like", err)
		writeError(w, http.StatusServiceUnavailable, errSaveFailed)
		return
	}
	mutationsTotal.WithLabelValues(models.TableLikes, "ok").Inc()

	if applied {
		s.publish(evType, models.TableLikes, rec)
	}

	// idempotent: a client that rolls back here converges on its next toggle
	counts, err := s.store.CountLikes(r.Context(), []string{postID})
	if err != nil {
		logg.Error("http/likes", "Failed to count likes after update", err)
		writeError(w, http.StatusServiceUnavailable, errFetchFailed)
		return
	}
	writeJSON(w, http.StatusOK, models.LikeResult{PostID: postID, Liked: like, LikesCount: counts[postID]})
}

func (s *Server) postExists(w http.ResponseWriter, r *http.Request, postID string) bool {
	_, err := s.store.GetPost(r.Context(), postID)
	switch {
	case err == nil:
		return true
	case errors.Is(err, store.ErrNotFound):
		writeError(w, http.StatusNotFound, feed.ErrPostNotFound)
	default:
		logg.Error("http", "Failed to load post", err)
		writeError(w, http.StatusServiceUnavailable, errSaveFailed)
	}
	return false
}
