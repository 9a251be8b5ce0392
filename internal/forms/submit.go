package forms

import (
	"context"
	"errors"
	"sync"

	"example.com/communityfeed/internal/logger"
	"example.com/communityfeed/internal/models"
	"example.com/communityfeed/internal/session"
)

var logg = logger.New()

var (
	ErrSubmitInFlight = errors.New("이미 처리 중입니다")
	ErrSubmitFailed   = errors.New("저장에 실패했습니다. 잠시 후 다시 시도해주세요")
)

// Backend is the remote side of the mutations. The API client implements it.
type Backend interface {
	CreatePost(ctx context.Context, token string, form PostForm) (*models.Post, error)
	AddComment(ctx context.Context, token string, form CommentForm) (*models.Comment, error)
	Like(ctx context.Context, token, postID string) (models.LikeResult, error)
	Unlike(ctx context.Context, token, postID string) (models.LikeResult, error)
}

// LikeState is the like button of one post as the client renders it.
type LikeState struct {
	PostID string
	Liked  bool
	Count  int64
}

// Submitter turns validated forms into exactly one remote call each.
type Submitter struct {
	sess    *session.Store
	backend Backend
	rules   PostRules

	mu       sync.Mutex
	inflight map[string]struct{}
}

func NewSubmitter(sess *session.Store, backend Backend, rules PostRules) *Submitter {
	return &Submitter{
		sess:     sess,
		backend:  backend,
		rules:    rules,
		inflight: make(map[string]struct{}),
	}
}

// claim marks the form key busy. The returned func frees it.
func (s *Submitter) claim(key string) (func(), error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, busy := s.inflight[key]; busy {
		return nil, ErrSubmitInFlight
	}
	s.inflight[key] = struct{}{}
	return func() {
		s.mu.Lock()
		delete(s.inflight, key)
		s.mu.Unlock()
	}, nil
}

// begin runs the local checks shared by every mutation, in order:
// form claim, then session.
func (s *Submitter) begin(key string) (models.Session, func(), error) {
	free, err := s.claim(key)
	if err != nil {
		return models.Session{}, nil, err
	}
	sess, release, err := s.sess.Begin()
	if err != nil {
		free()
		return models.Session{}, nil, err
	}
	return sess, func() {
		release()
		free()
	}, nil
}

func (s *Submitter) SubmitPost(ctx context.Context, form PostForm) (*models.Post, error) {
	if err := form.Validate(s.rules); err != nil {
		return nil, err
	}
	sess, done, err := s.begin("post")
	if err != nil {
		return nil, err
	}
	defer done()

	post, err := s.backend.CreatePost(ctx, sess.Token, form)
	if err != nil {
		return nil, remoteError("create post", err)
	}
	logg.Info("forms", "Post created post_id="+post.ID)
	return post, nil
}

func (s *Submitter) SubmitComment(ctx context.Context, form CommentForm) (*models.Comment, error) {
	if err := form.Validate(); err != nil {
		return nil, err
	}
	sess, done, err := s.begin("comment:" + form.PostID)
	if err != nil {
		return nil, err
	}
	defer done()

	c, err := s.backend.AddComment(ctx, sess.Token, form)
	if err != nil {
		return nil, remoteError("add comment", err)
	}
	return c, nil
}

// ToggleLike flips the button immediately, issues the matching like or unlike
// call and then adopts the server's count. On failure the previous state is restored.
// st must not be shared between goroutines.
func (s *Submitter) ToggleLike(ctx context.Context, st *LikeState) error {
	sess, done, err := s.begin("like:" + st.PostID)
	if err != nil {
		return err
	}
	defer done()

	prev := *st
	st.Liked = !st.Liked
	if st.Liked {
		st.Count++
	} else if st.Count > 0 {
		st.Count--
	}

	var res models.LikeResult
	if st.Liked {
		res, err = s.backend.Like(ctx, sess.Token, st.PostID)
	} else {
		res, err = s.backend.Unlike(ctx, sess.Token, st.PostID)
	}
	if err != nil {
		*st = prev
		return remoteError("toggle like", err)
	}

	st.Liked = res.Liked
	st.Count = res.LikesCount
	return nil
}

// remoteError keeps validation errors mirrored by the server and collapses
// everything else into the generic message.
func remoteError(op string, err error) error {
	var verr *ValidationError
	if errors.As(err, &verr) {
		return verr
	}
	if errors.Is(err, session.ErrNotAuthenticated) {
		return session.ErrNotAuthenticated
	}
	logg.Error("forms", "Remote "+op+" failed", err)
	return ErrSubmitFailed
}
