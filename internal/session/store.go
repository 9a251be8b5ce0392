package session

import (
	"context"
	"encoding/json"
	"errors"
	"path"
	"sync"

	"example.com/communityfeed/internal/auth"
	"example.com/communityfeed/internal/logger"
	"example.com/communityfeed/internal/models"
)

var logg = logger.New()

var ErrNotAuthenticated = errors.New("로그인이 필요합니다")

// DefaultKey is the storage key the signed-in user is persisted under.
const DefaultKey = "user"

// LoginPath is where the guard sends visitors without a session.
const LoginPath = "/login"

type State int

const (
	Unauthenticated State = iota
	Authenticating
	Authenticated
	Submitting
)

func (s State) String() string {
	switch s {
	case Unauthenticated:
		return "unauthenticated"
	case Authenticating:
		return "authenticating"
	case Authenticated:
		return "authenticated"
	case Submitting:
		return "submitting"
	default:
		return "unknown"
	}
}

// Authenticator is the remote side of login and signup: the API client or the auth service itself.
type Authenticator interface {
	Login(ctx context.Context, username, password string) (*models.Session, error)
	Signup(ctx context.Context, username, password, nickname string) (*models.User, error)
}

// Store tracks who is using this client. Consumers read Current and State; nothing is pushed.
type Store struct {
	mu       sync.Mutex
	auth     Authenticator
	persist  Persister
	key      string
	current  *models.Session
	state    State
	inflight int
}

func New(authn Authenticator, persist Persister, key string) *Store {
	if key == "" {
		key = DefaultKey
	}
	return &Store{auth: authn, persist: persist, key: key}
}

// Restore loads the persisted session, if any. A missing or unreadable
// document leaves the store empty; an unreadable one is removed.
func (s *Store) Restore() bool {
	data, err := s.persist.Load(s.key)
	if err != nil {
		if !errors.Is(err, ErrNoValue) {
			logg.Error("session", "Failed to read persisted session", err)
		}
		s.reset()
		return false
	}

	var sess models.Session
	if err := json.Unmarshal(data, &sess); err != nil || sess.User.ID == "" || sess.Token == "" {
		logg.Error("session", "Discarding unreadable persisted session", err)
		if err := s.persist.Delete(s.key); err != nil {
			logg.Error("session", "Failed to remove persisted session", err)
		}
		s.reset()
		return false
	}

	s.mu.Lock()
	s.current = &sess
	s.settle()
	s.mu.Unlock()
	return true
}

func (s *Store) reset() {
	s.mu.Lock()
	s.current = nil
	s.settle()
	s.mu.Unlock()
}

// Login replaces the current session on success. On failure nothing changes
// and the returned error carries a user-facing message.
func (s *Store) Login(ctx context.Context, username, password string) error {
	s.mu.Lock()
	s.state = Authenticating
	s.mu.Unlock()

	sess, err := s.auth.Login(ctx, username, password)
	if err != nil {
		s.mu.Lock()
		s.settle()
		s.mu.Unlock()

		if errors.Is(err, auth.ErrInvalidCredentials) {
			return auth.ErrInvalidCredentials
		}
		logg.Error("session", "Login request failed", err)
		return auth.ErrUnavailable
	}

	data, err := json.Marshal(sess)
	if err == nil {
		err = s.persist.Save(s.key, data)
	}
	if err != nil {
		logg.Error("session", "Failed to persist session, keeping it in memory only", err)
	}

	s.mu.Lock()
	s.current = sess
	s.settle()
	s.mu.Unlock()

	logg.Info("session", "Signed in as user_id="+sess.User.ID)
	return nil
}

// Signup creates the account only; a separate Login establishes the session.
func (s *Store) Signup(ctx context.Context, username, password, nickname string) (*models.User, error) {
	user, err := s.auth.Signup(ctx, username, password, nickname)
	if err != nil {
		for _, expected := range []error{
			auth.ErrUsernameTaken, auth.ErrInvalidUsername, auth.ErrInvalidPassword, auth.ErrInvalidNickname,
		} {
			if errors.Is(err, expected) {
				return nil, expected
			}
		}
		logg.Error("session", "Signup request failed", err)
		return nil, auth.ErrUnavailable
	}
	return user, nil
}

// Logout forgets the session locally. The server is not notified.
func (s *Store) Logout() {
	if err := s.persist.Delete(s.key); err != nil {
		logg.Error("session", "Failed to remove persisted session", err)
	}
	s.reset()
}

// Current returns a copy of the signed-in session.
func (s *Store) Current() (models.Session, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.current == nil {
		return models.Session{}, false
	}
	return *s.current, true
}

// Token returns the bearer token of the current session or "".
func (s *Store) Token() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.current == nil {
		return ""
	}
	return s.current.Token
}

func (s *Store) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Begin marks a submission in flight for the signed-in user. The release
// func must be called exactly once when the submission finishes.
func (s *Store) Begin() (models.Session, func(), error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.current == nil {
		return models.Session{}, nil, ErrNotAuthenticated
	}
	s.inflight++
	s.settle()

	var once sync.Once
	release := func() {
		once.Do(func() {
			s.mu.Lock()
			s.inflight--
			s.settle()
			s.mu.Unlock()
		})
	}
	return *s.current, release, nil
}

// settle derives the resting state. Callers hold mu.
func (s *Store) settle() {
	switch {
	case s.current == nil:
		s.state = Unauthenticated
	case s.inflight > 0:
		s.state = Submitting
	default:
		s.state = Authenticated
	}
}

var protectedRoutes = []string{
	"/posts/new",
	"/posts/*/comments",
	"/posts/*/like",
	"/me",
	"/mypage",
}

// Guard returns the path to render: the requested one, or LoginPath when it
// is protected and nobody is signed in.
func (s *Store) Guard(route string) string {
	if _, ok := s.Current(); ok {
		return route
	}
	clean := path.Clean("/" + route)
	for _, pattern := range protectedRoutes {
		if ok, _ := path.Match(pattern, clean); ok {
			return LoginPath
		}
	}
	return route
}
