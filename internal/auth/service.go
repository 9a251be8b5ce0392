package auth

import (
	"context"
	"errors"
	"regexp"
	"strings"
	"time"
	"unicode/utf8"

	"example.com/communityfeed/internal/models"
	"example.com/communityfeed/internal/store"
	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"
)

var (
	ErrUsernameTaken   = errors.New("이미 사용 중인 아이디입니다")
	ErrInvalidUsername = errors.New("아이디는 3~50자의 영문, 숫자, _, - 만 사용할 수 있습니다")
	ErrInvalidPassword = errors.New("비밀번호는 4~72자여야 합니다")
	ErrInvalidNickname = errors.New("닉네임은 30자 이하여야 합니다")
	ErrUnavailable     = errors.New("요청을 처리하지 못했습니다. 잠시 후 다시 시도해주세요")
)

var usernamePattern = regexp.MustCompile(`^[a-zA-Z0-9_-]{3,50}$`)

// Service implements signup and login on top of the store.
type Service struct {
	store    store.StoreInterface
	verifier *Verifier
	tokens   *Tokens
	cost     int
	now      func() time.Time
}

func NewService(st store.StoreInterface, tokens *Tokens, bcryptCost int) *Service {
	return &Service{
		store:    st,
		verifier: NewVerifier(st, bcryptCost),
		tokens:   tokens,
		cost:     normalizeCost(bcryptCost),
		now:      time.Now,
	}
}

// Tokens exposes the token issuer for the HTTP middleware.
func (s *Service) Tokens() *Tokens {
	return s.tokens
}

// Verify is the credential check without issuing a token.
func (s *Service) Verify(ctx context.Context, username, password string) (*models.User, error) {
	return s.verifier.Verify(ctx, username, password)
}

// Signup creates exactly one user. It does not sign the user in.
func (s *Service) Signup(ctx context.Context, username, password, nickname string) (*models.User, error) {
	username = strings.TrimSpace(username)
	nickname = strings.TrimSpace(nickname)

	if !usernamePattern.MatchString(username) {
		return nil, ErrInvalidUsername
	}
	if len(password) < 4 || len(password) > 72 {
		return nil, ErrInvalidPassword
	}
	if nickname == "" {
		nickname = username
	}
	if utf8.RuneCountInString(nickname) > 30 {
		return nil, ErrInvalidNickname
	}

	_, err := s.store.GetUserByUsername(ctx, username)
	switch {
	case err == nil:
		return nil, ErrUsernameTaken
	case !errors.Is(err, store.ErrNotFound):
		logg.Error("auth", "Username lookup failed during signup", err)
		return nil, ErrUnavailable
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(password), s.cost)
	if err != nil {
		logg.Error("auth", "Password hashing failed", err)
		return nil, ErrUnavailable
	}

	user, err := s.store.CreateUser(ctx, models.User{
		ID:           uuid.NewString(),
		Username:     username,
		Nickname:     nickname,
		PasswordHash: hash,
		Created:      s.now().UTC(),
	})
	if err != nil {
		if errors.Is(err, store.ErrUsernameTaken) {
			return nil, ErrUsernameTaken
		}
		logg.Error("auth", "User creation failed", err)
		return nil, ErrUnavailable
	}

	logg.Info("auth", "User signed up with user_id="+user.ID)
	user.PasswordHash = nil
	return &user, nil
}

// Login verifies the credentials and issues a session token.
func (s *Service) Login(ctx context.Context, username, password string) (*models.Session, error) {
	user, err := s.verifier.Verify(ctx, strings.TrimSpace(username), password)
	if err != nil {
		return nil, err
	}

	token, err := s.tokens.Issue(user.ID, user.Username)
	if err != nil {
		logg.Error("auth", "Failed to sign token", err)
		return nil, ErrUnavailable
	}

	user.PasswordHash = nil
	logg.Info("auth", "Login succeeded for user_id="+user.ID)
	return &models.Session{User: *user, Token: token, Created: s.now().UTC()}, nil
}
