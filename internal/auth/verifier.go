package auth

import (
	"context"
	"errors"

	"example.com/communityfeed/internal/logger"
	"example.com/communityfeed/internal/models"
	"example.com/communityfeed/internal/store"
	"golang.org/x/crypto/bcrypt"
)

var logg = logger.New()

// ErrInvalidCredentials covers unknown usernames, wrong passwords and lookup failures alike.
var ErrInvalidCredentials = errors.New("아이디 또는 비밀번호가 올바르지 않습니다")

// UserLookup is the part of the store the verifier needs.
type UserLookup interface {
	GetUserByUsername(ctx context.Context, username string) (*models.User, error)
}

// Verifier checks a username/password pair against the stored bcrypt hash.
type Verifier struct {
	users UserLookup
	// dummyHash is compared when the username is unknown so both paths pay for one bcrypt run.
	dummyHash []byte
}

func NewVerifier(users UserLookup, cost int) *Verifier {
	dummy, err := bcrypt.GenerateFromPassword([]byte("not-a-real-password"), normalizeCost(cost))
	if err != nil {
		logg.Error("auth", "Failed to prepare dummy hash", err)
	}
	return &Verifier{users: users, dummyHash: dummy}
}

// Verify returns the matching user or ErrInvalidCredentials.
func (v *Verifier) Verify(ctx context.Context, username, password string) (*models.User, error) {
	if username == "" || password == "" {
		return nil, ErrInvalidCredentials
	}

	user, err := v.users.GetUserByUsername(ctx, username)
	if err != nil {
		if !errors.Is(err, store.ErrNotFound) {
			logg.Error("auth", "Credential lookup failed", err)
		}
		_ = bcrypt.CompareHashAndPassword(v.dummyHash, []byte(password))
		return nil, ErrInvalidCredentials
	}

	if err := bcrypt.CompareHashAndPassword(user.PasswordHash, []byte(password)); err != nil {
		logg.Debug("auth", "Password mismatch for user_id="+user.ID)
		return nil, ErrInvalidCredentials
	}
	return user, nil
}

func normalizeCost(cost int) int {
	if cost < bcrypt.MinCost || cost > bcrypt.MaxCost {
		return bcrypt.DefaultCost
	}
	return cost
}
