package store

import (
	"context"
	"time"

	"example.com/communityfeed/internal/models"
	"github.com/gocql/gocql"
)

// --- User operations ---

// GetUserByUsername returns ErrNotFound when no user has this username.
func (s *Store) GetUserByUsername(ctx context.Context, username string) (*models.User, error) {
	var id string
	err := s.Session.Query(
		`SELECT user_id FROM users_by_username WHERE username = ?`,
		username,
	).WithContext(ctx).Scan(&id)
	if err != nil {
		if err == gocql.ErrNotFound {
			return nil, ErrNotFound
		}
		logg.Error("store", "Failed to query user by username", err)
		return nil, err
	}
	return s.GetUserByID(ctx, id)
}

func (s *Store) GetUserByID(ctx context.Context, userID string) (*models.User, error) {
	var u models.User
	err := s.Session.Query(`
		SELECT user_id, username, nickname, profile_image, password_hash, created_at
		FROM users WHERE user_id = ?`,
		userID,
	).WithContext(ctx).Scan(&u.ID, &u.Username, &u.Nickname, &u.ProfileImage, &u.PasswordHash, &u.Created)
	if err != nil {
		if err == gocql.ErrNotFound {
			return nil, ErrNotFound
		}
		logg.Error("store", "Failed to query user by id", err)
		return nil, err
	}
	return &u, nil
}

// GetUsersByIDs loads several users in one query. Password hashes are not read.
func (s *Store) GetUsersByIDs(ctx context.Context, userIDs []string) (map[string]models.User, error) {
	res := make(map[string]models.User, len(userIDs))
	if len(userIDs) == 0 {
		return res, nil
	}

	iter := s.Session.Query(`
		SELECT user_id, username, nickname, profile_image, created_at
		FROM users WHERE user_id IN ?`,
		userIDs,
	).WithContext(ctx).Iter()

	var u models.User
	for iter.Scan(&u.ID, &u.Username, &u.Nickname, &u.ProfileImage, &u.Created) {
		res[u.ID] = u
	}
	if err := iter.Close(); err != nil {
		logg.Error("store", "Failed to load users by ids", err)
		return nil, err
	}
	return res, nil
}

// CreateUser inserts a new user. The username is claimed with a lightweight
// transaction so two concurrent signups cannot both succeed.
func (s *Store) CreateUser(ctx context.Context, user models.User) (models.User, error) {
	if user.ID == "" {
		user.ID = gocql.TimeUUID().String()
	}
	if user.Created.IsZero() {
		user.Created = time.Now().UTC()
	}

	result := make(map[string]interface{})
	applied, err := s.Session.Query(`
		INSERT INTO users_by_username (username, user_id)
		VALUES (?, ?) IF NOT EXISTS`,
		user.Username, user.ID,
	).WithContext(ctx).MapScanCAS(result)
	if err != nil {
		logg.Error("store", "Failed to claim username", err)
		return models.User{}, err
	}
	if !applied {
		return models.User{}, ErrUsernameTaken
	}

	err = s.Session.Query(`
		INSERT INTO users (user_id, username, nickname, profile_image, password_hash, created_at)
		VALUES (?, ?, ?, ?, ?, ?)`,
		user.ID, user.Username, user.Nickname, user.ProfileImage, user.PasswordHash, user.Created,
	).WithContext(ctx).Exec()
	if err != nil {
		logg.Error("store", "Failed to create user in main table", err)
		// release the username so the signup can be retried
		_ = s.Session.Query(`DELETE FROM users_by_username WHERE username = ?`, user.Username).
			WithContext(ctx).Exec()
		return models.User{}, err
	}

	logg.Info("store", "User created successfully (username anonymized)")
	return user, nil
}
