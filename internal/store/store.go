package store

import (
	"context"
	"errors"
	"fmt"

	config "example.com/communityfeed/internal/init"
	"example.com/communityfeed/internal/logger"
	"example.com/communityfeed/internal/models"
)

var logg = logger.New()

var (
	ErrNotFound      = errors.New("record not found")
	ErrUsernameTaken = errors.New("username already in use")
)

// StoreInterface is the table store every component talks to.
// Counts are returned as maps keyed by post ID; posts with no rows are absent.
type StoreInterface interface {
	CreateUser(ctx context.Context, user models.User) (models.User, error)
	GetUserByUsername(ctx context.Context, username string) (*models.User, error)
	GetUserByID(ctx context.Context, userID string) (*models.User, error)
	GetUsersByIDs(ctx context.Context, userIDs []string) (map[string]models.User, error)

	AddPost(ctx context.Context, post models.Post) error
	GetPost(ctx context.Context, postID string) (*models.Post, error)
	ListPosts(ctx context.Context, authorID string) ([]models.Post, error)
	IncrementViews(ctx context.Context, postID string) error

	AddComment(ctx context.Context, comment models.Comment) error
	ListComments(ctx context.Context, postID string) ([]models.Comment, error)
	CountComments(ctx context.Context, postIDs []string) (map[string]int64, error)

	AddLike(ctx context.Context, like models.Like) (bool, error)
	RemoveLike(ctx context.Context, postID, userID string) (bool, error)
	CountLikes(ctx context.Context, postIDs []string) (map[string]int64, error)
	LikedBy(ctx context.Context, userID string, postIDs []string) (map[string]bool, error)

	Close()
}

// New opens the store selected by STORE_DRIVER.
func New(ctx context.Context) (StoreInterface, error) {
	cfg := config.Get()

	switch cfg.StoreDriver {
	case "", "cassandra":
		st, err := NewCassandra(cfg)
		if err != nil {
			return nil, err
		}
		return st, nil
	case "postgres":
		st, err := NewPostgres(ctx, cfg)
		if err != nil {
			return nil, err
		}
		return st, nil
	default:
		return nil, fmt.Errorf("unknown store driver %q", cfg.StoreDriver)
	}
}

var (
	_ StoreInterface = (*Store)(nil)
	_ StoreInterface = (*PostgresStore)(nil)
	_ StoreInterface = (*MockStore)(nil)
	_ StoreInterface = (*MockStoreFail)(nil)
)
