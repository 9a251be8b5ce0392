package store

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	config "example.com/communityfeed/internal/init"
	"example.com/communityfeed/internal/models"
	_ "github.com/golang-migrate/migrate/v4/database/pgx/v5"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PostgresStore implements StoreInterface on a pgx connection pool.
type PostgresStore struct {
	pool *pgxpool.Pool
}

// NewPostgres applies the Postgres migrations and opens the pool.
func NewPostgres(ctx context.Context, cfg *config.Config) (*PostgresStore, error) {
	if err := applyMigrations("file://migrations/postgres", migrateURL(cfg.PostgresDSN)); err != nil {
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}

	pcfg, err := pgxpool.ParseConfig(cfg.PostgresDSN)
	if err != nil {
		return nil, fmt.Errorf("parse postgres dsn: %w", err)
	}
	pcfg.MaxConns = 20
	pcfg.ConnConfig.DefaultQueryExecMode = pgx.QueryExecModeCacheStatement
	pcfg.ConnConfig.StatementCacheCapacity = 256

	pool, err := pgxpool.NewWithConfig(ctx, pcfg)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}

	logg.Info("store", "Connected to Postgres (dsn anonymized)")
	return &PostgresStore{pool: pool}, nil
}

// migrateURL rewrites a postgres DSN to the scheme of migrate's pgx/v5 driver.
func migrateURL(dsn string) string {
	for _, prefix := range []string{"postgresql://", "postgres://"} {
		if strings.HasPrefix(dsn, prefix) {
			return "pgx5://" + strings.TrimPrefix(dsn, prefix)
		}
	}
	return dsn
}

func (s *PostgresStore) Close() {
	if s.pool != nil {
		s.pool.Close()
		logg.Info("store", "Postgres pool closed")
	}
}

// --- User operations ---

func (s *PostgresStore) CreateUser(ctx context.Context, user models.User) (models.User, error) {
	if user.ID == "" {
		user.ID = uuid.NewString()
	}
	if user.Created.IsZero() {
		user.Created = time.Now().UTC()
	}

	tag, err := s.pool.Exec(ctx, `
		INSERT INTO users (id, username, nickname, profile_image, password_hash, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (username) DO NOTHING`,
		user.ID, user.Username, user.Nickname, user.ProfileImage, user.PasswordHash, user.Created,
	)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return models.User{}, ErrUsernameTaken
		}
		logg.Error("store", "Failed to create user", err)
		return models.User{}, err
	}
	if tag.RowsAffected() == 0 {
		return models.User{}, ErrUsernameTaken
	}

	logg.Info("store", "User created successfully (username anonymized)")
	return user, nil
}

func (s *PostgresStore) GetUserByUsername(ctx context.Context, username string) (*models.User, error) {
	return s.getUser(ctx, `WHERE username = $1`, username)
}

func (s *PostgresStore) GetUserByID(ctx context.Context, userID string) (*models.User, error) {
	return s.getUser(ctx, `WHERE id = $1`, userID)
}

func (s *PostgresStore) getUser(ctx context.Context, where string, arg string) (*models.User, error) {
	var u models.User
	err := s.pool.QueryRow(ctx, `
		SELECT id, username, nickname, profile_image, password_hash, created_at
		FROM users `+where, arg,
	).Scan(&u.ID, &u.Username, &u.Nickname, &u.ProfileImage, &u.PasswordHash, &u.Created)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		logg.Error("store", "Failed to query user", err)
		return nil, err
	}
	return &u, nil
}

func (s *PostgresStore) GetUsersByIDs(ctx context.Context, userIDs []string) (map[string]models.User, error) {
	res := make(map[string]models.User, len(userIDs))
	if len(userIDs) == 0 {
		return res, nil
	}
	rows, err := s.pool.Query(ctx, `
		SELECT id, username, nickname, profile_image, created_at
		FROM users WHERE id = ANY($1)`, userIDs)
	if err != nil {
		logg.Error("store", "Failed to load users by ids", err)
		return nil, err
	}
	defer rows.Close()

	for rows.Next() {
		var u models.User
		if err := rows.Scan(&u.ID, &u.Username, &u.Nickname, &u.ProfileImage, &u.Created); err != nil {
			return nil, err
		}
		res[u.ID] = u
	}
	return res, rows.Err()
}

// --- Post operations ---

const pgPostColumns = `id, author_id, title, content, caption, price, image_url, location, hashtags, views, created_at`

func scanPgPost(row pgx.Row) (models.Post, error) {
	var p models.Post
	err := row.Scan(&p.ID, &p.AuthorID, &p.Title, &p.Content, &p.Caption, &p.Price,
		&p.ImageURL, &p.Location, &p.Hashtags, &p.Views, &p.Created)
	return p, err
}

func (s *PostgresStore) AddPost(ctx context.Context, post models.Post) error {
	hashtags := post.Hashtags
	if hashtags == nil {
		hashtags = []string{}
	}
	_, err := s.pool.Exec(ctx, `
		INSERT INTO posts (id, author_id, title, content, caption, price, image_url, location, hashtags, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
		post.ID, post.AuthorID, post.Title, post.Content, post.Caption, post.Price,
		post.ImageURL, post.Location, hashtags, post.Created,
	)
	if err != nil {
		logg.Error("store", "Failed to add post", err)
		return err
	}
	logg.Info("store", "Post added (post content anonymized)")
	return nil
}

func (s *PostgresStore) GetPost(ctx context.Context, postID string) (*models.Post, error) {
	p, err := scanPgPost(s.pool.QueryRow(ctx, `SELECT `+pgPostColumns+` FROM posts WHERE id = $1`, postID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		logg.Error("store", "Failed to get post", err)
		return nil, err
	}
	return &p, nil
}

func (s *PostgresStore) ListPosts(ctx context.Context, authorID string) ([]models.Post, error) {
	var rows pgx.Rows
	var err error
	if authorID == "" {
		rows, err = s.pool.Query(ctx, `SELECT `+pgPostColumns+` FROM posts ORDER BY created_at DESC, id`)
	} else {
		rows, err = s.pool.Query(ctx, `SELECT `+pgPostColumns+` FROM posts WHERE author_id = $1 ORDER BY created_at DESC, id`, authorID)
	}
	if err != nil {
		logg.Error("store", "Failed to list posts", err)
		return nil, err
	}
	defer rows.Close()

	var res []models.Post
	for rows.Next() {
		p, err := scanPgPost(rows)
		if err != nil {
			return nil, err
		}
		res = append(res, p)
	}
	return res, rows.Err()
}

func (s *PostgresStore) IncrementViews(ctx context.Context, postID string) error {
	if _, err := s.pool.Exec(ctx, `UPDATE posts SET views = views + 1 WHERE id = $1`, postID); err != nil {
		logg.Error("store", "Failed to increment views", err)
		return err
	}
	return nil
}

// --- Comment operations ---

func (s *PostgresStore) AddComment(ctx context.Context, c models.Comment) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO comments (id, post_id, author_id, content, created_at)
		VALUES ($1, $2, $3, $4, $5)`,
		c.ID, c.PostID, c.AuthorID, c.Content, c.Created,
	)
	if err != nil {
		logg.Error("store", "Failed to add comment", err)
		return err
	}
	return nil
}

func (s *PostgresStore) ListComments(ctx context.Context, postID string) ([]models.Comment, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, post_id, author_id, content, created_at
		FROM comments WHERE post_id = $1 ORDER BY created_at, id`, postID)
	if err != nil {
		logg.Error("store", "Failed to list comments", err)
		return nil, err
	}
	defer rows.Close()

	var res []models.Comment
	for rows.Next() {
		var c models.Comment
		if err := rows.Scan(&c.ID, &c.PostID, &c.AuthorID, &c.Content, &c.Created); err != nil {
			return nil, err
		}
		res = append(res, c)
	}
	return res, rows.Err()
}

func (s *PostgresStore) CountComments(ctx context.Context, postIDs []string) (map[string]int64, error) {
	return s.countByPost(ctx, `SELECT post_id, COUNT(*) FROM comments WHERE post_id = ANY($1) GROUP BY post_id`, postIDs)
}

// --- Like operations ---

func (s *PostgresStore) AddLike(ctx context.Context, like models.Like) (bool, error) {
	tag, err := s.pool.Exec(ctx, `
		INSERT INTO likes (post_id, user_id, created_at) VALUES ($1, $2, $3)
		ON CONFLICT (post_id, user_id) DO NOTHING`,
		like.PostID, like.UserID, like.Created,
	)
	if err != nil {
		logg.Error("store", "Failed to add like", err)
		return false, err
	}
	return tag.RowsAffected() == 1, nil
}

func (s *PostgresStore) RemoveLike(ctx context.Context, postID, userID string) (bool, error) {
	tag, err := s.pool.Exec(ctx, `DELETE FROM likes WHERE post_id = $1 AND user_id = $2`, postID, userID)
	if err != nil {
		logg.Error("store", "Failed to remove like", err)
		return false, err
	}
	return tag.RowsAffected() == 1, nil
}

func (s *PostgresStore) CountLikes(ctx context.Context, postIDs []string) (map[string]int64, error) {
	return s.countByPost(ctx, `SELECT post_id, COUNT(*) FROM likes WHERE post_id = ANY($1) GROUP BY post_id`, postIDs)
}

func (s *PostgresStore) LikedBy(ctx context.Context, userID string, postIDs []string) (map[string]bool, error) {
	res := make(map[string]bool)
	if userID == "" || len(postIDs) == 0 {
		return res, nil
	}
	rows, err := s.pool.Query(ctx, `SELECT post_id FROM likes WHERE user_id = $1 AND post_id = ANY($2)`, userID, postIDs)
	if err != nil {
		logg.Error("store", "Failed to read likes by user", err)
		return nil, err
	}
	defer rows.Close()

	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		res[id] = true
	}
	return res, rows.Err()
}

func (s *PostgresStore) countByPost(ctx context.Context, stmt string, postIDs []string) (map[string]int64, error) {
	res := make(map[string]int64, len(postIDs))
	if len(postIDs) == 0 {
		return res, nil
	}
	rows, err := s.pool.Query(ctx, stmt, postIDs)
	if err != nil {
		logg.Error("store", "Failed to count rows by post", err)
		return nil, err
	}
	defer rows.Close()

	for rows.Next() {
		var id string
		var n int64
		if err := rows.Scan(&id, &n); err != nil {
			return nil, err
		}
		res[id] = n
	}
	return res, rows.Err()
}
