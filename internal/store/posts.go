package store

import (
	"context"

	"example.com/communityfeed/internal/models"
	"github.com/gocql/gocql"
)

// allBucket is the single partition of posts_by_bucket holding every post newest-first.
const allBucket = "all"

const postColumns = `post_id, author_id, title, content, caption, price, image_url, location, hashtags, created_at`

// postDest lists scan targets matching postColumns. Price is nullable, so it is
// scanned through a pointer the caller copies into the post afterwards.
func postDest(p *models.Post, price **float64) []interface{} {
	return []interface{}{&p.ID, &p.AuthorID, &p.Title, &p.Content, &p.Caption, price,
		&p.ImageURL, &p.Location, &p.Hashtags, &p.Created}
}

// --- Post operations ---

// AddPost writes the post to its lookup table and both listing tables in one logged batch.
func (s *Store) AddPost(ctx context.Context, post models.Post) error {
	args := []interface{}{
		post.ID, post.AuthorID, post.Title, post.Content, post.Caption, post.Price,
		post.ImageURL, post.Location, post.Hashtags, post.Created,
	}

	batch := s.Session.NewBatch(gocql.LoggedBatch).WithContext(ctx)
	batch.Query(`INSERT INTO posts (`+postColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`, args...)
	batch.Query(`INSERT INTO posts_by_author (`+postColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`, args...)
	batch.Query(`INSERT INTO posts_by_bucket (bucket, `+postColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		append([]interface{}{allBucket}, args...)...)

	if err := s.Session.ExecuteBatch(batch); err != nil {
		logg.Error("store", "Failed to add post", err)
		return err
	}

	logg.Info("store", "Post added (post content anonymized)")
	return nil
}

func (s *Store) GetPost(ctx context.Context, postID string) (*models.Post, error) {
	var p models.Post
	var price *float64
	err := s.Session.Query(`SELECT `+postColumns+` FROM posts WHERE post_id = ?`, postID).
		WithContext(ctx).Scan(postDest(&p, &price)...)
	if err != nil {
		if err == gocql.ErrNotFound {
			return nil, ErrNotFound
		}
		logg.Error("store", "Failed to get post", err)
		return nil, err
	}
	p.Price = price

	views, err := s.views(ctx, []string{postID})
	if err != nil {
		return nil, err
	}
	p.Views = views[postID]
	return &p, nil
}

// ListPosts returns posts newest-first, all of them or only those of authorID.
func (s *Store) ListPosts(ctx context.Context, authorID string) ([]models.Post, error) {
	var q *gocql.Query
	if authorID == "" {
		q = s.Session.Query(`SELECT `+postColumns+` FROM posts_by_bucket WHERE bucket = ?`, allBucket)
	} else {
		q = s.Session.Query(`SELECT `+postColumns+` FROM posts_by_author WHERE author_id = ?`, authorID)
	}
	iter := q.WithContext(ctx).Iter()

	var res []models.Post
	for {
		var p models.Post
		var price *float64
		if !iter.Scan(postDest(&p, &price)...) {
			break
		}
		p.Price = price
		res = append(res, p)
	}
	if err := iter.Close(); err != nil {
		logg.Error("store", "Failed to list posts", err)
		return nil, err
	}

	ids := make([]string, len(res))
	for i, p := range res {
		ids[i] = p.ID
	}
	views, err := s.views(ctx, ids)
	if err != nil {
		return nil, err
	}
	for i := range res {
		res[i].Views = views[res[i].ID]
	}
	return res, nil
}

func (s *Store) IncrementViews(ctx context.Context, postID string) error {
	if err := s.Session.Query(
		`UPDATE post_views SET views = views + 1 WHERE post_id = ?`, postID,
	).WithContext(ctx).Exec(); err != nil {
		logg.Error("store", "Failed to increment views", err)
		return err
	}
	return nil
}

func (s *Store) views(ctx context.Context, postIDs []string) (map[string]int64, error) {
	res := make(map[string]int64, len(postIDs))
	if len(postIDs) == 0 {
		return res, nil
	}
	iter := s.Session.Query(
		`SELECT post_id, views FROM post_views WHERE post_id IN ?`, postIDs,
	).WithContext(ctx).Iter()

	var id string
	var n int64
	for iter.Scan(&id, &n) {
		res[id] = n
	}
	if err := iter.Close(); err != nil {
		logg.Error("store", "Failed to read view counters", err)
		return nil, err
	}
	return res, nil
}
