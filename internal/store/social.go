package store

import (
	"context"

	"example.com/communityfeed/internal/models"
)

// --- Comment operations ---

func (s *Store) AddComment(ctx context.Context, c models.Comment) error {
	if err := s.Session.Query(`
		INSERT INTO comments_by_post (post_id, created_at, comment_id, author_id, content)
		VALUES (?, ?, ?, ?, ?)`,
		c.PostID, c.Created, c.ID, c.AuthorID, c.Content,
	).WithContext(ctx).Exec(); err != nil {
		logg.Error("store", "Failed to add comment", err)
		return err
	}

	logg.Info("store", "Comment added (content anonymized)")
	return nil
}

// ListComments returns a post's comments oldest-first.
func (s *Store) ListComments(ctx context.Context, postID string) ([]models.Comment, error) {
	iter := s.Session.Query(`
		SELECT comment_id, post_id, author_id, content, created_at
		FROM comments_by_post WHERE post_id = ?`,
		postID,
	).WithContext(ctx).Iter()

	var res []models.Comment
	var c models.Comment
	for iter.Scan(&c.ID, &c.PostID, &c.AuthorID, &c.Content, &c.Created) {
		res = append(res, c)
	}
	if err := iter.Close(); err != nil {
		logg.Error("store", "Failed to list comments", err)
		return nil, err
	}
	return res, nil
}

func (s *Store) CountComments(ctx context.Context, postIDs []string) (map[string]int64, error) {
	return s.countByPost(ctx, `SELECT post_id, COUNT(*) FROM comments_by_post WHERE post_id IN ? GROUP BY post_id`, postIDs)
}

// --- Like operations ---

// AddLike reports false when the user had already liked the post.
func (s *Store) AddLike(ctx context.Context, like models.Like) (bool, error) {
	result := make(map[string]interface{})
	applied, err := s.Session.Query(`
		INSERT INTO likes_by_post (post_id, user_id, created_at)
		VALUES (?, ?, ?) IF NOT EXISTS`,
		like.PostID, like.UserID, like.Created,
	).WithContext(ctx).MapScanCAS(result)
	if err != nil {
		logg.Error("store", "Failed to add like", err)
		return false, err
	}
	if !applied {
		return false, nil
	}

	if err := s.Session.Query(`
		INSERT INTO likes_by_user (user_id, post_id, created_at) VALUES (?, ?, ?)`,
		like.UserID, like.PostID, like.Created,
	).WithContext(ctx).Exec(); err != nil {
		logg.Error("store", "Failed to index like by user", err)
		return true, err
	}
	return true, nil
}

// RemoveLike reports false when there was no like to remove.
func (s *Store) RemoveLike(ctx context.Context, postID, userID string) (bool, error) {
	result := make(map[string]interface{})
	applied, err := s.Session.Query(`
		DELETE FROM likes_by_post WHERE post_id = ? AND user_id = ? IF EXISTS`,
		postID, userID,
	).WithContext(ctx).MapScanCAS(result)
	if err != nil {
		logg.Error("store", "Failed to remove like", err)
		return false, err
	}

	if err := s.Session.Query(`
		DELETE FROM likes_by_user WHERE user_id = ? AND post_id = ?`,
		userID, postID,
	).WithContext(ctx).Exec(); err != nil {
		logg.Error("store", "Failed to remove like index", err)
		return applied, err
	}
	return applied, nil
}

func (s *Store) CountLikes(ctx context.Context, postIDs []string) (map[string]int64, error) {
	return s.countByPost(ctx, `SELECT post_id, COUNT(*) FROM likes_by_post WHERE post_id IN ? GROUP BY post_id`, postIDs)
}

func (s *Store) LikedBy(ctx context.Context, userID string, postIDs []string) (map[string]bool, error) {
	res := make(map[string]bool)
	if userID == "" || len(postIDs) == 0 {
		return res, nil
	}
	iter := s.Session.Query(`
		SELECT post_id FROM likes_by_user WHERE user_id = ? AND post_id IN ?`,
		userID, postIDs,
	).WithContext(ctx).Iter()

	var id string
	for iter.Scan(&id) {
		res[id] = true
	}
	if err := iter.Close(); err != nil {
		logg.Error("store", "Failed to read likes by user", err)
		return nil, err
	}
	return res, nil
}

// countByPost runs a grouped count over a partition-keyed table.
func (s *Store) countByPost(ctx context.Context, stmt string, postIDs []string) (map[string]int64, error) {
	res := make(map[string]int64, len(postIDs))
	if len(postIDs) == 0 {
		return res, nil
	}
	iter := s.Session.Query(stmt, postIDs).WithContext(ctx).Iter()

	var id string
	var n int64
	for iter.Scan(&id, &n) {
		res[id] = n
	}
	if err := iter.Close(); err != nil {
		logg.Error("store", "Failed to count rows by post", err)
		return nil, err
	}
	return res, nil
}
