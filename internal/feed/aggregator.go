package feed

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"example.com/communityfeed/internal/logger"
	"example.com/communityfeed/internal/models"
	"example.com/communityfeed/internal/store"
	"github.com/samber/lo"
)

var logg = logger.New()

var ErrPostNotFound = errors.New("게시글을 찾을 수 없습니다")

const (
	DefaultChunkSize   = 100
	DefaultParallelism = 4

	viewIncrementTimeout = 5 * time.Second
)

// ListOptions narrows a list. Zero value lists everything for an anonymous viewer.
type ListOptions struct {
	AuthorID string
	ViewerID string
}

// Aggregator builds post view models: posts joined with author nicknames and
// like/comment counts fetched in batches instead of per post.
type Aggregator struct {
	store       store.StoreInterface
	chunkSize   int
	parallelism int

	pending sync.WaitGroup
}

func New(st store.StoreInterface, chunkSize, parallelism int) *Aggregator {
	if chunkSize <= 0 {
		chunkSize = DefaultChunkSize
	}
	if parallelism <= 0 {
		parallelism = DefaultParallelism
	}
	return &Aggregator{store: st, chunkSize: chunkSize, parallelism: parallelism}
}

// List returns posts newest-first. Only the primary fetch can fail the call.
func (a *Aggregator) List(ctx context.Context, opts ListOptions) ([]models.PostView, error) {
	posts, err := a.store.ListPosts(ctx, opts.AuthorID)
	if err != nil {
		return nil, fmt.Errorf("list posts: %w", err)
	}

	views := lo.Map(posts, func(p models.Post, _ int) models.PostView {
		return models.PostView{Post: p}
	})
	a.attachAuthors(ctx, views)
	a.attachCounts(ctx, views, opts.ViewerID)
	return views, nil
}

// Get returns one post and records a view. The view increment runs in the
// background and its failure is only logged.
func (a *Aggregator) Get(ctx context.Context, postID, viewerID string) (*models.PostView, error) {
	post, err := a.store.GetPost(ctx, postID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, ErrPostNotFound
		}
		return nil, fmt.Errorf("get post: %w", err)
	}

	a.pending.Add(1)
	go func() {
		defer a.pending.Done()
		ictx, cancel := context.WithTimeout(context.WithoutCancel(ctx), viewIncrementTimeout)
		defer cancel()
		if err := a.store.IncrementViews(ictx, postID); err != nil {
			logg.Error("feed", "Failed to increment views", err)
		}
	}()
	post.Views++

	views := []models.PostView{{Post: *post}}
	a.attachAuthors(ctx, views)
	a.attachCounts(ctx, views, viewerID)
	return &views[0], nil
}

// Comments returns the comments of a post oldest-first with author nicknames.
func (a *Aggregator) Comments(ctx context.Context, postID string) ([]models.Comment, error) {
	comments, err := a.store.ListComments(ctx, postID)
	if err != nil {
		return nil, fmt.Errorf("list comments: %w", err)
	}
	if len(comments) == 0 {
		return []models.Comment{}, nil
	}

	ids := lo.Uniq(lo.Map(comments, func(c models.Comment, _ int) string { return c.AuthorID }))
	users, err := a.store.GetUsersByIDs(ctx, ids)
	if err != nil {
		logg.Error("feed", "Failed to load comment authors", err)
		return comments, nil
	}
	for i := range comments {
		if u, ok := users[comments[i].AuthorID]; ok {
			comments[i].AuthorNickname = u.Nickname
		}
	}
	return comments, nil
}

// Wait blocks until background view increments have finished.
func (a *Aggregator) Wait() {
	a.pending.Wait()
}

func (a *Aggregator) attachAuthors(ctx context.Context, views []models.PostView) {
	if len(views) == 0 {
		return
	}
	ids := lo.Uniq(lo.Map(views, func(v models.PostView, _ int) string { return v.AuthorID }))
	users, err := a.store.GetUsersByIDs(ctx, ids)
	if err != nil {
		logg.Error("feed", "Failed to load post authors", err)
		return
	}
	for i := range views {
		if u, ok := users[views[i].AuthorID]; ok {
			views[i].AuthorNickname = u.Nickname
		}
	}
}

type chunkCounts struct {
	likes    map[string]int64
	comments map[string]int64
	liked    map[string]bool
}

// attachCounts runs the count queries chunk by chunk with bounded parallelism.
// A failed query leaves its counts at zero for that chunk only.
func (a *Aggregator) attachCounts(ctx context.Context, views []models.PostView, viewerID string) {
	if len(views) == 0 {
		return
	}
	ids := lo.Map(views, func(v models.PostView, _ int) string { return v.ID })
	chunks := lo.Chunk(ids, a.chunkSize)
	results := make([]chunkCounts, len(chunks))

	var wg sync.WaitGroup
	semaphore := make(chan struct{}, a.parallelism)

	for i, chunk := range chunks {
		select {
		case <-ctx.Done():
			wg.Wait()
			logg.Error("feed", "Count aggregation cancelled", ctx.Err())
			return
		case semaphore <- struct{}{}:
		}
		wg.Add(1)
		go func(i int, chunk []string) {
			defer wg.Done()
			defer func() { <-semaphore }()
			results[i] = a.countChunk(ctx, chunk, viewerID)
		}(i, chunk)
	}
	wg.Wait()

	for i := range views {
		r := results[i/a.chunkSize]
		id := views[i].ID
		views[i].LikesCount = r.likes[id]
		views[i].CommentsCount = r.comments[id]
		views[i].LikedByMe = r.liked[id]
	}
}

func (a *Aggregator) countChunk(ctx context.Context, ids []string, viewerID string) chunkCounts {
	var res chunkCounts
	var err error

	if res.likes, err = a.store.CountLikes(ctx, ids); err != nil {
		logg.Error("feed", fmt.Sprintf("Like count failed for %d posts, showing zero", len(ids)), err)
	}
	if res.comments, err = a.store.CountComments(ctx, ids); err != nil {
		logg.Error("feed", fmt.Sprintf("Comment count failed for %d posts, showing zero", len(ids)), err)
	}
	if viewerID != "" {
		if res.liked, err = a.store.LikedBy(ctx, viewerID, ids); err != nil {
			logg.Error("feed", "Liked-by lookup failed", err)
		}
	}
	return res
}
