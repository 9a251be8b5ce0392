package client

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"example.com/communityfeed/internal/models"
	"github.com/gorilla/websocket"
)

// Subscribe opens the realtime channel for table. The returned channel is
// closed when ctx ends or the connection drops.
func (c *Client) Subscribe(ctx context.Context, table string) (<-chan models.Event, error) {
	endpoint, err := c.realtimeEndpoint(table)
	if err != nil {
		return nil, err
	}

	conn, _, err := websocket.DefaultDialer.DialContext(ctx, endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("dial realtime: %w", err)
	}

	events := make(chan models.Event, 16)
	go func() {
		<-ctx.Done()
		conn.Close()
	}()

	go func() {
		defer close(events)
		defer conn.Close()
		for {
			var ev models.Event
			if err := conn.ReadJSON(&ev); err != nil {
				if ctx.Err() == nil {
					logg.Error("client", "Realtime connection closed", err)
				}
				return
			}
			select {
			case events <- ev:
			case <-ctx.Done():
				return
			}
		}
	}()

	return events, nil
}

// Timeline is a newest-first list kept current by realtime post inserts.
type Timeline struct {
	mu    sync.Mutex
	posts []models.PostView
	seen  map[string]bool
}

func NewTimeline(initial []models.PostView) *Timeline {
	t := &Timeline{seen: make(map[string]bool, len(initial))}
	for _, p := range initial {
		if !t.seen[p.ID] {
			t.seen[p.ID] = true
			t.posts = append(t.posts, p)
		}
	}
	return t
}

// Apply prepends the post of a post_created event. It reports whether the
// list changed; duplicates and other events are ignored.
func (t *Timeline) Apply(ev models.Event) bool {
	if ev.Type != models.EventPostCreated || ev.Table != models.TablePosts {
		return false
	}
	var post models.Post
	if err := json.Unmarshal(ev.Record, &post); err != nil || post.ID == "" {
		logg.Error("client", "Ignoring malformed post event", err)
		return false
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	if t.seen[post.ID] {
		return false
	}
	t.seen[post.ID] = true
	t.posts = append([]models.PostView{{Post: post}}, t.posts...)
	return true
}

func (t *Timeline) Posts() []models.PostView {
	t.mu.Lock()
	defer t.mu.Unlock()
	return append([]models.PostView(nil), t.posts...)
}
