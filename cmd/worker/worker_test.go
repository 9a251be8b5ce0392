package worker

import (
	"context"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	appkafka "example.com/communityfeed/internal/broker"
	"example.com/communityfeed/internal/models"
	"github.com/gorilla/websocket"
	"github.com/segmentio/kafka-go"
)

func eventMessage(t *testing.T, typ models.EventType, table string, record any) kafka.Message {
	t.Helper()
	ev, err := appkafka.NewEvent(typ, table, record)
	if err != nil {
		t.Fatalf("NewEvent failed: %v", err)
	}
	msg, err := appkafka.EventMessage(ev)
	if err != nil {
		t.Fatalf("EventMessage failed: %v", err)
	}
	return msg
}

func receive(t *testing.T, sub *Subscription) models.Event {
	t.Helper()
	select {
	case ev, ok := <-sub.Events:
		if !ok {
			t.Fatalf("subscription closed unexpectedly")
		}
		return ev
	case <-time.After(time.Second):
		t.Fatalf("no event received")
		return models.Event{}
	}
}

// ---------- Positive tests ----------

func TestHub_DeliversOnlyToMatchingTable(t *testing.T) {
	hub := NewHub()
	posts, unsubPosts := hub.Subscribe(models.TablePosts)
	defer unsubPosts()
	comments, unsubComments := hub.Subscribe(models.TableComments)
	defer unsubComments()

	n := hub.Broadcast(models.Event{Type: models.EventPostCreated, Table: models.TablePosts})
	if n != 1 {
		t.Fatalf("expected 1 receiver, got %d", n)
	}
	if ev := receive(t, posts); ev.Type != models.EventPostCreated {
		t.Fatalf("unexpected event: %+v", ev)
	}
	select {
	case ev := <-comments.Events:
		t.Fatalf("comments subscriber got a posts event: %+v", ev)
	default:
	}
}

func TestHub_DropsSlowSubscriber(t *testing.T) {
	hub := NewHub()
	slow, _ := hub.Subscribe(models.TablePosts)

	for i := 0; i < subscriberBuffer+1; i++ {
		hub.Broadcast(models.Event{Type: models.EventPostCreated, Table: models.TablePosts})
	}
	if hub.Len() != 0 {
		t.Fatalf("expected slow subscriber to be dropped")
	}

	drained := 0
	for range slow.Events {
		drained++
	}
	if drained != subscriberBuffer {
		t.Fatalf("expected %d buffered events, got %d", subscriberBuffer, drained)
	}
}

func TestHub_CloseEndsSubscriptions(t *testing.T) {
	hub := NewHub()
	sub, unsubscribe := hub.Subscribe(models.TablePosts)
	hub.Close()
	unsubscribe() // second removal is a no-op

	if _, ok := <-sub.Events; ok {
		t.Fatalf("expected closed channel")
	}
	late, _ := hub.Subscribe(models.TablePosts)
	if _, ok := <-late.Events; ok {
		t.Fatalf("expected subscriptions after Close to be closed")
	}
}

func TestWorker_BroadcastsKafkaEvents(t *testing.T) {
	post := models.Post{ID: "100", AuthorID: "u1", Title: "Hello subscribers!"}
	mockKafka := &appkafka.MockKafka{}
	mockKafka.Queue(eventMessage(t, models.EventPostCreated, models.TablePosts, post))

	w := New(mockKafka, NewHub(), 2, 4)
	sub, unsubscribe := w.Hub().Subscribe(models.TablePosts)
	defer unsubscribe()

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	go w.Run(ctx)

	ev := receive(t, sub)
	if ev.Type != models.EventPostCreated || !strings.Contains(string(ev.Record), "Hello subscribers!") {
		t.Fatalf("unexpected event: %+v", ev)
	}
}

func TestWorker_RealtimeWebsocket(t *testing.T) {
	w := New(&appkafka.MockKafka{}, NewHub(), 1, 1)
	ts := httptest.NewServer(w.Routes())
	defer ts.Close()

	url := "ws" + strings.TrimPrefix(ts.URL, "http") + "/realtime?table=posts"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial failed: %v", err)
	}
	defer conn.Close()

	deadline := time.Now().Add(time.Second)
	for w.Hub().Len() == 0 {
		if time.Now().After(deadline) {
			t.Fatalf("subscriber never registered")
		}
		time.Sleep(5 * time.Millisecond)
	}

	if err := w.handle(eventMessage(t, models.EventLikeAdded, models.TableLikes, models.Like{PostID: "p"})); err != nil {
		t.Fatalf("handle failed: %v", err)
	}
	if err := w.handle(eventMessage(t, models.EventPostCreated, models.TablePosts, models.Post{ID: "p2"})); err != nil {
		t.Fatalf("handle failed: %v", err)
	}

	_ = conn.SetReadDeadline(time.Now().Add(time.Second))
	var ev models.Event
	if err := conn.ReadJSON(&ev); err != nil {
		t.Fatalf("read failed: %v", err)
	}
	if ev.Table != models.TablePosts || ev.Type != models.EventPostCreated {
		t.Fatalf("expected only the posts event, got %+v", ev)
	}
}

// ---------- Negative tests ----------

func TestWorker_InvalidEventJSON(t *testing.T) {
	w := New(&appkafka.MockKafka{}, NewHub(), 1, 1)
	if err := w.handle(kafka.Message{Value: []byte("{invalid-json}")}); err == nil {
		t.Fatalf("expected error for invalid JSON")
	}
	if err := w.handle(kafka.Message{Value: []byte(`{"type":"post_created"}`)}); err == nil {
		t.Fatalf("expected error for event without table")
	}
}

func TestWorker_RealtimeUnknownTable(t *testing.T) {
	w := New(&appkafka.MockKafka{}, NewHub(), 1, 1)
	ts := httptest.NewServer(w.Routes())
	defer ts.Close()

	url := "ws" + strings.TrimPrefix(ts.URL, "http") + "/realtime?table=users"
	_, resp, err := websocket.DefaultDialer.Dial(url, nil)
	if err == nil {
		t.Fatalf("expected handshake failure")
	}
	if resp == nil || resp.StatusCode != 400 {
		t.Fatalf("expected 400 response, got %+v", resp)
	}
}

// Simulate Kafka read error: Run keeps backing off until the context ends
func TestWorker_KafkaReadError(t *testing.T) {
	w := New(&appkafka.MockKafkaFail{}, NewHub(), 1, 1)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	done := make(chan struct{})
	go func() {
		w.Run(ctx)
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("worker did not stop after read errors")
	}
}
