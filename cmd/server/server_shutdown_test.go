package server

import (
	"context"
	"testing"
	"time"

	"example.com/communityfeed/internal/auth"
	appkafka "example.com/communityfeed/internal/broker"
	"example.com/communityfeed/internal/feed"
	"example.com/communityfeed/internal/forms"
	"example.com/communityfeed/internal/store"
)

// TestServer_GracefulShutdown verifies that Run returns once the context is
// cancelled and that the mock store and Kafka can be closed afterwards.
func TestServer_GracefulShutdown(t *testing.T) {
	mockStore := store.NewMock()
	mockKafka := &appkafka.MockKafka{}
	svc := auth.NewService(mockStore, auth.NewTokens("test-secret", time.Hour), 4)
	s := New(mockStore, mockKafka, svc, feed.New(mockStore, 0, 0), forms.PostRules{})

	// Create a context with a short timeout to simulate a shutdown signal
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	done := make(chan error, 1)
	go func() {
		done <- Run(ctx, s, "127.0.0.1:0", "", "")
	}()

	// Wait for shutdown to complete or timeout
	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("Run returned error: %v", err)
		}
		mockStore.Close()
		if err := mockKafka.Close(); err != nil {
			t.Fatalf("Kafka close error: %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("server did not shutdown gracefully within the expected time")
	}
}

// TestServer_ListenError verifies that a bad address is reported instead of hanging.
func TestServer_ListenError(t *testing.T) {
	mockStore := store.NewMock()
	svc := auth.NewService(mockStore, auth.NewTokens("test-secret", time.Hour), 4)
	s := New(mockStore, &appkafka.MockKafka{}, svc, feed.New(mockStore, 0, 0), forms.PostRules{})

	done := make(chan error, 1)
	go func() {
		done <- Run(context.Background(), s, "256.0.0.1:-1", "", "")
	}()

	select {
	case err := <-done:
		if err == nil {
			t.Fatal("expected listen error")
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not report the listen error")
	}
}
