package server

import (
	"context"
	"errors"
	"net/http"
	"time"

	"example.com/communityfeed/internal/auth"
	appkafka "example.com/communityfeed/internal/broker"
	"example.com/communityfeed/internal/feed"
	"example.com/communityfeed/internal/forms"
	"example.com/communityfeed/internal/logger"
	"example.com/communityfeed/internal/middleware"
	"example.com/communityfeed/internal/store"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

type Server struct {
	store       store.StoreInterface
	kafkaWriter appkafka.KafkaWriter
	auth        *auth.Service
	feed        *feed.Aggregator
	rules       forms.PostRules
}

var logg = logger.New()

func New(st store.StoreInterface, writer appkafka.KafkaWriter, svc *auth.Service, agg *feed.Aggregator, rules forms.PostRules) *Server {
	return &Server{
		store:       st,
		kafkaWriter: writer,
		auth:        svc,
		feed:        agg,
		rules:       rules,
	}
}

// Routes builds the API mux. Mutations and /me require a bearer token.
func (s *Server) Routes() http.Handler {
	protected := middleware.JWTAuth(s.auth.Tokens())
	optional := middleware.OptionalAuth(s.auth.Tokens())

	mux := http.NewServeMux()

	// Public endpoints
	mux.HandleFunc("POST /signup", s.signupHandler)
	mux.HandleFunc("POST /login", s.loginHandler)
	mux.Handle("GET /posts", optional(http.HandlerFunc(s.listPostsHandler)))
	mux.Handle("GET /posts/{id}", optional(http.HandlerFunc(s.getPostHandler)))
	mux.HandleFunc("GET /posts/{id}/comments", s.listCommentsHandler)

	// Protected endpoints with JWT authentication middleware
	mux.Handle("GET /me", protected(http.HandlerFunc(s.meHandler)))
	mux.Handle("POST /posts", protected(http.HandlerFunc(s.createPostHandler)))
	mux.Handle("POST /posts/{id}/comments", protected(http.HandlerFunc(s.createCommentHandler)))
	mux.Handle("POST /posts/{id}/like", protected(http.HandlerFunc(s.likeHandler)))
	mux.Handle("DELETE /posts/{id}/like", protected(http.HandlerFunc(s.unlikeHandler)))

	mux.Handle("GET /metrics", promhttp.Handler())
	mux.HandleFunc("GET /health", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})

	return instrument(mux)
}

// Run serves the API until ctx is cancelled, then shuts down gracefully.
// TLS is used when both certFile and keyFile are set.
func Run(ctx context.Context, s *Server, addr, certFile, keyFile string) error {
	srv := &http.Server{
		Addr:         addr,
		Handler:      s.Routes(),
		ReadTimeout:  10 * time.Second, // prevent slowloris attacks
		WriteTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)

	// --- Start server in a goroutine ---
	go func() {
		var err error
		if certFile != "" && keyFile != "" {
			logg.Info("server", "Starting HTTPS server on "+addr)
			err = srv.ListenAndServeTLS(certFile, keyFile)
		} else {
			logg.Info("server", "Starting HTTP server on "+addr)
			err = srv.ListenAndServe()
		}
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			logg.Error("server", "Server stopped unexpectedly", err)
			errCh <- err
		}
		close(errCh)
	}()

	// --- Graceful shutdown ---
	select {
	case <-ctx.Done():
		logg.Info("server", "Shutdown signal received")
	case err, ok := <-errCh:
		if ok {
			return err
		}
		return nil
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logg.Error("server", "Error during server shutdown", err)
		return err
	}

	s.feed.Wait()
	logg.Info("server", "Server stopped gracefully")
	return nil
}
