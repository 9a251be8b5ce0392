package worker

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"example.com/communityfeed/internal/models"
	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = pongWait * 9 / 10
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(*http.Request) bool { return true },
}

var subscribableTables = map[string]bool{
	models.TablePosts:    true,
	models.TableComments: true,
	models.TableLikes:    true,
}

// Routes exposes the realtime channel, metrics and health.
func (w *Worker) Routes() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /realtime", w.realtimeHandler)
	mux.Handle("GET /metrics", promhttp.Handler())
	mux.HandleFunc("GET /health", func(rw http.ResponseWriter, r *http.Request) {
		rw.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(rw).Encode(map[string]any{"status": "ok", "subscribers": w.hub.Len()})
	})
	return mux
}

// realtimeHandler upgrades to a websocket and streams events of one table.
// Query parameters: ?table=posts
func (w *Worker) realtimeHandler(rw http.ResponseWriter, r *http.Request) {
	table := r.URL.Query().Get("table")
	if table == "" {
		table = models.TablePosts
	}
	if !subscribableTables[table] {
		http.Error(rw, `{"error":"unknown table"}`, http.StatusBadRequest)
		return
	}

	conn, err := upgrader.Upgrade(rw, r, nil)
	if err != nil {
		logg.Error("realtime", "Websocket upgrade failed", err)
		return
	}

	sub, unsubscribe := w.hub.Subscribe(table)
	logg.Info("realtime", "Subscriber connected to table "+table)

	// read side: only control frames are expected; an error means the peer left
	go func() {
		defer unsubscribe()
		conn.SetReadLimit(512)
		_ = conn.SetReadDeadline(time.Now().Add(pongWait))
		conn.SetPongHandler(func(string) error {
			return conn.SetReadDeadline(time.Now().Add(pongWait))
		})
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	writeLoop(conn, sub)
	unsubscribe()
	logg.Info("realtime", "Subscriber disconnected from table "+table)
}

func writeLoop(conn *websocket.Conn, sub *Subscription) {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		conn.Close()
	}()

	for {
		select {
		case ev, ok := <-sub.Events:
			_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				_ = conn.WriteMessage(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseGoingAway, "subscription closed"))
				return
			}
			if err := conn.WriteJSON(ev); err != nil {
				return
			}
		case <-ticker.C:
			_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// Serve runs the realtime HTTP server until ctx is cancelled.
func (w *Worker) Serve(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           w.Routes(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logg.Info("realtime", "Starting realtime server on "+addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logg.Error("realtime", "Realtime server stopped unexpectedly", err)
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case <-ctx.Done():
	case err, ok := <-errCh:
		if ok {
			return err
		}
		return nil
	}

	// hijacked websocket connections are not tracked by Shutdown
	w.hub.Close()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logg.Error("realtime", "Error during realtime server shutdown", err)
		return err
	}
	logg.Info("realtime", "Realtime server stopped gracefully")
	return nil
}
