// Package web serves the run history API, the live event stream and a small
// dashboard.
package web

import (
	"context"
	"crypto/subtle"
	"embed"
	"encoding/json"
	"fmt"
	"io/fs"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/mtzanidakis/juror/internal/config"
	"github.com/mtzanidakis/juror/internal/natsbus"
	"github.com/mtzanidakis/juror/internal/runner"
	"github.com/mtzanidakis/juror/internal/store"
	"github.com/mtzanidakis/juror/internal/vault"
	"github.com/nats-io/nats.go"
)

//go:embed static
var staticFiles embed.FS

type Server struct {
	store     *store.Store
	nats      *natsbus.Client
	runner    *runner.Runner
	keyring   *vault.Keyring
	hub       *Hub
	cfg       config.WebConfig
	version   string
	startedAt time.Time
}

// NewServer returns a Server. client and keyring may be nil: without a bus
// the event stream stays silent, without a keyring the secrets API answers
// 503.
func NewServer(s *store.Store, client *natsbus.Client, r *runner.Runner, keyring *vault.Keyring, cfg config.WebConfig, version string) *Server {
	return &Server{
		store:     s,
		nats:      client,
		runner:    r,
		keyring:   keyring,
		hub:       NewHub(),
		cfg:       cfg,
		version:   version,
		startedAt: time.Now(),
	}
}

// Handler returns the full HTTP handler, middleware included.
func (s *Server) Handler() (http.Handler, error) {
	mux := http.NewServeMux()
	s.registerAPI(mux)

	mux.HandleFunc("GET /api/ws", s.handleWebSocket)

	staticFS, err := fs.Sub(staticFiles, "static")
	if err != nil {
		return nil, fmt.Errorf("static fs: %w", err)
	}
	mux.Handle("GET /", http.FileServerFS(staticFS))

	return s.requireAuth(mux), nil
}

func (s *Server) Start(ctx context.Context) error {
	go s.hub.Run(ctx)

	// Subscribe to NATS events and broadcast to WebSocket
	if err := s.subscribeEvents(); err != nil {
		slog.Error("web server event subscription failed", "error", err)
	}

	handler, err := s.Handler()
	if err != nil {
		return err
	}
	addr := listenAddr(s.cfg)
	if s.cfg.Auth == "" {
		slog.Warn("web auth is not set, listening on loopback only", "addr", addr)
	}
	server := &http.Server{Addr: addr, Handler: handler, ReadHeaderTimeout: 10 * time.Second}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = server.Shutdown(shutdownCtx)
	}()

	slog.Info("web server listening", "addr", addr)
	if err := server.ListenAndServe(); err != http.ErrServerClosed {
		return err
	}
	return nil
}

// listenAddr binds every interface only when a password protects the API.
func listenAddr(cfg config.WebConfig) string {
	if cfg.Auth == "" {
		return fmt.Sprintf("127.0.0.1:%d", cfg.Port)
	}
	return fmt.Sprintf(":%d", cfg.Port)
}

// requireAuth guards the API when a password is set. The dashboard is
// same-origin, so no CORS headers are sent.
func (s *Server) requireAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if strings.HasPrefix(r.URL.Path, "/api/") && s.cfg.Auth != "" && !s.checkAuth(w, r) {
			return
		}
		next.ServeHTTP(w, r)
	})
}

// checkAuth validates Basic Auth. The user name is ignored.
func (s *Server) checkAuth(w http.ResponseWriter, r *http.Request) bool {
	if _, pass, ok := r.BasicAuth(); ok && subtle.ConstantTimeCompare([]byte(pass), []byte(s.cfg.Auth)) == 1 {
		return true
	}
	w.Header().Set("WWW-Authenticate", `Basic realm="juror"`)
	http.Error(w, "Unauthorized", http.StatusUnauthorized)
	return false
}

func (s *Server) subscribeEvents() error {
	if s.nats == nil {
		return nil
	}

	// Forward all event topics to WebSocket as raw JSON
	_, err := s.nats.Subscribe(natsbus.TopicEventsAll, func(msg *nats.Msg) {
		var event Event
		if err := json.Unmarshal(msg.Data, &event); err != nil {
			slog.Warn("invalid NATS event payload", "error", err)
			return
		}
		s.hub.Broadcast(event)
	})
	return err
}
