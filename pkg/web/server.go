package web

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"fmt"
	"net"
	"net/http"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/dbehnke/dmr-gateway/pkg/config"
	"github.com/dbehnke/dmr-gateway/pkg/logger"
)

// DefaultStatusInterval is how often the snapshot is pushed to websocket clients
const DefaultStatusInterval = 5 * time.Second

const staticDir = "frontend/dist"

// Server represents the web dashboard HTTP server
type Server struct {
	config         config.WebConfig
	logger         *logger.Logger
	server         *http.Server
	hub            *WebSocketHub
	api            *API
	status         StatusSource
	statusInterval time.Duration
	addr           string
	mu             sync.RWMutex
}

// NewServer creates a new web server instance. calls may be nil.
func NewServer(cfg config.WebConfig, status StatusSource, calls CallStore, log *logger.Logger) *Server {
	log = log.WithComponent("web")
	return &Server{
		config:         cfg,
		logger:         log,
		hub:            NewWebSocketHub(log),
		api:            NewAPI(status, calls, log),
		status:         status,
		statusInterval: DefaultStatusInterval,
	}
}

// Handler builds the HTTP routes
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("/health", s.handleHealth)

	mux.HandleFunc("/api/status", s.api.HandleStatus)
	mux.HandleFunc("/api/peers", s.api.HandlePeers)
	mux.HandleFunc("/api/calls", s.api.HandleCalls)
	mux.HandleFunc("/api/subscriber", s.api.HandleSubscriber)

	mux.Handle("/ws", s.hub.Handler())

	if files := s.staticFiles(); files != nil {
		mux.Handle("/", spaHandler(files))
	}

	if !s.config.AuthRequired {
		return mux
	}
	return s.basicAuth(mux)
}

// Start starts the HTTP server and blocks until ctx is done
func (s *Server) Start(ctx context.Context) error {
	if !s.config.Enabled {
		s.logger.Info("Web server is disabled")
		return nil
	}

	go s.hub.Run(ctx)

	addr := fmt.Sprintf("%s:%d", s.config.Host, s.config.Port)

	s.server = &http.Server{
		Addr:         addr,
		Handler:      s.Handler(),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// Start listener to get actual address (especially for port 0)
	listener, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("failed to create listener: %w", err)
	}

	s.mu.Lock()
	s.addr = listener.Addr().String()
	s.mu.Unlock()

	s.logger.Info("Starting web server",
		logger.String("address", s.addr))

	errChan := make(chan error, 1)
	go func() {
		if err := s.server.Serve(listener); err != nil && err != http.ErrServerClosed {
			errChan <- err
		}
	}()

	ticker := time.NewTicker(s.statusInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			if s.hub.GetClientCount() > 0 {
				s.hub.BroadcastStatusUpdate(s.status.Snapshot())
			}
		case <-ctx.Done():
			s.logger.Info("Shutting down web server")
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := s.server.Shutdown(shutdownCtx); err != nil {
				return fmt.Errorf("failed to shutdown server: %w", err)
			}
			return ctx.Err()
		case err := <-errChan:
			return err
		}
	}
}

// SetSubscribers enables /api/subscriber. Call before Start.
func (s *Server) SetSubscribers(l SubscriberLookup) {
	s.api.subscribers = l
}

// GetAddr returns the address the server is listening on
func (s *Server) GetAddr() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.addr
}

// GetHub returns the WebSocket hub
func (s *Server) GetHub() *WebSocketHub {
	return s.hub
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	if err := json.NewEncoder(w).Encode(map[string]interface{}{
		"status":  "ok",
		"service": "dmr-gateway",
		"time":    time.Now().Unix(),
	}); err != nil {
		s.logger.Warn("Failed to encode health response", logger.Error(err))
	}
}

// basicAuth protects everything but the health check
func (s *Server) basicAuth(next http.Handler) http.Handler {
	user := []byte(s.config.Username)
	pass := []byte(s.config.Password)
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/health" {
			next.ServeHTTP(w, r)
			return
		}
		u, p, ok := r.BasicAuth()
		if !ok ||
			subtle.ConstantTimeCompare([]byte(u), user) != 1 ||
			subtle.ConstantTimeCompare([]byte(p), pass) != 1 {
			w.Header().Set("WWW-Authenticate", `Basic realm="dmr-gateway"`)
			http.Error(w, "Unauthorized", http.StatusUnauthorized)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// staticFiles prefers assets compiled into the binary and falls back to the
// frontend/dist directory. nil means no dashboard is served.
func (s *Server) staticFiles() http.FileSystem {
	if files, err := embeddedStaticFS(); err != nil {
		s.logger.Warn("Embedded frontend unavailable", logger.Error(err))
	} else if files != nil {
		return files
	}

	if fi, err := os.Stat(staticDir); err == nil && fi.IsDir() {
		s.logger.Info("Serving static frontend assets", logger.String("dir", staticDir))
		return http.Dir(staticDir)
	}
	s.logger.Info("No static frontend assets found; dashboard not served", logger.String("dir", staticDir))
	return nil
}

// spaHandler serves files and falls back to index.html for unknown paths
func spaHandler(files http.FileSystem) http.Handler {
	fileServer := http.FileServer(files)
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		name := filepath.ToSlash(filepath.Clean("/" + r.URL.Path))
		if f, err := files.Open(name); err == nil {
			fi, statErr := f.Stat()
			_ = f.Close()
			if statErr == nil && (!fi.IsDir() || name == "/") {
				fileServer.ServeHTTP(w, r)
				return
			}
		}
		r2 := r.Clone(r.Context())
		r2.URL.Path = "/"
		fileServer.ServeHTTP(w, r2)
	})
}
