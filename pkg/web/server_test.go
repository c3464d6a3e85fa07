package web

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/dbehnke/dmr-gateway/pkg/config"
	"github.com/dbehnke/dmr-gateway/pkg/logger"
)

func newTestServer(cfg config.WebConfig) *Server {
	log := logger.New(logger.Config{Level: "error"})
	return NewServer(cfg, &fakeStatus{snap: testSnapshot()}, nil, log)
}

func TestServer_StartStop(t *testing.T) {
	srv := newTestServer(config.WebConfig{
		Enabled: true,
		Host:    "localhost",
		Port:    0, // Use any available port
	})

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	errChan := make(chan error, 1)
	go func() {
		errChan <- srv.Start(ctx)
	}()

	deadline := time.Now().Add(time.Second)
	for srv.GetAddr() == "" {
		if time.Now().After(deadline) {
			t.Fatal("server never started listening")
		}
		time.Sleep(10 * time.Millisecond)
	}

	resp, err := http.Get("http://" + srv.GetAddr() + "/health")
	if err != nil {
		t.Fatalf("Failed to reach health endpoint: %v", err)
	}
	_ = resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Errorf("Expected status 200, got %d", resp.StatusCode)
	}

	cancel()

	select {
	case err := <-errChan:
		if err != nil && err != context.Canceled {
			t.Errorf("Unexpected error: %v", err)
		}
	case <-time.After(3 * time.Second):
		t.Error("Server did not stop in time")
	}
}

func TestServer_Disabled(t *testing.T) {
	srv := newTestServer(config.WebConfig{Enabled: false})

	if err := srv.Start(context.Background()); err != nil {
		t.Errorf("Expected nil error for disabled server, got %v", err)
	}
}

func TestServer_Routes(t *testing.T) {
	h := newTestServer(config.WebConfig{Enabled: true}).Handler()

	tests := []struct {
		path string
		want int
	}{
		{"/health", http.StatusOK},
		{"/api/status", http.StatusOK},
		{"/api/peers", http.StatusOK},
		{"/api/calls", http.StatusOK},
	}

	for _, tt := range tests {
		t.Run(tt.path, func(t *testing.T) {
			w := httptest.NewRecorder()
			h.ServeHTTP(w, httptest.NewRequest(http.MethodGet, tt.path, nil))
			if w.Code != tt.want {
				t.Errorf("GET %s = %d, want %d", tt.path, w.Code, tt.want)
			}
		})
	}
}

func TestServer_BasicAuth(t *testing.T) {
	h := newTestServer(config.WebConfig{
		Enabled:      true,
		AuthRequired: true,
		Username:     "admin",
		Password:     "s3cret",
	}).Handler()

	tests := []struct {
		name       string
		path       string
		user, pass string
		auth       bool
		want       int
	}{
		{"health is open", "/health", "", "", false, http.StatusOK},
		{"no credentials", "/api/status", "", "", false, http.StatusUnauthorized},
		{"wrong password", "/api/status", "admin", "nope", true, http.StatusUnauthorized},
		{"valid credentials", "/api/status", "admin", "s3cret", true, http.StatusOK},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, tt.path, nil)
			if tt.auth {
				req.SetBasicAuth(tt.user, tt.pass)
			}
			w := httptest.NewRecorder()
			h.ServeHTTP(w, req)
			if w.Code != tt.want {
				t.Errorf("status = %d, want %d", w.Code, tt.want)
			}
			if tt.want == http.StatusUnauthorized && w.Header().Get("WWW-Authenticate") == "" {
				t.Error("missing WWW-Authenticate header")
			}
		})
	}
}

func TestSPAHandler(t *testing.T) {
	files := http.Dir("frontend/dist")
	h := spaHandler(files)

	for _, path := range []string{"/", "/peers/312000"} {
		t.Run(path, func(t *testing.T) {
			w := httptest.NewRecorder()
			h.ServeHTTP(w, httptest.NewRequest(http.MethodGet, path, nil))
			if w.Code != http.StatusOK {
				t.Errorf("GET %s = %d, want 200", path, w.Code)
			}
		})
	}
}
