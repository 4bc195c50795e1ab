package server

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net"
	"net/http"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/jackzampolin/castwright/internal/server/endpoints"
	"github.com/jackzampolin/castwright/internal/testutil"
)

func TestServer_FullLifecycle(t *testing.T) {
	cfg := testutil.NewServerConfig(t)

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	var hookCalls atomic.Int32
	srv, err := New(Config{
		Host: cfg.Host,
		Port: cfg.Port,
		OnShutdown: []func(context.Context) error{
			func(context.Context) error { hookCalls.Add(1); return nil },
		},
		Logger: cfg.Logger,
	})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}

	serverErr := make(chan error, 1)
	serverCtx, serverCancel := context.WithCancel(ctx)
	go func() {
		serverErr <- srv.Start(serverCtx)
	}()

	if err := testutil.WaitForServer(cfg.URL(), 10*time.Second); err != nil {
		serverCancel()
		t.Fatalf("server did not start: %v", err)
	}

	t.Run("health_endpoint", func(t *testing.T) {
		resp, err := http.Get(cfg.URL() + "/health")
		if err != nil {
			t.Fatalf("health check failed: %v", err)
		}
		defer resp.Body.Close()

		if resp.StatusCode != http.StatusOK {
			t.Errorf("health status = %d, want %d", resp.StatusCode, http.StatusOK)
		}
		var health endpoints.HealthResponse
		if err := json.NewDecoder(resp.Body).Decode(&health); err != nil {
			t.Fatalf("failed to decode response: %v", err)
		}
		if health.Status != "ok" {
			t.Errorf("health.Status = %q, want %q", health.Status, "ok")
		}
	})

	t.Run("ready_without_pipeline", func(t *testing.T) {
		resp, err := http.Get(cfg.URL() + "/ready")
		if err != nil {
			t.Fatalf("ready check failed: %v", err)
		}
		defer resp.Body.Close()

		if resp.StatusCode != http.StatusServiceUnavailable {
			t.Errorf("ready status = %d, want %d", resp.StatusCode, http.StatusServiceUnavailable)
		}
		var health endpoints.HealthResponse
		if err := json.NewDecoder(resp.Body).Decode(&health); err != nil {
			t.Fatalf("failed to decode response: %v", err)
		}
		if health.Ledger != "not_initialized" {
			t.Errorf("health.Ledger = %q, want not_initialized", health.Ledger)
		}
	})

	t.Run("pipeline_routes_require_init", func(t *testing.T) {
		resp, err := http.Post(cfg.URL()+"/api/topics", "application/json", strings.NewReader(`{}`))
		if err != nil {
			t.Fatal(err)
		}
		defer resp.Body.Close()
		if resp.StatusCode != http.StatusServiceUnavailable {
			t.Errorf("status = %d, want 503", resp.StatusCode)
		}
	})

	t.Run("swagger_json", func(t *testing.T) {
		resp, err := http.Get(cfg.URL() + "/swagger.json")
		if err != nil {
			t.Fatal(err)
		}
		defer resp.Body.Close()
		body, _ := io.ReadAll(resp.Body)
		if resp.StatusCode != http.StatusOK {
			t.Fatalf("status = %d, body %s", resp.StatusCode, body)
		}
		var doc map[string]any
		if err := json.Unmarshal(body, &doc); err != nil {
			t.Fatalf("swagger.json is not JSON: %v", err)
		}
		paths, _ := doc["paths"].(map[string]any)
		if _, ok := paths["/api/topics/{topic_id}/run"]; !ok {
			t.Error("swagger.json missing the run route")
		}
	})

	t.Run("is_running", func(t *testing.T) {
		if !srv.IsRunning() {
			t.Error("IsRunning() = false, want true")
		}
	})

	serverCancel()
	select {
	case err := <-serverErr:
		if err != nil {
			t.Errorf("Start() returned %v after shutdown", err)
		}
	case <-time.After(10 * time.Second):
		t.Fatal("server did not shut down within timeout")
	}

	if srv.IsRunning() {
		t.Error("IsRunning() = true after shutdown, want false")
	}
	if hookCalls.Load() != 1 {
		t.Errorf("shutdown hook called %d times, want 1", hookCalls.Load())
	}
}

func TestServer_DoubleStart(t *testing.T) {
	cfg := testutil.NewServerConfig(t)
	srv, err := New(Config{Host: cfg.Host, Port: cfg.Port, Logger: cfg.Logger})
	if err != nil {
		t.Fatal(err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- srv.Start(ctx) }()
	run := &testutil.StartServer{Cancel: cancel, Done: done}
	defer run.Stop()

	if err := testutil.WaitForServer(cfg.URL(), 10*time.Second); err != nil {
		t.Fatalf("server did not start: %v", err)
	}
	if err := srv.Start(ctx); err == nil {
		t.Error("second Start() should return error")
	}
}

func TestServer_ListenFailure(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	defer ln.Close()
	_, port, _ := net.SplitHostPort(ln.Addr().String())

	srv, err := New(Config{Host: "127.0.0.1", Port: port, Logger: testutil.Logger(t)})
	if err != nil {
		t.Fatal(err)
	}
	if err := srv.Start(context.Background()); err == nil {
		t.Fatal("Start() on a taken port should fail")
	}
	if srv.IsRunning() {
		t.Error("server must not report running after a listen failure")
	}
}

func TestServer_ShutdownHookErrors(t *testing.T) {
	cfg := testutil.NewServerConfig(t)
	boom := errors.New("close ledger")
	srv, err := New(Config{
		Host:       cfg.Host,
		Port:       cfg.Port,
		OnShutdown: []func(context.Context) error{func(context.Context) error { return boom }},
		Logger:     cfg.Logger,
	})
	if err != nil {
		t.Fatal(err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- srv.Start(ctx) }()
	if err := testutil.WaitForServer(cfg.URL(), 10*time.Second); err != nil {
		cancel()
		t.Fatalf("server did not start: %v", err)
	}
	cancel()
	if err := <-done; !errors.Is(err, boom) {
		t.Errorf("Start() = %v, want the hook error", err)
	}
}
