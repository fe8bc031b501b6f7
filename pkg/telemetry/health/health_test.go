package health

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"mercator-hq/bulkllm/pkg/limits/storage"
)

func TestNew(t *testing.T) {
	if got := New(0).timeout; got != DefaultCheckTimeout {
		t.Errorf("default timeout = %v, want %v", got, DefaultCheckTimeout)
	}
	if got := New(time.Second).timeout; got != time.Second {
		t.Errorf("timeout = %v, want 1s", got)
	}
}

func TestChecker_Readiness(t *testing.T) {
	tests := []struct {
		name       string
		checks     map[string]CheckFunc
		wantStatus string
	}{
		{
			name:       "no checks",
			checks:     nil,
			wantStatus: StatusReady,
		},
		{
			name: "all passing",
			checks: map[string]CheckFunc{
				"a": func(context.Context) error { return nil },
				"b": func(context.Context) error { return nil },
			},
			wantStatus: StatusReady,
		},
		{
			name: "one failing",
			checks: map[string]CheckFunc{
				"a": func(context.Context) error { return nil },
				"b": func(context.Context) error { return errors.New("down") },
			},
			wantStatus: StatusDegraded,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := New(time.Second)
			for name, check := range tt.checks {
				c.Register(name, check)
			}
			report := c.Readiness(context.Background())
			if report.Status != tt.wantStatus {
				t.Errorf("status = %s, want %s", report.Status, tt.wantStatus)
			}
			if len(report.Checks) != len(tt.checks) {
				t.Errorf("got %d results, want %d", len(report.Checks), len(tt.checks))
			}
		})
	}
}

func TestChecker_Timeout(t *testing.T) {
	c := New(20 * time.Millisecond)
	c.Register("slow", func(ctx context.Context) error {
		time.Sleep(time.Second)
		return nil
	})

	start := time.Now()
	report := c.Readiness(context.Background())
	if time.Since(start) > 500*time.Millisecond {
		t.Error("readiness did not honour the check timeout")
	}
	r := report.Checks["slow"]
	if r.Status != StatusUnhealthy || r.Message != ErrCheckTimeout.Error() {
		t.Errorf("slow check = %+v", r)
	}
}

func TestChecker_Names(t *testing.T) {
	c := New(0)
	c.Register("journal", nil)
	c.Register("aliases", nil)
	c.Register("journal", nil)

	names := c.Names()
	if len(names) != 2 || names[0] != "aliases" || names[1] != "journal" {
		t.Errorf("Names() = %v", names)
	}
}

type brokenBackend struct {
	storage.Backend
}

func (brokenBackend) LoadSince(context.Context, time.Time) ([]*storage.Record, error) {
	return nil, errors.New("connection refused")
}

func TestJournalCheck(t *testing.T) {
	mem := storage.NewMemoryBackend()
	defer mem.Close()

	if err := JournalCheck(mem)(context.Background()); err != nil {
		t.Errorf("memory journal check failed: %v", err)
	}
	if err := JournalCheck(brokenBackend{})(context.Background()); err == nil {
		t.Error("expected failure from broken backend")
	}
}

func TestHandlers(t *testing.T) {
	c := New(time.Second)
	mux := http.NewServeMux()
	c.Mount(mux, "1.2.3", "abc", "2026-01-01")

	t.Run("liveness", func(t *testing.T) {
		rec := httptest.NewRecorder()
		mux.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
		if rec.Code != http.StatusOK {
			t.Fatalf("code = %d", rec.Code)
		}
		var report Report
		if err := json.Unmarshal(rec.Body.Bytes(), &report); err != nil {
			t.Fatal(err)
		}
		if report.Status != StatusOK {
			t.Errorf("status = %s", report.Status)
		}
	})

	t.Run("readiness degraded", func(t *testing.T) {
		c.Register("journal", JournalCheck(brokenBackend{}))
		rec := httptest.NewRecorder()
		mux.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/readyz", nil))
		if rec.Code != http.StatusServiceUnavailable {
			t.Fatalf("code = %d", rec.Code)
		}
		var report Report
		if err := json.Unmarshal(rec.Body.Bytes(), &report); err != nil {
			t.Fatal(err)
		}
		if report.Checks["journal"].Message != "connection refused" {
			t.Errorf("journal check = %+v", report.Checks["journal"])
		}
	})

	t.Run("version", func(t *testing.T) {
		rec := httptest.NewRecorder()
		mux.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/version", nil))
		var info VersionInfo
		if err := json.Unmarshal(rec.Body.Bytes(), &info); err != nil {
			t.Fatal(err)
		}
		if info.Version != "1.2.3" || info.GoVersion == "" {
			t.Errorf("version = %+v", info)
		}
	})

	t.Run("head has no body", func(t *testing.T) {
		rec := httptest.NewRecorder()
		mux.ServeHTTP(rec, httptest.NewRequest(http.MethodHead, "/healthz", nil))
		if rec.Code != http.StatusOK || rec.Body.Len() != 0 {
			t.Errorf("code = %d, body = %q", rec.Code, rec.Body.String())
		}
	})

	t.Run("method not allowed", func(t *testing.T) {
		rec := httptest.NewRecorder()
		mux.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/healthz", nil))
		if rec.Code != http.StatusMethodNotAllowed {
			t.Errorf("code = %d", rec.Code)
		}
	})
}
