package middleware

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/fieldsight/fieldsight-access/internal/access"
	"github.com/fieldsight/fieldsight-access/internal/audit"
	"github.com/fieldsight/fieldsight-access/internal/config"
	"github.com/fieldsight/fieldsight-access/internal/safego"
)

// captureShipper collects audit log entries via a buffered channel.
type captureShipper struct {
	ch chan *audit.LogEntry
}

func newCaptureShipper() *captureShipper {
	return &captureShipper{ch: make(chan *audit.LogEntry, 8)}
}

func (s *captureShipper) Ship(_ context.Context, e *audit.LogEntry) error {
	s.ch <- e
	return nil
}

func (s *captureShipper) Close() error { return nil }

// drain waits for the background shipping tasks and returns what arrived.
func (s *captureShipper) drain(t *testing.T, tasks *safego.Group) []*audit.LogEntry {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := tasks.Wait(ctx); err != nil {
		t.Fatalf("audit tasks did not finish: %v", err)
	}
	var out []*audit.LogEntry
	for {
		select {
		case e := <-s.ch:
			out = append(out, e)
		default:
			return out
		}
	}
}

func newAuditRouter(shipper audit.Shipper, cfg *config.AuditConfig, tasks *safego.Group, status int) *gin.Engine {
	r := gin.New()
	r.Use(RequestIDMiddleware())
	r.Use(func(c *gin.Context) {
		c.Set(ContextUserID, "user-1")
		c.Set(ContextAuthMethod, AuthMethodJWT)
		c.Next()
	})
	r.Use(AuditMiddleware(shipper, cfg, tasks))
	h := func(c *gin.Context) { c.Status(status) }
	r.GET("/api/v1/sites/:id", h)
	r.POST("/api/v1/roles", h)
	r.OPTIONS("/api/v1/roles", h)
	return r
}

// ---------------------------------------------------------------------------
// AuditMiddleware
// ---------------------------------------------------------------------------

func TestAuditMiddleware_RecordsSuccessfulWrite(t *testing.T) {
	s, tasks := newCaptureShipper(), &safego.Group{}
	doRequest(newAuditRouter(s, nil, tasks, http.StatusCreated), http.MethodPost, "/api/v1/roles")

	entries := s.drain(t, tasks)
	if len(entries) != 1 {
		t.Fatalf("got %d entries, want 1", len(entries))
	}
	e := entries[0]
	if e.Action != "POST /api/v1/roles" {
		t.Errorf("Action = %q", e.Action)
	}
	if e.ActorID != "user-1" || e.AuthMethod != AuthMethodJWT || e.StatusCode != http.StatusCreated {
		t.Errorf("entry = %+v", e)
	}
	if e.Metadata["request_id"] == "" || e.Metadata["request_id"] == nil {
		t.Error("request_id missing from metadata")
	}
}

func TestAuditMiddleware_Filtering(t *testing.T) {
	tests := []struct {
		name   string
		cfg    *config.AuditConfig
		method string
		path   string
		status int
		want   int
	}{
		{"read skipped by default", nil, http.MethodGet, "/api/v1/sites/1", http.StatusOK, 0},
		{"read logged when enabled", &config.AuditConfig{LogReadOperations: true}, http.MethodGet, "/api/v1/sites/1", http.StatusOK, 1},
		{"failed write skipped by default", nil, http.MethodPost, "/api/v1/roles", http.StatusBadRequest, 0},
		{"failed write logged when enabled", &config.AuditConfig{LogFailedRequests: true}, http.MethodPost, "/api/v1/roles", http.StatusConflict, 1},
		{"options never logged", &config.AuditConfig{LogReadOperations: true, LogFailedRequests: true}, http.MethodOptions, "/api/v1/roles", http.StatusNoContent, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s, tasks := newCaptureShipper(), &safego.Group{}
			doRequest(newAuditRouter(s, tt.cfg, tasks, tt.status), tt.method, tt.path)
			if got := len(s.drain(t, tasks)); got != tt.want {
				t.Errorf("entries = %d, want %d", got, tt.want)
			}
		})
	}
}

func TestAuditMiddleware_RecordsDenialWithResource(t *testing.T) {
	s, tasks := newCaptureShipper(), &safego.Group{}
	p := access.Principal{UserID: "user-1"}

	r := gin.New()
	r.Use(withPrincipal(p), AuditMiddleware(s, nil, tasks))
	r.GET("/sites/:id", RequireCapability(newAccessWorld(), access.ResourceSite, "id", access.CapabilityRead), func(c *gin.Context) {
		c.Status(http.StatusOK)
	})

	if w := doRequest(r, http.MethodGet, "/sites/101"); w.Code != http.StatusForbidden {
		t.Fatalf("status = %d, want 403", w.Code)
	}

	entries := s.drain(t, tasks)
	if len(entries) != 1 {
		t.Fatalf("got %d entries, want 1 (denials bypass the read filter)", len(entries))
	}
	e := entries[0]
	if e.Action != audit.ActionAccessDenied || e.ResourceType != "site" || e.ResourceID != "101" || e.Decision != "denied" {
		t.Errorf("entry = %+v", e)
	}
}

func TestAuditMiddleware_NilShipper(t *testing.T) {
	r := newAuditRouter(nil, nil, nil, http.StatusCreated)
	if w := doRequest(r, http.MethodPost, "/api/v1/roles"); w.Code != http.StatusCreated {
		t.Errorf("status = %d", w.Code)
	}
}

// entries outlive the request context
func TestAuditMiddleware_ShipsAfterRequestContextEnds(t *testing.T) {
	s, tasks := newCaptureShipper(), &safego.Group{}
	r := newAuditRouter(s, nil, tasks, http.StatusCreated)

	ctx, cancel := context.WithCancel(context.Background())
	req := httptest.NewRequest(http.MethodPost, "/api/v1/roles", nil).WithContext(ctx)
	r.ServeHTTP(httptest.NewRecorder(), req)
	cancel()

	if got := len(s.drain(t, tasks)); got != 1 {
		t.Errorf("entries = %d, want 1", got)
	}
}
