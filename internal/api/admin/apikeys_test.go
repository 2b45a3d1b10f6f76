package admin

import (
	"errors"
	"net/http"
	"strings"
	"testing"
	"time"

	sqlmock "github.com/DATA-DOG/go-sqlmock"
	"github.com/gin-gonic/gin"

	"github.com/fieldsight/fieldsight-access/internal/access"
	"github.com/fieldsight/fieldsight-access/internal/auth"
	"github.com/fieldsight/fieldsight-access/internal/db/repositories"
)

// ---------------------------------------------------------------------------
// Column / row definitions
// ---------------------------------------------------------------------------

var errDB = errors.New("db error")

var akCols = []string{
	"id", "user_id", "name", "description", "key_hash", "key_prefix", "expires_at", "last_used_at", "created_at",
}

func sampleAKRows() *sqlmock.Rows {
	lastUsed := time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)
	return sqlmock.NewRows(akCols).
		AddRow("key-1", "user-1", "Sync worker", nil, "$2a$12$secret-hash", "fsa_abc123",
			nil, lastUsed, time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC))
}

// ---------------------------------------------------------------------------
// Router helper
// ---------------------------------------------------------------------------

func newAPIKeyRouter(t *testing.T, p access.Principal) (sqlmock.Sqlmock, *gin.Engine) {
	t.Helper()
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	h := NewAPIKeyHandlers(repositories.NewAPIKeyRepository(db))
	h.generate = func() (*auth.GeneratedKey, error) {
		return &auth.GeneratedKey{Key: "fsa_full-secret-key", Hash: "$2a$04$hash", DisplayPrefix: "fsa_full-s"}, nil
	}

	r := gin.New()
	r.Use(withPrincipal(p))
	r.GET("/apikeys", h.ListAPIKeysHandler())
	r.POST("/apikeys", h.CreateAPIKeyHandler())
	r.DELETE("/apikeys/:id", h.RevokeAPIKeyHandler())
	return mock, r
}

// ---------------------------------------------------------------------------
// ListAPIKeysHandler
// ---------------------------------------------------------------------------

func TestListAPIKeys_Success(t *testing.T) {
	mock, r := newAPIKeyRouter(t, principal("user-1"))
	mock.ExpectQuery("SELECT .* FROM api_keys WHERE user_id").
		WithArgs("user-1").
		WillReturnRows(sampleAKRows())

	w := doJSON(r, http.MethodGet, "/apikeys", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200: body=%s", w.Code, w.Body)
	}
	body := w.Body.String()
	if !strings.Contains(body, `"key_prefix":"fsa_abc123"`) || !strings.Contains(body, `"last_used_at":"2026-03-02T09:00:00Z"`) {
		t.Errorf("body = %s", body)
	}
	if strings.Contains(body, "secret-hash") {
		t.Error("key hash leaked in listing")
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Error(err)
	}
}

func TestListAPIKeys_DBError(t *testing.T) {
	mock, r := newAPIKeyRouter(t, principal("user-1"))
	mock.ExpectQuery("SELECT .* FROM api_keys").WillReturnError(errDB)

	if w := doJSON(r, http.MethodGet, "/apikeys", nil); w.Code != http.StatusInternalServerError {
		t.Errorf("status = %d, want 500", w.Code)
	}
}

func TestListAPIKeys_Unauthenticated(t *testing.T) {
	_, r := newAPIKeyRouter(t, access.AnonymousPrincipal())
	if w := doJSON(r, http.MethodGet, "/apikeys", nil); w.Code != http.StatusUnauthorized {
		t.Errorf("status = %d, want 401", w.Code)
	}
}

// ---------------------------------------------------------------------------
// CreateAPIKeyHandler
// ---------------------------------------------------------------------------

func TestCreateAPIKey_Success(t *testing.T) {
	mock, r := newAPIKeyRouter(t, principal("user-1"))
	mock.ExpectExec("INSERT INTO api_keys").
		WithArgs(sqlmock.AnyArg(), "user-1", "CI", sqlmock.AnyArg(), "$2a$04$hash", "fsa_full-s", sqlmock.AnyArg(), sqlmock.AnyArg(), sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 1))

	expires := time.Now().Add(24 * time.Hour).UTC().Format(time.RFC3339)
	w := doJSON(r, http.MethodPost, "/apikeys", gin.H{"name": "CI", "expires_at": expires})
	if w.Code != http.StatusCreated {
		t.Fatalf("status = %d, want 201: body=%s", w.Code, w.Body)
	}
	var resp CreateAPIKeyResponse
	decode(t, w, &resp)
	if resp.Key != "fsa_full-secret-key" || resp.KeyPrefix != "fsa_full-s" {
		t.Errorf("resp = %+v", resp)
	}
	if resp.ID == "" || resp.ExpiresAt == nil {
		t.Errorf("id/expires_at missing: %+v", resp)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Error(err)
	}
}

func TestCreateAPIKey_Validation(t *testing.T) {
	tests := []struct {
		name string
		body gin.H
		want string
	}{
		{"missing name", gin.H{"description": "x"}, "Invalid request"},
		{"bad expiry", gin.H{"name": "CI", "expires_at": "tomorrow"}, "Use RFC3339"},
		{"past expiry", gin.H{"name": "CI", "expires_at": "2001-01-01T00:00:00Z"}, "must be in the future"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, r := newAPIKeyRouter(t, principal("user-1"))
			w := doJSON(r, http.MethodPost, "/apikeys", tt.body)
			if w.Code != http.StatusBadRequest {
				t.Fatalf("status = %d, want 400", w.Code)
			}
			if !strings.Contains(w.Body.String(), tt.want) {
				t.Errorf("body = %s, want containing %s", w.Body, tt.want)
			}
		})
	}
}

func TestCreateAPIKey_GenerateError(t *testing.T) {
	db, _, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New: %v", err)
	}
	defer db.Close()

	h := NewAPIKeyHandlers(repositories.NewAPIKeyRepository(db))
	h.generate = func() (*auth.GeneratedKey, error) { return nil, errors.New("entropy exhausted") }
	r := gin.New()
	r.Use(withPrincipal(principal("user-1")))
	r.POST("/apikeys", h.CreateAPIKeyHandler())

	if w := doJSON(r, http.MethodPost, "/apikeys", gin.H{"name": "CI"}); w.Code != http.StatusInternalServerError {
		t.Errorf("status = %d, want 500", w.Code)
	}
}

func TestCreateAPIKey_DBError(t *testing.T) {
	mock, r := newAPIKeyRouter(t, principal("user-1"))
	mock.ExpectExec("INSERT INTO api_keys").WillReturnError(errDB)

	if w := doJSON(r, http.MethodPost, "/apikeys", gin.H{"name": "CI"}); w.Code != http.StatusInternalServerError {
		t.Errorf("status = %d, want 500", w.Code)
	}
}

// ---------------------------------------------------------------------------
// RevokeAPIKeyHandler
// ---------------------------------------------------------------------------

func TestRevokeAPIKey(t *testing.T) {
	tests := []struct {
		name       string
		setup      func(sqlmock.Sqlmock)
		wantStatus int
	}{
		{"revoked", func(m sqlmock.Sqlmock) {
			m.ExpectExec("DELETE FROM api_keys").WithArgs("key-1", "user-1").WillReturnResult(sqlmock.NewResult(0, 1))
		}, http.StatusOK},
		{"not owned", func(m sqlmock.Sqlmock) {
			m.ExpectExec("DELETE FROM api_keys").WithArgs("key-1", "user-1").WillReturnResult(sqlmock.NewResult(0, 0))
		}, http.StatusNotFound},
		{"db error", func(m sqlmock.Sqlmock) {
			m.ExpectExec("DELETE FROM api_keys").WillReturnError(errDB)
		}, http.StatusInternalServerError},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			mock, r := newAPIKeyRouter(t, principal("user-1"))
			tt.setup(mock)
			if w := doJSON(r, http.MethodDelete, "/apikeys/key-1", nil); w.Code != tt.wantStatus {
				t.Errorf("status = %d, want %d", w.Code, tt.wantStatus)
			}
		})
	}
}
