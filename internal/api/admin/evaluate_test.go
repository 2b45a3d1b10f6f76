package admin

import (
	"context"
	"net/http"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"

	"github.com/fieldsight/fieldsight-access/internal/access"
	"github.com/fieldsight/fieldsight-access/internal/middleware"
)

func newEvaluateRouter(ev middleware.Evaluator, p access.Principal) *gin.Engine {
	h := NewEvaluateHandlers(ev)
	r := gin.New()
	r.Use(withPrincipal(p))
	r.POST("/access/evaluate", h.EvaluateHandler())
	return r
}

func TestEvaluateHandler(t *testing.T) {
	wd := newWorld(t)
	ev := access.NewEvaluator(wd.graph)
	supervisor := principal("sup", siteRole(access.KindSiteSupervisor, 101))
	reviewer := principal("rev", siteRole(access.KindReviewer, 101))
	donor := principal("don", access.Role{Kind: access.KindProjectDonor, OrganizationID: access.Ref(1), ProjectID: access.Ref(10)})

	tests := []struct {
		name       string
		actor      access.Principal
		body       gin.H
		wantStatus int
		wantBody   string
	}{
		{"supervisor writes site", supervisor, gin.H{"resource_type": "site", "resource_id": 101, "capability": "write"}, http.StatusOK, `{"decision":"granted_full","permitted":true}`},
		{"reviewer writes site", reviewer, gin.H{"resource_type": "site", "resource_id": 101, "capability": "write"}, http.StatusOK, `{"decision":"granted_read_only","permitted":false}`},
		{"reviewer reads site", reviewer, gin.H{"resource_type": "site", "resource_id": 101, "capability": "read"}, http.StatusOK, `{"decision":"granted_read_only","permitted":true}`},
		{"supervisor deletes site", supervisor, gin.H{"resource_type": "site", "resource_id": 101, "capability": "delete"}, http.StatusOK, `{"decision":"denied","permitted":false}`},
		{"donor reads project", donor, gin.H{"resource_type": "project", "resource_id": 10, "capability": "read"}, http.StatusOK, `{"decision":"granted_read_only","permitted":true}`},
		{"stranger", principal("nobody"), gin.H{"resource_type": "site", "resource_id": 101, "capability": "read"}, http.StatusOK, `{"decision":"denied","permitted":false}`},
		{"super admin", superAdmin, gin.H{"resource_type": "site", "resource_id": 201, "capability": "delete"}, http.StatusOK, `{"decision":"granted_full","permitted":true}`},
		{"unknown site", supervisor, gin.H{"resource_type": "site", "resource_id": 999, "capability": "read"}, http.StatusNotFound, "Not found"},
		{"bad resource type", supervisor, gin.H{"resource_type": "planet", "resource_id": 1, "capability": "read"}, http.StatusBadRequest, "Invalid resource_type"},
		{"bad capability", supervisor, gin.H{"resource_type": "site", "resource_id": 101, "capability": "admin"}, http.StatusBadRequest, "Invalid capability"},
		{"missing id", supervisor, gin.H{"resource_type": "site", "capability": "read"}, http.StatusBadRequest, "Invalid request"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := doJSON(newEvaluateRouter(ev, tt.actor), http.MethodPost, "/access/evaluate", tt.body)
			if w.Code != tt.wantStatus {
				t.Fatalf("status = %d, want %d (body %s)", w.Code, tt.wantStatus, w.Body)
			}
			if !strings.Contains(w.Body.String(), tt.wantBody) {
				t.Errorf("body = %s, want containing %s", w.Body, tt.wantBody)
			}
		})
	}
}

type erroringEvaluator struct{ err error }

func (e erroringEvaluator) Evaluate(context.Context, access.Principal, access.Resource, access.Capability) (access.Decision, error) {
	return access.GrantedFull, e.err
}

func TestEvaluateHandler_FailsClosed(t *testing.T) {
	r := newEvaluateRouter(erroringEvaluator{err: access.ErrCycleDetected}, superAdmin)
	w := doJSON(r, http.MethodPost, "/access/evaluate", gin.H{"resource_type": "site", "resource_id": 1, "capability": "read"})
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d", w.Code)
	}
	if got := w.Body.String(); got != `{"decision":"denied","permitted":false}` {
		t.Errorf("body = %s", got)
	}
}
