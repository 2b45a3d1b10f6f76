// evaluate.go implements the access check endpoint that lets clients ask what the
// caller may do with a hierarchy node before attempting it.
package admin

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/fieldsight/fieldsight-access/internal/access"
	"github.com/fieldsight/fieldsight-access/internal/middleware"
)

// EvaluateHandlers handles access evaluation requests
type EvaluateHandlers struct {
	evaluator middleware.Evaluator
}

// NewEvaluateHandlers creates a new EvaluateHandlers instance
func NewEvaluateHandlers(evaluator middleware.Evaluator) *EvaluateHandlers {
	return &EvaluateHandlers{evaluator: evaluator}
}

// EvaluateRequest is the body of POST /api/v1/access/evaluate
type EvaluateRequest struct {
	ResourceType string `json:"resource_type" binding:"required"`
	ResourceID   int64  `json:"resource_id" binding:"required,gt=0"`
	Capability   string `json:"capability" binding:"required"`
}

// EvaluateResponse reports the decision for the caller
type EvaluateResponse struct {
	Decision  access.Decision `json:"decision"`
	Permitted bool            `json:"permitted"`
}

// @Summary      Evaluate access
// @Description  Returns the caller's access decision for a capability on a resource. Evaluation failures other than a missing resource yield a denial.
// @Tags         Access
// @Security     Bearer
// @Accept       json
// @Produce      json
// @Param        body  body  EvaluateRequest  true  "Resource and capability"
// @Success      200  {object}  EvaluateResponse
// @Failure      400  {object}  map[string]interface{}  "Invalid request"
// @Failure      404  {object}  map[string]interface{}  "Resource not found"
// @Router       /api/v1/access/evaluate [post]
// EvaluateHandler evaluates the caller's access
// POST /api/v1/access/evaluate
func (h *EvaluateHandlers) EvaluateHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		var req EvaluateRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request"})
			return
		}
		kind, err := access.ParseResourceKind(req.ResourceType)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid resource_type"})
			return
		}
		capability, err := access.ParseCapability(req.Capability)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid capability"})
			return
		}

		res := access.Resource{Kind: kind, ID: req.ResourceID}
		decision, err := h.evaluator.Evaluate(c.Request.Context(), middleware.PrincipalFrom(c), res, capability)
		if err != nil {
			if errors.Is(err, access.ErrNotFound) {
				c.JSON(http.StatusNotFound, gin.H{"error": "Not found"})
				return
			}
			slog.WarnContext(c.Request.Context(), "access evaluation failed, denying",
				"resource", res.String(), "error", err)
			decision = access.Denied
		}

		c.JSON(http.StatusOK, EvaluateResponse{
			Decision:  decision,
			Permitted: decision.Permits(capability),
		})
	}
}
