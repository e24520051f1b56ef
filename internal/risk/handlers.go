package risk

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/mbd888/securebank/internal/auth"
)

// Handler exposes the assessment audit trail.
type Handler struct {
	adapter *Adapter
}

// NewHandler creates a new risk handler.
func NewHandler(adapter *Adapter) *Handler {
	return &Handler{adapter: adapter}
}

// RegisterProtectedRoutes sets up auth-required risk routes.
func (h *Handler) RegisterProtectedRoutes(r *gin.RouterGroup) {
	r.GET("/risk/assessments", h.ListAssessments)
}

// ListAssessments handles GET /v1/risk/assessments
func (h *Handler) ListAssessments(c *gin.Context) {
	limit := 50
	if l := c.Query("limit"); l != "" {
		if n, err := strconv.Atoi(l); err == nil && n > 0 {
			limit = min(n, 200)
		}
	}

	list, err := h.adapter.List(c.Request.Context(), auth.AccountID(c), limit)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{
			"error":   "internal_error",
			"message": "Failed to load risk assessments",
		})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"assessments": list,
		"count":       len(list),
	})
}
