package transfer

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/mbd888/securebank/internal/account"
	"github.com/mbd888/securebank/internal/auth"
	"github.com/mbd888/securebank/internal/device"
	"github.com/mbd888/securebank/internal/logging"
	"github.com/mbd888/securebank/internal/money"
	"github.com/mbd888/securebank/internal/pagination"
	"github.com/mbd888/securebank/internal/validation"
)

// Handler provides HTTP endpoints for transfers.
type Handler struct {
	service *Service
}

// NewHandler creates a new transfer handler.
func NewHandler(service *Service) *Handler {
	return &Handler{service: service}
}

// CreateRequest is the body of POST /v1/transfers. Amount accepts a JSON
// number or a decimal string.
type CreateRequest struct {
	Recipient   string            `json:"recipient"`
	Amount      json.Number       `json:"amount"`
	Purpose     string            `json:"purpose"`
	Fingerprint device.Attributes `json:"fingerprint"`
}

// RegisterProtectedRoutes sets up auth-required transfer routes.
func (h *Handler) RegisterProtectedRoutes(r *gin.RouterGroup) {
	r.POST("/transfers", h.CreateTransfer)
	r.GET("/transfers", h.ListTransfers)
	r.GET("/transfers/:id", h.GetTransfer)
}

// CreateTransfer handles POST /v1/transfers
func (h *Handler) CreateTransfer(c *gin.Context) {
	var req CreateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "invalid_request",
			"message": "Invalid request body",
		})
		return
	}

	amount := strings.TrimSpace(req.Amount.String())
	if errs := validation.Validate(
		validation.Required("recipient", req.Recipient),
		validation.ValidEmail("recipient", req.Recipient),
		validation.Required("amount", amount),
		validation.ValidAmount("amount", amount),
		validation.MaxLength("purpose", req.Purpose, validation.MaxPurposeLength),
		validation.Present("fingerprint", !req.Fingerprint.IsEmpty()),
	); len(errs) > 0 {
		validation.Abort(c, errs)
		return
	}
	value, _ := money.ParsePositive(amount)

	t, err := h.service.Create(c.Request.Context(), auth.AccountID(c), Request{
		Recipient: validation.NormalizeEmail(req.Recipient),
		Amount:    value,
		Purpose:   validation.SanitizeString(req.Purpose, validation.MaxPurposeLength),
		Device:    req.Fingerprint,
	})
	if err != nil {
		h.writeError(c, t, err)
		return
	}

	status := http.StatusCreated
	if t.Status != StatusCompleted {
		status = http.StatusOK
	}
	c.JSON(status, t.View())
}

func (h *Handler) writeError(c *gin.Context, t *Transfer, err error) {
	body := gin.H{}
	if t != nil {
		body["transfer"] = t.View()
	}
	code := http.StatusInternalServerError

	switch {
	case errors.Is(err, ErrInvalidAmount), errors.Is(err, ErrInvalidRecipient), errors.Is(err, device.ErrInvalidFingerprint):
		code, body["error"] = http.StatusBadRequest, "validation_error"
	case errors.Is(err, ErrDeviceNotTrusted):
		code, body["error"] = http.StatusForbidden, "device_not_trusted"
	case errors.Is(err, account.ErrAccountInactive):
		code, body["error"] = http.StatusForbidden, "account_inactive"
	case errors.Is(err, account.ErrAccountNotFound):
		code, body["error"] = http.StatusNotFound, "not_found"
	case errors.Is(err, ErrInsufficientFunds):
		code, body["error"] = http.StatusUnprocessableEntity, "insufficient_funds"
	case errors.Is(err, ErrLimitExceeded):
		code, body["error"] = http.StatusUnprocessableEntity, "limit_exceeded"
	default:
		logging.L(c.Request.Context()).Error("transfer failed", "error", err)
		body["error"] = "internal_error"
		body["message"] = "Failed to process transfer"
		c.JSON(code, body)
		return
	}
	body["message"] = err.Error()
	c.JSON(code, body)
}

// ListTransfers handles GET /v1/transfers
func (h *Handler) ListTransfers(c *gin.Context) {
	limit := pagination.ParseLimit(c.Query("limit"))
	page, err := h.service.List(c.Request.Context(), auth.AccountID(c), limit, c.Query("cursor"))
	if err != nil {
		if errors.Is(err, pagination.ErrInvalidCursor) {
			c.JSON(http.StatusBadRequest, gin.H{
				"error":   "invalid_cursor",
				"message": "Invalid pagination cursor",
			})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{
			"error":   "internal_error",
			"message": "Failed to list transfers",
		})
		return
	}

	views := make([]View, 0, len(page.Transfers))
	for _, t := range page.Transfers {
		views = append(views, t.View())
	}
	c.JSON(http.StatusOK, gin.H{
		"transfers":  views,
		"count":      len(views),
		"nextCursor": page.NextCursor,
		"hasMore":    page.HasMore,
	})
}

// GetTransfer handles GET /v1/transfers/:id
func (h *Handler) GetTransfer(c *gin.Context) {
	t, err := h.service.Get(c.Request.Context(), auth.AccountID(c), c.Param("id"))
	if err != nil {
		if errors.Is(err, ErrTransferNotFound) {
			c.JSON(http.StatusNotFound, gin.H{
				"error":   "not_found",
				"message": "Transfer not found",
			})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{
			"error":   "internal_error",
			"message": "Failed to load transfer",
		})
		return
	}
	c.JSON(http.StatusOK, t.View())
}
