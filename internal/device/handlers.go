package device

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/mbd888/securebank/internal/auth"
	"github.com/mbd888/securebank/internal/logging"
)

// Handler provides HTTP endpoints for device trust.
type Handler struct {
	service *Service
}

// NewHandler creates a new device handler.
func NewHandler(service *Service) *Handler {
	return &Handler{service: service}
}

// FingerprintRequest is the body of status and trust requests.
type FingerprintRequest struct {
	Fingerprint Attributes `json:"fingerprint"`
}

// RegisterProtectedRoutes sets up auth-required device routes.
func (h *Handler) RegisterProtectedRoutes(r *gin.RouterGroup) {
	r.POST("/devices/status", h.DeviceStatus)
	r.POST("/devices/trust", h.TrustDevice)
	r.GET("/devices", h.ListDevices)
}

func bindFingerprint(c *gin.Context) (Attributes, bool) {
	var req FingerprintRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "invalid_request",
			"message": "Invalid request body",
		})
		return Attributes{}, false
	}
	if err := req.Fingerprint.Validate(); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "validation_error",
			"message": err.Error(),
		})
		return Attributes{}, false
	}
	return req.Fingerprint, true
}

// DeviceStatus handles POST /v1/devices/status
func (h *Handler) DeviceStatus(c *gin.Context) {
	attrs, ok := bindFingerprint(c)
	if !ok {
		return
	}

	view, err := h.service.Status(c.Request.Context(), auth.AccountID(c), attrs)
	if err != nil {
		logging.L(c.Request.Context()).Error("device status failed", "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{
			"error":   "internal_error",
			"message": "Failed to load device status",
		})
		return
	}
	c.JSON(http.StatusOK, view)
}

// TrustDevice handles POST /v1/devices/trust
func (h *Handler) TrustDevice(c *gin.Context) {
	attrs, ok := bindFingerprint(c)
	if !ok {
		return
	}

	result, err := h.service.RequestTrust(c.Request.Context(), auth.AccountID(c), attrs)
	if err != nil {
		if errors.Is(err, ErrDeviceRestricted) {
			c.JSON(http.StatusForbidden, gin.H{
				"error":   "device_restricted",
				"message": "This device has been restricted",
			})
			return
		}
		logging.L(c.Request.Context()).Error("trust request failed", "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{
			"error":   "internal_error",
			"message": "Failed to process trust request",
		})
		return
	}

	if !result.Trusted {
		c.JSON(http.StatusForbidden, gin.H{
			"error":    "trust_rejected",
			"message":  "Device could not be verified",
			"rejected": true,
			"reason":   result.Reason,
			"device":   result.Device,
			"risk":     result.Risk,
		})
		return
	}
	c.JSON(http.StatusOK, result)
}

// ListDevices handles GET /v1/devices
func (h *Handler) ListDevices(c *gin.Context) {
	list, err := h.service.ListTrusted(c.Request.Context(), auth.AccountID(c))
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{
			"error":   "internal_error",
			"message": "Failed to list devices",
		})
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"devices": list,
		"count":   len(list),
	})
}
