package account

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/mbd888/securebank/internal/auth"
	"github.com/mbd888/securebank/internal/device"
	"github.com/mbd888/securebank/internal/logging"
	"github.com/mbd888/securebank/internal/validation"
)

// Handler provides HTTP endpoints for accounts.
type Handler struct {
	service *Service
}

// NewHandler creates a new account handler.
func NewHandler(service *Service) *Handler {
	return &Handler{service: service}
}

// CredentialsRequest is the body of register and login.
type CredentialsRequest struct {
	Email       string             `json:"email"`
	Password    string             `json:"password"`
	Fingerprint *device.Attributes `json:"fingerprint,omitempty"`
}

// RegisterRoutes sets up the public auth routes.
func (h *Handler) RegisterRoutes(r *gin.RouterGroup) {
	r.POST("/auth/register", h.Register)
	r.POST("/auth/login", h.Login)
}

// RegisterProtectedRoutes sets up auth-required account routes.
func (h *Handler) RegisterProtectedRoutes(r *gin.RouterGroup) {
	r.GET("/account", h.GetAccount)
}

func bindCredentials(c *gin.Context) (*CredentialsRequest, bool) {
	var req CredentialsRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "invalid_request",
			"message": "Invalid request body",
		})
		return nil, false
	}
	if errs := validation.Validate(
		validation.Required("email", req.Email),
		validation.ValidEmail("email", req.Email),
		validation.Required("password", req.Password),
		validation.MaxLength("password", req.Password, 72),
	); len(errs) > 0 {
		validation.Abort(c, errs)
		return nil, false
	}
	return &req, true
}

// Register handles POST /v1/auth/register
func (h *Handler) Register(c *gin.Context) {
	req, ok := bindCredentials(c)
	if !ok {
		return
	}

	res, err := h.service.Register(c.Request.Context(), req.Email, req.Password, req.Fingerprint)
	if err != nil {
		switch {
		case errors.Is(err, ErrEmailTaken):
			c.JSON(http.StatusConflict, gin.H{
				"error":   "email_taken",
				"message": "An account with this email already exists",
			})
		case errors.Is(err, auth.ErrWeakPassword), errors.Is(err, device.ErrInvalidFingerprint):
			c.JSON(http.StatusBadRequest, gin.H{
				"error":   "validation_error",
				"message": err.Error(),
			})
		default:
			logging.L(c.Request.Context()).Error("registration failed", "error", err)
			c.JSON(http.StatusInternalServerError, gin.H{
				"error":   "internal_error",
				"message": "Failed to register account",
			})
		}
		return
	}
	c.JSON(http.StatusCreated, res)
}

// Login handles POST /v1/auth/login
func (h *Handler) Login(c *gin.Context) {
	req, ok := bindCredentials(c)
	if !ok {
		return
	}

	res, err := h.service.Login(c.Request.Context(), req.Email, req.Password, req.Fingerprint)
	if err != nil {
		switch {
		case errors.Is(err, auth.ErrInvalidCredentials):
			c.JSON(http.StatusUnauthorized, gin.H{
				"error":   "invalid_credentials",
				"message": "Invalid email or password",
			})
		case errors.Is(err, ErrAccountInactive):
			c.JSON(http.StatusForbidden, gin.H{
				"error":   "account_inactive",
				"message": "This account is not active",
			})
		case errors.Is(err, device.ErrInvalidFingerprint):
			c.JSON(http.StatusBadRequest, gin.H{
				"error":   "validation_error",
				"message": err.Error(),
			})
		default:
			logging.L(c.Request.Context()).Error("login failed", "error", err)
			c.JSON(http.StatusInternalServerError, gin.H{
				"error":   "internal_error",
				"message": "Failed to log in",
			})
		}
		return
	}
	c.JSON(http.StatusOK, res)
}

// GetAccount handles GET /v1/account
func (h *Handler) GetAccount(c *gin.Context) {
	a, err := h.service.Get(c.Request.Context(), auth.AccountID(c))
	if err != nil {
		if errors.Is(err, ErrAccountNotFound) {
			c.JSON(http.StatusNotFound, gin.H{
				"error":   "not_found",
				"message": "Account not found",
			})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{
			"error":   "internal_error",
			"message": "Failed to load account",
		})
		return
	}
	c.JSON(http.StatusOK, a.View())
}
