// Package validation holds request-boundary validators shared by handlers.
package validation

import (
	"net/http"
	"regexp"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/mbd888/securebank/internal/money"
)

// MaxRequestSize caps request bodies at 1MB.
const MaxRequestSize = 1 << 20

// MaxPurposeLength bounds the free-text purpose on a transfer.
const MaxPurposeLength = 280

// emailRegex is intentionally loose: local@domain.tld with no spaces.
var emailRegex = regexp.MustCompile(`^[^\s@]+@[^\s@]+\.[^\s@]+$`)

// RequestSizeMiddleware limits request body size.
func RequestSizeMiddleware(maxSize int64) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, maxSize)
		c.Next()
	}
}

// IsValidEmail reports whether s looks like an email address.
func IsValidEmail(s string) bool {
	return len(s) <= 254 && emailRegex.MatchString(s)
}

// NormalizeEmail trims and lowercases an email address.
func NormalizeEmail(s string) string {
	return strings.ToLower(strings.TrimSpace(s))
}

// SanitizeString trims whitespace, strips NUL bytes and truncates to maxLen.
func SanitizeString(s string, maxLen int) string {
	s = strings.ReplaceAll(strings.TrimSpace(s), "\x00", "")
	if len(s) > maxLen {
		s = s[:maxLen]
	}
	return s
}

// ValidationError describes one invalid field.
type ValidationError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}

// ValidationErrors is returned to the client as "details".
type ValidationErrors []ValidationError

func (e ValidationErrors) Error() string {
	if len(e) == 0 {
		return "validation failed"
	}
	return e[0].Field + ": " + e[0].Message
}

// Validate runs validators in order and collects failures.
func Validate(validators ...func() *ValidationError) ValidationErrors {
	var errs ValidationErrors
	for _, v := range validators {
		if err := v(); err != nil {
			errs = append(errs, *err)
		}
	}
	return errs
}

// Required fails on empty or whitespace-only values.
func Required(field, value string) func() *ValidationError {
	return func() *ValidationError {
		if strings.TrimSpace(value) == "" {
			return &ValidationError{Field: field, Message: "is required"}
		}
		return nil
	}
}

// ValidEmail fails when a non-empty value is not an email address.
func ValidEmail(field, value string) func() *ValidationError {
	return func() *ValidationError {
		if value == "" {
			return nil
		}
		if !IsValidEmail(strings.TrimSpace(value)) {
			return &ValidationError{Field: field, Message: "must be a valid email address"}
		}
		return nil
	}
}

// MaxLength fails when value is longer than max bytes.
func MaxLength(field, value string, max int) func() *ValidationError {
	return func() *ValidationError {
		if len(value) > max {
			return &ValidationError{Field: field, Message: "exceeds maximum length"}
		}
		return nil
	}
}

// MinLength fails when a non-empty value is shorter than min bytes.
func MinLength(field, value string, min int) func() *ValidationError {
	return func() *ValidationError {
		if value != "" && len(value) < min {
			return &ValidationError{Field: field, Message: "is too short"}
		}
		return nil
	}
}

// ValidAmount requires a positive amount with at most two decimal places.
func ValidAmount(field, value string) func() *ValidationError {
	return func() *ValidationError {
		if value == "" {
			return nil
		}
		if _, err := money.ParsePositive(value); err != nil {
			return &ValidationError{Field: field, Message: "must be a positive amount with at most 2 decimal places"}
		}
		return nil
	}
}

// Present fails when ok is false; used for structured fields such as a
// device fingerprint that have no string form.
func Present(field string, ok bool) func() *ValidationError {
	return func() *ValidationError {
		if !ok {
			return &ValidationError{Field: field, Message: "is required"}
		}
		return nil
	}
}

// Abort writes the standard 400 validation response.
func Abort(c *gin.Context, errs ValidationErrors) {
	c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{
		"error":   "validation_error",
		"message": errs.Error(),
		"details": errs,
	})
}
