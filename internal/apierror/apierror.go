package apierror

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/sirupsen/logrus"
)

type ErrorCode string

const (
	ErrValidation         ErrorCode = "VALIDATION_ERROR"
	ErrDuplicateRequest   ErrorCode = "DUPLICATE_REQUEST"
	ErrDailyLimitExceeded ErrorCode = "DAILY_LIMIT_EXCEEDED"
	ErrInsufficientFunds  ErrorCode = "INSUFFICIENT_FUNDS"
	ErrAuthentication     ErrorCode = "AUTHENTICATION_ERROR"
	ErrCredential         ErrorCode = "CREDENTIAL_ERROR"
	ErrProvider           ErrorCode = "PROVIDER_ERROR"
	ErrPersistence        ErrorCode = "PERSISTENCE_ERROR"
	ErrNotFound           ErrorCode = "NOT_FOUND"
	ErrConflict           ErrorCode = "CONFLICT"
	ErrInternalServer     ErrorCode = "INTERNAL_SERVER_ERROR"
)

var statusByCode = map[ErrorCode]int{
	ErrValidation:         http.StatusBadRequest,
	ErrDuplicateRequest:   http.StatusConflict,
	ErrDailyLimitExceeded: http.StatusConflict,
	ErrInsufficientFunds:  http.StatusPaymentRequired,
	ErrAuthentication:     http.StatusUnauthorized,
	ErrCredential:         http.StatusInternalServerError,
	ErrProvider:           http.StatusBadGateway,
	ErrPersistence:        http.StatusInternalServerError,
	ErrNotFound:           http.StatusNotFound,
	ErrConflict:           http.StatusConflict,
	ErrInternalServer:     http.StatusInternalServerError,
}

type APIError struct {
	Code    ErrorCode   `json:"code"`
	Message string      `json:"message"`
	Details interface{} `json:"details,omitempty"`
}

func (e APIError) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Unwrap exposes the underlying error when Details carries one.
func (e APIError) Unwrap() error {
	if err, ok := e.Details.(error); ok {
		return err
	}
	return nil
}

func NewAPIError(code ErrorCode, message string, details interface{}) APIError {
	if err, ok := details.(error); ok {
		logrus.WithField("code", code).Error(err)
	}
	return APIError{
		Code:    code,
		Message: message,
		Details: details,
	}
}

// CodeOf returns the code of the first APIError in err's chain.
func CodeOf(err error) (ErrorCode, bool) {
	var apiErr APIError
	if errors.As(err, &apiErr) {
		return apiErr.Code, true
	}
	return "", false
}

// HasCode reports whether err carries the given code.
func HasCode(err error, code ErrorCode) bool {
	c, ok := CodeOf(err)
	return ok && c == code
}

func MapErrorToHTTPStatus(err error) int {
	if code, ok := CodeOf(err); ok {
		if status, known := statusByCode[code]; known {
			return status
		}
	}
	return http.StatusInternalServerError
}
