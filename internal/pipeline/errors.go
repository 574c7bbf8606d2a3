package pipeline

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/Carrie-PLH/plus/internal/llm"
)

const (
	CodeInvalidInput    = "invalid_input"
	CodeToolUnavailable = "tool_unavailable"
	CodeConfigError     = "config_error"
	CodeInternal        = "internal_error"
)

const (
	configErrorMessage = "Configuration error. Please contact support."
	internalMessage    = "Something went wrong. Please try again later."
)

// Coded errors carry a machine-readable code and the HTTP status they map
// to. Their Error text is safe to show to callers.
type Coded interface {
	error
	Code() string
	Status() int
}

type InputValidationError struct {
	Field   string
	Message string
}

func (e *InputValidationError) Error() string { return e.Message }
func (e *InputValidationError) Code() string  { return CodeInvalidInput }
func (e *InputValidationError) Status() int   { return http.StatusBadRequest }

// AccessDeniedError is a tier or usage-limit denial.
type AccessDeniedError struct {
	Reason         string
	Message        string
	Tier           string
	RequiredTier   string
	ResetInSeconds int
	status         int
}

func (e *AccessDeniedError) Error() string { return e.Message }
func (e *AccessDeniedError) Code() string  { return e.Reason }
func (e *AccessDeniedError) Status() int   { return e.status }

// ToolUnavailableError is returned for catalog tools that have no generator.
type ToolUnavailableError struct {
	Tool string
}

func (e *ToolUnavailableError) Error() string {
	return fmt.Sprintf("Tool %q is not available yet.", e.Tool)
}
func (e *ToolUnavailableError) Code() string { return CodeToolUnavailable }
func (e *ToolUnavailableError) Status() int  { return http.StatusNotFound }

// MapError turns any error from Run into a status, a code and a message
// fit for the response body. Internal causes are never exposed.
func MapError(err error) (status int, code, message string) {
	var coded Coded
	if errors.As(err, &coded) {
		return coded.Status(), coded.Code(), coded.Error()
	}
	if llm.IsClientFault(err) {
		return http.StatusBadGateway, CodeConfigError, configErrorMessage
	}
	return http.StatusInternalServerError, CodeInternal, internalMessage
}
