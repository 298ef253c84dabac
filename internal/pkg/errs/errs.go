package errs

import (
	"errors"
	"fmt"
	"net/http"
	"strings"

	"estatechat/internal/pkg/logx"
)

// CustomError is the error type rendered to clients, over HTTP and over the socket.
type CustomError struct {
	// Code is the business error code.
	Code int

	// Message is the user-facing description.
	Message string

	// Status is the HTTP status used when the error ends a REST request.
	Status int
}

// Error implements the error interface.
func (e CustomError) Error() string {
	return fmt.Sprintf("Error Code %d (HTTP %d): %s", e.Code, e.Status, e.Message)
}

// NewError builds a *CustomError from a registered code.
// details are printf arguments for templates that contain a verb. For ErrUnknown
// the first detail may be the underlying error, which is logged and not exposed.
// Unregistered codes fall back to ErrUnknown.
func NewError(code int, details ...any) *CustomError {
	templateErr, ok := errorMap[code]
	if !ok {
		logx.Error(
			fmt.Errorf("unknown error code %d", code),
			"Unknown error code requested",
			"requested_code", code,
		)
		templateErr = errorMap[ErrUnknown]
	}

	customErr := templateErr

	if customErr.Status == 0 {
		customErr.Status = http.StatusOK
	}

	if customErr.Code == ErrUnknown && len(details) > 0 {
		if originalErr, ok := details[0].(error); ok {
			logx.Error(originalErr, "Handling ErrUnknown with underlying error")
		}
	} else if len(details) > 0 {
		if strings.Contains(customErr.Message, "%") {
			customErr.Message = fmt.Sprintf(customErr.Message, details...)
		} else {
			logx.Warn("Error details ignored, template has no placeholder", "code", code)
		}
	}

	return &customErr
}

// From converts any error into a *CustomError, mapping unknown errors to ErrUnknown.
func From(err error) *CustomError {
	if err == nil {
		return nil
	}

	var customErr *CustomError
	if errors.As(err, &customErr) {
		return customErr
	}

	return NewError(ErrUnknown, err)
}
