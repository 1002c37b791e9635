package cloudcontroller

import (
	"fmt"
	"net/http"

	"github.com/pkg/errors"
)

// CloudOperationError is returned by every Client call the platform rejected.
type CloudOperationError struct {
	StatusCode  int
	StatusText  string
	Description string
}

func NewCloudOperationError(statusCode int, description string) *CloudOperationError {
	return &CloudOperationError{
		StatusCode:  statusCode,
		StatusText:  http.StatusText(statusCode),
		Description: description,
	}
}

func (e *CloudOperationError) Error() string {
	if e.Description == "" {
		return fmt.Sprintf("%d %s", e.StatusCode, e.StatusText)
	}
	return fmt.Sprintf("%d %s: %s", e.StatusCode, e.StatusText, e.Description)
}

// Outcome is the explicit result of a platform call. Steps switch on it instead of
// inspecting errors, so that benign conditions stay visible.
type Outcome string

const (
	OutcomeOK          Outcome = "OK"
	OutcomeNotFound    Outcome = "NOT_FOUND"
	OutcomeConflict    Outcome = "CONFLICT"
	OutcomeUnavailable Outcome = "UNAVAILABLE"
	OutcomeFailed      Outcome = "FAILED"
)

// Classify maps the error of a platform call to an Outcome.
// 409 and 422 both mean that the resource or an operation on it already exists.
func Classify(err error) Outcome {
	if err == nil {
		return OutcomeOK
	}
	var opErr *CloudOperationError
	if !errors.As(err, &opErr) {
		return OutcomeFailed
	}
	switch opErr.StatusCode {
	case http.StatusNotFound, http.StatusGone:
		return OutcomeNotFound
	case http.StatusConflict, http.StatusUnprocessableEntity:
		return OutcomeConflict
	case http.StatusInternalServerError, http.StatusBadGateway, http.StatusServiceUnavailable, http.StatusGatewayTimeout:
		return OutcomeUnavailable
	}
	return OutcomeFailed
}

// StatusCode returns the platform status code carried by err, or 0.
func StatusCode(err error) int {
	var opErr *CloudOperationError
	if errors.As(err, &opErr) {
		return opErr.StatusCode
	}
	return 0
}
