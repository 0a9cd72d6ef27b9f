package backend

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
)

var (
	ErrBackendStatus    = errors.New("backend returned an error status")
	ErrEncodeRequest    = errors.New("encode request")
	ErrReadResponse     = errors.New("read response")
	ErrAuthTokenMissing = errors.New("api token is required")
	ErrTeamNameRequired = errors.New("team name is required")
)

// StatusError is a non-2xx response. It matches ErrBackendStatus.
type StatusError struct {
	StatusCode int
	Message    string
	Body       []byte
}

func (e *StatusError) Error() string {
	if e == nil {
		return "<nil>"
	}
	statusText := http.StatusText(e.StatusCode)
	if statusText == "" {
		statusText = "unknown status"
	}
	return fmt.Sprintf("backend request failed: status=%d (%s) message=%s", e.StatusCode, statusText, e.Message)
}

func (e *StatusError) Unwrap() error {
	return ErrBackendStatus
}

func mapStatusError(statusCode int, body []byte) error {
	message := strings.TrimSpace(string(body))
	if message == "" {
		message = http.StatusText(statusCode)
	}

	var parsed ErrorResponse
	if err := json.Unmarshal(body, &parsed); err == nil && parsed.Error != "" {
		message = parsed.Error
		if parsed.Details != "" {
			message += ": " + parsed.Details
		} else if parsed.Message != "" {
			message += ": " + parsed.Message
		}
	}

	return &StatusError{
		StatusCode: statusCode,
		Message:    message,
		Body:       append([]byte(nil), body...),
	}
}
