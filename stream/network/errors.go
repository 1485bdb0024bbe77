package network

import (
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/goccy/go-json"
)

// StatusError is returned when the provider answers with an unexpected HTTP status.
type StatusError struct {
	Method     string
	URL        string
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("HTTP %d: %s", e.StatusCode, e.Body)
}

// HTTPStatusCode returns the status code of the failed response.
func (e *StatusError) HTTPStatusCode() int {
	return e.StatusCode
}

// Fault is a protocol violation that carries no HTTP response, like a missing header.
type Fault string

func (f Fault) Error() string {
	return string(f)
}

// VerificationError is returned when the media endpoint reports errors for an uploaded asset.
type VerificationError struct {
	Errors []json.RawMessage
}

func (e *VerificationError) Error() string {
	descriptions := make([]string, 0, len(e.Errors))
	for _, item := range e.Errors {
		descriptions = append(descriptions, describeAPIError(item))
	}
	return fmt.Sprintf("media verification failed: %s", strings.Join(descriptions, "; "))
}

// describeAPIError renders one item of the provider's errors array.
// Items are either plain strings or objects with a message.
func describeAPIError(item json.RawMessage) string {
	var text string
	if err := json.Unmarshal(item, &text); err == nil {
		return text
	}

	var apiErr struct {
		Code    int    `json:"code"`
		Message string `json:"message"`
	}
	if err := json.Unmarshal(item, &apiErr); err == nil && apiErr.Message != "" {
		if apiErr.Code != 0 {
			return fmt.Sprintf("%s (code %d)", apiErr.Message, apiErr.Code)
		}
		return apiErr.Message
	}

	return string(item)
}

func unwrapError(resp *http.Response) error {
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("read error response: %w", err)
	}

	statusErr := &StatusError{
		StatusCode: resp.StatusCode,
		Body:       string(body),
	}
	if resp.Request != nil {
		statusErr.Method = resp.Request.Method
		if resp.Request.URL != nil {
			statusErr.URL = resp.Request.URL.String()
		}
	}
	return statusErr
}
