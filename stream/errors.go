package stream

import (
	"errors"
	"net/http"

	"github.com/bitrise-io/go-streamupload/stream/network"
)

// ConfigurationError is returned synchronously by Client.Upload, it is never emitted as an event.
type ConfigurationError struct {
	message string
}

func (e *ConfigurationError) Error() string {
	return e.message
}

var (
	// ErrNoPayloadSource is returned when neither a buffer nor a path was given.
	ErrNoPayloadSource = &ConfigurationError{message: "you must set either a path or a buffer"}
	// ErrNoZone is returned when neither the upload input nor the credentials name a zone.
	ErrNoZone = &ConfigurationError{message: "you must set a zone"}
)

const invalidCredentialsMessage = "Invalid Cloudflare Credentials"

// Kind tells which normalization rule produced an Error.
type Kind int

const (
	// KindCredentials is a 403 response from the provider.
	KindCredentials Kind = iota
	// KindResponseBody is a failed response whose body became the message.
	KindResponseBody
	// KindMessage is a plain message fault, like a missing header.
	KindMessage
	// KindPassthrough means no rule matched: Message is the cause's text and Cause is kept as is.
	KindPassthrough
)

func (k Kind) String() string {
	switch k {
	case KindCredentials:
		return "credentials"
	case KindResponseBody:
		return "response_body"
	case KindMessage:
		return "message"
	case KindPassthrough:
		return "passthrough"
	default:
		return "unknown"
	}
}

// Error is the single failure shape emitted on an Upload.
type Error struct {
	Kind    Kind
	Message string
	Cause   error
}

func (e *Error) Error() string {
	return e.Message
}

func (e *Error) Unwrap() error {
	return e.Cause
}

// Normalize maps an upload or verification failure to an Error. Rules are applied in order:
// a 403 response, a response with a body, a plain message fault, and finally passthrough.
func Normalize(err error) *Error {
	if err == nil {
		return nil
	}

	var normalized *Error
	if errors.As(err, &normalized) {
		return normalized
	}

	var statusErr *network.StatusError
	if errors.As(err, &statusErr) {
		if statusErr.StatusCode == http.StatusForbidden {
			return &Error{Kind: KindCredentials, Message: invalidCredentialsMessage, Cause: err}
		}
		if statusErr.Body != "" {
			return &Error{Kind: KindResponseBody, Message: statusErr.Body, Cause: err}
		}
	}

	var fault network.Fault
	if errors.As(err, &fault) {
		return &Error{Kind: KindMessage, Message: string(fault), Cause: err}
	}

	return &Error{Kind: KindPassthrough, Message: err.Error(), Cause: err}
}
