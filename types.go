// Package ghapptoken defines types for the GitHub App token pipeline
package ghapptoken

import (
	"errors"
	"fmt"

	"github.com/OpsMx/ghapp-token/pkg/types"
)

// PipelineResult is an alias to the shared type in pkg/types
type PipelineResult = types.PipelineResult

// Params are the plain inputs of one pipeline run.
// The boundary resolves the key source and the reference time before calling in.
type Params struct {
	AppID         string
	PrivateKey    []byte // PEM-encoded RSA private key
	Org           string
	BaseURL       string
	ReferenceTime int64 // Epoch seconds
}

// Stage labels attached to errors as they leave a pipeline step
const (
	StageGeneratingToken      = "generating token"
	StageFetchingInstallation = "fetching installation id"
	StageParsingInstallation  = "parsing installation response"
	StageFetchingAccessToken  = "fetching access token"
	StageParsingAccessToken   = "parsing access token response"
	StageSerializingResult    = "serializing result"
)

// ClientError represents a failed pipeline stage
type ClientError struct {
	Code    string `json:"code"`
	Stage   string `json:"stage,omitempty"`
	Message string `json:"message"`
	Details string `json:"details,omitempty"` // Raw response body for parse failures
	Err     error  `json:"-"`
}

// Error implements the error interface
func (e *ClientError) Error() string {
	msg := fmt.Sprintf("%s: %s", e.Code, e.Message)
	if e.Stage != "" {
		msg = e.Stage + ": " + msg
	}
	if e.Details != "" {
		msg = fmt.Sprintf("%s (%s)", msg, e.Details)
	}
	return msg
}

// ErrorCode returns the error code
func (e *ClientError) ErrorCode() string {
	return e.Code
}

// Unwrap exposes the underlying cause
func (e *ClientError) Unwrap() error {
	return e.Err
}

// Is matches ClientErrors by code so the sentinels below work with errors.Is
func (e *ClientError) Is(target error) bool {
	t, ok := target.(*ClientError)
	if !ok {
		return false
	}
	return t.Code == e.Code
}

// Error codes
const (
	ErrCodeKeyFormat     = "KEY_FORMAT_ERROR"
	ErrCodeSigning       = "SIGNING_ERROR"
	ErrCodeNetwork       = "NETWORK_ERROR"
	ErrCodeResponseParse = "RESPONSE_PARSE_ERROR"
	ErrCodeSerialization = "SERIALIZATION_ERROR"
)

// Sentinels for errors.Is
var (
	ErrKeyFormat     = NewClientError(ErrCodeKeyFormat, "private key is not a PEM-encoded RSA key")
	ErrSigning       = NewClientError(ErrCodeSigning, "failed to sign JWT")
	ErrNetwork       = NewClientError(ErrCodeNetwork, "HTTP request failed")
	ErrResponseParse = NewClientError(ErrCodeResponseParse, "unexpected response body")
	ErrSerialization = NewClientError(ErrCodeSerialization, "failed to serialize result")
)

// NewClientError creates a new client error
func NewClientError(code, message string) *ClientError {
	return &ClientError{
		Code:    code,
		Message: message,
	}
}

// NewClientErrorWithDetails creates a new client error with details
func NewClientErrorWithDetails(code, message, details string) *ClientError {
	return &ClientError{
		Code:    code,
		Message: message,
		Details: details,
	}
}

// withStage returns a copy of e labelled with stage and wrapping cause
func (e *ClientError) withStage(stage string, cause error) *ClientError {
	c := *e
	c.Stage = stage
	if cause != nil {
		c.Err = cause
		c.Message = cause.Error()
	}
	return &c
}

// IsClientError checks if an error is a ClientError
func IsClientError(err error) bool {
	return GetClientError(err) != nil
}

// GetClientError returns the ClientError if the error is a ClientError
func GetClientError(err error) *ClientError {
	var clientErr *ClientError
	if errors.As(err, &clientErr) {
		return clientErr
	}
	return nil
}

// StatusError reports a non-2xx response from the GitHub API
type StatusError struct {
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("HTTP %d: %s", e.StatusCode, e.Body)
}
