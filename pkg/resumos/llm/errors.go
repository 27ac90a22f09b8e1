package llm

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strings"

	openai "github.com/sashabaranov/go-openai"
)

// ErrorKind classifies completion errors for logging and metrics.
type ErrorKind int

const (
	ErrorRetryable  ErrorKind = iota // generic retryable (transient 5xx)
	ErrorRateLimit                   // 429
	ErrorOverloaded                  // 529 or "overloaded" in body
	ErrorTimeout                     // request timeout / deadline exceeded
	ErrorAuth                        // 401, 403
	ErrorBilling                     // 402 or billing-related in body
	ErrorContext                     // context_length_exceeded
	ErrorBadRequest                  // 400
	ErrorMalformed                   // response without choices
	ErrorFatal                       // everything else
)

// String returns a human-readable label for the error kind.
func (k ErrorKind) String() string {
	switch k {
	case ErrorRetryable:
		return "retryable"
	case ErrorRateLimit:
		return "rate_limit"
	case ErrorOverloaded:
		return "overloaded"
	case ErrorTimeout:
		return "timeout"
	case ErrorAuth:
		return "auth"
	case ErrorBilling:
		return "billing"
	case ErrorContext:
		return "context"
	case ErrorBadRequest:
		return "bad_request"
	case ErrorMalformed:
		return "malformed"
	case ErrorFatal:
		return "fatal"
	default:
		return "unknown"
	}
}

// IsRetryable returns true if a later attempt could plausibly succeed.
func (k ErrorKind) IsRetryable() bool {
	return k == ErrorRetryable || k == ErrorRateLimit || k == ErrorOverloaded || k == ErrorTimeout
}

// Error is returned by Client.Complete for every failed completion.
type Error struct {
	Kind       ErrorKind
	StatusCode int
	Model      string
	Err        error
}

func (e *Error) Error() string {
	if e.StatusCode > 0 {
		return fmt.Sprintf("%s: completion failed (%s, HTTP %d): %v", e.Model, e.Kind, e.StatusCode, e.Err)
	}
	return fmt.Sprintf("%s: completion failed (%s): %v", e.Model, e.Kind, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// ErrEmptyResponse is wrapped when the service answers without any choice.
var ErrEmptyResponse = errors.New("completion response has no choices")

// classifyError maps a go-openai error into an *Error.
func classifyError(model string, err error) *Error {
	out := &Error{Kind: ErrorFatal, Model: model, Err: err}

	var apiErr *openai.APIError
	var reqErr *openai.RequestError
	var netErr net.Error
	switch {
	case errors.Is(err, context.DeadlineExceeded):
		out.Kind = ErrorTimeout
	case errors.Is(err, ErrEmptyResponse):
		out.Kind = ErrorMalformed
	case errors.As(err, &apiErr):
		out.StatusCode = apiErr.HTTPStatusCode
		body := apiErr.Message
		if code, ok := apiErr.Code.(string); ok {
			body = code + " " + body
		}
		out.Kind = classifyAPIError(apiErr.HTTPStatusCode, apiErr.Type+" "+body)
	case errors.As(err, &reqErr):
		out.StatusCode = reqErr.HTTPStatusCode
		msg := ""
		if reqErr.Err != nil {
			msg = reqErr.Err.Error()
		}
		out.Kind = classifyAPIError(reqErr.HTTPStatusCode, msg)
	case errors.As(err, &netErr) && netErr.Timeout():
		out.Kind = ErrorTimeout
	}
	return out
}

// classifyAPIError determines the error kind from status code and response body.
func classifyAPIError(statusCode int, body string) ErrorKind {
	bodyLower := strings.ToLower(body)

	if strings.Contains(bodyLower, "context_length_exceeded") ||
		strings.Contains(bodyLower, "maximum context length") {
		return ErrorContext
	}

	if statusCode == 402 ||
		strings.Contains(bodyLower, "billing") ||
		strings.Contains(bodyLower, "insufficient_quota") ||
		strings.Contains(bodyLower, "payment required") {
		return ErrorBilling
	}

	if statusCode == 429 ||
		strings.Contains(bodyLower, "rate_limit") ||
		strings.Contains(bodyLower, "rate limit") ||
		strings.Contains(bodyLower, "too many requests") {
		return ErrorRateLimit
	}

	if statusCode == 529 ||
		strings.Contains(bodyLower, "overloaded") {
		return ErrorOverloaded
	}

	if strings.Contains(bodyLower, "timeout") ||
		strings.Contains(bodyLower, "timed out") {
		return ErrorTimeout
	}

	switch statusCode {
	case 400:
		return ErrorBadRequest
	case 401, 403:
		return ErrorAuth
	default:
		if statusCode >= 500 {
			return ErrorRetryable
		}
		return ErrorFatal
	}
}
