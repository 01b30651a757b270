package apicall

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"
)

var (
	// ErrCancelled is returned when the caller's context ends before the call completes.
	ErrCancelled = errors.New("request cancelled by caller")

	// ErrAllNodesUnreachable is matched by AllNodesUnreachableError.
	ErrAllNodesUnreachable = errors.New("all nodes unreachable")

	// ErrRequestUnauthorized is matched by a 401 RequestMalformedError.
	ErrRequestUnauthorized = errors.New("request unauthorized")

	// ErrObjectNotFound is matched by a 404 RequestMalformedError.
	ErrObjectNotFound = errors.New("object not found")

	// ErrObjectAlreadyExists is matched by a 409 RequestMalformedError.
	ErrObjectAlreadyExists = errors.New("object already exists")

	// ErrObjectUnprocessable is matched by a 422 RequestMalformedError.
	ErrObjectUnprocessable = errors.New("object unprocessable")
)

// ConnectionError is a transport failure or timeout against one node.
type ConnectionError struct {
	Node string
	Err  error
}

func (e *ConnectionError) Error() string {
	return "connection to " + e.Node + " failed: " + e.Err.Error()
}

func (e *ConnectionError) Unwrap() error {
	return e.Err
}

// ServerError is a 5xx reply. Like ConnectionError it counts against the node.
type ServerError struct {
	Node       string
	StatusCode int
	Message    string
}

func (e *ServerError) Error() string {
	return statusMessage(e.StatusCode, e.Message) + " (node " + e.Node + ")"
}

// RequestMalformedError is a non-2xx, non-5xx reply. The request itself was
// rejected, so it is returned without trying another node.
type RequestMalformedError struct {
	StatusCode int
	Message    string
	Body       []byte
}

func (e *RequestMalformedError) Error() string {
	return statusMessage(e.StatusCode, e.Message)
}

// Is lets callers match common statuses with errors.Is.
func (e *RequestMalformedError) Is(target error) bool {
	switch e.StatusCode {
	case http.StatusUnauthorized:
		return target == ErrRequestUnauthorized
	case http.StatusNotFound:
		return target == ErrObjectNotFound
	case http.StatusConflict:
		return target == ErrObjectAlreadyExists
	case http.StatusUnprocessableEntity:
		return target == ErrObjectUnprocessable
	}
	return false
}

// AllNodesUnreachableError is returned once the attempt budget is spent on
// node-level failures. Last holds the final failure.
type AllNodesUnreachableError struct {
	Attempts int
	Last     error
}

func (e *AllNodesUnreachableError) Error() string {
	msg := "all nodes unreachable after " + strconv.Itoa(e.Attempts) + " attempt(s)"
	if e.Last != nil {
		msg += ": " + e.Last.Error()
	}
	return msg
}

func (e *AllNodesUnreachableError) Is(target error) bool {
	return target == ErrAllNodesUnreachable
}

func (e *AllNodesUnreachableError) Unwrap() error {
	return e.Last
}

// IsNodeFailure reports whether err should count against the node's health.
func IsNodeFailure(err error) bool {
	var connErr *ConnectionError
	var serverErr *ServerError
	return errors.As(err, &connErr) || errors.As(err, &serverErr)
}

func cancelled(ctx context.Context) error {
	return fmt.Errorf("%w: %w", ErrCancelled, context.Cause(ctx))
}

func statusMessage(status int, message string) string {
	msg := "Request failed with HTTP code " + strconv.Itoa(status)
	if message != "" {
		msg += " | Server said: " + message
	}
	return msg
}
