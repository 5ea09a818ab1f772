// Package apperr defines the typed failures shared by the remote source, the
// cache store and the realtime channel, so the sync coordinator can treat them
// uniformly.
package apperr

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"strings"
	"syscall"

	"github.com/mr1hm/go-hazard-watch/internal/models"
)

type NetworkReason int

const (
	NetworkUnknown NetworkReason = iota
	NetworkNoConnection
	NetworkTimeout
)

func (r NetworkReason) String() string {
	switch r {
	case NetworkNoConnection:
		return "no connection"
	case NetworkTimeout:
		return "timeout"
	default:
		return "unknown"
	}
}

type NetworkError struct {
	Reason NetworkReason
	Err    error
}

func (e *NetworkError) Error() string {
	return fmt.Sprintf("network error (%s): %v", e.Reason, e.Err)
}

func (e *NetworkError) Unwrap() error { return e.Err }

// ServerError is a 5xx response, or a 2xx envelope with success=false.
type ServerError struct {
	StatusCode int
	Message    string
}

func (e *ServerError) Error() string {
	return fmt.Sprintf("server error: status %d: %s", e.StatusCode, e.Message)
}

// ClientError is a 4xx response.
type ClientError struct {
	StatusCode int
	Message    string
}

func (e *ClientError) Error() string {
	return fmt.Sprintf("client error: status %d: %s", e.StatusCode, e.Message)
}

type StorageOp int

const (
	SaveFailed StorageOp = iota
	ReadFailed
)

func (o StorageOp) String() string {
	if o == SaveFailed {
		return "save failed"
	}
	return "read failed"
}

type StorageError struct {
	Op   StorageOp
	Kind models.EntityKind
	Err  error
}

func (e *StorageError) Error() string {
	return fmt.Sprintf("storage error (%s, %s): %v", e.Op, e.Kind, e.Err)
}

func (e *StorageError) Unwrap() error { return e.Err }

type ParseError struct {
	What string
	Err  error
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("parse %s: %v", e.What, e.Err)
}

func (e *ParseError) Unwrap() error { return e.Err }

// ErrDataUnavailable matches any *DataUnavailableError via errors.Is.
var ErrDataUnavailable = errors.New("data unavailable")

// DataUnavailableError is raised when a slice has neither fresh data nor any
// cached value.
type DataUnavailableError struct {
	Kinds  []models.EntityKind
	Causes []error
}

func (e *DataUnavailableError) Error() string {
	kinds := make([]string, len(e.Kinds))
	for i, k := range e.Kinds {
		kinds[i] = string(k)
	}
	return fmt.Sprintf("data unavailable for %s: %v", strings.Join(kinds, ", "), errors.Join(e.Causes...))
}

func (e *DataUnavailableError) Is(target error) bool { return target == ErrDataUnavailable }

func (e *DataUnavailableError) Unwrap() []error { return e.Causes }

// FromTransport wraps an error returned by an HTTP or websocket round trip
// into a NetworkError with the closest reason. Errors that are already typed
// pass through unchanged.
func FromTransport(err error) error {
	if err == nil {
		return nil
	}
	if isTyped(err) {
		return err
	}
	return &NetworkError{Reason: networkReason(err), Err: err}
}

func isTyped(err error) bool {
	var (
		ne *NetworkError
		se *ServerError
		ce *ClientError
		pe *ParseError
		st *StorageError
	)
	return errors.As(err, &ne) || errors.As(err, &se) || errors.As(err, &ce) ||
		errors.As(err, &pe) || errors.As(err, &st)
}

func networkReason(err error) NetworkReason {
	if errors.Is(err, context.DeadlineExceeded) {
		return NetworkTimeout
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return NetworkTimeout
	}
	var dnsErr *net.DNSError
	if errors.As(err, &dnsErr) {
		return NetworkNoConnection
	}
	if errors.Is(err, syscall.ECONNREFUSED) || errors.Is(err, syscall.ENETUNREACH) ||
		errors.Is(err, syscall.EHOSTUNREACH) {
		return NetworkNoConnection
	}
	var opErr *net.OpError
	if errors.As(err, &opErr) && opErr.Op == "dial" {
		return NetworkNoConnection
	}
	return NetworkUnknown
}

// FromStatus maps a non-2xx HTTP status to ClientError or ServerError.
func FromStatus(code int, message string) error {
	if code >= 400 && code < 500 {
		return &ClientError{StatusCode: code, Message: message}
	}
	return &ServerError{StatusCode: code, Message: message}
}

// IsTransient reports whether err is a network or I/O failure worth retrying.
func IsTransient(err error) bool {
	var ne *NetworkError
	if errors.As(err, &ne) {
		return true
	}
	var se *ServerError
	if errors.As(err, &se) {
		return true
	}
	if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) ||
		errors.Is(err, syscall.ECONNRESET) || errors.Is(err, syscall.EPIPE) {
		return true
	}
	var netErr net.Error
	return errors.As(err, &netErr)
}
