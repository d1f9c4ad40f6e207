package scraper

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"

	"github.com/aluiziolira/go-crawl-listings/parser"
)

// ErrTimeout indicates an attempt ran past its deadline.
type ErrTimeout struct {
	Err error
}

func (e ErrTimeout) Error() string {
	return fmt.Errorf("timeout: %w", e.Err).Error()
}

func (e ErrTimeout) Unwrap() error {
	return e.Err
}

// ErrConnection indicates a network connectivity failure.
type ErrConnection struct {
	Err error
}

func (e ErrConnection) Error() string {
	return fmt.Errorf("connection: %w", e.Err).Error()
}

func (e ErrConnection) Unwrap() error {
	return e.Err
}

// ErrStatus indicates a response outside the 2xx range.
type ErrStatus struct {
	StatusCode int
	Err        error
}

func (e ErrStatus) Error() string {
	return fmt.Errorf("status %d: %w", e.StatusCode, e.Err).Error()
}

func (e ErrStatus) Unwrap() error {
	return e.Err
}

// ErrExhausted is returned once every attempt for a page has failed.
type ErrExhausted struct {
	Attempts int
	Err      error
}

func (e ErrExhausted) Error() string {
	return fmt.Errorf("gave up after %d attempts: %w", e.Attempts, e.Err).Error()
}

func (e ErrExhausted) Unwrap() error {
	return e.Err
}

func classifyError(err error, statusCode int) error {
	if err == nil && statusCode == 0 {
		return nil
	}

	var (
		timeout ErrTimeout
		conn    ErrConnection
		status  ErrStatus
	)
	if errors.As(err, &timeout) || errors.As(err, &conn) || errors.As(err, &status) {
		return err
	}

	if errors.Is(err, context.DeadlineExceeded) {
		return ErrTimeout{Err: err}
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return ErrTimeout{Err: err}
	}
	var opErr *net.OpError
	if errors.As(err, &opErr) {
		return ErrConnection{Err: err}
	}

	if statusCode != 0 && (statusCode < 200 || statusCode >= 300) {
		wrapped := err
		if wrapped == nil {
			wrapped = errors.New(http.StatusText(statusCode))
		}
		return ErrStatus{StatusCode: statusCode, Err: wrapped}
	}

	return err
}

func errorTypeLabel(err error) string {
	if err == nil {
		return "unknown"
	}
	var exhausted ErrExhausted
	if errors.As(err, &exhausted) {
		return errorTypeLabel(exhausted.Err)
	}
	if errors.Is(err, context.Canceled) {
		return "canceled"
	}
	var timeout ErrTimeout
	if errors.As(err, &timeout) {
		return "timeout"
	}
	var conn ErrConnection
	if errors.As(err, &conn) {
		return "connection"
	}
	var status ErrStatus
	if errors.As(err, &status) {
		switch {
		case status.StatusCode == http.StatusForbidden:
			return "forbidden"
		case status.StatusCode == http.StatusNotFound:
			return "not_found"
		case status.StatusCode == http.StatusTooManyRequests:
			return "rate_limited"
		case status.StatusCode >= 500:
			return "server_error"
		default:
			return "status"
		}
	}
	if errors.Is(err, parser.ErrUnparseable) {
		return "unparseable"
	}
	return "other"
}

// ErrorLabel returns the metric label for an outcome error.
func ErrorLabel(err error) string {
	return errorTypeLabel(err)
}
