// Package gateway holds the outbound payment gateway adapters.
package gateway

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"time"

	"github.com/rs/zerolog"
)

var logger = zerolog.New(os.Stdout).With().Timestamp().Str("component", "gateway").Logger()

// Error is an upstream failure with the message the gateway returned.
type Error struct {
	Gateway string
	Op      string
	Message string
	Code    string
	Status  int
	Err     error
}

func (e *Error) Error() string {
	msg := fmt.Sprintf("%s %s: %s", e.Gateway, e.Op, e.Message)
	if e.Status != 0 {
		msg = fmt.Sprintf("%s (status %d)", msg, e.Status)
	}
	return msg
}

func (e *Error) Unwrap() error { return e.Err }

// GatewayMessage is what the user gets to see.
func (e *Error) GatewayMessage() string { return e.Message }

// Retryable reports whether a failed idempotent read may be tried again.
func Retryable(err error) bool {
	if err == nil || errors.Is(err, context.Canceled) {
		return false
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		return true
	}
	var gwErr *Error
	if errors.As(err, &gwErr) {
		return gwErr.Status >= http.StatusInternalServerError || gwErr.Status == http.StatusTooManyRequests
	}
	return errors.Is(err, context.DeadlineExceeded)
}

// retryOnce runs fn and, for idempotent reads only, retries a single time
// after a short pause when the first failure is transient.
func retryOnce[T any](ctx context.Context, op string, fn func() (T, error)) (T, error) {
	v, err := fn()
	if !Retryable(err) || ctx.Err() != nil {
		return v, err
	}

	logger.Warn().Err(err).Msgf("Retrying %s once", op)
	select {
	case <-ctx.Done():
		return v, err
	case <-time.After(250 * time.Millisecond):
	}
	return fn()
}

// NewHTTPClient returns the client shared by all gateway calls.
func NewHTTPClient(timeout time.Duration) *http.Client {
	return &http.Client{Timeout: timeout}
}
