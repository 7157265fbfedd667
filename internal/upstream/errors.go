package upstream

import (
	"context"
	"errors"
	"fmt"
	"io"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

// ConnectReason classifies a failed connection attempt.
type ConnectReason string

const (
	ReasonTimeout   ConnectReason = "timeout"
	ReasonRefused   ConnectReason = "refused"
	ReasonInvalid   ConnectReason = "invalid_endpoint"
	ReasonCancelled ConnectReason = "cancelled"
	ReasonOther     ConnectReason = "other"
)

// ConnectError reports that the transport could not be established.
type ConnectError struct {
	Program  string
	Endpoint string
	Reason   ConnectReason
	Err      error
}

func (e *ConnectError) Error() string {
	return fmt.Sprintf("connect %s (%s): %s: %v", e.Program, e.Endpoint, e.Reason, e.Err)
}

func (e *ConnectError) Unwrap() error { return e.Err }

// ProbeError reports a connected endpoint that failed the liveness probe.
type ProbeError struct {
	Program string
	Err     error
}

func (e *ProbeError) Error() string {
	return fmt.Sprintf("probe %s: %v", e.Program, e.Err)
}

func (e *ProbeError) Unwrap() error { return e.Err }

// SubscribeSetupError reports that the price stream could not be opened.
type SubscribeSetupError struct {
	Program string
	Err     error
}

func (e *SubscribeSetupError) Error() string {
	return fmt.Sprintf("subscribe %s: %v", e.Program, e.Err)
}

func (e *SubscribeSetupError) Unwrap() error { return e.Err }

// StreamError reports the termination of an established price stream.
type StreamError struct {
	Program  string
	Received uint64
	Err      error
}

func (e *StreamError) Error() string {
	return fmt.Sprintf("stream %s ended after %d updates: %v", e.Program, e.Received, e.Err)
}

func (e *StreamError) Unwrap() error { return e.Err }

// Closed reports whether the upstream closed the stream cleanly.
func (e *StreamError) Closed() bool {
	return errors.Is(e.Err, io.EOF)
}

// Cancelled reports whether the stream ended because the local context was
// cancelled or expired.
func (e *StreamError) Cancelled() bool {
	if errors.Is(e.Err, context.Canceled) || errors.Is(e.Err, context.DeadlineExceeded) {
		return true
	}
	switch status.Code(e.Err) {
	case codes.Canceled, codes.DeadlineExceeded:
		return true
	}
	return false
}

// Unavailable reports whether err means the source could not be brought up and
// should be replaced by a synthetic feed.
func Unavailable(err error) bool {
	var connectErr *ConnectError
	var probeErr *ProbeError
	var setupErr *SubscribeSetupError
	return errors.As(err, &connectErr) || errors.As(err, &probeErr) || errors.As(err, &setupErr)
}
