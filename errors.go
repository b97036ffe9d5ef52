package haul

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/url"
	"syscall"
)

// Failure taxonomy surfaced by a transfer attempt. Callers should test with
// errors.Is; concrete transport and filesystem errors never cross the engine
// boundary unwrapped.
var (
	// ErrNetwork covers connect/read timeouts, DNS failures, resets and
	// 5xx responses. Retryable.
	ErrNetwork = errors.New("haul: network failure")

	// ErrStorage covers destination file failures (disk full, permissions).
	// Retryable.
	ErrStorage = errors.New("haul: storage failure")

	// ErrRangeNotSupported means a byte range was requested but the server
	// did not honor it. Triggers a restart from offset zero, never a backoff
	// retry at the same offset.
	ErrRangeNotSupported = errors.New("haul: server does not honor range requests")

	// ErrArchive means extraction of a downloaded archive failed. Terminal:
	// re-running the same extraction over an unchanged archive cannot
	// change the outcome.
	ErrArchive = errors.New("haul: archive extraction failed")

	// ErrCancelled is a cooperative stop between chunks. Not a failure.
	ErrCancelled = errors.New("haul: transfer cancelled")

	// ErrConfig means the task is missing required fields. Terminal.
	ErrConfig = errors.New("haul: invalid task")
)

// IsRetryable reports whether err is transient enough to consult the retry
// policy for another attempt.
func IsRetryable(err error) bool {
	return errors.Is(err, ErrNetwork) || errors.Is(err, ErrStorage)
}

// netError wraps a raw transport error into the ErrNetwork class.
func netError(err error) error {
	return fmt.Errorf("%w: %v", ErrNetwork, err)
}

// storageError wraps a raw filesystem error into the ErrStorage class.
func storageError(err error) error {
	return fmt.Errorf("%w: %v", ErrStorage, err)
}

// classifyReadError sorts an error returned while streaming a response body.
// Context cancellation is cooperative, everything else on the read side is a
// network fault.
func classifyReadError(err error) error {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return ErrCancelled
	}
	return netError(err)
}

// classifyRequestError sorts an error returned by the HTTP client before any
// body was received.
func classifyRequestError(err error) error {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return ErrCancelled
	}

	var uerr *url.Error
	if errors.As(err, &uerr) {
		if uerr.Timeout() || uerr.Temporary() {
			return netError(err)
		}
	}

	var nerr net.Error
	if errors.As(err, &nerr) {
		return netError(err)
	}

	if errors.Is(err, io.ErrUnexpectedEOF) || errors.Is(err, syscall.ECONNRESET) {
		return netError(err)
	}

	// DNS errors, refused connections and friends all arrive as *url.Error.
	if uerr != nil {
		return netError(err)
	}

	return err
}

