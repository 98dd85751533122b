package http

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"syscall"
	"time"
)

// ErrorKind classifies a failure for retry policy and health
// accounting. Kinds are classified, not typed: the same underlying
// error value may surface under different kinds depending on where
// it occurred.
type ErrorKind int

const (
	// KindNone means no error.
	KindNone ErrorKind = iota

	// KindClientStatus is an HTTP 4xx other than Forbidden.
	KindClientStatus

	// KindForbidden is HTTP 403. Never retried, on manifest fetches
	// and file downloads alike; the patch servers use it for regional
	// restrictions.
	KindForbidden

	// KindServerStatus is an HTTP 5xx.
	KindServerStatus

	// KindConnReset is a socket reset (ECONNRESET).
	KindConnReset

	// KindSocket is any other socket-layer error.
	KindSocket

	// KindTimeout is a non-cancellation timeout.
	KindTimeout

	// KindIO is a local filesystem error during write or rename.
	KindIO

	// KindDigestMismatch means the computed MD5 differs from the
	// manifest digest.
	KindDigestMismatch

	// KindCancelled is user cancellation. Terminal, never retried.
	KindCancelled

	// KindUnhandled is anything the table above does not cover.
	KindUnhandled
)

// String returns the stable label used in logs and health records.
func (k ErrorKind) String() string {
	switch k {
	case KindNone:
		return "None"
	case KindClientStatus:
		return "ClientStatus4xx"
	case KindForbidden:
		return "Forbidden"
	case KindServerStatus:
		return "ServerStatus5xx"
	case KindConnReset:
		return "ConnectionReset"
	case KindSocket:
		return "OtherSocket"
	case KindTimeout:
		return "Timeout"
	case KindIO:
		return "IOError"
	case KindDigestMismatch:
		return "DigestMismatch"
	case KindCancelled:
		return "Cancelled"
	default:
		return "Unhandled"
	}
}

// Retryable reports whether a failure of this kind should be retried.
func (k ErrorKind) Retryable() bool {
	switch k {
	case KindForbidden, KindCancelled, KindNone:
		return false
	}
	return true
}

// Backoff returns the fixed delay to sleep before retrying a failure
// of this kind. Zero for kinds that are not retried.
func (k ErrorKind) Backoff() time.Duration {
	switch k {
	case KindConnReset, KindIO, KindDigestMismatch:
		return 500 * time.Millisecond
	case KindServerStatus, KindSocket, KindTimeout, KindUnhandled:
		return time.Second
	case KindClientStatus:
		return 2 * time.Second
	default:
		return 0
	}
}

// ClassifyStatus maps a non-2xx HTTP status code to an error kind.
func ClassifyStatus(code int) ErrorKind {
	switch {
	case code >= 200 && code < 300:
		return KindNone
	case code == http.StatusForbidden:
		return KindForbidden
	case code >= 500:
		return KindServerStatus
	case code >= 400:
		return KindClientStatus
	default:
		// 1xx/3xx should not reach us with redirects enabled.
		return KindUnhandled
	}
}

// Classify maps a transport or local error to an error kind.
// Context cancellation wins over everything else so that shutdown
// is never mistaken for a network failure.
func Classify(err error) ErrorKind {
	if err == nil {
		return KindNone
	}
	if errors.Is(err, context.Canceled) {
		return KindCancelled
	}
	if errors.Is(err, syscall.ECONNRESET) {
		return KindConnReset
	}

	// Checked before net.Error: the syscall.Errno inside a PathError
	// also satisfies net.Error.
	var pathErr *os.PathError
	if errors.As(err, &pathErr) {
		return KindIO
	}

	var netErr net.Error
	if errors.As(err, &netErr) {
		if netErr.Timeout() {
			return KindTimeout
		}
		return KindSocket
	}
	if errors.Is(err, context.DeadlineExceeded) || os.IsTimeout(err) {
		return KindTimeout
	}

	var opErr *net.OpError
	if errors.As(err, &opErr) {
		return KindSocket
	}

	return KindUnhandled
}

// UnhandledLabel formats the health-record label for an unclassified
// error, preserving the concrete type for diagnosis.
func UnhandledLabel(err error) string {
	return fmt.Sprintf("Unhandled_%T", err)
}
