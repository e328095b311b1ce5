package client

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"syscall"
)

// Kind classifies an upstream failure by where it happened.
type Kind string

const (
	// KindUnreachable means no connection could be established (refused, DNS, no route).
	KindUnreachable Kind = "unreachable"
	// KindTimeout means the connection was made but waiting for or reading
	// the response failed or stalled.
	KindTimeout Kind = "timeout"
	// KindCanceled means the inbound request went away before upstream answered.
	KindCanceled Kind = "canceled"
	// KindOther covers anything else, such as malformed upstream responses.
	KindOther Kind = "other"
)

// UpstreamError describes a failed round trip to the upstream.
type UpstreamError struct {
	Kind Kind
	URL  string // configured upstream base URL
	Err  error
}

func (e *UpstreamError) Error() string {
	switch e.Kind {
	case KindUnreachable:
		return fmt.Sprintf("Cannot connect to upstream service at %s. Error: %v", e.URL, e.Err)
	case KindTimeout:
		return fmt.Sprintf("Timeout or read error from upstream service. Error: %v", e.Err)
	case KindCanceled:
		return fmt.Sprintf("Client disconnected before upstream responded. Error: %v", e.Err)
	default:
		return fmt.Sprintf("Upstream request to %s failed. Error: %v", e.URL, e.Err)
	}
}

func (e *UpstreamError) Unwrap() error { return e.Err }

// StatusCode returns the HTTP status the proxy answers with for this failure.
func (e *UpstreamError) StatusCode() int {
	if e.Kind == KindTimeout {
		return http.StatusGatewayTimeout
	}
	return http.StatusBadGateway
}

// Classify maps an error from http.Client.Do to a Kind.
func Classify(err error) Kind {
	if errors.Is(err, context.Canceled) {
		return KindCanceled
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return KindTimeout
	}

	var dnsErr *net.DNSError
	if errors.As(err, &dnsErr) {
		return KindUnreachable
	}
	var opErr *net.OpError
	if errors.As(err, &opErr) && opErr.Op == "dial" {
		return KindUnreachable
	}
	if errors.Is(err, syscall.ECONNREFUSED) || errors.Is(err, syscall.EHOSTUNREACH) || errors.Is(err, syscall.ENETUNREACH) {
		return KindUnreachable
	}

	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return KindTimeout
	}
	if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) || errors.Is(err, syscall.ECONNRESET) {
		return KindTimeout
	}
	if errors.As(err, &opErr) && opErr.Op == "read" {
		return KindTimeout
	}

	return KindOther
}
