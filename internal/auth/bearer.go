// Package auth implements the static bearer-token check that guards the proxy.
package auth

import (
	"crypto/subtle"
	"strings"
)

// Reason classifies why a request was not authorized.
type Reason string

const (
	// ReasonMissing means no Authorization header, or an empty one, was sent.
	ReasonMissing Reason = "missing"
	// ReasonMalformed means the header did not split into scheme and token.
	ReasonMalformed Reason = "malformed"
	// ReasonInvalidScheme means a scheme other than Bearer was used.
	ReasonInvalidScheme Reason = "invalid-scheme"
	// ReasonInvalidToken means the bearer token did not match the configured key.
	ReasonInvalidToken Reason = "invalid-token"
)

// Error is returned by Check when the Authorization header is rejected.
// It never carries the presented token or the configured secret.
type Error struct {
	Reason Reason
}

func (e *Error) Error() string {
	return "unauthorized: " + string(e.Reason)
}

// Message returns the human-readable text sent back to the client.
func (e *Error) Message() string {
	switch e.Reason {
	case ReasonMissing:
		return "Authorization header is missing"
	case ReasonMalformed:
		return "Invalid Authorization header format. Use 'Bearer <token>'."
	case ReasonInvalidScheme:
		return "Unsupported authorization scheme. Use 'Bearer <token>'."
	default:
		return "Invalid API key"
	}
}

// Authenticator validates bearer tokens against a single shared secret.
// It holds no mutable state and is safe for concurrent use.
type Authenticator struct {
	key    []byte
	exempt map[string]struct{}
}

// New creates an Authenticator for key. Requests whose path exactly matches
// one of exemptPaths bypass the check.
func New(key string, exemptPaths []string) *Authenticator {
	exempt := make(map[string]struct{}, len(exemptPaths))
	for _, p := range exemptPaths {
		exempt[p] = struct{}{}
	}
	return &Authenticator{key: []byte(key), exempt: exempt}
}

// Exempt reports whether path is served without authentication.
func (a *Authenticator) Exempt(path string) bool {
	_, ok := a.exempt[path]
	return ok
}

// Check validates the raw Authorization header value. An empty value is
// treated as a missing header. It returns nil when the request is authorized
// and an *Error otherwise.
func (a *Authenticator) Check(value string) error {
	if value == "" {
		return &Error{Reason: ReasonMissing}
	}

	parts := strings.Split(value, " ")
	if len(parts) != 2 {
		return &Error{Reason: ReasonMalformed}
	}
	scheme, token := parts[0], parts[1]

	if !strings.EqualFold(scheme, "bearer") {
		return &Error{Reason: ReasonInvalidScheme}
	}
	if subtle.ConstantTimeCompare([]byte(token), a.key) != 1 {
		return &Error{Reason: ReasonInvalidToken}
	}
	return nil
}
