// Package directory provides access to per-tenant policy data: the blacklist
// and the test-mode allowlist, keyed by the tenant's outward-facing number.
//
// All identifiers are normalized before storage and comparison, so a number
// saved as "+34 555 123@c.us" and one arriving as "34555123" compare equal
// once both sides pass through Normalize.
package directory

import (
	"context"
	"errors"
	"strings"
)

// ErrNotFound is returned when a tenant has no directory entry at all.
// Callers treat it as "no policy configured", not as a failure.
var ErrNotFound = errors.New("directory: tenant not found")

// Directory is the tenant policy store.
type Directory interface {
	// Blacklist returns the tenant's blocked identifiers, normalized.
	Blacklist(ctx context.Context, tenantID string) ([]string, error)

	// TestList returns the tenant's test-mode allowlist, normalized.
	// An empty list means the tenant runs unrestricted.
	TestList(ctx context.Context, tenantID string) ([]string, error)

	// AppendBlacklist adds userID to the tenant's blacklist. Idempotent:
	// an identifier already present is not duplicated.
	AppendBlacklist(ctx context.Context, tenantID, userID string) error

	// Close releases the underlying store.
	Close() error
}

// Normalize canonicalizes a messaging identifier: transport suffixes
// ("@c.us", "@s.whatsapp.net", "@g.us") are stripped, as are a leading "+"
// and surrounding whitespace.
func Normalize(id string) string {
	id = strings.TrimSpace(id)
	for _, suffix := range []string{"@c.us", "@s.whatsapp.net", "@g.us"} {
		if strings.HasSuffix(id, suffix) {
			id = id[:len(id)-len(suffix)]
			break
		}
	}
	id = strings.TrimPrefix(id, "+")
	return strings.TrimSpace(id)
}

// NormalizeAll normalizes every identifier in a list, dropping empties.
func NormalizeAll(ids []string) []string {
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		if n := Normalize(id); n != "" {
			out = append(out, n)
		}
	}
	return out
}

// Contains reports whether the normalized form of id appears in list.
// The list is assumed normalized already.
func Contains(list []string, id string) bool {
	n := Normalize(id)
	for _, entry := range list {
		if entry == n {
			return true
		}
	}
	return false
}
