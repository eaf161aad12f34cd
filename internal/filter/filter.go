// Package filter decides whether an inbound sender may reach the
// conversation pipeline, based on the tenant's blacklist and test allowlist.
package filter

import (
	"context"
	"errors"
	"log/slog"

	"github.com/vnatgroup/wabridge/internal/directory"
)

// Verdict is the outcome of an access check.
type Verdict int

const (
	// Allow: the message proceeds to the pipeline.
	Allow Verdict = iota
	// DenyBlacklisted: the sender is on the tenant's blacklist.
	DenyBlacklisted
	// DenyNotInTest: the tenant is in test mode and the sender is not enrolled.
	DenyNotInTest
)

func (v Verdict) String() string {
	switch v {
	case Allow:
		return "allow"
	case DenyBlacklisted:
		return "blacklisted"
	case DenyNotInTest:
		return "not_in_test"
	}
	return "unknown"
}

// AccessFilter checks senders against the tenant directory. Directory read
// failures fail open: delivering to an unverified sender is recoverable,
// silently dropping a legitimate customer is not.
type AccessFilter struct {
	dir directory.Directory
}

func New(dir directory.Directory) *AccessFilter {
	return &AccessFilter{dir: dir}
}

// Check evaluates the sender. The blacklist wins over the test allowlist:
// a blacklisted sender is denied even when enrolled in test mode.
func (f *AccessFilter) Check(ctx context.Context, tenantID, userID string) Verdict {
	user := directory.Normalize(userID)

	blacklist, err := f.dir.Blacklist(ctx, tenantID)
	switch {
	case errors.Is(err, directory.ErrNotFound):
		// No directory entry means no policy: everything is allowed.
		return Allow
	case err != nil:
		slog.Warn("blacklist read failed, allowing sender", "tenant", tenantID, "error", err)
	case directory.Contains(blacklist, user):
		return DenyBlacklisted
	}

	testList, err := f.dir.TestList(ctx, tenantID)
	if err != nil {
		if !errors.Is(err, directory.ErrNotFound) {
			slog.Warn("test list read failed, skipping test gate", "tenant", tenantID, "error", err)
		}
		return Allow
	}
	// An empty test list means the tenant is live for everyone.
	if len(testList) > 0 && !directory.Contains(testList, user) {
		return DenyNotInTest
	}
	return Allow
}
