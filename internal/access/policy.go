// Package access decides whether a user may read a channel. The policy is
// stateless: membership facts come from an injected lookup and are consulted
// fresh on every call, so membership changes take effect on the next attempt.
package access

import (
	"context"
	"log/slog"

	"github.com/taskpal/backend/internal/channel"
)

// MembershipLookup reports whether userID holds an active membership in the
// given workspace. It is owned by the persistence layer, not by this package.
type MembershipLookup func(ctx context.Context, userID, workspaceID string) (bool, error)

// Authorize reports whether userID may read the channel identified by key.
//
// Rules, first match wins:
//   - user:<uid>:*       — allowed iff uid equals userID
//   - workspace:<wid>[*] — allowed iff the lookup reports an active membership
//   - anything else      — denied
//
// A failing lookup denies: the policy fails closed when the membership source
// is unavailable.
func Authorize(ctx context.Context, userID string, key channel.Key, lookup MembershipLookup) bool {
	switch key.Kind {
	case channel.KindUser:
		// The user namespace always carries a qualifier (user:<uid>:notifications);
		// a bare user:<uid> key names no channel anyone may read.
		return key.Qualifier != "" && key.ID == userID

	case channel.KindWorkspace:
		if lookup == nil {
			return false
		}
		member, err := lookup(ctx, userID, key.ID)
		if err != nil {
			slog.WarnContext(ctx, "membership lookup failed, denying access",
				slog.String("user_id", userID),
				slog.String("workspace_id", key.ID),
				slog.String("error", err.Error()))
			return false
		}
		return member

	default:
		return false
	}
}
