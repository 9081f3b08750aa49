package access

import (
	"context"
	"errors"
	"testing"

	"github.com/taskpal/backend/internal/channel"
)

func memberOf(workspaces ...string) MembershipLookup {
	set := make(map[string]bool, len(workspaces))
	for _, w := range workspaces {
		set[w] = true
	}
	return func(_ context.Context, _, workspaceID string) (bool, error) {
		return set[workspaceID], nil
	}
}

func TestAuthorizeUserChannels(t *testing.T) {
	ctx := context.Background()

	tests := []struct {
		name   string
		userID string
		key    channel.Key
		want   bool
	}{
		{"own notifications", "alice", channel.UserNotifications("alice"), true},
		{"someone else's notifications", "bob", channel.UserNotifications("alice"), false},
		{"own arbitrary user qualifier", "alice", channel.Key{Kind: channel.KindUser, ID: "alice", Qualifier: "presence"}, true},
		{"bare user key, own id", "alice", channel.Key{Kind: channel.KindUser, ID: "alice"}, false},
		{"bare user key, other id", "bob", channel.Key{Kind: channel.KindUser, ID: "alice"}, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			// Membership facts are irrelevant for user channels.
			if got := Authorize(ctx, tt.userID, tt.key, memberOf()); got != tt.want {
				t.Errorf("Authorize() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestAuthorizeWorkspaceChannels(t *testing.T) {
	ctx := context.Background()
	lookup := memberOf("w1")

	tests := []struct {
		name string
		key  channel.Key
		want bool
	}{
		{"member of workspace", channel.Workspace("w1"), true},
		{"member, qualified channel", channel.WorkspaceMembers("w1"), true},
		{"non-member workspace", channel.Workspace("w2"), false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Authorize(ctx, "alice", tt.key, lookup); got != tt.want {
				t.Errorf("Authorize(%v) = %v, want %v", tt.key, got, tt.want)
			}
		})
	}
}

func TestAuthorizeDeniesOtherNamespaces(t *testing.T) {
	ctx := context.Background()
	lookup := memberOf("w1")

	for _, key := range []channel.Key{
		channel.Page("p1"),
		channel.PageComments("p1"),
		channel.Block("b1"),
	} {
		if Authorize(ctx, "alice", key, lookup) {
			t.Errorf("Authorize(%v) = true, want deny", key)
		}
	}
}

func TestAuthorizeFailsClosedOnLookupError(t *testing.T) {
	ctx := context.Background()
	broken := func(_ context.Context, _, _ string) (bool, error) {
		return true, errors.New("store unavailable")
	}

	if Authorize(ctx, "alice", channel.Workspace("w1"), broken) {
		t.Error("Authorize() = true on lookup error, want deny (fail closed)")
	}
}

func TestAuthorizeNilLookupDeniesWorkspace(t *testing.T) {
	if Authorize(context.Background(), "alice", channel.Workspace("w1"), nil) {
		t.Error("Authorize() = true with nil lookup, want deny")
	}
}

func TestMembershipReevaluatedPerCall(t *testing.T) {
	ctx := context.Background()
	active := true
	lookup := func(_ context.Context, _, _ string) (bool, error) {
		return active, nil
	}

	if !Authorize(ctx, "alice", channel.Workspace("w1"), lookup) {
		t.Fatal("expected allow while membership is active")
	}

	active = false
	if Authorize(ctx, "alice", channel.Workspace("w1"), lookup) {
		t.Error("expected deny after membership revoked")
	}
}
