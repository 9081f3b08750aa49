// Package channel defines the typed channel keys used for routing and
// authorization. Keys are parsed once at the boundary so the rest of the
// system never re-splits raw strings.
package channel

import (
	"errors"
	"fmt"
	"strings"
)

// ErrInvalidKey is returned when a string does not parse as a known channel key.
var ErrInvalidKey = errors.New("invalid channel key")

// Kind identifies the namespace a channel key belongs to.
type Kind string

const (
	KindUser      Kind = "user"
	KindWorkspace Kind = "workspace"
	KindPage      Kind = "page"
	KindBlock     Kind = "block"
)

// Key is a parsed channel key. ID is the entity identifier for the namespace
// and Qualifier is the optional trailing segment (e.g. "notifications",
// "comments", "members").
type Key struct {
	Kind      Kind
	ID        string
	Qualifier string
}

// QualifierNotifications is the per-user notification stream qualifier.
const QualifierNotifications = "notifications"

// QualifierComments is the per-page comment stream qualifier.
const QualifierComments = "comments"

// UserNotifications returns the notification channel key for a user.
func UserNotifications(userID string) Key {
	return Key{Kind: KindUser, ID: userID, Qualifier: QualifierNotifications}
}

// Workspace returns the main channel key for a workspace.
func Workspace(workspaceID string) Key {
	return Key{Kind: KindWorkspace, ID: workspaceID}
}

// WorkspaceMembers returns the membership-change channel key for a workspace.
func WorkspaceMembers(workspaceID string) Key {
	return Key{Kind: KindWorkspace, ID: workspaceID, Qualifier: "members"}
}

// Page returns the main channel key for a page.
func Page(pageID string) Key {
	return Key{Kind: KindPage, ID: pageID}
}

// PageComments returns the comment channel key for a page.
func PageComments(pageID string) Key {
	return Key{Kind: KindPage, ID: pageID, Qualifier: QualifierComments}
}

// Block returns the channel key for a block.
func Block(blockID string) Key {
	return Key{Kind: KindBlock, ID: blockID}
}

// Parse converts a raw channel string into a Key. Accepted forms are
// "<kind>:<id>" and "<kind>:<id>:<qualifier>" where kind is one of user,
// workspace, page or block. Anything else fails with ErrInvalidKey.
func Parse(raw string) (Key, error) {
	parts := strings.Split(raw, ":")
	if len(parts) < 2 || len(parts) > 3 {
		return Key{}, fmt.Errorf("%w: %q", ErrInvalidKey, raw)
	}

	kind := Kind(parts[0])
	switch kind {
	case KindUser, KindWorkspace, KindPage, KindBlock:
	default:
		return Key{}, fmt.Errorf("%w: unknown namespace %q", ErrInvalidKey, parts[0])
	}

	if parts[1] == "" {
		return Key{}, fmt.Errorf("%w: empty id in %q", ErrInvalidKey, raw)
	}

	key := Key{Kind: kind, ID: parts[1]}
	if len(parts) == 3 {
		if parts[2] == "" {
			return Key{}, fmt.Errorf("%w: empty qualifier in %q", ErrInvalidKey, raw)
		}
		key.Qualifier = parts[2]
	}
	return key, nil
}

// String renders the key back to its wire form.
func (k Key) String() string {
	if k.Qualifier == "" {
		return string(k.Kind) + ":" + k.ID
	}
	return string(k.Kind) + ":" + k.ID + ":" + k.Qualifier
}
