// Package access classifies callers and decides whether they may perform an operation.
package access

import (
	"context"

	"github.com/online-library/apiserver/types"
)

// Kind is the caller classification.
type Kind int

const (
	Guest Kind = iota
	Authenticated
)

// Identity is resolved once per request and never mutated afterwards.
type Identity struct {
	kind   Kind
	userID int
	role   types.Role
}

// GuestIdentity is the caller that presented no usable credential.
func GuestIdentity() Identity {
	return Identity{kind: Guest}
}

// UserIdentity is an authenticated caller.
func UserIdentity(userID int, role types.Role) Identity {
	return Identity{kind: Authenticated, userID: userID, role: role}
}

func (i Identity) Kind() Kind { return i.kind }
func (i Identity) UserID() int { return i.userID }
func (i Identity) Role() types.Role { return i.role }
func (i Identity) IsGuest() bool { return i.kind == Guest }
func (i Identity) IsAdmin() bool { return i.kind == Authenticated && i.role == types.RoleAdmin }

// Capability is what an operation requires of its caller.
type Capability int

const (
	// Browse covers catalog list and detail.
	Browse Capability = iota
	// OwnFavorites covers reading and changing the caller's own favorites.
	OwnFavorites
	// ManageCatalog covers book create and delete.
	ManageCatalog
	// ExportCatalog covers the CSV export.
	ExportCatalog
)

// Decision is the gate's verdict.
type Decision int

const (
	Allow Decision = iota
	DenyUnauthenticated
	DenyForbidden
)

// Check decides whether id may use capability c.
func Check(id Identity, c Capability) Decision {
	switch c {
	case Browse:
		return Allow
	case OwnFavorites:
		if id.IsGuest() {
			return DenyUnauthenticated
		}
		return Allow
	case ManageCatalog, ExportCatalog:
		if id.IsGuest() {
			return DenyUnauthenticated
		}
		if !id.IsAdmin() {
			return DenyForbidden
		}
		return Allow
	default:
		if id.IsGuest() {
			return DenyUnauthenticated
		}
		return DenyForbidden
	}
}

type contextKey struct{}

// WithIdentity stores id in ctx.
func WithIdentity(ctx context.Context, id Identity) context.Context {
	return context.WithValue(ctx, contextKey{}, id)
}

// FromContext returns the identity stored in ctx, or a guest.
func FromContext(ctx context.Context) Identity {
	if id, ok := ctx.Value(contextKey{}).(Identity); ok {
		return id
	}
	return GuestIdentity()
}
