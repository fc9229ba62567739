// Package auth carries the resolved caller identity and the access-control
// predicates consulted by the services.
package auth

import (
	"fmt"

	"github.com/attestia/be-evidence-exchange/internal/apperr"
)

// Role is the caller's role within the exchange.
type Role string

const (
	RoleBuyer   Role = "buyer"
	RoleFactory Role = "factory"
)

// Valid reports whether r is a known role.
func (r Role) Valid() bool {
	return r == RoleBuyer || r == RoleFactory
}

// Identity is the authenticated caller. FactoryID is set exactly when the
// role is factory; a buyer identity never carries one.
type Identity struct {
	UserID    string
	Role      Role
	FactoryID string
}

// RequireRole fails unless the identity holds the given role.
func RequireRole(id Identity, role Role) error {
	if id.Role != role {
		return apperr.Unauthorized(fmt.Sprintf("requires %s role", role))
	}
	return nil
}

// RequireOwnership fails unless the identity's factory owns the resource.
// This is the cross-factory isolation guarantee on the write side; request
// listing applies the same scope as a query filter.
func RequireOwnership(resourceFactoryID string, id Identity) error {
	if resourceFactoryID != id.FactoryID {
		return apperr.Unauthorized("resource belongs to another factory")
	}
	return nil
}
