// Package authz holds the ownership check shared by every mutating operation
// on posts and comments.
package authz

import "marketplace/internal/models"

// Allow reports whether callerID may mutate a resource owned by ownerID.
// Zero is never a valid identity on either side.
func Allow(ownerID, callerID uint) bool {
	return ownerID != 0 && callerID != 0 && ownerID == callerID
}

// Guard turns the ownership decision into the application error taxonomy.
type Guard struct{}

// Check returns nil when callerID owns the resource, UNAUTHENTICATED when the
// caller is unresolved and FORBIDDEN otherwise.
func (Guard) Check(resource string, ownerID, callerID uint) error {
	if callerID == 0 {
		return models.NewUnauthenticatedError("Caller identity could not be resolved")
	}
	if !Allow(ownerID, callerID) {
		return models.NewForbiddenError("Only the owner may modify this " + resource)
	}
	return nil
}
