// Package access resolves request identities and evaluates the authorization guards
// that sit in front of every domain operation.
package access

import (
	"studyhub/internal/database"
	"studyhub/internal/errcode"
)

// Identity is the caller of a request after token resolution.
type Identity struct {
	UserID             uint
	Email              string
	Role               string
	MustChangePassword bool
	HasUploaderProfile bool
	UploaderApproved   bool
}

// Anonymous is the identity of a caller without a valid token.
var Anonymous = Identity{}

// FromUser builds an identity from a stored user with its uploader profile preloaded.
func FromUser(u *database.User) Identity {
	id := Identity{
		UserID:             u.ID,
		Email:              u.Email,
		Role:               u.Role,
		MustChangePassword: u.MustChangePassword,
	}
	if u.UploaderProfile != nil {
		id.HasUploaderProfile = true
		id.UploaderApproved = u.UploaderProfile.IsApproved
	}
	return id
}

// IsAuthenticated reports whether the identity maps to a user row.
func (i Identity) IsAuthenticated() bool { return i.UserID != 0 }

// IsAdmin reports whether the identity carries the ADMIN role.
func (i Identity) IsAdmin() bool { return i.IsAuthenticated() && i.Role == database.RoleAdmin }

// IsApprovedUploader reports whether the identity may upload sheets.
func (i Identity) IsApprovedUploader() bool {
	return i.IsAuthenticated() && i.HasUploaderProfile && i.UploaderApproved
}

// Owns reports whether the identity is the given owner.
func (i Identity) Owns(ownerID uint) bool { return i.IsAuthenticated() && i.UserID == ownerID }

// Guard passes (nil) or returns an *errcode.Error describing the refusal.
type Guard func(Identity) error

// RequireAuthenticated fails Unauthorized for anonymous callers.
func RequireAuthenticated(i Identity) error {
	if !i.IsAuthenticated() {
		return errcode.New(errcode.Unauthorized, "authentication required")
	}
	return nil
}

// RequireAdmin fails Forbidden unless the caller is an admin.
func RequireAdmin(i Identity) error {
	if err := RequireAuthenticated(i); err != nil {
		return err
	}
	if !i.IsAdmin() {
		return errcode.New(errcode.Forbidden, "admin access required")
	}
	return nil
}

// RequireApprovedUploader fails Forbidden unless the caller has an approved uploader profile.
func RequireApprovedUploader(i Identity) error {
	if err := RequireAuthenticated(i); err != nil {
		return err
	}
	if !i.HasUploaderProfile {
		return errcode.New(errcode.Forbidden, "uploader profile required")
	}
	if !i.UploaderApproved {
		return errcode.New(errcode.Forbidden, "uploader profile is not approved yet")
	}
	return nil
}

// All composes guards; the first refusal wins.
func All(guards ...Guard) Guard {
	return func(i Identity) error {
		for _, g := range guards {
			if err := g(i); err != nil {
				return err
			}
		}
		return nil
	}
}
