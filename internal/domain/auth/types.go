package auth

// Package auth contains domain-level types for authentication and client sessions.
// It is pure and free of framework/adapter concerns.

import (
	"encoding/json"
	"strings"
	"time"
)

// Role represents a named capability granted to a user.
// Comparison between roles is case-insensitive; the constants below are the canonical spelling.
type Role string

const (
	RoleAdmin   Role = "Admin"
	RoleDoctor  Role = "Doctor"
	RolePatient Role = "Patient"
)

// Equal reports whether r and other name the same role, ignoring case.
func (r Role) Equal(other Role) bool {
	return strings.EqualFold(string(r), string(other))
}

// Canonical returns the canonical spelling for known roles (ADMIN -> Admin).
// Unknown roles are returned trimmed but otherwise unchanged.
func (r Role) Canonical() Role {
	trimmed := Role(strings.TrimSpace(string(r)))
	for _, known := range []Role{RoleAdmin, RoleDoctor, RolePatient} {
		if trimmed.Equal(known) {
			return known
		}
	}
	return trimmed
}

// Roles is the set of roles held by a user.
type Roles []Role

// Has reports whether the set contains role, ignoring case.
func (rs Roles) Has(role Role) bool {
	for _, r := range rs {
		if r.Equal(role) {
			return true
		}
	}
	return false
}

// Contains reports whether the set contains role with exactly the same spelling.
func (rs Roles) Contains(role Role) bool {
	for _, r := range rs {
		if r == role {
			return true
		}
	}
	return false
}

// Identity is the resolved user record associated with a token.
type Identity struct {
	ID                    string    `json:"id"`
	FullName              string    `json:"fullName"`
	Email                 string    `json:"email"`
	PhoneNumber           string    `json:"phoneNumber,omitempty"`
	Gender                string    `json:"gender,omitempty"`
	BloodType             string    `json:"bloodType,omitempty"`
	Address               string    `json:"address,omitempty"`
	DateOfBirth           string    `json:"dateOfBirth,omitempty"`
	EmergencyContactName  string    `json:"emergencyContactName,omitempty"`
	EmergencyContactPhone string    `json:"emergencyContactPhone,omitempty"`
	Roles                 Roles     `json:"-"`
	CreatedAt             time.Time `json:"createdAt,omitzero"`
	UpdatedAt             time.Time `json:"updatedAt,omitzero"`
}

// roleRef is the wire shape of a role entry: {"name": "Admin"}.
type roleRef struct {
	Name string `json:"name"`
}

type identityAlias Identity

type identityWire struct {
	identityAlias
	Roles []roleRef `json:"roles,omitempty"`
	Role  string    `json:"role,omitempty"`
}

// MarshalJSON encodes roles as a list of {"name": ...} objects.
func (i Identity) MarshalJSON() ([]byte, error) {
	w := identityWire{identityAlias: identityAlias(i)}
	for _, r := range i.Roles {
		w.Roles = append(w.Roles, roleRef{Name: string(r)})
	}
	return json.Marshal(w)
}

// UnmarshalJSON accepts both "roles": [{"name": "Admin"}] and the single-valued
// "role": "ADMIN" form. Known role names are normalised to their canonical spelling.
func (i *Identity) UnmarshalJSON(data []byte) error {
	var w identityWire
	if err := json.Unmarshal(data, &w); err != nil {
		return err
	}
	*i = Identity(w.identityAlias)
	i.Roles = nil
	for _, r := range w.Roles {
		if strings.TrimSpace(r.Name) == "" {
			continue
		}
		i.Roles = append(i.Roles, Role(r.Name).Canonical())
	}
	if w.Role != "" && !i.Roles.Has(Role(w.Role)) {
		i.Roles = append(i.Roles, Role(w.Role).Canonical())
	}
	return nil
}

// Clone returns a deep copy of the identity.
func (i Identity) Clone() Identity {
	out := i
	out.Roles = append(Roles(nil), i.Roles...)
	return out
}

// Session is a point-in-time view of the client session.
// A token alone (restored from storage before the identity is fetched) is not authenticated.
type Session struct {
	Token     string
	User      *Identity
	IsLoading bool
}

// HasToken returns true if a token is held.
func (s Session) HasToken() bool { return s.Token != "" }

// IsAuthenticated returns true only when both a token and a resolved identity are present.
func (s Session) IsAuthenticated() bool { return s.Token != "" && s.User != nil }

// UserRoles returns the current user's roles, or nil when there is no user.
func (s Session) UserRoles() Roles {
	if s.User == nil {
		return nil
	}
	return s.User.Roles
}

// Credentials carries an email/password login.
type Credentials struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

// Registration carries the profile fields submitted when creating an account.
type Registration struct {
	Email                 string `json:"email"`
	Password              string `json:"password"`
	FullName              string `json:"fullName"`
	PhoneNumber           string `json:"phoneNumber,omitempty"`
	Gender                string `json:"gender,omitempty"`
	BloodType             string `json:"bloodType,omitempty"`
	Address               string `json:"address,omitempty"`
	DateOfBirth           string `json:"dateOfBirth,omitempty"`
	EmergencyContactName  string `json:"emergencyContactName,omitempty"`
	EmergencyContactPhone string `json:"emergencyContactPhone,omitempty"`
}

// AuthResult is returned by an identity provider after a successful login or registration.
type AuthResult struct {
	Token string   `json:"token"`
	User  Identity `json:"user"`
}
