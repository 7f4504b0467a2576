package types

import (
	"strings"
	"time"
)

// Role is the authorization level of an account.
type Role string

const (
	RoleClient Role = "client"
	RoleAdmin  Role = "admin"
)

// Valid reports whether r is a known role.
func (r Role) Valid() bool {
	return r == RoleClient || r == RoleAdmin
}

// ParseRole converts free text into a Role.
func ParseRole(value string) (Role, bool) {
	role := Role(strings.ToLower(strings.TrimSpace(value)))
	return role, role.Valid()
}

// User represents an account in the library.
type User struct {
	// ID is the unique identifier of the user.
	ID int `json:"id" db:"id"`

	// Email is the normalized (trimmed, lower-cased) login address.
	Email string `json:"email" db:"email"`

	// Role is changed only by an administrative action, never by the user.
	Role Role `json:"role" db:"role"`

	// PasswordHash stores the bcrypt digest of the password.
	// This field is never exposed in API responses.
	PasswordHash string `json:"-" db:"password_hash"`

	// CreatedAt is the timestamp when the account was registered.
	CreatedAt time.Time `json:"created_at" db:"created_at"`
}

// NormalizeEmail trims and lower-cases an address before any comparison or storage.
func NormalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}
