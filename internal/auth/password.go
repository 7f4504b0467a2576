package auth

import (
	"golang.org/x/crypto/bcrypt"
)

// PasswordHasher produces and checks one-way password digests.
type PasswordHasher struct {
	cost  int
	dummy []byte
}

// NewPasswordHasher returns a bcrypt hasher. A cost of 0 selects bcrypt.DefaultCost.
func NewPasswordHasher(cost int) *PasswordHasher {
	if cost == 0 {
		cost = bcrypt.DefaultCost
	}
	if cost < bcrypt.MinCost {
		cost = bcrypt.MinCost
	}
	if cost > bcrypt.MaxCost {
		cost = bcrypt.MaxCost
	}

	// Compared against when the account does not exist so both failure paths cost the same.
	dummy, _ := bcrypt.GenerateFromPassword([]byte("library-dummy-password"), cost)
	return &PasswordHasher{cost: cost, dummy: dummy}
}

// Hash returns the digest of password.
func (h *PasswordHasher) Hash(password string) (string, error) {
	hashed, err := bcrypt.GenerateFromPassword([]byte(password), h.cost)
	if err != nil {
		return "", err
	}
	return string(hashed), nil
}

// Verify reports whether password matches digest.
func (h *PasswordHasher) Verify(password, digest string) bool {
	return bcrypt.CompareHashAndPassword([]byte(digest), []byte(password)) == nil
}

// VerifyDummy burns the same time as Verify without a real digest.
func (h *PasswordHasher) VerifyDummy(password string) {
	_ = bcrypt.CompareHashAndPassword(h.dummy, []byte(password))
}
