package services

import (
	"errors"

	"github.com/online-library/apiserver/internal/auth"
)

var (
	// ErrEmailTaken is returned by Register for an address that already has an account.
	ErrEmailTaken = errors.New("email already registered")
	// ErrInvalidCredentials is the single login failure; it never says which part was wrong.
	ErrInvalidCredentials = errors.New("invalid email or password")
	// ErrInvalidToken is returned for any unusable session token.
	ErrInvalidToken = auth.ErrInvalidToken
	ErrUserNotFound = errors.New("user not found")
	ErrBookNotFound = errors.New("book not found")
	ErrISBNTaken    = errors.New("isbn already exists")
)
