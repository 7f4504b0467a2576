package services

import (
	"context"
	"errors"
	"fmt"

	"github.com/online-library/apiserver/internal/auth"
	"github.com/online-library/apiserver/internal/metrics"
	"github.com/online-library/apiserver/internal/store"
	"github.com/online-library/apiserver/types"
)

// UserRepository defines persistence operations for users.
type UserRepository interface {
	GetByID(ctx context.Context, id int) (types.User, error)
	GetByEmail(ctx context.Context, email string) (types.User, error)
	Create(ctx context.Context, user types.User) (types.User, error)
	UpdateRole(ctx context.Context, email string, role types.Role) (types.User, error)
}

// UserService registers and authenticates accounts and resolves session tokens.
type UserService struct {
	repo   UserRepository
	hasher *auth.PasswordHasher
	tokens *auth.TokenIssuer
}

func NewUserService(repo UserRepository, hasher *auth.PasswordHasher, tokens *auth.TokenIssuer) *UserService {
	return &UserService{
		repo:   repo,
		hasher: hasher,
		tokens: tokens,
	}
}

// Register creates a client account. A duplicate email, whether caught by the
// lookup or by the unique index under a concurrent insert, is ErrEmailTaken.
func (s *UserService) Register(ctx context.Context, email, password string) (types.User, error) {
	email = types.NormalizeEmail(email)

	if _, err := s.repo.GetByEmail(ctx, email); err == nil {
		return types.User{}, ErrEmailTaken
	} else if !errors.Is(err, store.ErrNotFound) {
		return types.User{}, fmt.Errorf("check email: %w", err)
	}

	digest, err := s.hasher.Hash(password)
	if err != nil {
		return types.User{}, fmt.Errorf("hash password: %w", err)
	}

	user, err := s.repo.Create(ctx, types.User{
		Email:        email,
		Role:         types.RoleClient,
		PasswordHash: digest,
	})
	if err != nil {
		if errors.Is(err, store.ErrConflict) {
			return types.User{}, ErrEmailTaken
		}
		return types.User{}, fmt.Errorf("create user: %w", err)
	}
	return user, nil
}

// Authenticate returns a session token for valid credentials.
// Unknown email and wrong password both yield ErrInvalidCredentials.
func (s *UserService) Authenticate(ctx context.Context, email, password string) (string, error) {
	user, err := s.repo.GetByEmail(ctx, types.NormalizeEmail(email))
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			s.hasher.VerifyDummy(password)
			metrics.LoginsTotal.WithLabelValues("invalid").Inc()
			return "", ErrInvalidCredentials
		}
		metrics.LoginsTotal.WithLabelValues("error").Inc()
		return "", fmt.Errorf("load user: %w", err)
	}

	if !s.hasher.Verify(password, user.PasswordHash) {
		metrics.LoginsTotal.WithLabelValues("invalid").Inc()
		return "", ErrInvalidCredentials
	}

	token, err := s.tokens.Issue(user.ID, user.Role)
	if err != nil {
		metrics.LoginsTotal.WithLabelValues("error").Inc()
		return "", fmt.Errorf("issue token: %w", err)
	}
	metrics.LoginsTotal.WithLabelValues("success").Inc()
	return token, nil
}

// Identify verifies token and loads its user, so the returned role reflects
// changes made after the token was issued.
func (s *UserService) Identify(ctx context.Context, token string) (types.User, error) {
	subject, err := s.tokens.Verify(token)
	if err != nil {
		return types.User{}, ErrInvalidToken
	}

	user, err := s.repo.GetByID(ctx, subject.UserID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return types.User{}, ErrInvalidToken
		}
		return types.User{}, fmt.Errorf("load user: %w", err)
	}
	return user, nil
}

func (s *UserService) GetByID(ctx context.Context, id int) (types.User, error) {
	user, err := s.repo.GetByID(ctx, id)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return types.User{}, ErrUserNotFound
		}
		return types.User{}, err
	}
	return user, nil
}

// SetRole changes the role of the account with email. It reports whether
// anything changed; setting the current role again is not an error.
func (s *UserService) SetRole(ctx context.Context, email string, role types.Role) (types.User, bool, error) {
	if !role.Valid() {
		return types.User{}, false, fmt.Errorf("unknown role %q", role)
	}
	email = types.NormalizeEmail(email)

	user, err := s.repo.GetByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return types.User{}, false, ErrUserNotFound
		}
		return types.User{}, false, fmt.Errorf("load user: %w", err)
	}
	if user.Role == role {
		return user, false, nil
	}

	user, err = s.repo.UpdateRole(ctx, email, role)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return types.User{}, false, ErrUserNotFound
		}
		return types.User{}, false, fmt.Errorf("update role: %w", err)
	}
	return user, true, nil
}
