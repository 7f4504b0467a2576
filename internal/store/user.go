package store

import (
	"context"
	"database/sql"
	"time"

	"github.com/online-library/apiserver/types"
)

// UserRepository handles persistence for users.
type UserRepository struct {
	db *sql.DB
}

func NewUserRepository(db *sql.DB) *UserRepository {
	return &UserRepository{db: db}
}

func (r *UserRepository) GetByID(ctx context.Context, id int) (types.User, error) {
	const query = `
		SELECT id, email, role, password_hash, created_at
		FROM users
		WHERE id = $1`
	return scanUser(r.db.QueryRowContext(ctx, query, id))
}

// GetByEmail expects an already normalized address.
func (r *UserRepository) GetByEmail(ctx context.Context, email string) (types.User, error) {
	const query = `
		SELECT id, email, role, password_hash, created_at
		FROM users
		WHERE email = $1`
	return scanUser(r.db.QueryRowContext(ctx, query, email))
}

// Create inserts user and returns it with its assigned id.
// A duplicate email yields ErrConflict.
func (r *UserRepository) Create(ctx context.Context, user types.User) (types.User, error) {
	user.CreatedAt = time.Now().UTC()
	if user.Role == "" {
		user.Role = types.RoleClient
	}

	const query = `
		INSERT INTO users (email, role, password_hash, created_at)
		VALUES ($1, $2, $3, $4)
		RETURNING id`
	if err := r.db.QueryRowContext(
		ctx,
		query,
		user.Email,
		user.Role,
		user.PasswordHash,
		user.CreatedAt,
	).Scan(&user.ID); err != nil {
		return types.User{}, translateError(err)
	}
	return user, nil
}

// UpdateRole sets the role of the user identified by email.
func (r *UserRepository) UpdateRole(ctx context.Context, email string, role types.Role) (types.User, error) {
	const query = `
		UPDATE users
		SET role = $1
		WHERE email = $2
		RETURNING id, email, role, password_hash, created_at`
	return scanUser(r.db.QueryRowContext(ctx, query, role, email))
}

func scanUser(row *sql.Row) (types.User, error) {
	var user types.User
	err := row.Scan(
		&user.ID,
		&user.Email,
		&user.Role,
		&user.PasswordHash,
		&user.CreatedAt,
	)
	if err != nil {
		return types.User{}, translateError(err)
	}
	return user, nil
}
