package store

import (
	"context"
	"database/sql"
	"time"

	"github.com/online-library/apiserver/types"
)

// FavoriteRepository handles persistence for the per-user favorites relation.
type FavoriteRepository struct {
	db *sql.DB
}

func NewFavoriteRepository(db *sql.DB) *FavoriteRepository {
	return &FavoriteRepository{db: db}
}

func (r *FavoriteRepository) Has(ctx context.Context, userID, bookID int) (bool, error) {
	const query = `SELECT EXISTS (SELECT 1 FROM favorites WHERE user_id = $1 AND book_id = $2)`
	var exists bool
	if err := r.db.QueryRowContext(ctx, query, userID, bookID).Scan(&exists); err != nil {
		return false, err
	}
	return exists, nil
}

// Add inserts the (user, book) pair. The composite primary key turns a
// concurrent duplicate into ErrConflict; a missing user or book into ErrNotFound.
func (r *FavoriteRepository) Add(ctx context.Context, userID, bookID int) error {
	const query = `
		INSERT INTO favorites (user_id, book_id, created_at)
		VALUES ($1, $2, $3)`
	if _, err := r.db.ExecContext(ctx, query, userID, bookID, time.Now().UTC()); err != nil {
		return translateError(err)
	}
	return nil
}

// Remove reports whether a row was deleted.
func (r *FavoriteRepository) Remove(ctx context.Context, userID, bookID int) (bool, error) {
	const query = `DELETE FROM favorites WHERE user_id = $1 AND book_id = $2`
	result, err := r.db.ExecContext(ctx, query, userID, bookID)
	if err != nil {
		return false, err
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return false, err
	}
	return affected > 0, nil
}

// ListBooks returns the books favorited by userID ordered by book id.
func (r *FavoriteRepository) ListBooks(ctx context.Context, userID int) ([]types.BookSummary, error) {
	query := `
		SELECT ` + bookDetailColumns + `
		FROM favorites f
		JOIN books b ON b.id = f.book_id
		WHERE f.user_id = $1
		ORDER BY b.id`
	rows, err := r.db.QueryContext(ctx, query, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	books := make([]types.BookSummary, 0)
	for rows.Next() {
		detail, err := scanBookDetail(rows)
		if err != nil {
			return nil, err
		}
		books = append(books, detail.Summary())
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return books, nil
}
