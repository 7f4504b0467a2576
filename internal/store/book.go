package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/lib/pq"
	"github.com/online-library/apiserver/internal/db"
	"github.com/online-library/apiserver/types"
)

// CatalogTx is the set of catalog writes that must commit together.
type CatalogTx interface {
	// LockNames serialises resolve-or-create of every key (see NameKey) until
	// the transaction ends. All keys of a transaction go in one call.
	LockNames(ctx context.Context, keys []string) error
	FindByIDs(ctx context.Context, kind types.EntityKind, ids []int) ([]types.EntityRef, error)
	// FindByName returns the lowest-id entity with exactly that name, or ErrNotFound.
	FindByName(ctx context.Context, kind types.EntityKind, name string) (types.EntityRef, error)
	// CreateEntity returns ErrConflict when a concurrent writer inserted the same unique name first.
	CreateEntity(ctx context.Context, kind types.EntityKind, name string) (types.EntityRef, error)
	InsertBook(ctx context.Context, book types.Book) (types.Book, error)
	Link(ctx context.Context, kind types.EntityKind, bookID int, entityIDs []int) error
	GetBook(ctx context.Context, id int) (types.BookDetail, error)
}

// BookRepository handles persistence for books and their author/genre links.
type BookRepository struct {
	db *sql.DB
}

func NewBookRepository(db *sql.DB) *BookRepository {
	return &BookRepository{db: db}
}

const bookDetailColumns = `
	b.id, b.title, b.description, b.year, b.isbn,
	ARRAY(
		SELECT a.name FROM book_authors ba
		JOIN authors a ON a.id = ba.author_id
		WHERE ba.book_id = b.id
		ORDER BY a.id
	) AS authors,
	ARRAY(
		SELECT g.name FROM book_genres bg
		JOIN genres g ON g.id = bg.genre_id
		WHERE bg.book_id = b.id
		ORDER BY g.id
	) AS genres`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanBookDetail(row rowScanner) (types.BookDetail, error) {
	var detail types.BookDetail
	err := row.Scan(
		&detail.ID,
		&detail.Title,
		&detail.Description,
		&detail.Year,
		&detail.ISBN,
		pq.Array(&detail.Authors),
		pq.Array(&detail.Genres),
	)
	if err != nil {
		return types.BookDetail{}, translateError(err)
	}
	if detail.Authors == nil {
		detail.Authors = []string{}
	}
	if detail.Genres == nil {
		detail.Genres = []string{}
	}
	return detail, nil
}

// List returns every book ordered by id.
func (r *BookRepository) List(ctx context.Context) ([]types.BookSummary, error) {
	books := make([]types.BookSummary, 0)
	err := r.Stream(ctx, func(detail types.BookDetail) error {
		books = append(books, detail.Summary())
		return nil
	})
	if err != nil {
		return nil, err
	}
	return books, nil
}

// Stream calls fn for each book in id order without materialising the catalog.
// Iteration stops at the first error returned by fn.
func (r *BookRepository) Stream(ctx context.Context, fn func(types.BookDetail) error) error {
	query := `SELECT ` + bookDetailColumns + ` FROM books b ORDER BY b.id`
	rows, err := r.db.QueryContext(ctx, query)
	if err != nil {
		return err
	}
	defer rows.Close()

	for rows.Next() {
		detail, err := scanBookDetail(rows)
		if err != nil {
			return err
		}
		if err := fn(detail); err != nil {
			return err
		}
	}
	return rows.Err()
}

func (r *BookRepository) Get(ctx context.Context, id int) (types.BookDetail, error) {
	return getBook(ctx, r.db, id)
}

func (r *BookRepository) Exists(ctx context.Context, id int) (bool, error) {
	const query = `SELECT EXISTS (SELECT 1 FROM books WHERE id = $1)`
	var exists bool
	if err := r.db.QueryRowContext(ctx, query, id).Scan(&exists); err != nil {
		return false, err
	}
	return exists, nil
}

// Delete removes the book; favorites and links go with it by cascade.
func (r *BookRepository) Delete(ctx context.Context, id int) error {
	const query = `DELETE FROM books WHERE id = $1`
	result, err := r.db.ExecContext(ctx, query, id)
	if err != nil {
		return err
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return ErrNotFound
	}
	return nil
}

// WithinTx runs fn in one transaction: every write commits or none does.
func (r *BookRepository) WithinTx(ctx context.Context, fn func(CatalogTx) error) error {
	return db.WithTx(ctx, r.db, func(tx *sql.Tx) error {
		return fn(&catalogTx{tx: tx})
	})
}

func getBook(ctx context.Context, q dbtx, id int) (types.BookDetail, error) {
	query := `SELECT ` + bookDetailColumns + ` FROM books b WHERE b.id = $1`
	return scanBookDetail(q.QueryRowContext(ctx, query, id))
}

type catalogTx struct {
	tx *sql.Tx
}

func entityTable(kind types.EntityKind) (string, error) {
	switch kind {
	case types.KindAuthor:
		return "authors", nil
	case types.KindGenre:
		return "genres", nil
	default:
		return "", fmt.Errorf("unknown entity kind %q", kind)
	}
}

// NameKey identifies the lock guarding one entity name.
func NameKey(kind types.EntityKind, name string) string {
	return string(kind) + ":" + name
}

// LockNames acquires the advisory locks in ascending lock id, so two
// transactions naming the same entities in any order cannot deadlock.
func (c *catalogTx) LockNames(ctx context.Context, keys []string) error {
	if len(keys) == 0 {
		return nil
	}
	const query = `
		SELECT pg_advisory_xact_lock(k)
		FROM (
			SELECT DISTINCT hashtext(key) AS k
			FROM unnest($1::text[]) AS key
			ORDER BY k
		) AS locks`
	_, err := c.tx.ExecContext(ctx, query, pq.Array(keys))
	return err
}

func (c *catalogTx) FindByIDs(ctx context.Context, kind types.EntityKind, ids []int) ([]types.EntityRef, error) {
	table, err := entityTable(kind)
	if err != nil {
		return nil, err
	}

	query := `SELECT id, name FROM ` + table + ` WHERE id = ANY($1) ORDER BY id`
	rows, err := c.tx.QueryContext(ctx, query, pq.Array(toInt64s(ids)))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	refs := make([]types.EntityRef, 0, len(ids))
	for rows.Next() {
		var ref types.EntityRef
		if err := rows.Scan(&ref.ID, &ref.Name); err != nil {
			return nil, err
		}
		refs = append(refs, ref)
	}
	return refs, rows.Err()
}

func (c *catalogTx) FindByName(ctx context.Context, kind types.EntityKind, name string) (types.EntityRef, error) {
	table, err := entityTable(kind)
	if err != nil {
		return types.EntityRef{}, err
	}

	query := `SELECT id, name FROM ` + table + ` WHERE name = $1 ORDER BY id LIMIT 1`
	var ref types.EntityRef
	if err := c.tx.QueryRowContext(ctx, query, name).Scan(&ref.ID, &ref.Name); err != nil {
		return types.EntityRef{}, translateError(err)
	}
	return ref, nil
}

func (c *catalogTx) CreateEntity(ctx context.Context, kind types.EntityKind, name string) (types.EntityRef, error) {
	var query string
	switch kind {
	case types.KindAuthor:
		query = `INSERT INTO authors (name) VALUES ($1) RETURNING id`
	case types.KindGenre:
		// An empty result means another transaction already owns the name.
		query = `INSERT INTO genres (name) VALUES ($1) ON CONFLICT (name) DO NOTHING RETURNING id`
	default:
		return types.EntityRef{}, fmt.Errorf("unknown entity kind %q", kind)
	}

	ref := types.EntityRef{Name: name}
	if err := c.tx.QueryRowContext(ctx, query, name).Scan(&ref.ID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return types.EntityRef{}, ErrConflict
		}
		return types.EntityRef{}, translateError(err)
	}
	return ref, nil
}

// InsertBook returns ErrConflict when the ISBN is already taken.
func (c *catalogTx) InsertBook(ctx context.Context, book types.Book) (types.Book, error) {
	book.CreatedAt = time.Now().UTC()

	const query = `
		INSERT INTO books (title, description, year, isbn, created_at)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING id`
	if err := c.tx.QueryRowContext(
		ctx,
		query,
		book.Title,
		book.Description,
		book.Year,
		book.ISBN,
		book.CreatedAt,
	).Scan(&book.ID); err != nil {
		return types.Book{}, translateError(err)
	}
	return book, nil
}

func (c *catalogTx) Link(ctx context.Context, kind types.EntityKind, bookID int, entityIDs []int) error {
	var query string
	switch kind {
	case types.KindAuthor:
		query = `
			INSERT INTO book_authors (book_id, author_id)
			SELECT $1, unnest($2::int[])
			ON CONFLICT DO NOTHING`
	case types.KindGenre:
		query = `
			INSERT INTO book_genres (book_id, genre_id)
			SELECT $1, unnest($2::int[])
			ON CONFLICT DO NOTHING`
	default:
		return fmt.Errorf("unknown entity kind %q", kind)
	}

	if _, err := c.tx.ExecContext(ctx, query, bookID, pq.Array(toInt64s(entityIDs))); err != nil {
		return translateError(err)
	}
	return nil
}

func (c *catalogTx) GetBook(ctx context.Context, id int) (types.BookDetail, error) {
	return getBook(ctx, c.tx, id)
}

func toInt64s(ids []int) []int64 {
	out := make([]int64, len(ids))
	for i, id := range ids {
		out[i] = int64(id)
	}
	return out
}
