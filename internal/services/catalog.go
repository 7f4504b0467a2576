package services

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/online-library/apiserver/internal/metrics"
	"github.com/online-library/apiserver/internal/store"
	"github.com/online-library/apiserver/internal/validation"
	"github.com/online-library/apiserver/types"
)

// CSVHeader is the first row of every catalog export.
var CSVHeader = []string{"id", "title", "year", "isbn", "authors", "genres"}

const (
	csvListSeparator = ";"
	csvFlushEvery    = 100
)

// BookRepository defines persistence operations for books.
type BookRepository interface {
	List(ctx context.Context) ([]types.BookSummary, error)
	Get(ctx context.Context, id int) (types.BookDetail, error)
	Exists(ctx context.Context, id int) (bool, error)
	Delete(ctx context.Context, id int) error
	Stream(ctx context.Context, fn func(types.BookDetail) error) error
	WithinTx(ctx context.Context, fn func(store.CatalogTx) error) error
}

// CatalogService encapsulates book catalog use-cases.
type CatalogService struct {
	repo   BookRepository
	events EventPublisher
}

func NewCatalogService(repo BookRepository, events EventPublisher) *CatalogService {
	return &CatalogService{
		repo:   repo,
		events: publisherOrNoop(events),
	}
}

func (s *CatalogService) List(ctx context.Context) ([]types.BookSummary, error) {
	return s.repo.List(ctx)
}

func (s *CatalogService) Get(ctx context.Context, id int) (types.BookDetail, error) {
	detail, err := s.repo.Get(ctx, id)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return types.BookDetail{}, ErrBookNotFound
		}
		return types.BookDetail{}, err
	}
	return detail, nil
}

// Create stores the book and its author and genre links in one transaction.
func (s *CatalogService) Create(ctx context.Context, in types.NewBook) (types.BookDetail, error) {
	book, err := normalizeBook(in)
	if err != nil {
		return types.BookDetail{}, err
	}

	var detail types.BookDetail
	err = s.repo.WithinTx(ctx, func(tx store.CatalogTx) error {
		err := LockRefs(ctx, tx, map[types.EntityKind]types.EntityRefs{
			types.KindAuthor: in.Authors,
			types.KindGenre:  in.Genres,
		})
		if err != nil {
			return err
		}

		authors, authorsErr := ResolveRefs(ctx, tx, types.KindAuthor, in.Authors)
		genres, genresErr := ResolveRefs(ctx, tx, types.KindGenre, in.Genres)
		if err := validation.Merge(authorsErr, genresErr); err != nil {
			return err
		}

		created, err := tx.InsertBook(ctx, book)
		if err != nil {
			if errors.Is(err, store.ErrConflict) {
				return ErrISBNTaken
			}
			return fmt.Errorf("insert book: %w", err)
		}
		if err := tx.Link(ctx, types.KindAuthor, created.ID, refIDs(authors)); err != nil {
			return fmt.Errorf("link authors: %w", err)
		}
		if err := tx.Link(ctx, types.KindGenre, created.ID, refIDs(genres)); err != nil {
			return fmt.Errorf("link genres: %w", err)
		}

		detail, err = tx.GetBook(ctx, created.ID)
		return err
	})
	if err != nil {
		return types.BookDetail{}, err
	}

	publish(ctx, s.events, types.EventBookCreated, detail.ID, 0)
	return detail, nil
}

func normalizeBook(in types.NewBook) (types.Book, error) {
	book := types.Book{
		Title:       strings.TrimSpace(in.Title),
		Description: in.Description,
		Year:        in.Year,
	}
	if book.Title == "" {
		return types.Book{}, validation.Field("title", "must not be empty")
	}
	if in.ISBN != nil {
		if isbn := strings.TrimSpace(*in.ISBN); isbn != "" {
			book.ISBN = &isbn
		}
	}
	return book, nil
}

// Delete removes the book together with its favorites and links.
func (s *CatalogService) Delete(ctx context.Context, id int) error {
	if err := s.repo.Delete(ctx, id); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return ErrBookNotFound
		}
		return err
	}

	publish(ctx, s.events, types.EventBookDeleted, id, 0)
	return nil
}

// ExportCSV writes the header and one row per book in id order to w as the
// rows are read, flushing periodically. It returns the number of book rows.
func (s *CatalogService) ExportCSV(ctx context.Context, w io.Writer) (int, error) {
	cw := csv.NewWriter(w)
	flusher, _ := w.(interface{ Flush() })

	flush := func() error {
		cw.Flush()
		if err := cw.Error(); err != nil {
			return err
		}
		if flusher != nil {
			flusher.Flush()
		}
		return nil
	}

	if err := cw.Write(CSVHeader); err != nil {
		return 0, err
	}

	rows := 0
	err := s.repo.Stream(ctx, func(book types.BookDetail) error {
		if err := cw.Write(csvRecord(book)); err != nil {
			return err
		}
		rows++
		metrics.BooksExportedTotal.Inc()
		if rows%csvFlushEvery == 0 {
			return flush()
		}
		return nil
	})
	if err != nil {
		return rows, fmt.Errorf("export books: %w", err)
	}
	return rows, flush()
}

func csvRecord(book types.BookDetail) []string {
	isbn := ""
	if book.ISBN != nil {
		isbn = *book.ISBN
	}
	return []string{
		strconv.Itoa(book.ID),
		book.Title,
		strconv.Itoa(book.Year),
		isbn,
		strings.Join(book.Authors, csvListSeparator),
		strings.Join(book.Genres, csvListSeparator),
	}
}
