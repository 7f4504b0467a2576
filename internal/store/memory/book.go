package memory

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/online-library/apiserver/internal/store"
	"github.com/online-library/apiserver/types"
)

type BookRepository struct {
	s *Store
}

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

// Stream snapshots the id list only and reads each book under its own lock,
// so books deleted mid-stream are skipped.
func (r *BookRepository) Stream(ctx context.Context, fn func(types.BookDetail) error) error {
	r.s.mu.RLock()
	ids := r.s.st.bookIDs()
	r.s.mu.RUnlock()

	for _, id := range ids {
		if err := ctx.Err(); err != nil {
			return err
		}

		r.s.mu.RLock()
		detail, ok := r.s.st.detail(id)
		r.s.mu.RUnlock()
		if !ok {
			continue
		}
		if err := fn(detail); err != nil {
			return err
		}
	}
	return nil
}

func (r *BookRepository) Get(_ context.Context, id int) (types.BookDetail, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()

	detail, ok := r.s.st.detail(id)
	if !ok {
		return types.BookDetail{}, store.ErrNotFound
	}
	return detail, nil
}

func (r *BookRepository) Exists(_ context.Context, id int) (bool, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()

	_, ok := r.s.st.books[id]
	return ok, nil
}

func (r *BookRepository) Delete(_ context.Context, id int) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	if _, ok := r.s.st.books[id]; !ok {
		return store.ErrNotFound
	}
	delete(r.s.st.books, id)
	delete(r.s.st.bookAuthors, id)
	delete(r.s.st.bookGenres, id)
	for key := range r.s.st.favorites {
		if key.bookID == id {
			delete(r.s.st.favorites, key)
		}
	}
	return nil
}

// WithinTx runs fn against a private copy of the state and publishes the copy
// only when fn succeeds. Transactions are serialised by the store lock.
func (r *BookRepository) WithinTx(ctx context.Context, fn func(store.CatalogTx) error) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	work := r.s.st.clone()
	if err := fn(&catalogTx{st: work}); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	r.s.st = work
	return nil
}

type catalogTx struct {
	st *state
}

// LockNames is a no-op: WithinTx already holds the store lock.
func (c *catalogTx) LockNames(context.Context, []string) error {
	return nil
}

func (c *catalogTx) FindByIDs(_ context.Context, kind types.EntityKind, ids []int) ([]types.EntityRef, error) {
	entities := c.st.entities(kind)
	refs := make([]types.EntityRef, 0, len(ids))
	for _, id := range ids {
		if name, ok := entities[id]; ok {
			refs = append(refs, types.EntityRef{ID: id, Name: name})
		}
	}
	sort.Slice(refs, func(i, j int) bool { return refs[i].ID < refs[j].ID })
	return refs, nil
}

func (c *catalogTx) FindByName(_ context.Context, kind types.EntityKind, name string) (types.EntityRef, error) {
	found := types.EntityRef{}
	for id, existing := range c.st.entities(kind) {
		if existing != name {
			continue
		}
		if found.ID == 0 || id < found.ID {
			found = types.EntityRef{ID: id, Name: existing}
		}
	}
	if found.ID == 0 {
		return types.EntityRef{}, store.ErrNotFound
	}
	return found, nil
}

func (c *catalogTx) CreateEntity(_ context.Context, kind types.EntityKind, name string) (types.EntityRef, error) {
	var id int
	switch kind {
	case types.KindAuthor:
		c.st.nextAuthorID++
		id = c.st.nextAuthorID
	case types.KindGenre:
		for _, existing := range c.st.genres {
			if existing == name {
				return types.EntityRef{}, store.ErrConflict
			}
		}
		c.st.nextGenreID++
		id = c.st.nextGenreID
	default:
		return types.EntityRef{}, fmt.Errorf("unknown entity kind %q", kind)
	}

	c.st.entities(kind)[id] = name
	return types.EntityRef{ID: id, Name: name}, nil
}

func (c *catalogTx) InsertBook(_ context.Context, book types.Book) (types.Book, error) {
	if book.ISBN != nil {
		for _, existing := range c.st.books {
			if existing.ISBN != nil && *existing.ISBN == *book.ISBN {
				return types.Book{}, store.ErrConflict
			}
		}
	}

	c.st.nextBookID++
	book.ID = c.st.nextBookID
	book.CreatedAt = time.Now().UTC()
	c.st.books[book.ID] = book
	return book, nil
}

func (c *catalogTx) Link(_ context.Context, kind types.EntityKind, bookID int, entityIDs []int) error {
	if kind != types.KindAuthor && kind != types.KindGenre {
		return fmt.Errorf("unknown entity kind %q", kind)
	}
	if _, ok := c.st.books[bookID]; !ok {
		return store.ErrNotFound
	}

	entities := c.st.entities(kind)
	links := c.st.links(kind)
	for _, id := range entityIDs {
		if _, ok := entities[id]; !ok {
			return store.ErrNotFound
		}
		if !containsInt(links[bookID], id) {
			links[bookID] = append(links[bookID], id)
		}
	}
	return nil
}

func (c *catalogTx) GetBook(_ context.Context, id int) (types.BookDetail, error) {
	detail, ok := c.st.detail(id)
	if !ok {
		return types.BookDetail{}, store.ErrNotFound
	}
	return detail, nil
}

func containsInt(values []int, v int) bool {
	for _, value := range values {
		if value == v {
			return true
		}
	}
	return false
}
