package memory

import (
	"context"
	"time"

	"github.com/online-library/apiserver/internal/store"
	"github.com/online-library/apiserver/types"
)

type FavoriteRepository struct {
	s *Store
}

func (r *FavoriteRepository) Has(_ context.Context, userID, bookID int) (bool, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()

	_, ok := r.s.st.favorites[favoriteKey{userID: userID, bookID: bookID}]
	return ok, nil
}

func (r *FavoriteRepository) Add(_ context.Context, userID, bookID int) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	if _, ok := r.s.st.users[userID]; !ok {
		return store.ErrNotFound
	}
	if _, ok := r.s.st.books[bookID]; !ok {
		return store.ErrNotFound
	}

	key := favoriteKey{userID: userID, bookID: bookID}
	if _, ok := r.s.st.favorites[key]; ok {
		return store.ErrConflict
	}
	r.s.st.favorites[key] = time.Now().UTC()
	return nil
}

func (r *FavoriteRepository) Remove(_ context.Context, userID, bookID int) (bool, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	key := favoriteKey{userID: userID, bookID: bookID}
	if _, ok := r.s.st.favorites[key]; !ok {
		return false, nil
	}
	delete(r.s.st.favorites, key)
	return true, nil
}

func (r *FavoriteRepository) ListBooks(_ context.Context, userID int) ([]types.BookSummary, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()

	books := make([]types.BookSummary, 0)
	for _, id := range r.s.st.bookIDs() {
		if _, ok := r.s.st.favorites[favoriteKey{userID: userID, bookID: id}]; !ok {
			continue
		}
		detail, _ := r.s.st.detail(id)
		books = append(books, detail.Summary())
	}
	return books, nil
}
