package handlers

import (
	"context"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/online-library/apiserver/internal/access"
	"github.com/online-library/apiserver/internal/services"
	"github.com/online-library/apiserver/types"
)

// FavoritesService is the favorites ledger as seen by the HTTP layer.
type FavoritesService interface {
	Add(ctx context.Context, userID, bookID int) (services.FavoriteOutcome, error)
	Remove(ctx context.Context, userID, bookID int) (services.FavoriteOutcome, error)
	List(ctx context.Context, userID int) ([]types.BookSummary, error)
}

// FavoriteHandler serves the caller's own favorites. There is no route
// addressing another user's list.
type FavoriteHandler struct {
	favorites FavoritesService
}

func NewFavoriteHandler(favorites FavoritesService) *FavoriteHandler {
	return &FavoriteHandler{favorites: favorites}
}

// FavoriteRouter registers favorites routes on the given router.
func FavoriteRouter(r chi.Router, favorites FavoritesService) {
	handler := NewFavoriteHandler(favorites)

	r.Use(requireCapability(access.OwnFavorites))
	r.Get("/", handler.ListFavorites)
	r.Post("/{bookID}", handler.AddFavorite)
	r.Delete("/{bookID}", handler.RemoveFavorite)
}

func (h *FavoriteHandler) ListFavorites(w http.ResponseWriter, r *http.Request) {
	userID := access.FromContext(r.Context()).UserID()
	books, err := h.favorites.List(r.Context(), userID)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, books)
}

// AddFavorite answers 204 whether the favorite was created or already there.
func (h *FavoriteHandler) AddFavorite(w http.ResponseWriter, r *http.Request) {
	bookID, err := pathID(r, "bookID")
	if err != nil {
		writeServiceError(w, r, err)
		return
	}

	userID := access.FromContext(r.Context()).UserID()
	if _, err := h.favorites.Add(r.Context(), userID, bookID); err != nil {
		writeServiceError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// RemoveFavorite answers 204 whether a favorite was removed or was already absent.
func (h *FavoriteHandler) RemoveFavorite(w http.ResponseWriter, r *http.Request) {
	bookID, err := pathID(r, "bookID")
	if err != nil {
		writeServiceError(w, r, err)
		return
	}

	userID := access.FromContext(r.Context()).UserID()
	if _, err := h.favorites.Remove(r.Context(), userID, bookID); err != nil {
		writeServiceError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
