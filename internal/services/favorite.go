package services

import (
	"context"
	"errors"
	"fmt"

	"github.com/online-library/apiserver/internal/metrics"
	"github.com/online-library/apiserver/internal/store"
	"github.com/online-library/apiserver/types"
)

// FavoriteOutcome is the success result of a favorites mutation.
type FavoriteOutcome string

const (
	FavoriteCreated        FavoriteOutcome = "created"
	FavoriteAlreadyPresent FavoriteOutcome = "already_present"
	FavoriteRemoved        FavoriteOutcome = "removed"
	FavoriteAlreadyAbsent  FavoriteOutcome = "already_absent"
)

// FavoriteRepository defines persistence operations for favorites.
type FavoriteRepository interface {
	Has(ctx context.Context, userID, bookID int) (bool, error)
	Add(ctx context.Context, userID, bookID int) error
	Remove(ctx context.Context, userID, bookID int) (bool, error)
	ListBooks(ctx context.Context, userID int) ([]types.BookSummary, error)
}

// BookChecker reports whether a book exists.
type BookChecker interface {
	Exists(ctx context.Context, id int) (bool, error)
}

// FavoriteService maintains each user's favorites. Both mutations are
// idempotent; the only failure for an existing user is ErrBookNotFound.
type FavoriteService struct {
	repo   FavoriteRepository
	books  BookChecker
	events EventPublisher
}

func NewFavoriteService(repo FavoriteRepository, books BookChecker, events EventPublisher) *FavoriteService {
	return &FavoriteService{
		repo:   repo,
		books:  books,
		events: publisherOrNoop(events),
	}
}

func (s *FavoriteService) Add(ctx context.Context, userID, bookID int) (FavoriteOutcome, error) {
	outcome, err := s.add(ctx, userID, bookID)
	recordFavoriteChange("add", outcome, err)
	if err == nil && outcome == FavoriteCreated {
		publish(ctx, s.events, types.EventFavoriteAdded, bookID, userID)
	}
	return outcome, err
}

func (s *FavoriteService) add(ctx context.Context, userID, bookID int) (FavoriteOutcome, error) {
	if err := s.requireBook(ctx, bookID); err != nil {
		return "", err
	}

	present, err := s.repo.Has(ctx, userID, bookID)
	if err != nil {
		return "", fmt.Errorf("check favorite: %w", err)
	}
	if present {
		return FavoriteAlreadyPresent, nil
	}

	if err := s.repo.Add(ctx, userID, bookID); err != nil {
		switch {
		case errors.Is(err, store.ErrConflict):
			// A concurrent add won the insert.
			return FavoriteAlreadyPresent, nil
		case errors.Is(err, store.ErrNotFound):
			// The book was deleted between the check and the insert.
			return "", ErrBookNotFound
		default:
			return "", fmt.Errorf("add favorite: %w", err)
		}
	}
	return FavoriteCreated, nil
}

func (s *FavoriteService) Remove(ctx context.Context, userID, bookID int) (FavoriteOutcome, error) {
	outcome, err := s.remove(ctx, userID, bookID)
	recordFavoriteChange("remove", outcome, err)
	if err == nil && outcome == FavoriteRemoved {
		publish(ctx, s.events, types.EventFavoriteRemoved, bookID, userID)
	}
	return outcome, err
}

func (s *FavoriteService) remove(ctx context.Context, userID, bookID int) (FavoriteOutcome, error) {
	if err := s.requireBook(ctx, bookID); err != nil {
		return "", err
	}

	removed, err := s.repo.Remove(ctx, userID, bookID)
	if err != nil {
		return "", fmt.Errorf("remove favorite: %w", err)
	}
	if !removed {
		return FavoriteAlreadyAbsent, nil
	}
	return FavoriteRemoved, nil
}

// List returns the user's favorite books ordered by book id.
func (s *FavoriteService) List(ctx context.Context, userID int) ([]types.BookSummary, error) {
	return s.repo.ListBooks(ctx, userID)
}

func (s *FavoriteService) requireBook(ctx context.Context, bookID int) error {
	exists, err := s.books.Exists(ctx, bookID)
	if err != nil {
		return fmt.Errorf("check book: %w", err)
	}
	if !exists {
		return ErrBookNotFound
	}
	return nil
}

func recordFavoriteChange(op string, outcome FavoriteOutcome, err error) {
	label := string(outcome)
	switch {
	case errors.Is(err, ErrBookNotFound):
		label = "book_not_found"
	case err != nil:
		label = "error"
	}
	metrics.FavoriteChangesTotal.WithLabelValues(op, label).Inc()
}
