package server

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/online-library/apiserver/config"
	"github.com/online-library/apiserver/internal/auth"
	"github.com/online-library/apiserver/internal/db"
	"github.com/online-library/apiserver/internal/events"
	"github.com/online-library/apiserver/internal/log"
	"github.com/online-library/apiserver/internal/mq"
	"github.com/online-library/apiserver/internal/services"
	"github.com/online-library/apiserver/internal/store"
	"github.com/online-library/apiserver/internal/store/memory"
)

const (
	StorePostgres = "postgres"
	StoreMemory   = "memory"
)

// Services is the application layer shared by the HTTP server and the CLI.
type Services struct {
	Users     *services.UserService
	Catalog   *services.CatalogService
	Favorites *services.FavoriteService

	closers []io.Closer
}

// OpenServices connects the configured store and broker and builds the services.
func OpenServices(ctx context.Context, cfg config.Config) (*Services, error) {
	s := &Services{}

	var publisher services.EventPublisher
	backend, err := mq.Open(ctx, cfg.MQ)
	switch {
	case errors.Is(err, mq.ErrDisabled):
	case err != nil:
		return nil, fmt.Errorf("open mq: %w", err)
	default:
		s.closers = append(s.closers, backend)
		publisher = events.NewPublisher(backend, cfg.MQ.CatalogChannel)
	}

	hasher := auth.NewPasswordHasher(cfg.BcryptCost)
	tokens := auth.NewTokenIssuer(cfg.JWT.Secret, cfg.JWT.TTL)

	switch strings.ToLower(strings.TrimSpace(cfg.StoreBackend)) {
	case "", StorePostgres:
		conn, err := db.Open(ctx, cfg)
		if err != nil {
			_ = s.Close()
			return nil, fmt.Errorf("open database: %w", err)
		}
		s.closers = append(s.closers, conn)

		books := store.NewBookRepository(conn)
		s.Users = services.NewUserService(store.NewUserRepository(conn), hasher, tokens)
		s.Catalog = services.NewCatalogService(books, publisher)
		s.Favorites = services.NewFavoriteService(store.NewFavoriteRepository(conn), books, publisher)
	case StoreMemory:
		mem := memory.New()
		s.Users = services.NewUserService(mem.Users, hasher, tokens)
		s.Catalog = services.NewCatalogService(mem.Books, publisher)
		s.Favorites = services.NewFavoriteService(mem.Favorites, mem.Books, publisher)
	default:
		_ = s.Close()
		return nil, fmt.Errorf("unknown store backend %q", cfg.StoreBackend)
	}

	logger := log.WithComponent("server")
	logger.Debug().
		Str("store", cfg.StoreBackend).
		Str("mq", cfg.MQ.Backend).
		Msg("services ready")
	return s, nil
}

// Close releases the store and broker connections.
func (s *Services) Close() error {
	var errs []error
	for i := len(s.closers) - 1; i >= 0; i-- {
		if err := s.closers[i].Close(); err != nil {
			errs = append(errs, err)
		}
	}
	s.closers = nil
	return errors.Join(errs...)
}
