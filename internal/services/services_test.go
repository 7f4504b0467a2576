package services

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/online-library/apiserver/internal/auth"
	"github.com/online-library/apiserver/internal/store/memory"
	"github.com/online-library/apiserver/types"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"
)

type recordingPublisher struct {
	mu     sync.Mutex
	events []types.CatalogEvent
	err    error
}

func (p *recordingPublisher) Publish(_ context.Context, event types.CatalogEvent) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, event)
	return p.err
}

func (p *recordingPublisher) eventTypes() []types.EventType {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]types.EventType, 0, len(p.events))
	for _, e := range p.events {
		out = append(out, e.Type)
	}
	return out
}

type fixture struct {
	store     *memory.Store
	tokens    *auth.TokenIssuer
	events    *recordingPublisher
	users     *UserService
	catalog   *CatalogService
	favorites *FavoriteService
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	s := memory.New()
	tokens := auth.NewTokenIssuer("test-secret", time.Hour)
	events := &recordingPublisher{}

	return &fixture{
		store:     s,
		tokens:    tokens,
		events:    events,
		users:     NewUserService(s.Users, auth.NewPasswordHasher(bcrypt.MinCost), tokens),
		catalog:   NewCatalogService(s.Books, events),
		favorites: NewFavoriteService(s.Favorites, s.Books, events),
	}
}

func (f *fixture) register(t *testing.T, email string) types.User {
	t.Helper()
	user, err := f.users.Register(context.Background(), email, "pw12345678")
	require.NoError(t, err)
	return user
}

func (f *fixture) createBook(t *testing.T, title string, authors, genres []string) types.BookDetail {
	t.Helper()
	detail, err := f.catalog.Create(context.Background(), types.NewBook{
		Title:   title,
		Year:    1949,
		Authors: types.RefsByNames(authors...),
		Genres:  types.RefsByNames(genres...),
	})
	require.NoError(t, err)
	return detail
}

var errPublish = errors.New("broker down")
