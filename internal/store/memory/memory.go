// Package memory is an in-process implementation of the store repositories.
// It backs tests and STORE_BACKEND=memory; nothing survives a restart.
package memory

import (
	"sort"
	"sync"
	"time"

	"github.com/online-library/apiserver/types"
)

type favoriteKey struct {
	userID int
	bookID int
}

type state struct {
	users       map[int]types.User
	emails      map[string]int
	authors     map[int]string
	genres      map[int]string
	books       map[int]types.Book
	bookAuthors map[int][]int
	bookGenres  map[int][]int
	favorites   map[favoriteKey]time.Time

	nextUserID   int
	nextAuthorID int
	nextGenreID  int
	nextBookID   int
}

func newState() *state {
	return &state{
		users:       make(map[int]types.User),
		emails:      make(map[string]int),
		authors:     make(map[int]string),
		genres:      make(map[int]string),
		books:       make(map[int]types.Book),
		bookAuthors: make(map[int][]int),
		bookGenres:  make(map[int][]int),
		favorites:   make(map[favoriteKey]time.Time),
	}
}

func (s *state) clone() *state {
	c := &state{
		users:        make(map[int]types.User, len(s.users)),
		emails:       make(map[string]int, len(s.emails)),
		authors:      make(map[int]string, len(s.authors)),
		genres:       make(map[int]string, len(s.genres)),
		books:        make(map[int]types.Book, len(s.books)),
		bookAuthors:  make(map[int][]int, len(s.bookAuthors)),
		bookGenres:   make(map[int][]int, len(s.bookGenres)),
		favorites:    make(map[favoriteKey]time.Time, len(s.favorites)),
		nextUserID:   s.nextUserID,
		nextAuthorID: s.nextAuthorID,
		nextGenreID:  s.nextGenreID,
		nextBookID:   s.nextBookID,
	}
	for k, v := range s.users {
		c.users[k] = v
	}
	for k, v := range s.emails {
		c.emails[k] = v
	}
	for k, v := range s.authors {
		c.authors[k] = v
	}
	for k, v := range s.genres {
		c.genres[k] = v
	}
	for k, v := range s.books {
		c.books[k] = v
	}
	for k, v := range s.bookAuthors {
		c.bookAuthors[k] = append([]int(nil), v...)
	}
	for k, v := range s.bookGenres {
		c.bookGenres[k] = append([]int(nil), v...)
	}
	for k, v := range s.favorites {
		c.favorites[k] = v
	}
	return c
}

func (s *state) entities(kind types.EntityKind) map[int]string {
	if kind == types.KindGenre {
		return s.genres
	}
	return s.authors
}

func (s *state) links(kind types.EntityKind) map[int][]int {
	if kind == types.KindGenre {
		return s.bookGenres
	}
	return s.bookAuthors
}

func (s *state) names(kind types.EntityKind, ids []int) []string {
	entities := s.entities(kind)
	sorted := append([]int(nil), ids...)
	sort.Ints(sorted)

	names := make([]string, 0, len(sorted))
	for _, id := range sorted {
		if name, ok := entities[id]; ok {
			names = append(names, name)
		}
	}
	return names
}

func (s *state) detail(id int) (types.BookDetail, bool) {
	book, ok := s.books[id]
	if !ok {
		return types.BookDetail{}, false
	}
	return types.BookDetail{
		ID:          book.ID,
		Title:       book.Title,
		Description: book.Description,
		Year:        book.Year,
		ISBN:        book.ISBN,
		Authors:     s.names(types.KindAuthor, s.bookAuthors[id]),
		Genres:      s.names(types.KindGenre, s.bookGenres[id]),
	}, true
}

func (s *state) bookIDs() []int {
	ids := make([]int, 0, len(s.books))
	for id := range s.books {
		ids = append(ids, id)
	}
	sort.Ints(ids)
	return ids
}

// Store owns the shared state behind the three repositories.
type Store struct {
	mu sync.RWMutex
	st *state

	Users     *UserRepository
	Books     *BookRepository
	Favorites *FavoriteRepository
}

func New() *Store {
	s := &Store{st: newState()}
	s.Users = &UserRepository{s: s}
	s.Books = &BookRepository{s: s}
	s.Favorites = &FavoriteRepository{s: s}
	return s
}
