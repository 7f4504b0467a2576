package client

import (
	"sync"

	"github.com/online-library/apiserver/types"
)

// Session is what the bot remembers about one chat user.
type Session struct {
	Token string
	Role  types.Role
}

// SessionStore maps chat user ids to sessions. It lives in process memory
// only, so it assumes a single bot instance and is lost on restart.
type SessionStore struct {
	mu       sync.Mutex
	sessions map[int64]Session
}

func NewSessionStore() *SessionStore {
	return &SessionStore{sessions: make(map[int64]Session)}
}

// SetToken stores a fresh token and forgets the previously known role.
func (s *SessionStore) SetToken(chatUserID int64, token string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sessions[chatUserID] = Session{Token: token}
}

// SetRole records the role for an existing session; it is a no-op otherwise.
func (s *SessionStore) SetRole(chatUserID int64, role types.Role) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sess, ok := s.sessions[chatUserID]
	if !ok {
		return
	}
	sess.Role = role
	s.sessions[chatUserID] = sess
}

func (s *SessionStore) Get(chatUserID int64) (Session, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sess, ok := s.sessions[chatUserID]
	return sess, ok
}

func (s *SessionStore) IsAdmin(chatUserID int64) bool {
	sess, ok := s.Get(chatUserID)
	return ok && sess.Role == types.RoleAdmin
}

func (s *SessionStore) Clear(chatUserID int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.sessions, chatUserID)
}

func (s *SessionStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.sessions)
}
