package memory

import (
	"context"
	"time"

	"github.com/online-library/apiserver/internal/store"
	"github.com/online-library/apiserver/types"
)

type UserRepository struct {
	s *Store
}

func (r *UserRepository) GetByID(_ context.Context, id int) (types.User, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()

	user, ok := r.s.st.users[id]
	if !ok {
		return types.User{}, store.ErrNotFound
	}
	return user, nil
}

func (r *UserRepository) GetByEmail(_ context.Context, email string) (types.User, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()

	id, ok := r.s.st.emails[email]
	if !ok {
		return types.User{}, store.ErrNotFound
	}
	return r.s.st.users[id], nil
}

func (r *UserRepository) Create(_ context.Context, user types.User) (types.User, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	if _, ok := r.s.st.emails[user.Email]; ok {
		return types.User{}, store.ErrConflict
	}
	if user.Role == "" {
		user.Role = types.RoleClient
	}

	r.s.st.nextUserID++
	user.ID = r.s.st.nextUserID
	user.CreatedAt = time.Now().UTC()
	r.s.st.users[user.ID] = user
	r.s.st.emails[user.Email] = user.ID
	return user, nil
}

func (r *UserRepository) UpdateRole(_ context.Context, email string, role types.Role) (types.User, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	id, ok := r.s.st.emails[email]
	if !ok {
		return types.User{}, store.ErrNotFound
	}
	user := r.s.st.users[id]
	user.Role = role
	r.s.st.users[id] = user
	return user, nil
}
