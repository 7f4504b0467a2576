package handlers

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/online-library/apiserver/internal/access"
	"github.com/online-library/apiserver/internal/services"
	"github.com/online-library/apiserver/types"
)

const (
	headerDevUserID = "X-User-Id"

	msgInvalidCredentials = "Invalid authentication credentials"
	msgNotAuthenticated   = "Not authenticated"
	msgAdminOnly          = "Admin only"
)

// UserLookup is what identity resolution needs from the user service.
type UserLookup interface {
	Identify(ctx context.Context, token string) (types.User, error)
	GetByID(ctx context.Context, id int) (types.User, error)
}

type credentialKey struct{}

// credentialState records whether the caller presented a credential that failed.
type credentialState struct {
	rejected bool
}

// Identity resolves the caller once per request and stores an access.Identity
// in the request context. Invalid credentials do not fail the request here:
// public routes stay reachable and the guards decide what to reject.
//
// With devAuth set, a request without an Authorization header may name its
// user with X-User-Id. The server only sets devAuth outside production.
func Identity(users UserLookup, devAuth bool) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			id, rejected, err := resolveIdentity(r, users, devAuth)
			if err != nil {
				writeServiceError(w, r, err)
				return
			}

			ctx := access.WithIdentity(r.Context(), id)
			ctx = context.WithValue(ctx, credentialKey{}, credentialState{rejected: rejected})
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

func resolveIdentity(r *http.Request, users UserLookup, devAuth bool) (access.Identity, bool, error) {
	ctx := r.Context()

	if header := strings.TrimSpace(r.Header.Get("Authorization")); header != "" {
		token, ok := bearerToken(header)
		if !ok {
			return access.GuestIdentity(), true, nil
		}
		user, err := users.Identify(ctx, token)
		if err != nil {
			if errors.Is(err, services.ErrInvalidToken) {
				return access.GuestIdentity(), true, nil
			}
			return access.GuestIdentity(), false, err
		}
		return access.UserIdentity(user.ID, user.Role), false, nil
	}

	if devAuth {
		if raw := strings.TrimSpace(r.Header.Get(headerDevUserID)); raw != "" {
			userID, err := strconv.Atoi(raw)
			if err != nil || userID < 1 {
				return access.GuestIdentity(), true, nil
			}
			user, err := users.GetByID(ctx, userID)
			if err != nil {
				if errors.Is(err, services.ErrUserNotFound) {
					return access.GuestIdentity(), true, nil
				}
				return access.GuestIdentity(), false, err
			}
			return access.UserIdentity(user.ID, user.Role), false, nil
		}
	}

	return access.GuestIdentity(), false, nil
}

func bearerToken(header string) (string, bool) {
	scheme, token, ok := strings.Cut(header, " ")
	if !ok || !strings.EqualFold(scheme, "Bearer") {
		return "", false
	}
	token = strings.TrimSpace(token)
	return token, token != ""
}

func credentialRejected(ctx context.Context) bool {
	state, _ := ctx.Value(credentialKey{}).(credentialState)
	return state.rejected
}

func writeUnauthenticated(w http.ResponseWriter, message string) {
	w.Header().Set("WWW-Authenticate", "Bearer")
	writeError(w, http.StatusUnauthorized, message)
}

// requireCapability lets the request through only when the gate allows the
// caller to use c. Unauthenticated callers get 401, others 403.
func requireCapability(c access.Capability) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			switch access.Check(access.FromContext(r.Context()), c) {
			case access.Allow:
				next.ServeHTTP(w, r)
			case access.DenyUnauthenticated:
				message := msgNotAuthenticated
				if credentialRejected(r.Context()) {
					message = msgInvalidCredentials
				}
				writeUnauthenticated(w, message)
			default:
				writeError(w, http.StatusForbidden, msgAdminOnly)
			}
		})
	}
}

// requireAuthenticated admits any signed-in caller.
var requireAuthenticated = requireCapability(access.OwnFavorites)
