package handlers

import (
	"context"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/online-library/apiserver/internal/access"
	"github.com/online-library/apiserver/internal/validation"
	"github.com/online-library/apiserver/types"
)

// AccountService is the credential side of the user service.
type AccountService interface {
	Register(ctx context.Context, email, password string) (types.User, error)
	Authenticate(ctx context.Context, email, password string) (string, error)
	GetByID(ctx context.Context, id int) (types.User, error)
}

// AuthHandler provides registration, login and the caller's profile.
type AuthHandler struct {
	accounts  AccountService
	validator *validation.Validator
}

func NewAuthHandler(accounts AccountService, validator *validation.Validator) *AuthHandler {
	return &AuthHandler{
		accounts:  accounts,
		validator: validator,
	}
}

// AuthRouter registers auth routes on the given router.
func AuthRouter(r chi.Router, accounts AccountService, validator *validation.Validator) {
	handler := NewAuthHandler(accounts, validator)

	r.Post("/register", handler.Register)
	r.Post("/login", handler.Login)
	r.With(requireAuthenticated).Get("/me", handler.Me)
}

type RegisterRequest struct {
	Email    string `json:"email" validate:"required,email,max=255"`
	Password string `json:"password" validate:"required,min=8,max=72,bcryptmax"`
}

type LoginRequest struct {
	Email    string `json:"email" validate:"required,email,max=255"`
	Password string `json:"password" validate:"required,max=72"`
}

type TokenResponse struct {
	AccessToken string `json:"access_token"`
	TokenType   string `json:"token_type"`
}

// Register creates a client account and returns its public view.
func (h *AuthHandler) Register(w http.ResponseWriter, r *http.Request) {
	var req RegisterRequest
	if err := h.decodeAndValidate(w, r, &req); err != nil {
		writeServiceError(w, r, err)
		return
	}

	user, err := h.accounts.Register(r.Context(), req.Email, req.Password)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, user)
}

// Login exchanges credentials for a bearer token.
func (h *AuthHandler) Login(w http.ResponseWriter, r *http.Request) {
	var req LoginRequest
	if err := h.decodeAndValidate(w, r, &req); err != nil {
		writeServiceError(w, r, err)
		return
	}

	token, err := h.accounts.Authenticate(r.Context(), req.Email, req.Password)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, TokenResponse{AccessToken: token, TokenType: "bearer"})
}

// Me returns the current authenticated user.
func (h *AuthHandler) Me(w http.ResponseWriter, r *http.Request) {
	id := access.FromContext(r.Context())
	user, err := h.accounts.GetByID(r.Context(), id.UserID())
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, user)
}

// normalizer is implemented by requests whose fields are cleaned before validation.
type normalizer interface {
	normalize()
}

func (req *RegisterRequest) normalize() { req.Email = types.NormalizeEmail(req.Email) }
func (req *LoginRequest) normalize()    { req.Email = types.NormalizeEmail(req.Email) }

func (h *AuthHandler) decodeAndValidate(w http.ResponseWriter, r *http.Request, dst any) error {
	if err := decodeJSON(w, r, dst); err != nil {
		return err
	}
	if n, ok := dst.(normalizer); ok {
		n.normalize()
	}
	return h.validator.Validate(dst)
}
