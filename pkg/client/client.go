// Package client is a Go client for the library HTTP API, used by the chat-bot front end.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/online-library/apiserver/types"
	"github.com/rs/zerolog"
)

const (
	defaultTimeout        = 15 * time.Second
	defaultExportFilename = "books_export.csv"
	maxErrorBody          = 64 << 10
)

// Error kinds carried in the "error" field of an API error body.
const (
	KindValidation = "validation_error"
	KindHTTP       = "http_error"
)

// FieldError is one entry of a validation error body.
type FieldError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}

// APIError is returned for every non-2xx response.
// StatusCode is 0 when the server could not be reached.
type APIError struct {
	StatusCode int
	Kind       string
	Details    json.RawMessage
}

func (e *APIError) Error() string {
	if e.StatusCode == 0 {
		return "api unavailable"
	}
	return fmt.Sprintf("api error %d: %s", e.StatusCode, e.Message())
}

// Message renders Details as a single human-readable line.
func (e *APIError) Message() string {
	var text string
	if err := json.Unmarshal(e.Details, &text); err == nil {
		return text
	}

	var fields []FieldError
	if err := json.Unmarshal(e.Details, &fields); err == nil && len(fields) > 0 {
		parts := make([]string, 0, len(fields))
		for _, f := range fields {
			parts = append(parts, f.Field+": "+f.Message)
		}
		return strings.Join(parts, "; ")
	}

	if len(e.Details) > 0 {
		return string(e.Details)
	}
	return http.StatusText(e.StatusCode)
}

// FieldErrors returns the per-field problems of a validation error.
func (e *APIError) FieldErrors() []FieldError {
	if e.Kind != KindValidation {
		return nil
	}
	var fields []FieldError
	_ = json.Unmarshal(e.Details, &fields)
	return fields
}

// IsStatus reports whether err is an *APIError with the given status code.
func IsStatus(err error, status int) bool {
	var apiErr *APIError
	return errors.As(err, &apiErr) && apiErr.StatusCode == status
}

// Token is the login response.
type Token struct {
	AccessToken string `json:"access_token"`
	TokenType   string `json:"token_type"`
}

// NewBook is the admin create-book form.
type NewBook struct {
	Title       string           `json:"title"`
	Description *string          `json:"description,omitempty"`
	Year        int              `json:"year"`
	ISBN        *string          `json:"isbn,omitempty"`
	Authors     types.EntityRefs `json:"authors"`
	Genres      types.EntityRefs `json:"genres"`
}

// Export is a downloaded catalog CSV.
type Export struct {
	Filename    string
	ContentType string
	Content     []byte
}

// Client talks to one API deployment. A Client is safe for concurrent use;
// WithToken returns a copy bound to one caller's credentials.
type Client struct {
	baseURL string
	http    *http.Client
	token   string
	logger  zerolog.Logger
}

type Option func(*Client)

func WithHTTPClient(h *http.Client) Option {
	return func(c *Client) { c.http = h }
}

func WithLogger(logger zerolog.Logger) Option {
	return func(c *Client) { c.logger = logger }
}

// New creates a client for baseURL, e.g. "http://localhost:8080".
func New(baseURL string, opts ...Option) (*Client, error) {
	u, err := url.Parse(strings.TrimSpace(baseURL))
	if err != nil {
		return nil, fmt.Errorf("parse base url: %w", err)
	}
	if u.Scheme == "" || u.Host == "" {
		return nil, fmt.Errorf("base url %q must be absolute", baseURL)
	}

	c := &Client{
		baseURL: strings.TrimRight(u.String(), "/"),
		http:    &http.Client{Timeout: defaultTimeout},
		logger:  zerolog.Nop(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// WithToken returns a copy of c that sends token as a bearer credential.
func (c *Client) WithToken(token string) *Client {
	cp := *c
	cp.token = token
	return &cp
}

func (c *Client) Register(ctx context.Context, email, password string) (types.User, error) {
	var user types.User
	body := map[string]string{"email": email, "password": password}
	err := c.doJSON(ctx, http.MethodPost, "/auth/register", body, &user)
	return user, err
}

func (c *Client) Login(ctx context.Context, email, password string) (Token, error) {
	var token Token
	body := map[string]string{"email": email, "password": password}
	err := c.doJSON(ctx, http.MethodPost, "/auth/login", body, &token)
	return token, err
}

func (c *Client) Me(ctx context.Context) (types.User, error) {
	var user types.User
	err := c.doJSON(ctx, http.MethodGet, "/auth/me", nil, &user)
	return user, err
}

// DetectRole asks the server for the caller's role. When the server cannot
// answer it falls back to the role claim of the token, read without verification.
func (c *Client) DetectRole(ctx context.Context) (types.Role, error) {
	user, err := c.Me(ctx)
	if err == nil {
		return user.Role, nil
	}
	var apiErr *APIError
	if !errors.As(err, &apiErr) || apiErr.StatusCode == http.StatusUnauthorized {
		return "", err
	}

	claims := jwt.MapClaims{}
	if _, _, parseErr := jwt.NewParser().ParseUnverified(c.token, claims); parseErr != nil {
		return "", err
	}
	raw, _ := claims["role"].(string)
	role, ok := types.ParseRole(raw)
	if !ok {
		return "", err
	}
	return role, nil
}

func (c *Client) ListBooks(ctx context.Context) ([]types.BookSummary, error) {
	var books []types.BookSummary
	err := c.doJSON(ctx, http.MethodGet, "/books", nil, &books)
	return books, err
}

func (c *Client) GetBook(ctx context.Context, id int) (types.BookDetail, error) {
	var book types.BookDetail
	err := c.doJSON(ctx, http.MethodGet, "/books/"+strconv.Itoa(id), nil, &book)
	return book, err
}

func (c *Client) CreateBook(ctx context.Context, book NewBook) (types.BookDetail, error) {
	var created types.BookDetail
	err := c.doJSON(ctx, http.MethodPost, "/books", book, &created)
	return created, err
}

func (c *Client) DeleteBook(ctx context.Context, id int) error {
	return c.doJSON(ctx, http.MethodDelete, "/books/"+strconv.Itoa(id), nil, nil)
}

func (c *Client) ListFavorites(ctx context.Context) ([]types.BookSummary, error) {
	var books []types.BookSummary
	err := c.doJSON(ctx, http.MethodGet, "/users/me/favorites", nil, &books)
	return books, err
}

func (c *Client) AddFavorite(ctx context.Context, bookID int) error {
	return c.doJSON(ctx, http.MethodPost, "/users/me/favorites/"+strconv.Itoa(bookID), nil, nil)
}

func (c *Client) RemoveFavorite(ctx context.Context, bookID int) error {
	return c.doJSON(ctx, http.MethodDelete, "/users/me/favorites/"+strconv.Itoa(bookID), nil, nil)
}

// ExportCSV downloads the catalog export. The filename comes from
// Content-Disposition, or a default when the header is missing.
func (c *Client) ExportCSV(ctx context.Context) (Export, error) {
	resp, err := c.do(ctx, http.MethodGet, "/admin/books/export.csv", nil)
	if err != nil {
		return Export{}, err
	}
	defer resp.Body.Close()

	content, err := io.ReadAll(resp.Body)
	if err != nil {
		return Export{}, fmt.Errorf("read export: %w", err)
	}

	contentType := resp.Header.Get("Content-Type")
	if contentType == "" {
		contentType = "text/csv"
	}
	return Export{
		Filename:    filenameFromDisposition(resp.Header.Get("Content-Disposition")),
		ContentType: contentType,
		Content:     content,
	}, nil
}

func (c *Client) doJSON(ctx context.Context, method, path string, in, out any) error {
	var body io.Reader
	if in != nil {
		payload, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("encode request: %w", err)
		}
		body = bytes.NewReader(payload)
	}

	resp, err := c.do(ctx, method, path, body)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if out == nil {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode %s %s: %w", method, path, err)
	}
	return nil
}

// do sends the request and turns any non-2xx response into an *APIError.
// On success the caller owns resp.Body.
func (c *Client) do(ctx context.Context, method, path string, body io.Reader) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	c.logger.Debug().Str("method", method).Str("path", path).Msg("api request")

	resp, err := c.http.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		c.logger.Warn().Err(err).Str("method", method).Str("path", path).Msg("api unavailable")
		return nil, &APIError{StatusCode: 0, Kind: KindHTTP, Details: json.RawMessage(`"API unavailable"`)}
	}

	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return resp, nil
	}
	defer resp.Body.Close()

	apiErr := decodeAPIError(resp)
	c.logger.Warn().
		Int("status", apiErr.StatusCode).
		Str("method", method).
		Str("path", path).
		Str("detail", apiErr.Message()).
		Msg("api request failed")
	return nil, apiErr
}

func decodeAPIError(resp *http.Response) *APIError {
	apiErr := &APIError{StatusCode: resp.StatusCode, Kind: KindHTTP}

	raw, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
	var payload struct {
		Error   string          `json:"error"`
		Details json.RawMessage `json:"details"`
	}
	if err := json.Unmarshal(raw, &payload); err == nil && payload.Error != "" {
		apiErr.Kind = payload.Error
		apiErr.Details = payload.Details
		return apiErr
	}

	text := strings.TrimSpace(string(raw))
	if text == "" {
		text = http.StatusText(resp.StatusCode)
	}
	apiErr.Details, _ = json.Marshal(text)
	return apiErr
}

func filenameFromDisposition(header string) string {
	if header == "" {
		return defaultExportFilename
	}
	_, params, err := mime.ParseMediaType(header)
	if err != nil {
		return defaultExportFilename
	}
	if name := strings.TrimSpace(params["filename"]); name != "" {
		return name
	}
	return defaultExportFilename
}

// ParseRefs turns a comma-separated form entry into an author or genre list.
// If every entry is a positive integer the list is by id; otherwise by name.
func ParseRefs(raw string) types.EntityRefs {
	var parts []string
	for _, p := range strings.Split(raw, ",") {
		if p = strings.TrimSpace(p); p != "" {
			parts = append(parts, p)
		}
	}
	if len(parts) == 0 {
		return types.EntityRefs{}
	}

	ids := make([]int, 0, len(parts))
	for _, p := range parts {
		id, err := strconv.Atoi(p)
		if err != nil || id < 1 || !isDigits(p) {
			return types.RefsByNames(parts...)
		}
		ids = append(ids, id)
	}
	return types.RefsByIDs(ids...)
}

func isDigits(s string) bool {
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}
