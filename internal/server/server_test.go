package server

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/online-library/apiserver/config"
	"github.com/online-library/apiserver/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"
)

type testAPI struct {
	t   *testing.T
	svc *Services
	ts  *httptest.Server
}

func newTestAPI(t *testing.T, env string) *testAPI {
	t.Helper()

	cfg := config.Config{
		Env:          env,
		StoreBackend: StoreMemory,
		BcryptCost:   bcrypt.MinCost,
		CORSOrigins:  []string{"http://localhost:5173"},
		JWT:          config.JWTConfig{Secret: "test-secret", TTL: time.Hour},
	}
	svc, err := OpenServices(context.Background(), cfg)
	require.NoError(t, err)

	ts := httptest.NewServer(NewRouter(cfg, svc))
	t.Cleanup(func() {
		ts.Close()
		_ = svc.Close()
	})
	return &testAPI{t: t, svc: svc, ts: ts}
}

func (a *testAPI) do(method, path, token string, body any) *http.Response {
	a.t.Helper()

	var reader io.Reader
	switch b := body.(type) {
	case nil:
	case string:
		reader = strings.NewReader(b)
	default:
		data, err := json.Marshal(b)
		require.NoError(a.t, err)
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequest(method, a.ts.URL+path, reader)
	require.NoError(a.t, err)
	if reader != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := a.ts.Client().Do(req)
	require.NoError(a.t, err)
	a.t.Cleanup(func() { _ = resp.Body.Close() })
	return resp
}

func (a *testAPI) register(email string) types.User {
	a.t.Helper()
	resp := a.do(http.MethodPost, "/auth/register", "", map[string]string{"email": email, "password": "pw12345678"})
	require.Equal(a.t, http.StatusCreated, resp.StatusCode)

	var user types.User
	require.NoError(a.t, json.NewDecoder(resp.Body).Decode(&user))
	return user
}

func (a *testAPI) login(email string) string {
	a.t.Helper()
	resp := a.do(http.MethodPost, "/auth/login", "", map[string]string{"email": email, "password": "pw12345678"})
	require.Equal(a.t, http.StatusOK, resp.StatusCode)

	var body struct {
		AccessToken string `json:"access_token"`
		TokenType   string `json:"token_type"`
	}
	require.NoError(a.t, json.NewDecoder(resp.Body).Decode(&body))
	require.NotEmpty(a.t, body.AccessToken)
	assert.Equal(a.t, "bearer", body.TokenType)
	return body.AccessToken
}

func (a *testAPI) adminToken() string {
	a.t.Helper()
	a.register("admin@example.com")
	_, _, err := a.svc.Users.SetRole(context.Background(), "admin@example.com", types.RoleAdmin)
	require.NoError(a.t, err)
	return a.login("admin@example.com")
}

func (a *testAPI) createBook(token string, body map[string]any) types.BookDetail {
	a.t.Helper()
	resp := a.do(http.MethodPost, "/books", token, body)
	require.Equal(a.t, http.StatusCreated, resp.StatusCode)

	var book types.BookDetail
	require.NoError(a.t, json.NewDecoder(resp.Body).Decode(&book))
	return book
}

func readBody(t *testing.T, resp *http.Response) string {
	t.Helper()
	data, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	return string(data)
}

func TestRegisterAndLogin(t *testing.T) {
	api := newTestAPI(t, config.EnvTest)

	user := api.register("alice@example.com")
	assert.Equal(t, "alice@example.com", user.Email)
	assert.Equal(t, types.RoleClient, user.Role)

	resp := api.do(http.MethodPost, "/auth/register", "", map[string]string{"email": "ALICE@example.com ", "password": "pw12345678"})
	assert.Equal(t, http.StatusConflict, resp.StatusCode)
	assert.JSONEq(t, `{"error":"http_error","details":"Email already registered"}`, readBody(t, resp))

	token := api.login("alice@example.com")

	resp = api.do(http.MethodPost, "/auth/login", "", map[string]string{"email": "alice@example.com", "password": "wrong-password"})
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	assert.JSONEq(t, `{"error":"http_error","details":"Invalid email or password"}`, readBody(t, resp))

	resp = api.do(http.MethodPost, "/auth/login", "", map[string]string{"email": "nobody@example.com", "password": "pw12345678"})
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	assert.JSONEq(t, `{"error":"http_error","details":"Invalid email or password"}`, readBody(t, resp))

	resp = api.do(http.MethodGet, "/auth/me", token, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	body := readBody(t, resp)
	assert.Contains(t, body, `"email":"alice@example.com"`)
	assert.NotContains(t, body, "password")
}

func TestRegisterAndLoginNormalizeEmail(t *testing.T) {
	api := newTestAPI(t, config.EnvTest)

	user := api.register("  Bob@Example.com ")
	assert.Equal(t, "bob@example.com", user.Email)

	token := api.login(" BOB@example.COM")
	resp := api.do(http.MethodGet, "/auth/me", token, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var me types.User
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&me))
	assert.Equal(t, user.ID, me.ID)

	resp = api.do(http.MethodPost, "/auth/register", "", map[string]string{"email": "   ", "password": "pw12345678"})
	assert.Equal(t, http.StatusUnprocessableEntity, resp.StatusCode)
}

func TestRegisterValidation(t *testing.T) {
	api := newTestAPI(t, config.EnvTest)

	resp := api.do(http.MethodPost, "/auth/register", "", map[string]string{"email": "not-an-email", "password": "short"})
	assert.Equal(t, http.StatusUnprocessableEntity, resp.StatusCode)
	assert.JSONEq(t, `{
		"error": "validation_error",
		"details": [
			{"field": "email", "message": "must be a valid email address"},
			{"field": "password", "message": "must be at least 8 characters"}
		]
	}`, readBody(t, resp))

	resp = api.do(http.MethodPost, "/auth/register", "", "{not json")
	assert.Equal(t, http.StatusUnprocessableEntity, resp.StatusCode)
	assert.JSONEq(t, `{"error":"validation_error","details":[{"field":"body","message":"must be valid JSON"}]}`, readBody(t, resp))

	resp = api.do(http.MethodPost, "/auth/register", "", map[string]any{"email": "a@example.com", "password": strings.Repeat("é", 40)})
	assert.Equal(t, http.StatusUnprocessableEntity, resp.StatusCode)
	assert.Contains(t, readBody(t, resp), "must not exceed 72 bytes in UTF-8")
}

func TestMeRequiresCredentials(t *testing.T) {
	api := newTestAPI(t, config.EnvTest)

	resp := api.do(http.MethodGet, "/auth/me", "", nil)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	assert.Equal(t, "Bearer", resp.Header.Get("WWW-Authenticate"))
	assert.JSONEq(t, `{"error":"http_error","details":"Not authenticated"}`, readBody(t, resp))

	resp = api.do(http.MethodGet, "/auth/me", "garbage", nil)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	assert.JSONEq(t, `{"error":"http_error","details":"Invalid authentication credentials"}`, readBody(t, resp))

	resp = api.do(http.MethodGet, "/books", "garbage", nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestAdminCreatesBookAndExports(t *testing.T) {
	api := newTestAPI(t, config.EnvTest)
	admin := api.adminToken()

	book := api.createBook(admin, map[string]any{
		"title":   "1984",
		"year":    1949,
		"authors": []string{"Orwell"},
		"genres":  []string{"Dystopia"},
	})
	assert.Equal(t, []string{"Orwell"}, book.Authors)
	assert.Equal(t, []string{"Dystopia"}, book.Genres)

	resp := api.do(http.MethodGet, "/books/"+strconv.Itoa(book.ID), "", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	resp = api.do(http.MethodGet, "/books", "", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var list []types.BookSummary
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&list))
	require.Len(t, list, 1)
	assert.Equal(t, book.Summary(), list[0])

	resp = api.do(http.MethodGet, "/admin/books/export.csv", admin, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, `attachment; filename="books.csv"`, resp.Header.Get("Content-Disposition"))
	assert.True(t, strings.HasPrefix(resp.Header.Get("Content-Type"), "text/csv"))

	lines := strings.Split(strings.TrimSpace(readBody(t, resp)), "\n")
	require.Len(t, lines, 2)
	assert.Equal(t, "id,title,year,isbn,authors,genres", strings.TrimSpace(lines[0]))
	assert.Contains(t, lines[1], "1984")
}

func TestCreateBookValidation(t *testing.T) {
	api := newTestAPI(t, config.EnvTest)
	admin := api.adminToken()

	resp := api.do(http.MethodPost, "/books", admin, map[string]any{
		"title":   "   ",
		"year":    2500,
		"authors": []any{1, "Tolstoy"},
		"genres":  []string{},
	})
	assert.Equal(t, http.StatusUnprocessableEntity, resp.StatusCode)
	assert.JSONEq(t, `{
		"error": "validation_error",
		"details": [
			{"field": "title", "message": "must not be empty"},
			{"field": "year", "message": "must be less than or equal to 2100"},
			{"field": "authors", "message": "must not mix ids and names"},
			{"field": "genres", "message": "must contain at least one item"}
		]
	}`, readBody(t, resp))

	resp = api.do(http.MethodPost, "/books", admin, map[string]any{
		"title":   "War and Peace",
		"year":    1869,
		"authors": []int{42},
		"genres":  []string{"Novel"},
	})
	assert.Equal(t, http.StatusUnprocessableEntity, resp.StatusCode)
	assert.Contains(t, readBody(t, resp), "One or more author ids not found")

	api.createBook(admin, map[string]any{
		"title": "A", "year": 2000, "isbn": "isbn-1",
		"authors": []string{"X"}, "genres": []string{"Y"},
	})
	resp = api.do(http.MethodPost, "/books", admin, map[string]any{
		"title": "B", "year": 2000, "isbn": "isbn-1",
		"authors": []string{"X"}, "genres": []string{"Y"},
	})
	assert.Equal(t, http.StatusConflict, resp.StatusCode)
}

func TestClientCannotManageCatalog(t *testing.T) {
	api := newTestAPI(t, config.EnvTest)
	admin := api.adminToken()
	book := api.createBook(admin, map[string]any{
		"title": "1984", "year": 1949,
		"authors": []string{"Orwell"}, "genres": []string{"Dystopia"},
	})

	api.register("bob@example.com")
	client := api.login("bob@example.com")

	resp := api.do(http.MethodPost, "/books", client, map[string]any{
		"title": "Brave New World", "year": 1932,
		"authors": []string{"Huxley"}, "genres": []string{"Dystopia"},
	})
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)
	assert.JSONEq(t, `{"error":"http_error","details":"Admin only"}`, readBody(t, resp))

	resp = api.do(http.MethodDelete, "/books/"+strconv.Itoa(book.ID), client, nil)
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)

	resp = api.do(http.MethodGet, "/admin/books/export.csv", client, nil)
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)

	resp = api.do(http.MethodGet, "/admin/books/export.csv", "", nil)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	resp = api.do(http.MethodDelete, "/books/"+strconv.Itoa(book.ID), admin, nil)
	assert.Equal(t, http.StatusNoContent, resp.StatusCode)
	resp = api.do(http.MethodDelete, "/books/"+strconv.Itoa(book.ID), admin, nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestFavorites(t *testing.T) {
	api := newTestAPI(t, config.EnvTest)
	admin := api.adminToken()
	book := api.createBook(admin, map[string]any{
		"title": "1984", "year": 1949,
		"authors": []string{"Orwell"}, "genres": []string{"Dystopia"},
	})

	api.register("alice@example.com")
	alice := api.login("alice@example.com")
	path := "/users/me/favorites/" + strconv.Itoa(book.ID)

	for i := 0; i < 2; i++ {
		resp := api.do(http.MethodPost, path, alice, nil)
		assert.Equal(t, http.StatusNoContent, resp.StatusCode)
	}

	resp := api.do(http.MethodGet, "/users/me/favorites", alice, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var favorites []types.BookSummary
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&favorites))
	require.Len(t, favorites, 1)
	assert.Equal(t, book.ID, favorites[0].ID)

	resp = api.do(http.MethodGet, "/users/me/favorites", admin, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.JSONEq(t, `[]`, readBody(t, resp))

	for i := 0; i < 2; i++ {
		resp = api.do(http.MethodDelete, path, alice, nil)
		assert.Equal(t, http.StatusNoContent, resp.StatusCode)
	}

	resp = api.do(http.MethodGet, "/users/me/favorites", "", nil)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}

func TestFavoritesMissingBook(t *testing.T) {
	api := newTestAPI(t, config.EnvTest)
	api.register("alice@example.com")
	alice := api.login("alice@example.com")

	resp := api.do(http.MethodPost, "/users/me/favorites/9999", alice, nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	assert.JSONEq(t, `{"error":"http_error","details":"Book not found"}`, readBody(t, resp))

	resp = api.do(http.MethodDelete, "/users/me/favorites/9999", alice, nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)

	resp = api.do(http.MethodPost, "/users/me/favorites/abc", alice, nil)
	assert.Equal(t, http.StatusUnprocessableEntity, resp.StatusCode)
}

func TestDevUserHeader(t *testing.T) {
	devAPI := newTestAPI(t, config.EnvTest)
	user := devAPI.register("alice@example.com")

	req, err := http.NewRequest(http.MethodGet, devAPI.ts.URL+"/auth/me", nil)
	require.NoError(t, err)
	req.Header.Set("X-User-Id", strconv.Itoa(user.ID))
	resp, err := devAPI.ts.Client().Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	prodAPI := newTestAPI(t, config.EnvProduction)
	user = prodAPI.register("alice@example.com")

	req, err = http.NewRequest(http.MethodGet, prodAPI.ts.URL+"/auth/me", nil)
	require.NoError(t, err)
	req.Header.Set("X-User-Id", strconv.Itoa(user.ID))
	resp, err = prodAPI.ts.Client().Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}

func TestHealthzAndMetrics(t *testing.T) {
	api := newTestAPI(t, config.EnvTest)

	resp := api.do(http.MethodGet, "/healthz", "", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.JSONEq(t, `{"status":"ok"}`, readBody(t, resp))

	resp = api.do(http.MethodGet, "/metrics", "", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, readBody(t, resp), "library_http_requests_total")
}

type deadlineExporter struct {
	hasDeadline chan bool
}

func (e deadlineExporter) ExportCSV(ctx context.Context, w io.Writer) (int, error) {
	_, has := ctx.Deadline()
	e.hasDeadline <- has
	_, err := io.WriteString(w, "id,title,year,isbn,authors,genres\n")
	return 0, err
}

func TestExportHasNoRequestDeadline(t *testing.T) {
	api := newTestAPI(t, config.EnvTest)
	token := api.adminToken()

	cfg := config.Config{Env: config.EnvTest}
	exporter := deadlineExporter{hasDeadline: make(chan bool, 1)}
	ts := httptest.NewServer(newRouter(cfg, api.svc, exporter))
	t.Cleanup(ts.Close)

	req, err := http.NewRequest(http.MethodGet, ts.URL+"/admin/books/export.csv", nil)
	require.NoError(t, err)
	req.Header.Set("Authorization", "Bearer "+token)
	resp, err := ts.Client().Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.False(t, <-exporter.hasDeadline)
}
