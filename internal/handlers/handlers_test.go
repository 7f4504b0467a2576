package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/online-library/apiserver/internal/access"
	"github.com/online-library/apiserver/internal/log"
	"github.com/online-library/apiserver/internal/services"
	"github.com/online-library/apiserver/types"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type stubUsers struct {
	byToken map[string]types.User
	byID    map[int]types.User
	err     error
}

func (s stubUsers) Identify(_ context.Context, token string) (types.User, error) {
	if s.err != nil {
		return types.User{}, s.err
	}
	user, ok := s.byToken[token]
	if !ok {
		return types.User{}, services.ErrInvalidToken
	}
	return user, nil
}

func (s stubUsers) GetByID(_ context.Context, id int) (types.User, error) {
	user, ok := s.byID[id]
	if !ok {
		return types.User{}, services.ErrUserNotFound
	}
	return user, nil
}

func guarded(users UserLookup, devAuth bool, c access.Capability) http.Handler {
	ok := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := access.FromContext(r.Context())
		writeJSON(w, http.StatusOK, map[string]any{"user_id": id.UserID(), "role": id.Role()})
	})
	return Identity(users, devAuth)(requireCapability(c)(ok))
}

func decodeError(t *testing.T, rec *httptest.ResponseRecorder) ErrorResponse {
	t.Helper()
	var body ErrorResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	return body
}

func TestIdentityGuards(t *testing.T) {
	client := types.User{ID: 1, Role: types.RoleClient}
	admin := types.User{ID: 2, Role: types.RoleAdmin}
	users := stubUsers{
		byToken: map[string]types.User{"client-token": client, "admin-token": admin},
		byID:    map[int]types.User{1: client, 2: admin},
	}

	tests := []struct {
		name       string
		devAuth    bool
		capability access.Capability
		headers    map[string]string
		wantStatus int
		wantDetail string
	}{
		{"guest browses", false, access.Browse, nil, http.StatusOK, ""},
		{"guest favorites", false, access.OwnFavorites, nil, http.StatusUnauthorized, msgNotAuthenticated},
		{"bad token on public route", false, access.Browse, map[string]string{"Authorization": "Bearer nope"}, http.StatusOK, ""},
		{"bad token on guarded route", false, access.OwnFavorites, map[string]string{"Authorization": "Bearer nope"}, http.StatusUnauthorized, msgInvalidCredentials},
		{"wrong scheme", false, access.OwnFavorites, map[string]string{"Authorization": "Basic abc"}, http.StatusUnauthorized, msgInvalidCredentials},
		{"client favorites", false, access.OwnFavorites, map[string]string{"Authorization": "Bearer client-token"}, http.StatusOK, ""},
		{"client manages catalog", false, access.ManageCatalog, map[string]string{"Authorization": "bearer client-token"}, http.StatusForbidden, msgAdminOnly},
		{"admin manages catalog", false, access.ManageCatalog, map[string]string{"Authorization": "Bearer admin-token"}, http.StatusOK, ""},
		{"dev header ignored when disabled", false, access.OwnFavorites, map[string]string{headerDevUserID: "1"}, http.StatusUnauthorized, msgNotAuthenticated},
		{"dev header", true, access.ExportCatalog, map[string]string{headerDevUserID: "2"}, http.StatusOK, ""},
		{"dev header unknown user", true, access.OwnFavorites, map[string]string{headerDevUserID: "9"}, http.StatusUnauthorized, msgInvalidCredentials},
		{"dev header not a number", true, access.OwnFavorites, map[string]string{headerDevUserID: "abc"}, http.StatusUnauthorized, msgInvalidCredentials},
		{"bearer wins over dev header", true, access.ManageCatalog, map[string]string{"Authorization": "Bearer client-token", headerDevUserID: "2"}, http.StatusForbidden, msgAdminOnly},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/", nil)
			for k, v := range tt.headers {
				req.Header.Set(k, v)
			}
			rec := httptest.NewRecorder()
			guarded(users, tt.devAuth, tt.capability).ServeHTTP(rec, req)

			assert.Equal(t, tt.wantStatus, rec.Code)
			if tt.wantDetail == "" {
				return
			}
			body := decodeError(t, rec)
			assert.Equal(t, ErrorKindHTTP, body.Error)
			assert.Equal(t, tt.wantDetail, body.Details)
			if tt.wantStatus == http.StatusUnauthorized {
				assert.Equal(t, "Bearer", rec.Header().Get("WWW-Authenticate"))
			}
		})
	}
}

func TestIdentityLookupFailureIs500(t *testing.T) {
	users := stubUsers{err: errors.New("database down")}
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("Authorization", "Bearer anything")
	rec := httptest.NewRecorder()

	guarded(users, false, access.Browse).ServeHTTP(rec, req)

	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.Equal(t, "Internal server error", decodeError(t, rec).Details)
}

func TestBearerToken(t *testing.T) {
	token, ok := bearerToken("Bearer abc")
	assert.True(t, ok)
	assert.Equal(t, "abc", token)

	_, ok = bearerToken("Bearer ")
	assert.False(t, ok)
	_, ok = bearerToken("Token abc")
	assert.False(t, ok)
	_, ok = bearerToken("abc")
	assert.False(t, ok)
}

func TestDecodeJSON(t *testing.T) {
	type payload struct {
		Email string `json:"email"`
		Year  int    `json:"year"`
	}

	tests := []struct {
		name      string
		body      string
		wantField string
		wantMsg   string
	}{
		{"empty", "", "body", "is required"},
		{"syntax", `{"email":`, "body", "must be valid JSON"},
		{"wrong type", `{"year":"1869"}`, "year", "must be of type integer"},
		{"trailing object", `{"email":"a"}{"email":"b"}`, "body", "must contain a single JSON object"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(tt.body))
			var dst payload
			err := decodeJSON(httptest.NewRecorder(), req, &dst)

			require.Error(t, err)
			rec := httptest.NewRecorder()
			writeServiceError(rec, req, err)
			assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)

			var body struct {
				Error   string `json:"error"`
				Details []struct {
					Field   string `json:"field"`
					Message string `json:"message"`
				} `json:"details"`
			}
			require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
			assert.Equal(t, ErrorKindValidation, body.Error)
			require.Len(t, body.Details, 1)
			assert.Equal(t, tt.wantField, body.Details[0].Field)
			assert.Equal(t, tt.wantMsg, body.Details[0].Message)
		})
	}
}

func TestWriteServiceErrorMapping(t *testing.T) {
	tests := []struct {
		err    error
		status int
		detail string
	}{
		{services.ErrEmailTaken, http.StatusConflict, "Email already registered"},
		{services.ErrInvalidCredentials, http.StatusUnauthorized, "Invalid email or password"},
		{services.ErrBookNotFound, http.StatusNotFound, "Book not found"},
		{services.ErrISBNTaken, http.StatusConflict, "Book with this ISBN already exists"},
		{errors.New("boom"), http.StatusInternalServerError, "Internal server error"},
	}

	for _, tt := range tests {
		t.Run(tt.detail, func(t *testing.T) {
			rec := httptest.NewRecorder()
			writeServiceError(rec, httptest.NewRequest(http.MethodGet, "/", nil), tt.err)
			assert.Equal(t, tt.status, rec.Code)
			assert.Equal(t, tt.detail, decodeError(t, rec).Details)
		})
	}
}

type chunkExporter struct {
	chunks int
}

func (e chunkExporter) ExportCSV(_ context.Context, w io.Writer) (int, error) {
	flusher, ok := w.(interface{ Flush() })
	if !ok {
		return 0, errors.New("export writer cannot flush")
	}
	for i := 0; i < e.chunks; i++ {
		if _, err := io.WriteString(w, "row\n"); err != nil {
			return i, err
		}
		flusher.Flush()
	}
	return e.chunks, nil
}

func TestExportBooksStreamsThroughDeadlineWriter(t *testing.T) {
	handler := NewAdminHandler(chunkExporter{chunks: 3})

	rec := httptest.NewRecorder()
	handler.ExportBooks(rec, httptest.NewRequest(http.MethodGet, "/admin/books/export.csv", nil))

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.True(t, rec.Flushed)
	assert.Equal(t, "row\nrow\nrow\n", rec.Body.String())
	assert.Equal(t, `attachment; filename="books.csv"`, rec.Header().Get("Content-Disposition"))
	assert.Equal(t, "text/csv; charset=utf-8", rec.Header().Get("Content-Type"))
}

func TestInternalErrorIsLogged(t *testing.T) {
	var buf bytes.Buffer
	previous := log.Logger
	log.Logger = zerolog.New(&buf)
	t.Cleanup(func() { log.Logger = previous })

	rec := httptest.NewRecorder()
	writeServiceError(rec, httptest.NewRequest(http.MethodDelete, "/books/3", nil), errors.New("disk full"))

	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.NotContains(t, rec.Body.String(), "disk full")
	assert.Contains(t, buf.String(), `"component":"http"`)
	assert.Contains(t, buf.String(), "disk full")
	assert.Contains(t, buf.String(), `"path":"/books/3"`)
}
