package metrics

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
)

func TestMiddlewareLabelsByRoutePattern(t *testing.T) {
	router := chi.NewRouter()
	router.Use(Middleware)
	router.Get("/books/{bookID}", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	})

	before := testutil.ToFloat64(HTTPRequestsTotal.WithLabelValues(http.MethodGet, "/books/{bookID}", "404"))

	for _, id := range []string{"1", "2"} {
		rec := httptest.NewRecorder()
		router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/books/"+id, nil))
		assert.Equal(t, http.StatusNotFound, rec.Code)
	}

	after := testutil.ToFloat64(HTTPRequestsTotal.WithLabelValues(http.MethodGet, "/books/{bookID}", "404"))
	assert.Equal(t, before+2, after)
}

func TestHandlerServesRegistry(t *testing.T) {
	LoginsTotal.WithLabelValues("success").Inc()

	rec := httptest.NewRecorder()
	Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "library_logins_total")
}
