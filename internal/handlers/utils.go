package handlers

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/online-library/apiserver/internal/log"
	"github.com/online-library/apiserver/internal/services"
	"github.com/online-library/apiserver/internal/validation"
)

const (
	ErrorKindValidation = "validation_error"
	ErrorKindHTTP       = "http_error"

	maxJSONBodyBytes = 1 << 20
)

// ErrorResponse is the body of every non-2xx JSON response.
// Details is a message string for http_error and a []validation.FieldError
// for validation_error.
type ErrorResponse struct {
	Error   string `json:"error"`
	Details any    `json:"details"`
}

func writeJSON(w http.ResponseWriter, status int, value any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(value)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, ErrorResponse{Error: ErrorKindHTTP, Details: message})
}

func writeValidationError(w http.ResponseWriter, err *validation.Error) {
	fields := err.Fields
	if fields == nil {
		fields = []validation.FieldError{}
	}
	writeJSON(w, http.StatusUnprocessableEntity, ErrorResponse{Error: ErrorKindValidation, Details: fields})
}

// writeServiceError maps a service error onto a status and a client-safe
// message. Unexpected errors are logged and reported as a bare 500.
func writeServiceError(w http.ResponseWriter, r *http.Request, err error) {
	var ve *validation.Error
	switch {
	case errors.As(err, &ve):
		writeValidationError(w, ve)
	case errors.Is(err, services.ErrEmailTaken):
		writeError(w, http.StatusConflict, "Email already registered")
	case errors.Is(err, services.ErrInvalidCredentials):
		writeError(w, http.StatusUnauthorized, "Invalid email or password")
	case errors.Is(err, services.ErrInvalidToken):
		writeUnauthenticated(w, msgInvalidCredentials)
	case errors.Is(err, services.ErrBookNotFound):
		writeError(w, http.StatusNotFound, "Book not found")
	case errors.Is(err, services.ErrISBNTaken):
		writeError(w, http.StatusConflict, "Book with this ISBN already exists")
	case errors.Is(err, services.ErrUserNotFound):
		writeError(w, http.StatusNotFound, "User not found")
	default:
		logInternalError(r, err)
		writeError(w, http.StatusInternalServerError, "Internal server error")
	}
}

func logInternalError(r *http.Request, err error) {
	logger := log.WithComponent("http")
	logger.Error().
		Err(err).
		Str("request_id", middleware.GetReqID(r.Context())).
		Str("method", r.Method).
		Str("path", r.URL.Path).
		Msg("request failed")
}

// decodeJSON reads a JSON object body into dst. Every decoding problem is
// reported as a *validation.Error so it surfaces as 422.
func decodeJSON(w http.ResponseWriter, r *http.Request, dst any) error {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxJSONBodyBytes))
	if err := dec.Decode(dst); err != nil {
		return decodeProblem(err)
	}
	if err := dec.Decode(&struct{}{}); !errors.Is(err, io.EOF) {
		return validation.Field("body", "must contain a single JSON object")
	}
	return nil
}

func decodeProblem(err error) *validation.Error {
	var (
		syntaxErr *json.SyntaxError
		typeErr   *json.UnmarshalTypeError
		maxErr    *http.MaxBytesError
	)
	switch {
	case errors.Is(err, io.EOF):
		return validation.Field("body", "is required")
	case errors.As(err, &syntaxErr), errors.Is(err, io.ErrUnexpectedEOF):
		return validation.Field("body", "must be valid JSON")
	case errors.As(err, &typeErr):
		field := typeErr.Field
		if field == "" {
			field = "body"
		}
		return validation.Field(field, fmt.Sprintf("must be of type %s", jsonTypeName(typeErr.Type.Kind().String())))
	case errors.As(err, &maxErr):
		return validation.Field("body", fmt.Sprintf("must not exceed %d bytes", maxErr.Limit))
	default:
		return validation.Field("body", "is invalid")
	}
}

func jsonTypeName(kind string) string {
	switch kind {
	case "string":
		return "string"
	case "int", "int8", "int16", "int32", "int64", "uint", "uint8", "uint16", "uint32", "uint64":
		return "integer"
	case "float32", "float64":
		return "number"
	case "bool":
		return "boolean"
	case "slice", "array":
		return "list"
	default:
		return "object"
	}
}

// pathID parses a positive integer URL parameter.
func pathID(r *http.Request, name string) (int, error) {
	raw := chi.URLParam(r, name)
	id, err := strconv.Atoi(raw)
	if err != nil {
		return 0, validation.Field(name, "must be an integer")
	}
	return id, nil
}

// Healthz reports that the process is serving.
func Healthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}
