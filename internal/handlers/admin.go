package handlers

import (
	"context"
	"io"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/online-library/apiserver/internal/access"
	"github.com/online-library/apiserver/internal/log"
)

// Exporter streams the catalog as CSV.
type Exporter interface {
	ExportCSV(ctx context.Context, w io.Writer) (int, error)
}

// exportChunkTimeout bounds a single write of the export, not the whole export.
const exportChunkTimeout = 30 * time.Second

type AdminHandler struct {
	exporter Exporter
}

func NewAdminHandler(exporter Exporter) *AdminHandler {
	return &AdminHandler{exporter: exporter}
}

// AdminRouter registers admin-only routes on the given router.
func AdminRouter(r chi.Router, exporter Exporter) {
	handler := NewAdminHandler(exporter)

	r.With(requireCapability(access.ExportCatalog)).Get("/books/export.csv", handler.ExportBooks)
}

// ExportBooks streams the catalog. Once the first byte is sent the status can
// no longer change, so a failure mid-stream only truncates the body and is logged.
func (h *AdminHandler) ExportBooks(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/csv; charset=utf-8")
	w.Header().Set("Content-Disposition", `attachment; filename="books.csv"`)
	w.Header().Set("Cache-Control", "no-store")
	w.WriteHeader(http.StatusOK)

	rows, err := h.exporter.ExportCSV(r.Context(), newDeadlineWriter(w, exportChunkTimeout))
	logger := log.WithComponent("export")
	if err != nil {
		logger.Error().
			Err(err).
			Str("request_id", middleware.GetReqID(r.Context())).
			Int("rows", rows).
			Msg("catalog export aborted")
		return
	}
	logger.Info().
		Str("request_id", middleware.GetReqID(r.Context())).
		Int("rows", rows).
		Msg("catalog exported")
}

// deadlineWriter moves the connection write deadline forward before every
// chunk, so the server WriteTimeout only ends an export whose client stalls.
type deadlineWriter struct {
	w       http.ResponseWriter
	rc      *http.ResponseController
	timeout time.Duration
}

func newDeadlineWriter(w http.ResponseWriter, timeout time.Duration) *deadlineWriter {
	return &deadlineWriter{
		w:       w,
		rc:      http.NewResponseController(w),
		timeout: timeout,
	}
}

func (d *deadlineWriter) Write(p []byte) (int, error) {
	// Writers that cannot hold a deadline (e.g. recorders) report ErrNotSupported.
	_ = d.rc.SetWriteDeadline(time.Now().Add(d.timeout))
	return d.w.Write(p)
}

func (d *deadlineWriter) Flush() {
	_ = d.rc.Flush()
}
