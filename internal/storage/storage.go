// Package storage archives catalog exports in an object store.
package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/online-library/apiserver/config"
)

const (
	BackendNone   = ""
	BackendMinio  = "minio"
	BackendGCS    = "gcs"
	BackendMemory = "memory"

	// SizeUnknown tells Put to stream the reader until EOF.
	SizeUnknown int64 = -1

	ContentTypeCSV = "text/csv; charset=utf-8"
)

var (
	// ErrDisabled is returned by Open when no backend is configured.
	ErrDisabled = errors.New("storage backend not configured")
	// ErrIncomplete is returned by Archive when the stored object is shorter or
	// longer than what was written.
	ErrIncomplete = errors.New("stored object is incomplete")
)

// ObjectStorage defines common object operations across backends.
type ObjectStorage interface {
	EnsureBucket(ctx context.Context) error
	Put(ctx context.Context, key string, r io.Reader, size int64, contentType string) error
	Get(ctx context.Context, key string) (io.ReadCloser, error)
	Delete(ctx context.Context, key string) error
	Bucket() string
}

// Storage wraps an ObjectStorage backend with a stable API.
type Storage struct {
	backend ObjectStorage
}

// NewStorage constructs a Storage wrapper for the provided backend.
func NewStorage(backend ObjectStorage) *Storage {
	return &Storage{backend: backend}
}

// Open builds the backend selected by cfg.Backend and makes sure its bucket exists.
func Open(ctx context.Context, cfg config.StorageConfig) (*Storage, error) {
	var (
		backend ObjectStorage
		err     error
	)
	switch strings.ToLower(strings.TrimSpace(cfg.Backend)) {
	case BackendNone:
		return nil, ErrDisabled
	case BackendMinio:
		backend, err = NewMinioClient(cfg.Minio)
	case BackendGCS:
		backend, err = NewGCSClient(ctx, cfg.GCS)
	case BackendMemory:
		backend = NewMemoryStorage("memory")
	default:
		return nil, fmt.Errorf("unknown storage backend %q", cfg.Backend)
	}
	if err != nil {
		return nil, err
	}

	s := NewStorage(backend)
	if err := s.EnsureBucket(ctx); err != nil {
		return nil, fmt.Errorf("ensure bucket %s: %w", backend.Bucket(), err)
	}
	return s, nil
}

func (s *Storage) EnsureBucket(ctx context.Context) error {
	return s.backend.EnsureBucket(ctx)
}

func (s *Storage) Put(ctx context.Context, key string, r io.Reader, size int64, contentType string) error {
	return s.backend.Put(ctx, key, r, size, contentType)
}

func (s *Storage) Get(ctx context.Context, key string) (io.ReadCloser, error) {
	return s.backend.Get(ctx, key)
}

func (s *Storage) Delete(ctx context.Context, key string) error {
	return s.backend.Delete(ctx, key)
}

func (s *Storage) Bucket() string {
	return s.backend.Bucket()
}

// UploadStream runs write against the writing end of a pipe while the reading
// end is uploaded under key, so the object is never held in memory whole.
// The first error from either side is returned.
func (s *Storage) UploadStream(ctx context.Context, key, contentType string, write func(w io.Writer) error) error {
	pr, pw := io.Pipe()

	writeErr := make(chan error, 1)
	go func() {
		err := write(pw)
		_ = pw.CloseWithError(err)
		writeErr <- err
	}()

	putErr := s.Put(ctx, key, pr, SizeUnknown, contentType)
	// Unblock the writer if the upload gave up early.
	_ = pr.CloseWithError(putErr)

	if err := <-writeErr; err != nil {
		return err
	}
	return putErr
}

// Archive uploads the output of write under key with UploadStream, then reads
// the object back and checks its size. An object that cannot be read back or
// has the wrong size is deleted.
func (s *Storage) Archive(ctx context.Context, key, contentType string, write func(w io.Writer) error) error {
	var written int64
	err := s.UploadStream(ctx, key, contentType, func(w io.Writer) error {
		cw := &countingWriter{w: w}
		err := write(cw)
		written = cw.n
		return err
	})
	if err != nil {
		return err
	}

	if err := s.verify(ctx, key, written); err != nil {
		if delErr := s.Delete(ctx, key); delErr != nil {
			return errors.Join(err, fmt.Errorf("delete %s: %w", key, delErr))
		}
		return err
	}
	return nil
}

func (s *Storage) verify(ctx context.Context, key string, want int64) error {
	r, err := s.Get(ctx, key)
	if err != nil {
		return fmt.Errorf("read back %s: %w", key, err)
	}
	defer r.Close()

	got, err := io.Copy(io.Discard, r)
	if err != nil {
		return fmt.Errorf("read back %s: %w", key, err)
	}
	if got != want {
		return fmt.Errorf("%w: %s has %d of %d bytes", ErrIncomplete, key, got, want)
	}
	return nil
}

type countingWriter struct {
	w io.Writer
	n int64
}

func (c *countingWriter) Write(p []byte) (int, error) {
	n, err := c.w.Write(p)
	c.n += int64(n)
	return n, err
}

// ExportKey names an archived catalog export taken at t.
func ExportKey(t time.Time) string {
	return fmt.Sprintf("exports/books-%s-%s.csv", t.UTC().Format("20060102T150405Z"), uuid.NewString())
}
