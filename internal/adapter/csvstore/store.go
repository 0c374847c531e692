package csvstore

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sync"

	"github.com/couchcryptid/forecast-collector/internal/domain"
	"github.com/couchcryptid/forecast-collector/internal/observability"
)

// Mode selects how a batch is reconciled with an existing store.
type Mode string

const (
	// ModeAppend appends rows after checking the stored header is identical
	// to the batch columns. Any drift is rejected with domain.ErrSchemaMismatch.
	// Each append copies the whole existing file into the staged temp file,
	// which is the cost of replacing the store by rename.
	ModeAppend Mode = "append"

	// ModeMerge reads the whole store, outer-joins its columns with the
	// batch columns and rewrites the file. Cells for columns a row never
	// had are left empty.
	ModeMerge Mode = "merge"
)

// Store persists batches to a CSV file.
// It implements pipeline.BatchCommitter.
type Store struct {
	path    string
	mode    Mode
	mu      sync.Mutex
	logger  *slog.Logger
	metrics *observability.Metrics
}

// New creates a store backed by the CSV file at path.
func New(path string, mode Mode, logger *slog.Logger, metrics *observability.Metrics) *Store {
	return &Store{path: path, mode: mode, logger: logger, metrics: metrics}
}

// Path returns the store file path.
func (s *Store) Path() string { return s.path }

// Commit writes batch to the store. A missing (or empty) store is created
// with a header row. Every write goes to a temporary file in the same
// directory that is renamed over the store, so a failed commit leaves the
// previous contents untouched.
//
// Commits are serialized within the process and across processes through
// an exclusive "<path>.lock" file; a held lock fails with domain.ErrStoreLocked.
func (s *Store) Commit(ctx context.Context, batch domain.Batch) error {
	if batch.Len() == 0 {
		return nil
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	unlock, err := acquireLock(s.path + ".lock")
	if err != nil {
		return err
	}
	defer unlock()

	header, exists, err := readHeader(s.path)
	if err != nil {
		return err
	}

	switch {
	case !exists:
		err = s.create(batch)
	case s.mode == ModeMerge:
		err = s.merge(batch)
	default:
		err = s.append(header, batch)
	}
	if err != nil {
		if errors.Is(err, domain.ErrSchemaMismatch) {
			s.metrics.SchemaMismatches.Inc()
		}
		return fmt.Errorf("commit to %s: %w", s.path, err)
	}

	s.metrics.RowsCommitted.Add(float64(batch.Len()))
	s.logger.Info("batch committed",
		"path", s.path,
		"mode", string(s.mode),
		"created", !exists,
		"rows", batch.Len(),
	)
	return nil
}

func (s *Store) create(batch domain.Batch) error {
	return writeAtomic(s.path, func(w io.Writer) error {
		cw := csv.NewWriter(w)
		if err := cw.Write(batch.Columns()); err != nil {
			return err
		}
		return writeBatch(cw, batch, nil)
	})
}

func (s *Store) append(header []string, batch domain.Batch) error {
	if err := domain.MatchHeader(header, batch.Columns()); err != nil {
		return fmt.Errorf("append rejected (use merge mode to reconcile): %w", err)
	}

	return writeAtomic(s.path, func(w io.Writer) error {
		src, err := os.Open(s.path)
		if err != nil {
			return err
		}
		defer src.Close()

		tw := &trackingWriter{w: w}
		if _, err := io.Copy(tw, src); err != nil {
			return fmt.Errorf("copy existing rows: %w", err)
		}
		if tw.last != '\n' {
			if _, err := io.WriteString(w, "\n"); err != nil {
				return err
			}
		}
		return writeBatch(csv.NewWriter(w), batch, nil)
	})
}

func (s *Store) merge(batch domain.Batch) error {
	records, err := readAll(s.path)
	if err != nil {
		return err
	}
	stored := records[0]

	merged, err := domain.ReconcileColumns(stored, batch.Columns())
	if err != nil {
		return err
	}
	if added := len(merged) - len(stored); added > 0 {
		s.logger.Warn("store schema widened",
			"path", s.path,
			"stored_columns", stored,
			"merged_columns", merged,
		)
	}

	return writeAtomic(s.path, func(w io.Writer) error {
		cw := csv.NewWriter(w)
		if err := cw.Write(merged); err != nil {
			return err
		}
		for _, row := range records[1:] {
			if err := cw.Write(domain.Remap(row, stored, merged)); err != nil {
				return err
			}
		}
		return writeBatch(cw, batch, merged)
	})
}

// writeBatch writes every batch record, remapped to layout when non-nil,
// and flushes.
func writeBatch(cw *csv.Writer, batch domain.Batch, layout []string) error {
	cols := batch.Columns()
	for i := range batch.Len() {
		cells := batch.Cells(i)
		if layout != nil {
			cells = domain.Remap(cells, cols, layout)
		}
		if err := cw.Write(cells); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}

// readHeader returns the first record of the store. An absent or empty file
// reports exists=false.
func readHeader(path string) ([]string, bool, error) {
	f, err := os.Open(path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("open store: %w", err)
	}
	defer f.Close()

	header, err := csv.NewReader(f).Read()
	if errors.Is(err, io.EOF) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("%w: read header: %w", domain.ErrCorruptStore, err)
	}
	return header, true, nil
}

// readAll loads every record, requiring each row to have the header's
// column count.
func readAll(path string) ([][]string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open store: %w", err)
	}
	defer f.Close()

	records, err := csv.NewReader(f).ReadAll()
	if err != nil {
		return nil, fmt.Errorf("%w: %w", domain.ErrCorruptStore, err)
	}
	if len(records) == 0 {
		return nil, fmt.Errorf("%w: no header", domain.ErrCorruptStore)
	}
	return records, nil
}

// writeAtomic stages fill's output in a temporary file next to path, syncs
// it and renames it over path.
func writeAtomic(path string, fill func(io.Writer) error) (err error) {
	perm := fs.FileMode(0o644)
	if info, statErr := os.Stat(path); statErr == nil {
		perm = info.Mode().Perm()
	}

	tmp, err := os.CreateTemp(filepath.Dir(path), "."+filepath.Base(path)+".*.tmp")
	if err != nil {
		return fmt.Errorf("stage write: %w", err)
	}
	defer func() {
		if err != nil {
			_ = tmp.Close()
			_ = os.Remove(tmp.Name())
		}
	}()

	if err = fill(tmp); err != nil {
		return fmt.Errorf("stage write: %w", err)
	}
	if err = tmp.Chmod(perm); err != nil {
		return fmt.Errorf("stage write: %w", err)
	}
	if err = tmp.Sync(); err != nil {
		return fmt.Errorf("stage write: %w", err)
	}
	if err = tmp.Close(); err != nil {
		return fmt.Errorf("stage write: %w", err)
	}
	if err = os.Rename(tmp.Name(), path); err != nil {
		return fmt.Errorf("replace store: %w", err)
	}
	return nil
}

// acquireLock creates path exclusively and returns a func that removes it.
func acquireLock(path string) (func(), error) {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o644)
	if errors.Is(err, fs.ErrExist) {
		return nil, fmt.Errorf("%w: %s exists (remove it if no other collector is running)", domain.ErrStoreLocked, path)
	}
	if err != nil {
		return nil, fmt.Errorf("create lock: %w", err)
	}
	_, _ = fmt.Fprintf(f, "%d\n", os.Getpid())
	_ = f.Close()

	return func() { _ = os.Remove(path) }, nil
}

// trackingWriter remembers the last byte written.
type trackingWriter struct {
	w    io.Writer
	last byte
}

func (t *trackingWriter) Write(p []byte) (int, error) {
	n, err := t.w.Write(p)
	if n > 0 {
		t.last = p[n-1]
	}
	return n, err
}
