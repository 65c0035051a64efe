package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"

	"github.com/samber/lo"

	"github.com/nfrund/scriptproc/internal/record"
)

// Stdio is the path that names standard input or output.
const Stdio = "-"

// ReadRecords decodes the JSON-lines records stored at path. The error names
// the path and, for bad input, the line.
func (s *AferoStore) ReadRecords(ctx context.Context, path string) ([]*record.Record, error) {
	f, err := s.Get(ctx, path)
	if err != nil {
		return nil, fmt.Errorf("failed to open records %s: %w", path, err)
	}
	defer f.Close()

	records, err := record.ReadAll(f)
	if err != nil {
		return nil, fmt.Errorf("failed to read records %s: %w", path, err)
	}
	return records, nil
}

// Batches splits records into batches of at most size records. A size of zero
// or less puts every record in one batch.
func Batches(records []*record.Record, size int) [][]*record.Record {
	if len(records) == 0 {
		return nil
	}
	if size <= 0 {
		return [][]*record.Record{records}
	}
	return lo.Chunk(records, size)
}

// ResultPaths names where each result channel is written. An empty path
// discards the channel; Stdio writes it to the standard writer.
type ResultPaths struct {
	Outputs string
	Errors  string
	Events  string
}

// ResultWriter writes outputs, error records and events as JSON lines. It is
// safe for concurrent use, so events can be written from a bus subscriber
// while batches are written by the runner.
type ResultWriter struct {
	mu      sync.Mutex
	outputs *record.Encoder
	errors  *record.Encoder
	events  *record.Encoder
	closers []io.Closer

	written ResultCounts
}

// ResultCounts counts the entries written per channel.
type ResultCounts struct {
	Outputs int
	Errors  int
	Events  int
}

// NewResultWriter writes each channel to its writer. A nil writer discards
// the channel.
func NewResultWriter(outputs, errs, events io.Writer) *ResultWriter {
	enc := func(w io.Writer) *record.Encoder {
		if w == nil {
			w = io.Discard
		}
		return record.NewEncoder(w)
	}
	return &ResultWriter{outputs: enc(outputs), errors: enc(errs), events: enc(events)}
}

// OpenResultWriter creates the files named by paths, with their parent
// directories. When one cannot be created the ones already open are closed.
func (s *AferoStore) OpenResultWriter(paths ResultPaths, stdout io.Writer) (*ResultWriter, error) {
	var closers []io.Closer
	open := func(path string) (io.Writer, error) {
		switch path {
		case "":
			return nil, nil
		case Stdio:
			return stdout, nil
		}
		f, err := s.create(path)
		if err != nil {
			return nil, fmt.Errorf("failed to create %s: %w", path, err)
		}
		closers = append(closers, f)
		return f, nil
	}

	var writers [3]io.Writer
	for i, path := range []string{paths.Outputs, paths.Errors, paths.Events} {
		w, err := open(path)
		if err != nil {
			for _, c := range closers {
				_ = c.Close()
			}
			return nil, err
		}
		writers[i] = w
	}

	w := NewResultWriter(writers[0], writers[1], writers[2])
	w.closers = closers
	return w, nil
}

// WriteOutputs writes records to the output channel.
func (w *ResultWriter) WriteOutputs(records []*record.Record) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	for _, r := range records {
		if err := w.outputs.Encode(r); err != nil {
			return fmt.Errorf("failed to write output %s: %w", r.ID(), err)
		}
		w.written.Outputs++
	}
	return nil
}

// WriteErrors writes error records to the error channel.
func (w *ResultWriter) WriteErrors(records []*record.ErrorRecord) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	for _, r := range records {
		if err := w.errors.EncodeError(r); err != nil {
			return fmt.Errorf("failed to write error record %s: %w", r.Record.ID(), err)
		}
		w.written.Errors++
	}
	return nil
}

// WriteEvent writes one event to the event channel.
func (w *ResultWriter) WriteEvent(ev *record.Event) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if err := w.events.EncodeEvent(ev); err != nil {
		return fmt.Errorf("failed to write event %s: %w", ev.Type, err)
	}
	w.written.Events++
	return nil
}

// Counts returns the number of entries written so far.
func (w *ResultWriter) Counts() ResultCounts {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.written
}

// Close closes the files opened by OpenResultWriter.
func (w *ResultWriter) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	var errs []error
	for _, c := range w.closers {
		errs = append(errs, c.Close())
	}
	w.closers = nil
	return errors.Join(errs...)
}
