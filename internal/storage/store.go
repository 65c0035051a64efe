package storage

import (
	"context"
	"io"

	"github.com/nfrund/scriptproc/internal/record"
)

// Store holds the files a run reads and writes: the input records, the result
// channels and the stage scripts.
type Store interface {
	Save(ctx context.Context, path string, reader io.Reader) (int64, error)
	Get(ctx context.Context, path string) (io.ReadCloser, error)
	Delete(ctx context.Context, path string) error

	// ReadRecords decodes the JSON-lines records stored at path.
	ReadRecords(ctx context.Context, path string) ([]*record.Record, error)

	// OpenResultWriter creates the result files named by paths. stdout
	// backs the channels whose path is Stdio.
	OpenResultWriter(paths ResultPaths, stdout io.Writer) (*ResultWriter, error)
}
