package storage

import (
	"bytes"
	"context"
	"io"
	"strings"
	"testing"

	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nfrund/scriptproc/internal/field"
	"github.com/nfrund/scriptproc/internal/record"
)

func TestAferoStore_Unit(t *testing.T) {
	// No disk I/O is performed.
	memFs := afero.NewMemMapFs()
	store := NewAferoStore(memFs)
	ctx := context.Background()

	filePath := "test/dir/my-file.txt"
	fileContent := "hello world, this is a test"

	t.Run("Save", func(t *testing.T) {
		bytesWritten, err := store.Save(ctx, filePath, strings.NewReader(fileContent))
		require.NoError(t, err)
		assert.Equal(t, int64(len(fileContent)), bytesWritten)

		readBytes, err := afero.ReadFile(memFs, filePath)
		require.NoError(t, err)
		assert.Equal(t, fileContent, string(readBytes))
	})

	t.Run("Get", func(t *testing.T) {
		file, err := store.Get(ctx, filePath)
		require.NoError(t, err)
		defer file.Close()

		readBytes, err := io.ReadAll(file)
		require.NoError(t, err)
		assert.Equal(t, fileContent, string(readBytes))
	})

	t.Run("Delete", func(t *testing.T) {
		require.NoError(t, store.Delete(ctx, filePath))

		exists, err := afero.Exists(memFs, filePath)
		require.NoError(t, err)
		assert.False(t, exists, "file should not exist after deleting")
	})

	t.Run("Get non-existent file", func(t *testing.T) {
		_, err := store.Get(ctx, "path/to/nothing.txt")
		assert.Error(t, err)
	})
}

func TestReadRecords(t *testing.T) {
	memFs := afero.NewMemMapFs()
	store := NewAferoStore(memFs)
	input := `{"id":"a","value":{"type":"STRING","value":"x"}}

{"id":"b","value":{"type":"LONG","value":2},"header":{"source":"test"}}
`
	require.NoError(t, afero.WriteFile(memFs, "in.jsonl", []byte(input), 0o644))

	records, err := store.ReadRecords(context.Background(), "in.jsonl")
	require.NoError(t, err)
	require.Len(t, records, 2)
	assert.Equal(t, "a", records[0].ID())
	assert.True(t, records[0].Root().Equal(field.NewString("x")))
	assert.True(t, records[1].Root().Equal(field.NewLong(2)))
	source, ok := records[1].Header().Get("source")
	assert.True(t, ok)
	assert.Equal(t, "test", source)

	_, err = store.ReadRecords(context.Background(), "missing.jsonl")
	assert.ErrorContains(t, err, "missing.jsonl")

	require.NoError(t, afero.WriteFile(memFs, "bad.jsonl", []byte("{not json\n"), 0o644))
	_, err = store.ReadRecords(context.Background(), "bad.jsonl")
	assert.ErrorContains(t, err, "line 1")
}

func TestBatches(t *testing.T) {
	records := make([]*record.Record, 5)
	for i := range records {
		records[i] = record.MustNew(string(rune('a'+i)), field.NewLong(int64(i)))
	}

	testCases := []struct {
		name  string
		size  int
		sizes []int
	}{
		{"one batch when unbounded", 0, []int{5}},
		{"exact split", 5, []int{5}},
		{"remainder", 2, []int{2, 2, 1}},
		{"larger than input", 10, []int{5}},
	}
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			batches := Batches(records, tc.size)
			sizes := make([]int, len(batches))
			for i, b := range batches {
				sizes[i] = len(b)
			}
			assert.Equal(t, tc.sizes, sizes)
			assert.Equal(t, "a", batches[0][0].ID())
		})
	}

	assert.Empty(t, Batches(nil, 3))
}

func TestResultWriter(t *testing.T) {
	memFs := afero.NewMemMapFs()
	store := NewAferoStore(memFs)
	var stdout bytes.Buffer

	w, err := store.OpenResultWriter(ResultPaths{Outputs: Stdio, Errors: "out/errors.jsonl", Events: "out/events.jsonl"}, &stdout)
	require.NoError(t, err)

	rec := record.MustNew("r1", field.NewString("v"))
	require.NoError(t, w.WriteOutputs([]*record.Record{rec, rec.Clone()}))
	require.NoError(t, w.WriteErrors([]*record.ErrorRecord{{Record: rec, Message: "bad value"}}))

	evRec, err := record.NewEventRecord("done", 3)
	require.NoError(t, err)
	ev, err := record.EventFromRecord(evRec)
	require.NoError(t, err)
	require.NoError(t, w.WriteEvent(ev))

	assert.Equal(t, ResultCounts{Outputs: 2, Errors: 1, Events: 1}, w.Counts())
	require.NoError(t, w.Close())

	outputs, err := record.ReadAll(&stdout)
	require.NoError(t, err)
	require.Len(t, outputs, 2)
	assert.Equal(t, "r1", outputs[0].ID())

	errs, err := afero.ReadFile(memFs, "out/errors.jsonl")
	require.NoError(t, err)
	assert.Contains(t, string(errs), `"message":"bad value"`)

	events, err := afero.ReadFile(memFs, "out/events.jsonl")
	require.NoError(t, err)
	assert.Contains(t, string(events), `"type":"done"`)
	assert.Contains(t, string(events), `"version":3`)
}

func TestResultWriterDiscardsUnnamedChannels(t *testing.T) {
	w := NewResultWriter(nil, nil, nil)
	require.NoError(t, w.WriteOutputs([]*record.Record{record.MustNew("a", field.NewString("x"))}))
	assert.Equal(t, 1, w.Counts().Outputs)
	require.NoError(t, w.Close())
}

func TestOpenResultWriterFailsOnReadOnlyFs(t *testing.T) {
	store := NewAferoStore(afero.NewReadOnlyFs(afero.NewMemMapFs()))
	_, err := store.OpenResultWriter(ResultPaths{Outputs: "out.jsonl"}, nil)
	assert.ErrorContains(t, err, "out.jsonl")
}
