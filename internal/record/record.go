// Package record holds the unit of data flowing through a pipeline: an id, a
// root typed field and a mutable string header.
package record

import (
	"errors"

	"github.com/nfrund/scriptproc/internal/field"
)

// ErrMissingID is returned when a record is created without an id.
var ErrMissingID = errors.New("record id must not be empty")

// Record is a typed field tree with an immutable id and header attributes.
type Record struct {
	id     string
	root   *field.Field
	header *Header
}

// New creates a record. A nil root becomes a null MAP.
func New(id string, root *field.Field) (*Record, error) {
	if id == "" {
		return nil, ErrMissingID
	}
	if root == nil {
		root = field.Null(field.TypeMap)
	}
	return &Record{id: id, root: root, header: NewHeader()}, nil
}

// MustNew is New for ids known to be valid.
func MustNew(id string, root *field.Field) *Record {
	r, err := New(id, root)
	if err != nil {
		panic(err)
	}
	return r
}

// ID returns the record id.
func (r *Record) ID() string { return r.id }

// Root returns the root field.
func (r *Record) Root() *field.Field { return r.root }

// SetRoot replaces the root field.
func (r *Record) SetRoot(f *field.Field) {
	if f == nil {
		f = field.Null(r.root.Type())
	}
	r.root = f
}

// Header returns the mutable header attributes.
func (r *Record) Header() *Header { return r.header }

// Get returns the field at path, or nil when absent.
func (r *Record) Get(path string) (*field.Field, error) {
	return field.Get(r.root, path)
}

// Has reports whether a field exists at path.
func (r *Record) Has(path string) bool {
	f, err := field.Get(r.root, path)
	return err == nil && f != nil
}

// Set stores f at path; the empty path replaces the root.
func (r *Record) Set(path string, f *field.Field) error {
	root, err := field.Set(r.root, path, f)
	if err != nil {
		return err
	}
	r.root = root
	return nil
}

// Delete removes the field at path and returns it.
func (r *Record) Delete(path string) (*field.Field, error) {
	return field.Delete(r.root, path)
}

// FieldPaths lists every field path of the record.
func (r *Record) FieldPaths() []string {
	return field.Paths(r.root)
}

// Clone returns a deep copy with the same id.
func (r *Record) Clone() *Record {
	return &Record{id: r.id, root: r.root.Clone(), header: r.header.Clone()}
}

// ErrorRecord is a record routed to the error output with its diagnostic.
type ErrorRecord struct {
	Record  *Record
	Message string
}
