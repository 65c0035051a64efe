package record

import (
	"bufio"
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"

	"github.com/google/uuid"

	"github.com/nfrund/scriptproc/internal/field"
)

type recordJSON struct {
	ID     string            `json:"id"`
	Value  *field.Field      `json:"value"`
	Header map[string]string `json:"header,omitempty"`
}

// MarshalJSON encodes the record as {"id","value","header"}.
func (r *Record) MarshalJSON() ([]byte, error) {
	return json.Marshal(recordJSON{ID: r.id, Value: r.root, Header: r.header.attrs})
}

// UnmarshalJSON decodes a record. A missing id is replaced by a generated one
// and a missing value becomes a null MAP.
func (r *Record) UnmarshalJSON(data []byte) error {
	var raw recordJSON
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	if raw.ID == "" {
		raw.ID = uuid.NewString()
	}
	if raw.Value == nil {
		raw.Value = field.Null(field.TypeMap)
	}
	r.id = raw.ID
	r.root = raw.Value
	r.header = &Header{attrs: raw.Header}
	if r.header.attrs == nil {
		r.header.attrs = make(map[string]string)
	}
	return nil
}

func (e *ErrorRecord) MarshalJSON() ([]byte, error) {
	return json.Marshal(struct {
		Record  *Record `json:"record"`
		Message string  `json:"message"`
	}{e.Record, e.Message})
}

// Encoder writes records, error records and events as JSON lines.
type Encoder struct {
	enc *json.Encoder
}

// NewEncoder returns an encoder writing to w.
func NewEncoder(w io.Writer) *Encoder {
	enc := json.NewEncoder(w)
	enc.SetEscapeHTML(false)
	return &Encoder{enc: enc}
}

// Encode writes one record line.
func (e *Encoder) Encode(r *Record) error {
	return e.enc.Encode(r)
}

// EncodeError writes one error record line.
func (e *Encoder) EncodeError(er *ErrorRecord) error {
	return e.enc.Encode(er)
}

// EncodeEvent writes one event line.
func (e *Encoder) EncodeEvent(ev *Event) error {
	return e.enc.Encode(ev)
}

// Decoder reads JSON-lines records. Blank lines are skipped.
type Decoder struct {
	scanner *bufio.Scanner
	line    int
}

// NewDecoder returns a decoder reading from r.
func NewDecoder(r io.Reader) *Decoder {
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 64*1024), 16*1024*1024)
	return &Decoder{scanner: sc}
}

// Decode returns the next record, or io.EOF when the input is exhausted.
func (d *Decoder) Decode() (*Record, error) {
	for d.scanner.Scan() {
		d.line++
		line := bytes.TrimSpace(d.scanner.Bytes())
		if len(line) == 0 {
			continue
		}
		var r Record
		if err := json.Unmarshal(line, &r); err != nil {
			return nil, fmt.Errorf("line %d: %w", d.line, err)
		}
		return &r, nil
	}
	if err := d.scanner.Err(); err != nil {
		return nil, err
	}
	return nil, io.EOF
}

// ReadAll decodes every record of r.
func ReadAll(r io.Reader) ([]*Record, error) {
	dec := NewDecoder(r)
	var out []*Record
	for {
		rec, err := dec.Decode()
		if errors.Is(err, io.EOF) {
			return out, nil
		}
		if err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
}
