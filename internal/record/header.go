package record

import (
	"maps"
	"slices"
)

// Header is the free-form string attribute map of a record.
type Header struct {
	attrs map[string]string
}

// NewHeader returns an empty header.
func NewHeader() *Header {
	return &Header{attrs: make(map[string]string)}
}

func (h *Header) Get(name string) (string, bool) {
	v, ok := h.attrs[name]
	return v, ok
}

func (h *Header) Set(name, value string) {
	if h.attrs == nil {
		h.attrs = make(map[string]string)
	}
	h.attrs[name] = value
}

func (h *Header) Delete(name string) {
	delete(h.attrs, name)
}

func (h *Header) Len() int {
	return len(h.attrs)
}

// Keys returns the attribute names sorted.
func (h *Header) Keys() []string {
	return slices.Sorted(maps.Keys(h.attrs))
}

// All returns a copy of the attributes.
func (h *Header) All() map[string]string {
	return maps.Clone(h.attrs)
}

// Clone returns an independent copy.
func (h *Header) Clone() *Header {
	return &Header{attrs: maps.Clone(h.attrs)}
}
