package record

import (
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/google/uuid"

	"github.com/nfrund/scriptproc/internal/field"
)

// Header attributes stamped on event records.
const (
	EventTypeAttr              = "sdc.event.type"
	EventVersionAttr           = "sdc.event.version"
	EventCreationTimestampAttr = "sdc.event.creation_timestamp"
)

// ErrMissingEventType is returned when an event is created without a type.
var ErrMissingEventType = errors.New("event type must not be empty")

// Event is a record-shaped side-channel message.
type Event struct {
	Type    string  `json:"type"`
	Version int     `json:"version"`
	Record  *Record `json:"record"`
}

// NewEventRecord creates an event record with a generated id and a null MAP root.
func NewEventRecord(eventType string, version int) (*Record, error) {
	if eventType == "" {
		return nil, ErrMissingEventType
	}
	r, err := New("event:"+uuid.NewString(), nil)
	if err != nil {
		return nil, err
	}
	r.header.Set(EventTypeAttr, eventType)
	r.header.Set(EventVersionAttr, strconv.Itoa(version))
	r.header.Set(EventCreationTimestampAttr, strconv.FormatInt(time.Now().UnixMilli(), 10))
	return r, nil
}

// IsEvent reports whether r carries the event header attributes.
func IsEvent(r *Record) bool {
	_, ok := r.header.Get(EventTypeAttr)
	return ok
}

// EventFromRecord reads the type and version of an event record.
func EventFromRecord(r *Record) (*Event, error) {
	eventType, ok := r.header.Get(EventTypeAttr)
	if !ok || eventType == "" {
		return nil, fmt.Errorf("record %s is not an event record", r.id)
	}
	version, err := strconv.Atoi(r.header.attrs[EventVersionAttr])
	if err != nil {
		return nil, fmt.Errorf("event record %s has invalid version: %w", r.id, err)
	}
	return &Event{Type: eventType, Version: version, Record: r}, nil
}

// Value returns the root field of the event record.
func (e *Event) Value() *field.Field {
	return e.Record.Root()
}
