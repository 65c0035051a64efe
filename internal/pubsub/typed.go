package pubsub

import (
	"context"
	"encoding/json"
	"fmt"
	"reflect"
	"strconv"
	"strings"

	"github.com/nfrund/scriptproc/internal/record"
)

// Metadata keys set on event messages.
const (
	MetaKeyEventType    = "event_type"
	MetaKeyEventVersion = "event_version"
)

// Topic[T] wraps a topic name and provides type-safe publishing.
type Topic[T any] struct {
	name        string
	description string
	fields      []string
}

// NewTopic creates a typed topic. It uses reflection to list the JSON field
// names of T for documentation.
func NewTopic[T any](name, description string) Topic[T] {
	var zero T
	t := reflect.TypeOf(zero)
	fields := make([]string, 0)

	// Handle both struct and pointer to struct
	if t != nil && t.Kind() == reflect.Ptr {
		t = t.Elem()
	}

	if t != nil && t.Kind() == reflect.Struct {
		for i := 0; i < t.NumField(); i++ {
			jsonTag := t.Field(i).Tag.Get("json")
			if jsonTag == "" || jsonTag == "-" {
				continue
			}
			fieldName, _, _ := strings.Cut(jsonTag, ",")
			fields = append(fields, fieldName)
		}
	}

	return Topic[T]{name: name, description: description, fields: fields}
}

// Name returns the topic name.
func (t Topic[T]) Name() string {
	return t.name
}

// Description returns the topic description.
func (t Topic[T]) Description() string {
	return t.description
}

// PayloadFields returns the JSON field names of the payload type.
func (t Topic[T]) PayloadFields() []string {
	return t.fields
}

// Publish sends a typed payload. The compiler ensures 'payload' matches 'T'.
func Publish[T any](ctx context.Context, p Publisher, topic Topic[T], stage string, payload T, metadata map[string]string) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to encode %s payload: %w", topic.Name(), err)
	}

	return p.Publish(ctx, Message{
		Topic:    topic.Name(),
		Stage:    stage,
		Payload:  data,
		Metadata: metadata,
	})
}

// Subscribe decodes every message of topic into T before calling handler.
// A payload that does not decode is reported as a handler error.
func Subscribe[T any](ctx context.Context, s Subscriber, topic Topic[T], handler func(ctx context.Context, stage string, payload T) error) error {
	return s.Subscribe(ctx, topic.Name(), func(ctx context.Context, msg Message) error {
		var payload T
		if err := json.Unmarshal(msg.Payload, &payload); err != nil {
			return fmt.Errorf("failed to decode %s payload: %w", topic.Name(), err)
		}
		return handler(ctx, msg.Stage, payload)
	})
}

// EventTopic is the topic carrying the events emitted by stage.
func EventTopic(stage string) Topic[*record.Event] {
	return NewTopic[*record.Event]("scriptproc."+stage+".events", "Events emitted by the scripts of stage "+stage)
}

// PublishEvents publishes events on the event topic of stage, in order.
func PublishEvents(ctx context.Context, p Publisher, stage string, events []*record.Event) error {
	topic := EventTopic(stage)
	for _, ev := range events {
		metadata := map[string]string{
			MetaKeyEventType:    ev.Type,
			MetaKeyEventVersion: strconv.Itoa(ev.Version),
		}
		if err := Publish(ctx, p, topic, stage, ev, metadata); err != nil {
			return err
		}
	}
	return nil
}
