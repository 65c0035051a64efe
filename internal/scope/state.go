package scope

import (
	orderedmap "github.com/wk8/go-ordered-map/v2"
)

// State is the process-wide mapping shared by the init, main and destroy
// scripts of one processor. Values are script-native and opaque to the host.
// It is not safe for concurrent use; the processor serializes invocations.
type State struct {
	values *orderedmap.OrderedMap[string, any]
}

// NewState returns empty state.
func NewState() *State {
	return &State{values: orderedmap.New[string, any]()}
}

func (s *State) Get(key string) (any, bool) { return s.values.Get(key) }

func (s *State) Set(key string, value any) { s.values.Set(key, value) }

func (s *State) Has(key string) bool {
	_, ok := s.values.Get(key)
	return ok
}

func (s *State) Delete(key string) { s.values.Delete(key) }

func (s *State) Len() int { return s.values.Len() }

// Keys returns the keys in insertion order.
func (s *State) Keys() []string {
	keys := make([]string, 0, s.values.Len())
	for pair := s.values.Oldest(); pair != nil; pair = pair.Next() {
		keys = append(keys, pair.Key)
	}
	return keys
}

// Clear drops every entry.
func (s *State) Clear() {
	s.values = orderedmap.New[string, any]()
}
