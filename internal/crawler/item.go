package crawler

import (
	"bytes"
	"encoding/json"
	"fmt"
	"slices"
)

// Item is an ordered key/value record extracted by a spider. Keys are unique
// and keep the position of their first insertion.
type Item struct {
	keys       []string
	values     map[string]any
	dropped    bool
	dropReason string
}

// NewItem returns an empty item.
func NewItem() *Item {
	return &Item{values: make(map[string]any)}
}

// ItemFrom builds an item from alternating key/value arguments. A trailing key
// without a value is stored as nil; non-string keys are formatted with %v.
func ItemFrom(kv ...any) *Item {
	item := NewItem()
	for i := 0; i < len(kv); i += 2 {
		key := fmt.Sprint(kv[i])
		var value any
		if i+1 < len(kv) {
			value = kv[i+1]
		}
		item.Set(key, value)
	}
	return item
}

// Set stores value under key. Overwriting keeps the original position.
func (it *Item) Set(key string, value any) {
	if it.values == nil {
		it.values = make(map[string]any)
	}
	if _, ok := it.values[key]; !ok {
		it.keys = append(it.keys, key)
	}
	it.values[key] = value
}

// Get returns the value for key.
func (it *Item) Get(key string) (any, bool) {
	v, ok := it.values[key]
	return v, ok
}

// GetString returns the value for key when it is a string, otherwise "".
func (it *Item) GetString(key string) string {
	s, _ := it.values[key].(string)
	return s
}

// Has reports whether key is set.
func (it *Item) Has(key string) bool {
	_, ok := it.values[key]
	return ok
}

// Delete removes key.
func (it *Item) Delete(key string) {
	if _, ok := it.values[key]; !ok {
		return
	}
	delete(it.values, key)
	it.keys = slices.DeleteFunc(it.keys, func(k string) bool { return k == key })
}

// Keys returns the keys in insertion order.
func (it *Item) Keys() []string {
	return slices.Clone(it.keys)
}

// Len returns the number of fields.
func (it *Item) Len() int {
	return len(it.keys)
}

// Drop marks the item dropped; the pipeline stops at the next step.
func (it *Item) Drop(reason string) {
	it.dropped = true
	it.dropReason = reason
}

// Dropped reports whether Drop was called.
func (it *Item) Dropped() bool {
	return it.dropped
}

// DropReason returns the reason given to Drop.
func (it *Item) DropReason() string {
	return it.dropReason
}

// Map returns an unordered copy of the fields.
func (it *Item) Map() map[string]any {
	out := make(map[string]any, len(it.keys))
	for _, k := range it.keys {
		out[k] = it.values[k]
	}
	return out
}

// MarshalJSON encodes the item as a JSON object with keys in insertion order.
func (it *Item) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte('{')
	for i, k := range it.keys {
		if i > 0 {
			buf.WriteByte(',')
		}
		key, err := json.Marshal(k)
		if err != nil {
			return nil, fmt.Errorf("marshal key %q: %w", k, err)
		}
		buf.Write(key)
		buf.WriteByte(':')
		value, err := json.Marshal(it.values[k])
		if err != nil {
			return nil, fmt.Errorf("marshal field %q: %w", k, err)
		}
		buf.Write(value)
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}
