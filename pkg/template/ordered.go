package template

import (
	"bytes"
	"encoding/json"
)

// Ordered is a JSON object that serializes its keys in insertion order.
type Ordered struct {
	keys   []string
	values map[string]any
}

// NewOrdered returns an empty object.
func NewOrdered() *Ordered {
	return &Ordered{values: map[string]any{}}
}

// Set inserts or replaces key. A replaced key keeps its position.
func (o *Ordered) Set(key string, value any) {
	if _, ok := o.values[key]; !ok {
		o.keys = append(o.keys, key)
	}
	o.values[key] = value
}

// Get returns the value stored under key.
func (o *Ordered) Get(key string) (any, bool) {
	v, ok := o.values[key]
	return v, ok
}

// Has reports whether key is present.
func (o *Ordered) Has(key string) bool {
	_, ok := o.values[key]
	return ok
}

// Delete removes key.
func (o *Ordered) Delete(key string) {
	if _, ok := o.values[key]; !ok {
		return
	}
	delete(o.values, key)
	for i, k := range o.keys {
		if k == key {
			o.keys = append(o.keys[:i], o.keys[i+1:]...)
			break
		}
	}
}

// Keys returns the keys in order.
func (o *Ordered) Keys() []string {
	return append([]string(nil), o.keys...)
}

// Len returns the number of keys.
func (o *Ordered) Len() int {
	return len(o.keys)
}

// Copy returns a shallow copy.
func (o *Ordered) Copy() *Ordered {
	out := &Ordered{keys: o.Keys(), values: make(map[string]any, len(o.values))}
	for k, v := range o.values {
		out.values[k] = v
	}
	return out
}

// MarshalJSON implements json.Marshaler.
func (o *Ordered) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte('{')
	for i, k := range o.keys {
		if i > 0 {
			buf.WriteByte(',')
		}
		key, err := json.Marshal(k)
		if err != nil {
			return nil, err
		}
		buf.Write(key)
		buf.WriteByte(':')
		value, err := json.Marshal(o.values[k])
		if err != nil {
			return nil, err
		}
		buf.Write(value)
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}
