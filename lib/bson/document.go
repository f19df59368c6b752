package bson

import (
	"bytes"
	"strings"

	"github.com/samber/oops"
)

// MaxDepth is the maximum nesting depth of embedded documents and arrays.
const MaxDepth = 32

// Value is one of: nil, bool, int32, int64, float64, string, []byte,
// Array, or *Document.
type Value interface{}

// Array is an ordered sequence of values, encoded as a document with
// ascending integer keys.
type Array []Value

type element struct {
	key   string
	value Value
}

// Document is an ordered map from string keys to values. The zero value is
// an empty document; NewDocument returns a pointer to one.
type Document struct {
	elems []element
}

// NewDocument returns an empty document.
func NewDocument() *Document {
	return &Document{}
}

// Set appends key with value, or replaces the value in place if key is
// already present. The value must be a supported Value and the key must be
// valid UTF-8 without NUL bytes.
func (d *Document) Set(key string, value Value) error {
	if strings.IndexByte(key, 0) >= 0 {
		return ErrBadKey
	}
	if !validValue(value) {
		return oops.Errorf("bson: cannot store %T under key %q: %w", value, key, ErrBadValue)
	}
	for i := range d.elems {
		if d.elems[i].key == key {
			d.elems[i].value = value
			return nil
		}
	}
	d.elems = append(d.elems, element{key: key, value: value})
	return nil
}

// MustSet is Set for statically well-formed values; it panics on the errors
// Set would report. Intended for document literals built from constants.
func (d *Document) MustSet(key string, value Value) *Document {
	if err := d.Set(key, value); err != nil {
		panic(err)
	}
	return d
}

// Get returns the value stored under key.
func (d *Document) Get(key string) (Value, bool) {
	for i := range d.elems {
		if d.elems[i].key == key {
			return d.elems[i].value, true
		}
	}
	return nil, false
}

// Keys returns the document's keys in insertion order.
func (d *Document) Keys() []string {
	keys := make([]string, len(d.elems))
	for i := range d.elems {
		keys[i] = d.elems[i].key
	}
	return keys
}

// Len returns the number of elements.
func (d *Document) Len() int {
	return len(d.elems)
}

// Equal reports whether two documents hold the same keys in the same order
// with equal values.
func (d *Document) Equal(other *Document) bool {
	if d == nil || other == nil {
		return d == other
	}
	if len(d.elems) != len(other.elems) {
		return false
	}
	for i := range d.elems {
		if d.elems[i].key != other.elems[i].key {
			return false
		}
		if !valueEqual(d.elems[i].value, other.elems[i].value) {
			return false
		}
	}
	return true
}

func valueEqual(a, b Value) bool {
	switch av := a.(type) {
	case nil:
		return b == nil
	case []byte:
		bv, ok := b.([]byte)
		return ok && bytes.Equal(av, bv)
	case Array:
		bv, ok := b.(Array)
		if !ok || len(av) != len(bv) {
			return false
		}
		for i := range av {
			if !valueEqual(av[i], bv[i]) {
				return false
			}
		}
		return true
	case *Document:
		bv, ok := b.(*Document)
		return ok && av.Equal(bv)
	default:
		return a == b
	}
}

func validValue(v Value) bool {
	switch val := v.(type) {
	case nil, bool, int32, int64, float64, string, []byte:
		return true
	case Array:
		for i := range val {
			if !validValue(val[i]) {
				return false
			}
		}
		return true
	case *Document:
		return val != nil
	default:
		return false
	}
}

// typed getters used by the RPC layer; a missing or mistyped field is an
// error at the caller

// GetString returns the string stored under key.
func (d *Document) GetString(key string) (string, error) {
	v, ok := d.Get(key)
	if !ok {
		return "", oops.Errorf("bson: missing string field %q", key)
	}
	s, ok := v.(string)
	if !ok {
		return "", oops.Errorf("bson: field %q is %T, not string", key, v)
	}
	return s, nil
}

// GetInt32 returns the int32 stored under key.
func (d *Document) GetInt32(key string) (int32, error) {
	v, ok := d.Get(key)
	if !ok {
		return 0, oops.Errorf("bson: missing int32 field %q", key)
	}
	n, ok := v.(int32)
	if !ok {
		return 0, oops.Errorf("bson: field %q is %T, not int32", key, v)
	}
	return n, nil
}

// GetInt64 returns the int64 stored under key.
func (d *Document) GetInt64(key string) (int64, error) {
	v, ok := d.Get(key)
	if !ok {
		return 0, oops.Errorf("bson: missing int64 field %q", key)
	}
	n, ok := v.(int64)
	if !ok {
		return 0, oops.Errorf("bson: field %q is %T, not int64", key, v)
	}
	return n, nil
}

// GetBool returns the bool stored under key.
func (d *Document) GetBool(key string) (bool, error) {
	v, ok := d.Get(key)
	if !ok {
		return false, oops.Errorf("bson: missing bool field %q", key)
	}
	b, ok := v.(bool)
	if !ok {
		return false, oops.Errorf("bson: field %q is %T, not bool", key, v)
	}
	return b, nil
}

// GetBinary returns the binary blob stored under key.
func (d *Document) GetBinary(key string) ([]byte, error) {
	v, ok := d.Get(key)
	if !ok {
		return nil, oops.Errorf("bson: missing binary field %q", key)
	}
	b, ok := v.([]byte)
	if !ok {
		return nil, oops.Errorf("bson: field %q is %T, not binary", key, v)
	}
	return b, nil
}

// GetDocument returns the embedded document stored under key.
func (d *Document) GetDocument(key string) (*Document, error) {
	v, ok := d.Get(key)
	if !ok {
		return nil, oops.Errorf("bson: missing document field %q", key)
	}
	doc, ok := v.(*Document)
	if !ok {
		return nil, oops.Errorf("bson: field %q is %T, not document", key, v)
	}
	return doc, nil
}

// GetArray returns the array stored under key.
func (d *Document) GetArray(key string) (Array, error) {
	v, ok := d.Get(key)
	if !ok {
		return nil, oops.Errorf("bson: missing array field %q", key)
	}
	a, ok := v.(Array)
	if !ok {
		return nil, oops.Errorf("bson: field %q is %T, not array", key, v)
	}
	return a, nil
}
