package schema

import (
	"bytes"
	"encoding/json"
)

// Field is one optional slot in a patch. An unset Field leaves the target
// untouched; a set Field with Null clears a nullable target; otherwise V is
// written.
//
// Fields marshal with `omitzero`, so an unset slot disappears from JSON while
// an explicit null survives the round trip.
type Field[T any] struct {
	Set  bool
	Null bool
	V    T
}

// Some returns a set Field holding v.
func Some[T any](v T) Field[T] {
	return Field[T]{Set: true, V: v}
}

// Null returns a set Field that clears its target.
func Null[T any]() Field[T] {
	return Field[T]{Set: true, Null: true}
}

// IsZero lets encoding/json omit unset fields.
func (f Field[T]) IsZero() bool {
	return !f.Set
}

// Ptr returns nil for a null Field, or a pointer to a copy of V.
func (f Field[T]) Ptr() *T {
	if f.Null {
		return nil
	}
	v := f.V
	return &v
}

// MarshalJSON implements json.Marshaler.
func (f Field[T]) MarshalJSON() ([]byte, error) {
	if f.Null || !f.Set {
		return []byte("null"), nil
	}
	return json.Marshal(f.V)
}

// UnmarshalJSON implements json.Unmarshaler. encoding/json only calls it
// for keys that are present, so presence alone marks the Field as set.
func (f *Field[T]) UnmarshalJSON(data []byte) error {
	f.Set = true
	if bytes.Equal(bytes.TrimSpace(data), []byte("null")) {
		f.Null = true
		var zero T
		f.V = zero
		return nil
	}
	f.Null = false
	return json.Unmarshal(data, &f.V)
}
