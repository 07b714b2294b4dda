package domain

import (
	"bytes"
	"encoding/json"
)

// Ref points at another record. It is either unresolved (only the id is
// known) or resolved (the record was loaded alongside). The zero Ref means
// "no reference".
type Ref[T any] struct {
	id    string
	value *T
}

func RefTo[T any](id string) Ref[T] {
	return Ref[T]{id: id}
}

func ResolvedRef[T any](id string, value T) Ref[T] {
	return Ref[T]{id: id, value: &value}
}

func (r Ref[T]) ID() string {
	return r.id
}

func (r Ref[T]) IsZero() bool {
	return r.id == ""
}

func (r Ref[T]) IsResolved() bool {
	return r.value != nil
}

// Resolved returns the loaded record, if any.
func (r Ref[T]) Resolved() (T, bool) {
	if r.value == nil {
		var zero T
		return zero, false
	}
	return *r.value, true
}

// Unresolved drops the loaded record and keeps the id.
func (r Ref[T]) Unresolved() Ref[T] {
	return Ref[T]{id: r.id}
}

type refJSON[T any] struct {
	ID    string `json:"id"`
	Value *T     `json:"value,omitempty"`
}

func (r Ref[T]) MarshalJSON() ([]byte, error) {
	if r.IsZero() {
		return []byte("null"), nil
	}
	return json.Marshal(refJSON[T]{ID: r.id, Value: r.value})
}

func (r *Ref[T]) UnmarshalJSON(data []byte) error {
	trimmed := bytes.TrimSpace(data)
	if bytes.Equal(trimmed, []byte("null")) {
		*r = Ref[T]{}
		return nil
	}
	if len(trimmed) > 0 && trimmed[0] == '"' {
		var id string
		if err := json.Unmarshal(trimmed, &id); err != nil {
			return err
		}
		*r = Ref[T]{id: id}
		return nil
	}
	var raw refJSON[T]
	if err := json.Unmarshal(trimmed, &raw); err != nil {
		return err
	}
	*r = Ref[T]{id: raw.ID, value: raw.Value}
	return nil
}
