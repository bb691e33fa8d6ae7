package models

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
)

// Identified is implemented by entities that can be referenced by id.
type Identified interface {
	RefID() string
}

// Ref holds either a bare id or an inline (populated) entity. Collaborator
// payloads send one or the other depending on their populate state; the
// union is decoded once here and business code only ever reads ID().
type Ref[T Identified] struct {
	id     string
	inline *T
}

func RefOf[T Identified](id string) Ref[T] { return Ref[T]{id: id} }

func InlineRef[T Identified](v T) Ref[T] { return Ref[T]{id: v.RefID(), inline: &v} }

func (r Ref[T]) ID() string { return r.id }

// Inline returns the embedded entity when the payload carried one.
func (r Ref[T]) Inline() (T, bool) {
	if r.inline == nil {
		var zero T
		return zero, false
	}
	return *r.inline, true
}

func (r Ref[T]) IsZero() bool { return r.id == "" }

func (r *Ref[T]) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if len(b) == 0 || bytes.Equal(b, []byte("null")) {
		*r = Ref[T]{}
		return nil
	}
	switch b[0] {
	case '"':
		var id string
		if err := json.Unmarshal(b, &id); err != nil {
			return err
		}
		*r = Ref[T]{id: id}
		return nil
	case '{':
		var v T
		if err := json.Unmarshal(b, &v); err != nil {
			return fmt.Errorf("decode inline reference: %w", err)
		}
		if v.RefID() == "" {
			return errors.New("inline reference without id")
		}
		*r = Ref[T]{id: v.RefID(), inline: &v}
		return nil
	default:
		return fmt.Errorf("reference must be an id string or an object, got %q", b)
	}
}

func (r Ref[T]) MarshalJSON() ([]byte, error) {
	if r.inline != nil {
		return json.Marshal(r.inline)
	}
	return json.Marshal(r.id)
}
