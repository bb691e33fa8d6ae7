package lease

import (
	"context"
	"errors"
	"testing"
)

func TestAcquireRejectsSecondHolder(t *testing.T) {
	ctx := context.Background()
	s := NewSet()
	release, err := s.Acquire(ctx, Key("u1", "st1"))
	if err != nil {
		t.Fatalf("first acquire: %v", err)
	}
	if _, err := s.Acquire(ctx, Key("u1", "st1")); !errors.Is(err, ErrOperationInProgress) {
		t.Fatalf("expected ErrOperationInProgress, got %v", err)
	}
	if _, err := s.Acquire(ctx, Key("u1", "st2")); err != nil {
		t.Fatalf("other key should be free: %v", err)
	}
	release()
	release()
	if s.Held(Key("u1", "st1")) {
		t.Fatalf("lease should be released")
	}
	if _, err := s.Acquire(ctx, Key("u1", "st1")); err != nil {
		t.Fatalf("re-acquire after release: %v", err)
	}
}
