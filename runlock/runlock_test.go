package runlock

import (
	"context"
	"errors"
	"testing"

	"github.com/google/uuid"
)

func TestLocal_AcquireRelease(t *testing.T) {
	ctx := context.Background()
	l := NewLocal()
	a, b := uuid.New(), uuid.New()

	release, err := l.Acquire(ctx, a)
	if err != nil {
		t.Fatalf("acquire: %v", err)
	}
	if _, err := l.Acquire(ctx, a); !errors.Is(err, ErrHeld) {
		t.Fatalf("expected ErrHeld for second acquire, got %v", err)
	}

	releaseB, err := l.Acquire(ctx, b)
	if err != nil {
		t.Fatalf("expected other provider to be free, got %v", err)
	}
	releaseB()

	release()
	release()
	again, err := l.Acquire(ctx, a)
	if err != nil {
		t.Fatalf("expected lock free after release, got %v", err)
	}
	again()
}
