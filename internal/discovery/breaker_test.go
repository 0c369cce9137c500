package discovery

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/sony/gobreaker/v2"
)

func TestGuardOpensAfterRepeatedFailures(t *testing.T) {
	inner := &scriptedLister{err: errors.New("connection refused")}
	l := Guard(inner, 2, time.Hour)

	for i := 0; i < 2; i++ {
		if _, err := l.Tabs(context.Background()); err == nil {
			t.Fatal("Tabs() error = nil")
		}
	}
	_, err := l.Tabs(context.Background())
	if !errors.Is(err, gobreaker.ErrOpenState) {
		t.Fatalf("Tabs() error = %v; want open breaker", err)
	}
	if inner.calls != 2 {
		t.Fatalf("inner calls = %d; want 2", inner.calls)
	}
}

func TestGuardPassesResults(t *testing.T) {
	inner := &scriptedLister{}
	l := Guard(inner, 0, time.Second)
	if _, err := l.Tabs(context.Background()); err != nil {
		t.Fatalf("Tabs() error = %v", err)
	}
}
