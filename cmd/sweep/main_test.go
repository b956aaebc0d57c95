package main

import (
	"context"
	"errors"
	"testing"
)

type stubExpirer struct {
	batches []int
	calls   int
	err     error
}

func (s *stubExpirer) ArchiveExpired(_ context.Context, _ int) (int, error) {
	if s.calls >= len(s.batches) {
		return 0, s.err
	}
	n := s.batches[s.calls]
	s.calls++
	return n, nil
}

func TestSweep_DrainsUntilShortBatch(t *testing.T) {
	stub := &stubExpirer{batches: []int{10, 10, 3, 10}}
	total, err := sweep(context.Background(), stub, 10)
	if err != nil {
		t.Fatalf("sweep: %v", err)
	}
	if total != 23 || stub.calls != 3 {
		t.Fatalf("expected 23 archived in 3 calls, got %d in %d", total, stub.calls)
	}
}

func TestSweep_StopsOnError(t *testing.T) {
	stub := &stubExpirer{batches: []int{5}, err: errors.New("db down")}
	total, err := sweep(context.Background(), stub, 5)
	if err == nil {
		t.Fatal("expected error")
	}
	if total != 5 {
		t.Fatalf("expected partial total 5, got %d", total)
	}
}

func TestSweep_HonoursCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	stub := &stubExpirer{batches: []int{5}}
	if _, err := sweep(ctx, stub, 5); !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
	if stub.calls != 0 {
		t.Fatalf("no batch should run after cancel, got %d", stub.calls)
	}
}
