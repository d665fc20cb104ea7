package reaper

import (
	"context"
	"errors"
	"io"
	"log"
	"testing"
	"time"

	"rangerd/services/dhcpd/internal/store"
)

type fakeStore struct {
	leases []store.Lease
	err    error
	calls  int
}

func (f *fakeStore) ExpireOverdueLeases(context.Context) ([]store.Lease, error) {
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	out := f.leases
	f.leases = nil
	return out, nil
}

func TestSweep(t *testing.T) {
	t.Run("retires overdue leases once", func(t *testing.T) {
		fs := &fakeStore{leases: []store.Lease{{Hostname: "a"}, {Hostname: "b"}}}
		r := New(fs, nil, log.New(io.Discard, "", 0), time.Minute)

		r.sweep(context.Background())
		r.sweep(context.Background())

		if fs.calls != 2 {
			t.Fatalf("store calls = %d, want 2", fs.calls)
		}
	})

	t.Run("store failure is not fatal", func(t *testing.T) {
		fs := &fakeStore{err: errors.New("connection refused")}
		r := New(fs, nil, log.New(io.Discard, "", 0), time.Minute)
		r.sweep(context.Background())
		if fs.calls != 1 {
			t.Fatalf("store calls = %d, want 1", fs.calls)
		}
	})
}

func TestRunStopsOnCancel(t *testing.T) {
	fs := &fakeStore{}
	r := New(fs, nil, log.New(io.Discard, "", 0), time.Millisecond)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		r.Run(ctx)
		close(done)
	}()

	time.Sleep(20 * time.Millisecond)
	cancel()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatalf("run did not stop after cancel")
	}
	if fs.calls == 0 {
		t.Fatalf("run never swept")
	}
}
