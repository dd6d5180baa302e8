package snapshot

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/alfredjeanlab/consentd/internal/store"
)

// mockDestination records calls to Write.
type mockDestination struct {
	fail   bool
	writes atomic.Int64
	last   atomic.Value // []byte
}

func (d *mockDestination) Name() string { return "mock" }

func (d *mockDestination) Write(_ context.Context, data []byte) error {
	if d.fail {
		return errors.New("disk full")
	}
	d.writes.Add(1)
	cp := make([]byte, len(data))
	copy(cp, data)
	d.last.Store(cp)
	return nil
}

func (d *mockDestination) Read(context.Context) (io.ReadCloser, error) {
	data, _ := d.last.Load().([]byte)
	return io.NopCloser(strings.NewReader(string(data))), nil
}

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestScheduler_StartStop(t *testing.T) {
	dest := &mockDestination{}
	sched := NewScheduler(seededStore(t), []Destination{dest}, 20*time.Millisecond, quietLogger())
	sched.Start()

	deadline := time.Now().Add(2 * time.Second)
	for dest.writes.Load() < 2 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	sched.Stop()

	if writes := dest.writes.Load(); writes < 2 {
		t.Fatalf("expected at least 2 writes, got %d", writes)
	}

	rc, _ := dest.Read(context.Background())
	snap, err := ImportJSONL(rc)
	if err != nil {
		t.Fatalf("last write is not a valid snapshot: %v", err)
	}
	if len(snap.Events) != 3 {
		t.Errorf("got %d events, want 3", len(snap.Events))
	}
}

func TestScheduler_StopWithoutStart(t *testing.T) {
	sched := NewScheduler(store.NewMemoryStore(), nil, time.Minute, nil)
	sched.Stop()
}

func TestScheduler_OnceSkipsFailingDestination(t *testing.T) {
	good1, bad, good2 := &mockDestination{}, &mockDestination{fail: true}, &mockDestination{}
	sched := NewScheduler(seededStore(t), []Destination{good1, bad, good2}, time.Minute, quietLogger())

	if n := sched.Once(context.Background()); n != 2 {
		t.Errorf("Once() = %d, want 2", n)
	}
	if good1.writes.Load() != 1 || good2.writes.Load() != 1 {
		t.Errorf("writes = %d, %d", good1.writes.Load(), good2.writes.Load())
	}
}
