package events

import (
	"context"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/alfredjeanlab/consentd/internal/cache"
	"github.com/alfredjeanlab/consentd/internal/model"
)

type recordingInvalidator struct {
	mu      sync.Mutex
	changes []cache.Change
	seen    chan struct{}
}

func (r *recordingInvalidator) Invalidate(_ context.Context, ch cache.Change) (int, error) {
	r.mu.Lock()
	r.changes = append(r.changes, ch)
	r.mu.Unlock()
	r.seen <- struct{}{}
	return 1, nil
}

func TestInvalidator_Run(t *testing.T) {
	url := startTestNATS(t)

	pub, err := NewNATSPublisher(url)
	if err != nil {
		t.Fatalf("creating publisher: %v", err)
	}
	defer pub.Close()
	sub, err := NewNATSSubscriber(url)
	if err != nil {
		t.Fatalf("creating subscriber: %v", err)
	}
	defer sub.Close()

	target := &recordingInvalidator{seen: make(chan struct{}, 4)}
	inv := NewInvalidator(target, slog.New(slog.NewTextHandler(io.Discard, nil)))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- inv.Run(ctx, sub) }()

	// Wait for the subscription before publishing.
	deadline := time.Now().Add(2 * time.Second)
	for sub.conn.NumSubscriptions() == 0 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	time.Sleep(50 * time.Millisecond)

	// Garbage is skipped; the next notification still lands.
	if err := pub.conn.Publish(TopicConsentRevoked, []byte("{not json")); err != nil {
		t.Fatalf("publishing: %v", err)
	}
	note := WriteNotification{Patient: "0xaa", ConsentID: model.Uint64Ptr(5), TransactionHash: "0xabc"}
	if err := pub.Publish(ctx, TopicConsentRevoked, note); err != nil {
		t.Fatalf("Publish: %v", err)
	}
	pub.conn.Flush()

	select {
	case <-target.seen:
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for invalidation")
	}

	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Errorf("Run returned %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not stop after cancel")
	}

	target.mu.Lock()
	defer target.mu.Unlock()
	if len(target.changes) != 1 {
		t.Fatalf("got %d invalidations, want 1", len(target.changes))
	}
	got := target.changes[0]
	if got.Patient != "0xaa" || got.ConsentID == nil || *got.ConsentID != 5 {
		t.Errorf("change = %+v", got)
	}
}

func TestWriteNotification_Change(t *testing.T) {
	n := WriteNotification{Patient: "0xaa", Provider: "0xbb", RequestID: model.Uint64Ptr(2), TransactionHash: "0x1"}
	ch := n.Change()
	if ch.Provider != "0xbb" || ch.RequestID == nil || *ch.RequestID != 2 || ch.ConsentID != nil {
		t.Errorf("change = %+v", ch)
	}
}
