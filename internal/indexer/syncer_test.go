package indexer

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/alfredjeanlab/consentd/internal/events"
	"github.com/alfredjeanlab/consentd/internal/model"
	"github.com/alfredjeanlab/consentd/internal/store"
)

// recordingPublisher captures published events.
type recordingPublisher struct {
	mu     sync.Mutex
	topics []string
	events []any
}

func (p *recordingPublisher) Publish(_ context.Context, topic string, event any) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.topics = append(p.topics, topic)
	p.events = append(p.events, event)
	return nil
}

func (p *recordingPublisher) Close() error { return nil }

func (p *recordingPublisher) count() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.topics)
}

func TestSync_ChunksAndAdvances(t *testing.T) {
	ctx := context.Background()
	l := newLedger(grantAt(3, 1, "0x1"), grantAt(12, 2, "0x2"), grantAt(25, 3, "0x3"))
	s := store.NewMemoryStore()
	pub := &recordingPublisher{}

	ix := New(l, s, pub, Config{GenesisBlock: 1, MaxBlockRange: 10}, quietLogger())
	res, err := ix.Sync(ctx, model.EventConsentGranted)
	if err != nil {
		t.Fatalf("Sync: %v", err)
	}
	if res.FromBlock != 1 || res.ToBlock != 25 || res.Inserted != 3 || !res.Advanced {
		t.Errorf("result = %+v", res)
	}

	calls := l.callsFor(model.EventConsentGranted)
	wantRanges := [][2]uint64{{1, 10}, {11, 20}, {21, 25}}
	if len(calls) != len(wantRanges) {
		t.Fatalf("got %d chunks, want %d", len(calls), len(wantRanges))
	}
	for i, r := range wantRanges {
		if calls[i].from != r[0] || calls[i].to == nil || *calls[i].to != r[1] {
			t.Errorf("chunk %d = [%d, %v], want %v", i, calls[i].from, calls[i].to, r)
		}
	}

	if w, _, _ := s.GetWatermark(ctx, model.EventConsentGranted); w != 25 {
		t.Errorf("watermark = %d, want 25", w)
	}
	if pub.count() != 1 || pub.topics[0] != events.TopicIndexAdvanced {
		t.Errorf("published %v, want one %s", pub.topics, events.TopicIndexAdvanced)
	}
	adv, ok := pub.events[0].(events.IndexAdvanced)
	if !ok || adv.BlockNumber != 25 || adv.EventType != model.EventConsentGranted {
		t.Errorf("payload = %+v", pub.events[0])
	}
}

func TestSync_ResumesFromWatermark(t *testing.T) {
	ctx := context.Background()
	l := newLedger(grantAt(3, 1, "0x1"), grantAt(12, 2, "0x2"))
	s := store.NewMemoryStore()
	_, _ = s.AdvanceWatermark(ctx, model.EventConsentGranted, 12)
	pub := &recordingPublisher{}

	ix := New(l, s, pub, Config{}, quietLogger())
	res, err := ix.Sync(ctx, model.EventConsentGranted)
	if err != nil {
		t.Fatalf("Sync: %v", err)
	}
	if res.Fetched != 0 || res.Advanced {
		t.Errorf("caught-up index should not fetch: %+v", res)
	}
	if len(l.callsFor(model.EventConsentGranted)) != 0 {
		t.Error("no ledger fetch expected")
	}
	if pub.count() != 0 {
		t.Error("nothing should be published when the watermark did not move")
	}
}

func TestSync_Disabled(t *testing.T) {
	ix := New(newLedger(), nil, nil, Config{}, quietLogger())
	if _, err := ix.Sync(context.Background(), model.EventConsentGranted); !errors.Is(err, ErrIndexDisabled) {
		t.Errorf("err = %v, want ErrIndexDisabled", err)
	}
}

func TestSync_LedgerFailureKeepsWatermark(t *testing.T) {
	ctx := context.Background()
	l := newLedger(grantAt(30, 1, "0x1"))
	l.Fail = func(op string) error {
		if op == "ledger.queryEvents" {
			return model.Connectivity(op, errDown)
		}
		return nil
	}
	s := store.NewMemoryStore()
	_, _ = s.AdvanceWatermark(ctx, model.EventConsentGranted, 5)

	ix := New(l, s, nil, Config{}, quietLogger())
	if _, err := ix.Sync(ctx, model.EventConsentGranted); err == nil {
		t.Fatal("expected error")
	}
	if w, _, _ := s.GetWatermark(ctx, model.EventConsentGranted); w != 5 {
		t.Errorf("watermark = %d, want unchanged 5", w)
	}
}

func TestSyncAll_JoinsErrors(t *testing.T) {
	ctx := context.Background()
	l := newLedger(grantAt(4, 1, "0x1"))
	s := &faultyStore{MemoryStore: store.NewMemoryStore(), failInsert: errDown}

	ix := New(l, s, nil, Config{}, quietLogger())
	results, err := ix.SyncAll(ctx)
	if !errors.Is(err, errDown) {
		t.Fatalf("err = %v, want joined insert failures", err)
	}
	if len(results) != 0 {
		t.Errorf("results = %+v, want none", results)
	}
}

func TestSyncerStartStop(t *testing.T) {
	l := newLedger(grantAt(4, 1, "0x1"))
	s := store.NewMemoryStore()
	pub := &recordingPublisher{}
	ix := New(l, s, pub, Config{}, quietLogger())

	syncer := NewSyncer(ix, 20*time.Millisecond, quietLogger())
	syncer.Start()

	// Wait for at least the initial sync + one tick.
	time.Sleep(60 * time.Millisecond)
	syncer.Stop()

	if w, _, _ := s.GetWatermark(context.Background(), model.EventConsentGranted); w != 4 {
		t.Errorf("watermark = %d, want 4", w)
	}
	if len(l.callsFor(model.EventConsentGranted)) != 1 {
		t.Errorf("later ticks should find the index caught up, got %d fetches", len(l.callsFor(model.EventConsentGranted)))
	}
}

func TestSyncerStop_NoStart(t *testing.T) {
	syncer := NewSyncer(New(newLedger(), nil, nil, Config{}, nil), time.Minute, nil)
	// Stop without Start should not panic.
	syncer.Stop()
}
