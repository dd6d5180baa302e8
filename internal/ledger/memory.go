package ledger

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/alfredjeanlab/consentd/internal/model"
)

// ErrRecordReadUnsupported is returned by MemoryLedger record reads for ids
// that have no registered record. It classifies as an upstream error, the
// same as an RPC method missing after a contract upgrade.
var ErrRecordReadUnsupported = errors.New("record read not supported")

// MemoryLedger is an append-only in-memory ledger. It backs offline replay of
// index snapshots and serves as a deterministic ledger in tests.
type MemoryLedger struct {
	mu       sync.RWMutex
	events   []model.Event
	consents map[uint64]*model.ConsentRecord
	requests map[uint64]*model.AccessRequest
	height   uint64

	// Fail, when set, is consulted before every call. A non-nil return is
	// returned as the call's error.
	Fail func(op string) error
}

// NewMemoryLedger creates an empty MemoryLedger.
func NewMemoryLedger() *MemoryLedger {
	return &MemoryLedger{
		consents: make(map[uint64]*model.ConsentRecord),
		requests: make(map[uint64]*model.AccessRequest),
	}
}

// Append adds events in order. The ledger height follows the highest block seen.
// Events without a log index get their position within the block.
func (m *MemoryLedger) Append(events ...model.Event) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, e := range events {
		if e.LogIndex == nil {
			var n uint
			for i := range m.events {
				if m.events[i].BlockNumber == e.BlockNumber {
					n++
				}
			}
			e.LogIndex = model.UintPtr(n)
		}
		m.events = append(m.events, e)
		if e.BlockNumber > m.height {
			m.height = e.BlockNumber
		}
	}
}

// SetHeight moves the ledger head forward. It never moves it back.
func (m *MemoryLedger) SetHeight(h uint64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if h > m.height {
		m.height = h
	}
}

// PutConsent registers a record for direct reads.
func (m *MemoryLedger) PutConsent(rec model.ConsentRecord) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.consents[rec.ID] = &rec
}

// PutRequest registers an access request for direct reads.
func (m *MemoryLedger) PutRequest(req model.AccessRequest) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.requests[req.ID] = &req
}

// Len returns the number of appended events.
func (m *MemoryLedger) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.events)
}

func (m *MemoryLedger) fail(op string) error {
	if m.Fail == nil {
		return nil
	}
	return m.Fail(op)
}

// QueryEvents implements Client.
func (m *MemoryLedger) QueryEvents(ctx context.Context, eventType model.EventType, q Query, from, to *uint64) ([]model.Event, error) {
	const op = "ledger.queryEvents"
	if err := ctx.Err(); err != nil {
		return nil, model.Connectivity(op, err)
	}
	if err := m.fail(op); err != nil {
		return nil, err
	}

	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []model.Event
	for i := range m.events {
		e := &m.events[i]
		if e.Type != eventType || !q.Matches(e) {
			continue
		}
		if from != nil && e.BlockNumber < *from {
			continue
		}
		if to != nil && e.BlockNumber > *to {
			continue
		}
		out = append(out, *e)
	}
	return out, nil
}

// ReadConsent implements Client.
func (m *MemoryLedger) ReadConsent(ctx context.Context, id uint64) (*model.ConsentRecord, error) {
	const op = "ledger.readConsent"
	if err := ctx.Err(); err != nil {
		return nil, model.Connectivity(op, err)
	}
	if err := m.fail(op); err != nil {
		return nil, err
	}

	m.mu.RLock()
	defer m.mu.RUnlock()
	rec, ok := m.consents[id]
	if !ok {
		return nil, model.Upstream(op, fmt.Errorf("consent %d: %w", id, ErrRecordReadUnsupported))
	}
	out := *rec
	return &out, nil
}

// ReadRequest implements Client.
func (m *MemoryLedger) ReadRequest(ctx context.Context, id uint64) (*model.AccessRequest, error) {
	const op = "ledger.readRequest"
	if err := ctx.Err(); err != nil {
		return nil, model.Connectivity(op, err)
	}
	if err := m.fail(op); err != nil {
		return nil, err
	}

	m.mu.RLock()
	defer m.mu.RUnlock()
	req, ok := m.requests[id]
	if !ok {
		return nil, model.Upstream(op, fmt.Errorf("request %d: %w", id, ErrRecordReadUnsupported))
	}
	out := *req
	return &out, nil
}

// CurrentBlockHeight implements Client.
func (m *MemoryLedger) CurrentBlockHeight(ctx context.Context) (uint64, error) {
	const op = "ledger.blockNumber"
	if err := ctx.Err(); err != nil {
		return 0, model.Connectivity(op, err)
	}
	if err := m.fail(op); err != nil {
		return 0, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.height, nil
}

var _ Client = (*MemoryLedger)(nil)
