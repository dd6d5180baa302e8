package resolver

import (
	"sort"
	"time"

	"github.com/alfredjeanlab/consentd/internal/model"
)

// ReplayConsents folds a canonical event sequence into consent records keyed
// by id. The first grant naming an id creates its record; later grants for the
// same id are ignored. An approval mints a consent when no grant names it,
// taking data types and purposes from the approved request. Revocations and
// synthesized expirations apply regardless of their position in the sequence.
func ReplayConsents(events []model.Event, now time.Time) map[uint64]*model.ConsentRecord {
	requests := make(map[uint64]*model.Event)
	for i := range events {
		e := &events[i]
		if e.Type == model.EventAccessRequested && e.RequestID != nil {
			if _, ok := requests[*e.RequestID]; !ok {
				requests[*e.RequestID] = e
			}
		}
	}

	records := make(map[uint64]*model.ConsentRecord)
	minted := make(map[uint64]bool)
	for i := range events {
		e := &events[i]
		if e.ConsentID == nil {
			continue
		}
		id := *e.ConsentID
		switch e.Type {
		case model.EventConsentGranted:
			if _, ok := records[id]; ok && !minted[id] {
				continue
			}
			delete(minted, id)
			records[id] = &model.ConsentRecord{
				ID:             id,
				Patient:        e.Patient,
				Provider:       e.Provider,
				DataTypes:      e.DataTypes,
				Purposes:       e.Purposes,
				Timestamp:      e.Timestamp,
				ExpirationTime: e.ExpirationTime,
				IsActive:       true,
			}
		case model.EventAccessApproved:
			if _, ok := records[id]; ok {
				continue
			}
			rec := &model.ConsentRecord{
				ID:        id,
				Patient:   e.Patient,
				Provider:  e.Provider,
				Timestamp: e.Timestamp,
				IsActive:  true,
			}
			if e.RequestID != nil {
				if req, ok := requests[*e.RequestID]; ok {
					rec.DataTypes = req.DataTypes
					rec.Purposes = req.Purposes
					rec.ExpirationTime = req.ExpirationTime
				}
			}
			records[id] = rec
			minted[id] = true
		}
	}

	for i := range events {
		e := &events[i]
		if e.ConsentID == nil {
			continue
		}
		rec, ok := records[*e.ConsentID]
		if !ok {
			continue
		}
		switch e.Type {
		case model.EventConsentRevoked:
			rec.IsActive = false
		case model.EventConsentExpired:
			rec.IsExpired = true
		}
	}

	for _, rec := range records {
		rec.IsExpired = rec.IsExpired || rec.ExpiredAt(now)
	}
	return records
}

// ReplayRequests folds a canonical event sequence into access requests keyed
// by id. Status only moves forward: the first approval or denial in canonical
// order settles a request and later responses are ignored.
func ReplayRequests(events []model.Event) map[uint64]*model.AccessRequest {
	requests := make(map[uint64]*model.AccessRequest)
	for i := range events {
		e := &events[i]
		if e.Type != model.EventAccessRequested || e.RequestID == nil {
			continue
		}
		if _, ok := requests[*e.RequestID]; ok {
			continue
		}
		requests[*e.RequestID] = &model.AccessRequest{
			ID:             *e.RequestID,
			Requester:      e.Provider,
			Patient:        e.Patient,
			DataTypes:      e.DataTypes,
			Purposes:       e.Purposes,
			Status:         model.RequestPending,
			ExpirationTime: e.ExpirationTime,
			Timestamp:      e.Timestamp,
		}
	}

	for i := range events {
		e := &events[i]
		if e.RequestID == nil {
			continue
		}
		var next model.RequestStatus
		switch e.Type {
		case model.EventAccessApproved:
			next = model.RequestApproved
		case model.EventAccessDenied:
			next = model.RequestDenied
		default:
			continue
		}
		req, ok := requests[*e.RequestID]
		if !ok {
			// Response seen without its request, e.g. a range-limited query.
			req = &model.AccessRequest{
				ID:        *e.RequestID,
				Requester: e.Provider,
				Patient:   e.Patient,
				Status:    model.RequestPending,
				Timestamp: e.Timestamp,
			}
			requests[*e.RequestID] = req
		}
		if !req.Status.CanTransition(next) {
			continue
		}
		req.Status = next
		if next == model.RequestApproved && e.ConsentID != nil {
			req.ConsentID = model.Uint64Ptr(*e.ConsentID)
		}
	}
	return requests
}

// SynthesizeExpired returns one ConsentExpired pseudo-event for every consent
// in events whose expiration has passed and that was never revoked. The
// pseudo-events carry block number 0.
func SynthesizeExpired(events []model.Event, now time.Time) []model.Event {
	records := ReplayConsents(events, now)
	expiredSeen := make(map[uint64]bool)
	for i := range events {
		if events[i].Type == model.EventConsentExpired && events[i].ConsentID != nil {
			expiredSeen[*events[i].ConsentID] = true
		}
	}

	ids := sortedIDs(records)
	var out []model.Event
	for _, id := range ids {
		rec := records[id]
		if !rec.IsActive || expiredSeen[id] || !rec.ExpiredAt(now) {
			continue
		}
		out = append(out, model.Event{
			Type:           model.EventConsentExpired,
			BlockNumber:    0,
			ConsentID:      model.Uint64Ptr(id),
			Patient:        rec.Patient,
			Provider:       rec.Provider,
			DataTypes:      rec.DataTypes,
			Purposes:       rec.Purposes,
			ExpirationTime: rec.ExpirationTime,
			Timestamp:      *rec.ExpirationTime,
		})
	}
	return out
}

// SortRecentFirst orders events by timestamp, newest first. Events with equal
// timestamps keep reverse canonical order, so the later ledger event leads.
func SortRecentFirst(events []model.Event) []model.Event {
	out := make([]model.Event, len(events))
	for i := range events {
		out[len(events)-1-i] = events[i]
	}
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].Timestamp.After(out[j].Timestamp)
	})
	return out
}

func sortedIDs[T any](m map[uint64]T) []uint64 {
	ids := make([]uint64, 0, len(m))
	for id := range m {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}
