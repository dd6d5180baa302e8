// Package snapshot exports the persisted event index as JSONL, ships it to
// S3 or a local file on a schedule, and reads snapshots back for offline
// replay.
package snapshot

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"time"

	"github.com/alfredjeanlab/consentd/internal/model"
	"github.com/alfredjeanlab/consentd/internal/store"
)

// FormatVersion is written in every snapshot header.
const FormatVersion = "1"

// Record type discriminators.
const (
	typeHeader    = "header"
	typeWatermark = "watermark"
	typeEvent     = "event"
)

// Header is the first JSONL record of a snapshot.
type Header struct {
	Version        string    `json:"version"`
	Type           string    `json:"type"`
	Timestamp      time.Time `json:"timestamp"`
	EventCount     int       `json:"event_count"`
	WatermarkCount int       `json:"watermark_count"`
}

// record wraps a single JSONL line with a type discriminator.
type record struct {
	Type string `json:"type"`
	Data any    `json:"data"`
}

// ExportJSONL writes the watermarks and every indexed event from the store
// as JSONL to w. Events keep the store's canonical order.
func ExportJSONL(ctx context.Context, s store.Store, w io.Writer) error {
	watermarks, err := s.ListWatermarks(ctx)
	if err != nil {
		return fmt.Errorf("list watermarks: %w", err)
	}
	events, err := s.QueryEvents(ctx, model.EventFilter{})
	if err != nil {
		return fmt.Errorf("query events: %w", err)
	}

	enc := json.NewEncoder(w)
	enc.SetEscapeHTML(false)

	if err := enc.Encode(Header{
		Version:        FormatVersion,
		Type:           typeHeader,
		Timestamp:      time.Now().UTC(),
		EventCount:     len(events),
		WatermarkCount: len(watermarks),
	}); err != nil {
		return fmt.Errorf("encode header: %w", err)
	}

	for _, wm := range watermarks {
		if err := enc.Encode(record{Type: typeWatermark, Data: wm}); err != nil {
			return fmt.Errorf("encode watermark %s: %w", wm.EventType, err)
		}
	}
	for i := range events {
		if err := enc.Encode(record{Type: typeEvent, Data: events[i]}); err != nil {
			return fmt.Errorf("encode event %s: %w", events[i].DedupKey(), err)
		}
	}
	return nil
}

// Snapshot is a decoded JSONL export.
type Snapshot struct {
	Header     Header
	Watermarks []model.Watermark
	Events     []model.Event
}

// maxLine bounds a single JSONL record.
const maxLine = 4 << 20

// ImportJSONL reads a snapshot written by ExportJSONL. Every event is
// validated; unknown record types are rejected.
func ImportJSONL(r io.Reader) (*Snapshot, error) {
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 64*1024), maxLine)

	var snap Snapshot
	line := 0
	for sc.Scan() {
		line++
		raw := sc.Bytes()
		if len(raw) == 0 {
			continue
		}
		if line == 1 {
			if err := json.Unmarshal(raw, &snap.Header); err != nil {
				return nil, fmt.Errorf("line 1: decode header: %w", err)
			}
			if snap.Header.Type != typeHeader {
				return nil, fmt.Errorf("line 1: expected header record, got %q", snap.Header.Type)
			}
			if snap.Header.Version != FormatVersion {
				return nil, fmt.Errorf("unsupported snapshot version %q", snap.Header.Version)
			}
			continue
		}

		var rec struct {
			Type string          `json:"type"`
			Data json.RawMessage `json:"data"`
		}
		if err := json.Unmarshal(raw, &rec); err != nil {
			return nil, fmt.Errorf("line %d: %w", line, err)
		}
		switch rec.Type {
		case typeWatermark:
			var wm model.Watermark
			if err := json.Unmarshal(rec.Data, &wm); err != nil {
				return nil, fmt.Errorf("line %d: decode watermark: %w", line, err)
			}
			snap.Watermarks = append(snap.Watermarks, wm)
		case typeEvent:
			var e model.Event
			if err := json.Unmarshal(rec.Data, &e); err != nil {
				return nil, fmt.Errorf("line %d: decode event: %w", line, err)
			}
			if err := model.ValidateEvent(&e); err != nil {
				return nil, fmt.Errorf("line %d: %w", line, err)
			}
			snap.Events = append(snap.Events, e)
		default:
			return nil, fmt.Errorf("line %d: unknown record type %q", line, rec.Type)
		}
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("reading snapshot: %w", err)
	}
	if line == 0 {
		return nil, fmt.Errorf("empty snapshot")
	}
	if len(snap.Events) != snap.Header.EventCount {
		return nil, fmt.Errorf("snapshot truncated: header promises %d events, found %d",
			snap.Header.EventCount, len(snap.Events))
	}
	return &snap, nil
}

// Height returns the highest block covered by the snapshot: the largest
// watermark or event block.
func (s *Snapshot) Height() uint64 {
	var h uint64
	for _, wm := range s.Watermarks {
		h = max(h, wm.BlockNumber)
	}
	for i := range s.Events {
		h = max(h, s.Events[i].BlockNumber)
	}
	return h
}
