package indexer

import (
	"sort"

	"github.com/alfredjeanlab/consentd/internal/model"
)

// Merge combines indexed and freshly fetched events into the canonical
// sequence: duplicate-free by dedup key, ascending by block.
//
// Indexed events come first, so an indexed copy wins over a fresh duplicate.
// Within a block, events are ordered by log index when every event in that
// block carries one; otherwise they keep the order they arrived in.
func Merge(indexed, fresh []model.Event) []model.Event {
	out := make([]model.Event, 0, len(indexed)+len(fresh))
	seen := make(map[string]struct{}, len(indexed)+len(fresh))
	for _, batch := range [][]model.Event{indexed, fresh} {
		for _, e := range batch {
			key := e.DedupKey()
			if _, ok := seen[key]; ok {
				continue
			}
			seen[key] = struct{}{}
			out = append(out, e)
		}
	}
	SortCanonical(out)
	return out
}

// SortCanonical sorts events in place into canonical order. See Merge.
func SortCanonical(events []model.Event) {
	indexedBlock := make(map[uint64]bool)
	for i := range events {
		b := events[i].BlockNumber
		if _, ok := indexedBlock[b]; !ok {
			indexedBlock[b] = true
		}
		if events[i].LogIndex == nil {
			indexedBlock[b] = false
		}
	}
	sort.SliceStable(events, func(i, j int) bool {
		a, b := &events[i], &events[j]
		if a.BlockNumber != b.BlockNumber {
			return a.BlockNumber < b.BlockNumber
		}
		if indexedBlock[a.BlockNumber] {
			return *a.LogIndex < *b.LogIndex
		}
		return false
	})
}
