// Package diff compares two snapshots of the same category and reports
// which items appeared, disappeared or changed between them. It is pure:
// no I/O, no retained state, O(n) over both snapshots.
package diff

import (
	"go.uber.org/zap"

	"github.com/hostsentry/agent/internal/models"
)

// Result holds the outcome of comparing a previous snapshot against the
// current one. Changed contains the current version of items whose key
// exists in both snapshots but whose fingerprint differs.
type Result struct {
	Added   []models.Item
	Removed []models.Item
	Changed []models.Item
}

// Empty reports whether the two snapshots were identical.
func (r Result) Empty() bool {
	return len(r.Added) == 0 && len(r.Removed) == 0 && len(r.Changed) == 0
}

// Index builds a key → item map from a snapshot's items. Duplicate keys
// should not happen by construction; when they do, the later item wins
// and the condition is logged, not fatal.
func Index(items []models.Item, logger *zap.Logger) map[string]models.Item {
	idx := make(map[string]models.Item, len(items))
	for _, item := range items {
		key := item.Key()
		if _, dup := idx[key]; dup && logger != nil {
			logger.Warn("duplicate identity key in snapshot, keeping later item",
				zap.String("key", key))
		}
		idx[key] = item
	}
	return idx
}

// Diff compares previous against current, keyed by each item's identity
// key. A nil previous snapshot (first cycle) yields everything as Added.
func Diff(previous, current []models.Item, logger *zap.Logger) Result {
	prevIdx := Index(previous, logger)
	currIdx := Index(current, logger)

	var res Result
	for key, item := range currIdx {
		prev, ok := prevIdx[key]
		if !ok {
			res.Added = append(res.Added, item)
			continue
		}
		if prev.Fingerprint() != item.Fingerprint() {
			res.Changed = append(res.Changed, item)
		}
	}
	for key, item := range prevIdx {
		if _, ok := currIdx[key]; !ok {
			res.Removed = append(res.Removed, item)
		}
	}
	return res
}
