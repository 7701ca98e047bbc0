package repo

import (
	"github.com/hamed0406/apipulse/internal/domain"
)

// Ports (interfaces). Session state only; nothing here is persisted.

// RowStore holds the resolved targets and their latest status.
type RowStore interface {
	// Replace swaps the whole collection, e.g. after a config load.
	Replace(rows []domain.Row)
	// Snapshot returns the rows in resolution order. Callers may keep it.
	Snapshot() []domain.Row
	Get(k domain.Key) (domain.Row, bool)
	// Apply derives a new row from the current one. It reports false when
	// the key is unknown.
	Apply(k domain.Key, fn func(domain.Row) domain.Row) bool
}

// HistoryStore keeps the most recent detailed checks per URL.
type HistoryStore interface {
	Record(url string, entry domain.DetailedCheck)
	Get(url string) []domain.DetailedCheck
}
