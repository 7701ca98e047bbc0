package memory

import (
	"sync"
	"sync/atomic"

	"github.com/hamed0406/apipulse/internal/domain"
)

// HistoryLimit is how many detailed checks are kept per URL.
const HistoryLimit = 5

// arena is an immutable generation of the row collection.
type arena struct {
	rows  []domain.Row
	index map[domain.Key]int
}

func newArena(rows []domain.Row) *arena {
	a := &arena{
		rows:  make([]domain.Row, 0, len(rows)),
		index: make(map[domain.Key]int, len(rows)),
	}
	for _, r := range rows {
		if _, dup := a.index[r.Key()]; dup {
			continue
		}
		a.index[r.Key()] = len(a.rows)
		a.rows = append(a.rows, r)
	}
	return a
}

// RowStore is copy-on-write: writers serialize on mu and publish a fresh
// arena, readers load whatever generation is current without locking.
type RowStore struct {
	mu  sync.Mutex
	cur atomic.Pointer[arena]
}

func NewRowStore() *RowStore {
	s := &RowStore{}
	s.cur.Store(newArena(nil))
	return s
}

func (s *RowStore) Replace(rows []domain.Row) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cur.Store(newArena(rows))
}

func (s *RowStore) Snapshot() []domain.Row {
	a := s.cur.Load()
	out := make([]domain.Row, len(a.rows))
	copy(out, a.rows)
	return out
}

func (s *RowStore) Get(k domain.Key) (domain.Row, bool) {
	a := s.cur.Load()
	i, ok := a.index[k]
	if !ok {
		return domain.Row{}, false
	}
	return a.rows[i], true
}

func (s *RowStore) Apply(k domain.Key, fn func(domain.Row) domain.Row) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	old := s.cur.Load()
	i, ok := old.index[k]
	if !ok {
		return false
	}
	next := &arena{
		rows:  make([]domain.Row, len(old.rows)),
		index: old.index, // keys never change between generations
	}
	copy(next.rows, old.rows)
	updated := fn(old.rows[i])
	// identity is fixed
	updated.Method, updated.URL = k.Method, k.URL
	next.rows[i] = updated
	s.cur.Store(next)
	return true
}

// HistoryStore keeps up to HistoryLimit entries per URL, newest first.
type HistoryStore struct {
	mu      sync.RWMutex
	entries map[string][]domain.DetailedCheck
}

func NewHistoryStore() *HistoryStore {
	return &HistoryStore{entries: make(map[string][]domain.DetailedCheck)}
}

func (h *HistoryStore) Record(url string, entry domain.DetailedCheck) {
	h.mu.Lock()
	defer h.mu.Unlock()

	prev := h.entries[url]
	n := len(prev) + 1
	if n > HistoryLimit {
		n = HistoryLimit
	}
	next := make([]domain.DetailedCheck, 0, n)
	next = append(next, entry)
	next = append(next, prev[:n-1]...)
	h.entries[url] = next
}

// Get returns a copy; an unknown URL yields an empty, non-nil slice.
func (h *HistoryStore) Get(url string) []domain.DetailedCheck {
	h.mu.RLock()
	defer h.mu.RUnlock()
	list := h.entries[url]
	out := make([]domain.DetailedCheck, len(list))
	copy(out, list)
	return out
}
