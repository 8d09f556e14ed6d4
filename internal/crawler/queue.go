package crawler

import (
	"sync"

	"github.com/jmylchreest/carwatch/internal/model"
)

// IDSet de-duplicates listings by site id. VIP cards are repeated on
// every results page, so the same id routinely appears several times in
// one run; the first occurrence wins.
type IDSet struct {
	mu   sync.Mutex
	seen map[string]bool
}

// NewIDSet creates an empty set.
func NewIDSet() *IDSet {
	return &IDSet{seen: make(map[string]bool)}
}

// Add records id and reports whether it was new.
func (s *IDSet) Add(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if id == "" || s.seen[id] {
		return false
	}
	s.seen[id] = true
	return true
}

// Len returns the number of distinct ids.
func (s *IDSet) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.seen)
}

// Unique filters listings in order, keeping the first occurrence of each id.
func (s *IDSet) Unique(listings []model.Listing) []model.Listing {
	out := listings[:0:0]
	for _, l := range listings {
		if s.Add(l.ID) {
			out = append(out, l)
		}
	}
	return out
}
