package jobs

import (
	"slices"
	"sync"
)

// Projection is the read-side view of the gallery: records keyed by id and
// always iterated newest id first.
type Projection struct {
	mu      sync.RWMutex
	records map[int64]JobRecord
}

func NewProjection() *Projection {
	return &Projection{records: make(map[int64]JobRecord)}
}

// Replace swaps the whole view for recs.
func (p *Projection) Replace(recs []JobRecord) {
	next := make(map[int64]JobRecord, len(recs))
	for _, rec := range recs {
		next[rec.ID] = rec
	}
	p.mu.Lock()
	p.records = next
	p.mu.Unlock()
}

func (p *Projection) Put(rec JobRecord) {
	p.mu.Lock()
	p.records[rec.ID] = rec
	p.mu.Unlock()
}

// Patch applies patch to the record if the view holds it.
func (p *Projection) Patch(id int64, patch Patch) {
	p.mu.Lock()
	if rec, ok := p.records[id]; ok {
		p.records[id] = patch.Apply(rec)
	}
	p.mu.Unlock()
}

func (p *Projection) Delete(id int64) {
	p.mu.Lock()
	delete(p.records, id)
	p.mu.Unlock()
}

// List returns a copy ordered by descending id.
func (p *Projection) List() []JobRecord {
	p.mu.RLock()
	ret := make([]JobRecord, 0, len(p.records))
	for _, rec := range p.records {
		ret = append(ret, rec)
	}
	p.mu.RUnlock()

	slices.SortFunc(ret, func(a, b JobRecord) int {
		switch {
		case a.ID > b.ID:
			return -1
		case a.ID < b.ID:
			return 1
		default:
			return 0
		}
	})
	return ret
}
