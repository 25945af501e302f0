// Package memory provides a Persister held in process memory, with
// compare-and-set done under a single mutex. It exists for tests and
// for exercising the optimistic protocol without a database.
package memory

import (
	"context"
	"sync"

	"github.com/affixlabs/affix/attach"
)

// Persister keeps record attachment columns in a map keyed by record
// and attribute. Records must be created before their attachments can
// be persisted, mirroring how a row must exist before its column can
// be updated.
type Persister struct {
	mu      sync.Mutex
	records map[attach.Record]map[string]attach.Snapshot
}

func New() *Persister {
	return &Persister{records: make(map[attach.Record]map[string]attach.Snapshot)}
}

// Create registers rec with no attachments. Creating an existing
// record is a no-op.
func (p *Persister) Create(rec attach.Record) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if _, ok := p.records[rec]; !ok {
		p.records[rec] = make(map[string]attach.Snapshot)
	}
}

// Put sets rec's attribute directly, bypassing the compare-and-set.
func (p *Persister) Put(rec attach.Record, attribute string, snap attach.Snapshot) {
	p.mu.Lock()
	defer p.mu.Unlock()
	cols, ok := p.records[rec]
	if !ok {
		cols = make(map[string]attach.Snapshot)
		p.records[rec] = cols
	}
	cols[attribute] = snap.Clone()
}

// Remove deletes rec entirely.
func (p *Persister) Remove(rec attach.Record) {
	p.mu.Lock()
	defer p.mu.Unlock()
	delete(p.records, rec)
}

func (p *Persister) Load(ctx context.Context, rec attach.Record, attribute string) (attach.Snapshot, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	cols, ok := p.records[rec]
	if !ok {
		return attach.Snapshot{}, attach.ErrRecordMissing
	}
	return cols[attribute].Clone(), nil
}

func (p *Persister) CompareAndSet(ctx context.Context, rec attach.Record, attribute string, expected, next attach.Snapshot) (attach.Snapshot, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	cols, ok := p.records[rec]
	if !ok {
		return attach.Snapshot{}, attach.ErrRecordMissing
	}
	live := cols[attribute]
	if !live.File.Equal(expected.File) {
		return attach.Snapshot{}, attach.ErrConflict
	}
	merged := attach.Merge(live, expected, next)
	cols[attribute] = merged.Clone()
	return merged, nil
}
