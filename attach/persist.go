package attach

import "context"

// A Record identifies the host row an attachment belongs to. Kind is
// the record's collection; SQL persisters read it as a table name.
type Record struct {
	Kind string
	ID   string
}

func (r Record) String() string { return r.Kind + "/" + r.ID }

// A Persister atomically reads and writes the serialized snapshot held
// in a record's attachment column.
//
// CompareAndSet writes next only if the record's live file still
// matches expected.File by identity, and returns the snapshot actually
// written, which is next merged with derivatives that appeared on the
// live snapshot concurrently (see Merge). A diverged live file yields
// ErrConflict and a vanished record ErrRecordMissing; both leave the
// record untouched. The read-compare-write must be atomic with respect
// to other CompareAndSet calls on the same record.
type Persister interface {
	Load(ctx context.Context, rec Record, attribute string) (Snapshot, error)
	CompareAndSet(ctx context.Context, rec Record, attribute string, expected, next Snapshot) (Snapshot, error)
}

// Merge computes the snapshot a compare-and-set writes. live is the
// record's current snapshot, source the snapshot the writer started
// from, and next the writer's replacement for source.
//
// The derivative sets are stitched together so writers working on
// different names never clobber each other: names the writer knew
// about (present in source) are replaced by their counterparts in next,
// or dropped if next no longer has them; names that appeared on live
// after source was captured are kept exactly as they are, and win over
// a same-named addition in next; names next adds are appended.
func Merge(live, source, next Snapshot) Snapshot {
	merged := NewDerivatives()
	live.Derivatives.Each(func(name string, f *UploadedFile) error {
		if source.Derivatives.Has(name) {
			if nf, ok := next.Derivatives.Get(name); ok {
				merged.Add(name, nf)
			}
		} else {
			merged.Add(name, f)
		}
		return nil
	})
	next.Derivatives.Each(func(name string, f *UploadedFile) error {
		if !source.Derivatives.Has(name) && !merged.Has(name) {
			merged.Add(name, f)
		}
		return nil
	})
	return Snapshot{File: next.File, Derivatives: merged}
}
