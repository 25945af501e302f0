// Package badgerdb provides a Persister backed by BadgerDB, for
// single-binary deployments that keep attachment state in an embedded
// key-value store instead of a relational database.
//
// A record's existence is a marker key; each attachment attribute is
// its own key holding the flattened JSON form. Badger transactions
// make the compare-and-set atomic.
package badgerdb

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	badger "github.com/dgraph-io/badger/v4"

	"github.com/affixlabs/affix/attach"
)

type Persister struct {
	db *badger.DB
}

func New(db *badger.DB) *Persister {
	return &Persister{db: db}
}

func keyRecord(rec attach.Record) []byte {
	return []byte("record/" + rec.Kind + "/" + rec.ID)
}

func keyAttachment(rec attach.Record, attribute string) []byte {
	return []byte("attachment/" + rec.Kind + "/" + rec.ID + "/" + attribute)
}

// CreateRecord marks rec as existing. Attachments can only be
// persisted on records that exist, mirroring a row that must be
// inserted before its column can be updated.
func (p *Persister) CreateRecord(ctx context.Context, rec attach.Record) error {
	return p.update(func(txn *badger.Txn) error {
		return txn.Set(keyRecord(rec), []byte{1})
	})
}

// DeleteRecord removes rec and every attachment attribute stored for
// it. Compare-and-sets arriving afterwards report ErrRecordMissing.
func (p *Persister) DeleteRecord(ctx context.Context, rec attach.Record) error {
	return p.update(func(txn *badger.Txn) error {
		if err := txn.Delete(keyRecord(rec)); err != nil {
			return err
		}
		opts := badger.DefaultIteratorOptions
		opts.PrefetchValues = false
		opts.Prefix = []byte("attachment/" + rec.Kind + "/" + rec.ID + "/")
		it := txn.NewIterator(opts)
		defer it.Close()
		var keys [][]byte
		for it.Rewind(); it.Valid(); it.Next() {
			keys = append(keys, it.Item().KeyCopy(nil))
		}
		for _, key := range keys {
			if err := txn.Delete(key); err != nil {
				return err
			}
		}
		return nil
	})
}

func (p *Persister) Load(ctx context.Context, rec attach.Record, attribute string) (attach.Snapshot, error) {
	var snap attach.Snapshot
	err := p.db.View(func(txn *badger.Txn) error {
		var err error
		snap, err = read(txn, rec, attribute)
		return err
	})
	if err != nil {
		return attach.Snapshot{}, err
	}
	return snap, nil
}

func (p *Persister) CompareAndSet(ctx context.Context, rec attach.Record, attribute string, expected, next attach.Snapshot) (attach.Snapshot, error) {
	var merged attach.Snapshot
	err := p.update(func(txn *badger.Txn) error {
		live, err := read(txn, rec, attribute)
		if err != nil {
			return err
		}
		if !live.File.Equal(expected.File) {
			return fmt.Errorf("%s.%s: %w", rec, attribute, attach.ErrConflict)
		}
		merged = attach.Merge(live, expected, next)
		if merged.Empty() {
			return txn.Delete(keyAttachment(rec, attribute))
		}
		data, err := json.Marshal(merged)
		if err != nil {
			return err
		}
		return txn.Set(keyAttachment(rec, attribute), data)
	})
	if err != nil {
		return attach.Snapshot{}, err
	}
	return merged, nil
}

func read(txn *badger.Txn, rec attach.Record, attribute string) (attach.Snapshot, error) {
	if _, err := txn.Get(keyRecord(rec)); err != nil {
		if errors.Is(err, badger.ErrKeyNotFound) {
			return attach.Snapshot{}, fmt.Errorf("%s: %w", rec, attach.ErrRecordMissing)
		}
		return attach.Snapshot{}, err
	}
	item, err := txn.Get(keyAttachment(rec, attribute))
	if err != nil {
		if errors.Is(err, badger.ErrKeyNotFound) {
			return attach.Snapshot{}, nil
		}
		return attach.Snapshot{}, err
	}
	var snap attach.Snapshot
	err = item.Value(func(val []byte) error {
		return json.Unmarshal(val, &snap)
	})
	if err != nil {
		return attach.Snapshot{}, err
	}
	return snap, nil
}

// update runs fn in a write transaction, retrying the serialisation
// conflicts badger reports when concurrent transactions touch the same
// keys. The attachment-level conflict check reruns against the fresh
// state on every retry.
func (p *Persister) update(fn func(txn *badger.Txn) error) error {
	for {
		err := p.db.Update(fn)
		if !errors.Is(err, badger.ErrConflict) {
			return err
		}
	}
}
