// Package gormdb provides a Persister backed by a gorm-managed
// database. Attachment state lives in a JSON column on the host
// record's own table; the compare-and-set runs in a transaction with
// the row locked, so concurrent writers serialise and the file
// comparison is race free.
package gormdb

import (
	"context"
	"errors"
	"fmt"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/affixlabs/affix/attach"
)

// Persister reads and writes attachment columns for any table. The
// record's Kind names the table and the attribute names the column;
// both come from code, never from request input.
type Persister struct {
	db *gorm.DB
}

func New(db *gorm.DB) *Persister {
	return &Persister{db: db}
}

// Load returns the attachment currently persisted on rec.
func (p *Persister) Load(ctx context.Context, rec attach.Record, attribute string) (attach.Snapshot, error) {
	return p.read(p.db.WithContext(ctx), rec, attribute, false)
}

// CompareAndSet persists next if the live column still holds expected's
// file, merging concurrent derivative changes, and returns what was
// written. A divergent file reports ErrConflict, a deleted record
// ErrRecordMissing; the column is untouched in both cases.
func (p *Persister) CompareAndSet(ctx context.Context, rec attach.Record, attribute string, expected, next attach.Snapshot) (attach.Snapshot, error) {
	var merged attach.Snapshot
	err := p.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		live, err := p.read(tx, rec, attribute, true)
		if err != nil {
			return err
		}
		if !live.File.Equal(expected.File) {
			return fmt.Errorf("%s.%s: %w", rec, attribute, attach.ErrConflict)
		}
		merged = attach.Merge(live, expected, next)
		value, err := merged.Value()
		if err != nil {
			return err
		}
		return tx.Table(rec.Kind).Where("id = ?", rec.ID).Update(attribute, value).Error
	})
	if err != nil {
		return attach.Snapshot{}, err
	}
	return merged, nil
}

func (p *Persister) read(tx *gorm.DB, rec attach.Record, attribute string, locked bool) (attach.Snapshot, error) {
	q := tx.Table(rec.Kind).Select(attribute).Where("id = ?", rec.ID)
	if locked && tx.Dialector.Name() != "sqlite" {
		// sqlite has no FOR UPDATE; its transactions serialise writes
		// on their own
		q = q.Clauses(clause.Locking{Strength: "UPDATE"})
	}
	var row map[string]any
	if err := q.Take(&row).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return attach.Snapshot{}, fmt.Errorf("%s: %w", rec, attach.ErrRecordMissing)
		}
		return attach.Snapshot{}, err
	}
	var snap attach.Snapshot
	if err := snap.Scan(row[attribute]); err != nil {
		return attach.Snapshot{}, err
	}
	return snap, nil
}
