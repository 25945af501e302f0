// Package queue carries attachment jobs to the background workers.
//
// Two transports are provided. Database writes each job as a request
// row on the same database as the host records, which keeps dispatch
// inside the caller's transactional world and gives workers the
// attempts bookkeeping they poll on. Redis pushes jobs onto a list for
// lower-latency pickup; it has no attempts bookkeeping, so a job that
// fails hard there is logged and dropped rather than retried.
package queue

import (
	"context"
	"fmt"

	"gorm.io/gorm"

	"github.com/affixlabs/affix/attach"
	"github.com/affixlabs/affix/models"
)

// Database dispatches jobs as request table rows.
type Database struct {
	db *gorm.DB
}

func NewDatabase(db *gorm.DB) *Database {
	return &Database{db: db}
}

// Dispatch writes the job to the request table matching its operation.
func (q *Database) Dispatch(ctx context.Context, job attach.Job) error {
	db := q.db.WithContext(ctx)
	switch job.Op {
	case attach.OpPromote:
		return db.Create(&models.PromotionRequest{Job: job}).Error
	case attach.OpDestroy:
		return db.Create(&models.DeletionRequest{Job: job}).Error
	default:
		return fmt.Errorf("dispatch: unknown operation %q", job.Op)
	}
}
