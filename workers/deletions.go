package workers

import (
	"context"
	"time"

	"gorm.io/gorm"

	"github.com/affixlabs/affix/models"
)

// NewDeletionProcessor returns a worker that deletes the storage
// objects of destroyed attachments.
func NewDeletionProcessor(env *Env) func(context.Context) error {
	return func(ctx context.Context) error {
		log := env.log().With("worker", "deletions")
		log.Info("started")
		defer log.Info("stopped")

		db := env.DB.WithContext(ctx)
		for {
			err := process(db, deletionScope, func(tx *gorm.DB, request *models.DeletionRequest) error {
				return runJob(tx.Statement.Context, env, log, request.Job)
			})
			if err != nil {
				return err
			}
			select {
			case <-ctx.Done():
				return nil
			case <-time.After(30 * time.Second):
				// continue
			}
		}
	}
}

func deletionScope(db *gorm.DB) *gorm.DB {
	return db.Where("attempts < 3")
}
