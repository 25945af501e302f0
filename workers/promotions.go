package workers

import (
	"context"
	"time"

	"gorm.io/gorm"

	"github.com/affixlabs/affix/models"
)

// NewPromotionProcessor returns a worker that moves queued attachments
// from cache to permanent storage.
func NewPromotionProcessor(env *Env) func(context.Context) error {
	return func(ctx context.Context) error {
		log := env.log().With("worker", "promotions")
		log.Info("started")
		defer log.Info("stopped")

		db := env.DB.WithContext(ctx)
		for {
			err := process(db, promotionScope, func(tx *gorm.DB, request *models.PromotionRequest) error {
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

func promotionScope(db *gorm.DB) *gorm.DB {
	return db.Where("attempts < 3")
}
