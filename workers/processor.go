package workers

import (
	"time"

	"gorm.io/gorm"
)

// process makes one pass through the requests matching the scope,
// calling fn for each one. A request whose fn returns an error has the
// failure recorded and stays queued for a later pass; a request whose
// fn returns nil is finished and its row deleted.
func process[T any](db *gorm.DB, scope func(*gorm.DB) *gorm.DB, fn func(*gorm.DB, T) error) error {
	var requests []T
	return db.Scopes(scope).FindInBatches(&requests, 100, func(db *gorm.DB, batch int) error {
		for _, request := range requests {
			start := time.Now()
			if err := fn(db, request); err != nil {
				if err := db.Model(request).UpdateColumns(map[string]interface{}{
					"attempts":     gorm.Expr("attempts + 1"),
					"last_attempt": start,
					"last_result":  err.Error(),
				}).Error; err != nil {
					return err
				}
				continue
			}
			if err := db.Delete(request).Error; err != nil {
				return err
			}
		}
		return nil
	}).Error
}
