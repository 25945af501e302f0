package main

import (
	"context"
	"fmt"
	"time"

	"gorm.io/gorm"

	"github.com/affixlabs/affix/attach"
	"github.com/affixlabs/affix/config"
	"github.com/affixlabs/affix/models"
)

type SweepCmd struct {
	Config string        `help:"Path to the configuration file." type:"path"`
	MaxAge time.Duration `default:"24h" help:"Delete cache uploads older than this."`
}

// Run deletes cache uploads that were never promoted. Uploads that made
// it onto a record have been moved to permanent storage; whatever is
// still in cache after MaxAge was abandoned by its uploader.
func (c *SweepCmd) Run(ctx *Context) error {
	cfg, err := config.Load(c.Config)
	if err != nil {
		return err
	}
	db, err := gorm.Open(ctx.Dialector, &ctx.Config)
	if err != nil {
		return err
	}

	runCtx := context.Background()
	registry, err := config.BuildRegistry(runCtx, cfg)
	if err != nil {
		return err
	}
	storage, err := registry.Lookup(cfg.Cache)
	if err != nil {
		return err
	}
	lister, ok := storage.(attach.Lister)
	if !ok {
		return fmt.Errorf("cache storage %q cannot list its objects", cfg.Cache)
	}

	cutoff := time.Now().Add(-c.MaxAge)
	var expired []string
	err = lister.List(runCtx, func(id string, modified time.Time, size int64) error {
		if !modified.After(cutoff) {
			expired = append(expired, id)
		}
		return nil
	})
	if err != nil {
		return err
	}
	for _, id := range expired {
		if err := storage.Delete(runCtx, id); err != nil {
			return err
		}
	}
	fmt.Println("deleted", len(expired), "expired cache uploads")

	// requests that failed three times are never picked up again; drop
	// the rows so the tables stay small
	res := db.Where("attempts >= 3 AND last_attempt < ?", cutoff).Delete(&models.PromotionRequest{})
	if res.Error != nil {
		return res.Error
	}
	fmt.Println("deleted", res.RowsAffected, "dead promotion requests")

	res = db.Where("attempts >= 3 AND last_attempt < ?", cutoff).Delete(&models.DeletionRequest{})
	if res.Error != nil {
		return res.Error
	}
	fmt.Println("deleted", res.RowsAffected, "dead deletion requests")

	return nil
}
