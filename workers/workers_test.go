package workers

import (
	"context"
	"io"
	"log/slog"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/affixlabs/affix/attach"
	"github.com/affixlabs/affix/models"
	"github.com/affixlabs/affix/persist/gormdb"
	"github.com/affixlabs/affix/queue"
	storagemem "github.com/affixlabs/affix/storage/memory"
)

type testEnv struct {
	*Env
	cache  *storagemem.Storage
	store  *storagemem.Storage
	queue  *queue.Database
	record attach.Record
}

func setupEnv(t *testing.T) *testEnv {
	t.Helper()
	require := require.New(t)

	db, err := gorm.Open(sqlite.Open("file::memory:?cache=shared"), &gorm.Config{
		TranslateError: true,
		Logger:         logger.Default.LogMode(logger.Warn),
	})
	require.NoError(err)

	err = db.AutoMigrate(models.AllTables()...)
	require.NoError(err)

	t.Cleanup(func() {
		db.Exec("DELETE FROM uploads")
		db.Exec("DELETE FROM promotion_requests")
		db.Exec("DELETE FROM deletion_requests")
	})

	cache, store := storagemem.New(), storagemem.New()
	registry := attach.NewRegistry()
	registry.Register("cache", cache)
	registry.Register("store", store)

	upload, err := models.NewUploads(db).Create("testing")
	require.NoError(err)

	return &testEnv{
		Env: &Env{
			DB:        db,
			Registry:  registry,
			Persister: gormdb.New(db),
			Logger:    slog.New(slog.NewTextHandler(io.Discard, nil)),
		},
		cache:  cache,
		store:  store,
		queue:  queue.NewDatabase(db),
		record: upload.Record(),
	}
}

func (e *testEnv) attacher() *attach.Attacher {
	return attach.New(e.Registry, attach.WithRecord(e.record, "file"))
}

// promotionPass runs the promotion processor's single pass.
func promotionPass(ctx context.Context, e *testEnv) error {
	return process(e.DB.WithContext(ctx), promotionScope, func(tx *gorm.DB, request *models.PromotionRequest) error {
		return runJob(tx.Statement.Context, e.Env, e.log(), request.Job)
	})
}

// deletionPass runs the deletion processor's single pass.
func deletionPass(ctx context.Context, e *testEnv) error {
	return process(e.DB.WithContext(ctx), deletionScope, func(tx *gorm.DB, request *models.DeletionRequest) error {
		return runJob(tx.Statement.Context, e.Env, e.log(), request.Job)
	})
}

func TestPromotionProcessor(t *testing.T) {
	ctx := context.Background()

	t.Run("a queued promotion moves the attachment to permanent storage", func(t *testing.T) {
		require := require.New(t)
		e := setupEnv(t)

		a := e.attacher()
		_, err := a.Assign(ctx, strings.NewReader("content"), attach.Metadata{"filename": "photo.jpg"})
		require.NoError(err)
		require.NoError(a.Persist(ctx, e.Persister))
		require.NoError(a.DispatchPromote(ctx, e.queue))

		require.NoError(promotionPass(ctx, e))

		var requests []models.PromotionRequest
		require.NoError(e.DB.Find(&requests).Error)
		require.Empty(requests, "a finished request is deleted")

		snap, err := e.Persister.Load(ctx, e.record, "file")
		require.NoError(err)
		require.Equal("store", snap.File.Storage)
		require.Equal(0, e.cache.Len())
		require.Equal(1, e.store.Len())
	})

	t.Run("a stale promotion finishes without overwriting", func(t *testing.T) {
		require := require.New(t)
		e := setupEnv(t)

		a := e.attacher()
		_, err := a.Assign(ctx, strings.NewReader("first"), nil)
		require.NoError(err)
		require.NoError(a.Persist(ctx, e.Persister))
		require.NoError(a.DispatchPromote(ctx, e.queue))

		// the record is replaced before the worker gets to the job
		b := e.attacher()
		require.NoError(b.LoadFrom(ctx, e.Persister))
		second, err := b.Assign(ctx, strings.NewReader("second"), nil)
		require.NoError(err)
		require.NoError(b.Finalize(ctx, e.Persister))

		require.NoError(promotionPass(ctx, e))

		var requests []models.PromotionRequest
		require.NoError(e.DB.Find(&requests).Error)
		require.Empty(requests, "a superseded request is deleted, not retried")

		snap, err := e.Persister.Load(ctx, e.record, "file")
		require.NoError(err)
		require.True(snap.File.Equal(b.File()), "the replacement survives")
		require.NotEqual(second.ID, snap.File.ID) // promoted under a fresh location
		require.Equal(1, e.store.Len())
		require.Equal(0, e.cache.Len())
	})

	t.Run("a failing promotion stays queued with the failure recorded", func(t *testing.T) {
		require := require.New(t)
		e := setupEnv(t)

		a := e.attacher()
		_, err := a.Assign(ctx, strings.NewReader("content"), nil)
		require.NoError(err)
		require.NoError(a.Persist(ctx, e.Persister))
		require.NoError(a.DispatchPromote(ctx, e.queue))

		// promotion has nowhere to go without a store tier
		e.Registry = attach.NewRegistry()
		e.Registry.Register("cache", e.cache)

		require.NoError(promotionPass(ctx, e))

		var requests []models.PromotionRequest
		require.NoError(e.DB.Find(&requests).Error)
		require.Len(requests, 1)
		require.EqualValues(1, requests[0].Attempts)
		require.Contains(requests[0].LastResult, "unknown storage")
		require.False(requests[0].LastAttempt.IsZero())
	})
}

func TestDeletionProcessor(t *testing.T) {
	require := require.New(t)
	ctx := context.Background()
	e := setupEnv(t)

	a := e.attacher()
	_, err := a.Assign(ctx, strings.NewReader("content"), nil)
	require.NoError(err)
	require.NoError(a.Finalize(ctx, e.Persister))
	require.Equal(1, e.store.Len())

	require.NoError(a.DispatchDestroy(ctx, e.queue))

	require.NoError(deletionPass(ctx, e))

	var requests []models.DeletionRequest
	require.NoError(e.DB.Find(&requests).Error)
	require.Empty(requests)
	require.Equal(0, e.store.Len())
}

func TestRunJob(t *testing.T) {
	t.Run("an unknown operation is rejected", func(t *testing.T) {
		require := require.New(t)
		e := setupEnv(t)

		err := runJob(context.Background(), e.Env, e.log(), attach.Job{Op: "vacuum"})
		require.Error(err)
		require.Contains(err.Error(), "unknown operation")
	})
}
