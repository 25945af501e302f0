package queue

import (
	"context"
	"os"
	"testing"

	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/affixlabs/affix/attach"
	"github.com/affixlabs/affix/models"
)

func setupTestDB(t *testing.T) *gorm.DB {
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
		db.Exec("DELETE FROM promotion_requests")
		db.Exec("DELETE FROM deletion_requests")
	})
	return db
}

func job(op string) attach.Job {
	return attach.Job{
		Op:        op,
		Attacher:  "attachment",
		Kind:      "uploads",
		RecordID:  "1",
		Attribute: "file",
		Snapshot: attach.Snapshot{
			File: &attach.UploadedFile{ID: "cache/x.jpg", Storage: "cache", Metadata: attach.Metadata{"size": float64(5)}},
		},
	}
}

func TestDatabaseDispatch(t *testing.T) {
	ctx := context.Background()

	t.Run("a promote job lands in the promotion table", func(t *testing.T) {
		require := require.New(t)
		db := setupTestDB(t)
		q := NewDatabase(db)

		require.NoError(q.Dispatch(ctx, job(attach.OpPromote)))

		var requests []models.PromotionRequest
		require.NoError(db.Find(&requests).Error)
		require.Len(requests, 1)
		require.Equal(attach.OpPromote, requests[0].Job.Op)
		require.Equal(attach.Record{Kind: "uploads", ID: "1"}, requests[0].Job.Record())
		require.True(requests[0].Job.Snapshot.File.Equal(job(attach.OpPromote).Snapshot.File))
		require.Zero(requests[0].Attempts)
	})

	t.Run("a destroy job lands in the deletion table", func(t *testing.T) {
		require := require.New(t)
		db := setupTestDB(t)
		q := NewDatabase(db)

		require.NoError(q.Dispatch(ctx, job(attach.OpDestroy)))

		var requests []models.DeletionRequest
		require.NoError(db.Find(&requests).Error)
		require.Len(requests, 1)
		require.Equal(attach.OpDestroy, requests[0].Job.Op)
	})

	t.Run("an unknown operation is rejected", func(t *testing.T) {
		require := require.New(t)
		q := NewDatabase(setupTestDB(t))

		require.Error(q.Dispatch(ctx, job("vacuum")))
	})
}

func TestRedisDispatch(t *testing.T) {
	addr := os.Getenv("REDIS_TEST_ADDR")
	if addr == "" {
		t.Skip("set REDIS_TEST_ADDR to run redis queue tests")
	}
	require := require.New(t)
	ctx := context.Background()

	client := redis.NewClient(&redis.Options{Addr: addr})
	t.Cleanup(func() { client.Close() })

	q := NewRedis(client, "affix:test:jobs")
	t.Cleanup(func() { client.Del(ctx, "affix:test:jobs") })

	sent := job(attach.OpPromote)
	require.NoError(q.Dispatch(ctx, sent))

	got, err := q.Receive(ctx)
	require.NoError(err)
	require.Equal(sent.Op, got.Op)
	require.Equal(sent.Record(), got.Record())
	require.True(got.Snapshot.File.Equal(sent.Snapshot.File))
}
