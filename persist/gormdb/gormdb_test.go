package gormdb

import (
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/affixlabs/affix/attach"
	"github.com/affixlabs/affix/internal/snowflake"
	"github.com/affixlabs/affix/models"
	storagemem "github.com/affixlabs/affix/storage/memory"
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

	return db
}

func createUpload(t *testing.T, db *gorm.DB) attach.Record {
	t.Helper()
	require := require.New(t)
	upload := &models.Upload{ID: snowflake.Now()}
	require.NoError(db.Create(upload).Error)
	return upload.Record()
}

func file(id, storage string) *attach.UploadedFile {
	return &attach.UploadedFile{ID: id, Storage: storage, Metadata: attach.Metadata{"size": float64(1)}}
}

func TestLoad(t *testing.T) {
	ctx := context.Background()

	t.Run("a missing record reports missing", func(t *testing.T) {
		require := require.New(t)
		p := New(setupTestDB(t))

		_, err := p.Load(ctx, attach.Record{Kind: "uploads", ID: "0"}, "file")
		require.ErrorIs(err, attach.ErrRecordMissing)
	})

	t.Run("an empty column loads as empty", func(t *testing.T) {
		require := require.New(t)
		db := setupTestDB(t)
		rec := createUpload(t, db)

		snap, err := New(db).Load(ctx, rec, "file")
		require.NoError(err)
		require.True(snap.Empty())
	})

	t.Run("a written column loads back", func(t *testing.T) {
		require := require.New(t)
		db := setupTestDB(t)
		rec := createUpload(t, db)
		p := New(db)

		next := attach.Snapshot{File: file("cache/x.jpg", "cache")}
		_, err := p.CompareAndSet(ctx, rec, "file", attach.Snapshot{}, next)
		require.NoError(err)

		snap, err := p.Load(ctx, rec, "file")
		require.NoError(err)
		require.True(snap.File.Equal(next.File))
	})
}

func TestCompareAndSet(t *testing.T) {
	ctx := context.Background()

	t.Run("the first write expects an empty column", func(t *testing.T) {
		require := require.New(t)
		db := setupTestDB(t)
		rec := createUpload(t, db)
		p := New(db)

		next := attach.Snapshot{File: file("cache/x.jpg", "cache")}
		merged, err := p.CompareAndSet(ctx, rec, "file", attach.Snapshot{}, next)
		require.NoError(err)
		require.True(merged.File.Equal(next.File))
	})

	t.Run("a divergent column reports conflict and stays put", func(t *testing.T) {
		require := require.New(t)
		db := setupTestDB(t)
		rec := createUpload(t, db)
		p := New(db)

		x := attach.Snapshot{File: file("cache/x.jpg", "cache")}
		_, err := p.CompareAndSet(ctx, rec, "file", attach.Snapshot{}, x)
		require.NoError(err)

		y := attach.Snapshot{File: file("cache/y.jpg", "cache")}
		_, err = p.CompareAndSet(ctx, rec, "file", attach.Snapshot{}, y)
		require.ErrorIs(err, attach.ErrConflict)

		live, err := p.Load(ctx, rec, "file")
		require.NoError(err)
		require.True(live.File.Equal(x.File))
	})

	t.Run("a deleted record reports missing", func(t *testing.T) {
		require := require.New(t)
		db := setupTestDB(t)
		rec := createUpload(t, db)
		p := New(db)

		require.NoError(db.Exec("DELETE FROM uploads WHERE id = ?", rec.ID).Error)

		_, err := p.CompareAndSet(ctx, rec, "file", attach.Snapshot{}, attach.Snapshot{File: file("cache/x.jpg", "cache")})
		require.ErrorIs(err, attach.ErrRecordMissing)
	})

	t.Run("concurrent derivative additions merge", func(t *testing.T) {
		require := require.New(t)
		db := setupTestDB(t)
		rec := createUpload(t, db)
		p := New(db)

		// s0: a cached original with derivative a, as a promote job saw it
		s0 := attach.Snapshot{File: file("cache/orig.jpg", "cache"), Derivatives: attach.NewDerivatives()}
		s0.Derivatives.Add("a", file("cache/a.jpg", "cache"))
		_, err := p.CompareAndSet(ctx, rec, "file", attach.Snapshot{}, s0)
		require.NoError(err)

		// another writer adds derivative b meanwhile
		withB := s0.Clone()
		withB.Derivatives.Add("b", file("cache/b.jpg", "cache"))
		_, err = p.CompareAndSet(ctx, rec, "file", s0, withB)
		require.NoError(err)

		// the promoter, expecting s0, applies its promoted copy
		promoted := attach.Snapshot{File: file("store/orig.jpg", "store"), Derivatives: attach.NewDerivatives()}
		promoted.Derivatives.Add("a", file("store/a.jpg", "store"))
		merged, err := p.CompareAndSet(ctx, rec, "file", s0, promoted)
		require.NoError(err)

		require.True(merged.File.Equal(promoted.File))
		require.ElementsMatch([]string{"a", "b"}, merged.Derivatives.Names())
		a, _ := merged.Derivatives.Get("a")
		require.Equal("store", a.Storage)
		b, _ := merged.Derivatives.Get("b")
		require.Equal("cache", b.Storage, "the concurrent addition survives untouched")

		live, err := p.Load(ctx, rec, "file")
		require.NoError(err)
		require.ElementsMatch([]string{"a", "b"}, live.Derivatives.Names())
	})

	t.Run("clearing the attachment writes null", func(t *testing.T) {
		require := require.New(t)
		db := setupTestDB(t)
		rec := createUpload(t, db)
		p := New(db)

		x := attach.Snapshot{File: file("store/x.jpg", "store")}
		_, err := p.CompareAndSet(ctx, rec, "file", attach.Snapshot{}, x)
		require.NoError(err)

		merged, err := p.CompareAndSet(ctx, rec, "file", x, attach.Snapshot{})
		require.NoError(err)
		require.True(merged.Empty())

		var count int64
		require.NoError(db.Model(&models.Upload{}).Where("id = ? AND file IS NULL", rec.ID).Count(&count).Error)
		require.EqualValues(1, count)
	})
}

func TestFinalizeThroughDatabase(t *testing.T) {
	require := require.New(t)
	ctx := context.Background()
	db := setupTestDB(t)
	rec := createUpload(t, db)

	cache := storagemem.New()
	store := storagemem.New()
	registry := attach.NewRegistry()
	registry.Register("cache", cache)
	registry.Register("store", store)

	a := attach.New(registry, attach.WithRecord(rec, "file"))
	_, err := a.Assign(ctx, strings.NewReader("content"), attach.Metadata{"filename": "photo.jpg"})
	require.NoError(err)
	require.NoError(a.Finalize(ctx, New(db)))

	require.Equal(0, cache.Len())
	require.Equal(1, store.Len())

	live, err := New(db).Load(ctx, rec, "file")
	require.NoError(err)
	require.True(live.File.Equal(a.File()))
	require.Equal("store", live.File.Storage)
}
