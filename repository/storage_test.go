package repository

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"mindscreen/models"
)

var baseTime = time.Date(2024, 3, 10, 9, 0, 0, 0, time.UTC)

func record(id string, revision int64, minute int, payload string) Record {
	return Record{ID: id, Revision: revision, UpdatedAt: baseTime.Add(time.Duration(minute) * time.Minute), Payload: []byte(payload)}
}

func ids(records []Record) []string {
	out := make([]string, len(records))
	for i, r := range records {
		out[i] = r.ID
	}
	return out
}

func newSQLiteStorage(t *testing.T, quota int64) Storage {
	t.Helper()
	dsn := filepath.Join(t.TempDir(), "storage.db")
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{Logger: logger.Default.LogMode(logger.Silent)})
	require.NoError(t, err)
	t.Cleanup(func() {
		if sqlDB, err := db.DB(); err == nil {
			sqlDB.Close()
		}
	})
	s, err := NewSQLiteStorage(db, quota)
	require.NoError(t, err)
	return s
}

// storageBackends runs the Storage contract against every implementation.
func storageBackends(t *testing.T, quota int64, fn func(t *testing.T, s Storage)) {
	t.Run("memory", func(t *testing.T) { fn(t, NewMemoryStorage(quota)) })
	t.Run("sqlite", func(t *testing.T) { fn(t, newSQLiteStorage(t, quota)) })
}

func TestStorage_SaveReplacesBucket(t *testing.T) {
	storageBackends(t, 0, func(t *testing.T, s Storage) {
		ctx := context.Background()
		require.NoError(t, s.Save(ctx, BucketSessions, []Record{
			record("b", 1, 2, `{"n":2}`),
			record("a", 1, 1, `{"n":1}`),
			record("c", 1, 3, `{"n":3}`),
		}))
		require.NoError(t, s.Save(ctx, BucketResults, []Record{record("r1", 0, 0, `{"r":1}`)}))

		loaded, err := s.Load(ctx, BucketSessions)
		require.NoError(t, err)
		assert.Equal(t, []string{"a", "b", "c"}, ids(loaded), "oldest first")
		assert.JSONEq(t, `{"n":1}`, string(loaded[0].Payload))
		assert.True(t, loaded[0].UpdatedAt.Equal(baseTime.Add(time.Minute)))

		require.NoError(t, s.Save(ctx, BucketSessions, []Record{record("c", 2, 4, `{"n":33}`)}))
		loaded, err = s.Load(ctx, BucketSessions)
		require.NoError(t, err)
		require.Equal(t, []string{"c"}, ids(loaded))
		assert.Equal(t, int64(2), loaded[0].Revision)
		assert.JSONEq(t, `{"n":33}`, string(loaded[0].Payload))

		results, err := s.Load(ctx, BucketResults)
		require.NoError(t, err)
		assert.Equal(t, []string{"r1"}, ids(results), "other buckets are untouched")

		require.NoError(t, s.Save(ctx, BucketSessions, nil))
		loaded, err = s.Load(ctx, BucketSessions)
		require.NoError(t, err)
		assert.Empty(t, loaded)
	})
}

func TestStorage_HigherRevisionWins(t *testing.T) {
	storageBackends(t, 0, func(t *testing.T, s Storage) {
		ctx := context.Background()
		require.NoError(t, s.Save(ctx, BucketSessions, []Record{record("s1", 5, 1, `{"v":"new"}`)}))
		require.NoError(t, s.Save(ctx, BucketSessions, []Record{record("s1", 3, 2, `{"v":"stale"}`)}))

		loaded, err := s.Load(ctx, BucketSessions)
		require.NoError(t, err)
		require.Len(t, loaded, 1)
		assert.Equal(t, int64(5), loaded[0].Revision)
		assert.JSONEq(t, `{"v":"new"}`, string(loaded[0].Payload))
	})
}

func TestStorage_Quota(t *testing.T) {
	storageBackends(t, 40, func(t *testing.T, s Storage) {
		ctx := context.Background()
		require.NoError(t, s.Save(ctx, BucketResults, []Record{record("r1", 0, 0, `{"score":12}`)})) // 12 bytes
		require.NoError(t, s.Save(ctx, BucketSessions, []Record{record("s1", 1, 0, `{"index":3}`)})) // 11 bytes

		q, err := s.Quota(ctx)
		require.NoError(t, err)
		assert.Equal(t, int64(23), q.Used)
		assert.Equal(t, int64(40), q.Limit)
		assert.Equal(t, int64(17), q.Available())

		err = s.Save(ctx, BucketSessions, []Record{
			record("s1", 1, 0, `{"index":3}`),
			record("s2", 1, 1, `{"index":4,"extra":true}`),
		})
		require.Error(t, err)
		assert.True(t, errors.Is(err, models.ErrQuotaExceeded))

		loaded, err := s.Load(ctx, BucketSessions)
		require.NoError(t, err)
		assert.Equal(t, []string{"s1"}, ids(loaded), "a rejected save changes nothing")

		// Replacing a bucket frees its previous size.
		require.NoError(t, s.Save(ctx, BucketSessions, []Record{record("s2", 1, 1, `{"index":4,"extra":true}`)}))
	})
}

func TestStorage_RejectsRecordWithoutID(t *testing.T) {
	storageBackends(t, 0, func(t *testing.T, s Storage) {
		err := s.Save(context.Background(), BucketSessions, []Record{record("", 1, 0, `{}`)})
		require.Error(t, err)
		assert.True(t, errors.Is(err, models.ErrSaveFailed))
	})
}

func TestMemoryStorage_CanceledContext(t *testing.T) {
	s := NewMemoryStorage(0)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := s.Save(ctx, BucketSessions, []Record{record("a", 1, 0, `{}`)})
	assert.True(t, errors.Is(err, models.ErrStorageNotAvailable))
	_, err = s.Load(ctx, BucketSessions)
	assert.True(t, errors.Is(err, models.ErrStorageNotAvailable))
}

func TestMemoryStorage_LoadReturnsCopies(t *testing.T) {
	s := NewMemoryStorage(0)
	ctx := context.Background()
	payload := []byte(`{"a":1}`)
	require.NoError(t, s.Save(ctx, BucketSessions, []Record{{ID: "a", Payload: payload}}))
	payload[0] = 'X'

	loaded, err := s.Load(ctx, BucketSessions)
	require.NoError(t, err)
	loaded[0].Payload[1] = 'X'

	again, err := s.Load(ctx, BucketSessions)
	require.NoError(t, err)
	assert.Equal(t, `{"a":1}`, string(again[0].Payload))
}

func TestNewSQLiteStorage_NilDB(t *testing.T) {
	_, err := NewSQLiteStorage(nil, 0)
	assert.True(t, errors.Is(err, models.ErrStorageNotAvailable))
}

func TestQuotaInfo_Available(t *testing.T) {
	assert.Equal(t, int64(-1), QuotaInfo{Used: 10}.Available())
	assert.Equal(t, int64(0), QuotaInfo{Used: 12, Limit: 10}.Available())
	assert.Equal(t, int64(6), QuotaInfo{Used: 4, Limit: 10}.Available())
}

func TestSortByUpdatedAt(t *testing.T) {
	records := []Record{record("c", 0, 5, ""), record("b", 0, 1, ""), record("a", 0, 1, "")}
	SortByUpdatedAt(records)
	assert.Equal(t, []string{"a", "b", "c"}, ids(records))
	assert.Equal(t, int64(0), PayloadSize(records))
	assert.Equal(t, int64(7), PayloadSize([]Record{record("x", 0, 0, "1234567")}))
}
