package repository

import (
	"context"
	"sort"
	"time"
)

// Buckets used by the engine and the analyzer.
const (
	BucketSessions = "sessions"
	BucketResults  = "results"
)

// Record is one persisted entity. Payload is the JSON encoding of a session or result.
type Record struct {
	ID        string
	Revision  int64
	UpdatedAt time.Time
	Payload   []byte
}

// QuotaInfo reports storage usage in bytes. A zero Limit means unlimited.
type QuotaInfo struct {
	Used  int64 `json:"used"`
	Limit int64 `json:"limit"`
}

// Available returns the remaining bytes, or -1 for unlimited storage.
func (q QuotaInfo) Available() int64 {
	if q.Limit <= 0 {
		return -1
	}
	if q.Used >= q.Limit {
		return 0
	}
	return q.Limit - q.Used
}

// Storage is the durable boundary behind the in-memory session and result tables.
// Save replaces the whole content of a bucket. Failures are *models.StorageError.
type Storage interface {
	Save(ctx context.Context, bucket string, records []Record) error
	Load(ctx context.Context, bucket string) ([]Record, error)
	Quota(ctx context.Context) (QuotaInfo, error)
}

// PayloadSize sums the payload bytes of records.
func PayloadSize(records []Record) int64 {
	var n int64
	for _, r := range records {
		n += int64(len(r.Payload))
	}
	return n
}

// SortByUpdatedAt orders records oldest first, ties broken by ID.
func SortByUpdatedAt(records []Record) {
	sort.SliceStable(records, func(i, j int) bool {
		if records[i].UpdatedAt.Equal(records[j].UpdatedAt) {
			return records[i].ID < records[j].ID
		}
		return records[i].UpdatedAt.Before(records[j].UpdatedAt)
	})
}
