package repository

import (
	"context"
	"fmt"
	"log"
	"sync"

	"mindscreen/models"
)

// memoryStorage keeps buckets in process memory. Used by tests and memory-only deployments.
type memoryStorage struct {
	buckets    map[string]map[string]Record
	quotaBytes int64
	mu         sync.RWMutex
}

// NewMemoryStorage creates an in-memory Storage. quotaBytes <= 0 disables the quota.
func NewMemoryStorage(quotaBytes int64) Storage {
	return &memoryStorage{
		buckets:    make(map[string]map[string]Record),
		quotaBytes: quotaBytes,
	}
}

// Save replaces the bucket content. Records with a lower revision than the stored
// copy keep the stored copy (last write wins on revision).
func (s *memoryStorage) Save(ctx context.Context, bucket string, records []Record) error {
	if err := ctx.Err(); err != nil {
		return &models.StorageError{Code: models.ErrCodeNotAvailable, Bucket: bucket, Err: err}
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	existing := s.buckets[bucket]
	next := make(map[string]Record, len(records))
	for _, r := range records {
		if r.ID == "" {
			return &models.StorageError{Code: models.ErrCodeSaveFailed, Bucket: bucket, Err: fmt.Errorf("record without ID")}
		}
		if old, ok := existing[r.ID]; ok && old.Revision > r.Revision {
			next[r.ID] = old
			continue
		}
		r.Payload = append([]byte(nil), r.Payload...)
		next[r.ID] = r
	}

	if s.quotaBytes > 0 {
		var used int64
		for name, b := range s.buckets {
			if name == bucket {
				continue
			}
			for _, r := range b {
				used += int64(len(r.Payload))
			}
		}
		for _, r := range next {
			used += int64(len(r.Payload))
		}
		if used > s.quotaBytes {
			log.Printf("WARN: [MemoryStorage] Save of bucket '%s' rejected: %d bytes exceeds quota of %d.", bucket, used, s.quotaBytes)
			return &models.StorageError{Code: models.ErrCodeQuotaExceeded, Bucket: bucket,
				Err: fmt.Errorf("%d bytes exceeds quota of %d", used, s.quotaBytes)}
		}
	}

	s.buckets[bucket] = next
	return nil
}

// Load returns the bucket content, oldest first.
func (s *memoryStorage) Load(ctx context.Context, bucket string) ([]Record, error) {
	if err := ctx.Err(); err != nil {
		return nil, &models.StorageError{Code: models.ErrCodeNotAvailable, Bucket: bucket, Err: err}
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]Record, 0, len(s.buckets[bucket]))
	for _, r := range s.buckets[bucket] {
		r.Payload = append([]byte(nil), r.Payload...)
		out = append(out, r)
	}
	SortByUpdatedAt(out)
	return out, nil
}

// Quota reports the bytes held across all buckets.
func (s *memoryStorage) Quota(ctx context.Context) (QuotaInfo, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var used int64
	for _, b := range s.buckets {
		for _, r := range b {
			used += int64(len(r.Payload))
		}
	}
	return QuotaInfo{Used: used, Limit: s.quotaBytes}, nil
}
