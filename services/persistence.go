package services

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"mindscreen/models"
	"mindscreen/repository"
)

// PersistenceOptions tunes the recovery policy of a SnapshotWriter.
type PersistenceOptions struct {
	MaxRetries   int
	RetryBackoff time.Duration // doubled after every failed retry
	OnWarning    func(msg string)
}

// SnapshotWriter saves the latest snapshot of one bucket in the background.
// Enqueue never blocks; snapshots queued while a save is running are coalesced
// so only the newest one is written.
type SnapshotWriter struct {
	storage repository.Storage
	bucket  string
	opts    PersistenceOptions
	sleep   func(time.Duration)

	mu         sync.Mutex
	cond       *sync.Cond
	pending    []repository.Record
	hasPending bool
	inFlight   bool
	closed     bool
	degraded   bool
	lastErr    error
	done       chan struct{}
}

// NewSnapshotWriter starts the background worker for bucket.
func NewSnapshotWriter(storage repository.Storage, bucket string, opts PersistenceOptions) *SnapshotWriter {
	return newSnapshotWriter(storage, bucket, opts, time.Sleep)
}

func newSnapshotWriter(storage repository.Storage, bucket string, opts PersistenceOptions, sleep func(time.Duration)) *SnapshotWriter {
	w := &SnapshotWriter{
		storage: storage,
		bucket:  bucket,
		opts:    opts,
		sleep:   sleep,
		done:    make(chan struct{}),
	}
	w.cond = sync.NewCond(&w.mu)
	go w.run()
	return w
}

// Enqueue replaces the pending snapshot with records.
func (w *SnapshotWriter) Enqueue(records []repository.Record) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed {
		return
	}
	w.pending = records
	w.hasPending = true
	w.cond.Broadcast()
}

// Flush blocks until every enqueued snapshot has been handled.
func (w *SnapshotWriter) Flush() {
	w.mu.Lock()
	defer w.mu.Unlock()
	for w.hasPending || w.inFlight {
		w.cond.Wait()
	}
}

// Close writes the pending snapshot, if any, and stops the worker.
func (w *SnapshotWriter) Close() {
	w.mu.Lock()
	if w.closed {
		w.mu.Unlock()
		<-w.done
		return
	}
	w.closed = true
	w.cond.Broadcast()
	w.mu.Unlock()
	<-w.done
}

// Degraded reports whether the last save failed after every recovery step.
func (w *SnapshotWriter) Degraded() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.degraded
}

// LastError returns the error of the last failed save, or nil after a success.
func (w *SnapshotWriter) LastError() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.lastErr
}

func (w *SnapshotWriter) run() {
	defer close(w.done)
	for {
		w.mu.Lock()
		for !w.hasPending && !w.closed {
			w.cond.Wait()
		}
		if !w.hasPending && w.closed {
			w.mu.Unlock()
			return
		}
		records := w.pending
		w.pending, w.hasPending = nil, false
		w.inFlight = true
		w.mu.Unlock()

		err := w.saveWithRecovery(records)

		w.mu.Lock()
		w.inFlight = false
		w.lastErr = err
		wasDegraded := w.degraded
		w.degraded = err != nil
		w.cond.Broadcast()
		w.mu.Unlock()

		switch {
		case err != nil && !wasDegraded:
			w.warn(fmt.Sprintf("storage unavailable for '%s', continuing in memory-only mode: %v", w.bucket, err))
		case err == nil && wasDegraded:
			log.Printf("INFO: [Persistence] Storage for '%s' recovered; leaving memory-only mode.", w.bucket)
		}
	}
}

// saveWithRecovery retries with exponential backoff, then drops the oldest records
// while the storage reports it is over quota.
func (w *SnapshotWriter) saveWithRecovery(records []repository.Record) error {
	ctx := context.Background()
	err := w.storage.Save(ctx, w.bucket, records)
	backoff := w.opts.RetryBackoff
	for attempt := 1; err != nil && attempt <= w.opts.MaxRetries; attempt++ {
		log.Printf("WARN: [Persistence] Save of '%s' failed (attempt %d/%d): %v", w.bucket, attempt, w.opts.MaxRetries+1, err)
		if backoff > 0 {
			w.sleep(backoff)
			backoff *= 2
		}
		err = w.storage.Save(ctx, w.bucket, records)
	}
	if err == nil || !errors.Is(err, models.ErrQuotaExceeded) {
		return err
	}

	trimmed := append([]repository.Record(nil), records...)
	repository.SortByUpdatedAt(trimmed)
	for err != nil && errors.Is(err, models.ErrQuotaExceeded) && len(trimmed) > 0 {
		log.Printf("WARN: [Persistence] Quota exceeded for '%s'; dropping oldest record '%s' from storage.", w.bucket, trimmed[0].ID)
		trimmed = trimmed[1:]
		err = w.storage.Save(ctx, w.bucket, trimmed)
	}
	return err
}

func (w *SnapshotWriter) warn(msg string) {
	log.Printf("WARN: [Persistence] %s", msg)
	if w.opts.OnWarning != nil {
		w.opts.OnWarning(msg)
	}
}
