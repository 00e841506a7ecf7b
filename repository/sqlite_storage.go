package repository

import (
	"context"
	"errors"
	"fmt"
	"log"
	"mindscreen/models"

	"gorm.io/datatypes"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type sqliteStorage struct {
	db         *gorm.DB
	quotaBytes int64
}

// NewSQLiteStorage creates a Storage backed by the storage_records table.
// quotaBytes <= 0 disables the quota.
func NewSQLiteStorage(db *gorm.DB, quotaBytes int64) (Storage, error) {
	if db == nil {
		return nil, &models.StorageError{Code: models.ErrCodeNotAvailable, Err: errors.New("database handle is nil")}
	}
	if err := db.AutoMigrate(&models.StorageRecord{}); err != nil {
		log.Printf("ERROR: [SQLiteStorage] Failed to migrate storage_records: %v", err)
		return nil, &models.StorageError{Code: models.ErrCodeNotAvailable, Err: fmt.Errorf("failed to migrate storage_records: %w", err)}
	}
	return &sqliteStorage{db: db, quotaBytes: quotaBytes}, nil
}

// Save replaces the bucket content inside one transaction. Upserts only overwrite
// rows whose stored revision is not newer than the incoming one.
func (r *sqliteStorage) Save(ctx context.Context, bucket string, records []Record) error {
	rows := make([]models.StorageRecord, 0, len(records))
	ids := make([]string, 0, len(records))
	for _, rec := range records {
		if rec.ID == "" {
			return &models.StorageError{Code: models.ErrCodeSaveFailed, Bucket: bucket, Err: errors.New("record without ID")}
		}
		ids = append(ids, rec.ID)
		rows = append(rows, models.StorageRecord{
			Bucket:    bucket,
			ID:        rec.ID,
			Revision:  rec.Revision,
			Payload:   datatypes.JSON(rec.Payload),
			SizeBytes: int64(len(rec.Payload)),
			UpdatedAt: rec.UpdatedAt,
		})
	}

	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if r.quotaBytes > 0 {
			var others int64
			if err := tx.Model(&models.StorageRecord{}).
				Where("bucket <> ?", bucket).
				Select("COALESCE(SUM(size_bytes), 0)").
				Scan(&others).Error; err != nil {
				return err
			}
			if used := others + PayloadSize(records); used > r.quotaBytes {
				return &models.StorageError{Code: models.ErrCodeQuotaExceeded, Bucket: bucket,
					Err: fmt.Errorf("%d bytes exceeds quota of %d", used, r.quotaBytes)}
			}
		}

		del := tx.Where("bucket = ?", bucket)
		if len(ids) > 0 {
			del = del.Where("id NOT IN ?", ids)
		}
		if err := del.Delete(&models.StorageRecord{}).Error; err != nil {
			return err
		}
		if len(rows) == 0 {
			return nil
		}
		return tx.Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "bucket"}, {Name: "id"}},
			DoUpdates: clause.AssignmentColumns([]string{"revision", "payload", "size_bytes", "updated_at"}),
			Where: clause.Where{Exprs: []clause.Expression{
				clause.Expr{SQL: "storage_records.revision <= excluded.revision"},
			}},
		}).CreateInBatches(&rows, 100).Error
	})
	if err != nil {
		var se *models.StorageError
		if errors.As(err, &se) {
			log.Printf("WARN: [SQLiteStorage] Save of bucket '%s' rejected: %v", bucket, se)
			return se
		}
		log.Printf("ERROR: [SQLiteStorage] Failed to save %d records to bucket '%s': %v", len(records), bucket, err)
		return &models.StorageError{Code: models.ErrCodeSaveFailed, Bucket: bucket, Err: err}
	}
	return nil
}

// Load returns the bucket content, oldest first.
func (r *sqliteStorage) Load(ctx context.Context, bucket string) ([]Record, error) {
	var rows []models.StorageRecord
	err := r.db.WithContext(ctx).Where("bucket = ?", bucket).Order("updated_at asc, id asc").Find(&rows).Error
	if err != nil {
		log.Printf("ERROR: [SQLiteStorage] Failed to load bucket '%s': %v", bucket, err)
		return nil, &models.StorageError{Code: models.ErrCodeNotAvailable, Bucket: bucket, Err: err}
	}
	out := make([]Record, len(rows))
	for i, row := range rows {
		out[i] = Record{ID: row.ID, Revision: row.Revision, UpdatedAt: row.UpdatedAt, Payload: []byte(row.Payload)}
	}
	log.Printf("INFO: [SQLiteStorage] Loaded %d records from bucket '%s'.", len(out), bucket)
	return out, nil
}

// Quota sums the stored payload sizes.
func (r *sqliteStorage) Quota(ctx context.Context) (QuotaInfo, error) {
	var used int64
	err := r.db.WithContext(ctx).Model(&models.StorageRecord{}).
		Select("COALESCE(SUM(size_bytes), 0)").
		Scan(&used).Error
	if err != nil {
		return QuotaInfo{}, &models.StorageError{Code: models.ErrCodeNotAvailable, Err: err}
	}
	return QuotaInfo{Used: used, Limit: r.quotaBytes}, nil
}
