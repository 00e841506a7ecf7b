package models

import (
	"time"

	"gorm.io/datatypes"
)

// StorageRecord is the row layout of the sqlite storage: one persisted session or result.
type StorageRecord struct {
	Bucket    string         `gorm:"primaryKey;type:varchar(32)"`
	ID        string         `gorm:"primaryKey;type:varchar(64)"`
	Revision  int64          `gorm:"not null;default:0"`
	Payload   datatypes.JSON `gorm:"not null"`
	SizeBytes int64          `gorm:"not null;default:0"`
	UpdatedAt time.Time      `gorm:"autoUpdateTime:false;index"`
}

// TableName specifies the table name for the StorageRecord model.
func (StorageRecord) TableName() string {
	return "storage_records"
}
