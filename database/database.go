package database

import (
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"mindscreen/config"
	"mindscreen/models"
)

// MemoryDSN selects an in-memory database that lives as long as the process.
const MemoryDSN = "memory"

// Connection options applied to every pooled connection. Sessions and results are
// saved from background writers while handlers read, so writers wait on a lock
// instead of failing with SQLITE_BUSY.
const (
	busyTimeout   = 5 * time.Second
	fileOptions   = "_journal_mode=WAL&_synchronous=NORMAL&_foreign_keys=on"
	memoryOptions = "cache=shared&_foreign_keys=on"
)

// DB is the handle opened by Init.
var DB *gorm.DB

// Init opens the database named by config.AppConfig.Database.DSN and stores it in DB.
func Init() (*gorm.DB, error) {
	db, err := Open(config.AppConfig.Database.DSN)
	if err != nil {
		return nil, err
	}
	DB = db
	return DB, nil
}

// Open connects to SQLite. MemoryDSN or an empty DSN opens the shared in-memory
// database; anything else is a file path whose directory is created on demand.
func Open(dsn string) (*gorm.DB, error) {
	target, err := sqliteTarget(dsn)
	if err != nil {
		return nil, err
	}

	db, err := gorm.Open(sqlite.Open(target), &gorm.Config{Logger: newGormLogger()})
	if err != nil {
		log.Printf("ERROR: [Database] Failed to open SQLite database '%s': %v", dsn, err)
		return nil, fmt.Errorf("failed to open sqlite database '%s': %w", dsn, err)
	}
	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("failed to access connection pool of '%s': %w", dsn, err)
	}
	if isMemory(dsn) {
		// The shared in-memory database disappears with its last connection.
		sqlDB.SetConnMaxIdleTime(0)
		sqlDB.SetMaxIdleConns(1)
	}
	if err := sqlDB.Ping(); err != nil {
		sqlDB.Close()
		return nil, fmt.Errorf("sqlite database '%s' is not reachable: %w", dsn, err)
	}

	log.Printf("INFO: [Database] Opened SQLite database '%s'.", target)
	return db, nil
}

// Migrate creates or updates the tables the storage layer writes to.
func Migrate(db *gorm.DB) error {
	if err := db.AutoMigrate(&models.StorageRecord{}); err != nil {
		return fmt.Errorf("failed to migrate %s: %w", models.StorageRecord{}.TableName(), err)
	}
	return nil
}

// Close releases the connection pool of db.
func Close(db *gorm.DB) error {
	sqlDB, err := db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

func isMemory(dsn string) bool {
	return dsn == "" || dsn == MemoryDSN
}

// sqliteTarget turns a configured DSN into a driver DSN carrying the connection options.
func sqliteTarget(dsn string) (string, error) {
	timeout := fmt.Sprintf("_busy_timeout=%d", busyTimeout.Milliseconds())
	if isMemory(dsn) {
		return "file::memory:?" + memoryOptions + "&" + timeout, nil
	}
	if strings.Contains(dsn, "?") {
		// Explicit driver options win.
		return dsn, nil
	}
	if dir := filepath.Dir(dsn); dir != "." && dir != "/" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			log.Printf("ERROR: [Database] Failed to create database directory '%s': %v", dir, err)
			return "", fmt.Errorf("failed to create database directory '%s': %w", dir, err)
		}
	}
	return dsn + "?" + fileOptions + "&" + timeout, nil
}

func newGormLogger() logger.Interface {
	return logger.New(
		log.New(os.Stdout, "\r\n", log.LstdFlags),
		logger.Config{
			SlowThreshold:             200 * time.Millisecond, // gorm logger.Default threshold
			LogLevel:                  logger.Warn,
			IgnoreRecordNotFoundError: true,
			Colorful:                  false,
		},
	)
}
