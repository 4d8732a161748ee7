package database

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"transkriptor/internal/models"

	"github.com/glebarez/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// DB is the process-wide database handle. The core runs one driver per
// process; the store tolerates multiple readers but writers serialize
// through gorm's own transaction handling.
var DB *gorm.DB

// Initialize opens (creating if necessary) the jobs.db relational store at
// dbPath, configures pragmas for a durable single-writer workload, and
// migrates the schema.
func Initialize(dbPath string) error {
	var err error

	if err := os.MkdirAll(filepath.Dir(dbPath), 0755); err != nil {
		return fmt.Errorf("failed to create database directory: %w", err)
	}

	dsn := fmt.Sprintf("%s?"+
		"_pragma=foreign_keys(1)&"+
		"_pragma=journal_mode(WAL)&"+
		"_pragma=synchronous(NORMAL)&"+
		"_pragma=cache_size(-64000)&"+
		"_pragma=temp_store(MEMORY)&"+
		"_pragma=mmap_size(268435456)&"+
		"_timeout=30000",
		dbPath)

	DB, err = gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger:          logger.Default.LogMode(logger.Warn),
		CreateBatchSize: 100,
	})
	if err != nil {
		return fmt.Errorf("failed to connect to database: %w", err)
	}

	sqlDB, err := DB.DB()
	if err != nil {
		return fmt.Errorf("failed to get underlying sql.DB: %w", err)
	}

	// SQLite prefers a single writer; the core's concurrency discipline
	// (§5) is one driver process per job, so a small pool suffices.
	sqlDB.SetMaxOpenConns(5)
	sqlDB.SetMaxIdleConns(2)
	sqlDB.SetConnMaxLifetime(30 * time.Minute)
	sqlDB.SetConnMaxIdleTime(5 * time.Minute)

	if err := DB.AutoMigrate(&models.Job{}, &models.Chunk{}); err != nil {
		return fmt.Errorf("failed to auto migrate: %w", err)
	}

	if err := migrateJobColumns(DB); err != nil {
		return fmt.Errorf("failed to migrate jobs columns: %w", err)
	}

	return nil
}

// migrateJobColumns adds interviewer_count/participant_count to the jobs
// table when a pre-existing database predates them, defaulting both to 1.
func migrateJobColumns(db *gorm.DB) error {
	type columnInfo struct {
		Name string `gorm:"column:name"`
	}
	var cols []columnInfo
	if err := db.Raw("PRAGMA table_info(jobs)").Scan(&cols).Error; err != nil {
		return err
	}
	have := map[string]bool{}
	for _, c := range cols {
		have[c.Name] = true
	}
	if !have["interviewer_count"] {
		if err := db.Exec("ALTER TABLE jobs ADD COLUMN interviewer_count INTEGER DEFAULT 1").Error; err != nil {
			return err
		}
	}
	if !have["participant_count"] {
		if err := db.Exec("ALTER TABLE jobs ADD COLUMN participant_count INTEGER DEFAULT 1").Error; err != nil {
			return err
		}
	}
	return nil
}

// Close closes the database connection gracefully.
func Close() error {
	if DB == nil {
		return nil
	}
	sqlDB, err := DB.DB()
	if err != nil {
		return err
	}
	err = sqlDB.Close()
	DB = nil
	return err
}

// HealthCheck pings the underlying connection.
func HealthCheck() error {
	if DB == nil {
		return fmt.Errorf("database connection is nil")
	}
	sqlDB, err := DB.DB()
	if err != nil {
		return fmt.Errorf("failed to get underlying sql.DB: %w", err)
	}
	if err := sqlDB.Ping(); err != nil {
		return fmt.Errorf("database ping failed: %w", err)
	}
	return nil
}

// GetConnectionStats returns database connection pool statistics.
func GetConnectionStats() sql.DBStats {
	if DB == nil {
		return sql.DBStats{}
	}
	sqlDB, err := DB.DB()
	if err != nil {
		return sql.DBStats{}
	}
	return sqlDB.Stats()
}
