package store

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"path/filepath"
	"time"

	"github.com/dgraph-io/badger/v4"
	_ "github.com/glebarez/go-sqlite" // Pure Go SQLite driver
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/mohantyajitesh/docuextract-pro/internal/config"
	apperrors "github.com/mohantyajitesh/docuextract-pro/internal/errors"
	"github.com/mohantyajitesh/docuextract-pro/internal/extract"
	"github.com/mohantyajitesh/docuextract-pro/internal/jobs"
)

// Store provides unified access to SQLite and BadgerDB. SQLite holds
// the job history table; Badger archives the full result documents.
type Store struct {
	db        *gorm.DB
	badger    *badger.DB
	resultTTL time.Duration
}

// New creates a new Store instance.
func New(cfg *config.Config) (*Store, error) {
	sqlitePath := cfg.Storage.SQLitePath
	if sqlitePath == "" {
		sqlitePath = filepath.Join(cfg.Storage.DataDir, "docuextract.db")
	}

	// Open SQLite with optimizations
	sqliteDB, err := sql.Open("sqlite", sqlitePath+"?_journal=WAL&_synchronous=NORMAL&_busy_timeout=5000&_cache_size=-64000")
	if err != nil {
		return nil, fmt.Errorf("failed to open sqlite: %w", err)
	}

	// Configure connection pool
	sqliteDB.SetMaxOpenConns(10)
	sqliteDB.SetMaxIdleConns(5)
	sqliteDB.SetConnMaxLifetime(time.Hour)

	db, err := gorm.Open(sqlite.Dialector{Conn: sqliteDB}, &gorm.Config{
		Logger:                 logger.Default.LogMode(logger.Silent),
		SkipDefaultTransaction: true,
		PrepareStmt:            true,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to open sqlite: %w", err)
	}

	if err := db.AutoMigrate(&JobRecord{}); err != nil {
		return nil, fmt.Errorf("failed to migrate: %w", err)
	}

	badgerPath := cfg.Storage.BadgerPath
	if badgerPath == "" {
		badgerPath = filepath.Join(cfg.Storage.DataDir, "badger")
	}

	// Open BadgerDB with optimizations
	badgerOpts := badger.DefaultOptions(badgerPath).
		WithLogger(nil). // Disable verbose logging
		WithNumVersionsToKeep(1).
		WithCompactL0OnClose(true).
		WithValueLogFileSize(16 << 20). // 16MB value log files
		WithMemTableSize(16 << 20)      // 16MB memtable

	badgerDB, err := badger.Open(badgerOpts)
	if err != nil {
		return nil, fmt.Errorf("failed to open badger: %w", err)
	}

	return &Store{
		db:        db,
		badger:    badgerDB,
		resultTTL: cfg.Retention.HistoryMaxAge,
	}, nil
}

// Close closes all database connections.
func (s *Store) Close() error {
	if db, err := s.db.DB(); err == nil {
		db.Close()
	}
	return s.badger.Close()
}

// ==================== Job History (SQLite) ====================

// SaveJob upserts one job into the history table, keyed by job ID.
func (s *Store) SaveJob(job jobs.Job) error {
	rec := recordFromJob(job)
	return s.db.Save(&rec).Error
}

// History returns recent job records, newest first.
func (s *Store) History(limit int) ([]JobRecord, error) {
	var recs []JobRecord
	err := s.db.Order("created_at DESC").Limit(limit).Find(&recs).Error
	return recs, err
}

// DeleteJob removes a job's history row and its archived result.
// Deleting an unknown job is a no-op.
func (s *Store) DeleteJob(id string) error {
	if err := s.db.Delete(&JobRecord{}, "id = ?", id).Error; err != nil {
		return err
	}
	return s.badger.Update(func(txn *badger.Txn) error {
		err := txn.Delete(resultKey(id))
		if errors.Is(err, badger.ErrKeyNotFound) {
			return nil
		}
		return err
	})
}

// PruneHistory deletes history rows older than maxAge and reports how
// many were removed.
func (s *Store) PruneHistory(maxAge time.Duration) (int64, error) {
	cutoff := time.Now().Add(-maxAge)
	res := s.db.Where("created_at < ?", cutoff).Delete(&JobRecord{})
	return res.RowsAffected, res.Error
}

// ==================== Result Archive (BadgerDB) ====================

func resultKey(jobID string) []byte {
	return []byte("result:" + jobID)
}

// SaveResult archives a finished result so it survives restarts. The
// entry expires with the configured history retention.
func (s *Store) SaveResult(jobID string, result *extract.ExtractionResult) error {
	data, err := json.Marshal(result)
	if err != nil {
		return fmt.Errorf("failed to marshal result: %w", err)
	}
	return s.badger.Update(func(txn *badger.Txn) error {
		e := badger.NewEntry(resultKey(jobID), data)
		if s.resultTTL > 0 {
			e = e.WithTTL(s.resultTTL)
		}
		return txn.SetEntry(e)
	})
}

// LoadResult retrieves an archived result by job ID.
func (s *Store) LoadResult(jobID string) (*extract.ExtractionResult, error) {
	var data []byte
	err := s.badger.View(func(txn *badger.Txn) error {
		item, err := txn.Get(resultKey(jobID))
		if err != nil {
			return err
		}
		return item.Value(func(v []byte) error {
			data = append([]byte{}, v...)
			return nil
		})
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		return nil, apperrors.ErrJobNotFound
	}
	if err != nil {
		return nil, err
	}

	var result extract.ExtractionResult
	if err := json.Unmarshal(data, &result); err != nil {
		return nil, fmt.Errorf("failed to decode archived result: %w", err)
	}
	return &result, nil
}

// GC runs one round of Badger value log garbage collection, reclaiming
// space left by expired result entries.
func (s *Store) GC() error {
	err := s.badger.RunValueLogGC(0.5)
	if errors.Is(err, badger.ErrNoRewrite) {
		return nil
	}
	return err
}
