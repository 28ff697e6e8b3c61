package database

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"ebs-gateway/internal/models"

	"gorm.io/driver/mysql"
	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// DBManager holds a write connection and optional read replicas of one
// database.
type DBManager struct {
	WriteDB *gorm.DB
	ReadDBs []*gorm.DB

	mu      sync.Mutex
	current int
}

// Open connects to the primary at url and to every replica. A replica that
// fails to connect is skipped; reads fall back to the primary when none are
// left.
func Open(dbType, url string, replicaURLs []string, debug bool, log *slog.Logger) (*DBManager, error) {
	writeDB, err := openDB(dbType, url, debug)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to write database: %w", err)
	}
	m := &DBManager{WriteDB: writeDB}

	if sqlDB, err := writeDB.DB(); err == nil {
		sqlDB.SetMaxIdleConns(10)
		sqlDB.SetMaxOpenConns(100)
		sqlDB.SetConnMaxLifetime(time.Hour)
	}

	for i, replica := range replicaURLs {
		readDB, err := openDB(dbType, replica, debug)
		if err != nil {
			log.Warn("failed to connect to read replica", "replica", i, "error", err)
			continue
		}
		m.ReadDBs = append(m.ReadDBs, readDB)
	}

	log.Info("database connection established", "type", dbType, "replicas", len(m.ReadDBs))
	return m, nil
}

// New wraps existing connections. Used by tests.
func New(write *gorm.DB, reads ...*gorm.DB) *DBManager {
	return &DBManager{WriteDB: write, ReadDBs: reads}
}

func openDB(dbType, url string, debug bool) (*gorm.DB, error) {
	var dialector gorm.Dialector
	switch dbType {
	case "mysql":
		dialector = mysql.Open(url)
	case "postgres":
		dialector = postgres.Open(url)
	case "sqlite":
		dialector = sqlite.Open(url)
	default:
		return nil, fmt.Errorf("unsupported database type %q", dbType)
	}

	level := logger.Warn
	if debug {
		level = logger.Info
	}
	return gorm.Open(dialector, &gorm.Config{
		Logger: logger.Default.LogMode(level),
	})
}

// GetReadDB returns a read replica using round-robin
func (m *DBManager) GetReadDB() *gorm.DB {
	m.mu.Lock()
	defer m.mu.Unlock()

	if len(m.ReadDBs) == 0 {
		return m.WriteDB
	}

	db := m.ReadDBs[m.current]
	m.current = (m.current + 1) % len(m.ReadDBs)
	return db
}

// MigrateAPI creates the credential, policy and user tables.
func (m *DBManager) MigrateAPI() error {
	return m.WriteDB.AutoMigrate(
		&models.APIKey{},
		&models.APIKeyLimit{},
		&models.APIKeyIP{},
		&models.User{},
	)
}

// MigrateEbs creates both surveillance source tables.
func (m *DBManager) MigrateEbs() error {
	for _, table := range models.EbsSources {
		if err := m.WriteDB.Table(table).AutoMigrate(&models.EbsEvent{}); err != nil {
			return err
		}
	}
	return nil
}

// Ping checks the primary and every replica.
func (m *DBManager) Ping(ctx context.Context) error {
	var errs []error
	for _, db := range append([]*gorm.DB{m.WriteDB}, m.ReadDBs...) {
		sqlDB, err := db.DB()
		if err != nil {
			errs = append(errs, err)
			continue
		}
		if err := sqlDB.PingContext(ctx); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (m *DBManager) Close() error {
	var errs []error
	for _, db := range append([]*gorm.DB{m.WriteDB}, m.ReadDBs...) {
		if sqlDB, err := db.DB(); err == nil {
			errs = append(errs, sqlDB.Close())
		}
	}
	return errors.Join(errs...)
}
