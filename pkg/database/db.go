package database

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/dbehnke/dmr-gateway/pkg/logger"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	// Use modernc.org/sqlite (pure Go, no CGO)
	"gorm.io/driver/sqlite"
	_ "modernc.org/sqlite"
)

// SchemaVersion is bumped whenever a model changes incompatibly
const SchemaVersion = 1

// DB wraps the GORM database connection
type DB struct {
	db     *gorm.DB
	logger *logger.Logger
}

// Config holds database configuration
type Config struct {
	Path            string // Path to SQLite database file
	SoftwareVersion string // stamped into the system_info row at startup
}

// NewDB opens the database, runs migrations and stamps the schema and
// software version. An error means storage is unavailable.
func NewDB(cfg Config, log *logger.Logger) (*DB, error) {
	if cfg.Path == "" {
		cfg.Path = "dmr-gateway.db"
	}

	// Ensure directory exists
	dir := filepath.Dir(cfg.Path)
	if dir != "" && dir != "." {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("failed to create database directory: %w", err)
		}
	}

	// Configure GORM logger to use our logger
	gormLog := gormlogger.New(
		&gormLogAdapter{log: log},
		gormlogger.Config{
			SlowThreshold:             200 * time.Millisecond,
			LogLevel:                  gormlogger.Warn,
			IgnoreRecordNotFoundError: true,
			Colorful:                  false,
		},
	)

	dialector := sqlite.Dialector{
		DriverName: "sqlite",
		DSN:        cfg.Path,
	}

	db, err := gorm.Open(dialector, &gorm.Config{
		Logger: gormLog,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("failed to get database instance: %w", err)
	}

	// Call rows are written from the receive loop while the web API reads
	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA synchronous=NORMAL",
		"PRAGMA busy_timeout=5000",
	} {
		if _, err := sqlDB.Exec(pragma); err != nil {
			return nil, fmt.Errorf("failed to apply %q: %w", pragma, err)
		}
	}

	if err := db.AutoMigrate(&SystemInfo{}, &Call{}, &Subscriber{}); err != nil {
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}

	d := &DB{
		db:     db,
		logger: log,
	}

	info, err := d.stampVersion(cfg.SoftwareVersion)
	if err != nil {
		return nil, err
	}

	log.Info("Database initialized",
		logger.String("path", cfg.Path),
		logger.Int("schema_version", info.SchemaVersion),
		logger.String("software_version", info.SoftwareVersion))

	return d, nil
}

// stampVersion records the running schema and software version in the single
// system_info row, creating it on first start
func (d *DB) stampVersion(software string) (*SystemInfo, error) {
	var info SystemInfo
	err := d.db.First(&info, systemInfoID).Error
	switch {
	case errors.Is(err, gorm.ErrRecordNotFound):
		info = SystemInfo{ID: systemInfoID}
	case err != nil:
		return nil, fmt.Errorf("failed to read system info: %w", err)
	case info.SchemaVersion > SchemaVersion:
		return nil, fmt.Errorf("database schema version %d is newer than supported %d", info.SchemaVersion, SchemaVersion)
	}

	info.SchemaVersion = SchemaVersion
	info.SoftwareVersion = software
	info.StartedAt = time.Now()
	if err := d.db.Save(&info).Error; err != nil {
		return nil, fmt.Errorf("failed to stamp version: %w", err)
	}
	return &info, nil
}

// Version returns the stamped system info
func (d *DB) Version() (*SystemInfo, error) {
	var info SystemInfo
	if err := d.db.First(&info, systemInfoID).Error; err != nil {
		return nil, err
	}
	return &info, nil
}

// Ping confirms the database is still reachable
func (d *DB) Ping() error {
	sqlDB, err := d.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Ping()
}

// Close closes the database connection
func (d *DB) Close() error {
	sqlDB, err := d.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

// GetDB returns the underlying GORM database instance
func (d *DB) GetDB() *gorm.DB {
	return d.db
}

// gormLogAdapter adapts our logger to GORM's logger interface
type gormLogAdapter struct {
	log *logger.Logger
}

func (l *gormLogAdapter) Printf(format string, args ...interface{}) {
	l.log.Warn(fmt.Sprintf(format, args...))
}
