package database

import (
	"database/sql"
	"errors"
	"fmt"
	"time"

	_ "github.com/mattn/go-sqlite3"
)

// Config holds database configuration
// ARCHITECTURAL DISCOVERY: Configuration struct provides all database settings
// needed for production deployment without hardcoded values
type Config struct {
	DatabasePath    string        `json:"database_path"`
	MaxConnections  int           `json:"max_connections"`
	ConnMaxLifetime time.Duration `json:"conn_max_lifetime"`
	ConnMaxIdleTime time.Duration `json:"conn_max_idle_time"`
	WriteTimeout    time.Duration `json:"write_timeout"`
	WriteQueueSize  int           `json:"write_queue_size"`
}

// DefaultConfig returns production-ready database configuration
// FUNCTIONAL DISCOVERY: The audit table is small and written by one goroutine;
// a handful of pooled connections covers the concurrent API reads
func DefaultConfig() *Config {
	return &Config{
		DatabasePath:    "./canvas.db",
		MaxConnections:  10,
		ConnMaxLifetime: time.Hour,
		ConnMaxIdleTime: time.Minute * 10,
		WriteTimeout:    30 * time.Second,
		WriteQueueSize:  1024,
	}
}

// Validate ensures the configuration is valid
// TECHNICAL DISCOVERY: Configuration validation prevents runtime failures
// from invalid database settings
func (c *Config) Validate() error {
	if c.DatabasePath == "" {
		return errors.New("database path cannot be empty")
	}
	if c.MaxConnections <= 0 {
		return errors.New("max connections must be greater than 0")
	}
	if c.ConnMaxLifetime <= 0 {
		return errors.New("connection max lifetime must be greater than 0")
	}
	if c.ConnMaxIdleTime <= 0 {
		return errors.New("connection max idle time must be greater than 0")
	}
	if c.WriteTimeout <= 0 {
		return errors.New("write timeout must be greater than 0")
	}
	if c.WriteQueueSize <= 0 {
		return errors.New("write queue size must be greater than 0")
	}
	return nil
}

// DSN returns the go-sqlite3 connection string for the configured path.
func (c *Config) DSN() string {
	return c.DatabasePath + "?_busy_timeout=5000&_journal_mode=WAL&_foreign_keys=on"
}

// Open validates cfg, opens the database and applies the connection settings.
func Open(cfg *Config) (*sql.DB, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid database config: %w", err)
	}

	db, err := sql.Open("sqlite3", cfg.DSN())
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// FUNCTIONAL DISCOVERY: Connection pool configuration critical for concurrent reads
	db.SetMaxOpenConns(cfg.MaxConnections)
	db.SetConnMaxLifetime(cfg.ConnMaxLifetime)
	db.SetConnMaxIdleTime(cfg.ConnMaxIdleTime)

	if err := applySQLiteOptimizations(db); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to apply SQLite optimizations: %w", err)
	}
	return db, nil
}

// SQLite optimization pragmas
// ARCHITECTURAL DISCOVERY: WAL mode enables concurrent reads while maintaining
// the single-writer pattern of the session store
var sqliteOptimizations = []string{
	"PRAGMA journal_mode = WAL",   // Write-Ahead Logging for better concurrency
	"PRAGMA synchronous = NORMAL", // Balance between safety and performance
	"PRAGMA cache_size = -16000",  // 16MB cache (negative = KB)
	"PRAGMA temp_store = MEMORY",  // Use memory for temporary tables
	"PRAGMA busy_timeout = 5000",  // 5 second timeout for locked database
}

// applySQLiteOptimizations applies performance optimizations to the database connection
func applySQLiteOptimizations(db *sql.DB) error {
	for _, pragma := range sqliteOptimizations {
		if _, err := db.Exec(pragma); err != nil {
			return fmt.Errorf("failed to execute pragma %s: %w", pragma, err)
		}
	}
	return nil
}
