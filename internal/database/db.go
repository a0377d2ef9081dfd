// Package database wraps the sqlite connection used by all repositories.
package database

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"

	_ "modernc.org/sqlite" // Pure Go SQLite driver
)

// DB wraps the database connection
type DB struct {
	conn *sql.DB
	path string
}

// New creates a new database connection
func New(dbPath string) (*DB, error) {
	// Ensure directory exists
	dir := filepath.Dir(dbPath)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create database directory: %w", err)
	}

	// Use WAL mode for better concurrency
	conn, err := sql.Open("sqlite", dbPath+"?_pragma=journal_mode(WAL)&_pragma=foreign_keys(1)")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if err := conn.Ping(); err != nil {
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	conn.SetMaxOpenConns(25)
	conn.SetMaxIdleConns(5)

	return &DB{
		conn: conn,
		path: dbPath,
	}, nil
}

// NewInMemory creates an in-memory database. Used by tests.
func NewInMemory() (*DB, error) {
	conn, err := sql.Open("sqlite", ":memory:?_pragma=foreign_keys(1)")
	if err != nil {
		return nil, fmt.Errorf("failed to open in-memory database: %w", err)
	}
	// A single connection keeps the in-memory database alive across calls.
	conn.SetMaxOpenConns(1)
	return &DB{conn: conn, path: ":memory:"}, nil
}

// Close closes the database connection
func (db *DB) Close() error {
	return db.conn.Close()
}

// Conn returns the underlying sql.DB connection
func (db *DB) Conn() *sql.DB {
	return db.conn
}

// Path returns the on-disk location of the database file.
func (db *DB) Path() string {
	return db.path
}

// Begin starts a new transaction
func (db *DB) Begin() (*sql.Tx, error) {
	return db.conn.Begin()
}

// Exec executes a query without returning rows
func (db *DB) Exec(query string, args ...interface{}) (sql.Result, error) {
	return db.conn.Exec(query, args...)
}

// Query executes a query that returns rows
func (db *DB) Query(query string, args ...interface{}) (*sql.Rows, error) {
	return db.conn.Query(query, args...)
}

// QueryRow executes a query that returns at most one row
func (db *DB) QueryRow(query string, args ...interface{}) *sql.Row {
	return db.conn.QueryRow(query, args...)
}

// Snapshot writes a consistent copy of the database to destPath using
// VACUUM INTO, which is safe against concurrent readers and writers.
func (db *DB) Snapshot(destPath string) error {
	if err := os.MkdirAll(filepath.Dir(destPath), 0755); err != nil {
		return fmt.Errorf("failed to create snapshot directory: %w", err)
	}
	if _, err := os.Stat(destPath); err == nil {
		// VACUUM INTO refuses to overwrite.
		if err := os.Remove(destPath); err != nil {
			return fmt.Errorf("failed to remove stale snapshot: %w", err)
		}
	}
	if _, err := db.conn.Exec(`VACUUM INTO ?`, destPath); err != nil {
		return fmt.Errorf("failed to snapshot database: %w", err)
	}
	return nil
}

// Migrate creates the core tables if they do not exist.
func (db *DB) Migrate() error {
	for _, stmt := range migrations {
		if _, err := db.conn.Exec(stmt); err != nil {
			return fmt.Errorf("migration failed: %w", err)
		}
	}
	return nil
}

var migrations = []string{
	`CREATE TABLE IF NOT EXISTS material_types (
		id TEXT PRIMARY KEY,
		tenant_id TEXT,
		name TEXT NOT NULL,
		rotatable INTEGER NOT NULL DEFAULT 1,
		density REAL,
		created_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP,
		deleted_at TIMESTAMP
	)`,
	`CREATE TABLE IF NOT EXISTS stock_items (
		id TEXT PRIMARY KEY,
		tenant_id TEXT,
		label TEXT NOT NULL DEFAULT '',
		material_type_id TEXT NOT NULL,
		stock_type TEXT NOT NULL,
		length REAL,
		width REAL,
		height REAL,
		thickness REAL NOT NULL,
		quantity INTEGER NOT NULL DEFAULT 0,
		reserved_qty INTEGER NOT NULL DEFAULT 0,
		unit_price REAL NOT NULL DEFAULT 0,
		is_from_waste INTEGER NOT NULL DEFAULT 0,
		version INTEGER NOT NULL DEFAULT 0,
		created_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP,
		updated_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP,
		deleted_at TIMESTAMP
	)`,
	`CREATE TABLE IF NOT EXISTS cutting_jobs (
		id TEXT PRIMARY KEY,
		tenant_id TEXT,
		name TEXT NOT NULL DEFAULT '',
		material_type_id TEXT NOT NULL,
		thickness REAL NOT NULL,
		status TEXT NOT NULL DEFAULT 'PENDING',
		created_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP,
		updated_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP,
		deleted_at TIMESTAMP
	)`,
	`CREATE TABLE IF NOT EXISTS cutting_job_items (
		id TEXT PRIMARY KEY,
		cutting_job_id TEXT NOT NULL REFERENCES cutting_jobs(id),
		order_item_id TEXT,
		label TEXT NOT NULL DEFAULT '',
		geometry_type TEXT NOT NULL,
		length REAL,
		width REAL,
		height REAL,
		quantity INTEGER NOT NULL DEFAULT 1,
		can_rotate INTEGER NOT NULL DEFAULT 1,
		grain_direction TEXT NOT NULL DEFAULT 'none'
	)`,
	`CREATE TABLE IF NOT EXISTS optimization_scenarios (
		id TEXT PRIMARY KEY,
		tenant_id TEXT,
		name TEXT NOT NULL,
		cutting_job_id TEXT NOT NULL,
		created_by_id TEXT,
		parameters TEXT NOT NULL DEFAULT '{}',
		use_warehouse_stock INTEGER NOT NULL DEFAULT 1,
		use_standard_sizes INTEGER NOT NULL DEFAULT 0,
		selected_stock_ids TEXT,
		status TEXT NOT NULL DEFAULT 'PENDING',
		error TEXT,
		created_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP,
		updated_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
	)`,
	`CREATE TABLE IF NOT EXISTS cutting_plans (
		id TEXT PRIMARY KEY,
		tenant_id TEXT,
		plan_number TEXT NOT NULL UNIQUE,
		scenario_id TEXT NOT NULL REFERENCES optimization_scenarios(id),
		total_waste REAL NOT NULL DEFAULT 0,
		waste_percentage REAL NOT NULL DEFAULT 0,
		stock_used_count INTEGER NOT NULL DEFAULT 0,
		estimated_time REAL,
		estimated_cost TEXT,
		predicted_waste_pct REAL,
		status TEXT NOT NULL DEFAULT 'DRAFT',
		approved_by_id TEXT,
		approved_at TIMESTAMP,
		machine_id TEXT,
		created_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP,
		updated_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
	)`,
	`CREATE TABLE IF NOT EXISTS cutting_plan_stocks (
		id TEXT PRIMARY KEY,
		cutting_plan_id TEXT NOT NULL REFERENCES cutting_plans(id),
		stock_item_id TEXT NOT NULL,
		sequence INTEGER NOT NULL,
		waste REAL NOT NULL DEFAULT 0,
		waste_percentage REAL NOT NULL DEFAULT 0,
		layout_data TEXT NOT NULL,
		UNIQUE(cutting_plan_id, sequence)
	)`,
	`CREATE INDEX IF NOT EXISTS idx_scenarios_job ON optimization_scenarios(cutting_job_id)`,
	`CREATE INDEX IF NOT EXISTS idx_plans_scenario ON cutting_plans(scenario_id)`,
	`CREATE INDEX IF NOT EXISTS idx_stock_pool ON stock_items(material_type_id, thickness, stock_type)`,
}
