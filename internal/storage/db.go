// ABOUTME: Database connection and lifecycle for the mediator stores
// ABOUTME: Pure-Go SQLite by default, MySQL when a shared server is configured
package storage

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/adrg/xdg"
	"github.com/go-sql-driver/mysql"
	_ "modernc.org/sqlite"
)

// Driver selects the SQL backend
type Driver string

const (
	DriverSQLite Driver = "sqlite"
	DriverMySQL  Driver = "mysql"
)

// ParseDriver maps a configured name onto a Driver
func ParseDriver(name string) (Driver, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "", "sqlite", "sqlite3":
		return DriverSQLite, nil
	case "mysql":
		return DriverMySQL, nil
	default:
		return "", fmt.Errorf("unsupported database driver: %s", name)
	}
}

// Config names a database. For SQLite the DSN is a file path; for MySQL it is a
// go-sql-driver DSN such as user:pass@tcp(host:3306)/auticonnect.
type Config struct {
	Driver Driver
	DSN    string
}

// DB wraps a database connection together with its dialect
type DB struct {
	conn   *sql.DB
	driver Driver
	path   string
}

// DefaultDataDir returns the XDG data directory for the mediator
func DefaultDataDir() string {
	return filepath.Join(xdg.DataHome, "auticonnect")
}

// DefaultDBPath returns the default SQLite file path
func DefaultDBPath() string {
	return filepath.Join(DefaultDataDir(), "mediator.db")
}

// Open connects to the configured database and creates the schema
func Open(cfg Config) (*DB, error) {
	switch cfg.Driver {
	case DriverSQLite, "":
		path := cfg.DSN
		if path == "" {
			path = DefaultDBPath()
		}
		return openSQLite(path)
	case DriverMySQL:
		return openMySQL(cfg.DSN)
	default:
		return nil, fmt.Errorf("unsupported database driver: %s", cfg.Driver)
	}
}

func openSQLite(path string) (*DB, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, fmt.Errorf("failed to create data directory: %w", err)
	}

	conn, err := sql.Open("sqlite", path+"?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	return finishOpen(conn, DriverSQLite, path)
}

func openMySQL(dsn string) (*DB, error) {
	if dsn == "" {
		return nil, fmt.Errorf("mysql driver requires a DSN")
	}
	mc, err := mysql.ParseDSN(dsn)
	if err != nil {
		return nil, fmt.Errorf("invalid mysql DSN: %w", err)
	}
	// Timestamps are stored and scanned as UTC time.Time values
	mc.ParseTime = true
	mc.Loc = time.UTC

	connector, err := mysql.NewConnector(mc)
	if err != nil {
		return nil, fmt.Errorf("failed to create mysql connector: %w", err)
	}
	conn := sql.OpenDB(connector)
	conn.SetConnMaxLifetime(5 * time.Minute)
	return finishOpen(conn, DriverMySQL, mc.Addr+"/"+mc.DBName)
}

func finishOpen(conn *sql.DB, driver Driver, path string) (*DB, error) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := conn.PingContext(ctx); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	db := &DB{conn: conn, driver: driver, path: path}
	if err := db.initSchema(ctx); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}
	return db, nil
}

// OpenInMemory creates an in-memory SQLite database (for testing)
func OpenInMemory() (*DB, error) {
	conn, err := sql.Open("sqlite", ":memory:")
	if err != nil {
		return nil, fmt.Errorf("failed to open in-memory database: %w", err)
	}
	// Every pooled connection would otherwise see its own empty database
	conn.SetMaxOpenConns(1)

	db := &DB{conn: conn, driver: DriverSQLite, path: ":memory:"}
	if err := db.initSchema(context.Background()); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}
	return db, nil
}

// Close closes the database connection
func (db *DB) Close() error {
	if db.conn != nil {
		return db.conn.Close()
	}
	return nil
}

// Conn returns the underlying sql.DB connection for advanced usage
func (db *DB) Conn() *sql.DB {
	return db.conn
}

// Driver returns the backend in use
func (db *DB) Driver() Driver {
	return db.driver
}

// Path returns the database file path or MySQL address
func (db *DB) Path() string {
	return db.path
}

// Ping checks the connection, used by health checks
func (db *DB) Ping(ctx context.Context) error {
	return db.conn.PingContext(ctx)
}

// upsert returns the insert-or-update clause for the current dialect
func (db *DB) upsert(conflict string, columns ...string) string {
	updates := make([]string, len(columns))
	if db.driver == DriverMySQL {
		if len(columns) == 0 {
			first := strings.TrimSpace(strings.Split(conflict, ",")[0])
			return fmt.Sprintf("ON DUPLICATE KEY UPDATE %s=%s", first, first)
		}
		for i, col := range columns {
			updates[i] = fmt.Sprintf("%s=VALUES(%s)", col, col)
		}
		return "ON DUPLICATE KEY UPDATE " + strings.Join(updates, ", ")
	}
	if len(columns) == 0 {
		return fmt.Sprintf("ON CONFLICT(%s) DO NOTHING", conflict)
	}
	for i, col := range columns {
		updates[i] = fmt.Sprintf("%s=excluded.%s", col, col)
	}
	return fmt.Sprintf("ON CONFLICT(%s) DO UPDATE SET %s", conflict, strings.Join(updates, ", "))
}

// nullTime stores the zero time as NULL
func nullTime(t time.Time) sql.NullTime {
	if t.IsZero() {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: t.UTC(), Valid: true}
}

func timeOf(nt sql.NullTime) time.Time {
	if !nt.Valid {
		return time.Time{}
	}
	return nt.Time.UTC()
}
