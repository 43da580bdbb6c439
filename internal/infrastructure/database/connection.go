package database

import (
	"context"
	"crypto/tls"
	"database/sql"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/go-sql-driver/mysql"
	_ "modernc.org/sqlite"

	"github.com/nexuscrm/tablekit/internal/config"
)

// Dialect describes the SQL differences the engine cares about
type Dialect struct {
	Name string
	// SupportsForUpdate is false for SQLite, where a write transaction
	// already holds the database lock
	SupportsForUpdate bool
}

var (
	MySQL  = Dialect{Name: "mysql", SupportsForUpdate: true}
	SQLite = Dialect{Name: "sqlite", SupportsForUpdate: false}
)

// Connection wraps the pool and its dialect.
// sql.DB is already safe for concurrent use; it is not wrapped in a mutex.
type Connection struct {
	db      *sql.DB
	dialect Dialect
}

var tlsOnce sync.Once

// Open connects using cfg and verifies the connection
func Open(ctx context.Context, cfg config.DatabaseConfig) (*Connection, error) {
	switch cfg.Driver {
	case "mysql":
		return openMySQL(ctx, cfg)
	case "sqlite":
		dsn := cfg.DSN
		if dsn == "" {
			dsn = "tablekit.db"
		}
		return OpenSQLite(ctx, dsn)
	}
	return nil, fmt.Errorf("unsupported database driver %q", cfg.Driver)
}

func openMySQL(ctx context.Context, cfg config.DatabaseConfig) (*Connection, error) {
	dsn := cfg.DSN
	if dsn == "" {
		tlsParam := ""
		if cfg.Host != "" && cfg.Host != "127.0.0.1" && cfg.Host != "localhost" {
			// Remote hosts (e.g. TiDB Cloud) need TLS with the server name set
			var regErr error
			tlsOnce.Do(func() {
				regErr = mysql.RegisterTLSConfig("tablekit", &tls.Config{
					MinVersion: tls.VersionTLS12,
					ServerName: cfg.Host,
				})
			})
			if regErr != nil {
				return nil, fmt.Errorf("failed to register TLS config: %w", regErr)
			}
			tlsParam = "&tls=tablekit"
		}
		dsn = fmt.Sprintf("%s:%s@tcp(%s:%d)/%s?charset=utf8mb4&parseTime=True&loc=UTC%s",
			cfg.User, cfg.Password, cfg.Host, cfg.Port, cfg.Name, tlsParam)
	}

	db, err := sql.Open("mysql", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// MaxIdleConns matches MaxOpenConns so connections are not churned
	// under load, which exhausts ephemeral ports.
	maxOpen := cfg.MaxOpenConns
	if maxOpen <= 0 {
		maxOpen = 50
	}
	db.SetMaxOpenConns(maxOpen)
	db.SetMaxIdleConns(maxOpen)
	db.SetConnMaxLifetime(orDefault(cfg.ConnMaxLifetime, 5*time.Minute))
	db.SetConnMaxIdleTime(orDefault(cfg.ConnMaxIdleTime, 3*time.Minute))

	return verify(ctx, db, MySQL)
}

// OpenSQLite opens a SQLite database file with WAL journaling, a busy
// timeout and immediate write transactions
func OpenSQLite(ctx context.Context, path string) (*Connection, error) {
	dsn := path
	if !strings.Contains(dsn, "_pragma=") {
		sep := "?"
		if strings.Contains(dsn, "?") {
			sep = "&"
		}
		dsn += sep + "_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)&_pragma=foreign_keys(1)&_txlock=immediate&_time_format=sqlite"
	}

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	db.SetMaxOpenConns(8)
	return verify(ctx, db, SQLite)
}

// FromDB wraps an existing pool, for tests that use sqlmock
func FromDB(db *sql.DB, dialect Dialect) *Connection {
	return &Connection{db: db, dialect: dialect}
}

func verify(ctx context.Context, db *sql.DB, dialect Dialect) (*Connection, error) {
	pingCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}
	return &Connection{db: db, dialect: dialect}, nil
}

func orDefault(d, def time.Duration) time.Duration {
	if d <= 0 {
		return def
	}
	return d
}

// DB returns the underlying pool
func (c *Connection) DB() *sql.DB {
	return c.db
}

// Dialect returns the SQL dialect of the connection
func (c *Connection) Dialect() Dialect {
	return c.dialect
}

// Close closes the pool
func (c *Connection) Close() error {
	return c.db.Close()
}
