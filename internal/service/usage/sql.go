package usage

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	_ "github.com/go-sql-driver/mysql"
	_ "github.com/mattn/go-sqlite3"
)

// OpenDB connects to the counter database. driver is "sqlite3" (or "sqlite") or
// "mysql"; dsn is passed to the driver unchanged.
func OpenDB(driver, dsn string) (*sql.DB, error) {
	if dsn == "" {
		return nil, fmt.Errorf("%s dsn must be provided", driver)
	}

	var (
		db  *sql.DB
		err error
	)
	switch normalizeDriver(driver) {
	case "sqlite3":
		db, err = sql.Open("sqlite3", dsn)
		if err != nil {
			return nil, fmt.Errorf("open sqlite database: %w", err)
		}
		// sqlite serialises writers anyway; one connection avoids SQLITE_BUSY.
		db.SetMaxOpenConns(1)
	case "mysql":
		db, err = sql.Open("mysql", dsn)
		if err != nil {
			return nil, fmt.Errorf("open mysql database: %w", err)
		}
	default:
		return nil, fmt.Errorf("unsupported driver: %s", driver)
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}
	return db, nil
}

// Migrate creates the counter table when it is missing.
func Migrate(db *sql.DB, driver string) error {
	var stmts []string
	switch normalizeDriver(driver) {
	case "sqlite3":
		stmts = []string{
			`CREATE TABLE IF NOT EXISTS usage_counters (
				counter_key TEXT PRIMARY KEY,
				count INTEGER NOT NULL,
				expires_at DATETIME NULL
			)`,
			`CREATE INDEX IF NOT EXISTS idx_usage_counters_expires ON usage_counters(expires_at)`,
		}
	case "mysql":
		stmts = []string{
			`CREATE TABLE IF NOT EXISTS usage_counters (
				counter_key VARCHAR(512) NOT NULL PRIMARY KEY,
				count INT NOT NULL,
				expires_at DATETIME NULL,
				INDEX idx_usage_counters_expires (expires_at)
			) ENGINE=InnoDB DEFAULT CHARSET=utf8mb4`,
		}
	default:
		return fmt.Errorf("unsupported driver: %s", driver)
	}

	for _, stmt := range stmts {
		if _, err := db.Exec(stmt); err != nil {
			return fmt.Errorf("migrate usage_counters: %w", err)
		}
	}
	return nil
}

// SQLStore keeps counters in a usage_counters table.
type SQLStore struct {
	db     *sql.DB
	driver string
	now    func() time.Time
}

// NewSQLStore wraps an opened and migrated database.
func NewSQLStore(db *sql.DB, driver string) *SQLStore {
	return &SQLStore{db: db, driver: normalizeDriver(driver), now: time.Now}
}

// Get implements Store.
func (s *SQLStore) Get(ctx context.Context, key string) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx,
		`SELECT count FROM usage_counters WHERE counter_key = ? AND (expires_at IS NULL OR expires_at > ?)`,
		key, dbTime(s.now()),
	).Scan(&n)
	if err == sql.ErrNoRows {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("get counter: %w", err)
	}
	return n, nil
}

// Incr implements Store.
func (s *SQLStore) Incr(ctx context.Context, key string, expiresAt time.Time) (int, error) {
	var expires any
	if !expiresAt.IsZero() {
		expires = dbTime(expiresAt)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	// A row that outlived its expiry starts over.
	if _, err := tx.ExecContext(ctx,
		`DELETE FROM usage_counters WHERE counter_key = ? AND expires_at IS NOT NULL AND expires_at <= ?`,
		key, dbTime(s.now()),
	); err != nil {
		return 0, fmt.Errorf("reset expired counter: %w", err)
	}
	if _, err := tx.ExecContext(ctx, s.upsertStmt(), key, expires); err != nil {
		return 0, fmt.Errorf("increment counter: %w", err)
	}

	var n int
	if err := tx.QueryRowContext(ctx,
		`SELECT count FROM usage_counters WHERE counter_key = ?`, key,
	).Scan(&n); err != nil {
		return 0, fmt.Errorf("read counter: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("commit counter: %w", err)
	}
	return n, nil
}

// Purge deletes expired rows and returns how many were removed.
func (s *SQLStore) Purge(ctx context.Context, now time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx,
		`DELETE FROM usage_counters WHERE expires_at IS NOT NULL AND expires_at <= ?`, dbTime(now))
	if err != nil {
		return 0, fmt.Errorf("purge counters: %w", err)
	}
	return res.RowsAffected()
}

func (s *SQLStore) upsertStmt() string {
	if s.driver == "mysql" {
		return `INSERT INTO usage_counters (counter_key, count, expires_at) VALUES (?, 1, ?)
			ON DUPLICATE KEY UPDATE count = count + 1`
	}
	return `INSERT INTO usage_counters (counter_key, count, expires_at) VALUES (?, 1, ?)
		ON CONFLICT(counter_key) DO UPDATE SET count = count + 1`
}

func normalizeDriver(driver string) string {
	d := strings.ToLower(strings.TrimSpace(driver))
	if d == "sqlite" {
		return "sqlite3"
	}
	return d
}

// dbTime drops sub-second precision so sqlite's text timestamps compare in order.
func dbTime(t time.Time) time.Time {
	return t.UTC().Truncate(time.Second)
}
