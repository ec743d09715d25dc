package listlane

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	_ "github.com/lib/pq"
	_ "github.com/mattn/go-sqlite3"
)

const (
	sqlStateTableName   = "listlane_state"
	sqlStateKey         = "default"
	sqlOperationTimeout = 5 * time.Second
)

type sqlOpenFunc func(driverName, dsn string) (*sql.DB, error)

// sqlSnapshotCore is the single-row snapshot table shared by the SQLite and
// Postgres state backends. The dialect only differs in placeholders and the
// upsert timestamp expression.
type sqlSnapshotCore struct {
	driver      string
	dsn         string
	tableName   string
	stateKey    string
	placeholder func(n int) string
	nowExpr     string
	openDB      sqlOpenFunc

	initOnce sync.Once
	initErr  error
	db       *sql.DB
}

func (c *sqlSnapshotCore) ensureReady() error {
	if c == nil {
		return ErrInvalidInput
	}
	c.initOnce.Do(func() {
		db, err := c.openDB(c.driver, c.dsn)
		if err != nil {
			c.initErr = err
			return
		}
		ctx, cancel := context.WithTimeout(context.Background(), sqlOperationTimeout)
		defer cancel()

		query := fmt.Sprintf(`
			CREATE TABLE IF NOT EXISTS %s (
				state_key TEXT PRIMARY KEY,
				snapshot TEXT NOT NULL,
				updated_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
			)`, quoteIdentifier(c.tableName))
		if _, err := db.ExecContext(ctx, query); err != nil {
			_ = db.Close()
			c.initErr = err
			return
		}
		c.db = db
	})
	return c.initErr
}

func (c *sqlSnapshotCore) load() (*Snapshot, error) {
	if err := c.ensureReady(); err != nil {
		return nil, err
	}
	ctx, cancel := context.WithTimeout(context.Background(), sqlOperationTimeout)
	defer cancel()

	query := fmt.Sprintf("SELECT snapshot FROM %s WHERE state_key = %s",
		quoteIdentifier(c.tableName), c.placeholder(1))
	var payload string
	err := c.db.QueryRowContext(ctx, query, c.stateKey).Scan(&payload)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	var snapshot Snapshot
	if err := json.Unmarshal([]byte(payload), &snapshot); err != nil {
		return nil, err
	}
	return &snapshot, nil
}

func (c *sqlSnapshotCore) save(snapshot *Snapshot) error {
	if snapshot == nil {
		return nil
	}
	if err := c.ensureReady(); err != nil {
		return err
	}
	payload, err := json.Marshal(snapshot)
	if err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(context.Background(), sqlOperationTimeout)
	defer cancel()

	query := fmt.Sprintf(`
		INSERT INTO %s (state_key, snapshot, updated_at)
		VALUES (%s, %s, %s)
		ON CONFLICT (state_key)
		DO UPDATE SET snapshot = EXCLUDED.snapshot, updated_at = %s`,
		quoteIdentifier(c.tableName), c.placeholder(1), c.placeholder(2), c.nowExpr, c.nowExpr)
	_, err = c.db.ExecContext(ctx, query, c.stateKey, string(payload))
	return err
}

func (c *sqlSnapshotCore) close() error {
	if c == nil || c.db == nil {
		return nil
	}
	return c.db.Close()
}

type PostgresStateBackend struct {
	core *sqlSnapshotCore
}

func NewPostgresStateBackend(dsn string) (StateBackend, error) {
	dsn = strings.TrimSpace(dsn)
	if dsn == "" {
		return nil, ErrInvalidInput
	}
	return &PostgresStateBackend{core: &sqlSnapshotCore{
		driver:      "postgres",
		dsn:         dsn,
		tableName:   sqlStateTableName,
		stateKey:    sqlStateKey,
		placeholder: postgresPlaceholder,
		nowExpr:     "NOW()",
		openDB:      sql.Open,
	}}, nil
}

func (b *PostgresStateBackend) Load() (*Snapshot, error) {
	if b == nil {
		return nil, nil
	}
	return b.core.load()
}

func (b *PostgresStateBackend) Save(snapshot *Snapshot) error {
	if b == nil {
		return nil
	}
	return b.core.save(snapshot)
}

func (b *PostgresStateBackend) Close() error {
	if b == nil {
		return nil
	}
	return b.core.close()
}

type SQLiteStateBackend struct {
	core *sqlSnapshotCore
}

func NewSQLiteStateBackend(path string) (StateBackend, error) {
	path = strings.TrimSpace(path)
	if path == "" {
		return nil, ErrInvalidInput
	}
	return &SQLiteStateBackend{core: &sqlSnapshotCore{
		driver:      "sqlite3",
		dsn:         path,
		tableName:   sqlStateTableName,
		stateKey:    sqlStateKey,
		placeholder: sqlitePlaceholder,
		nowExpr:     "CURRENT_TIMESTAMP",
		openDB:      sql.Open,
	}}, nil
}

func (b *SQLiteStateBackend) Load() (*Snapshot, error) {
	if b == nil {
		return nil, nil
	}
	return b.core.load()
}

func (b *SQLiteStateBackend) Save(snapshot *Snapshot) error {
	if b == nil {
		return nil
	}
	return b.core.save(snapshot)
}

func (b *SQLiteStateBackend) Close() error {
	if b == nil {
		return nil
	}
	return b.core.close()
}

func postgresPlaceholder(n int) string {
	return fmt.Sprintf("$%d", n)
}

func sqlitePlaceholder(int) string {
	return "?"
}

func quoteIdentifier(identifier string) string {
	identifier = strings.TrimSpace(identifier)
	if identifier == "" {
		return `""`
	}
	return `"` + strings.ReplaceAll(identifier, `"`, `""`) + `"`
}
