package listlane

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"sync"
)

const sqlOutboxTableName = "listlane_events"

// sqlOutboxCore backs the SQLite and Postgres outboxes with a shared
// events(event_id, utc_time, data) table ordered by capture time.
type sqlOutboxCore struct {
	driver      string
	dsn         string
	tableName   string
	placeholder func(n int) string
	openDB      sqlOpenFunc

	initOnce sync.Once
	initErr  error
	db       *sql.DB
}

func (c *sqlOutboxCore) ensureReady() error {
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

		table := quoteIdentifier(c.tableName)
		createTable := fmt.Sprintf(`
			CREATE TABLE IF NOT EXISTS %s (
				event_id TEXT PRIMARY KEY,
				utc_time BIGINT NOT NULL,
				data TEXT NOT NULL
			)`, table)
		if _, err := db.ExecContext(ctx, createTable); err != nil {
			_ = db.Close()
			c.initErr = err
			return
		}
		createIndex := fmt.Sprintf(
			"CREATE INDEX IF NOT EXISTS %s ON %s (utc_time)",
			quoteIdentifier(c.tableName+"_utc_time_idx"), table)
		if _, err := db.ExecContext(ctx, createIndex); err != nil {
			_ = db.Close()
			c.initErr = err
			return
		}
		c.db = db
	})
	return c.initErr
}

func (c *sqlOutboxCore) append(envelope Envelope) error {
	if err := validateEnvelope(envelope); err != nil {
		return err
	}
	if err := c.ensureReady(); err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(context.Background(), sqlOperationTimeout)
	defer cancel()

	table := quoteIdentifier(c.tableName)
	exists := fmt.Sprintf("SELECT 1 FROM %s WHERE event_id = %s", table, c.placeholder(1))
	var one int
	err := c.db.QueryRowContext(ctx, exists, envelope.EventID).Scan(&one)
	if err == nil {
		return fmt.Errorf("%w: %s", ErrDuplicateEvent, envelope.EventID)
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return err
	}
	insert := fmt.Sprintf("INSERT INTO %s (event_id, utc_time, data) VALUES (%s, %s, %s)",
		table, c.placeholder(1), c.placeholder(2), c.placeholder(3))
	_, err = c.db.ExecContext(ctx, insert, envelope.EventID, envelope.UtcTime, envelope.Data)
	return err
}

func (c *sqlOutboxCore) drainSince(sinceUTCMillis int64) ([]Envelope, error) {
	if err := c.ensureReady(); err != nil {
		return nil, err
	}
	ctx, cancel := context.WithTimeout(context.Background(), sqlOperationTimeout)
	defer cancel()

	query := fmt.Sprintf(
		"SELECT event_id, utc_time, data FROM %s WHERE utc_time >= %s ORDER BY utc_time, event_id",
		quoteIdentifier(c.tableName), c.placeholder(1))
	rows, err := c.db.QueryContext(ctx, query, sinceUTCMillis)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Envelope
	for rows.Next() {
		var envelope Envelope
		if err := rows.Scan(&envelope.EventID, &envelope.UtcTime, &envelope.Data); err != nil {
			return nil, err
		}
		out = append(out, envelope)
	}
	return out, rows.Err()
}

func (c *sqlOutboxCore) clear() error {
	if err := c.ensureReady(); err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(context.Background(), sqlOperationTimeout)
	defer cancel()

	_, err := c.db.ExecContext(ctx, fmt.Sprintf("DELETE FROM %s", quoteIdentifier(c.tableName)))
	return err
}

func (c *sqlOutboxCore) depth() (int, error) {
	if err := c.ensureReady(); err != nil {
		return 0, err
	}
	ctx, cancel := context.WithTimeout(context.Background(), sqlOperationTimeout)
	defer cancel()

	var count int
	query := fmt.Sprintf("SELECT COUNT(*) FROM %s", quoteIdentifier(c.tableName))
	if err := c.db.QueryRowContext(ctx, query).Scan(&count); err != nil {
		return 0, err
	}
	return count, nil
}

func (c *sqlOutboxCore) close() error {
	if c == nil || c.db == nil {
		return nil
	}
	return c.db.Close()
}

type SQLiteOutbox struct {
	core *sqlOutboxCore
}

func NewSQLiteOutbox(path string) (*SQLiteOutbox, error) {
	path = strings.TrimSpace(path)
	if path == "" {
		return nil, fmt.Errorf("%w: sqlite outbox requires a path", ErrInvalidInput)
	}
	return &SQLiteOutbox{core: &sqlOutboxCore{
		driver:      "sqlite3",
		dsn:         path,
		tableName:   sqlOutboxTableName,
		placeholder: sqlitePlaceholder,
		openDB:      sql.Open,
	}}, nil
}

func (o *SQLiteOutbox) Append(envelope Envelope) error { return o.core.append(envelope) }

func (o *SQLiteOutbox) DrainSince(ts int64) ([]Envelope, error) { return o.core.drainSince(ts) }

func (o *SQLiteOutbox) Clear() error { return o.core.clear() }

func (o *SQLiteOutbox) Depth() (int, error) { return o.core.depth() }

func (o *SQLiteOutbox) Close() error { return o.core.close() }

type PostgresOutbox struct {
	core *sqlOutboxCore
}

func NewPostgresOutbox(dsn string) (*PostgresOutbox, error) {
	dsn = strings.TrimSpace(dsn)
	if dsn == "" {
		return nil, fmt.Errorf("%w: postgres outbox requires a dsn", ErrInvalidInput)
	}
	return &PostgresOutbox{core: &sqlOutboxCore{
		driver:      "postgres",
		dsn:         dsn,
		tableName:   sqlOutboxTableName,
		placeholder: postgresPlaceholder,
		openDB:      sql.Open,
	}}, nil
}

func (o *PostgresOutbox) Append(envelope Envelope) error { return o.core.append(envelope) }

func (o *PostgresOutbox) DrainSince(ts int64) ([]Envelope, error) { return o.core.drainSince(ts) }

func (o *PostgresOutbox) Clear() error { return o.core.clear() }

func (o *PostgresOutbox) Depth() (int, error) { return o.core.depth() }

func (o *PostgresOutbox) Close() error { return o.core.close() }
