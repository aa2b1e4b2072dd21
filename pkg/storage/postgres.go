package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"regexp"
	"sort"

	_ "github.com/lib/pq"
)

var tablePrefixPattern = regexp.MustCompile(`^[a-zA-Z0-9_]*$`)

// PostgresStore implements the Store interface on a single key/value table
type PostgresStore struct {
	db        *sql.DB
	tableName string
}

// NewPostgresStore initializes PostgreSQL storage.
// connStr: Connection string
// tablePrefix: Table prefix (defaults to "launch_") -> Resulting table is prefix + "kv"
func NewPostgresStore(connStr string, tablePrefix string) (*PostgresStore, error) {
	if !tablePrefixPattern.MatchString(tablePrefix) {
		return nil, fmt.Errorf("invalid table prefix: %s", tablePrefix)
	}

	db, err := sql.Open("postgres", connStr)
	if err != nil {
		return nil, err
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, err
	}

	if tablePrefix == "" {
		tablePrefix = "launch_"
	}

	store := &PostgresStore{
		db:        db,
		tableName: tablePrefix + "kv",
	}

	if err := store.initTable(); err != nil {
		db.Close()
		return nil, err
	}

	return store, nil
}

// initTable creates the key/value table if missing
func (p *PostgresStore) initTable() error {
	query := fmt.Sprintf(`
	CREATE TABLE IF NOT EXISTS %s (
		key VARCHAR(255) PRIMARY KEY,
		value BYTEA NOT NULL,
		updated_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
	);
	`, p.tableName)
	_, err := p.db.Exec(query)
	return err
}

func (p *PostgresStore) Get(ctx context.Context, key string) ([]byte, error) {
	var value []byte
	query := fmt.Sprintf("SELECT value FROM %s WHERE key = $1", p.tableName)
	err := p.db.QueryRowContext(ctx, query, key).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return value, nil
}

func (p *PostgresStore) upsertQuery() string {
	return fmt.Sprintf(`
	INSERT INTO %s (key, value, updated_at)
	VALUES ($1, $2, NOW())
	ON CONFLICT (key)
	DO UPDATE SET value = EXCLUDED.value, updated_at = NOW();
	`, p.tableName)
}

func (p *PostgresStore) Set(ctx context.Context, key string, value []byte) error {
	_, err := p.db.ExecContext(ctx, p.upsertQuery(), key, value)
	return err
}

// SetMany upserts every entry in one transaction.
func (p *PostgresStore) SetMany(ctx context.Context, entries map[string][]byte) error {
	keys := make([]string, 0, len(entries))
	for k := range entries {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	tx, err := p.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	query := p.upsertQuery()
	for _, k := range keys {
		if _, err := tx.ExecContext(ctx, query, k, entries[k]); err != nil {
			return fmt.Errorf("upsert %s: %w", k, err)
		}
	}
	return tx.Commit()
}

func (p *PostgresStore) Delete(ctx context.Context, keys ...string) error {
	if len(keys) == 0 {
		return nil
	}
	tx, err := p.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	query := fmt.Sprintf("DELETE FROM %s WHERE key = $1", p.tableName)
	for _, k := range keys {
		if _, err := tx.ExecContext(ctx, query, k); err != nil {
			return fmt.Errorf("delete %s: %w", k, err)
		}
	}
	return tx.Commit()
}

func (p *PostgresStore) Close() error {
	return p.db.Close()
}
