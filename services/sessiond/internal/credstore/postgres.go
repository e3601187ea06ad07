package credstore

import (
	"context"
	"embed"
	"errors"
	"fmt"
	"io/fs"

	"github.com/jackc/pgx/v5"

	"github.com/Yoseph-M/Soultalk-sub000/pkg/database"
)

//go:embed migrations/*.sql
var migrationFiles embed.FS

// Migrations returns the postgres schema migrations.
func Migrations() fs.FS {
	sub, err := fs.Sub(migrationFiles, "migrations")
	if err != nil {
		panic(err)
	}
	return sub
}

const (
	pgGetQuery = `SELECT value FROM session_credentials WHERE namespace = $1 AND name = $2`

	pgSetQuery = `INSERT INTO session_credentials (namespace, name, value, updated_at)
		VALUES ($1, $2, $3, NOW())
		ON CONFLICT (namespace, name) DO UPDATE SET value = EXCLUDED.value, updated_at = NOW()`

	pgDeleteQuery = `DELETE FROM session_credentials WHERE namespace = $1 AND name = ANY($2)`
)

// PostgresStore keeps credentials in the session_credentials table.
type PostgresStore struct {
	db        database.DBTX
	namespace string
}

// NewPostgresStore creates a store over db. The schema must already exist.
func NewPostgresStore(db database.DBTX, namespace string) *PostgresStore {
	return &PostgresStore{db: db, namespace: namespace}
}

func (s *PostgresStore) Get(ctx context.Context, key string) (value string, ok bool, err error) {
	ctx, end := database.TraceQuery(ctx, database.SystemPostgres, "GetCredential", pgGetQuery)
	defer func() { end(err) }()

	err = s.db.QueryRow(ctx, pgGetQuery, s.namespace, key).Scan(&value)
	if errors.Is(err, pgx.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("postgres get %s: %w", key, err)
	}
	return value, true, nil
}

func (s *PostgresStore) Set(ctx context.Context, key, value string) (err error) {
	ctx, end := database.TraceQuery(ctx, database.SystemPostgres, "SetCredential", pgSetQuery)
	defer func() { end(err) }()

	if _, err = s.db.Exec(ctx, pgSetQuery, s.namespace, key, value); err != nil {
		return fmt.Errorf("postgres set %s: %w", key, err)
	}
	return nil
}

func (s *PostgresStore) Delete(ctx context.Context, keys ...string) (err error) {
	if len(keys) == 0 {
		return nil
	}
	ctx, end := database.TraceQuery(ctx, database.SystemPostgres, "DeleteCredentials", pgDeleteQuery)
	defer func() { end(err) }()

	if _, err = s.db.Exec(ctx, pgDeleteQuery, s.namespace, keys); err != nil {
		return fmt.Errorf("postgres delete: %w", err)
	}
	return nil
}

// Ping runs a trivial query.
func (s *PostgresStore) Ping(ctx context.Context) error {
	_, err := s.db.Exec(ctx, "SELECT 1")
	return err
}
