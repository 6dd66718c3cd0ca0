// Package pg is the PostgreSQL store. Conditional transitions are plain
// updates guarded by the expected current status; a zero rows-affected
// result means another writer won the race.
package pg

import (
	"database/sql"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"

	"condoflow.io/internal/followup"
	"condoflow.io/internal/magiccode"
	"condoflow.io/internal/workflow"
)

type Store struct {
	db *sql.DB

	// AdminEmail is the escalation recipient reported in follow-up targets.
	AdminEmail string
}

var (
	_ magiccode.Store       = (*Store)(nil)
	_ workflow.Store        = (*Store)(nil)
	_ followup.Store        = (*Store)(nil)
	_ followup.TargetReader = (*Store)(nil)
)

// PoolConfig tunes the connection pool.
type PoolConfig struct {
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
	ConnMaxIdleTime time.Duration
}

func Open(dsn string, pool PoolConfig) (*Store, error) {
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, err
	}
	if pool.MaxOpenConns > 0 {
		db.SetMaxOpenConns(pool.MaxOpenConns)
	}
	if pool.MaxIdleConns > 0 {
		db.SetMaxIdleConns(pool.MaxIdleConns)
	}
	if pool.ConnMaxLifetime > 0 {
		db.SetConnMaxLifetime(pool.ConnMaxLifetime)
	}
	if pool.ConnMaxIdleTime > 0 {
		db.SetConnMaxIdleTime(pool.ConnMaxIdleTime)
	}
	return &Store{db: db, AdminEmail: "ops@condoflow.io"}, nil
}

// NewWithDB wraps an existing connection, used by tests.
func NewWithDB(db *sql.DB) *Store {
	return &Store{db: db, AdminEmail: "ops@condoflow.io"}
}

func (s *Store) Close() error { return s.db.Close() }

func (s *Store) DB() *sql.DB { return s.db }

func (s *Store) Ping() error { return s.db.Ping() }

// --- null helpers ---

func nullTime(t time.Time) sql.NullTime {
	if t.IsZero() {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: t, Valid: true}
}

func timeVal(nt sql.NullTime) time.Time {
	if !nt.Valid {
		return time.Time{}
	}
	return nt.Time
}

func nullStr(s string) sql.NullString {
	if s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}

func strVal(ns sql.NullString) string {
	if !ns.Valid {
		return ""
	}
	return ns.String
}
