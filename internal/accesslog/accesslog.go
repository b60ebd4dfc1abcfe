// Package accesslog records one entry per request to the SQL-backed
// connection log, the "out of scope... minimal contract" external
// collaborator named in the rewrite engine specification.
package accesslog

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"time"

	_ "github.com/go-sql-driver/mysql"
)

// Entry is a single access-log record.
type Entry struct {
	Host         string
	Path         string
	RewrittenURI string
	Status       int
	RemoteAddr   string
	UserAgent    string
	Country      string
	RequestTime  time.Time
}

// Sink records access log entries. A write failure must never fail the
// request that produced it — callers log and discard Record's error.
type Sink interface {
	Record(ctx context.Context, e Entry) error
	Close() error
}

// NoopSink is the default Sink when no DSN is configured.
type NoopSink struct{}

func (NoopSink) Record(context.Context, Entry) error { return nil }
func (NoopSink) Close() error                        { return nil }

// MySQLSink writes entries to a MySQL table via database/sql and the
// go-sql-driver/mysql driver.
type MySQLSink struct {
	db     *sql.DB
	table  string
	logger *slog.Logger
}

// NewMySQLSink opens a connection pool against dsn. The table must already
// exist; MySQLSink does not run migrations.
func NewMySQLSink(logger *slog.Logger, dsn, table string) (*MySQLSink, error) {
	db, err := sql.Open("mysql", dsn)
	if err != nil {
		return nil, fmt.Errorf("accesslog: opening mysql sink: %w", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("accesslog: pinging mysql sink: %w", err)
	}
	return &MySQLSink{db: db, table: table, logger: logger.WithGroup("accesslog")}, nil
}

func (s *MySQLSink) Record(ctx context.Context, e Entry) error {
	// s.table comes from operator configuration, never from request data;
	// placeholders can't parameterize identifiers, so it's interpolated.
	query := fmt.Sprintf(
		"INSERT INTO %s (host, path, rewritten_uri, status, remote_addr, user_agent, country, request_time) VALUES (?, ?, ?, ?, ?, ?, ?, ?)",
		s.table,
	)
	_, err := s.db.ExecContext(ctx, query, e.Host, e.Path, e.RewrittenURI, e.Status, e.RemoteAddr, e.UserAgent, e.Country, e.RequestTime)
	return err
}

func (s *MySQLSink) Close() error { return s.db.Close() }
