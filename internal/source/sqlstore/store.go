package sqlstore

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	pq "github.com/lib/pq"
	"github.com/uptrace/opentelemetry-go-extra/otelsql"
	semconv "go.opentelemetry.io/otel/semconv/v1.4.0"
	_ "modernc.org/sqlite"

	"github.com/nicolastakashi/opsdash/internal/config"
	"github.com/nicolastakashi/opsdash/internal/dashboard"
)

type Dialect string

const (
	PostgreSQL Dialect = "postgresql"
	SQLite     Dialect = "sqlite"
)

// Store reads the metric list and measurement history from a SQL database.
// It also writes them, for importing recorded measurements.
type Store struct {
	db      *sql.DB
	dialect Dialect
}

// New wraps an open database. The schema is expected to exist.
func New(db *sql.DB, dialect Dialect) *Store {
	return &Store{db: db, dialect: dialect}
}

// Open connects to the configured database and applies the schema
// migrations.
func Open(ctx context.Context, cfg config.SQLConfig) (*Store, error) {
	var (
		db  *sql.DB
		err error
	)
	dialect := Dialect(cfg.Provider)
	switch dialect {
	case PostgreSQL:
		db, err = openPostgreSQL(ctx, cfg.PostgreSQL)
	case SQLite:
		db, err = openSQLite(ctx, cfg.SQLite)
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedDialect, cfg.Provider)
	}
	if err != nil {
		return nil, err
	}

	if err := runMigrations(ctx, db, dialect); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("migrate %s schema: %w", dialect, err)
	}
	return New(db, dialect), nil
}

func openPostgreSQL(ctx context.Context, cfg config.PostgreSQLConfig) (*sql.DB, error) {
	psqlInfo := fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s connect_timeout=%d application_name=opsdash",
		cfg.Addr,
		cfg.Port,
		cfg.User,
		cfg.Password,
		cfg.Database,
		cfg.SSLMode,
		int(cfg.DialTimeout.Seconds()),
	)

	db, err := otelsql.Open("postgres", psqlInfo, otelsql.WithAttributes(semconv.DBSystemPostgreSQL))
	if err != nil {
		return nil, connectionError(err, "PostgreSQL", "failed to open connection")
	}

	if cfg.MaxOpenConns > 0 {
		db.SetMaxOpenConns(cfg.MaxOpenConns)
	} else {
		db.SetMaxOpenConns(10)
	}
	if cfg.MaxIdleConns > 0 {
		db.SetMaxIdleConns(cfg.MaxIdleConns)
	} else {
		db.SetMaxIdleConns(5)
	}
	if cfg.ConnMaxLifetime > 0 {
		db.SetConnMaxLifetime(cfg.ConnMaxLifetime)
	} else {
		db.SetConnMaxLifetime(30 * time.Minute)
	}

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, connectionError(err, "PostgreSQL", "failed to ping database")
	}
	return db, nil
}

func openSQLite(ctx context.Context, cfg config.SQLiteConfig) (*sql.DB, error) {
	db, err := otelsql.Open("sqlite", cfg.DatabasePath, otelsql.WithAttributes(semconv.DBSystemSqlite))
	if err != nil {
		return nil, connectionError(err, "SQLite", "failed to open database")
	}
	// A single connection keeps writers from tripping over SQLITE_BUSY.
	db.SetMaxOpenConns(1)

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, connectionError(err, "SQLite", "failed to ping database")
	}
	if _, err := db.ExecContext(ctx, "PRAGMA journal_mode = WAL; PRAGMA synchronous = normal;"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to configure sqlite database: %w", err)
	}
	return db, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

// bind rewrites ? placeholders to the dialect's form.
func (s *Store) bind(query string) string {
	if s.dialect != PostgreSQL {
		return query
	}
	var b strings.Builder
	n := 0
	for _, r := range query {
		if r == '?' {
			n++
			fmt.Fprintf(&b, "$%d", n)
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

// Metrics returns the registered metric names by position.
func (s *Store) Metrics(ctx context.Context) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT name FROM metrics ORDER BY position, name`)
	if err != nil {
		return nil, queryError(err, "list metrics", "")
	}
	defer rows.Close()

	metrics := []string{}
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, queryError(fmt.Errorf("%w: %w", ErrInvalidScan, err), "list metrics", "")
		}
		metrics = append(metrics, name)
	}
	if err := rows.Err(); err != nil {
		return nil, queryError(err, "list metrics", "")
	}
	return metrics, nil
}

// Measurements returns, per request, the measurements recorded strictly after
// the requested time, ordered by time then insertion.
func (s *Store) Measurements(ctx context.Context, reqs []dashboard.HistoryRequest) ([]dashboard.MetricBatch, error) {
	query := s.bind(`SELECT at, value, unit FROM measurements WHERE metric = ? AND at > ? ORDER BY at, id`)

	batches := make([]dashboard.MetricBatch, 0, len(reqs))
	for _, req := range reqs {
		ms, err := s.history(ctx, query, req)
		if err != nil {
			return nil, err
		}
		batches = append(batches, dashboard.MetricBatch{Metric: req.Metric, Measurements: ms})
	}
	return batches, nil
}

func (s *Store) history(ctx context.Context, query string, req dashboard.HistoryRequest) ([]dashboard.Measurement, error) {
	rows, err := s.db.QueryContext(ctx, query, req.Metric, req.After.UnixMilli())
	if err != nil {
		return nil, queryError(err, "query measurements", req.Metric)
	}
	defer rows.Close()

	ms := []dashboard.Measurement{}
	for rows.Next() {
		m := dashboard.Measurement{Metric: req.Metric}
		if err := rows.Scan(&m.At, &m.Value, &m.Unit); err != nil {
			return nil, queryError(fmt.Errorf("%w: %w", ErrInvalidScan, err), "query measurements", req.Metric)
		}
		ms = append(ms, m)
	}
	if err := rows.Err(); err != nil {
		return nil, queryError(err, "query measurements", req.Metric)
	}
	return ms, nil
}

// UpsertMetrics registers metrics in the given order.
func (s *Store) UpsertMetrics(ctx context.Context, names []string) error {
	if len(names) == 0 {
		return nil
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return queryError(err, "begin upsert metrics", "")
	}
	stmt, err := tx.PrepareContext(ctx, s.bind(
		`INSERT INTO metrics (name, position) VALUES (?, ?) ON CONFLICT (name) DO UPDATE SET position = excluded.position`,
	))
	if err != nil {
		_ = tx.Rollback()
		return queryError(err, "prepare upsert metrics", "")
	}
	defer stmt.Close()

	for i, name := range names {
		if _, err := stmt.ExecContext(ctx, name, i); err != nil {
			_ = tx.Rollback()
			return queryError(err, "upsert metric", name)
		}
	}
	if err := tx.Commit(); err != nil {
		return queryError(err, "commit upsert metrics", "")
	}
	return nil
}

// Insert records measurements.
func (s *Store) Insert(ctx context.Context, ms []dashboard.Measurement) error {
	if len(ms) == 0 {
		return nil
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return queryError(err, "begin insert", "")
	}

	var stmt *sql.Stmt
	if s.dialect == PostgreSQL {
		stmt, err = tx.PrepareContext(ctx, pq.CopyIn("measurements", "metric", "at", "value", "unit"))
	} else {
		stmt, err = tx.PrepareContext(ctx, `INSERT INTO measurements (metric, at, value, unit) VALUES (?, ?, ?, ?)`)
	}
	if err != nil {
		_ = tx.Rollback()
		return queryError(err, "prepare insert", "")
	}

	for _, m := range ms {
		if _, err := stmt.ExecContext(ctx, m.Metric, m.At, m.Value, m.Unit); err != nil {
			_ = stmt.Close()
			_ = tx.Rollback()
			return queryError(err, "insert measurement", m.Metric)
		}
	}
	if s.dialect == PostgreSQL {
		// Flush the COPY buffer.
		if _, err := stmt.ExecContext(ctx); err != nil {
			_ = stmt.Close()
			_ = tx.Rollback()
			return queryError(err, "flush copy", "")
		}
	}
	if err := stmt.Close(); err != nil {
		_ = tx.Rollback()
		return queryError(err, "close insert statement", "")
	}
	if err := tx.Commit(); err != nil {
		return queryError(err, "commit insert", "")
	}
	return nil
}

// DeleteMeasurementsBefore removes measurements recorded before cutoff and
// reports how many rows went.
func (s *Store) DeleteMeasurementsBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx, s.bind(`DELETE FROM measurements WHERE at < ?`), cutoff.UnixMilli())
	if err != nil {
		return 0, queryError(err, "delete measurements", "")
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, queryError(err, "delete measurements rows affected", "")
	}
	return n, nil
}

// Dialect reports which database the store talks to.
func (s *Store) Dialect() Dialect {
	return s.dialect
}

// WithDB hands the underlying connection pool to fn.
func (s *Store) WithDB(fn func(*sql.DB)) {
	fn(s.db)
}
