// Package postgres stores scan results in PostgreSQL.
package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/lib/pq"

	"github.com/ChuLiYu/kw-sourcing/internal/sink"
	"github.com/ChuLiYu/kw-sourcing/pkg/types"
)

const (
	DefaultFailuresTable = "failed_evidence_books"
	DefaultMetadataTable = "evidence_books_metadata"
)

// Store implements sink.ResultSink over two append-only tables.
type Store struct {
	db            *sql.DB
	failuresTable string
	metadataTable string
	clock         func() time.Time
}

var _ sink.ResultSink = (*Store)(nil)

// Option configures a Store.
type Option func(*Store)

// WithTables overrides the table names.
func WithTables(failures, metadata string) Option {
	return func(s *Store) {
		if failures != "" {
			s.failuresTable = failures
		}
		if metadata != "" {
			s.metadataTable = metadata
		}
	}
}

// WithClock sets the insertion timestamp source.
func WithClock(clock func() time.Time) Option {
	return func(s *Store) {
		if clock != nil {
			s.clock = clock
		}
	}
}

// New wraps an open database.
func New(db *sql.DB, opts ...Option) *Store {
	s := &Store{
		db:            db,
		failuresTable: DefaultFailuresTable,
		metadataTable: DefaultMetadataTable,
		clock:         time.Now,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(s)
		}
	}
	return s
}

// Open connects to dsn, verifies the connection and ensures the schema.
func Open(ctx context.Context, dsn string, opts ...Option) (*Store, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}
	s := New(db, opts...)
	if err := s.EnsureSchema(ctx); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

// EnsureSchema creates the tables and the book_id index when missing.
func (s *Store) EnsureSchema(ctx context.Context) error {
	for _, stmt := range s.schema() {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("ensure schema: %w", err)
		}
	}
	return nil
}

func (s *Store) schema() []string {
	f := pq.QuoteIdentifier(s.failuresTable)
	m := pq.QuoteIdentifier(s.metadataTable)
	return []string{
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
			id BIGSERIAL PRIMARY KEY,
			book_id TEXT NOT NULL,
			reason TEXT NOT NULL,
			injection_timestamp TIMESTAMPTZ NOT NULL
		)`, f),
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
			id BIGSERIAL PRIMARY KEY,
			book_id TEXT NOT NULL,
			fields JSONB NOT NULL,
			injection_timestamp TIMESTAMPTZ NOT NULL
		)`, m),
		fmt.Sprintf(`CREATE INDEX IF NOT EXISTS %s ON %s (book_id)`,
			pq.QuoteIdentifier(s.metadataTable+"_book_id_idx"), m),
	}
}

// AppendFailure inserts a failure row.
func (s *Store) AppendFailure(ctx context.Context, bookID string, reason types.FailureReason) error {
	query := fmt.Sprintf(`INSERT INTO %s (book_id, reason, injection_timestamp) VALUES ($1, $2, $3)`,
		pq.QuoteIdentifier(s.failuresTable))
	if _, err := s.db.ExecContext(ctx, query, bookID, string(reason), s.clock().UTC()); err != nil {
		return fmt.Errorf("insert failure %s: %w", bookID, err)
	}
	return nil
}

// AppendMetadata inserts a metadata row.
func (s *Store) AppendMetadata(ctx context.Context, record types.MetadataRecord) error {
	fields := record.Fields
	if fields == nil {
		fields = map[string]string{}
	}
	raw, err := json.Marshal(fields)
	if err != nil {
		return fmt.Errorf("marshal metadata fields: %w", err)
	}
	query := fmt.Sprintf(`INSERT INTO %s (book_id, fields, injection_timestamp) VALUES ($1, $2, $3)`,
		pq.QuoteIdentifier(s.metadataTable))
	if _, err := s.db.ExecContext(ctx, query, record.ID, raw, s.clock().UTC()); err != nil {
		return fmt.Errorf("insert metadata %s: %w", record.ID, err)
	}
	return nil
}

// LastSequenceNumber returns the largest sequence component among stored
// metadata ids of department.
func (s *Store) LastSequenceNumber(ctx context.Context, department types.DepartmentCode) (int, bool, error) {
	query := fmt.Sprintf(`SELECT MAX(CAST(split_part(book_id, '/', 2) AS INTEGER))
		FROM %s WHERE book_id LIKE $1`, pq.QuoteIdentifier(s.metadataTable))

	var max sql.NullInt64
	if err := s.db.QueryRowContext(ctx, query, string(department)+"/%").Scan(&max); err != nil {
		return 0, false, fmt.Errorf("query last sequence number: %w", err)
	}
	if !max.Valid {
		return 0, false, nil
	}
	return int(max.Int64), true, nil
}

// FailureCounts returns failure counts per reason for department.
func (s *Store) FailureCounts(ctx context.Context, department types.DepartmentCode, reasons []types.FailureReason) (map[types.FailureReason]int, error) {
	names := make([]string, len(reasons))
	for i, r := range reasons {
		names[i] = string(r)
	}
	query := fmt.Sprintf(`SELECT reason, COUNT(*) FROM %s
		WHERE book_id LIKE $1 AND reason = ANY($2) GROUP BY reason`, pq.QuoteIdentifier(s.failuresTable))

	rows, err := s.db.QueryContext(ctx, query, string(department)+"/%", pq.Array(names))
	if err != nil {
		return nil, fmt.Errorf("query failure counts: %w", err)
	}
	defer rows.Close()

	out := make(map[types.FailureReason]int, len(reasons))
	for rows.Next() {
		var reason string
		var n int
		if err := rows.Scan(&reason, &n); err != nil {
			return nil, fmt.Errorf("scan failure count: %w", err)
		}
		out[types.FailureReason(reason)] = n
	}
	return out, rows.Err()
}

// Close closes the database.
func (s *Store) Close() error {
	return s.db.Close()
}
