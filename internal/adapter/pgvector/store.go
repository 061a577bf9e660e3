package pgvector

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"strings"

	"github.com/lib/pq"
	pgv "github.com/pgvector/pgvector-go"

	"docvec/apps/backend/internal/ingesterr"
	"docvec/apps/backend/internal/vector"
)

const insertColumns = "file_name, page, chunk_no, text, model, prompt_tokens, total_tokens, embedding"

const columnTypeQuery = `SELECT format_type(a.atttypid, a.atttypmod)
FROM pg_attribute a
WHERE a.attrelid = to_regclass($1) AND a.attname = 'embedding' AND NOT a.attisdropped`

const indexQuery = `SELECT i.relname, am.amname, pg_get_indexdef(i.oid), COALESCE(array_to_string(i.reloptions, ','), '')
FROM pg_index x
JOIN pg_class i ON i.oid = x.indexrelid
JOIN pg_am am ON am.oid = i.relam
WHERE x.indrelid = to_regclass($1)
ORDER BY i.relname`

type Options struct {
	BatchSize int
	// DedupeOnReingest deletes earlier rows of a file before inserting its
	// new records, in the same transaction.
	DedupeOnReingest bool
}

type Store struct {
	db     *sql.DB
	schema vector.Schema
	opts   Options
}

func NewStore(db *sql.DB, schema vector.Schema, opts Options) *Store {
	if opts.BatchSize <= 0 {
		opts.BatchSize = 1000
	}
	return &Store{db: db, schema: schema, opts: opts}
}

func (s *Store) Schema() vector.Schema { return s.schema }

// EnsureSchema creates the extension, table and configured index when
// missing. It is safe to call on every start. An existing vector index of a
// different type is kept; RebuildIndex replaces it.
func (s *Store) EnsureSchema(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, vector.CreateExtensionSQL); err != nil {
		return fmt.Errorf("create extension: %w", err)
	}
	if _, err := s.db.ExecContext(ctx, s.schema.CreateTableSQL()); err != nil {
		return fmt.Errorf("create table: %w", err)
	}

	var colType string
	if err := s.db.QueryRowContext(ctx, columnTypeQuery, s.schema.QuotedTable()).Scan(&colType); err != nil {
		return fmt.Errorf("read embedding column: %w", err)
	}
	if colType != s.schema.ColumnType() {
		return ingesterr.Fatalf("pgvector.EnsureSchema", "table %s has embedding %s, configured %s",
			s.schema.Table, colType, s.schema.ColumnType())
	}

	indexes, err := s.listIndexes(ctx)
	if err != nil {
		return err
	}
	for _, idx := range indexes {
		if idx.Method != string(vector.IndexHNSW) && idx.Method != string(vector.IndexIVFFlat) {
			continue
		}
		if idx.Method != string(s.schema.Index.Type) {
			slog.WarnContext(ctx, "existing vector index differs from configuration; run schema rebuild-index to change it",
				"index", idx.Name, "method", idx.Method, "configured", s.schema.Index.Type)
		} else {
			slog.InfoContext(ctx, "vector index present", "index", idx.Name, "method", idx.Method)
		}
		return nil
	}

	stmt, ok := s.schema.CreateIndexSQL()
	if !ok {
		slog.InfoContext(ctx, "no vector index configured", "table", s.schema.Table)
		return nil
	}
	if _, err := s.db.ExecContext(ctx, stmt); err != nil {
		return fmt.Errorf("create index: %w", err)
	}
	slog.InfoContext(ctx, "vector index created", "index", s.schema.IndexName(s.schema.Index.Type))
	return nil
}

// UpsertBatch writes all records in one transaction. A record with the wrong
// dimension fails the whole batch before anything is written.
func (s *Store) UpsertBatch(ctx context.Context, records []vector.Record) error {
	if len(records) == 0 {
		return nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return ingesterr.New(ingesterr.Transient, "pgvector.UpsertBatch", err)
	}
	defer func() { _ = tx.Rollback() }()

	dims := s.schema.Index.Dimensions
	for i, r := range records {
		if len(r.Embedding) != dims {
			return ingesterr.Validationf("pgvector.UpsertBatch", "record %d (%s chunk %d) has %d dimensions, want %d",
				i, r.FileName, r.ChunkNo, len(r.Embedding), dims)
		}
	}

	if s.opts.DedupeOnReingest {
		if _, err := tx.ExecContext(ctx, "DELETE FROM "+s.schema.QuotedTable()+" WHERE file_name = ANY($1)",
			pq.Array(fileNames(records))); err != nil {
			return ingesterr.New(ingesterr.Transient, "pgvector.UpsertBatch", fmt.Errorf("dedupe: %w", err))
		}
	}

	for start := 0; start < len(records); start += s.opts.BatchSize {
		end := min(start+s.opts.BatchSize, len(records))
		query, args := s.insertStatement(records[start:end])
		if _, err := tx.ExecContext(ctx, query, args...); err != nil {
			return ingesterr.New(ingesterr.Transient, "pgvector.UpsertBatch", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return ingesterr.New(ingesterr.Transient, "pgvector.UpsertBatch", err)
	}
	return nil
}

func (s *Store) insertStatement(records []vector.Record) (string, []any) {
	const perRow = 8
	var b strings.Builder
	args := make([]any, 0, len(records)*perRow)

	b.WriteString("INSERT INTO " + s.schema.QuotedTable() + " (" + insertColumns + ") VALUES ")
	for i, r := range records {
		if i > 0 {
			b.WriteString(", ")
		}
		n := i * perRow
		fmt.Fprintf(&b, "($%d, $%d, $%d, $%d, $%d, $%d, $%d, $%d)", n+1, n+2, n+3, n+4, n+5, n+6, n+7, n+8)
		args = append(args, r.FileName, r.Page, r.ChunkNo, r.Text, r.Model, r.PromptTokens, r.TotalTokens, pgv.NewVector(r.Embedding))
	}
	return b.String(), args
}

func fileNames(records []vector.Record) []string {
	seen := make(map[string]bool)
	var names []string
	for _, r := range records {
		if !seen[r.FileName] {
			seen[r.FileName] = true
			names = append(names, r.FileName)
		}
	}
	return names
}

// QueryNearest returns the limit rows closest to v, nearest first.
func (s *Store) QueryNearest(ctx context.Context, v []float32, limit int) ([]vector.Match, error) {
	if len(v) != s.schema.Index.Dimensions {
		return nil, ingesterr.Validationf("pgvector.QueryNearest", "query has %d dimensions, want %d", len(v), s.schema.Index.Dimensions)
	}

	tx, err := s.db.BeginTx(ctx, &sql.TxOptions{ReadOnly: true})
	if err != nil {
		return nil, err
	}
	defer func() { _ = tx.Rollback() }()

	if stmt, ok := s.schema.SearchSetting(); ok {
		if _, err := tx.ExecContext(ctx, stmt); err != nil {
			return nil, err
		}
	}

	expr := s.schema.OrderExpr("$1")
	query := fmt.Sprintf("SELECT id, file_name, page, chunk_no, text, %s AS distance FROM %s ORDER BY %s LIMIT $2",
		expr, s.schema.QuotedTable(), expr)

	rows, err := tx.QueryContext(ctx, query, pgv.NewVector(v), limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []vector.Match
	for rows.Next() {
		var m vector.Match
		if err := rows.Scan(&m.ID, &m.FileName, &m.Page, &m.ChunkNo, &m.Text, &m.Distance); err != nil {
			return nil, err
		}
		out = append(out, m)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return out, tx.Commit()
}

func (s *Store) CountChunks(ctx context.Context) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx, "SELECT count(*) FROM "+s.schema.QuotedTable()).Scan(&n)
	return n, err
}

func (s *Store) CountFiles(ctx context.Context) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx, "SELECT count(DISTINCT file_name) FROM "+s.schema.QuotedTable()).Scan(&n)
	return n, err
}

// SampleEmbeddings returns up to n stored vectors in insertion order.
func (s *Store) SampleEmbeddings(ctx context.Context, n int) ([][]float32, error) {
	rows, err := s.db.QueryContext(ctx, "SELECT embedding FROM "+s.schema.QuotedTable()+" ORDER BY id LIMIT $1", n)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out [][]float32
	for rows.Next() {
		var v pgv.Vector
		if err := rows.Scan(&v); err != nil {
			return nil, err
		}
		out = append(out, v.Slice())
	}
	return out, rows.Err()
}
