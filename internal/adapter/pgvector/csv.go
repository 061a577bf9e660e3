package pgvector

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	pgv "github.com/pgvector/pgvector-go"
	pgxvec "github.com/pgvector/pgvector-go/pgx"

	"docvec/apps/backend/internal/ingesterr"
	"docvec/apps/backend/internal/vector"
)

var csvColumns = []string{"file_name", "page", "chunk_no", "text", "model", "prompt_tokens", "total_tokens", "created_at", "embedding"}

// Column names written by the older loader scripts.
var csvAliases = map[string]string{
	"document_page":     "page",
	"created_date_time": "created_at",
	"chunk_vector":      "embedding",
}

// ExportCSV writes every row in insertion order and returns the row count.
func (s *Store) ExportCSV(ctx context.Context, w io.Writer) (int, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT file_name, page, chunk_no, text, COALESCE(model, ''),
	COALESCE(prompt_tokens, 0), COALESCE(total_tokens, 0), created_at, embedding
FROM `+s.schema.QuotedTable()+` ORDER BY id`)
	if err != nil {
		return 0, err
	}
	defer rows.Close()

	cw := csv.NewWriter(w)
	if err := cw.Write(csvColumns); err != nil {
		return 0, err
	}

	n := 0
	for rows.Next() {
		var (
			r       vector.Record
			created time.Time
			emb     pgv.Vector
		)
		if err := rows.Scan(&r.FileName, &r.Page, &r.ChunkNo, &r.Text, &r.Model, &r.PromptTokens, &r.TotalTokens, &created, &emb); err != nil {
			return n, err
		}
		if err := cw.Write([]string{
			r.FileName,
			strconv.Itoa(r.Page),
			strconv.Itoa(r.ChunkNo),
			r.Text,
			r.Model,
			strconv.Itoa(r.PromptTokens),
			strconv.Itoa(r.TotalTokens),
			created.UTC().Format(time.RFC3339Nano),
			FormatVector(emb.Slice()),
		}); err != nil {
			return n, err
		}
		n++
	}
	if err := rows.Err(); err != nil {
		return n, err
	}
	cw.Flush()
	return n, cw.Error()
}

func FormatVector(v []float32) string {
	parts := make([]string, len(v))
	for i, x := range v {
		parts[i] = strconv.FormatFloat(float64(x), 'f', -1, 32)
	}
	return "[" + strings.Join(parts, ",") + "]"
}

// ParseVector accepts "[1,2,3]" with optional spaces after the commas.
func ParseVector(s string) ([]float32, error) {
	s = strings.TrimSpace(s)
	if !strings.HasPrefix(s, "[") || !strings.HasSuffix(s, "]") {
		return nil, fmt.Errorf("vector %q is not bracketed", s)
	}
	body := strings.TrimSpace(s[1 : len(s)-1])
	if body == "" {
		return nil, errors.New("empty vector")
	}
	fields := strings.Split(body, ",")
	out := make([]float32, len(fields))
	for i, f := range fields {
		x, err := strconv.ParseFloat(strings.TrimSpace(f), 32)
		if err != nil {
			return nil, fmt.Errorf("element %d: %w", i, err)
		}
		out[i] = float32(x)
	}
	return out, nil
}

// Copier is the part of *pgx.Conn the importer uses.
type Copier interface {
	CopyFrom(ctx context.Context, tableName pgx.Identifier, columnNames []string, rowSrc pgx.CopyFromSource) (int64, error)
}

// Connect opens a pgx connection that can encode vector values.
func Connect(ctx context.Context, dsn string) (*pgx.Conn, error) {
	conn, err := pgx.Connect(ctx, dsn)
	if err != nil {
		return nil, err
	}
	if err := pgxvec.RegisterTypes(ctx, conn); err != nil {
		_ = conn.Close(ctx)
		return nil, fmt.Errorf("register vector types: %w", err)
	}
	return conn, nil
}

type Importer struct {
	conn   Copier
	schema vector.Schema
}

func NewImporter(conn Copier, schema vector.Schema) *Importer {
	return &Importer{conn: conn, schema: schema}
}

type ImportResult struct {
	Imported int64
	Skipped  int
}

// ImportCSV bulk-loads rows with COPY. Rows whose vector has the wrong
// dimension are skipped with a warning.
func (i *Importer) ImportCSV(ctx context.Context, r io.Reader) (*ImportResult, error) {
	cr := csv.NewReader(r)
	header, err := cr.Read()
	if err != nil {
		return nil, ingesterr.New(ingesterr.Malformed, "pgvector.ImportCSV", fmt.Errorf("read header: %w", err))
	}

	col := make(map[string]int, len(header))
	for idx, name := range header {
		name = strings.TrimSpace(name)
		if alias, ok := csvAliases[name]; ok {
			name = alias
		}
		col[name] = idx
	}
	for _, required := range []string{"file_name", "page", "chunk_no", "text", "embedding"} {
		if _, ok := col[required]; !ok {
			return nil, ingesterr.Malformedf("pgvector.ImportCSV", "missing column %q", required)
		}
	}

	res := &ImportResult{}
	var rows [][]any
	line := 1
	for {
		rec, err := cr.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		line++
		if err != nil {
			return nil, ingesterr.New(ingesterr.Malformed, "pgvector.ImportCSV", err)
		}

		row, err := i.parseRow(rec, col)
		if err != nil {
			slog.WarnContext(ctx, "skipping csv row", "line", line, "error", err)
			res.Skipped++
			continue
		}
		rows = append(rows, row)
	}

	if len(rows) == 0 {
		return res, nil
	}
	n, err := i.conn.CopyFrom(ctx, pgx.Identifier{i.schema.Table}, csvColumns, pgx.CopyFromRows(rows))
	if err != nil {
		return nil, fmt.Errorf("copy into %s: %w", i.schema.Table, err)
	}
	res.Imported = n
	return res, nil
}

func (i *Importer) parseRow(rec []string, col map[string]int) ([]any, error) {
	get := func(name string) string {
		if idx, ok := col[name]; ok && idx < len(rec) {
			return rec[idx]
		}
		return ""
	}
	atoi := func(name string) (int, error) {
		v := strings.TrimSpace(get(name))
		if v == "" {
			return 0, nil
		}
		f, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return 0, fmt.Errorf("%s: %w", name, err)
		}
		return int(f), nil
	}

	emb, err := ParseVector(get("embedding"))
	if err != nil {
		return nil, err
	}
	if len(emb) != i.schema.Index.Dimensions {
		return nil, fmt.Errorf("vector has %d dimensions, want %d", len(emb), i.schema.Index.Dimensions)
	}

	page, err := atoi("page")
	if err != nil {
		return nil, err
	}
	chunkNo, err := atoi("chunk_no")
	if err != nil {
		return nil, err
	}
	prompt, err := atoi("prompt_tokens")
	if err != nil {
		return nil, err
	}
	total, err := atoi("total_tokens")
	if err != nil {
		return nil, err
	}

	created := time.Now().UTC()
	if v := strings.TrimSpace(get("created_at")); v != "" {
		if created, err = parseTime(v); err != nil {
			return nil, err
		}
	}

	return []any{
		get("file_name"), int16(page), int32(chunkNo), get("text"), get("model"),
		int32(prompt), int32(total), created, pgv.NewVector(emb),
	}, nil
}

func parseTime(v string) (time.Time, error) {
	for _, layout := range []string{time.RFC3339Nano, "2006-01-02 15:04:05.999999-07:00", "2006-01-02 15:04:05.999999", "2006-01-02 15:04:05"} {
		if t, err := time.Parse(layout, v); err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("created_at: unrecognised time %q", v)
}
