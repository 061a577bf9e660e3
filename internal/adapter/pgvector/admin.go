package pgvector

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"docvec/apps/backend/internal/vector"
)

type ColumnInfo struct {
	Name string `json:"name"`
	Type string `json:"type"`
}

type IndexInfo struct {
	Name       string   `json:"name"`
	Method     string   `json:"method"`
	Definition string   `json:"definition"`
	Options    []string `json:"options,omitempty"`
}

// SchemaInfo describes the vector table as it exists in the database.
type SchemaInfo struct {
	Table   string       `json:"table"`
	Exists  bool         `json:"exists"`
	Columns []ColumnInfo `json:"columns,omitempty"`
	Indexes []IndexInfo  `json:"indexes,omitempty"`
	Rows    int          `json:"rows"`
}

func (s *Store) Inspect(ctx context.Context) (*SchemaInfo, error) {
	info := &SchemaInfo{Table: s.schema.Table}

	if err := s.db.QueryRowContext(ctx, "SELECT to_regclass($1) IS NOT NULL", s.schema.QuotedTable()).Scan(&info.Exists); err != nil {
		return nil, err
	}
	if !info.Exists {
		return info, nil
	}

	rows, err := s.db.QueryContext(ctx, `SELECT a.attname, format_type(a.atttypid, a.atttypmod)
FROM pg_attribute a
WHERE a.attrelid = to_regclass($1) AND a.attnum > 0 AND NOT a.attisdropped
ORDER BY a.attnum`, s.schema.QuotedTable())
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	for rows.Next() {
		var c ColumnInfo
		if err := rows.Scan(&c.Name, &c.Type); err != nil {
			return nil, err
		}
		info.Columns = append(info.Columns, c)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	if info.Indexes, err = s.listIndexes(ctx); err != nil {
		return nil, err
	}
	if info.Rows, err = s.CountChunks(ctx); err != nil {
		return nil, err
	}
	return info, nil
}

func (s *Store) listIndexes(ctx context.Context) ([]IndexInfo, error) {
	rows, err := s.db.QueryContext(ctx, indexQuery, s.schema.QuotedTable())
	if err != nil {
		return nil, fmt.Errorf("list indexes: %w", err)
	}
	defer rows.Close()

	var out []IndexInfo
	for rows.Next() {
		var idx IndexInfo
		var opts string
		if err := rows.Scan(&idx.Name, &idx.Method, &idx.Definition, &opts); err != nil {
			return nil, err
		}
		if opts != "" {
			idx.Options = strings.Split(opts, ",")
		}
		out = append(out, idx)
	}
	return out, rows.Err()
}

// RebuildIndex drops any index this store may have created and creates the
// configured one. This is the only way the index type changes.
func (s *Store) RebuildIndex(ctx context.Context) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	for _, t := range []vector.IndexType{vector.IndexHNSW, vector.IndexIVFFlat} {
		if _, err := tx.ExecContext(ctx, s.schema.DropIndexSQL(t)); err != nil {
			return fmt.Errorf("drop %s index: %w", t, err)
		}
	}
	if stmt, ok := s.schema.CreateIndexSQL(); ok {
		if _, err := tx.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("create index: %w", err)
		}
	}
	if err := tx.Commit(); err != nil {
		return err
	}
	slog.InfoContext(ctx, "vector index rebuilt", "table", s.schema.Table, "type", s.schema.Index.Type)
	return nil
}

func (s *Store) DropTable(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, s.schema.DropTableSQL()); err != nil {
		return err
	}
	slog.InfoContext(ctx, "vector table dropped", "table", s.schema.Table)
	return nil
}
