package vector

import (
	"fmt"

	"github.com/lib/pq"
)

const CreateExtensionSQL = `CREATE EXTENSION IF NOT EXISTS vector`

// Schema renders the DDL for one vector table.
type Schema struct {
	Table string
	Index IndexConfig
}

func (s Schema) QuotedTable() string {
	return pq.QuoteIdentifier(s.Table)
}

func (s Schema) CreateTableSQL() string {
	return fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
	id BIGSERIAL PRIMARY KEY,
	file_name TEXT NOT NULL,
	page SMALLINT NOT NULL,
	chunk_no INTEGER NOT NULL,
	text TEXT NOT NULL,
	model TEXT,
	prompt_tokens INTEGER,
	total_tokens INTEGER,
	created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
	embedding vector(%d) NOT NULL
)`, s.QuotedTable(), s.Index.Dimensions)
}

// IndexName returns the fixed name used for an index of the given type.
func (s Schema) IndexName(t IndexType) string {
	return fmt.Sprintf("%s_embedding_%s_idx", s.Table, t)
}

// CreateIndexSQL returns the statement for the configured index, or false
// when the table should stay unindexed.
func (s Schema) CreateIndexSQL() (string, bool) {
	cfg := s.Index
	expr := fmt.Sprintf("(embedding::halfvec(%d)) halfvec_ip_ops", cfg.Dimensions)

	switch cfg.Type {
	case IndexHNSW:
		return fmt.Sprintf("CREATE INDEX IF NOT EXISTS %s ON %s USING hnsw (%s) WITH (m = %d, ef_construction = %d)",
			pq.QuoteIdentifier(s.IndexName(IndexHNSW)), s.QuotedTable(), expr, cfg.M, cfg.EfConstruction), true
	case IndexIVFFlat:
		return fmt.Sprintf("CREATE INDEX IF NOT EXISTS %s ON %s USING ivfflat (%s) WITH (lists = %d)",
			pq.QuoteIdentifier(s.IndexName(IndexIVFFlat)), s.QuotedTable(), expr, cfg.Lists), true
	default:
		return "", false
	}
}

func (s Schema) DropIndexSQL(t IndexType) string {
	return "DROP INDEX IF EXISTS " + pq.QuoteIdentifier(s.IndexName(t))
}

func (s Schema) DropTableSQL() string {
	return "DROP TABLE IF EXISTS " + s.QuotedTable()
}

// ColumnType is the format_type an existing embedding column must have.
func (s Schema) ColumnType() string {
	return fmt.Sprintf("vector(%d)", s.Index.Dimensions)
}

// DistanceOperator maps a metric to its pgvector operator. Both sort ascending.
func DistanceOperator(m Metric) string {
	if m == Cosine {
		return "<=>"
	}
	return "<#>"
}

// OrderExpr is the distance expression for a nearest-neighbour query against
// param. With an index and the inner-product metric it matches the index
// expression so the planner can use it.
func (s Schema) OrderExpr(param string) string {
	if s.Index.Type != IndexNone && s.Index.Metric != Cosine {
		return fmt.Sprintf("(embedding::halfvec(%d)) <#> %s::halfvec(%d)", s.Index.Dimensions, param, s.Index.Dimensions)
	}
	return fmt.Sprintf("embedding %s %s", DistanceOperator(s.Index.Metric), param)
}

// SearchSetting returns the SET LOCAL statement tuning recall for the index type.
func (s Schema) SearchSetting() (string, bool) {
	switch s.Index.Type {
	case IndexHNSW:
		if s.Index.EfSearch > 0 {
			return fmt.Sprintf("SET LOCAL hnsw.ef_search = %d", s.Index.EfSearch), true
		}
	case IndexIVFFlat:
		if s.Index.Probes > 0 {
			return fmt.Sprintf("SET LOCAL ivfflat.probes = %d", s.Index.Probes), true
		}
	}
	return "", false
}
