package vector

import (
	"fmt"
)

type IndexType string

const (
	IndexNone    IndexType = "none"
	IndexHNSW    IndexType = "hnsw"
	IndexIVFFlat IndexType = "ivfflat"
)

type Metric string

const (
	InnerProduct Metric = "inner_product"
	Cosine       Metric = "cosine"
)

// IndexConfig is fixed when the index is first created. Changing it later
// requires an explicit rebuild.
type IndexConfig struct {
	Type           IndexType
	Dimensions     int
	M              int
	EfConstruction int
	EfSearch       int
	Lists          int
	Probes         int
	Metric         Metric
}

func (c IndexConfig) Validate() error {
	if c.Dimensions <= 0 {
		return fmt.Errorf("dimensions must be positive, got %d", c.Dimensions)
	}
	switch c.Type {
	case IndexNone:
	case IndexHNSW:
		if c.M <= 0 || c.EfConstruction <= 0 {
			return fmt.Errorf("hnsw requires positive m and ef_construction")
		}
	case IndexIVFFlat:
		if c.Lists <= 0 {
			return fmt.Errorf("ivfflat requires positive lists")
		}
	default:
		return fmt.Errorf("unknown index type %q", c.Type)
	}
	switch c.Metric {
	case InnerProduct, Cosine:
	default:
		return fmt.Errorf("unknown metric %q", c.Metric)
	}
	return nil
}

// Chunk is a piece of page text. ChunkNo is unique within a file for one ingestion.
type Chunk struct {
	FileName string
	Page     int
	ChunkNo  int
	Text     string
}

type Record struct {
	Chunk
	Embedding    []float32
	Model        string
	PromptTokens int
	TotalTokens  int
}

type Match struct {
	ID       int64   `json:"id"`
	FileName string  `json:"file_name"`
	Page     int     `json:"page"`
	ChunkNo  int     `json:"chunk_no"`
	Text     string  `json:"text"`
	Distance float64 `json:"distance"`
}
