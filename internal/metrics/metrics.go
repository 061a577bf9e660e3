package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Message outcomes
const (
	OutcomeIngested     = "ingested"
	OutcomeEmpty        = "empty"
	OutcomeMalformed    = "malformed"
	OutcomeRetrying     = "retrying"
	OutcomeDeadLettered = "dead_lettered"
	OutcomeError        = "error"
)

var (
	MessagesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "docvec_messages_total",
			Help: "Queue messages handled, by outcome",
		},
		[]string{"outcome"},
	)

	ChunksTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "docvec_chunks_total",
			Help: "Chunks processed, by result (embedded or skipped)",
		},
		[]string{"result"},
	)

	EmbeddingTokensTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "docvec_embedding_tokens_total",
			Help: "Tokens billed by the embedding provider",
		},
		[]string{"model", "kind"},
	)

	DeadLettersTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "docvec_dead_letters_total",
			Help: "Messages moved to the dead-letter channel",
		},
		[]string{"reason"},
	)

	StageDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "docvec_stage_duration_seconds",
			Help:    "Time spent per ingestion stage",
			Buckets: []float64{0.01, 0.05, 0.1, 0.5, 1, 2, 5, 10, 30, 60, 120, 300},
		},
		[]string{"stage"},
	)

	RecordsWritten = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "docvec_records_written_total",
			Help: "Embedding records committed to the vector table",
		},
	)
)
