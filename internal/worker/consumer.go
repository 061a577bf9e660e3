package worker

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"docvec/apps/backend/internal/adapter/s3"
	"docvec/apps/backend/internal/embedding"
	"docvec/apps/backend/internal/ingesterr"
	"docvec/apps/backend/internal/metrics"
	"docvec/apps/backend/internal/middleware"
	"docvec/apps/backend/internal/pdftext"
	"docvec/apps/backend/internal/vector"
)

const (
	stageParse   = "parse"
	stageFetch   = "fetch"
	stageExtract = "extract"
	stageEmbed   = "embed"
	stageStore   = "store"
	stageAck     = "ack"
)

const normTolerance = 1e-3

type Options struct {
	DefaultBucket string
	Dimensions    int
	EmbedTimeout  time.Duration
	// FailFast aborts the message on the first chunk the provider rejects
	// instead of skipping it.
	FailFast bool
	Backoff  time.Duration
	Metric   vector.Metric
}

type Consumer struct {
	queue     Queue
	fetcher   Fetcher
	extractor Extractor
	splitter  Splitter
	provider  embedding.Provider
	store     VectorStore
	escalator *Escalator
	opts      Options
}

func NewConsumer(queue Queue, fetcher Fetcher, extractor Extractor, splitter Splitter, provider embedding.Provider, store VectorStore, escalator *Escalator, opts Options) *Consumer {
	if opts.EmbedTimeout <= 0 {
		opts.EmbedTimeout = 60 * time.Second
	}
	if opts.Backoff <= 0 {
		opts.Backoff = 5 * time.Second
	}
	return &Consumer{
		queue:     queue,
		fetcher:   fetcher,
		extractor: extractor,
		splitter:  splitter,
		provider:  provider,
		store:     store,
		escalator: escalator,
		opts:      opts,
	}
}

// Run polls the queue until ctx is cancelled. Messages are handled one at a time.
func (c *Consumer) Run(ctx context.Context) error {
	slog.InfoContext(ctx, "consumer started")
	for {
		if ctx.Err() != nil {
			slog.InfoContext(ctx, "consumer stopped")
			return nil
		}

		msgs, err := c.queue.Receive(ctx)
		if err != nil {
			if ctx.Err() != nil {
				continue
			}
			slog.ErrorContext(ctx, "queue receive failed", "error", err, "backoff", c.opts.Backoff)
			select {
			case <-ctx.Done():
			case <-time.After(c.opts.Backoff):
			}
			continue
		}

		for _, msg := range msgs {
			_ = c.HandleMessage(ctx, msg)
		}
	}
}

// HandleMessage runs one message through fetch, extract, split, embed and
// store. The returned error is informational: acknowledgement and
// escalation have already happened by the time it returns.
func (c *Consumer) HandleMessage(ctx context.Context, msg Message) error {
	ctx = middleware.WithCorrelationID(ctx, msg.ID)

	ev, err := ParseObjectEvent(msg.Body, c.opts.DefaultBucket)
	if err != nil {
		// Poison pill: redelivery cannot fix it.
		slog.ErrorContext(ctx, "poison pill: dropping message",
			"error", err, "stage", stageParse, "receive_count", msg.ReceiveCount, "kind", ingesterr.KindOf(err).String())
		metrics.MessagesTotal.WithLabelValues(metrics.OutcomeMalformed).Inc()
		if derr := c.queue.Delete(ctx, msg.ReceiptHandle); derr != nil {
			slog.ErrorContext(ctx, "delete failed", "error", derr, "stage", stageAck)
			return derr
		}
		return err
	}
	ctx = middleware.WithObjectKey(ctx, ev.Key)

	staged, stored, stage, err := c.ingest(ctx, ev)
	if err != nil {
		return c.fail(ctx, msg, staged, stage, err)
	}

	if err := c.queue.Delete(ctx, msg.ReceiptHandle); err != nil {
		// Rows are committed; the redelivery will append duplicates.
		slog.ErrorContext(ctx, "delete failed after ingest", "error", err, "stage", stageAck, "receive_count", msg.ReceiveCount)
		metrics.MessagesTotal.WithLabelValues(metrics.OutcomeError).Inc()
		return err
	}
	c.removeStaged(ctx, staged)

	if stored == 0 {
		metrics.MessagesTotal.WithLabelValues(metrics.OutcomeEmpty).Inc()
	} else {
		metrics.MessagesTotal.WithLabelValues(metrics.OutcomeIngested).Inc()
	}
	slog.InfoContext(ctx, "document ingested", "bucket", ev.Bucket, "records", stored)
	return nil
}

func (c *Consumer) ingest(ctx context.Context, ev ObjectEvent) (*s3.StagedFile, int, string, error) {
	start := time.Now()
	staged, err := c.fetcher.Fetch(ctx, ev.Bucket, ev.Key)
	if err != nil {
		return nil, 0, stageFetch, err
	}
	metrics.StageDuration.WithLabelValues(stageFetch).Observe(time.Since(start).Seconds())
	if staged.Reused {
		slog.InfoContext(ctx, "reusing staged file", "path", staged.Path)
	}

	start = time.Now()
	pages, err := c.extractor.Extract(ctx, staged.Path)
	if err != nil {
		return staged, 0, stageExtract, err
	}
	metrics.StageDuration.WithLabelValues(stageExtract).Observe(time.Since(start).Seconds())

	start = time.Now()
	records, attempted, err := c.embedPages(ctx, ev.Key, pages)
	if err != nil {
		return staged, 0, stageEmbed, err
	}
	metrics.StageDuration.WithLabelValues(stageEmbed).Observe(time.Since(start).Seconds())

	if attempted == 0 {
		slog.WarnContext(ctx, "document has no extractable text", "pages", len(pages))
		return staged, 0, "", nil
	}
	if len(records) == 0 {
		return staged, 0, stageEmbed, ingesterr.Validationf("worker.ingest", "none of %d chunks could be embedded", attempted)
	}

	start = time.Now()
	if err := c.store.UpsertBatch(ctx, records); err != nil {
		return staged, 0, stageStore, err
	}
	metrics.StageDuration.WithLabelValues(stageStore).Observe(time.Since(start).Seconds())
	metrics.RecordsWritten.Add(float64(len(records)))

	return staged, len(records), "", nil
}

// embedPages embeds every chunk in page-then-position order. ChunkNo counts
// stored chunks only, so skipped chunks leave no gaps.
func (c *Consumer) embedPages(ctx context.Context, fileName string, pages []pdftext.Page) ([]vector.Record, int, error) {
	var records []vector.Record
	attempted := 0

	for _, page := range pages {
		for _, text := range c.splitter.Split(page.Text) {
			attempted++
			res, err := c.embed(ctx, text)
			if err != nil {
				if ingesterr.Is(err, ingesterr.Validation) && !c.opts.FailFast {
					slog.WarnContext(ctx, "skipping chunk", "error", err, "page", page.Index, "chunk", attempted-1)
					metrics.ChunksTotal.WithLabelValues("skipped").Inc()
					continue
				}
				return nil, attempted, err
			}

			metrics.ChunksTotal.WithLabelValues("embedded").Inc()
			metrics.EmbeddingTokensTotal.WithLabelValues(res.Model, "prompt").Add(float64(res.PromptTokens))
			metrics.EmbeddingTokensTotal.WithLabelValues(res.Model, "total").Add(float64(res.TotalTokens))

			records = append(records, vector.Record{
				Chunk: vector.Chunk{
					FileName: fileName,
					Page:     page.Index,
					ChunkNo:  len(records),
					Text:     text,
				},
				Embedding:    res.Vector,
				Model:        res.Model,
				PromptTokens: res.PromptTokens,
				TotalTokens:  res.TotalTokens,
			})
		}
	}
	return records, attempted, nil
}

func (c *Consumer) embed(ctx context.Context, text string) (*embedding.Result, error) {
	embedCtx, cancel := context.WithTimeout(ctx, c.opts.EmbedTimeout)
	defer cancel()

	res, err := c.provider.Embed(embedCtx, text)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return nil, ingesterr.New(ingesterr.Transient, "worker.embed", err)
		}
		return nil, err
	}
	if err := embedding.Check(res, c.opts.Dimensions); err != nil {
		return nil, err
	}
	if c.opts.Metric == vector.InnerProduct && !vector.IsNormalized(res.Vector, normTolerance) {
		slog.WarnContext(ctx, "provider returned a non-unit vector", "norm", vector.Norm(res.Vector), "model", res.Model)
	}
	return res, nil
}

func (c *Consumer) fail(ctx context.Context, msg Message, staged *s3.StagedFile, stage string, cause error) error {
	kind := ingesterr.KindOf(cause)
	slog.ErrorContext(ctx, "ingestion failed",
		"error", cause, "stage", stage, "receive_count", msg.ReceiveCount, "kind", kind.String())

	if kind == ingesterr.Fatal {
		if err := c.escalator.DeadLetter(ctx, msg, ReasonUnprocessable, cause); err != nil {
			metrics.MessagesTotal.WithLabelValues(metrics.OutcomeError).Inc()
			return err
		}
		metrics.MessagesTotal.WithLabelValues(metrics.OutcomeDeadLettered).Inc()
		c.removeStaged(ctx, staged)
		return cause
	}

	outcome, err := c.escalator.Escalate(ctx, msg, cause)
	if err != nil {
		metrics.MessagesTotal.WithLabelValues(metrics.OutcomeError).Inc()
		return err
	}
	if outcome == OutcomeDeadLettered {
		metrics.MessagesTotal.WithLabelValues(metrics.OutcomeDeadLettered).Inc()
		c.removeStaged(ctx, staged)
	} else {
		metrics.MessagesTotal.WithLabelValues(metrics.OutcomeRetrying).Inc()
	}
	return cause
}

func (c *Consumer) removeStaged(ctx context.Context, staged *s3.StagedFile) {
	if staged == nil {
		return
	}
	if err := staged.Remove(); err != nil {
		slog.WarnContext(ctx, "failed to remove staged file", "error", err, "path", staged.Path)
	}
}
