package gemini

import (
	"context"
	"errors"
	"log/slog"

	"github.com/google/generative-ai-go/genai"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/option"

	"docvec/apps/backend/internal/embedding"
	"docvec/apps/backend/internal/ingesterr"
)

const DefaultModel = "gemini-embedding-001"

// Embedder produces retrieval-document embeddings with the Gemini API.
// The API does not report token usage, so both counts are zero.
type Embedder struct {
	client *genai.Client
	model  string
}

func NewEmbedder(ctx context.Context, apiKey, model string, opts ...option.ClientOption) (*Embedder, error) {
	if model == "" {
		model = DefaultModel
	}
	opts = append(opts, option.WithAPIKey(apiKey))
	client, err := genai.NewClient(ctx, opts...)
	if err != nil {
		return nil, err
	}
	return &Embedder{client: client, model: model}, nil
}

func (e *Embedder) Embed(ctx context.Context, text string) (*embedding.Result, error) {
	slog.DebugContext(ctx, "embedding content", "model", e.model, "length", len(text))
	em := e.client.EmbeddingModel(e.model)
	em.TaskType = genai.TaskTypeRetrievalDocument

	res, err := em.EmbedContent(ctx, genai.Text(text))
	if err != nil {
		var gErr *googleapi.Error
		if errors.As(err, &gErr) {
			return nil, embedding.ClassifyStatus("gemini.Embed", gErr.Code, err)
		}
		return nil, ingesterr.New(ingesterr.Transient, "gemini.Embed", err)
	}
	if res.Embedding == nil || len(res.Embedding.Values) == 0 {
		return nil, ingesterr.Validationf("gemini.Embed", "empty embedding received")
	}

	return &embedding.Result{Vector: res.Embedding.Values, Model: e.model}, nil
}

func (e *Embedder) Close() error {
	return e.client.Close()
}
