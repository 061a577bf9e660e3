package openai

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"

	"docvec/apps/backend/internal/embedding"
	"docvec/apps/backend/internal/ingesterr"
)

type Config struct {
	APIKey     string
	BaseURL    string
	Model      string
	Dimensions int
	HTTPClient *http.Client
}

// Embedder calls the OpenAI embeddings endpoint. Client retries are disabled.
type Embedder struct {
	client     openai.Client
	model      string
	dimensions int
}

func NewEmbedder(cfg Config) *Embedder {
	opts := []option.RequestOption{
		option.WithAPIKey(cfg.APIKey),
		option.WithMaxRetries(0),
	}
	if cfg.BaseURL != "" {
		opts = append(opts, option.WithBaseURL(cfg.BaseURL))
	}
	if cfg.HTTPClient != nil {
		opts = append(opts, option.WithHTTPClient(cfg.HTTPClient))
	}

	return &Embedder{
		client:     openai.NewClient(opts...),
		model:      cfg.Model,
		dimensions: cfg.Dimensions,
	}
}

func (e *Embedder) Embed(ctx context.Context, text string) (*embedding.Result, error) {
	params := openai.EmbeddingNewParams{
		Input: openai.EmbeddingNewParamsInputUnion{OfString: openai.String(text)},
		Model: openai.EmbeddingModel(e.model),
	}
	if e.dimensions > 0 {
		params.Dimensions = openai.Int(int64(e.dimensions))
	}

	resp, err := e.client.Embeddings.New(ctx, params)
	if err != nil {
		var apiErr *openai.Error
		if errors.As(err, &apiErr) {
			return nil, embedding.ClassifyStatus("openai.Embed", apiErr.StatusCode, err)
		}
		return nil, ingesterr.New(ingesterr.Transient, "openai.Embed", err)
	}

	if len(resp.Data) == 0 {
		return nil, ingesterr.Validationf("openai.Embed", "no embedding data returned")
	}

	return &embedding.Result{
		Vector:       embedding.ToFloat32(resp.Data[0].Embedding),
		Model:        resp.Model,
		PromptTokens: int(resp.Usage.PromptTokens),
		TotalTokens:  int(resp.Usage.TotalTokens),
	}, nil
}

func (e *Embedder) String() string {
	return fmt.Sprintf("openai(%s)", e.model)
}
