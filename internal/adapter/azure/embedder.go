package azure

import (
	"context"
	"errors"
	"net/http"

	goopenai "github.com/sashabaranov/go-openai"

	"docvec/apps/backend/internal/embedding"
	"docvec/apps/backend/internal/ingesterr"
)

type Config struct {
	Endpoint   string
	APIKey     string
	Deployment string
	APIVersion string
	Dimensions int
	HTTPClient *http.Client
}

// Embedder calls an Azure OpenAI embeddings deployment.
type Embedder struct {
	client     *goopenai.Client
	deployment string
	dimensions int
}

func NewEmbedder(cfg Config) *Embedder {
	clientCfg := goopenai.DefaultAzureConfig(cfg.APIKey, cfg.Endpoint)
	if cfg.APIVersion != "" {
		clientCfg.APIVersion = cfg.APIVersion
	}
	deployment := cfg.Deployment
	clientCfg.AzureModelMapperFunc = func(string) string { return deployment }
	if cfg.HTTPClient != nil {
		clientCfg.HTTPClient = cfg.HTTPClient
	}

	return &Embedder{
		client:     goopenai.NewClientWithConfig(clientCfg),
		deployment: deployment,
		dimensions: cfg.Dimensions,
	}
}

func (e *Embedder) Embed(ctx context.Context, text string) (*embedding.Result, error) {
	resp, err := e.client.CreateEmbeddings(ctx, goopenai.EmbeddingRequest{
		Input:      []string{text},
		Model:      goopenai.EmbeddingModel(e.deployment),
		Dimensions: e.dimensions,
	})
	if err != nil {
		return nil, classify(err)
	}
	if len(resp.Data) == 0 {
		return nil, ingesterr.Validationf("azure.Embed", "no embedding data returned")
	}

	model := string(resp.Model)
	if model == "" {
		model = e.deployment
	}

	return &embedding.Result{
		Vector:       resp.Data[0].Embedding,
		Model:        model,
		PromptTokens: resp.Usage.PromptTokens,
		TotalTokens:  resp.Usage.TotalTokens,
	}, nil
}

func classify(err error) error {
	var apiErr *goopenai.APIError
	if errors.As(err, &apiErr) {
		return embedding.ClassifyStatus("azure.Embed", apiErr.HTTPStatusCode, err)
	}
	var reqErr *goopenai.RequestError
	if errors.As(err, &reqErr) {
		return embedding.ClassifyStatus("azure.Embed", reqErr.HTTPStatusCode, err)
	}
	return ingesterr.New(ingesterr.Transient, "azure.Embed", err)
}
