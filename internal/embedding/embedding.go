// Package embedding defines the provider contract shared by the OpenAI,
// Azure OpenAI and Gemini adapters.
package embedding

import (
	"context"
	"net/http"

	"docvec/apps/backend/internal/ingesterr"
)

type Result struct {
	Vector       []float32
	Model        string
	PromptTokens int
	TotalTokens  int
}

// Provider embeds one chunk of text. Implementations must not retry
// internally; failed chunks are retried through queue redelivery.
type Provider interface {
	Embed(ctx context.Context, text string) (*Result, error)
}

// Check rejects results that cannot be stored in a column of dims dimensions.
func Check(res *Result, dims int) error {
	if res == nil || len(res.Vector) == 0 {
		return ingesterr.Validationf("embedding.Check", "provider returned an empty vector")
	}
	if len(res.Vector) != dims {
		return ingesterr.Validationf("embedding.Check", "vector has %d dimensions, expected %d", len(res.Vector), dims)
	}
	return nil
}

// ClassifyStatus maps an HTTP status from a provider to an error kind.
func ClassifyStatus(op string, status int, err error) error {
	if status >= 400 && status < 500 && status != http.StatusTooManyRequests {
		return ingesterr.New(ingesterr.Validation, op, err)
	}
	return ingesterr.New(ingesterr.Transient, op, err)
}

func ToFloat32(v []float64) []float32 {
	out := make([]float32, len(v))
	for i, x := range v {
		out[i] = float32(x)
	}
	return out
}
