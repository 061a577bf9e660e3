package openai_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"docvec/apps/backend/internal/adapter/openai"
	"docvec/apps/backend/internal/ingesterr"
)

func newServer(t *testing.T, status int, body string) (*httptest.Server, *map[string]any) {
	t.Helper()
	var captured map[string]any
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/embeddings", r.URL.Path)
		assert.Equal(t, "Bearer sk-test", r.Header.Get("Authorization"))
		_ = json.NewDecoder(r.Body).Decode(&captured)
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		w.Write([]byte(body))
	}))
	t.Cleanup(ts.Close)
	return ts, &captured
}

func newEmbedder(url string) *openai.Embedder {
	return openai.NewEmbedder(openai.Config{
		APIKey:     "sk-test",
		BaseURL:    url + "/v1/",
		Model:      "text-embedding-3-large",
		Dimensions: 3,
	})
}

func TestEmbedder_Embed(t *testing.T) {
	ts, captured := newServer(t, http.StatusOK, `{
		"object": "list",
		"data": [{"object": "embedding", "index": 0, "embedding": [0.6, 0.8, 0.0]}],
		"model": "text-embedding-3-large",
		"usage": {"prompt_tokens": 7, "total_tokens": 7}
	}`)

	res, err := newEmbedder(ts.URL).Embed(context.Background(), "hello pgvector")
	require.NoError(t, err)

	assert.Equal(t, []float32{0.6, 0.8, 0}, res.Vector)
	assert.Equal(t, "text-embedding-3-large", res.Model)
	assert.Equal(t, 7, res.PromptTokens)
	assert.Equal(t, 7, res.TotalTokens)

	assert.Equal(t, "hello pgvector", (*captured)["input"])
	assert.Equal(t, "text-embedding-3-large", (*captured)["model"])
	assert.Equal(t, float64(3), (*captured)["dimensions"])
}

func TestEmbedder_Embed_Errors(t *testing.T) {
	tests := []struct {
		name   string
		status int
		body   string
		want   ingesterr.Kind
	}{
		{"Rate Limited", http.StatusTooManyRequests, `{"error":{"message":"slow down","type":"rate_limit"}}`, ingesterr.Transient},
		{"Server Error", http.StatusInternalServerError, `{"error":{"message":"oops","type":"server_error"}}`, ingesterr.Transient},
		{"Bad Request", http.StatusBadRequest, `{"error":{"message":"too long","type":"invalid_request_error"}}`, ingesterr.Validation},
		{"Empty Data", http.StatusOK, `{"object":"list","data":[],"model":"m","usage":{"prompt_tokens":0,"total_tokens":0}}`, ingesterr.Validation},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ts, _ := newServer(t, tt.status, tt.body)
			_, err := newEmbedder(ts.URL).Embed(context.Background(), "text")
			require.Error(t, err)
			assert.Equal(t, tt.want, ingesterr.KindOf(err))
		})
	}
}

func TestEmbedder_Embed_NetworkFailure(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	url := ts.URL
	ts.Close()

	_, err := newEmbedder(url).Embed(context.Background(), "text")
	require.Error(t, err)
	assert.Equal(t, ingesterr.Transient, ingesterr.KindOf(err))
}
