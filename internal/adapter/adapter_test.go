package adapter

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/goccy/go-json"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/modelrelay/relay/internal/catalog"
	"github.com/modelrelay/relay/internal/manifest"
	"github.com/modelrelay/relay/internal/transport"
	"github.com/modelrelay/relay/pkg/errors"
	"github.com/modelrelay/relay/pkg/types"
)

func openAIResolution(baseURL string) *catalog.Resolution {
	return &catalog.Resolution{
		Provider: &manifest.ProviderDefinition{
			ID:       "openai",
			BaseURL:  baseURL,
			ChatPath: "/chat/completions",
			Auth:     manifest.AuthConfig{Mode: manifest.AuthBearer, EnvVar: "OPENAI_API_KEY"},
			Dialect:  manifest.DialectOpenAI,
			Stream:   manifest.StreamConfig{Format: manifest.StreamDataLines},
			ParamRules: map[string]*manifest.MappingRule{
				"temperature": {Kind: manifest.RuleDirect, TargetPath: "temperature"},
				"max_tokens":  {Kind: manifest.RuleDirect, TargetPath: "max_tokens"},
				"stream":      {Kind: manifest.RuleDirect, TargetPath: "stream"},
			},
			ResponsePaths: manifest.ResponsePaths{
				Content:         "choices[0].message.content",
				FinishReason:    "choices[0].finish_reason",
				UsagePrompt:     "usage.prompt_tokens",
				UsageCompletion: "usage.completion_tokens",
				UsageTotal:      "usage.total_tokens",
			},
		},
		WireModel: "gpt-4o",
		Fallbacks: []string{"gpt-4o-mini"},
		DocsURL:   "https://platform.openai.com/docs/models",
	}
}

func newTestAdapter() *Adapter {
	overrides := transport.Overrides{APIKeys: map[string]string{
		"openai": "sk-test",
		"gemini": "g-test",
	}}
	return New(http.DefaultClient, http.DefaultClient, overrides, nil)
}

func chatRequest() *types.ChatRequest {
	temp := 0.7
	return &types.ChatRequest{
		Model:       "gpt-4o",
		Messages:    []types.Message{{Role: types.RoleUser, Content: types.TextContent("hello")}},
		Temperature: &temp,
		MaxTokens:   256,
	}
}

func TestCompleteHappyPath(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/chat/completions", r.URL.Path)
		assert.Equal(t, "Bearer sk-test", r.Header.Get("Authorization"))
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))

		var body map[string]any
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, "gpt-4o", body["model"])
		assert.Equal(t, 0.7, body["temperature"])
		assert.Equal(t, float64(256), body["max_tokens"])

		w.Header().Set("Content-Type", "application/json")
		io.WriteString(w, `{
			"id": "chatcmpl-1",
			"model": "gpt-4o",
			"created": 1700000000,
			"choices": [{"index": 0, "message": {"role": "assistant", "content": "Hi there"}, "finish_reason": "stop"}],
			"usage": {"prompt_tokens": 9, "completion_tokens": 3, "total_tokens": 12}
		}`)
	}))
	defer server.Close()

	a := newTestAdapter()
	resp, err := a.Complete(context.Background(), openAIResolution(server.URL), chatRequest())
	require.NoError(t, err)

	assert.Equal(t, "chatcmpl-1", resp.ID)
	assert.Equal(t, "Hi there", resp.FirstText())
	assert.Equal(t, "stop", resp.Choices[0].FinishReason)
	require.NotNil(t, resp.Usage)
	assert.Equal(t, 12, resp.Usage.TotalTokens)
	assert.Equal(t, types.UsageFinalized, resp.UsageStatus)
}

func TestCompleteInvalidModelDecorated(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
		io.WriteString(w, `{"error": {"message": "The model 'gpt-5o' does not exist"}}`)
	}))
	defer server.Close()

	a := newTestAdapter()
	_, err := a.Complete(context.Background(), openAIResolution(server.URL), chatRequest())

	ge, ok := errors.AsError(err)
	require.True(t, ok)
	assert.Equal(t, errors.KindModelNotFound, ge.Kind)
	assert.Equal(t, []string{"gpt-4o-mini"}, ge.Suggested)
	assert.NotEmpty(t, ge.DocsURL)
	assert.Equal(t, "openai", ge.Provider)
}

func TestCompleteRateLimited(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
		io.WriteString(w, `{"error": {"message": "slow down", "retry_after": 2.5}}`)
	}))
	defer server.Close()

	a := newTestAdapter()
	_, err := a.Complete(context.Background(), openAIResolution(server.URL), chatRequest())

	ge, ok := errors.AsError(err)
	require.True(t, ok)
	assert.Equal(t, errors.KindRateLimitExceeded, ge.Kind)
	assert.Greater(t, ge.RetryAfter.Seconds(), 2.0)
}

func TestCompleteServerError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer server.Close()

	a := newTestAdapter()
	_, err := a.Complete(context.Background(), openAIResolution(server.URL), chatRequest())

	ge, ok := errors.AsError(err)
	require.True(t, ok)
	assert.Equal(t, errors.KindProvider, ge.Kind)
	assert.True(t, ge.Retryable())
}

func TestOpenStreamRoundTrip(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var body map[string]any
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, true, body["stream"])

		w.Header().Set("Content-Type", "text/event-stream")
		io.WriteString(w, "data: {\"id\":\"c1\",\"choices\":[{\"index\":0,\"delta\":{\"content\":\"str\"}}]}\n\n")
		io.WriteString(w, "data: {\"id\":\"c1\",\"choices\":[{\"index\":0,\"delta\":{\"content\":\"eam\"}}]}\n\n")
		io.WriteString(w, "data: [DONE]\n\n")
	}))
	defer server.Close()

	released := false
	a := newTestAdapter()
	reader, err := a.OpenStream(context.Background(), openAIResolution(server.URL), chatRequest(), func() { released = true })
	require.NoError(t, err)

	var text strings.Builder
	for {
		chunk, err := reader.Recv()
		if err == io.EOF {
			break
		}
		require.NoError(t, err)
		for _, c := range chunk.Choices {
			text.WriteString(c.Delta.Content)
		}
	}
	assert.Equal(t, "stream", text.String())
	assert.True(t, released, "permit not released on stream end")
}

func TestOpenStreamErrorStatus(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
		io.WriteString(w, `{"error": "bad key"}`)
	}))
	defer server.Close()

	a := newTestAdapter()
	_, err := a.OpenStream(context.Background(), openAIResolution(server.URL), chatRequest(), func() {})

	ge, ok := errors.AsError(err)
	require.True(t, ok)
	assert.Equal(t, errors.KindAuthentication, ge.Kind)
}

func TestGeminiURLConstruction(t *testing.T) {
	var gotPath, gotKey string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		gotKey = r.URL.Query().Get("key")
		io.WriteString(w, `{"candidates":[{"content":{"parts":[{"text":"ok"}],"role":"model"}}]}`)
	}))
	defer server.Close()

	res := &catalog.Resolution{
		Provider: &manifest.ProviderDefinition{
			ID:       "gemini",
			BaseURL:  server.URL,
			ChatPath: "/models/{model}:generateContent",
			Auth:     manifest.AuthConfig{Mode: manifest.AuthQueryParam, ParamName: "key"},
			Dialect:  manifest.DialectGemini,
			Stream:   manifest.StreamConfig{Format: manifest.StreamGeminiJSON},
			ResponsePaths: manifest.ResponsePaths{
				Content: "candidates[0].content.parts[0].text",
			},
		},
		WireModel: "gemini-2.0-flash",
	}

	a := newTestAdapter()
	resp, err := a.Complete(context.Background(), res, chatRequest())
	require.NoError(t, err)

	assert.Equal(t, "/models/gemini-2.0-flash:generateContent", gotPath)
	assert.Equal(t, "g-test", gotKey)
	assert.Equal(t, "ok", resp.FirstText())
}

func TestUpload(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/files", r.URL.Path)
		require.NoError(t, r.ParseMultipartForm(1<<20))
		assert.Equal(t, "assistants", r.FormValue("purpose"))

		file, header, err := r.FormFile("file")
		require.NoError(t, err)
		defer file.Close()
		assert.Equal(t, "notes.txt", header.Filename)
		content, _ := io.ReadAll(file)
		assert.Equal(t, "file body", string(content))

		io.WriteString(w, `{"id": "file_123"}`)
	}))
	defer server.Close()

	res := openAIResolution(server.URL)
	res.Provider.UploadEndpoint = "/files"

	a := newTestAdapter()
	result, err := a.Upload(context.Background(), res, UploadInput{
		Filename: "notes.txt",
		Purpose:  "assistants",
		Reader:   strings.NewReader("file body"),
	})
	require.NoError(t, err)
	assert.Equal(t, "file_123", result.ID)
}

func TestUploadAbsoluteEndpoint(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/files", r.URL.Path)
		io.WriteString(w, `{"id": "file_456"}`)
	}))
	defer server.Close()

	// The default manifest carries full upload URLs; the base URL, which
	// points elsewhere here, must not be prepended.
	res := openAIResolution("http://unused.invalid")
	res.Provider.UploadEndpoint = server.URL + "/v1/files"

	a := newTestAdapter()
	result, err := a.Upload(context.Background(), res, UploadInput{
		Filename: "notes.txt",
		Purpose:  "assistants",
		Reader:   strings.NewReader("x"),
	})
	require.NoError(t, err)
	assert.Equal(t, "file_456", result.ID)
}

func TestUploadUnsupported(t *testing.T) {
	a := newTestAdapter()
	_, err := a.Upload(context.Background(), openAIResolution("http://unused.example"), UploadInput{
		Filename: "notes.txt",
		Reader:   strings.NewReader("x"),
	})

	ge, ok := errors.AsError(err)
	require.True(t, ok)
	assert.Equal(t, errors.KindUnsupportedFeature, ge.Kind)
}
