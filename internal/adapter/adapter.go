// Package adapter performs the actual provider HTTP exchange. There is
// exactly one adapter implementation; every provider-specific quirk
// lives in manifest data, not code.
package adapter

import (
	"bytes"
	"context"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/goccy/go-json"

	"github.com/modelrelay/relay/internal/catalog"
	"github.com/modelrelay/relay/internal/manifest"
	"github.com/modelrelay/relay/internal/mapping"
	"github.com/modelrelay/relay/internal/streaming"
	"github.com/modelrelay/relay/internal/transport"
	"github.com/modelrelay/relay/pkg/errors"
	"github.com/modelrelay/relay/pkg/types"
)

// Adapter turns canonical requests into provider HTTP calls and maps
// the results back. It is stateless apart from the shared HTTP clients
// and safe for concurrent use.
type Adapter struct {
	client       *http.Client
	streamClient *http.Client
	overrides    transport.Overrides
	logger       *slog.Logger
}

// New creates an adapter over the shared transport clients.
func New(client, streamClient *http.Client, overrides transport.Overrides, logger *slog.Logger) *Adapter {
	if logger == nil {
		logger = slog.Default()
	}
	return &Adapter{
		client:       client,
		streamClient: streamClient,
		overrides:    overrides,
		logger:       logger,
	}
}

// Complete performs one non-streaming chat call.
func (a *Adapter) Complete(ctx context.Context, res *catalog.Resolution, req *types.ChatRequest) (*types.ChatResponse, error) {
	httpReq, err := a.buildRequest(ctx, res, req, false)
	if err != nil {
		return nil, err
	}

	httpResp, err := a.client.Do(httpReq)
	if err != nil {
		return nil, errors.NewNetwork(res.Provider.ID, err)
	}
	defer httpResp.Body.Close()

	body, err := transport.ReadLimitedBody(httpResp.Body)
	if err != nil {
		if ge, ok := errors.AsError(err); ok {
			return nil, ge
		}
		return nil, errors.NewNetwork(res.Provider.ID, err)
	}

	if httpResp.StatusCode >= 400 {
		return nil, a.statusError(res, httpResp.StatusCode, body)
	}

	resp, err := mapping.ExtractResponse(res.Provider, res.WireModel, body)
	if err != nil {
		return nil, err
	}
	return resp, nil
}

// OpenStream performs one streaming chat call and hands back a reader.
// onDone runs exactly once on any terminal state; callers use it to
// release the backpressure permit. The response body outlives the
// calling context: the attempt context is cancelled once the call
// returns, so stream termination belongs to the reader's cancel
// handle, not to ctx.
func (a *Adapter) OpenStream(ctx context.Context, res *catalog.Resolution, req *types.ChatRequest, onDone func()) (*streaming.Reader, error) {
	httpReq, err := a.buildRequest(context.WithoutCancel(ctx), res, req, true)
	if err != nil {
		return nil, err
	}

	httpResp, err := a.streamClient.Do(httpReq)
	if err != nil {
		return nil, errors.NewNetwork(res.Provider.ID, err)
	}

	if httpResp.StatusCode >= 400 {
		body, _ := transport.ReadLimitedBody(httpResp.Body)
		httpResp.Body.Close()
		return nil, a.statusError(res, httpResp.StatusCode, body)
	}

	dec, err := streaming.NewDecoder(httpResp.Body, res.Provider.Stream.Format, res.Provider.Stream.DoneEvent)
	if err != nil {
		httpResp.Body.Close()
		return nil, err
	}
	return streaming.NewReader(dec, httpResp.Body, onDone), nil
}

// buildRequest assembles the provider HTTP request: endpoint, path
// with the wire model substituted, mapped body, auth, and headers.
func (a *Adapter) buildRequest(ctx context.Context, res *catalog.Resolution, req *types.ChatRequest, stream bool) (*http.Request, error) {
	p := res.Provider

	base, err := transport.ResolveBaseURL(p, "", a.overrides)
	if err != nil {
		return nil, err
	}

	path := p.ChatPath
	if stream && p.Stream.Path != "" {
		path = p.Stream.Path
	}
	if strings.Contains(path, "{") || strings.Contains(path, "$") {
		path, err = mapping.ExpandTemplate(path, map[string]string{"model": res.WireModel})
		if err != nil {
			return nil, err
		}
	}

	callReq := req
	if stream != req.Stream {
		callReq = req.Clone()
		callReq.Stream = stream
	}
	body, err := mapping.BuildBody(p, res.Model, res.WireModel, callReq)
	if err != nil {
		return nil, err
	}
	payload, err := json.Marshal(body)
	if err != nil {
		return nil, errors.Newf(errors.KindInvalidRequest, "encode request body: %v", err).WithCause(err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost,
		strings.TrimSuffix(base, "/")+path, bytes.NewReader(payload))
	if err != nil {
		return nil, errors.NewConfiguration(err.Error()).WithCause(err)
	}

	httpReq.Header.Set("Content-Type", "application/json")
	if stream {
		httpReq.Header.Set("Accept", "text/event-stream")
	}
	for k, v := range p.Headers {
		httpReq.Header.Set(k, v)
	}
	if err := a.applyAuth(httpReq, p); err != nil {
		return nil, err
	}
	return httpReq, nil
}

// applyAuth attaches the resolved credential in the provider's mode.
func (a *Adapter) applyAuth(httpReq *http.Request, p *manifest.ProviderDefinition) error {
	key, err := transport.ResolveAPIKey(p, "", a.overrides)
	if err != nil {
		return err
	}

	switch p.Auth.Mode {
	case manifest.AuthBearer:
		httpReq.Header.Set("Authorization", "Bearer "+key)
	case manifest.AuthAPIKeyHeader:
		name := p.Auth.HeaderName
		if name == "" {
			name = "x-api-key"
		}
		httpReq.Header.Set(name, key)
	case manifest.AuthQueryParam:
		name := p.Auth.ParamName
		if name == "" {
			name = "key"
		}
		q := httpReq.URL.Query()
		q.Set(name, key)
		httpReq.URL.RawQuery = q.Encode()
	case manifest.AuthNone:
	}
	for k, v := range p.Auth.ExtraHeaders {
		httpReq.Header.Set(k, v)
	}
	return nil
}

// statusError maps an HTTP failure onto the taxonomy, decorating
// invalid-model errors with the fallback suggestions and docs URL.
func (a *Adapter) statusError(res *catalog.Resolution, statusCode int, body []byte) *errors.Error {
	ge := errors.FromStatus(res.Provider.ID, res.WireModel, statusCode, string(body))
	if ge.Kind == errors.KindModelNotFound {
		ge.Suggested = res.Fallbacks
		ge.DocsURL = res.DocsURL
	}
	if ge.Kind == errors.KindRateLimitExceeded {
		ge.RetryAfter = retryAfterFromBody(body)
	}
	return ge
}

// retryAfterFromBody looks for a retry hint in a 429 body.
func retryAfterFromBody(body []byte) time.Duration {
	var payload struct {
		Error struct {
			RetryAfter float64 `json:"retry_after"`
		} `json:"error"`
		RetryAfter float64 `json:"retry_after"`
	}
	if err := json.Unmarshal(body, &payload); err != nil {
		return 0
	}
	secs := payload.RetryAfter
	if secs == 0 {
		secs = payload.Error.RetryAfter
	}
	return time.Duration(secs * float64(time.Second))
}
