package adapter

import (
	"bytes"
	"context"
	"io"
	"mime/multipart"
	"net/http"
	"net/url"
	"strings"

	"github.com/goccy/go-json"

	"github.com/modelrelay/relay/internal/catalog"
	"github.com/modelrelay/relay/internal/transport"
	"github.com/modelrelay/relay/pkg/errors"
)

// UploadInput describes one file to push to a provider's upload
// endpoint.
type UploadInput struct {
	Filename string
	// Purpose is forwarded as the "purpose" form field when set.
	Purpose string
	Reader  io.Reader
}

// UploadResult is the normalised upload outcome: whichever of id or
// URL the provider returned, usable as an attachment reference.
type UploadResult struct {
	ID  string `json:"id,omitempty"`
	URL string `json:"url,omitempty"`
	// Raw preserves the full provider response for callers that need
	// provider-specific fields.
	Raw json.RawMessage `json:"raw,omitempty"`
}

// Upload pushes a file to the provider's upload endpoint via multipart
// form encoding. Providers without an upload_endpoint reject with
// UnsupportedFeature.
func (a *Adapter) Upload(ctx context.Context, res *catalog.Resolution, in UploadInput) (*UploadResult, error) {
	p := res.Provider
	if p.UploadEndpoint == "" {
		err := errors.Newf(errors.KindUnsupportedFeature,
			"provider %q does not support file uploads", p.ID)
		err.Provider = p.ID
		return nil, err
	}

	// upload_endpoint may be a full URL or a path relative to the
	// provider's base URL.
	target := p.UploadEndpoint
	if u, perr := url.Parse(target); perr != nil || !u.IsAbs() {
		base, err := transport.ResolveBaseURL(p, "", a.overrides)
		if err != nil {
			return nil, err
		}
		target = strings.TrimSuffix(base, "/") + target
	}

	var buf bytes.Buffer
	form := multipart.NewWriter(&buf)
	if in.Purpose != "" {
		if err := form.WriteField("purpose", in.Purpose); err != nil {
			return nil, errors.NewConfiguration(err.Error()).WithCause(err)
		}
	}
	part, err := form.CreateFormFile("file", in.Filename)
	if err != nil {
		return nil, errors.NewConfiguration(err.Error()).WithCause(err)
	}
	if _, err := io.Copy(part, in.Reader); err != nil {
		return nil, errors.NewNetwork(p.ID, err)
	}
	if err := form.Close(); err != nil {
		return nil, errors.NewConfiguration(err.Error()).WithCause(err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, target, &buf)
	if err != nil {
		return nil, errors.NewConfiguration(err.Error()).WithCause(err)
	}
	httpReq.Header.Set("Content-Type", form.FormDataContentType())
	if err := a.applyAuth(httpReq, p); err != nil {
		return nil, err
	}

	httpResp, err := a.client.Do(httpReq)
	if err != nil {
		return nil, errors.NewNetwork(p.ID, err)
	}
	defer httpResp.Body.Close()

	body, err := transport.ReadLimitedBody(httpResp.Body)
	if err != nil {
		if ge, ok := errors.AsError(err); ok {
			return nil, ge
		}
		return nil, errors.NewNetwork(p.ID, err)
	}
	if httpResp.StatusCode >= 400 {
		return nil, a.statusError(res, httpResp.StatusCode, body)
	}

	result := &UploadResult{Raw: json.RawMessage(body)}
	var fields struct {
		ID  string `json:"id"`
		URL string `json:"url"`
	}
	if err := json.Unmarshal(body, &fields); err == nil {
		result.ID = fields.ID
		result.URL = fields.URL
	}
	if result.ID == "" && result.URL == "" {
		return nil, errors.Newf(errors.KindInvalidModelResponse,
			"provider %s upload returned neither id nor url", p.ID)
	}
	return result, nil
}
