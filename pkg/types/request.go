// Package types defines the canonical, provider-agnostic data model for
// chat completion requests and responses. The mapping engine rewrites
// these values into each provider's wire shape; nothing in this package
// is provider-specific.
package types

import "github.com/goccy/go-json"

// ChatRequest is the canonical chat completion request. Application
// code builds one of these regardless of which provider ends up
// serving the call.
type ChatRequest struct {
	Model            string          `json:"model"`
	Messages         []Message       `json:"messages"`
	Temperature      *float64        `json:"temperature,omitempty"`
	MaxTokens        uint32          `json:"max_tokens,omitempty"`
	TopP             *float64        `json:"top_p,omitempty"`
	FrequencyPenalty *float64        `json:"frequency_penalty,omitempty"`
	PresencePenalty  *float64        `json:"presence_penalty,omitempty"`
	Stream           bool            `json:"stream,omitempty"`
	Tools            []Tool          `json:"tools,omitempty"`
	ToolChoice       json.RawMessage `json:"tool_choice,omitempty"`
	ResponseFormat   *ResponseFormat `json:"response_format,omitempty"`

	// Extensions carries provider escape-hatch values merged verbatim
	// into the wire body. Keys colliding with engine-set fields are a
	// configuration error.
	Extensions map[string]json.RawMessage `json:"extensions,omitempty"`
}

// Clone returns a copy safe for retry: the original request is never
// mutated between attempts, so slices and maps are copied while
// immutable leaf values are shared.
func (r *ChatRequest) Clone() *ChatRequest {
	if r == nil {
		return nil
	}
	out := *r
	out.Messages = append([]Message(nil), r.Messages...)
	out.Tools = append([]Tool(nil), r.Tools...)
	if r.Extensions != nil {
		out.Extensions = make(map[string]json.RawMessage, len(r.Extensions))
		for k, v := range r.Extensions {
			out.Extensions[k] = v
		}
	}
	return &out
}
