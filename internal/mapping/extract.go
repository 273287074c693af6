package mapping

import (
	"time"

	"github.com/goccy/go-json"

	"github.com/modelrelay/relay/internal/manifest"
	"github.com/modelrelay/relay/pkg/errors"
	"github.com/modelrelay/relay/pkg/types"
)

// ExtractResponse reads the provider response body through the
// manifest's response paths and assembles the canonical ChatResponse.
// A missing content path is tolerated only when a tool call is present.
func ExtractResponse(p *manifest.ProviderDefinition, model string, body []byte) (*types.ChatResponse, error) {
	var doc any
	if err := json.Unmarshal(body, &doc); err != nil {
		return nil, errors.Newf(errors.KindInvalidModelResponse,
			"provider %s returned a non-JSON body: %v", p.ID, err).WithCause(err)
	}

	paths := p.ResponsePaths

	var toolCalls []types.ToolCall
	if paths.ToolCalls != "" {
		if raw, ok := Get(doc, paths.ToolCalls); ok {
			toolCalls = decodeToolCalls(raw)
		}
	}

	content, hasContent := Get(doc, paths.Content)
	text, isString := content.(string)
	if (!hasContent || !isString) && len(toolCalls) == 0 {
		return nil, errors.Newf(errors.KindInvalidModelResponse,
			"provider %s: response path %q yielded no content", p.ID, paths.Content)
	}

	msg := types.Message{Role: types.RoleAssistant, ToolCalls: toolCalls}
	if isString {
		msg.Content = types.TextContent(text)
	}

	choice := types.Choice{Index: 0, Message: msg}
	if paths.FinishReason != "" {
		if fr, ok := Get(doc, paths.FinishReason); ok {
			if s, ok := fr.(string); ok {
				choice.FinishReason = normalizeFinishReason(s)
			}
		}
	}

	resp := &types.ChatResponse{
		Model:       model,
		Created:     time.Now().Unix(),
		Choices:     []types.Choice{choice},
		UsageStatus: types.UsageUnsupported,
	}
	if id, ok := Get(doc, "id"); ok {
		if s, ok := id.(string); ok {
			resp.ID = s
		}
	}
	if m, ok := Get(doc, "model"); ok {
		if s, ok := m.(string); ok && s != "" {
			resp.Model = s
		}
	}
	if created, ok := Get(doc, "created"); ok {
		if f, ok := created.(float64); ok {
			resp.Created = int64(f)
		}
	}

	usage := extractUsage(doc, paths)
	if usage != nil {
		resp.Usage = usage
		resp.UsageStatus = types.UsageFinalized
	}

	return resp, nil
}

func extractUsage(doc any, paths manifest.ResponsePaths) *types.Usage {
	readInt := func(path string) (int, bool) {
		if path == "" {
			return 0, false
		}
		v, ok := Get(doc, path)
		if !ok {
			return 0, false
		}
		f, ok := v.(float64)
		if !ok {
			return 0, false
		}
		return int(f), true
	}

	prompt, okP := readInt(paths.UsagePrompt)
	completion, okC := readInt(paths.UsageCompletion)
	total, okT := readInt(paths.UsageTotal)
	if !okP && !okC && !okT {
		return nil
	}
	if !okT {
		total = prompt + completion
	}
	return &types.Usage{PromptTokens: prompt, CompletionTokens: completion, TotalTokens: total}
}

// decodeToolCalls accepts either the OpenAI tool_calls array or a bare
// arguments object (anthropic tool_use input) and normalises both.
func decodeToolCalls(raw any) []types.ToolCall {
	data, err := json.Marshal(raw)
	if err != nil {
		return nil
	}
	var calls []types.ToolCall
	if err := json.Unmarshal(data, &calls); err == nil && len(calls) > 0 && calls[0].Function.Name != "" {
		return calls
	}

	// Bare object: surface it as a single call with the arguments
	// serialized verbatim; the caller fills in the name if its dialect
	// carries one elsewhere.
	var obj map[string]any
	if err := json.Unmarshal(data, &obj); err == nil && len(obj) > 0 {
		return []types.ToolCall{{
			Type:     "function",
			Function: types.ToolCallFunction{Arguments: string(data)},
		}}
	}
	return nil
}

// normalizeFinishReason maps provider-specific stop reasons onto the
// canonical vocabulary.
func normalizeFinishReason(reason string) string {
	switch reason {
	case "stop", "end_turn", "stop_sequence", "STOP", "COMPLETE":
		return "stop"
	case "length", "max_tokens", "MAX_TOKENS":
		return "length"
	case "tool_calls", "tool_use", "TOOL_CALLS":
		return "tool_calls"
	case "SAFETY", "RECITATION", "content_filter":
		return "content_filter"
	default:
		return reason
	}
}
