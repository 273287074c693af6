package mapping

import (
	"github.com/goccy/go-json"

	"github.com/modelrelay/relay/internal/manifest"
	"github.com/modelrelay/relay/pkg/errors"
	"github.com/modelrelay/relay/pkg/types"
)

// setMessages writes the conversation into the body under the field
// name and role vocabulary the dialect expects. An empty conversation
// still yields a syntactically valid body (empty array).
func setMessages(body map[string]any, dialect string, messages []types.Message) error {
	switch dialect {
	case manifest.DialectGemini:
		return setGeminiContents(body, messages)
	case manifest.DialectAnthropic:
		return setAnthropicMessages(body, messages)
	default:
		// openai_style, cohere_native and custom dialects share the
		// {role, content} messages array.
		out := make([]any, 0, len(messages))
		for _, m := range messages {
			entry, err := openAIMessage(m)
			if err != nil {
				return err
			}
			out = append(out, entry)
		}
		body["messages"] = out
		return nil
	}
}

func openAIMessage(m types.Message) (map[string]any, error) {
	entry := map[string]any{"role": m.Role}
	content, err := contentValue(m.Content)
	if err != nil {
		return nil, err
	}
	entry["content"] = content
	if m.Name != "" {
		entry["name"] = m.Name
	}
	if m.ToolCallID != "" {
		entry["tool_call_id"] = m.ToolCallID
	}
	if len(m.ToolCalls) > 0 {
		entry["tool_calls"] = m.ToolCalls
	}
	return entry, nil
}

// setAnthropicMessages hoists system messages into the top-level
// "system" field and remaps the tool role onto tool_result blocks.
func setAnthropicMessages(body map[string]any, messages []types.Message) error {
	var system string
	out := make([]any, 0, len(messages))
	for _, m := range messages {
		if m.Role == types.RoleSystem {
			system += m.Content.AsText()
			continue
		}
		role := m.Role
		if role == types.RoleTool {
			role = types.RoleUser
		}
		content, err := contentValue(m.Content)
		if err != nil {
			return err
		}
		out = append(out, map[string]any{"role": role, "content": content})
	}
	if system != "" {
		body["system"] = system
	}
	body["messages"] = out
	return nil
}

// setGeminiContents renames messages to contents, assistant to model,
// and wraps text in parts.
func setGeminiContents(body map[string]any, messages []types.Message) error {
	out := make([]any, 0, len(messages))
	var system string
	for _, m := range messages {
		if m.Role == types.RoleSystem {
			system += m.Content.AsText()
			continue
		}
		role := m.Role
		if role == types.RoleAssistant {
			role = "model"
		}
		out = append(out, map[string]any{
			"role":  role,
			"parts": []any{map[string]any{"text": m.Content.AsText()}},
		})
	}
	if system != "" {
		body["systemInstruction"] = map[string]any{
			"parts": []any{map[string]any{"text": system}},
		}
	}
	body["contents"] = out
	return nil
}

// contentValue converts canonical content into a JSON-marshalable
// value in the OpenAI-compatible shape shared by most dialects.
func contentValue(c types.Content) (any, error) {
	raw, err := json.Marshal(c)
	if err != nil {
		return nil, errors.Newf(errors.KindInvalidRequest, "encode message content: %v", err)
	}
	var v any
	if err := json.Unmarshal(raw, &v); err != nil {
		return nil, errors.Newf(errors.KindInvalidRequest, "encode message content: %v", err)
	}
	return v, nil
}

// setTools writes tool declarations in the dialect's shape.
func setTools(body map[string]any, dialect string, tools []types.Tool) error {
	switch dialect {
	case manifest.DialectAnthropic:
		out := make([]any, 0, len(tools))
		for _, t := range tools {
			entry := map[string]any{"name": t.Function.Name}
			if t.Function.Description != "" {
				entry["description"] = t.Function.Description
			}
			if len(t.Function.Parameters) > 0 {
				var schema any
				if err := json.Unmarshal(t.Function.Parameters, &schema); err != nil {
					return errors.Newf(errors.KindInvalidRequest,
						"tool %s: parameters are not valid JSON: %v", t.Function.Name, err)
				}
				entry["input_schema"] = schema
			}
			out = append(out, entry)
		}
		body["tools"] = out

	case manifest.DialectGemini:
		decls := make([]any, 0, len(tools))
		for _, t := range tools {
			entry := map[string]any{"name": t.Function.Name}
			if t.Function.Description != "" {
				entry["description"] = t.Function.Description
			}
			if len(t.Function.Parameters) > 0 {
				var schema any
				if err := json.Unmarshal(t.Function.Parameters, &schema); err != nil {
					return errors.Newf(errors.KindInvalidRequest,
						"tool %s: parameters are not valid JSON: %v", t.Function.Name, err)
				}
				entry["parameters"] = schema
			}
			decls = append(decls, entry)
		}
		body["tools"] = []any{map[string]any{"functionDeclarations": decls}}

	default:
		body["tools"] = tools
	}
	return nil
}
