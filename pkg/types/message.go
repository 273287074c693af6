package types

import "github.com/goccy/go-json"

// Canonical conversation roles.
const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
	RoleTool      = "tool"
)

// Message is a single turn in the conversation.
type Message struct {
	Role       string     `json:"role"`
	Content    Content    `json:"content"`
	Name       string     `json:"name,omitempty"`
	ToolCallID string     `json:"tool_call_id,omitempty"`
	ToolCalls  []ToolCall `json:"tool_calls,omitempty"`
}

// Content is either a plain string or a list of typed parts, matching
// the two shapes the OpenAI-compatible wire format accepts. It
// marshals back to whichever shape it was built from.
type Content struct {
	Text  string
	Parts []ContentPart
}

// TextContent wraps a plain string.
func TextContent(s string) Content {
	return Content{Text: s}
}

// AsText flattens the content to plain text. Part lists concatenate
// their text parts; non-text parts contribute nothing.
func (c Content) AsText() string {
	if len(c.Parts) == 0 {
		return c.Text
	}
	var out string
	for _, p := range c.Parts {
		if p.Type == "text" {
			out += p.Text
		}
	}
	return out
}

// IsEmpty reports whether the content carries neither text nor parts.
func (c Content) IsEmpty() bool {
	return c.Text == "" && len(c.Parts) == 0
}

func (c Content) MarshalJSON() ([]byte, error) {
	if len(c.Parts) > 0 {
		return json.Marshal(c.Parts)
	}
	return json.Marshal(c.Text)
}

func (c *Content) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err == nil {
		c.Text, c.Parts = s, nil
		return nil
	}
	var parts []ContentPart
	if err := json.Unmarshal(data, &parts); err != nil {
		return err
	}
	c.Text, c.Parts = "", parts
	return nil
}

// ContentPart is one element of multimodal message content.
type ContentPart struct {
	Type     string    `json:"type"`
	Text     string    `json:"text,omitempty"`
	ImageURL *ImageURL `json:"image_url,omitempty"`
}

// ImageURL references an image by URL or data URI.
type ImageURL struct {
	URL    string `json:"url"`
	Detail string `json:"detail,omitempty"`
}

// Tool declares a function the model may call.
type Tool struct {
	Type     string       `json:"type"`
	Function ToolFunction `json:"function"`
}

// ToolFunction describes a callable function. Parameters holds the
// raw JSON Schema for the arguments.
type ToolFunction struct {
	Name        string          `json:"name"`
	Description string          `json:"description,omitempty"`
	Parameters  json.RawMessage `json:"parameters,omitempty"`
}

// ToolCall is a completed tool invocation on an assistant message.
type ToolCall struct {
	ID       string           `json:"id,omitempty"`
	Type     string           `json:"type,omitempty"`
	Function ToolCallFunction `json:"function"`
}

// ToolCallFunction carries the function name and its argument JSON as
// an unparsed string, mirroring the OpenAI wire shape.
type ToolCallFunction struct {
	Name      string `json:"name,omitempty"`
	Arguments string `json:"arguments,omitempty"`
}

// ResponseFormat requests structured output, e.g. {"type": "json_object"}.
type ResponseFormat struct {
	Type string `json:"type"`
}
