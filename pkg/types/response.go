package types

// UsageStatus reports how trustworthy the token accounting on a
// response is.
type UsageStatus string

const (
	// UsageFinalized means the provider reported exact token counts.
	UsageFinalized UsageStatus = "finalized"
	// UsageEstimated means counts were derived locally.
	UsageEstimated UsageStatus = "estimated"
	// UsagePending means counts arrive later (streaming tail).
	UsagePending UsageStatus = "pending"
	// UsageUnsupported means the provider does not report usage.
	UsageUnsupported UsageStatus = "unsupported"
)

// ChatResponse is the canonical non-streaming completion response.
type ChatResponse struct {
	ID          string      `json:"id"`
	Model       string      `json:"model"`
	Created     int64       `json:"created"`
	Choices     []Choice    `json:"choices"`
	Usage       *Usage      `json:"usage,omitempty"`
	UsageStatus UsageStatus `json:"usage_status,omitempty"`
}

// FirstText returns the assistant text of the first choice, or "".
func (r *ChatResponse) FirstText() string {
	if r == nil || len(r.Choices) == 0 {
		return ""
	}
	return r.Choices[0].Message.Content.AsText()
}

// Choice represents a single completion choice.
type Choice struct {
	Index        int     `json:"index"`
	Message      Message `json:"message"`
	FinishReason string  `json:"finish_reason,omitempty"`
}

// Usage contains token usage statistics for the request.
type Usage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

// StreamChunk is one normalised event from a token stream. All five
// provider streaming dialects decode into this shape.
type StreamChunk struct {
	ID      string         `json:"id"`
	Model   string         `json:"model"`
	Created int64          `json:"created,omitempty"`
	Choices []StreamChoice `json:"choices"`
	Usage   *Usage         `json:"usage,omitempty"`
}

// StreamChoice represents a choice in a streaming chunk.
type StreamChoice struct {
	Index        int         `json:"index"`
	Delta        StreamDelta `json:"delta"`
	FinishReason string      `json:"finish_reason,omitempty"`
}

// StreamDelta carries the incremental content of a chunk. Tool-call
// deltas keep stable indices so consumers can concatenate arguments
// across chunks.
type StreamDelta struct {
	Role      string          `json:"role,omitempty"`
	Content   string          `json:"content,omitempty"`
	ToolCalls []ToolCallDelta `json:"tool_calls,omitempty"`
}

// ToolCallDelta is an incremental fragment of a tool call.
type ToolCallDelta struct {
	Index    int              `json:"index"`
	ID       string           `json:"id,omitempty"`
	Type     string           `json:"type,omitempty"`
	Function ToolCallFunction `json:"function"`
}
