package streaming

import (
	"bytes"
	"strings"

	"github.com/goccy/go-json"

	relayerrors "github.com/modelrelay/relay/pkg/errors"
	"github.com/modelrelay/relay/pkg/types"
)

// sseEvent is one parsed SSE frame: the event name (optional) and the
// joined data payload.
type sseEvent struct {
	name string
	data []byte
}

// parseSSEFrame extracts the event name and data lines from a frame.
// Multiple data lines are joined with \n as the SSE spec requires;
// comments and unknown fields are ignored.
func parseSSEFrame(frame []byte) sseEvent {
	var ev sseEvent
	var data [][]byte
	for _, line := range bytes.Split(frame, []byte("\n")) {
		line = bytes.TrimSuffix(line, []byte("\r"))
		switch {
		case bytes.HasPrefix(line, []byte("data:")):
			data = append(data, bytes.TrimPrefix(bytes.TrimPrefix(line, []byte("data:")), []byte(" ")))
		case bytes.HasPrefix(line, []byte("event:")):
			ev.name = string(bytes.TrimSpace(bytes.TrimPrefix(line, []byte("event:"))))
		}
	}
	ev.data = bytes.Join(data, []byte("\n"))
	return ev
}

// dataLinesParser handles the OpenAI-compatible stream: data: lines
// carrying chunk objects, terminated by data: [DONE].
type dataLinesParser struct{}

func (p *dataLinesParser) ParseFrame(frame []byte) (*types.StreamChunk, bool, error) {
	ev := parseSSEFrame(frame)
	if len(ev.data) == 0 {
		return nil, false, nil
	}
	if bytes.Equal(bytes.TrimSpace(ev.data), []byte("[DONE]")) {
		return nil, true, nil
	}
	var chunk types.StreamChunk
	if err := json.Unmarshal(ev.data, &chunk); err != nil {
		return nil, false, relayerrors.Newf(relayerrors.KindInvalidModelResponse,
			"malformed stream chunk: %v", err).WithCause(err)
	}
	return &chunk, false, nil
}

// anthropicParser handles typed SSE events. It is stateful: the
// message_start event carries the id and model that every subsequent
// chunk inherits, and content_block_start records tool-call identity
// for later input_json_delta fragments.
type anthropicParser struct {
	currentID    string
	currentModel string
}

func (p *anthropicParser) ParseFrame(frame []byte) (*types.StreamChunk, bool, error) {
	ev := parseSSEFrame(frame)
	if len(ev.data) == 0 {
		return nil, ev.name == "message_stop", nil
	}

	var event struct {
		Type    string `json:"type"`
		Index   int    `json:"index"`
		Message struct {
			ID    string `json:"id"`
			Model string `json:"model"`
			Usage struct {
				InputTokens int `json:"input_tokens"`
			} `json:"usage"`
		} `json:"message"`
		ContentBlock struct {
			Type string `json:"type"`
			ID   string `json:"id"`
			Name string `json:"name"`
		} `json:"content_block"`
		Delta struct {
			Type        string `json:"type"`
			Text        string `json:"text"`
			PartialJSON string `json:"partial_json"`
			StopReason  string `json:"stop_reason"`
		} `json:"delta"`
		Usage struct {
			OutputTokens int `json:"output_tokens"`
		} `json:"usage"`
	}
	if err := json.Unmarshal(ev.data, &event); err != nil {
		return nil, false, relayerrors.Newf(relayerrors.KindInvalidModelResponse,
			"malformed stream event: %v", err).WithCause(err)
	}

	eventType := event.Type
	if eventType == "" {
		eventType = ev.name
	}

	switch eventType {
	case "message_start":
		p.currentID = event.Message.ID
		p.currentModel = event.Message.Model
		return p.chunk(types.StreamChoice{Delta: types.StreamDelta{Role: types.RoleAssistant}}), false, nil

	case "content_block_start":
		if event.ContentBlock.Type != "tool_use" {
			return nil, false, nil
		}
		return p.chunk(types.StreamChoice{Delta: types.StreamDelta{
			ToolCalls: []types.ToolCallDelta{{
				Index:    event.Index,
				ID:       event.ContentBlock.ID,
				Type:     "function",
				Function: types.ToolCallFunction{Name: event.ContentBlock.Name},
			}},
		}}), false, nil

	case "content_block_delta":
		switch event.Delta.Type {
		case "text_delta":
			return p.chunk(types.StreamChoice{Delta: types.StreamDelta{Content: event.Delta.Text}}), false, nil
		case "input_json_delta":
			return p.chunk(types.StreamChoice{Delta: types.StreamDelta{
				ToolCalls: []types.ToolCallDelta{{
					Index:    event.Index,
					Function: types.ToolCallFunction{Arguments: event.Delta.PartialJSON},
				}},
			}}), false, nil
		}
		return nil, false, nil

	case "message_delta":
		chunk := p.chunk(types.StreamChoice{FinishReason: normalizeStopReason(event.Delta.StopReason)})
		if event.Usage.OutputTokens > 0 {
			chunk.Usage = &types.Usage{
				CompletionTokens: event.Usage.OutputTokens,
				TotalTokens:      event.Usage.OutputTokens,
			}
		}
		return chunk, false, nil

	case "message_stop":
		return nil, true, nil

	case "ping", "content_block_stop":
		return nil, false, nil
	}
	// Unknown event types are forward-compatible noise.
	return nil, false, nil
}

func (p *anthropicParser) chunk(choice types.StreamChoice) *types.StreamChunk {
	return &types.StreamChunk{
		ID:      p.currentID,
		Model:   p.currentModel,
		Choices: []types.StreamChoice{choice},
	}
}

// geminiParser handles concatenated JSON objects. Gemini has no done
// sentinel; the stream ends when the body closes.
type geminiParser struct{}

func (p *geminiParser) ParseFrame(frame []byte) (*types.StreamChunk, bool, error) {
	var event struct {
		ModelVersion string `json:"modelVersion"`
		ResponseID   string `json:"responseId"`
		Candidates   []struct {
			Content struct {
				Parts []struct {
					Text string `json:"text"`
				} `json:"parts"`
				Role string `json:"role"`
			} `json:"content"`
			FinishReason string `json:"finishReason"`
			Index        int    `json:"index"`
		} `json:"candidates"`
		UsageMetadata struct {
			PromptTokenCount     int `json:"promptTokenCount"`
			CandidatesTokenCount int `json:"candidatesTokenCount"`
			TotalTokenCount      int `json:"totalTokenCount"`
		} `json:"usageMetadata"`
	}
	if err := json.Unmarshal(frame, &event); err != nil {
		return nil, false, relayerrors.Newf(relayerrors.KindInvalidModelResponse,
			"malformed stream object: %v", err).WithCause(err)
	}
	if len(event.Candidates) == 0 {
		return nil, false, nil
	}

	cand := event.Candidates[0]
	var text strings.Builder
	for _, part := range cand.Content.Parts {
		text.WriteString(part.Text)
	}

	chunk := &types.StreamChunk{
		ID:    event.ResponseID,
		Model: event.ModelVersion,
		Choices: []types.StreamChoice{{
			Index:        cand.Index,
			Delta:        types.StreamDelta{Content: text.String()},
			FinishReason: normalizeStopReason(cand.FinishReason),
		}},
	}
	if event.UsageMetadata.TotalTokenCount > 0 {
		chunk.Usage = &types.Usage{
			PromptTokens:     event.UsageMetadata.PromptTokenCount,
			CompletionTokens: event.UsageMetadata.CandidatesTokenCount,
			TotalTokens:      event.UsageMetadata.TotalTokenCount,
		}
	}
	return chunk, false, nil
}

// cohereParser handles newline-delimited typed JSON events. The
// terminal sentinel type is configurable per provider; it defaults to
// "stream-end".
type cohereParser struct {
	doneEvent string
}

func (p *cohereParser) ParseFrame(frame []byte) (*types.StreamChunk, bool, error) {
	var event struct {
		Type  string `json:"type"`
		ID    string `json:"id"`
		Delta struct {
			Message struct {
				Content struct {
					Text string `json:"text"`
				} `json:"content"`
				Role string `json:"role"`
			} `json:"message"`
			FinishReason string `json:"finish_reason"`
			Usage        struct {
				Tokens struct {
					InputTokens  float64 `json:"input_tokens"`
					OutputTokens float64 `json:"output_tokens"`
				} `json:"tokens"`
			} `json:"usage"`
		} `json:"delta"`

		// Legacy v1 event shape.
		EventType string `json:"event_type"`
		Text      string `json:"text"`
	}
	if err := json.Unmarshal(frame, &event); err != nil {
		return nil, false, relayerrors.Newf(relayerrors.KindInvalidModelResponse,
			"malformed stream event: %v", err).WithCause(err)
	}

	done := p.doneEvent
	if done == "" {
		done = "stream-end"
	}

	eventType := event.Type
	if eventType == "" {
		eventType = event.EventType
	}

	switch eventType {
	case done:
		return nil, true, nil

	case "message-start":
		return &types.StreamChunk{
			ID:      event.ID,
			Choices: []types.StreamChoice{{Delta: types.StreamDelta{Role: types.RoleAssistant}}},
		}, false, nil

	case "content-delta":
		return &types.StreamChunk{
			ID:      event.ID,
			Choices: []types.StreamChoice{{Delta: types.StreamDelta{Content: event.Delta.Message.Content.Text}}},
		}, false, nil

	case "message-end":
		chunk := &types.StreamChunk{
			ID:      event.ID,
			Choices: []types.StreamChoice{{FinishReason: normalizeStopReason(event.Delta.FinishReason)}},
		}
		if in, out := int(event.Delta.Usage.Tokens.InputTokens), int(event.Delta.Usage.Tokens.OutputTokens); in+out > 0 {
			chunk.Usage = &types.Usage{PromptTokens: in, CompletionTokens: out, TotalTokens: in + out}
		}
		return chunk, false, nil

	case "text-generation":
		return &types.StreamChunk{
			Choices: []types.StreamChoice{{Delta: types.StreamDelta{Content: event.Text}}},
		}, false, nil
	}
	return nil, false, nil
}

// responsesParser handles the event-typed SSE dialect where text
// arrives on response.output_text.delta events and the stream ends on
// response.completed.
type responsesParser struct {
	currentID    string
	currentModel string
}

func (p *responsesParser) ParseFrame(frame []byte) (*types.StreamChunk, bool, error) {
	ev := parseSSEFrame(frame)
	if len(ev.data) == 0 {
		return nil, false, nil
	}

	var event struct {
		Type     string `json:"type"`
		Delta    string `json:"delta"`
		Response struct {
			ID    string `json:"id"`
			Model string `json:"model"`
			Usage struct {
				InputTokens  int `json:"input_tokens"`
				OutputTokens int `json:"output_tokens"`
				TotalTokens  int `json:"total_tokens"`
			} `json:"usage"`
		} `json:"response"`
	}
	if err := json.Unmarshal(ev.data, &event); err != nil {
		return nil, false, relayerrors.Newf(relayerrors.KindInvalidModelResponse,
			"malformed stream event: %v", err).WithCause(err)
	}

	eventType := event.Type
	if eventType == "" {
		eventType = ev.name
	}

	switch eventType {
	case "response.created":
		p.currentID = event.Response.ID
		p.currentModel = event.Response.Model
		return &types.StreamChunk{
			ID:      p.currentID,
			Model:   p.currentModel,
			Choices: []types.StreamChoice{{Delta: types.StreamDelta{Role: types.RoleAssistant}}},
		}, false, nil

	case "response.output_text.delta":
		return &types.StreamChunk{
			ID:      p.currentID,
			Model:   p.currentModel,
			Choices: []types.StreamChoice{{Delta: types.StreamDelta{Content: event.Delta}}},
		}, false, nil

	case "response.completed":
		if event.Response.Usage.TotalTokens == 0 {
			return nil, true, nil
		}
		return &types.StreamChunk{
			ID:    p.currentID,
			Model: p.currentModel,
			Usage: &types.Usage{
				PromptTokens:     event.Response.Usage.InputTokens,
				CompletionTokens: event.Response.Usage.OutputTokens,
				TotalTokens:      event.Response.Usage.TotalTokens,
			},
		}, true, nil
	}
	return nil, false, nil
}

// normalizeStopReason shares the finish-reason vocabulary with the
// non-stream extraction path.
func normalizeStopReason(reason string) string {
	switch reason {
	case "":
		return ""
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
