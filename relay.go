// Package relay is a unified client for LLM providers. One canonical
// request and response shape fans out to any provider described in a
// YAML manifest; wire differences are handled by a declarative mapping
// engine rather than per-provider code.
//
// Basic usage:
//
//	client, err := relay.New(
//	    relay.WithAPIKey("openai", os.Getenv("OPENAI_API_KEY")),
//	)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer client.Close()
//
//	resp, err := client.Complete(ctx, &relay.ChatRequest{
//	    Model: "gpt-4o",
//	    Messages: []relay.Message{
//	        {Role: relay.RoleUser, Content: relay.TextContent("Hello!")},
//	    },
//	})
//
// Streaming returns a reader that doubles as the cancel handle:
//
//	stream, err := client.Stream(ctx, req)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer stream.Close()
//	for {
//	    chunk, err := stream.Recv()
//	    if err == io.EOF {
//	        break
//	    }
//	    ...
//	}
package relay

import (
	"github.com/modelrelay/relay/internal/adapter"
	"github.com/modelrelay/relay/internal/streaming"
	"github.com/modelrelay/relay/pkg/errors"
	"github.com/modelrelay/relay/pkg/types"
)

// Version is the current version of the library.
const Version = "1.0.0"

// Re-export the canonical request/response types so callers can write
// relay.ChatRequest instead of types.ChatRequest.
type (
	// ChatRequest is the provider-agnostic completion request.
	ChatRequest = types.ChatRequest

	// ChatResponse is the provider-agnostic completion response.
	ChatResponse = types.ChatResponse

	// Message is a single turn in the conversation.
	Message = types.Message

	// Content is a message body, plain text or typed parts.
	Content = types.Content

	// ContentPart is one element of multimodal content.
	ContentPart = types.ContentPart

	// Tool declares a function the model may call.
	Tool = types.Tool

	// ToolFunction describes a callable function.
	ToolFunction = types.ToolFunction

	// ToolCall is a completed tool invocation.
	ToolCall = types.ToolCall

	// Choice is one completion alternative.
	Choice = types.Choice

	// Usage is the token accounting on a response.
	Usage = types.Usage

	// UsageStatus reports how trustworthy the token accounting is.
	UsageStatus = types.UsageStatus

	// StreamChunk is one normalised event from a token stream.
	StreamChunk = types.StreamChunk

	// StreamChoice is a choice within a streaming chunk.
	StreamChoice = types.StreamChoice

	// StreamDelta is the incremental content of a chunk.
	StreamDelta = types.StreamDelta

	// ResponseFormat requests structured output.
	ResponseFormat = types.ResponseFormat

	// StreamReader delivers chunks and doubles as the cancel handle.
	StreamReader = streaming.Reader

	// UploadInput describes a file to push to a provider.
	UploadInput = adapter.UploadInput

	// UploadResult is the normalised upload outcome.
	UploadResult = adapter.UploadResult

	// Error is the structured error every failure resolves to.
	Error = errors.Error

	// ErrorKind classifies an Error for retry and failover decisions.
	ErrorKind = errors.Kind
)

// Canonical conversation roles.
const (
	RoleSystem    = types.RoleSystem
	RoleUser      = types.RoleUser
	RoleAssistant = types.RoleAssistant
	RoleTool      = types.RoleTool
)

// Error kinds, re-exported for switch statements at the call site.
const (
	KindNetwork              = errors.KindNetwork
	KindTimeout              = errors.KindTimeout
	KindRateLimitExceeded    = errors.KindRateLimitExceeded
	KindProvider             = errors.KindProvider
	KindAuthentication       = errors.KindAuthentication
	KindInvalidRequest       = errors.KindInvalidRequest
	KindModelNotFound        = errors.KindModelNotFound
	KindInvalidModelResponse = errors.KindInvalidModelResponse
	KindConfiguration        = errors.KindConfiguration
	KindRetryExhausted       = errors.KindRetryExhausted
	KindUnsupportedFeature   = errors.KindUnsupportedFeature
)

// Routing strategies accepted by WithRouting.
const (
	StrategySingle     = "single"
	StrategyFailover   = "failover"
	StrategyRoundRobin = "round_robin"
)

// ErrStreamCancelled is returned exactly once by a stream reader after
// its cancel handle fires; subsequent reads return io.EOF.
var ErrStreamCancelled = errors.ErrStreamCancelled

// TextContent wraps a plain string as message content.
func TextContent(s string) Content { return types.TextContent(s) }

// AsError unwraps err to the library's structured error, if it is one.
func AsError(err error) (*Error, bool) { return errors.AsError(err) }

// IsRetryable reports whether err permits another attempt.
func IsRetryable(err error) bool { return errors.IsRetryable(err) }
