package pipeline

import (
	"context"
	"log/slog"
	"time"

	"github.com/modelrelay/relay/pkg/types"
)

// LogObserver emits one structured log line per pipeline event.
type LogObserver struct {
	logger *slog.Logger
}

// NewLogObserver wraps a slog logger; nil falls back to the default.
func NewLogObserver(logger *slog.Logger) *LogObserver {
	if logger == nil {
		logger = slog.Default()
	}
	return &LogObserver{logger: logger}
}

func (o *LogObserver) OnRequest(ctx context.Context, provider, model string, req *types.ChatRequest) {
	o.logger.DebugContext(ctx, "provider request",
		"provider", provider,
		"model", model,
		"messages", len(req.Messages),
		"stream", req.Stream)
}

func (o *LogObserver) OnResponse(ctx context.Context, provider, model string, req *types.ChatRequest, elapsed time.Duration) {
	o.logger.InfoContext(ctx, "provider response",
		"provider", provider,
		"model", model,
		"elapsed", elapsed)
}

func (o *LogObserver) OnError(ctx context.Context, provider, model string, req *types.ChatRequest, err error) {
	o.logger.WarnContext(ctx, "provider call failed",
		"provider", provider,
		"model", model,
		"error", err)
}
