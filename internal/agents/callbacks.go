package agents

import (
	"context"
	"time"

	"github.com/cloudwego/eino/callbacks"
	"github.com/cloudwego/eino/components"
	"github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/schema"

	"github.com/dyike/CortexConsensus/internal/events"
)

// callObserver reports one model call to the event scope found on the
// context. Backends outside eino call it directly; eino chains go through
// modelCallback.
type callObserver struct {
	provider string
	model    string
	started  time.Time
}

func newCallObserver(provider, modelID string) *callObserver {
	return &callObserver{provider: provider, model: modelID}
}

func (o *callObserver) start(ctx context.Context) {
	o.started = time.Now()
	emit(ctx, events.ModelStart, map[string]any{
		"provider": o.provider,
		"model":    o.model,
	})
}

func (o *callObserver) end(ctx context.Context, promptTokens, completionTokens int) {
	fields := map[string]any{
		"provider":   o.provider,
		"model":      o.model,
		"latency_ms": time.Since(o.started).Milliseconds(),
	}
	if promptTokens > 0 || completionTokens > 0 {
		fields["prompt_tokens"] = promptTokens
		fields["completion_tokens"] = completionTokens
	}
	emit(ctx, events.ModelEnd, fields)
}

func (o *callObserver) fail(ctx context.Context, err error) {
	emit(ctx, events.ModelError, map[string]any{
		"provider":   o.provider,
		"model":      o.model,
		"latency_ms": time.Since(o.started).Milliseconds(),
		"error":      err.Error(),
	})
}

func emit(ctx context.Context, topic string, fields map[string]any) {
	if scope, ok := events.FromContext(ctx); ok {
		scope.Emit(topic, fields)
	}
}

// modelCallback adapts callObserver to eino's callback handler. Only chat
// model components are reported; the template node is ignored.
type modelCallback struct {
	observer *callObserver
}

func (cb *modelCallback) OnStart(ctx context.Context, info *callbacks.RunInfo, input callbacks.CallbackInput) context.Context {
	if !isChatModel(info) {
		return ctx
	}
	cb.observer.start(ctx)
	return ctx
}

func (cb *modelCallback) OnEnd(ctx context.Context, info *callbacks.RunInfo, output callbacks.CallbackOutput) context.Context {
	if !isChatModel(info) {
		return ctx
	}
	var promptTokens, completionTokens int
	if out := model.ConvCallbackOutput(output); out != nil && out.TokenUsage != nil {
		promptTokens = out.TokenUsage.PromptTokens
		completionTokens = out.TokenUsage.CompletionTokens
	}
	cb.observer.end(ctx, promptTokens, completionTokens)
	return ctx
}

func (cb *modelCallback) OnError(ctx context.Context, info *callbacks.RunInfo, err error) context.Context {
	if !isChatModel(info) {
		return ctx
	}
	cb.observer.fail(ctx, err)
	return ctx
}

func (cb *modelCallback) OnStartWithStreamInput(ctx context.Context, info *callbacks.RunInfo,
	input *schema.StreamReader[callbacks.CallbackInput]) context.Context {
	input.Close()
	return ctx
}

func (cb *modelCallback) OnEndWithStreamOutput(ctx context.Context, info *callbacks.RunInfo,
	output *schema.StreamReader[callbacks.CallbackOutput]) context.Context {
	output.Close()
	return ctx
}

func isChatModel(info *callbacks.RunInfo) bool {
	return info != nil && info.Component == components.ComponentOfChatModel
}
