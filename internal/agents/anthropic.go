package agents

import (
	"context"
	"errors"
	"strings"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"

	"github.com/dyike/CortexConsensus/config"
	"github.com/dyike/CortexConsensus/internal/errs"
)

type anthropicBackend struct {
	client      anthropic.Client
	maxTokens   int64
	temperature float64
}

func newAnthropicBackend(p config.PersonaConfig) *anthropicBackend {
	opts := []option.RequestOption{
		option.WithAPIKey(p.APIKey),
		option.WithMaxRetries(0),
	}
	if p.BaseURL != "" {
		opts = append(opts, option.WithBaseURL(p.BaseURL))
	}
	maxTokens := int64(p.MaxTokens)
	if maxTokens <= 0 {
		maxTokens = 4096
	}
	return &anthropicBackend{
		client:      anthropic.NewClient(opts...),
		maxTokens:   maxTokens,
		temperature: float64(p.Temperature),
	}
}

func (b *anthropicBackend) complete(ctx context.Context, modelID, systemPrompt, userPrompt string) (string, error) {
	obs := newCallObserver(config.ProviderAnthropic, modelID)
	obs.start(ctx)

	params := anthropic.MessageNewParams{
		Model:     anthropic.Model(modelID),
		MaxTokens: b.maxTokens,
		Messages: []anthropic.MessageParam{
			anthropic.NewUserMessage(anthropic.NewTextBlock(userPrompt)),
		},
	}
	if systemPrompt != "" {
		params.System = []anthropic.TextBlockParam{{Text: systemPrompt}}
	}
	if b.temperature > 0 {
		params.Temperature = anthropic.Float(b.temperature)
	}

	resp, err := b.client.Messages.New(ctx, params)
	if err != nil {
		obs.fail(ctx, err)
		pe := &errs.ProviderError{Provider: config.ProviderAnthropic, Message: err.Error(), Err: err}
		var apiErr *anthropic.Error
		if errors.As(err, &apiErr) {
			pe.Status = apiErr.StatusCode
		}
		return "", pe
	}

	var sb strings.Builder
	for _, block := range resp.Content {
		if block.Type == "text" {
			sb.WriteString(block.AsText().Text)
		}
	}
	obs.end(ctx, int(resp.Usage.InputTokens), int(resp.Usage.OutputTokens))
	return sb.String(), nil
}
