package agents

import (
	"context"
	"fmt"
	"time"

	"github.com/cloudwego/eino-ext/components/model/deepseek"
	"github.com/cloudwego/eino-ext/components/model/openai"
	"github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/components/prompt"
	"github.com/cloudwego/eino/compose"
	"github.com/cloudwego/eino/schema"

	"github.com/dyike/CortexConsensus/config"
)

// chainBackend runs chat template -> chat model as a compiled eino chain.
type chainBackend struct {
	provider string
	runnable compose.Runnable[map[string]any, *schema.Message]
}

func newOpenAIBackend(ctx context.Context, p config.PersonaConfig, timeout time.Duration) (*chainBackend, error) {
	cfg := &openai.ChatModelConfig{
		APIKey:  p.APIKey,
		BaseURL: p.BaseURL,
		Model:   p.Model,
		Timeout: timeout,
	}
	if p.MaxTokens > 0 {
		maxTokens := p.MaxTokens
		cfg.MaxTokens = &maxTokens
	}
	if p.Temperature > 0 {
		temperature := p.Temperature
		cfg.Temperature = &temperature
	}
	cm, err := openai.NewChatModel(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("create openai model: %w", err)
	}
	return newChainBackend(ctx, config.ProviderOpenAI, cm)
}

func newDeepSeekBackend(ctx context.Context, p config.PersonaConfig, timeout time.Duration) (*chainBackend, error) {
	cm, err := deepseek.NewChatModel(ctx, &deepseek.ChatModelConfig{
		APIKey:      p.APIKey,
		BaseURL:     p.BaseURL,
		Model:       p.Model,
		MaxTokens:   p.MaxTokens,
		Temperature: p.Temperature,
		Timeout:     timeout,
	})
	if err != nil {
		return nil, fmt.Errorf("create deepseek model: %w", err)
	}
	return newChainBackend(ctx, config.ProviderDeepSeek, cm)
}

func newChainBackend(ctx context.Context, provider string, cm model.ChatModel) (*chainBackend, error) {
	tpl := prompt.FromMessages(schema.FString,
		schema.SystemMessage("{system_message}"),
		schema.UserMessage("{user_message}"),
	)

	chain := compose.NewChain[map[string]any, *schema.Message]()
	chain.AppendChatTemplate(tpl)
	chain.AppendChatModel(cm)

	runnable, err := chain.Compile(ctx)
	if err != nil {
		return nil, fmt.Errorf("compile %s chain: %w", provider, err)
	}
	return &chainBackend{provider: provider, runnable: runnable}, nil
}

func (b *chainBackend) complete(ctx context.Context, modelID, systemPrompt, userPrompt string) (string, error) {
	cb := &modelCallback{observer: newCallObserver(b.provider, modelID)}
	msg, err := b.runnable.Invoke(ctx,
		map[string]any{
			"system_message": systemPrompt,
			"user_message":   userPrompt,
		},
		compose.WithChatModelOption(model.WithModel(modelID)),
		compose.WithCallbacks(cb),
	)
	if err != nil {
		return "", err
	}
	if msg == nil {
		return "", nil
	}
	return msg.Content, nil
}
