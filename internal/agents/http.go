package agents

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"

	"github.com/dyike/CortexConsensus/config"
	"github.com/dyike/CortexConsensus/internal/errs"
)

// httpBackend talks to any OpenAI-compatible /chat/completions endpoint.
type httpBackend struct {
	client      *resty.Client
	maxTokens   int
	temperature float32
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatCompletionRequest struct {
	Model       string        `json:"model"`
	Messages    []chatMessage `json:"messages"`
	MaxTokens   int           `json:"max_tokens,omitempty"`
	Temperature float32       `json:"temperature,omitempty"`
}

type chatCompletionResponse struct {
	Choices []struct {
		Message chatMessage `json:"message"`
	} `json:"choices"`
	Usage struct {
		PromptTokens     int `json:"prompt_tokens"`
		CompletionTokens int `json:"completion_tokens"`
	} `json:"usage"`
}

func newHTTPBackend(p config.PersonaConfig, timeout time.Duration) (*httpBackend, error) {
	if p.BaseURL == "" {
		return nil, fmt.Errorf("http provider needs base_url")
	}
	client := resty.New()
	client.SetBaseURL(strings.TrimRight(p.BaseURL, "/"))
	client.SetAuthToken(p.APIKey)
	client.SetHeader("Content-Type", "application/json")
	if timeout > 0 {
		client.SetTimeout(timeout)
	}
	return &httpBackend{
		client:      client,
		maxTokens:   p.MaxTokens,
		temperature: p.Temperature,
	}, nil
}

func (b *httpBackend) complete(ctx context.Context, modelID, systemPrompt, userPrompt string) (string, error) {
	obs := newCallObserver(config.ProviderHTTP, modelID)
	obs.start(ctx)

	messages := make([]chatMessage, 0, 2)
	if systemPrompt != "" {
		messages = append(messages, chatMessage{Role: "system", Content: systemPrompt})
	}
	messages = append(messages, chatMessage{Role: "user", Content: userPrompt})

	var out chatCompletionResponse
	resp, err := b.client.R().
		SetContext(ctx).
		SetBody(chatCompletionRequest{
			Model:       modelID,
			Messages:    messages,
			MaxTokens:   b.maxTokens,
			Temperature: b.temperature,
		}).
		SetResult(&out).
		Post("/chat/completions")
	if err != nil {
		obs.fail(ctx, err)
		return "", &errs.ProviderError{Provider: config.ProviderHTTP, Message: err.Error(), Err: err}
	}
	if resp.IsError() {
		pe := &errs.ProviderError{
			Provider: config.ProviderHTTP,
			Status:   resp.StatusCode(),
			Message:  truncate(resp.String(), 200),
		}
		obs.fail(ctx, pe)
		return "", pe
	}
	if len(out.Choices) == 0 {
		pe := &errs.ProviderError{
			Provider: config.ProviderHTTP,
			Status:   resp.StatusCode(),
			Message:  "no choices in response",
		}
		obs.fail(ctx, pe)
		return "", pe
	}

	obs.end(ctx, out.Usage.PromptTokens, out.Usage.CompletionTokens)
	return out.Choices[0].Message.Content, nil
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n]) + "..."
}
