package agent

import (
	"context"
	"sync"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
)

// AnthropicDriver talks to Claude models via anthropic-sdk-go.
type AnthropicDriver struct {
	client    anthropic.Client
	model     anthropic.Model
	maxTokens int64

	mu     sync.Mutex
	cancel context.CancelFunc
}

// NewAnthropicDriver builds a Driver backed by the given model name and API
// key.
func NewAnthropicDriver(apiKey string, model string, maxTokens int64) *AnthropicDriver {
	if maxTokens <= 0 {
		maxTokens = 1024
	}
	return &AnthropicDriver{
		client:    anthropic.NewClient(option.WithAPIKey(apiKey)),
		model:     anthropic.Model(model),
		maxTokens: maxTokens,
	}
}

var _ Driver = (*AnthropicDriver)(nil)

func (d *AnthropicDriver) Respond(ctx context.Context, history []Message) (Reply, error) {
	callCtx, cancel := context.WithCancel(ctx)
	d.mu.Lock()
	d.cancel = cancel
	d.mu.Unlock()
	defer cancel()

	msgs := make([]anthropic.MessageParam, 0, len(history))
	for _, m := range history {
		block := anthropic.NewTextBlock(m.Content)
		if m.Role == "assistant" {
			msgs = append(msgs, anthropic.NewAssistantMessage(block))
		} else {
			msgs = append(msgs, anthropic.NewUserMessage(block))
		}
	}

	resp, err := d.client.Messages.New(callCtx, anthropic.MessageNewParams{
		Model:     d.model,
		MaxTokens: d.maxTokens,
		Messages:  msgs,
	})
	if err != nil {
		return Reply{}, err
	}

	var content string
	for _, block := range resp.Content {
		if block.Type == "text" {
			content += block.Text
		}
	}

	return Reply{
		Content:          content,
		PromptTokens:     resp.Usage.InputTokens,
		CompletionTokens: resp.Usage.OutputTokens,
		TaskComplete:      resp.StopReason == anthropic.StopReasonEndTurn,
	}, nil
}

func (d *AnthropicDriver) Cancel(ctx context.Context) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.cancel != nil {
		d.cancel()
	}
	return nil
}
