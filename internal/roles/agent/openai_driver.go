package agent

import (
	"context"
	"sync"

	"github.com/sashabaranov/go-openai"
)

// OpenAIDriver talks to GPT models via go-openai.
type OpenAIDriver struct {
	client *openai.Client
	model  string

	mu     sync.Mutex
	cancel context.CancelFunc
}

// NewOpenAIDriver builds a Driver backed by the given model name and API
// key.
func NewOpenAIDriver(apiKey string, model string) *OpenAIDriver {
	return &OpenAIDriver{
		client: openai.NewClient(apiKey),
		model:  model,
	}
}

var _ Driver = (*OpenAIDriver)(nil)

func (d *OpenAIDriver) Respond(ctx context.Context, history []Message) (Reply, error) {
	callCtx, cancel := context.WithCancel(ctx)
	d.mu.Lock()
	d.cancel = cancel
	d.mu.Unlock()
	defer cancel()

	msgs := make([]openai.ChatCompletionMessage, 0, len(history))
	for _, m := range history {
		msgs = append(msgs, openai.ChatCompletionMessage{Role: m.Role, Content: m.Content})
	}

	resp, err := d.client.CreateChatCompletion(callCtx, openai.ChatCompletionRequest{
		Model:    d.model,
		Messages: msgs,
	})
	if err != nil {
		return Reply{}, err
	}
	if len(resp.Choices) == 0 {
		return Reply{}, nil
	}

	choice := resp.Choices[0]
	return Reply{
		Content:          choice.Message.Content,
		PromptTokens:     int64(resp.Usage.PromptTokens),
		CompletionTokens: int64(resp.Usage.CompletionTokens),
		TaskComplete:     choice.FinishReason == openai.FinishReasonStop,
	}, nil
}

func (d *OpenAIDriver) Cancel(ctx context.Context) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.cancel != nil {
		d.cancel()
	}
	return nil
}
