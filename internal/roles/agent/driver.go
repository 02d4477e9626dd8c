// Package agent implements the agent session role: an LLM-driven session
// that persists its conversation turns and tracks token usage, closing once
// the driver signals task completion, the token budget is exhausted, or an
// explicit session_end arrives.
package agent

import "context"

// Message is one turn of conversation history handed to the driver.
type Message struct {
	Role    string
	Content string
}

// Reply is what a driver call returns.
type Reply struct {
	Content          string
	PromptTokens     int64
	CompletionTokens int64
	TaskComplete     bool
}

// Driver abstracts over the concrete LLM SDK client a node is configured
// with; the role talks only to this interface so the provider is pluggable.
type Driver interface {
	Respond(ctx context.Context, history []Message) (Reply, error)
	Cancel(ctx context.Context) error
}
