// Package llm is the inference capability used by generation and judging: a
// token stream for long-form responses and a single-shot completion for
// structured judge verdicts. Providers sit behind the Client interface so
// decorators such as rate limiting compose around them.
package llm

import "context"

// StreamRequest asks for a streamed completion. Cancelling the context passed to
// Stream aborts the stream.
type StreamRequest struct {
	Model        string
	SystemPrompt string
	Prompt       string
}

// CompleteRequest asks for a single completion. JSON requests the provider's
// JSON-object response mode.
type CompleteRequest struct {
	Model        string
	SystemPrompt string
	Prompt       string
	JSON         bool
	// Temperature zero requests deterministic sampling.
	Temperature float32
	MaxTokens   int
}

// TokenStream yields text fragments until io.EOF. A stream is finite and not
// restartable; a new call is a new attempt.
type TokenStream interface {
	Recv() (string, error)
	Close() error
}

// Client is an inference provider.
type Client interface {
	Stream(ctx context.Context, req StreamRequest) (TokenStream, error)
	Complete(ctx context.Context, req CompleteRequest) (string, error)
}
