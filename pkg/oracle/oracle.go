// Package oracle defines the capability port for the external generative
// service. The orchestration and session packages depend only on this
// interface so they can run against a deterministic fake in tests.
package oracle

import "context"

// Role identifies the author of a conversation message.
type Role string

const (
	User      Role = "user"
	Assistant Role = "assistant"
)

// Message is a single conversation turn sent to the chat collaborator.
type Message struct {
	Role Role
	Text string
}

// Interface groups the collaborator capabilities: free conversation,
// one-shot completion, schema-constrained JSON generation and image
// generation. Implementations may stream text internally; callers always
// receive the concatenated final value.
type Interface interface {
	// Chat sends the persona instruction plus the full prior turn history
	// and returns the assistant reply.
	Chat(ctx context.Context, system string, history []Message) (string, error)

	// Complete returns a single free-form completion for a prompt.
	Complete(ctx context.Context, prompt string) (string, error)

	// GenerateJSON requests a completion constrained to a JSON object and
	// unmarshals the reply into out.
	GenerateJSON(ctx context.Context, prompt string, out any) error

	// GenerateImage returns a generated image as raw encoded bytes.
	GenerateImage(ctx context.Context, prompt string) ([]byte, error)
}
