package assistant

import (
	"context"

	"github.com/openai/openai-go"

	"github.com/BTreeMap/ReplyPipe/internal/models"
)

// Generator produces a reply for a turn.
type Generator interface {
	Generate(ctx context.Context, c *Context) (string, error)
}

// chatClient is the subset of genai.Client used by ChatGenerator.
type chatClient interface {
	GenerateWithMessages(ctx context.Context, messages []openai.ChatCompletionMessageParamUnion) (string, error)
}

// ChatGenerator turns a Context into a chat completion request.
type ChatGenerator struct {
	client chatClient
}

// NewChatGenerator wraps a chat completion client, typically *genai.Client.
func NewChatGenerator(client chatClient) *ChatGenerator {
	return &ChatGenerator{client: client}
}

// Generate sends the system prompt, the history and the inbound text.
func (g *ChatGenerator) Generate(ctx context.Context, c *Context) (string, error) {
	return g.client.GenerateWithMessages(ctx, BuildMessages(c))
}

// BuildMessages renders c as chat messages: one system message, the history
// in order, then the inbound text as the final user message.
func BuildMessages(c *Context) []openai.ChatCompletionMessageParamUnion {
	msgs := make([]openai.ChatCompletionMessageParamUnion, 0, len(c.History)+2)
	msgs = append(msgs, openai.SystemMessage(c.SystemPrompt()))
	for _, m := range c.History {
		switch m.Role {
		case models.RoleUser:
			msgs = append(msgs, openai.UserMessage(m.Content))
		case models.RoleAssistant:
			msgs = append(msgs, openai.AssistantMessage(m.Content))
		}
	}
	return append(msgs, openai.UserMessage(c.Inbound))
}
