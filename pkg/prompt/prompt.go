package prompt

import (
	"strings"

	"github.com/barekit/ragchat/pkg/llm"
	"github.com/barekit/ragchat/pkg/retrieval"
	"github.com/barekit/ragchat/pkg/store"
)

// Block labels.
const (
	LabelPastStart = "=== RELEVANT PAST CONVERSATIONS ==="
	LabelPastEnd   = "=== END PAST CONVERSATIONS ==="
	LabelCurrent   = "=== CURRENT CONVERSATION ==="
	LabelNew       = "=== NEW MESSAGE ==="
)

const DefaultInstructions = `You are a helpful AI assistant with access to past conversations. You can learn from previous discussions to provide better, more contextual responses.

Instructions:
1. Use relevant information from past conversations when it helps answer the current question.
2. Keep continuity with the current conversation.
3. Treat past conversations as background; the current conversation takes precedence.
4. Be concise but comprehensive.`

// Prompt is the ordered list of messages sent to the completion provider.
type Prompt struct {
	Messages []llm.Message
	// ContextCount and HistoryCount record how many retrieved entries and
	// history messages went into the prompt.
	ContextCount int
	HistoryCount int
}

// Render returns the prompt as plain text, one "role: content" entry per message.
func (p *Prompt) Render() string {
	var sb strings.Builder
	for i, m := range p.Messages {
		if i > 0 {
			sb.WriteString("\n")
		}
		sb.WriteString(string(m.Role))
		sb.WriteString(": ")
		sb.WriteString(m.Content)
	}
	return sb.String()
}

// Assembler builds prompts: retrieved context first, the session history in
// chronological order next, the new user message last.
type Assembler struct {
	instructions string
}

// NewAssembler creates an Assembler. Empty instructions use DefaultInstructions.
func NewAssembler(instructions string) *Assembler {
	if strings.TrimSpace(instructions) == "" {
		instructions = DefaultInstructions
	}
	return &Assembler{instructions: instructions}
}

// Assemble builds the prompt. history must already be in chronological order
// and must not contain newMessage; retrieved is used in the given order.
func (a *Assembler) Assemble(history []*store.Message, retrieved []retrieval.Hit, newMessage string) *Prompt {
	p := &Prompt{
		Messages: make([]llm.Message, 0, len(history)+4),
	}
	p.Messages = append(p.Messages, llm.Message{Role: llm.RoleSystem, Content: a.instructions})

	if len(retrieved) > 0 {
		var sb strings.Builder
		sb.WriteString(LabelPastStart)
		for _, h := range retrieved {
			sb.WriteString("\n")
			sb.WriteString(string(h.Role))
			sb.WriteString(": ")
			sb.WriteString(h.Content)
		}
		sb.WriteString("\n")
		sb.WriteString(LabelPastEnd)
		p.Messages = append(p.Messages, llm.Message{Role: llm.RoleSystem, Content: sb.String()})
		p.ContextCount = len(retrieved)
	}

	if len(history) > 0 {
		p.Messages = append(p.Messages, llm.Message{Role: llm.RoleSystem, Content: LabelCurrent})
		for _, m := range history {
			role := llm.RoleUser
			if m.Role == store.RoleAssistant {
				role = llm.RoleAssistant
			}
			p.Messages = append(p.Messages, llm.Message{Role: role, Content: m.Content})
		}
		p.HistoryCount = len(history)
	}

	p.Messages = append(p.Messages,
		llm.Message{Role: llm.RoleSystem, Content: LabelNew},
		llm.Message{Role: llm.RoleUser, Content: newMessage},
	)
	return p
}
