package prompt

import (
	"strings"
	"testing"

	"github.com/barekit/ragchat/pkg/llm"
	"github.com/barekit/ragchat/pkg/retrieval"
	"github.com/barekit/ragchat/pkg/store"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAssembler_Order(t *testing.T) {
	a := NewAssembler("be brief")
	history := []*store.Message{
		{ID: 1, Role: store.RoleUser, Content: "hi"},
		{ID: 2, Role: store.RoleAssistant, Content: "hello"},
	}
	retrieved := []retrieval.Hit{
		{Role: store.RoleUser, Content: "My favorite color is blue.", Score: 0.9},
		{Role: store.RoleAssistant, Content: "Noted.", Score: 0.8},
	}

	p := a.Assemble(history, retrieved, "What is my favorite color?")

	want := []llm.Message{
		{Role: llm.RoleSystem, Content: "be brief"},
		{Role: llm.RoleSystem, Content: LabelPastStart + "\nuser: My favorite color is blue.\nassistant: Noted.\n" + LabelPastEnd},
		{Role: llm.RoleSystem, Content: LabelCurrent},
		{Role: llm.RoleUser, Content: "hi"},
		{Role: llm.RoleAssistant, Content: "hello"},
		{Role: llm.RoleSystem, Content: LabelNew},
		{Role: llm.RoleUser, Content: "What is my favorite color?"},
	}
	assert.Equal(t, want, p.Messages)
	assert.Equal(t, 2, p.ContextCount)
	assert.Equal(t, 2, p.HistoryCount)
}

func TestAssembler_OmitsEmptyBlocks(t *testing.T) {
	p := NewAssembler("").Assemble(nil, nil, "first message")

	require.Len(t, p.Messages, 3)
	assert.Equal(t, DefaultInstructions, p.Messages[0].Content)
	assert.Equal(t, LabelNew, p.Messages[1].Content)
	assert.Equal(t, llm.Message{Role: llm.RoleUser, Content: "first message"}, p.Messages[2])

	rendered := p.Render()
	assert.NotContains(t, rendered, LabelPastStart)
	assert.NotContains(t, rendered, LabelCurrent)
}

func TestPrompt_RenderKeepsBlockOrder(t *testing.T) {
	p := NewAssembler("sys").Assemble(
		[]*store.Message{{Role: store.RoleUser, Content: "earlier"}},
		[]retrieval.Hit{{Role: store.RoleUser, Content: "elsewhere"}},
		"now",
	)
	out := p.Render()

	past := strings.Index(out, LabelPastStart)
	current := strings.Index(out, LabelCurrent)
	newMsg := strings.Index(out, LabelNew)
	assert.True(t, past < current && current < newMsg, out)
	assert.True(t, strings.HasSuffix(out, "user: now"))
}
