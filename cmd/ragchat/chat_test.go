package main

import (
	"bytes"
	"context"
	"strings"
	"testing"

	"github.com/barekit/ragchat/pkg/app"
	"github.com/barekit/ragchat/pkg/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestREPLCommands(t *testing.T) {
	t.Setenv("OPENAI_API_KEY", "sk-test")
	t.Setenv("RAGCHAT_STORE_TYPE", "inmemory")
	t.Setenv("RAGCHAT_EMBEDDING_PROVIDER", "hashing")
	cfg, err := config.Load(config.NewViper(), "")
	require.NoError(t, err)

	a, err := app.Build(context.Background(), cfg, nil)
	require.NoError(t, err)
	defer a.Close()

	var out bytes.Buffer
	r := &repl{
		app: a,
		in:  strings.NewReader("/new Groceries\n/rename Weekly groceries\n/sessions\n/delete\n/rename nope\nexit\n"),
		out: &out,
	}
	require.NoError(t, r.run(context.Background()))

	text := out.String()
	assert.Contains(t, text, `Started "Groceries"`)
	assert.Contains(t, text, `Renamed to "Weekly groceries"`)
	assert.Contains(t, text, "* ")
	assert.Contains(t, text, "Session deleted")
	assert.Contains(t, text, "Error: no current session")
	assert.Empty(t, r.sessionID)
}

func TestRootCmdHasSubcommands(t *testing.T) {
	root := newRootCmd()
	for _, name := range []string{"serve", "chat"} {
		cmd, _, err := root.Find([]string{name})
		require.NoError(t, err)
		assert.Equal(t, name, cmd.Name())
	}
}
