package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/barekit/ragchat/pkg/app"
	"github.com/barekit/ragchat/pkg/chat"
	"github.com/barekit/ragchat/pkg/config"
	"github.com/barekit/ragchat/pkg/llm"
	"github.com/spf13/cobra"
)

const replHelp = `Commands:
  /new [name]     start a new session
  /sessions       list sessions
  /switch <id>    continue another session
  /rename <name>  rename the current session
  /delete         delete the current session
  exit            quit`

func newChatCmd(load func() (*config.Config, error)) *cobra.Command {
	var sessionID string
	cmd := &cobra.Command{
		Use:   "chat",
		Short: "Chat interactively in the terminal",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := load()
			if err != nil {
				return err
			}
			logger, err := app.NewLogger(config.LogConfig{Level: "warn", Format: cfg.Log.Format}, os.Stderr)
			if err != nil {
				return err
			}
			a, err := app.Build(cmd.Context(), cfg, logger)
			if err != nil {
				return err
			}
			defer a.Close()

			r := &repl{app: a, sessionID: sessionID, in: cmd.InOrStdin(), out: cmd.OutOrStdout()}
			return r.run(cmd.Context())
		},
	}
	cmd.Flags().StringVarP(&sessionID, "session", "s", "", "session to continue (default: most recent)")
	return cmd
}

type repl struct {
	app       *app.App
	sessionID string
	in        io.Reader
	out       io.Writer
}

func (r *repl) run(ctx context.Context) error {
	fmt.Fprintln(r.out, replHelp)
	reader := bufio.NewReader(r.in)

	for {
		fmt.Fprint(r.out, "\nYou: ")
		input, err := reader.ReadString('\n')
		if err != nil && !errors.Is(err, io.EOF) {
			return err
		}
		eof := errors.Is(err, io.EOF)
		input = strings.TrimSpace(input)

		switch {
		case input == "exit" || (eof && input == ""):
			return nil
		case input == "":
			continue
		case strings.HasPrefix(input, "/"):
			if err := r.command(ctx, input); err != nil {
				fmt.Fprintf(r.out, "Error: %v\n", err)
			}
		default:
			r.send(ctx, input)
		}
		if eof {
			return nil
		}
	}
}

func (r *repl) send(ctx context.Context, input string) {
	res, err := r.app.Orchestrator.Turn(ctx, r.sessionID, input)
	if err != nil {
		var ce *llm.CompletionError
		switch {
		case errors.As(err, &ce):
			fmt.Fprintf(r.out, "Error: %s\n", ce.UserMessage())
			return
		case errors.Is(err, chat.ErrTimeout):
			fmt.Fprintln(r.out, "Error: the reply took too long, please try again")
			return
		}
		fmt.Fprintf(r.out, "Error: %v\n", err)
		return
	}
	r.sessionID = res.Session.ID

	if n := len(res.Context()); n > 0 {
		fmt.Fprintf(r.out, "(using %d messages from other conversations)\n", n)
	}
	fmt.Fprintf(r.out, "Assistant: %s\n", res.AssistantMessage.Content)
	for _, w := range res.Warnings() {
		fmt.Fprintf(r.out, "warning: %s\n", w)
	}
}

func (r *repl) command(ctx context.Context, input string) error {
	name, arg, _ := strings.Cut(input, " ")
	arg = strings.TrimSpace(arg)
	sessions := r.app.Sessions

	switch name {
	case "/new":
		sess, err := sessions.Create(ctx, arg)
		if err != nil {
			return err
		}
		r.sessionID = sess.ID
		fmt.Fprintf(r.out, "Started %q (%s)\n", sess.Name, sess.ID)
	case "/sessions":
		list, err := sessions.List(ctx)
		if err != nil {
			return err
		}
		for _, s := range list {
			marker := " "
			if s.ID == r.sessionID {
				marker = "*"
			}
			fmt.Fprintf(r.out, "%s %s  %s\n", marker, s.ID, s.Name)
		}
	case "/switch":
		sess, err := sessions.Get(ctx, arg)
		if err != nil {
			return err
		}
		r.sessionID = sess.ID
		msgs, err := sessions.Messages(ctx, sess.ID)
		if err != nil {
			return err
		}
		fmt.Fprintf(r.out, "Switched to %q (%d messages)\n", sess.Name, len(msgs))
	case "/rename":
		if r.sessionID == "" {
			return errors.New("no current session")
		}
		sess, err := sessions.Rename(ctx, r.sessionID, arg)
		if err != nil {
			return err
		}
		fmt.Fprintf(r.out, "Renamed to %q\n", sess.Name)
	case "/delete":
		if r.sessionID == "" {
			return errors.New("no current session")
		}
		if err := sessions.Delete(ctx, r.sessionID); err != nil {
			return err
		}
		fmt.Fprintln(r.out, "Session deleted")
		r.sessionID = ""
	default:
		fmt.Fprintln(r.out, replHelp)
	}
	return nil
}
