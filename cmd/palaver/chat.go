package main

import (
	"bufio"
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"

	"github.com/rhuss/palaver/pkg/api"
	"github.com/rhuss/palaver/pkg/engine"
)

const chatHelp = `Commands:
  /new    start a new conversation
  /id     print the conversation ID
  /help   show this help
  /exit   leave (also Ctrl-D)`

func newChatCmd(o *options) *cobra.Command {
	var (
		conversationID string
		noSave         bool
	)

	cmd := &cobra.Command{
		Use:   "chat",
		Short: "Start an interactive conversation",
		Long: `Start an interactive conversation. Each line is sent as one message.

` + chatHelp,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := ownerContext(cmd.Context())
			a, err := newApp(ctx, o)
			if err != nil {
				return err
			}
			defer a.Close()

			sink := newTerminalSink(o.out, o.errOut)
			start := func(id string) (*engine.Engine, error) {
				conv, err := a.conversation(ctx, id)
				if err != nil {
					return nil, err
				}
				return a.newEngine(conv, sink)
			}
			eng, err := start(conversationID)
			if err != nil {
				return err
			}
			if conversationID != "" {
				printTranscript(o, eng.Conversation())
			}

			scanner := bufio.NewScanner(o.in)
			scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
			for {
				fmt.Fprint(o.errOut, "> ")
				if !scanner.Scan() {
					fmt.Fprintln(o.errOut)
					return scanner.Err()
				}
				line := strings.TrimSpace(scanner.Text())
				switch line {
				case "":
					continue
				case "/exit", "/quit":
					return nil
				case "/help":
					fmt.Fprintln(o.errOut, chatHelp)
					continue
				case "/id":
					fmt.Fprintln(o.errOut, eng.Conversation().ID)
					continue
				case "/new":
					if eng, err = start(""); err != nil {
						return err
					}
					fmt.Fprintln(o.errOut, "[new conversation]")
					continue
				}

				_, sendErr := eng.Send(ctx, line)
				sink.finish()
				if sendErr != nil {
					if ctx.Err() != nil {
						return sendErr
					}
					// The engine accepts new input after a failure.
					fmt.Fprintf(o.errOut, "error: %v\n", sendErr)
				}
				if !noSave {
					if err := a.save(ctx, eng.Conversation(), io.Discard); err != nil {
						fmt.Fprintf(o.errOut, "error: %v\n", err)
					}
				}
			}
		},
	}

	f := cmd.Flags()
	f.StringVar(&conversationID, "conversation", "", "Resume the saved conversation with this ID")
	f.BoolVar(&noSave, "no-save", false, "Do not save the conversation")
	return cmd
}

// printTranscript replays the visible turns of a resumed conversation.
func printTranscript(o *options, conv *api.Conversation) {
	for _, t := range conv.Turns {
		if isPreset(t) {
			continue
		}
		text := strings.TrimSpace(t.Text())
		switch {
		case t.Role == api.RoleUser && text != "":
			fmt.Fprintf(o.out, "> %s\n", text)
		case t.Role == api.RoleAssistant && text != "":
			fmt.Fprintln(o.out, text)
		}
	}
}
