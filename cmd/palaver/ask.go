package main

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"github.com/rhuss/palaver/pkg/api"
	"github.com/rhuss/palaver/pkg/codeblock"
	"github.com/rhuss/palaver/pkg/storage"
	"github.com/rhuss/palaver/pkg/tools/builtins/shell"
)

func newAskCmd(o *options) *cobra.Command {
	var (
		conversationID string
		noSave         bool
		blocks         bool
		execute        bool
	)

	cmd := &cobra.Command{
		Use:   "ask [prompt...]",
		Short: "Send a single prompt and print the answer",
		Long: `Send a single prompt and print the answer.

The prompt is taken from the arguments, or from stdin when none are given.
With --conversation the prompt continues a saved conversation.`,
		Example: `  palaver ask how do I list open ports
  palaver ask --mode bash --exec find files larger than 1GB
  git diff | palaver ask --mode dev`,
		RunE: func(cmd *cobra.Command, args []string) error {
			prompt, err := readPrompt(args, o.in)
			if err != nil {
				return err
			}
			choiceIn := o.in
			if execute && len(args) == 0 {
				// stdin was consumed by the prompt.
				tty, err := openTerminal()
				if err != nil {
					return fmt.Errorf("--exec needs a terminal for the command choice when the prompt is read from stdin: %w", err)
				}
				defer tty.Close()
				choiceIn = tty
			}

			ctx := ownerContext(cmd.Context())
			a, err := newApp(ctx, o)
			if err != nil {
				return err
			}
			defer a.Close()

			conv, err := a.conversation(ctx, conversationID)
			if err != nil {
				return err
			}
			sink := newTerminalSink(o.out, o.errOut)
			eng, err := a.newEngine(conv, sink)
			if err != nil {
				return err
			}

			msg, sendErr := eng.Send(ctx, prompt)
			sink.finish()

			if !noSave {
				if err := a.save(ctx, eng.Conversation(), o.errOut); err != nil {
					return errors.Join(sendErr, err)
				}
			}
			if sendErr != nil {
				return sendErr
			}

			if !blocks && !execute {
				return nil
			}
			cmds := suggestedCommands(a.cfg.Assistant.Mode, msg.Turn.Text())
			if blocks {
				for _, c := range cmds {
					fmt.Fprintln(o.out, c)
				}
			}
			if execute {
				return runSelected(ctx, a.cfg.Tools.Shell, o, choiceIn, cmds)
			}
			return nil
		},
	}

	f := cmd.Flags()
	f.StringVar(&conversationID, "conversation", "", "Continue the saved conversation with this ID")
	f.BoolVar(&noSave, "no-save", false, "Do not save the conversation")
	f.BoolVar(&blocks, "blocks", false, "Print the shell commands found in the answer")
	f.BoolVarP(&execute, "exec", "x", false, "Offer to run a command from the answer")
	return cmd
}

// readPrompt joins args, or reads stdin when there are none.
func readPrompt(args []string, in io.Reader) (string, error) {
	prompt := strings.Join(args, " ")
	if prompt == "" && in != nil {
		b, err := io.ReadAll(in)
		if err != nil {
			return "", fmt.Errorf("reading prompt from stdin: %w", err)
		}
		prompt = string(b)
	}
	prompt = strings.TrimSpace(prompt)
	if prompt == "" {
		return "", errors.New("no prompt given")
	}
	return prompt, nil
}

// suggestedCommands returns the runnable commands in an answer. Bash mode
// answers carry no fences, so each line is a command there.
func suggestedCommands(mode, text string) []string {
	if cmds := codeblock.Commands(text); len(cmds) > 0 {
		return cmds
	}
	if mode != modeBash {
		return nil
	}
	var cmds []string
	for line := range strings.Lines(text) {
		if line = strings.TrimSpace(line); line != "" {
			cmds = append(cmds, line)
		}
	}
	return cmds
}

// selectCommand lists cmds with a "None" entry at 0 and reads the choice.
func selectCommand(in io.Reader, out io.Writer, cmds []string) (string, bool, error) {
	fmt.Fprintln(out, "  0) None")
	for i, c := range cmds {
		fmt.Fprintf(out, "  %d) %s\n", i+1, c)
	}
	fmt.Fprint(out, "Run which command? [0]: ")

	line, err := bufio.NewReader(in).ReadString('\n')
	if err != nil && !errors.Is(err, io.EOF) {
		return "", false, err
	}
	line = strings.TrimSpace(line)
	if line == "" {
		return "", false, nil
	}
	n, err := strconv.Atoi(line)
	if err != nil || n < 0 || n > len(cmds) {
		return "", false, fmt.Errorf("invalid choice %q", line)
	}
	if n == 0 {
		return "", false, nil
	}
	return cmds[n-1], true, nil
}

// openTerminal opens the controlling terminal for reading.
var openTerminal = func() (io.ReadCloser, error) {
	return os.Open("/dev/tty")
}

// runSelected lets the user pick one of cmds, read from in, and runs it
// through the shell tool. The user's choice enables the tool for this one call.
func runSelected(ctx context.Context, cfg shell.Config, o *options, in io.Reader, cmds []string) error {
	if len(cmds) == 0 {
		fmt.Fprintln(o.errOut, "no commands in answer")
		return nil
	}
	choice, ok, err := selectCommand(in, o.errOut, cmds)
	if err != nil || !ok {
		return err
	}

	cfg.Enabled = true
	sh, err := shell.New(cfg)
	if err != nil {
		return err
	}
	args, err := json.Marshal(map[string]string{"command": choice})
	if err != nil {
		return err
	}
	result, err := sh.Execute(ctx, api.ToolCall{ID: api.NewCallID(), Name: sh.Name(), Arguments: args})
	if err != nil {
		return err
	}
	fmt.Fprint(o.out, result.Output)
	if !strings.HasSuffix(result.Output, "\n") && result.Output != "" {
		fmt.Fprintln(o.out)
	}
	if result.IsError {
		return fmt.Errorf("command failed: %s", firstLine(lastLine(result.Output)))
	}
	return nil
}

func lastLine(s string) string {
	s = strings.TrimSpace(s)
	if i := strings.LastIndexByte(s, '\n'); i >= 0 {
		return s[i+1:]
	}
	return s
}

// save persists conv and reports its ID when the store outlives the process.
func (a *app) save(ctx context.Context, conv *api.Conversation, errOut io.Writer) error {
	if err := storage.Save(ctx, a.store, conv); err != nil {
		return fmt.Errorf("saving conversation: %w", err)
	}
	if a.cfg.Storage.Type != "memory" && a.cfg.Storage.Type != "" {
		fmt.Fprintf(errOut, "[conversation %s]\n", conv.ID)
	}
	return nil
}
