package main

import (
	"fmt"
	"os"
	"runtime"
	"strings"

	"github.com/rhuss/palaver/pkg/api"
)

const (
	modeGeneral = "general"
	modeDev     = "dev"
	modeBash    = "bash"
)

const devPrompt = `You are a helpful assistant who is an expert in software development. ` +
	`You are helping the user with their software development tasks. ` +
	`Keep your answers short and concise. ` +
	"Code snippets are formatted using Markdown with a correct language tag. " +
	"User's `uname`: %s"

const devPrimer = "Your responses must be short and concise. Do not include explanations unless asked."

const bashPrompt = `You output only valid and correct shell commands according to the user's prompt. ` +
	"Do not provide formatting such as ``` or explanations. " +
	"If there are multiple commands, combine them into one using && where possible. " +
	"User's `uname`: %s. User's `$SHELL`: %s."

// env describes the host for mode prompts.
type env struct {
	OS    string
	Shell string
}

func hostEnv() env {
	sh := os.Getenv("SHELL")
	if sh == "" {
		sh = "Unknown"
	}
	return env{OS: runtime.GOOS, Shell: sh}
}

// presetTurns returns the turns a new conversation starts with. A non-empty
// systemPrompt replaces the mode's system prompt. newConversation marks
// them with the "preset" metadata key.
func presetTurns(mode, systemPrompt string, e env) ([]api.Turn, error) {
	var turns []api.Turn
	switch mode {
	case modeDev:
		turns = []api.Turn{
			api.NewTextTurn(api.RoleSystem, fmt.Sprintf(devPrompt, e.OS)),
			api.NewTextTurn(api.RoleUser, devPrimer),
			api.NewTextTurn(api.RoleAssistant, "Understood."),
		}
	case modeBash:
		turns = []api.Turn{
			api.NewTextTurn(api.RoleSystem, fmt.Sprintf(bashPrompt, e.OS, e.Shell)),
		}
	case modeGeneral, "":
	default:
		return nil, fmt.Errorf("unknown mode %q (valid: general, dev, bash)", mode)
	}

	if strings.TrimSpace(systemPrompt) == "" {
		return turns, nil
	}
	custom := api.NewTextTurn(api.RoleSystem, systemPrompt)
	if len(turns) > 0 && turns[0].Role == api.RoleSystem {
		turns[0] = custom
	} else {
		turns = append([]api.Turn{custom}, turns...)
	}
	return turns, nil
}

// isPreset reports whether t was seeded by a mode rather than typed.
func isPreset(t api.Turn) bool {
	return t.Metadata["preset"] == true
}

// newConversation starts a conversation seeded with the mode preset.
func newConversation(mode, systemPrompt string) (*api.Conversation, error) {
	turns, err := presetTurns(mode, systemPrompt, hostEnv())
	if err != nil {
		return nil, err
	}
	conv := api.NewConversation()
	for _, t := range turns {
		t.Metadata = map[string]any{"preset": true}
		if err := conv.Append(t); err != nil {
			return nil, err
		}
	}
	return conv, nil
}
