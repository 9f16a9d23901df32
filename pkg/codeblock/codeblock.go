// Package codeblock extracts fenced code blocks from assistant output.
package codeblock

import (
	"slices"
	"strings"
)

const fence = "```"

// shellLangs are the language tags treated as shell commands. Untagged
// blocks count as shell too.
var shellLangs = []string{"bash", "sh", "zsh", "shell", "console"}

// Block is one fenced code block.
type Block struct {
	// Lang is the first word after the opening fence, lowercased. Empty
	// for untagged blocks.
	Lang string

	// Code is the block body. Every line ends in a newline.
	Code string

	// Closed is false for a trailing block without a closing fence.
	Closed bool
}

// IsShell reports whether the block holds shell commands.
func (b Block) IsShell() bool {
	return b.Lang == "" || slices.Contains(shellLangs, b.Lang)
}

// Lines returns the non-blank lines of the block.
func (b Block) Lines() []string {
	var out []string
	for line := range strings.Lines(b.Code) {
		line = strings.TrimRight(line, "\r\n")
		if strings.TrimSpace(line) != "" {
			out = append(out, line)
		}
	}
	return out
}

// Extract splits text into fenced blocks. A line starting with ``` opens
// a block and the next such line closes it; text outside fences is
// ignored. An unclosed trailing block is kept with Closed false.
func Extract(text string) []Block {
	var (
		blocks  []Block
		current *Block
		body    strings.Builder
	)
	for line := range strings.Lines(text) {
		line = strings.TrimRight(line, "\r\n")
		isFence := strings.HasPrefix(strings.TrimLeft(line, " \t"), fence)

		switch {
		case current == nil && isFence:
			tag := strings.TrimPrefix(strings.TrimLeft(line, " \t"), fence)
			current = &Block{Lang: language(tag)}
			body.Reset()
		case current != nil && isFence:
			current.Code = body.String()
			current.Closed = true
			blocks = append(blocks, *current)
			current = nil
		case current != nil:
			body.WriteString(line)
			body.WriteByte('\n')
		}
	}
	if current != nil {
		current.Code = body.String()
		blocks = append(blocks, *current)
	}
	return blocks
}

// Commands returns the non-blank lines of all shell blocks in text, in
// order. Each line is one candidate command.
func Commands(text string) []string {
	var out []string
	for _, b := range Extract(text) {
		if b.IsShell() {
			out = append(out, b.Lines()...)
		}
	}
	return out
}

// language normalizes a fence info string: "Bash title=x" becomes "bash".
func language(info string) string {
	fields := strings.Fields(info)
	if len(fields) == 0 {
		return ""
	}
	return strings.ToLower(strings.Trim(fields[0], "{}."))
}
