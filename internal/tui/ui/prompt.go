package ui

import (
	"sort"
	"strings"

	"github.com/gdamore/tcell/v2"
	"github.com/rivo/tview"
)

// PromptMode selects what a submitted prompt means.
type PromptMode int

const (
	PromptCommand PromptMode = iota
	PromptFilter
)

// Prompt is the input bar for ':' commands and '/' room filters.
type Prompt struct {
	*tview.InputField
	theme    *Theme
	mode     PromptMode
	commands []string
	onSubmit func(mode PromptMode, text string)
	onCancel func()
	onChange func(mode PromptMode, text string)
}

// NewPrompt creates a prompt. commands feeds autocompletion in command mode.
func NewPrompt(theme *Theme, commands ...string) *Prompt {
	input := tview.NewInputField()
	input.SetBorder(true)
	input.SetBorderColor(theme.PromptBorderColor)
	input.SetBackgroundColor(theme.BgColor)
	input.SetFieldBackgroundColor(theme.BgColor)
	input.SetFieldTextColor(theme.FgColor)
	input.SetLabelColor(theme.MenuKeyColor)

	p := &Prompt{InputField: input, theme: theme, commands: append([]string(nil), commands...)}
	sort.Strings(p.commands)

	input.SetAutocompleteFunc(p.Completions)
	input.SetChangedFunc(func(text string) {
		if p.onChange != nil {
			p.onChange(p.mode, text)
		}
	})
	input.SetDoneFunc(func(key tcell.Key) {
		switch key {
		case tcell.KeyEnter:
			text := strings.TrimSpace(p.GetText())
			p.SetText("")
			if p.onSubmit != nil && text != "" {
				p.onSubmit(p.mode, text)
			}
		case tcell.KeyEscape:
			p.SetText("")
			if p.onCancel != nil {
				p.onCancel()
			}
		}
	})
	return p
}

// Completions returns the commands starting with the first word of text.
// Arguments disable completion.
func (p *Prompt) Completions(text string) []string {
	if p.mode != PromptCommand || text == "" || strings.ContainsRune(text, ' ') {
		return nil
	}
	prefix := strings.ToLower(text)
	var out []string
	for _, c := range p.commands {
		if strings.HasPrefix(c, prefix) && c != prefix {
			out = append(out, c)
		}
	}
	return out
}

func (p *Prompt) SetOnSubmit(fn func(mode PromptMode, text string)) { p.onSubmit = fn }

func (p *Prompt) SetOnCancel(fn func()) { p.onCancel = fn }

// SetOnChange registers fn to run on every edit, used for live filtering.
func (p *Prompt) SetOnChange(fn func(mode PromptMode, text string)) { p.onChange = fn }

// Activate clears the prompt and switches it to mode.
func (p *Prompt) Activate(mode PromptMode) {
	p.mode = mode
	p.SetText("")
	switch mode {
	case PromptCommand:
		p.SetLabel(":")
		p.SetTitle(" Command ")
	case PromptFilter:
		p.SetLabel("/")
		p.SetTitle(" Filter rooms ")
	}
}

func (p *Prompt) Mode() PromptMode {
	return p.mode
}
