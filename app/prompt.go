package app

import (
	"fmt"
	"io"
	"os"

	"golang.org/x/term"
)

// Prompter reads secrets from the user.
type Prompter interface {
	IsTerminal() bool
	ReadPassword(prompt string) (string, error)
}

// TermPrompter prompts on a terminal with echo disabled.
type TermPrompter struct {
	in  *os.File
	out io.Writer
}

// NewTermPrompter returns a Prompter reading from in and writing prompts to out.
func NewTermPrompter(in *os.File, out io.Writer) *TermPrompter {
	return &TermPrompter{in: in, out: out}
}

// IsTerminal reports whether input is connected to a terminal.
func (p *TermPrompter) IsTerminal() bool {
	return term.IsTerminal(int(p.in.Fd()))
}

// ReadPassword writes prompt and reads a line without echo.
func (p *TermPrompter) ReadPassword(prompt string) (string, error) {
	_, _ = fmt.Fprint(p.out, prompt)
	b, err := term.ReadPassword(int(p.in.Fd()))
	_, _ = fmt.Fprintln(p.out)
	if err != nil {
		return "", err
	}
	return string(b), nil
}
