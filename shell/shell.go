// Package shell runs the interactive command loop of gdcli. Each line read is split
// into words following shell quoting rules and handed to a dispatcher if the first
// word names a known command.
package shell

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"log/slog"
	"strings"

	"github.com/charmbracelet/lipgloss"
	"github.com/google/shlex"
)

// Dispatcher runs a single command given as words, the first being the command name.
type Dispatcher func(ctx context.Context, args []string) error

// Recorder stores accepted lines.
type Recorder interface {
	AddHistory(ctx context.Context, line string) error
}

var promptStyle = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("12"))

// Options configure a Shell.
type Options struct {
	In       io.Reader
	Out      io.Writer
	Commands []string // names accepted as the first word of a line
	Dispatch Dispatcher
	Prompt   func() string // optional
	History  Recorder      // optional
	Logger   *slog.Logger
}

// Shell is an interactive read, tokenize and dispatch loop.
type Shell struct {
	in       *bufio.Scanner
	out      io.Writer
	commands map[string]bool
	dispatch Dispatcher
	prompt   func() string
	history  Recorder
	log      *slog.Logger
}

// New creates a Shell.
func New(opts Options) *Shell {
	s := &Shell{
		in:       bufio.NewScanner(opts.In),
		out:      opts.Out,
		commands: map[string]bool{},
		dispatch: opts.Dispatch,
		prompt:   opts.Prompt,
		history:  opts.History,
		log:      opts.Logger,
	}
	if s.prompt == nil {
		s.prompt = func() string { return "gooddata> " }
	}
	if s.log == nil {
		s.log = slog.New(slog.DiscardHandler)
	}
	for _, c := range opts.Commands {
		s.commands[c] = true
	}
	return s
}

// Run reads and runs lines until exit or quit is entered, input ends or ctx is done.
// Command failures are reported and the loop carries on.
func (s *Shell) Run(ctx context.Context) error {
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		_, _ = fmt.Fprint(s.out, promptStyle.Render(s.prompt()))
		if !s.in.Scan() {
			_, _ = fmt.Fprintln(s.out)
			return s.in.Err()
		}
		line := strings.TrimSpace(s.in.Text())
		if line == "" {
			continue
		}

		words, err := shlex.Split(line)
		if err != nil {
			_, _ = fmt.Fprintf(s.out, "Error: could not parse line: %v\n", err)
			continue
		}
		if len(words) == 0 {
			continue
		}

		name := words[0]
		if name == "exit" || name == "quit" {
			return nil
		}
		if !s.commands[name] {
			s.log.Debug(fmt.Sprintf("Run: unknown command in line %q", line))
			_, _ = fmt.Fprintf(s.out, "Warning: unknown command %q\n", name)
			continue
		}

		if !mentionsPassword(words) {
			s.record(ctx, line)
		}
		if err := s.dispatch(ctx, words); err != nil {
			_, _ = fmt.Fprintf(s.out, "Error: %v\n", err)
		}
	}
}

// mentionsPassword reports whether a password is given in words, either with the
// password flag or as the second argument to login.
func mentionsPassword(words []string) bool {
	if words[0] == "login" && len(words) > 2 {
		return true
	}
	for _, w := range words[1:] {
		name, _, _ := strings.Cut(strings.TrimLeft(w, "-"), "=")
		if strings.HasPrefix(w, "-") && (name == "p" || name == "password") {
			return true
		}
	}
	return false
}

// record saves line to the history.
func (s *Shell) record(ctx context.Context, line string) {
	if s.history == nil {
		return
	}
	if err := s.history.AddHistory(ctx, line); err != nil {
		s.log.Warn(fmt.Sprintf("record: could not save history: %v", err))
	}
}
