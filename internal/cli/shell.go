package cli

import (
	"bufio"
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/peterh/liner"
	flag "github.com/spf13/pflag"
)

// ShellCmd returns the shell command.
func ShellCmd(a *app) *Command {
	return &Command{
		Flags: flag.NewFlagSet("shell", flag.ContinueOnError),
		Usage: "shell",
		Short: "Interactive prompt",
		Long: `Read commands from the terminal and run them against one cache, e.g.
"get groups eng" or "info". Type "help" for commands, "exit" to leave.`,
		Exec: func(ctx context.Context, o *IO, _ []string) error {
			return execShell(ctx, o, a)
		},
	}
}

// prompter is the part of [liner.State] the shell uses.
type prompter interface {
	Prompt(prompt string) (string, error)
	AppendHistory(item string)
	Close() error
}

// linePrompter reads lines from a non-terminal input.
type linePrompter struct {
	sc *bufio.Scanner
}

func (p *linePrompter) Prompt(string) (string, error) {
	if p.sc.Scan() {
		return p.sc.Text(), nil
	}

	if err := p.sc.Err(); err != nil {
		return "", err
	}

	return "", io.EOF
}

func (p *linePrompter) AppendHistory(string) {}

func (p *linePrompter) Close() error { return nil }

// newPrompter uses liner when stdin is the process terminal, and plain line
// reading otherwise, so scripts and tests can pipe commands in.
func newPrompter(stdin io.Reader, history string) (prompter, func()) {
	if f, ok := stdin.(*os.File); ok && f == os.Stdin && liner.TerminalSupported() {
		l := liner.NewLiner()
		l.SetCtrlCAborts(true)

		if f, err := os.Open(history); err == nil {
			_, _ = l.ReadHistory(f)
			_ = f.Close()
		}

		save := func() {
			if f, err := os.Create(history); err == nil {
				_, _ = l.WriteHistory(f)
				_ = f.Close()
			}
		}

		return l, save
	}

	if stdin == nil {
		stdin = strings.NewReader("")
	}

	return &linePrompter{sc: bufio.NewScanner(stdin)}, func() {}
}

func execShell(ctx context.Context, o *IO, a *app) error {
	m, err := a.manager()
	if err != nil {
		return err
	}

	p, saveHistory := newPrompter(a.stdin, filepath.Join(m.Dir(), ".shell_history"))
	defer p.Close()
	defer saveHistory()

	o.Println("recordcache shell (cache " + m.Dir() + "). Type 'help' for commands.")

	for {
		if err := ctx.Err(); err != nil {
			return context.Cause(ctx)
		}

		line, err := p.Prompt("recordcache> ")
		if err != nil {
			if errors.Is(err, liner.ErrPromptAborted) || errors.Is(err, io.EOF) {
				return nil
			}

			return err
		}

		fields := strings.Fields(line)
		if len(fields) == 0 {
			continue
		}

		p.AppendHistory(line)

		switch fields[0] {
		case "exit", "quit", "q":
			return nil
		case "help", "?":
			for _, c := range commands(nil) {
				if c.Name() != "shell" {
					o.Println(c.HelpLine())
				}
			}
		case "shell":
			o.ErrPrintln("error: already in a shell")
		default:
			_ = a.dispatch(ctx, o, fields)
		}
	}
}
