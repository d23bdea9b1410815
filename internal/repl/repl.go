// Package repl runs an interactive prompt against an interpreter session.
package repl

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/peterh/liner"
	"go.starlark.net/starlark"
	"go.starlark.net/syntax"
)

const (
	promptMain  = ">>> "
	promptCont  = "... "
	historyFile = ".starhost_history"
)

// Evaluator runs one chunk of guest source.
type Evaluator interface {
	Eval(ctx context.Context, src string) (starlark.Value, error)
}

type prompter interface {
	Prompt(prompt string) (string, error)
	AppendHistory(item string)
}

// Run reads chunks from the terminal until EOF or :quit. Values of
// expression chunks are printed to out; failures go to report.
func Run(ctx context.Context, ev Evaluator, out io.Writer, report func(error)) error {
	ln := liner.NewLiner()
	defer ln.Close()
	ln.SetCtrlCAborts(true)

	if home, err := os.UserHomeDir(); err == nil {
		histPath := filepath.Join(home, historyFile)
		if f, err := os.Open(histPath); err == nil {
			_, _ = ln.ReadHistory(f)
			_ = f.Close()
		}
		defer func() {
			if f, err := os.Create(histPath); err == nil {
				_, _ = ln.WriteHistory(f)
				_ = f.Close()
			}
		}()
	}

	return loop(ctx, ln, ev, out, report)
}

func loop(ctx context.Context, p prompter, ev Evaluator, out io.Writer, report func(error)) error {
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		src, err := readChunk(p)
		switch {
		case errors.Is(err, io.EOF):
			fmt.Fprintln(out)
			return nil
		case errors.Is(err, liner.ErrPromptAborted):
			continue
		case err != nil:
			return err
		}

		code := strings.TrimSpace(src)
		if code == "" {
			continue
		}
		if strings.HasPrefix(code, ":") {
			if strings.ToLower(code) == ":quit" {
				return nil
			}
			fmt.Fprintln(out, "unknown command. Type :quit to exit.")
			continue
		}

		p.AppendHistory(strings.ReplaceAll(code, "\n", " "))
		v, err := ev.Eval(ctx, src)
		if err != nil {
			report(err)
			continue
		}
		if v != nil && v != starlark.None {
			fmt.Fprintln(out, v)
		}
	}
}

// readChunk reads lines until they form one complete statement. Malformed
// input is still returned so that evaluating it reports the syntax error.
func readChunk(p prompter) (string, error) {
	var b strings.Builder
	var readErr error
	prompt := promptMain
	readline := func() ([]byte, error) {
		line, err := p.Prompt(prompt)
		prompt = promptCont
		if err != nil {
			readErr = err
			return nil, err
		}
		b.WriteString(line)
		b.WriteByte('\n')
		return []byte(line + "\n"), nil
	}

	if _, err := syntax.ParseCompoundStmt("<stdin>", readline); err != nil && readErr != nil {
		if errors.Is(readErr, io.EOF) && b.Len() > 0 {
			return b.String(), nil
		}
		return "", readErr
	}
	return b.String(), nil
}
