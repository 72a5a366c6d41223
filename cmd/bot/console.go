package main

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/peterh/liner"
	"golang.org/x/term"

	"turtlecraft.ai/internal/logo"
	"turtlecraft.ai/internal/transport/control"
)

const (
	promptMain = "turtle> "
	promptCont = "   ...> "
)

// lineSource yields one line per call and io.EOF at the end of input.
type lineSource func(prompt string) (string, error)

// runConsole feeds lines from in to the actor until EOF, ":quit" or ctx is
// done. A terminal gets line editing and history; anything else is scanned.
func runConsole(ctx context.Context, d control.Driver, in *os.File, out io.Writer, histPath string) error {
	if !term.IsTerminal(int(in.Fd())) {
		return consoleLoop(ctx, d, scannerSource(in), out)
	}

	ln := liner.NewLiner()
	defer ln.Close()
	ln.SetCtrlCAborts(true)
	if f, err := os.Open(histPath); err == nil {
		_, _ = ln.ReadHistory(f)
		_ = f.Close()
	}
	next := func(prompt string) (string, error) {
		line, err := ln.Prompt(prompt)
		if errors.Is(err, liner.ErrPromptAborted) {
			return "", io.EOF
		}
		if err == nil && strings.TrimSpace(line) != "" {
			ln.AppendHistory(line)
		}
		return line, err
	}
	err := consoleLoop(ctx, d, next, out)
	if f, ferr := os.Create(histPath); ferr == nil {
		_, _ = ln.WriteHistory(f)
		_ = f.Close()
	}
	return err
}

func scannerSource(r io.Reader) lineSource {
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 64*1024), 1<<20)
	return func(string) (string, error) {
		if sc.Scan() {
			return sc.Text(), nil
		}
		if err := sc.Err(); err != nil {
			return "", err
		}
		return "", io.EOF
	}
}

func consoleLoop(ctx context.Context, d control.Driver, next lineSource, out io.Writer) error {
	for {
		if ctx.Err() != nil {
			return nil
		}
		text, err := readCommand(next)
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			return err
		}
		text = strings.TrimSpace(text)
		switch {
		case text == "" || strings.HasPrefix(text, "#"):
			continue
		case text == ":quit" || text == ":q":
			return nil
		case text == ":status":
			b, _ := json.MarshalIndent(d.Status(), "", "  ")
			fmt.Fprintln(out, string(b))
			continue
		}

		id, err := d.EnqueueFrom("console", text)
		if err != nil {
			var se *logo.SyntaxError
			if errors.As(err, &se) {
				fmt.Fprintln(out, se.Context())
			}
			fmt.Fprintln(out, err)
			continue
		}
		fmt.Fprintf(out, "queued %s\n", id)
	}
}

// readCommand joins lines while the input so far ends inside an open block.
func readCommand(next lineSource) (string, error) {
	var b strings.Builder
	for {
		prompt := promptMain
		if b.Len() > 0 {
			prompt = promptCont
		}
		line, err := next(prompt)
		if err != nil {
			if b.Len() > 0 && errors.Is(err, io.EOF) {
				return b.String(), nil
			}
			return "", err
		}
		if b.Len() > 0 {
			b.WriteByte(' ')
		}
		b.WriteString(line)

		var se *logo.SyntaxError
		if _, perr := logo.Parse(b.String()); errors.As(perr, &se) && se.Unclosed {
			continue
		}
		return b.String(), nil
	}
}
