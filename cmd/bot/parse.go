package main

import (
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"

	"turtlecraft.ai/internal/logo"
	"turtlecraft.ai/internal/sim/scheduler"
)

func newParseCmd() *cobra.Command {
	var limit int
	cmd := &cobra.Command{
		Use:   "parse <text>...",
		Short: "Check a command line and print its canonical form and instructions",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return parseCommand(cmd.OutOrStdout(), strings.Join(args, " "), limit)
		},
	}
	cmd.Flags().IntVar(&limit, "limit", 1000, "maximum number of instructions to print")
	return cmd
}

func parseCommand(w io.Writer, text string, limit int) error {
	l, err := logo.Parse(text)
	if err != nil {
		var se *logo.SyntaxError
		if errors.As(err, &se) {
			fmt.Fprintln(w, se.Context())
		}
		return &exitError{code: 3, err: err}
	}
	fmt.Fprintln(w, l.String())

	steps := scheduler.Flatten(l, limit)
	for i, c := range steps {
		fmt.Fprintf(w, "%4d  %s\n", i+1, c)
	}
	if limit > 0 && l.Size(limit+1) > len(steps) {
		fmt.Fprintf(w, "... truncated at %d instructions\n", limit)
	}
	return nil
}
