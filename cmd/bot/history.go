package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"turtlecraft.ai/internal/persistence/indexdb"
)

func newHistoryCmd() *cobra.Command {
	var (
		dataDir string
		limit   int
		id      string
	)
	cmd := &cobra.Command{
		Use:   "history",
		Short: "List recently received commands from the sqlite index",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			path := filepath.Join(dataDir, "index.sqlite")
			if _, err := os.Stat(path); err != nil {
				return fmt.Errorf("no index at %s: %w", path, err)
			}
			db, err := indexdb.OpenQuery(path)
			if err != nil {
				return err
			}
			defer db.Close()

			ctx, cancel := context.WithTimeout(cmd.Context(), 10*time.Second)
			defer cancel()
			if id != "" {
				steps, err := indexdb.Instructions(ctx, db, id)
				if err != nil {
					return err
				}
				printInstructions(cmd.OutOrStdout(), steps)
				return nil
			}
			rows, err := indexdb.RecentCommands(ctx, db, limit)
			if err != nil {
				return err
			}
			printCommands(cmd.OutOrStdout(), rows, time.Now())
			return nil
		},
	}
	cmd.Flags().StringVar(&dataDir, "data", "./data", "data directory holding index.sqlite")
	cmd.Flags().IntVarP(&limit, "limit", "n", 20, "number of commands to list")
	cmd.Flags().StringVar(&id, "id", "", "show the instructions of one command")
	return cmd
}

func printCommands(w io.Writer, rows []indexdb.CommandRow, now time.Time) {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "WHEN\tSTATUS\tSOURCE\tSTEPS\tID\tTEXT")
	for _, r := range rows {
		text := r.Text
		if r.Error != "" {
			text += "  (" + r.Error + ")"
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\t%s\n",
			humanize.RelTime(r.ReceivedAt, now, "ago", "from now"),
			r.Status, r.Source, humanize.Comma(int64(r.Instructions)), shortID(r.ID), strings.ReplaceAll(text, "\t", " "))
	}
	_ = tw.Flush()
}

func printInstructions(w io.Writer, steps []indexdb.InstructionRow) {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "SEQ\tOP\tARG\tOK\tTICKS")
	for _, s := range steps {
		fmt.Fprintf(tw, "%d\t%s\t%g\t%t\t%d\n", s.Seq, s.Op, s.Arg, s.OK, s.Ticks)
	}
	_ = tw.Flush()
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}
