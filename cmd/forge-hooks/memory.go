package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/spf13/cobra"

	"github.com/entrhq/forge-hooks/pkg/memory"
	"github.com/entrhq/forge-hooks/pkg/ui"
)

func newMemoryCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "memory",
		Short: "Manage the memory store",
		Long:  "Entries live at <memoryRoot>/skills/{skill}/{project}/{file}.md.",
	}
	cmd.AddCommand(
		newMemoryGetCmd(a),
		newMemoryPutCmd(a),
		newMemoryListCmd(a),
		newMemoryPruneCmd(a),
		newMemoryStatusCmd(a),
	)
	return cmd
}

func printJSON(w io.Writer, v any) error {
	b, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	_, err = fmt.Fprintln(w, string(b))
	return err
}

func newMemoryGetCmd(a *app) *cobra.Command {
	var asJSON bool
	cmd := &cobra.Command{
		Use:   "get <skill> <project> <file>",
		Short: "Print a memory entry",
		Args:  cobra.ExactArgs(3),
		RunE: func(cmd *cobra.Command, args []string) error {
			p, err := a.loadPolicy()
			if err != nil {
				return err
			}
			store, err := a.openStore(p)
			if err != nil {
				return err
			}
			e, err := store.MustGet(cmd.Context(), args[0], args[1], args[2])
			if err != nil {
				return err
			}
			if asJSON {
				return printJSON(cmd.OutOrStdout(), e)
			}
			_, err = io.WriteString(cmd.OutOrStdout(), e.Content)
			return err
		},
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "Print the entry with its metadata as JSON")
	return cmd
}

func newMemoryPutCmd(a *app) *cobra.Command {
	var appendMode bool
	cmd := &cobra.Command{
		Use:   "put <skill> <project> <file> [content]",
		Short: "Write a memory entry",
		Long: "Write a memory entry. Content can be a positional arg or piped via stdin. The entry is quality " +
			"checked, stamped with a Last Updated timestamp and pruned to its type's line ceiling.",
		Args: cobra.RangeArgs(3, 4),
		RunE: func(cmd *cobra.Command, args []string) error {
			content, err := readContent(cmd, args[3:])
			if err != nil {
				return err
			}
			p, err := a.loadPolicy()
			if err != nil {
				return err
			}
			store, err := a.openStore(p)
			if err != nil {
				return err
			}
			opts := memory.PutOptions{Mode: memory.Replace}
			if appendMode {
				opts.Mode = memory.Append
			}
			e, err := store.Put(cmd.Context(), args[0], args[1], args[2], content, opts)
			var ve *memory.ValidationError
			if errors.As(err, &ve) {
				return fmt.Errorf("entry rejected:\n  - %s", strings.Join(ve.Reasons, "\n  - "))
			}
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "%s saved %s (%d lines)\n", ui.Mark(true), e.Path, e.SizeLines)
			if n := len(e.PruneMarkers); n > 0 {
				m := e.PruneMarkers[n-1]
				fmt.Fprintln(out, ui.WarnStyle.Render(fmt.Sprintf("  pruned %d lines: %s", m.LinesRemoved, m.Reason)))
			}
			return nil
		},
	}
	cmd.Flags().BoolVarP(&appendMode, "append", "a", false, "Append to the existing entry instead of replacing it")
	return cmd
}

// readContent takes content from args or, when stdin is a pipe, from stdin.
func readContent(cmd *cobra.Command, args []string) (string, error) {
	var content string
	if len(args) > 0 {
		content = strings.Join(args, " ")
	} else {
		in := cmd.InOrStdin()
		if f, ok := in.(*os.File); ok {
			if stat, err := f.Stat(); err == nil && stat.Mode()&os.ModeCharDevice != 0 {
				in = nil
			}
		}
		if in != nil {
			b, err := io.ReadAll(in)
			if err != nil {
				return "", fmt.Errorf("read stdin: %w", err)
			}
			content = string(b)
		}
	}
	if strings.TrimSpace(content) == "" {
		return "", errors.New("content is required (positional arg or stdin)")
	}
	return content, nil
}

func newMemoryListCmd(a *app) *cobra.Command {
	var asJSON bool
	cmd := &cobra.Command{
		Use:   "list <skill> <project>",
		Short: "List a project's entries with size and freshness",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			p, err := a.loadPolicy()
			if err != nil {
				return err
			}
			store, err := a.openStore(p)
			if err != nil {
				return err
			}
			var entries []*memory.Entry
			for e, err := range store.List(cmd.Context(), args[0], args[1]) {
				if err != nil {
					return err
				}
				entries = append(entries, e)
			}
			if asJSON {
				if entries == nil {
					entries = []*memory.Entry{}
				}
				return printJSON(cmd.OutOrStdout(), entries)
			}
			out := cmd.OutOrStdout()
			if len(entries) == 0 {
				fmt.Fprintln(out, ui.MutedStyle.Render("no entries"))
				return nil
			}
			for _, e := range entries {
				state := stateStyle(e.State).Render(fmt.Sprintf("%-8s", e.State))
				note := ""
				if e.Ghost {
					note = ui.WarnStyle.Render(" (no timestamp)")
				}
				fmt.Fprintf(out, "%-32s %s %5d lines  %s%s\n",
					e.FileName, state, e.SizeLines, e.LastUpdatedAt.Format(memory.DateLayout), note)
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "Print entries as JSON")
	return cmd
}

func stateStyle(s memory.State) lipgloss.Style {
	switch s {
	case memory.StateFresh:
		return ui.PassStyle
	case memory.StateAging, memory.StateStale:
		return ui.WarnStyle
	default:
		return ui.FailStyle
	}
}

func newMemoryPruneCmd(a *app) *cobra.Command {
	var dryRun bool
	cmd := &cobra.Command{
		Use:   "prune",
		Short: "Prune every entry over its line ceiling",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			p, err := a.loadPolicy()
			if err != nil {
				return err
			}
			store, err := a.openStore(p)
			if err != nil {
				return err
			}
			pruner := p.Pruner()
			now := time.Now()
			out := cmd.OutOrStdout()

			pruned, failed := 0, 0
			err = store.Walk(cmd.Context(), func(e *memory.Entry) error {
				if over, _ := pruner.Exceeds(e.Content, e.Type); !over {
					return nil
				}
				var res memory.PruneResult
				var err error
				if dryRun {
					res, err = pruner.Prune(e.Content, e.Type, now)
				} else {
					res, err = pruner.PruneFile(e.Path, now)
				}
				if err != nil {
					failed++
					fmt.Fprintf(out, "%s %s: %v\n", ui.Mark(false), e.Path, err)
					return nil
				}
				pruned++
				fmt.Fprintf(out, "%s %s: %d -> %d lines\n", ui.Mark(true), e.Path, res.LinesBefore, res.LinesAfter)
				return nil
			})
			if err != nil {
				return err
			}

			verb := "pruned"
			if dryRun {
				verb = "would prune"
			}
			fmt.Fprintln(out, ui.MutedStyle.Render(fmt.Sprintf("%s %d entries", verb, pruned)))
			if failed > 0 {
				return fmt.Errorf("%d entries could not be pruned", failed)
			}
			return nil
		},
	}
	cmd.Flags().BoolVarP(&dryRun, "dry-run", "n", false, "Report what would be pruned without writing")
	return cmd
}

func newMemoryStatusCmd(a *app) *cobra.Command {
	var asJSON bool
	cmd := &cobra.Command{
		Use:   "status",
		Short: "Summarise freshness, ghost entries and ceiling overruns across the store",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			p, err := a.loadPolicy()
			if err != nil {
				return err
			}
			store, err := a.openStore(p)
			if err != nil {
				return err
			}
			report, err := store.Status(cmd.Context(), time.Now())
			if err != nil {
				return err
			}
			if asJSON {
				return printJSON(cmd.OutOrStdout(), report)
			}

			out := cmd.OutOrStdout()
			fmt.Fprintln(out, ui.HeaderStyle.Render("Memory store "+store.Root()))
			rows := [][2]string{{"entries", strconv.Itoa(report.Total)}}
			for _, s := range []memory.State{memory.StateFresh, memory.StateAging, memory.StateStale, memory.StateArchived} {
				rows = append(rows, [2]string{s.String(), strconv.Itoa(report.Counts[s])})
			}
			rows = append(rows,
				[2]string{"ghosts", strconv.Itoa(len(report.Ghosts))},
				[2]string{"over ceiling", strconv.Itoa(len(report.OverLimit))},
			)
			fmt.Fprintln(out, ui.KeyValues(rows))
			for _, g := range report.Ghosts {
				fmt.Fprintln(out, ui.WarnStyle.Render("  no timestamp: "+g))
			}
			for _, o := range report.OverLimit {
				fmt.Fprintln(out, ui.WarnStyle.Render("  over ceiling: "+o))
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "Print the report as JSON")
	return cmd
}
