package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"text/tabwriter"

	"github.com/nvandessel/contagion/internal/store"
	"github.com/spf13/cobra"
)

func newJournalCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "journal",
		Short: "Inspect the dispatch journal",
		Long: `Read dispatches and diagnostics checks recorded in the SQLite journal.

The journal is written by 'contagion serve' when journal.enabled is true and
by 'contagion simulate --journal'. It lives at journal.path, or
~/.contagion/journal.db by default.

Examples:
  contagion journal list --limit 20
  contagion journal list --origin session-1 --json
  contagion journal list --diagnostics
  contagion journal export --output dispatches.jsonl
  contagion journal import dispatches.jsonl`,
	}

	cmd.AddCommand(
		newJournalListCmd(),
		newJournalExportCmd(),
		newJournalImportCmd(),
	)
	return cmd
}

func newJournalListCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List recent dispatches, newest first",
		RunE: func(cmd *cobra.Command, args []string) error {
			jsonOut, _ := cmd.Flags().GetBool("json")
			limit, _ := cmd.Flags().GetInt("limit")
			origin, _ := cmd.Flags().GetString("origin")
			showDiagnostics, _ := cmd.Flags().GetBool("diagnostics")

			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			j, err := openJournal(cfg)
			if err != nil {
				return err
			}
			defer j.Close()

			out := cmd.OutOrStdout()
			if showDiagnostics {
				recs, err := j.Diagnostics(cmd.Context(), limit)
				if err != nil {
					return err
				}
				if jsonOut {
					return json.NewEncoder(out).Encode(map[string]any{"diagnostics": recs, "count": len(recs)})
				}
				printDiagnostics(out, recs)
				return nil
			}

			recs, err := j.Dispatches(cmd.Context(), store.Filter{Origin: origin, Limit: limit})
			if err != nil {
				return err
			}
			if jsonOut {
				return json.NewEncoder(out).Encode(map[string]any{"dispatches": recs, "count": len(recs)})
			}
			printDispatches(out, recs)
			return nil
		},
	}

	cmd.Flags().Int("limit", store.DefaultLimit, "Maximum records to show")
	cmd.Flags().String("origin", "", "Only dispatches from this session")
	cmd.Flags().Bool("diagnostics", false, "List diagnostics checks instead of dispatches")
	return cmd
}

func newJournalExportCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "export",
		Short: "Export dispatches as JSONL, oldest first",
		RunE: func(cmd *cobra.Command, args []string) error {
			jsonOut, _ := cmd.Flags().GetBool("json")
			output, _ := cmd.Flags().GetString("output")
			origin, _ := cmd.Flags().GetString("origin")

			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			j, err := openJournal(cfg)
			if err != nil {
				return err
			}
			defer j.Close()

			total, err := j.Count(cmd.Context())
			if err != nil {
				return err
			}

			var w io.Writer = cmd.OutOrStdout()
			if output != "" && output != "-" {
				f, err := os.OpenFile(output, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0600)
				if err != nil {
					return fmt.Errorf("failed to create %s: %w", output, err)
				}
				defer f.Close()
				w = f
			}

			n, err := store.ExportJSONL(cmd.Context(), j, store.Filter{Origin: origin, Limit: max(total, 1)}, w)
			if err != nil {
				return fmt.Errorf("export failed after %d records: %w", n, err)
			}

			// Report on stdout only when the records went to a file.
			if w != cmd.OutOrStdout() {
				if jsonOut {
					json.NewEncoder(cmd.OutOrStdout()).Encode(map[string]any{"exported": n, "path": output})
				} else {
					fmt.Fprintf(cmd.OutOrStdout(), "Exported %d dispatches to %s\n", n, output)
				}
			}
			return nil
		},
	}

	cmd.Flags().StringP("output", "o", "", "Output file (default stdout)")
	cmd.Flags().String("origin", "", "Only dispatches from this session")
	return cmd
}

func newJournalImportCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "import <file>",
		Short: "Append dispatches from a JSONL export",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			jsonOut, _ := cmd.Flags().GetBool("json")

			f, err := os.Open(args[0])
			if err != nil {
				return fmt.Errorf("failed to open %s: %w", args[0], err)
			}
			defer f.Close()

			recs, loadErrs, err := store.ReadJSONL(f)
			if err != nil {
				return err
			}

			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			j, err := openJournal(cfg)
			if err != nil {
				return err
			}
			defer j.Close()

			if err := j.AppendDispatches(cmd.Context(), recs); err != nil {
				return fmt.Errorf("import failed: %w", err)
			}

			if jsonOut {
				return json.NewEncoder(cmd.OutOrStdout()).Encode(map[string]any{
					"imported": len(recs),
					"skipped":  loadErrs,
				})
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Imported %d dispatches", len(recs))
			if len(loadErrs) > 0 {
				fmt.Fprintf(cmd.OutOrStdout(), " (%d malformed lines skipped)", len(loadErrs))
			}
			fmt.Fprintln(cmd.OutOrStdout())
			return nil
		},
	}
}

func printDispatches(w io.Writer, recs []store.DispatchRecord) {
	if len(recs) == 0 {
		fmt.Fprintln(w, "No dispatches recorded.")
		return
	}
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "TIME\tORIGIN\tVECTOR\tMETHOD\tPATH\tPRIORITY\tSATURATION\tFLAGS")
	for _, r := range recs {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\t%.3f\t%.3f\t%s\n",
			r.At.Format("15:04:05.000"), r.Origin, r.Vector, r.Method, r.Path,
			r.Priority, r.Saturation, dispatchFlags(r))
	}
	tw.Flush()
	fmt.Fprintf(w, "\n%d dispatches\n", len(recs))
}

func dispatchFlags(r store.DispatchRecord) string {
	flags := ""
	add := func(on bool, s string) {
		if !on {
			return
		}
		if flags != "" {
			flags += ","
		}
		flags += s
	}
	add(r.Guaranteed, "guaranteed")
	add(r.Emergency, "emergency")
	add(r.Rogue, "rogue")
	if flags == "" {
		return "-"
	}
	return flags
}

func printDiagnostics(w io.Writer, recs []store.DiagnosticsRecord) {
	if len(recs) == 0 {
		fmt.Fprintln(w, "No diagnostics checks recorded.")
		return
	}
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "TIME\tINTEGRITY\tDENSITY\tSATURATION\tQUEUE\tDRIFT_MS\tWIDENED\tSTABILIZE")
	for _, r := range recs {
		fmt.Fprintf(tw, "%s\t%.4f\t%.6f\t%.4f\t%d\t%d\t%v\t%v\n",
			r.At.Format("15:04:05.000"), r.IntegrityIndex, r.AvgDensity, r.AvgSaturation,
			r.QueueDepth, r.DriftMillis, r.Widened, r.StabilizationRequested)
	}
	tw.Flush()
}
