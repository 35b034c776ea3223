package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"sort"

	"github.com/nvandessel/contagion/internal/constants"
	"github.com/nvandessel/contagion/internal/simulation"
	"github.com/spf13/cobra"
)

func newSimulateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "simulate",
		Short: "Drive the engine with synthetic telemetry and report diagnostics",
		Long: `Run the real propagation engine on a simulated clock with seeded randomness.

Each tick every session may emit telemetry according to the workload, the
scheduler runs one step, and due effects are delivered. The same seed always
produces the same run.

Examples:
  contagion simulate --sessions 4 --ticks 200 --seed 7
  contagion simulate --workload burst --rate 3 --json
  contagion simulate --noise 0.8 --journal`,
		RunE: func(cmd *cobra.Command, args []string) error {
			jsonOut, _ := cmd.Flags().GetBool("json")
			sessions, _ := cmd.Flags().GetInt("sessions")
			ticks, _ := cmd.Flags().GetInt("ticks")
			seed, _ := cmd.Flags().GetInt64("seed")
			workloadName, _ := cmd.Flags().GetString("workload")
			rate, _ := cmd.Flags().GetFloat64("rate")
			noise, _ := cmd.Flags().GetFloat64("noise")
			targeted, _ := cmd.Flags().GetBool("targeted")
			useJournal, _ := cmd.Flags().GetBool("journal")
			perTick, _ := cmd.Flags().GetBool("per-tick")

			if sessions < 1 {
				return fmt.Errorf("--sessions must be at least 1, got %d", sessions)
			}
			if ticks < 0 {
				return fmt.Errorf("--ticks must be non-negative, got %d", ticks)
			}
			if noise < 0 || noise > 1 {
				return fmt.Errorf("--noise must be between 0 and 1, got %v", noise)
			}

			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			if !cmd.Flags().Changed("seed") && cfg.Seed != 0 {
				seed = cfg.Seed
			}

			workload, err := buildWorkload(workloadName, rate)
			if err != nil {
				return err
			}
			if noise > 0 {
				workload = simulation.NoisyWorkload(workload, noise)
			}
			if targeted {
				workload = simulation.TargetedWorkload(workload)
			}

			opts := cfg.Options()
			sc := simulation.Scenario{
				Name:     workloadName,
				Sessions: simulation.SessionNames(sessions),
				Ticks:    ticks,
				Seed:     seed,
				Options:  &opts,
				Workload: workload,
			}
			if useJournal {
				j, err := openJournal(cfg)
				if err != nil {
					return err
				}
				defer j.Close()
				sc.Journal = j
			}

			runner := simulation.NewRunner(newLogger(cfg, os.Stderr))
			runner.KeepTicks = perTick
			res, err := runner.Run(cmd.Context(), sc)
			if err != nil {
				return fmt.Errorf("simulation failed: %w", err)
			}

			if jsonOut {
				enc := json.NewEncoder(cmd.OutOrStdout())
				enc.SetIndent("", "  ")
				return enc.Encode(res)
			}
			printSimulation(cmd.OutOrStdout(), res, ticks)
			return nil
		},
	}

	cmd.Flags().Int("sessions", 4, "Number of simulated sessions")
	cmd.Flags().Int("ticks", 200, "Number of scheduler ticks to run")
	cmd.Flags().Int64("seed", 7, "Random seed (config seed is used when this flag is not set)")
	cmd.Flags().String("workload", "steady", "Telemetry workload: steady or burst")
	cmd.Flags().Float64("rate", 0.5, "steady: emit probability per session per tick; burst: events per session per tick")
	cmd.Flags().Float64("noise", 0, "Noise ratio attached to every injection (0-1)")
	cmd.Flags().Bool("targeted", false, "Point each session's events at the next session")
	cmd.Flags().Bool("journal", false, "Record dispatches and diagnostics in the SQLite journal")
	cmd.Flags().Bool("per-tick", false, "Include a snapshot per tick in JSON output")
	return cmd
}

func buildWorkload(name string, rate float64) (simulation.Workload, error) {
	switch name {
	case "steady":
		if rate < 0 || rate > 1 {
			return nil, fmt.Errorf("steady --rate must be between 0 and 1, got %v", rate)
		}
		return simulation.SteadyWorkload(rate), nil
	case "burst":
		n := int(rate)
		if n < 1 {
			return nil, fmt.Errorf("burst --rate must be at least 1 event per tick, got %v", rate)
		}
		return simulation.BurstWorkload(0.5, n), nil
	default:
		return nil, fmt.Errorf("unknown workload %q (valid: steady, burst)", name)
	}
}

func printSimulation(w io.Writer, res *simulation.Result, ticks int) {
	f := res.Final
	c := f.Counters

	fmt.Fprintf(w, "Simulation: %s (%d sessions, %d ticks, seed %d)\n", res.Name, len(res.Sessions), ticks, res.Seed)
	fmt.Fprintln(w)
	fmt.Fprintln(w, "Field:")
	fmt.Fprintf(w, "  integrity index:   %.4f\n", f.IntegrityIndex)
	fmt.Fprintf(w, "  average density:   %.6f\n", f.AvgDensity)
	fmt.Fprintf(w, "  avg saturation:    %.4f\n", f.AvgSaturation)
	fmt.Fprintf(w, "  widening:          %.2f\n", f.Widening)
	fmt.Fprintln(w)
	fmt.Fprintln(w, "Scheduler:")
	fmt.Fprintf(w, "  injected:          %d\n", res.Injected)
	fmt.Fprintf(w, "  normal:            %d\n", c.Normal)
	fmt.Fprintf(w, "  guaranteed:        %d (chain exhausted %d, emergency %d, stabilized %d, overflow %d)\n",
		c.Guaranteed, c.ChainExhausted, c.Emergency, c.Stabilized, c.QueueOverflow)
	fmt.Fprintf(w, "  discarded:         %d\n", c.Discarded)
	fmt.Fprintf(w, "  pending:           %d\n", f.ActiveQueueDepth)
	fmt.Fprintf(w, "  stabilizations:    %d\n", c.Stabilizations)
	fmt.Fprintf(w, "  active vectors:    %d\n", f.ActiveVectorCount)
	fmt.Fprintln(w)
	fmt.Fprintf(w, "Effects: %d delivered, %d pending\n", f.DeliveredEffects, f.PendingEffects)
	for _, cat := range []constants.EffectCategory{
		constants.EffectFlicker, constants.EffectDistortion, constants.EffectEcho,
		constants.EffectRupture, constants.EffectStatic,
	} {
		if n := res.Effects[cat]; n > 0 {
			fmt.Fprintf(w, "  %-11s %d\n", cat+":", n)
		}
	}

	if len(res.Received) > 0 {
		fmt.Fprintln(w)
		fmt.Fprintln(w, "Received by session:")
		ids := make([]string, 0, len(res.Received))
		for id := range res.Received {
			ids = append(ids, id)
		}
		sort.Strings(ids)
		for _, id := range ids {
			fmt.Fprintf(w, "  %-12s %d\n", id, res.Received[id])
		}
	}
}
