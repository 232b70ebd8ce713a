package main

import (
	"context"
	"errors"
	"fmt"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/joshuapare/bootalloc/internal/logger"
	"github.com/joshuapare/bootalloc/internal/scenario"
)

var (
	simAllocator string
	simBacked    bool
)

func init() {
	cmd := newSimulateCmd()
	cmd.Flags().StringVar(&simAllocator, "allocator", "", "Override the script's allocator (early|lab)")
	cmd.Flags().BoolVar(&simBacked, "backed", false, "Run over mapped memory and verify grants never overlap")
	rootCmd.AddCommand(cmd)
}

func newSimulateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "simulate <scenario.yaml>...",
		Short: "Replay scripted allocator workloads",
		Long: `The simulate command replays YAML workloads against an allocator and
fails if any step's outcome differs from what the script expects.

Scripts may be local paths or storage URLs (file://, mem://, http://).
Several scripts run in parallel, each on its own allocator; results are
reported in argument order.

Example:
  bootalloc simulate boot.yaml
  bootalloc simulate boot.yaml --allocator lab --backed
  bootalloc simulate early.yaml lab.yaml --json`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runSimulate(cmd.Context(), args)
		},
	}
	return cmd
}

// simulation is the outcome of one script.
type simulation struct {
	path   string
	steps  int
	result *scenario.Result
	err    error
}

func runSimulate(ctx context.Context, args []string) error {
	if ctx == nil {
		ctx = context.Background()
	}

	sims := make([]simulation, len(args))
	g, gctx := errgroup.WithContext(ctx)
	for i, path := range args {
		g.Go(func() error {
			printVerbose("Loading scenario: %s\n", path)
			s, err := scenario.Load(gctx, path)
			if err != nil {
				return err
			}
			res, runErr := scenario.Run(gctx, s, scenario.Options{Allocator: simAllocator, Backed: simBacked})
			if res == nil {
				return runErr
			}
			logger.Info("scenario finished", "run", res.RunID, "path", path, "allocator", res.Allocator,
				"steps", len(res.Steps), "ok", runErr == nil)
			sims[i] = simulation{path: path, steps: len(s.Steps), result: res, err: runErr}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}

	var errs []error
	for _, sim := range sims {
		if sim.err != nil {
			errs = append(errs, fmt.Errorf("simulate %s: %w", sim.path, sim.err))
		}
	}
	runErr := errors.Join(errs...)

	if jsonOut {
		if err := printSimulationsJSON(sims); err != nil {
			return err
		}
		return runErr
	}

	for _, sim := range sims {
		printSimulation(sim, len(sims) > 1)
	}
	if runErr != nil {
		return runErr
	}
	printInfo("%s\n", okStyle.Render("OK"))
	return nil
}

type simulationJSON struct {
	*scenario.Result
	Path  string `json:"path"`
	Error string `json:"error,omitempty"`
}

// printSimulationsJSON prints one object for a single script and an array otherwise.
func printSimulationsJSON(sims []simulation) error {
	out := make([]simulationJSON, 0, len(sims))
	for _, sim := range sims {
		item := simulationJSON{Result: sim.result, Path: sim.path}
		if sim.err != nil {
			item.Error = sim.err.Error()
		}
		out = append(out, item)
	}
	if len(out) == 1 {
		return printJSON(out[0])
	}
	return printJSON(out)
}

func printSimulation(sim simulation, header bool) {
	res := sim.result
	if header {
		printInfo("== %s\n", sim.path)
	}
	printInfo("Allocator: %s", res.Allocator)
	if res.Backed {
		printInfo(" (backed)")
	}
	printInfo("\n")
	printVerbose("Run:       %s\n", res.RunID)
	for _, st := range res.Steps {
		printVerbose("%4d  %-14s %-10s %s\n", st.Index, st.Op, st.Name, describeStep(st))
	}
	printInfo("Steps:     %d of %d\n", len(res.Steps), sim.steps)
	printStats(res.Final)
	if sim.err != nil {
		printInfo("%s    %v\n", failStyle.Render("FAILED:"), sim.err)
	}
}

func describeStep(st scenario.StepResult) string {
	switch {
	case st.Panic != "":
		return "panic: " + st.Panic
	case st.Err != "":
		return "error: " + st.Err
	case st.Addr != "":
		return "-> " + st.Addr
	}
	return ""
}

func printStats(s scenario.Stats) {
	printInfo("%s\n", tableHeaderStyle.Render(fmt.Sprintf("%-10s %14s %14s %14s", "", "total", "used", "available")))
	printInfo("%-10s %14s %14s %14s\n", "bytes", num(s.TotalBytes), num(s.UsedBytes), num(s.AvailableBytes))
	printInfo("%-10s %14s %14s %14s\n", "pages", num(s.TotalPages), num(s.UsedPages), num(s.AvailablePages))
	printVerbose("Cursors:   %s\n", s.Cursors)
}
