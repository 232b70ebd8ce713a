package main

import (
	"context"
	"strings"

	"github.com/spf13/cobra"

	"github.com/joshuapare/bootalloc/internal/scenario"
)

var (
	cmpFrom    string
	cmpTo      string
	cmpContext int
)

func init() {
	cmd := newCompareCmd()
	cmd.Flags().StringVar(&cmpFrom, "from", scenario.KindEarly, "First allocator (early|lab)")
	cmd.Flags().StringVar(&cmpTo, "to", scenario.KindLab, "Second allocator (early|lab)")
	cmd.Flags().IntVar(&cmpContext, "context", 3, "Lines of context around each difference")
	rootCmd.AddCommand(cmd)
}

func newCompareCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "compare <scenario.yaml>",
		Short: "Diff how two allocators handle the same workload",
		Long: `The compare command replays one script against two allocators,
ignoring the script's expectations, and prints a unified diff of the
granted addresses, errors, and final counters.

Example:
  bootalloc compare boot.yaml
  bootalloc compare boot.yaml --from lab --to early --context 1`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runCompare(cmd.Context(), args)
		},
	}
	return cmd
}

func runCompare(ctx context.Context, args []string) error {
	if ctx == nil {
		ctx = context.Background()
	}
	s, err := scenario.Load(ctx, args[0])
	if err != nil {
		return err
	}

	c, err := scenario.Compare(ctx, s, cmpFrom, cmpTo, cmpContext)
	if err != nil {
		return err
	}

	if jsonOut {
		return printJSON(c)
	}
	if c.Same() {
		printInfo("%s and %s behave identically\n", c.From, c.To)
		return nil
	}
	printDiff(c.Diff)
	printVerbose("%d lines differ in %s, %d in %s\n", c.Removed, c.From, c.Added, c.To)
	return nil
}

func printDiff(diff string) {
	for _, line := range strings.SplitAfter(diff, "\n") {
		if line == "" {
			continue
		}
		text := strings.TrimSuffix(line, "\n")
		switch {
		case strings.HasPrefix(text, "@@"):
			text = diffHunkStyle.Render(text)
		case strings.HasPrefix(text, "+") && !strings.HasPrefix(text, "+++"):
			text = diffAddStyle.Render(text)
		case strings.HasPrefix(text, "-") && !strings.HasPrefix(text, "---"):
			text = diffDelStyle.Render(text)
		}
		printInfo("%s\n", text)
	}
}
