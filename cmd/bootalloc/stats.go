package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/joshuapare/bootalloc/alloc"
	"github.com/joshuapare/bootalloc/internal/format"
	"github.com/joshuapare/bootalloc/internal/scenario"
)

var (
	statsAllocator    string
	statsBase         uint64
	statsSize         uint64
	statsPageSize     uint64
	statsSafetyMargin uint64
	statsAccurate     bool
	statsPages        uint64
)

func init() {
	cmd := newStatsCmd()
	cmd.Flags().StringVar(&statsAllocator, "allocator", scenario.KindEarly, "Allocator to initialize (early|lab)")
	cmd.Flags().Uint64Var(&statsBase, "base", 0x8000_0000, "Region base address")
	cmd.Flags().Uint64Var(&statsSize, "size", 16<<20, "Region size in bytes")
	cmd.Flags().Uint64Var(&statsPageSize, "page-size", format.DefaultPageSize, "Page size in bytes (power of two)")
	cmd.Flags().Uint64Var(&statsSafetyMargin, "safety-margin", format.LabSafetyMargin, "Lab headroom policy in bytes")
	cmd.Flags().BoolVar(&statsAccurate, "accurate-total", false, "Lab: report the region size from total bytes instead of the fixed constant")
	cmd.Flags().Uint64Var(&statsPages, "reserve-pages", 0, "Allocate this many pages before reporting")
	rootCmd.AddCommand(cmd)
}

func newStatsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "stats",
		Short: "Show the capacity table of a freshly initialized allocator",
		Long: `The stats command initializes an allocator over a region and prints
its byte and page counters.

Example:
  bootalloc stats --size 0x1000000
  bootalloc stats --allocator lab --reserve-pages 4 --json`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runStats()
		},
	}
	return cmd
}

// StatsReport is the stats command output.
type StatsReport struct {
	Allocator string         `json:"allocator"`
	PageSize  uint64         `json:"page_size"`
	Base      string         `json:"base"`
	End       string         `json:"end"`
	Pages     string         `json:"pages,omitempty"`
	Stats     scenario.Stats `json:"stats"`
}

func runStats() error {
	a, err := newAllocator(statsAllocator)
	if err != nil {
		return err
	}
	a.Init(alloc.Addr(statsBase), uintptr(statsSize))

	report := StatsReport{
		Allocator: statsAllocator,
		PageSize:  uint64(a.PageSize()),
		Base:      alloc.Addr(statsBase).String(),
		End:       a.Snapshot().End.String(),
	}
	if statsPages > 0 {
		p, err := a.AllocPages(uintptr(statsPages), a.PageSize())
		if err != nil {
			return fmt.Errorf("reserving %d pages: %w", statsPages, err)
		}
		report.Pages = p.String()
	}
	report.Stats = scenario.Stats{
		TotalBytes:     uint64(a.TotalBytes()),
		UsedBytes:      uint64(a.UsedBytes()),
		AvailableBytes: uint64(a.AvailableBytes()),
		TotalPages:     uint64(a.TotalPages()),
		UsedPages:      uint64(a.UsedPages()),
		AvailablePages: uint64(a.AvailablePages()),
		Cursors:        a.Snapshot().String(),
	}

	if jsonOut {
		return printJSON(report)
	}
	printInfo("Allocator: %s (page size %s)\n", report.Allocator, num(report.PageSize))
	printInfo("Region:    %s - %s\n", report.Base, report.End)
	if report.Pages != "" {
		printInfo("Reserved:  %s pages at %s\n", num(statsPages), report.Pages)
	}
	printStats(report.Stats)
	return nil
}

func newAllocator(kind string) (alloc.Allocator, error) {
	switch kind {
	case scenario.KindEarly:
		return alloc.NewEarly(uintptr(statsPageSize))
	case scenario.KindLab:
		cfg := alloc.DefaultLabConfig
		if statsAccurate {
			cfg = alloc.AccurateLabConfig
		}
		cfg.PageSize = uintptr(statsPageSize)
		cfg.SafetyMargin = uintptr(statsSafetyMargin)
		return alloc.NewLab(cfg)
	}
	return nil, fmt.Errorf("unknown allocator %q (want %s or %s)", kind, scenario.KindEarly, scenario.KindLab)
}
