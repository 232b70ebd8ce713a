package main

import (
	"fmt"
	"runtime"
	"runtime/debug"

	"github.com/spf13/cobra"
)

// Set by the release build through -ldflags.
var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version and build information",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return runVersion()
	},
}

func init() {
	rootCmd.AddCommand(versionCmd)
}

// VersionInfo is the version command output.
type VersionInfo struct {
	Version   string `json:"version"`
	Commit    string `json:"commit"`
	Built     string `json:"built"`
	GoVersion string `json:"go_version"`
	Platform  string `json:"platform"`
	Module    string `json:"module,omitempty"`
	ModuleSum string `json:"module_sum,omitempty"`
}

// buildInfo is swapped in tests.
var buildInfo = debug.ReadBuildInfo

// versionInfo merges the linker-stamped values with what the Go toolchain
// recorded in the binary. Stamped values win; build info fills the defaults.
func versionInfo() VersionInfo {
	info := VersionInfo{
		Version:   version,
		Commit:    commit,
		Built:     date,
		GoVersion: runtime.Version(),
		Platform:  runtime.GOOS + "/" + runtime.GOARCH,
	}
	bi, ok := buildInfo()
	if !ok {
		return info
	}
	info.Module = bi.Main.Path
	info.ModuleSum = bi.Main.Sum
	if info.Version == "dev" && bi.Main.Version != "" && bi.Main.Version != "(devel)" {
		info.Version = bi.Main.Version
	}
	for _, s := range bi.Settings {
		switch {
		case s.Key == "vcs.revision" && info.Commit == "none":
			info.Commit = s.Value
		case s.Key == "vcs.time" && info.Built == "unknown":
			info.Built = s.Value
		}
	}
	return info
}

func runVersion() error {
	info := versionInfo()
	if jsonOut {
		return printJSON(info)
	}
	fmt.Printf("bootalloc %s\n", info.Version)
	fmt.Printf("  commit: %s\n", info.Commit)
	fmt.Printf("  built: %s\n", info.Built)
	fmt.Printf("  go: %s %s\n", info.GoVersion, info.Platform)
	if info.Module != "" {
		fmt.Printf("  module: %s\n", info.Module)
	}
	return nil
}
