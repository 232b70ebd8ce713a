package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
	"golang.org/x/text/language"
	"golang.org/x/text/message"

	"github.com/joshuapare/bootalloc/internal/logger"
)

const (
	envPrefix = "BOOTALLOC"
	keyConfig = "config"
)

var (
	// Global flags
	cfgFile  string
	verbose  bool
	quiet    bool
	jsonOut  bool
	logLevel string
	logFile  string

	closeLog = func() error { return nil }

	// numbers formats counters with digit grouping.
	numbers = message.NewPrinter(language.English)
)

var rootCmd = &cobra.Command{
	Use:   "bootalloc",
	Short: "Exercise early-boot region allocators",
	Long: `bootalloc drives the early and lab region allocators outside a kernel.
It replays scripted workloads, optionally over real mapped memory, and reports
capacity counters.

Settings can come from flags, BOOTALLOC_* environment variables, or a config
file given with --config.`,
	Version:       version,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		if err := initializeConfig(cmd); err != nil {
			return err
		}
		return initLogger()
	},
	PersistentPostRunE: func(cmd *cobra.Command, args []string) error {
		return closeLog()
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, keyConfig, "", "Config file (yaml, json or toml)")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Enable verbose output")
	rootCmd.PersistentFlags().
		BoolVarP(&quiet, "quiet", "q", false, "Suppress all output except errors")
	rootCmd.PersistentFlags().BoolVar(&jsonOut, "json", false, "Output in JSON format")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "Enable logging at debug|info|warn|error")
	rootCmd.PersistentFlags().StringVar(&logFile, "log-file", "", "Write logs to this file instead of stderr")
}

func execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// initializeConfig reads in the config file and ENV variables if set.
func initializeConfig(cmd *cobra.Command) error {
	v := viper.New()

	if cfgFile != "" {
		v.SetConfigFile(cfgFile)
		if err := v.ReadInConfig(); err != nil {
			return fmt.Errorf("reading config %s: %w", cfgFile, err)
		}
	}

	// Flags bind to environment variables with the BOOTALLOC prefix,
	// e.g. --page-size binds to BOOTALLOC_PAGE_SIZE.
	v.SetEnvPrefix(envPrefix)
	v.AutomaticEnv()

	return bindFlags(cmd, v)
}

// bindFlags applies config file and environment values to every flag the
// user did not set explicitly.
func bindFlags(cmd *cobra.Command, v *viper.Viper) error {
	var bindFlagErr []error
	cmd.Flags().VisitAll(func(f *pflag.Flag) {
		if f.Name == keyConfig {
			return
		}

		// Environment variables can't have dashes in them, so bind them to their equivalent
		// keys with underscores, e.g. --page-size to BOOTALLOC_PAGE_SIZE
		if strings.Contains(f.Name, "-") {
			envVarSuffix := strings.ToUpper(strings.ReplaceAll(f.Name, "-", "_"))
			if err := v.BindEnv(f.Name, fmt.Sprintf("%s_%s", envPrefix, envVarSuffix)); err != nil {
				bindFlagErr = append(bindFlagErr, fmt.Errorf("binding env to flag %q: %w", f.Name, err))
				return
			}
		}

		if !f.Changed && v.IsSet(f.Name) {
			val := v.Get(f.Name)
			if err := cmd.Flags().Set(f.Name, fmt.Sprintf("%v", val)); err != nil {
				bindFlagErr = append(bindFlagErr, fmt.Errorf("setting flag %q value: %w", f.Name, err))
				return
			}
		}
	})

	return errors.Join(bindFlagErr...)
}

func initLogger() error {
	opts := logger.Options{Enabled: logLevel != "" || logFile != "", File: logFile, JSON: jsonOut}
	level, err := logger.ParseLevel(logLevel)
	if err != nil {
		return err
	}
	opts.Level = level

	closeFn, err := logger.Init(opts)
	if err != nil {
		return fmt.Errorf("initializing logger: %w", err)
	}
	closeLog = closeFn
	return nil
}

// Helper functions for output

// printInfo prints an info message if not in quiet mode
func printInfo(format string, args ...interface{}) {
	if !quiet {
		fmt.Fprintf(os.Stdout, format, args...)
	}
}

// printVerbose prints a verbose message if verbose mode is enabled
func printVerbose(format string, args ...interface{}) {
	if verbose && !quiet {
		fmt.Fprintf(os.Stdout, format, args...)
	}
}

// printJSON outputs data as JSON
func printJSON(v interface{}) error {
	encoder := json.NewEncoder(os.Stdout)
	encoder.SetIndent("", "  ")
	return encoder.Encode(v)
}

// num renders n with digit grouping, e.g. 1,048,576.
func num(n uint64) string {
	return numbers.Sprintf("%d", n)
}
