// Package badgeros implements the CLI commands for the badgeros kernel
// simulator.
package badgeros

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"badgeros/kernel/klog"
)

// Version information set at build time.
var (
	Version   = "0.1.0"
	SpecVer   = "1.0.0"
	BuildTime = "unknown"
)

// Global flags.
var (
	globalLog       string
	globalLogFormat string
	globalDebug     bool
)

// rootCmd is the base command for badgeros.
var rootCmd = &cobra.Command{
	Use:   "badgeros",
	Short: "BadgerOS kernel simulator",
	Long: `badgeros runs an in-process simulation of the BadgerOS preemptive
multitasking kernel: a single bootable instance assembled from this
repository's kernel packages, driven by replaying syscall programs
instead of executing real RISC-V machine code.`,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		setupLogging()
		return nil
	},
}

// Execute runs the root command.
func Execute() error {
	return rootCmd.Execute()
}

// GetContext returns a context that cancels on SIGINT/SIGTERM.
func GetContext() context.Context {
	ctx, _ := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	return ctx
}

func init() {
	rootCmd.PersistentFlags().StringVar(&globalLog, "log", "", "set the log file path")
	rootCmd.PersistentFlags().StringVar(&globalLogFormat, "log-format", "text", "set the format for log output (text or json)")
	rootCmd.PersistentFlags().BoolVar(&globalDebug, "debug", false, "enable debug logging")
}

func setupLogging() {
	output := os.Stderr
	if globalLog != "" {
		f, err := os.OpenFile(globalLog, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0600)
		if err == nil {
			output = f
		}
	}

	logLevel := slog.LevelInfo
	if globalDebug {
		logLevel = slog.LevelDebug
	}

	logger := klog.New(klog.Config{
		Level:  logLevel,
		Format: globalLogFormat,
		Output: output,
	})
	klog.SetDefault(logger)
}
