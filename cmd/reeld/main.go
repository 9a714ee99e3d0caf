package main

import (
	"context"
	"log/slog"
	"os"

	"github.com/spf13/cobra"
)

const version = "v0.1.0"

var debug bool

var rootCmd = &cobra.Command{
	Use:           "reeld",
	Short:         "Feed playback coordinator",
	Long:          `reeld keeps at most one feed item playing, pre-warms its neighbours and publishes item state over MQTT.`,
	Version:       version,
	SilenceUsage:  true,
	SilenceErrors: true,
	Run: func(cmd *cobra.Command, args []string) {
		cmd.Help()
	},
}

func init() {
	rootCmd.PersistentFlags().BoolVar(&debug, "debug", false, "Enable debug logging")
	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(simulateCmd)
}

func main() {
	if err := rootCmd.ExecuteContext(context.Background()); err != nil {
		slog.Error("reeld failed", "error", err)
		os.Exit(1)
	}
}

func logLevel() slog.Level {
	if debug {
		return slog.LevelDebug
	}
	return slog.LevelInfo
}
