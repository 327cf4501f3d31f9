package commands

import (
	"log/slog"
	"os"

	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

var verbose bool

var rootCmd = &cobra.Command{
	Use:   "canopend",
	Short: "Run a CANopen node or manage its Object Dictionary's EDS file",
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		level := slog.LevelInfo
		if verbose {
			level = slog.LevelDebug
			log.SetLevel(log.DebugLevel)
		}
		slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level})))
	},
}

func init() {
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "enable debug-level logging")
	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(edsCmd)
}

// Execute runs the canopend root command.
func Execute() error {
	return rootCmd.Execute()
}
