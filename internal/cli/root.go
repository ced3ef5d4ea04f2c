// Package cli provides the command-line interface for topicrelay.
package cli

import (
	"context"
	"fmt"
	"os"

	"github.com/fatih/color"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/ppiankov/topicrelay/internal/config"
	"github.com/ppiankov/topicrelay/internal/logging"
)

// Version and Commit are set via ldflags at build time.
var (
	Version = "dev"
	Commit  = "none"
)

var (
	configPath string
	apiID      int
	apiHash    string
	verbose    bool
	logJSON    bool
	noColor    bool
)

var rootCmd = &cobra.Command{
	Use:   "topicrelay",
	Short: "Relay new Telegram forum topic messages to Slack or Kafka",
	Long: "topicrelay polls forum topics of Telegram groups, forwards messages it has not seen yet " +
		"to a Slack webhook and/or a Kafka topic, and remembers the last relayed message per topic.\n\n" +
		"Without a subcommand it runs sync.",
	RunE:          syncAction,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRun: func(_ *cobra.Command, _ []string) {
		if noColor {
			color.NoColor = true
		}
	},
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	Run: func(_ *cobra.Command, _ []string) {
		fmt.Printf("topicrelay %s (%s)\n", Version, Commit)
	},
}

func init() {
	pf := rootCmd.PersistentFlags()
	pf.StringVarP(&configPath, "config", "c", config.DefaultConfigFile, "path to config file")
	pf.IntVar(&apiID, "api-id", 0, "Telegram API id (overrides config)")
	pf.StringVar(&apiHash, "api-hash", "", "Telegram API hash (overrides config)")
	pf.BoolVarP(&verbose, "verbose", "v", false, "log every fetched message")
	pf.BoolVar(&noColor, "no-color", false, "disable colored output")
	pf.BoolVar(&logJSON, "log-json", false, "write logs to stderr as JSON")

	addSyncFlags(rootCmd)
	rootCmd.AddCommand(versionCmd)
}

// Execute runs the root command.
func Execute(ctx context.Context) error {
	return rootCmd.ExecuteContext(ctx)
}

func overrides() config.Overrides {
	return config.Overrides{APIID: apiID, APIHash: apiHash}
}

func newLogger() *zap.Logger {
	level := "info"
	if verbose {
		level = "debug"
	}
	return logging.New(logging.Options{Level: level, JSON: logJSON, Output: os.Stderr})
}
