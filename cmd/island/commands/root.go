package commands

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/koscakluka/ema-island/core/config"
	"github.com/koscakluka/ema-island/internal/logbridge"
)

// Version is the widget version reported by 'island version'.
const Version = "1.0.0"

var (
	// Global flags
	configPath string
	verbose    bool

	globalConfig *config.Config
)

var rootCmd = &cobra.Command{
	Use:   "island",
	Short: "Terminal host for the Dynamic Island chat widget",
	Long: `island - talk, type or try on clothes with the Dynamic Island assistant.

Voice and video sessions listen on the microphone, send what you say to the
backend and play the answer. Capture is paused while an answer plays.

Configuration is read from an optional YAML file and ISLAND_* environment
variables, for example:

  ISLAND_BASE_URL=http://localhost:8080 island voice
  ISLAND_TRANSPORT=socket island voice
  island --config island.yaml render`,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		if verbose {
			handler := slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelDebug})
			slog.SetDefault(slog.New(handler))
			logbridge.Install(handler)
		}
	},
}

// Execute runs the root command.
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "path to a YAML config file")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "verbose output")
}

// getConfig loads the configuration once per invocation.
func getConfig() (*config.Config, error) {
	if globalConfig != nil {
		return globalConfig, nil
	}
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, fmt.Errorf("config not available: %w", err)
	}
	globalConfig = &cfg
	return globalConfig, nil
}
