package commands

import (
	"github.com/spf13/cobra"

	"github.com/koscakluka/ema-island/cmd/island/internal/shell"
	orchestration "github.com/koscakluka/ema-island/core"
	"github.com/koscakluka/ema-island/core/config"
	"github.com/koscakluka/ema-island/core/events"
	"github.com/koscakluka/ema-island/core/exchange"
)

var (
	renderContainerID string
	renderMode        string
)

var renderCmd = &cobra.Command{
	Use:   "render",
	Short: "Mount the island in the terminal",
	Long: `Open the interactive island. Enter starts or stops a voice or video
session, or sends the typed prompt in text mode. Tab switches between the
voice, video and text channels.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := getConfig()
		if err != nil {
			return err
		}

		mode := cfg.Mode
		if renderMode != "" {
			mode = config.Mode(renderMode)
		}

		ctx, stop := sessionContext(cmd)
		defer stop()

		return shell.Render(ctx, shell.RenderConfig{
			ContainerID: renderContainerID,
			Mode:        mode,
			NewSession: func(mode config.Mode, handler events.Handler) (shell.Session, error) {
				session, err := newSession(cfg, mode, orchestration.WithEventHandler(handler))
				if err != nil {
					return nil, err
				}
				return session, nil
			},
			Text: exchange.NewTextClient(cfg.BaseURL),
		})
	},
}

func init() {
	renderCmd.Flags().StringVar(&renderContainerID, "container-id", "island", "title of the island")
	renderCmd.Flags().StringVarP(&renderMode, "mode", "m", "", "initial channel: voice, video or text")

	rootCmd.AddCommand(renderCmd)
}
