package commands

import (
	"fmt"
	"log/slog"
	"strings"

	"github.com/spf13/cobra"

	"github.com/koscakluka/ema-island/core/exchange"
)

var textCmd = &cobra.Command{
	Use:   "text <prompt>",
	Short: "Send a text prompt and print the answer",
	Long: `Send one prompt to the text endpoint and print the answer.

A failed request prints the usual apology instead of an error.

Example:
  island text "What should I wear to a summer wedding?"`,
	Args: cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := getConfig()
		if err != nil {
			return err
		}

		ctx, stop := sessionContext(cmd)
		defer stop()

		prompt := strings.Join(args, " ")
		answer, err := exchange.NewTextClient(cfg.BaseURL).Submit(ctx, prompt)
		if err != nil {
			slog.Debug("text request failed", "error", err)
			answer = exchange.Apology
		}
		fmt.Fprintln(cmd.OutOrStdout(), answer)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(textCmd)
}
