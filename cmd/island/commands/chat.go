package commands

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	orchestration "github.com/koscakluka/ema-island/core"
	"github.com/koscakluka/ema-island/core/config"
	"github.com/koscakluka/ema-island/core/events"
)

var voiceCmd = &cobra.Command{
	Use:   "voice",
	Short: "Talk to the assistant and hear its answers",
	Long: `Start a voice session. The microphone opens once; every utterance is sent
to the backend and the spoken answer is played before listening again.

Press Ctrl+C to end the session.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return runChat(cmd, config.ModeVoice)
	},
}

var videoCmd = &cobra.Command{
	Use:   "video",
	Short: "Talk to the assistant and watch video answers",
	Long: `Start a video session. Utterances are sent to the video endpoint and the
returned clip is shown with the configured media command (ffplay by default).

Press Ctrl+C to end the session.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return runChat(cmd, config.ModeVideo)
	},
}

func init() {
	rootCmd.AddCommand(voiceCmd)
	rootCmd.AddCommand(videoCmd)
}

func runChat(cmd *cobra.Command, mode config.Mode) error {
	cfg, err := getConfig()
	if err != nil {
		return err
	}

	ctx, stop := sessionContext(cmd)
	defer stop()

	out := cmd.OutOrStdout()
	session, err := newSession(cfg, mode,
		orchestration.WithEventHandler(func(envelope events.Envelope) { printEvent(out, envelope) }),
	)
	if err != nil {
		return err
	}

	if err := session.Start(ctx); err != nil {
		return fmt.Errorf("failed to start %s session: %w", mode, err)
	}
	fmt.Fprintf(out, "Listening (session %s). Press Ctrl+C to stop.\n", session.SessionID())

	select {
	case <-ctx.Done():
		session.Stop()
		<-session.Done()
		return nil
	case <-session.Done():
		return session.Err()
	}
}

func printEvent(w io.Writer, envelope events.Envelope) {
	switch event := envelope.Event.(type) {
	case events.SessionStateChanged:
		if verbose {
			fmt.Fprintf(w, "[%s] %s -> %s\n", stateLabel(event.To), event.From, event.To)
		} else {
			fmt.Fprintf(w, "[%s]\n", stateLabel(event.To))
		}
	case events.AssistantText:
		fmt.Fprintf(w, "assistant: %s\n", event.Text)
	case events.Reconnecting:
		fmt.Fprintf(w, "connection lost, retrying in %s (attempt %d)\n", event.Delay, event.Attempt)
	case events.UploadFailed:
		fmt.Fprintf(w, "could not send audio: %v\n", event.Err)
	case events.PlaybackEnded:
		if event.Err != nil {
			fmt.Fprintf(w, "playback failed: %v\n", event.Err)
		}
	case events.SessionStopped:
		if event.Err != nil {
			fmt.Fprintf(w, "session ended: %v\n", event.Err)
		}
	default:
		if verbose {
			fmt.Fprintf(w, "#%d %s\n", envelope.Sequence, envelope.Kind())
		}
	}
}

func stateLabel(state string) string {
	switch orchestration.SessionState(state) {
	case orchestration.StateCapturing:
		return "listening"
	case orchestration.StateAwaitingResponse:
		return "thinking"
	case orchestration.StatePlaying:
		return "speaking"
	case orchestration.StateReconnecting:
		return "reconnecting"
	case orchestration.StateStopped:
		return "stopped"
	}
	return state
}

// sessionContext is cancelled on the first interrupt.
func sessionContext(cmd *cobra.Command) (context.Context, context.CancelFunc) {
	return signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
}
