package playback

import (
	"bytes"
	"context"
	"fmt"
	"os/exec"

	"github.com/koscakluka/ema-island/core/transport"
)

// CommandPlayer hands media to an external program such as ffplay. URLs are
// passed as the last argument, raw bytes are piped through stdin as "-".
type CommandPlayer struct {
	name string
	args []string
}

func NewCommandPlayer(name string, args ...string) *CommandPlayer {
	return &CommandPlayer{name: name, args: args}
}

// FFPlayVideo shows a video in its own window and exits when it ends.
func FFPlayVideo() *CommandPlayer {
	return NewCommandPlayer("ffplay", "-autoexit", "-loglevel", "error")
}

// FFPlayAudio plays audio of any format ffmpeg understands without a window.
func FFPlayAudio() *CommandPlayer {
	return NewCommandPlayer("ffplay", "-autoexit", "-nodisp", "-loglevel", "error")
}

func (p *CommandPlayer) Play(ctx context.Context, payload transport.Payload) error {
	args := append([]string{}, p.args...)

	var stdin *bytes.Reader
	switch {
	case payload.URL != "":
		args = append(args, payload.URL)
	case len(payload.Data) > 0:
		args = append(args, "-")
		stdin = bytes.NewReader(payload.Data)
	default:
		return ErrNotMedia
	}

	cmd := exec.CommandContext(ctx, p.name, args...)
	if stdin != nil {
		cmd.Stdin = stdin
	}
	var stderr bytes.Buffer
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return fmt.Errorf("%s exited: %w: %s", p.name, err, bytes.TrimSpace(stderr.Bytes()))
	}
	return nil
}
