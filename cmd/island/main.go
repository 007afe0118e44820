// Package main provides the island CLI, a terminal host for the Dynamic
// Island chat widget.
//
// Usage:
//
//	island [flags] <command> [args]
//
// Commands:
//
//	voice    - talk to the assistant and hear its answers
//	video    - talk to the assistant and watch video answers
//	text     - send a single text prompt
//	tryon    - generate a clothing try-on image
//	render   - mount the island in the terminal
//	version  - print the widget version
//
// Configuration:
//
//	Settings come from an optional YAML file (--config) and ISLAND_*
//	environment variables. DEEPGRAM_API_KEY enables the deepgram activity
//	provider.
package main

import (
	"fmt"
	"os"

	"github.com/koscakluka/ema-island/cmd/island/commands"
)

func main() {
	if err := commands.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}
