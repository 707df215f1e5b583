// vidgen extends a still image into a long video, section by section.
//
// Usage:
//
//	vidgen generate --image start.png --prompt "The girl dances" --duration 10
//	vidgen serve --addr :8080
package main

import (
	"os"

	"video-extender/cmd/vidgen/commands"
)

func main() {
	if err := commands.Execute(); err != nil {
		os.Exit(1)
	}
}
