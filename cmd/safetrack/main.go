// SafeTrack - personal safety monitor with location capture and inactivity alerts
package main

import "github.com/lcrostarosa/safetrack/internal/cli"

// version is set at build time via -ldflags "-X main.version=..."
var version = ""

func main() {
	if version != "" {
		cli.Version = version
	}
	cli.Execute()
}
