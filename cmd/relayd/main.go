// Command relayd is the application entry point: build-time version
// injection, panic recovery, and dispatch into the Cobra command tree
// built by internal/cli.
package main

import (
	"fmt"
	"os"

	"github.com/ChuLiYu/relayd/internal/cli"
)

// Build-time version injection via ldflags, e.g.
// go build -ldflags "-X main.version=1.0.0 -X main.commit=abc123"
var (
	version = "0.1.0"
	commit  = "dev"
	date    = "unknown"
)

func main() {
	defer func() {
		if r := recover(); r != nil {
			fmt.Fprintf(os.Stderr, "Fatal error: %v\n", r)
			os.Exit(1)
		}
	}()

	rootCmd := cli.BuildCLI()
	rootCmd.Version = fmt.Sprintf("%s (commit: %s, built: %s)", version, commit, date)

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
