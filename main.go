package main

import (
	"context"
	"os"

	"github.com/madello/paarvai/cmd"
	"github.com/madello/paarvai/internal/conf"
)

// buildDate and version are set with -ldflags at build time.
var (
	buildDate = "unknown"
	version   = "dev"
)

func main() {
	var settings conf.Settings

	rootCmd := cmd.RootCommand(&settings, cmd.BuildInfo{Version: version, BuildDate: buildDate})
	if err := cmd.Execute(context.Background(), rootCmd); err != nil {
		os.Exit(1)
	}
}
