package main

import (
	"fmt"
	"os"

	_ "go.uber.org/automaxprocs"

	"github.com/atharva-sardar02/ad-mint-ai-sub002/internal/cli"
)

// Version is set at build time via ldflags.
var Version = "dev"

func main() {
	cli.SetVersion(Version)
	if err := cli.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
