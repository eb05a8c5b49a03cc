package main

import (
	"os"

	"github.com/rcliao/agent-continuity/internal/cli"
)

func main() {
	if err := cli.Execute(); err != nil {
		os.Exit(1)
	}
}
