package main

import (
	"os"

	"github.com/pthm-cable/meadow/cli"
)

func main() {
	if err := cli.Execute(); err != nil {
		os.Exit(1)
	}
}
