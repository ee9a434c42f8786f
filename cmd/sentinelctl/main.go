package main

import (
	"errors"
	"os"

	"github.com/af-corp/sentinel-gate/internal/cli"
)

var version = "dev"

func main() {
	cli.Version = version
	if err := cli.Execute(); err != nil {
		if errors.Is(err, cli.ErrFlagged) {
			os.Exit(2)
		}
		os.Exit(1)
	}
}
