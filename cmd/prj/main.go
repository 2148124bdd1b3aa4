package main

import (
	"os"

	"github.com/projectorhq/projector/internal/cli"
)

var version = "dev"

func main() {
	os.Exit(cli.Run(os.Args, version))
}
