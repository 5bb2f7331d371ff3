package main

import (
	"os"

	"github.com/cepweb/gocep/internal/cli"
)

func main() {
	if err := cli.Execute(); err != nil {
		os.Exit(1)
	}
}
