package main

import (
	"fmt"
	"os"

	"github.com/vrsandeep/stream-go/internal/cli"
)

var version = "dev"

func main() {
	if err := cli.NewRootCmd(version, cli.DefaultOpener(version)).Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
