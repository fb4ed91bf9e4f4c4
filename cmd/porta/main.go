package main

import (
	"fmt"
	"os"

	"github.com/roach88/porta/internal/cli"
)

func main() {
	if err := cli.NewRootCommand().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "porta:", err)
		os.Exit(cli.GetExitCode(err))
	}
}
