package main

import (
	"fmt"
	"os"

	"dashboard/internal/cli"
)

var Version = "dev"

func main() {
	if err := cli.NewRoot(Version).Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}
