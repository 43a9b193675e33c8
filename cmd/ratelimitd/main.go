package main

import (
	"fmt"
	"os"

	"github.com/manenim/resilient-ratelimit/internal/cmd"
)

var version = "dev"

func main() {
	cmd.Version = version
	if err := cmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}
