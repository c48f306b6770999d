package main

import (
	"fmt"
	"os"

	"github.com/Iron-Ham/roster/internal/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		if msg := err.Error(); msg != "" {
			fmt.Fprintln(os.Stderr, "Error:", msg)
		}
		os.Exit(cmd.ExitCode(err))
	}
}
