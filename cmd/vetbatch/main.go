package main

import (
	"os"

	"github.com/pawmark/vetbatch/internal/exitcode"
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(exitcode.UsageError)
	}
}
