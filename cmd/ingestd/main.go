// Package main provides the entry point for the ingestd CLI.
package main

import (
	"os"

	"github.com/kbforge/ingestd/cmd/ingestd/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
