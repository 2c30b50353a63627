// Package main provides the entry point for the lattice CLI.
package main

import (
	"os"

	"github.com/latticemcp/lattice/cmd/lattice/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
