// Package main is the entry point for the carwatch CLI.
package main

import (
	"os"

	"github.com/jmylchreest/carwatch/cmd/carwatch/commands"
)

func main() {
	if err := commands.Execute(); err != nil {
		os.Exit(1)
	}
}
