// Package main is the entry point for studioctl, the terminal client for
// the VeoStudio API.
package main

import (
	"os"

	"veostudio/cmd/cli/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
