// Package main provides the entry point for the alchemy CLI.
package main

import (
	"os"

	"github.com/dataalchemy/alchemy/cmd/alchemy/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
