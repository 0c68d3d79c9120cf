// Package main provides the entry point for the marqo admin CLI.
package main

import (
	"os"

	"github.com/eltociear/marqo/cmd/marqo/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
