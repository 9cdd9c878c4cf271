// Package main provides the entry point for the corpusmcp CLI.
package main

import (
	"os"

	"github.com/Aman-CERP/corpusmcp/cmd/corpusmcp/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
