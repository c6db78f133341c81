// Package main is the entry point for the vidsift application.
package main

import (
	"os"

	"github.com/jmylchreest/vidsift/cmd/vidsift/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
