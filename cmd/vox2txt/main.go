// Package main is the entry point for the vox2txt CLI.
package main

import (
	"os"

	"github.com/mjamiv/vox2txt-sub003/internal/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
