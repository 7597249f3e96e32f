// Package main is the entry point for the netverse traffic analysis engine.
package main

import (
	"fmt"
	"os"

	"github.com/GeoAziz/netverse-engine/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
