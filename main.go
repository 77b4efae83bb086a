// Package main is the entry point for the ibdissect packet dissector.
package main

import (
	"fmt"
	"os"

	"firestige.xyz/ibdissect/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
