// Package main provides the CLI entry point for the storage audit system
//
// This CLI tool provides:
//   - A storage provider node (csp)
//   - The data owner audit run (owner run)
//   - Random test data generation (data generate)
//   - Ledger inspection (ledger show, ledger list)
package main

import (
	"fmt"
	"os"
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
