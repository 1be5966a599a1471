// Package data provides the test data commands of the storage audit CLI
package data

import (
	"github.com/spf13/cobra"
)

// DataCmd represents the data command group
var DataCmd = &cobra.Command{
	Use:   "data",
	Short: "Test data operations",
	Long: `Produce source files for audit runs.

A source file holds one block per line.`,
}
