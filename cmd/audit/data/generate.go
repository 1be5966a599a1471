package data

import (
	"fmt"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"p2pStorageAudit/pkg/file"
)

var (
	lines      int
	lineLength int
	outPath    string
)

var generateCmd = &cobra.Command{
	Use:   "generate",
	Short: "Write a file of random hex lines",
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := file.GenerateRandomFile(outPath, lines, lineLength); err != nil {
			return err
		}
		logrus.WithField("path", outPath).Infof("Generated %d lines of %d characters", lines, lineLength)
		fmt.Printf("Wrote %s\n", outPath)
		return nil
	},
}

func init() {
	DataCmd.AddCommand(generateCmd)

	generateCmd.Flags().IntVarP(&lines, "lines", "n", 10, "Number of lines")
	generateCmd.Flags().IntVarP(&lineLength, "length", "l", file.DefaultLineLength, "Characters per line")
	generateCmd.Flags().StringVarP(&outPath, "out", "o", "data/data.txt", "Output path")
}
