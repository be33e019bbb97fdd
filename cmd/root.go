// Package cmd defines the askgate command-line interface.
package cmd

import (
	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:   "askgate",
	Short: "askgate - admission gatekeeper for a RAG answer service",
	Long: `askgate sits in front of a retrieval-augmented answer service.

Every query passes a fixed admission pipeline (token verification,
rate limiting, pattern guard) before retrieval runs. Answers carry
citations back to the knowledge chunks that ground them.`,
}

// Execute runs the root command.
func Execute() error {
	return rootCmd.Execute()
}
