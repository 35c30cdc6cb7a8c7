package main

import (
	"os"

	"deanalyse/internal/sandbox"

	"github.com/spf13/cobra"
)

// newSandboxCmd is the child entrypoint the executor re-executes. It reads one
// request from stdin and never loads configuration.
func newSandboxCmd() *cobra.Command {
	return &cobra.Command{
		Use:    "sandbox",
		Short:  "Run generated code from stdin (internal)",
		Hidden: true,
		Args:   cobra.NoArgs,
		Run: func(cmd *cobra.Command, args []string) {
			os.Exit(sandbox.RunChild(os.Stdin, os.Stdout, os.Stderr))
		},
	}
}
