package commands

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/dyluth/sevai/internal/printer"
	"github.com/dyluth/sevai/internal/scaffold"
)

var (
	forceInit bool
	initDir   string
)

var initCmd = &cobra.Command{
	Use:   "init",
	Short: "Create a starter workspace",
	Long: `Create a starter workspace that runs offline.

Creates:
  • sevai.yml - configuration with a sqlite vault and the static producer
  • static-producer.yml - canned producer answers
  • knowledge.yml - a small knowledge base for context retrieval
  • cases/ - sample cases

Switch producer.backend to gemini and set GEMINI_API_KEY for live analysis.

Use --force to reinitialize (WARNING: overwrites the files above).`,
	Args: cobra.NoArgs,
	RunE: runInit,
}

func init() {
	initCmd.Flags().BoolVar(&forceInit, "force", false, "Overwrite an existing workspace")
	initCmd.Flags().StringVar(&initDir, "dir", ".", "Directory to initialize")
	rootCmd.AddCommand(initCmd)
}

func runInit(cmd *cobra.Command, args []string) error {
	written, err := scaffold.Initialize(initDir, forceInit)
	if err != nil {
		return printer.Error("initialization failed", err.Error(), nil)
	}

	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "Initialized sevai workspace in %s\n\n", initDir)
	for _, f := range written {
		fmt.Fprintf(out, "  %s\n", f)
	}
	fmt.Fprintf(out, "\nNext steps:\n  sevai analyze cases/community-pneumonia.yml\n  sevai ledger list output\n  sevai verify\n")
	return nil
}
