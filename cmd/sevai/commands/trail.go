package commands

import (
	"context"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/dyluth/sevai/internal/ledger"
	"github.com/dyluth/sevai/internal/printer"
	"github.com/dyluth/sevai/pkg/vault"
)

var trailOutput string

var trailCmd = &cobra.Command{
	Use:   "trail <execution-id>",
	Short: "Show the recorded reasoning trail of an execution",
	Long: `Show an agent execution together with the causal steps and policy
checks recorded against it, and the final outputs it produced.

The execution id is printed by 'sevai analyze' and listed by
'sevai ledger list agent_execution'.`,
	Args: cobra.ExactArgs(1),
	RunE: runTrail,
}

func init() {
	trailCmd.Flags().StringVarP(&trailOutput, "output", "o", string(ledger.TrailText), "Output format: text or json")
	rootCmd.AddCommand(trailCmd)
}

func runTrail(cmd *cobra.Command, args []string) error {
	id, err := strconv.ParseInt(args[0], 10, 64)
	if err != nil || id <= 0 {
		return printer.Error("invalid execution id", "execution id must be a positive integer, got "+strconv.Quote(args[0]), nil)
	}
	format := ledger.TrailFormat(trailOutput)
	if format != ledger.TrailText && format != ledger.TrailJSON {
		return printer.Error("invalid output format", "use text or json", nil)
	}

	return withVault(func(ctx context.Context, v *vault.Vault) error {
		err := ledger.ShowTrail(ctx, v, id, format, cmd.OutOrStdout())
		switch {
		case err == nil:
			return nil
		case vault.IsNotFound(err):
			return notFound("execution "+args[0], err)
		}
		return printer.Error("failed to load trail", err.Error(), nil)
	})
}
