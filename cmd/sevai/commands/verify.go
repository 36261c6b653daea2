package commands

import (
	"context"

	"github.com/spf13/cobra"

	"github.com/dyluth/sevai/internal/ledger"
	"github.com/dyluth/sevai/internal/printer"
	"github.com/dyluth/sevai/pkg/vault"
)

var verifyCmd = &cobra.Command{
	Use:   "verify [kind]",
	Short: "Check the hash chains of the vault",
	Long: `Recompute every record hash and check each record links to its
predecessor. With no kind, all five chains are checked.

Exits non-zero when any chain has been modified.`,
	Args: cobra.MaximumNArgs(1),
	RunE: runVerify,
}

func init() {
	rootCmd.AddCommand(verifyCmd)
}

func runVerify(cmd *cobra.Command, args []string) error {
	var kind vault.Kind
	if len(args) == 1 {
		k, err := vault.ParseKind(args[0])
		if err != nil {
			return printer.Error("unknown record kind", err.Error(), []string{"Use one of: " + kindList()})
		}
		kind = k
	}

	return withVault(func(ctx context.Context, v *vault.Vault) error {
		var reports []*vault.VerifyReport
		if kind != "" {
			r, err := v.Verify(ctx, kind)
			if err != nil {
				return printer.Error("verification failed", err.Error(), nil)
			}
			reports = []*vault.VerifyReport{r}
		} else {
			all, err := v.VerifyAll(ctx)
			if err != nil {
				return printer.Error("verification failed", err.Error(), nil)
			}
			reports = all
		}

		ok, err := ledger.WriteVerify(cmd.OutOrStdout(), reports)
		if err != nil {
			return err
		}
		if !ok {
			return printer.Error("vault integrity check failed",
				"One or more records no longer match their recorded hash chain.",
				[]string{"Inspect the listed records with 'sevai ledger list <kind> --output jsonl'"})
		}
		return nil
	})
}
