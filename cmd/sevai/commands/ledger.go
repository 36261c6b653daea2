package commands

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/dyluth/sevai/internal/app"
	"github.com/dyluth/sevai/internal/config"
	"github.com/dyluth/sevai/internal/ledger"
	"github.com/dyluth/sevai/internal/printer"
	"github.com/dyluth/sevai/internal/timespec"
	"github.com/dyluth/sevai/internal/watch"
	"github.com/dyluth/sevai/pkg/vault"
)

var (
	ledgerSince     string
	ledgerUntil     string
	ledgerAgent     string
	ledgerExecution int64
	ledgerLimit     int
	ledgerOutput    string
)

var ledgerCmd = &cobra.Command{
	Use:   "ledger",
	Short: "Inspect records in the vault",
}

var ledgerListCmd = &cobra.Command{
	Use:   "list <kind>",
	Short: "List vault records of one kind",
	Long: `List vault records of one kind, oldest first.

Kinds: input, agent_execution, causal_step, policy_check, output

Time filters accept RFC3339 timestamps, dates (2006-01-02), durations
(e.g. 90m, 2h) and day counts (e.g. 7d), relative to now.

Examples:
  sevai ledger list output --since 1h
  sevai ledger list agent_execution --agent 'causal_*'
  sevai ledger list causal_step --execution 12 --output jsonl`,
	Args: cobra.ExactArgs(1),
	RunE: runLedgerList,
}

var (
	watchAll      bool
	watchInterval time.Duration
)

var ledgerWatchCmd = &cobra.Command{
	Use:   "watch <kind>",
	Short: "Print vault records of one kind as they are appended",
	Long: `Follow one record kind and print each new record as it is appended,
until interrupted. Run it against a shared redis or sqlite vault while
analyses run elsewhere.

Examples:
  sevai ledger watch output
  sevai ledger watch agent_execution --all --output jsonl`,
	Args: cobra.ExactArgs(1),
	RunE: runLedgerWatch,
}

func init() {
	w := ledgerWatchCmd.Flags()
	w.BoolVar(&watchAll, "all", false, "Print existing records before following")
	w.DurationVar(&watchInterval, "interval", watch.DefaultInterval, "Polling interval")
	w.StringVarP(&ledgerOutput, "output", "o", string(ledger.FormatTable), "Output format: table (one line per record) or jsonl")
	ledgerCmd.AddCommand(ledgerWatchCmd)

	f := ledgerListCmd.Flags()
	f.StringVar(&ledgerSince, "since", "", "Only records at or after this time")
	f.StringVar(&ledgerUntil, "until", "", "Only records before this time")
	f.StringVar(&ledgerAgent, "agent", "", "Glob on agent id (agent_execution only)")
	f.Int64Var(&ledgerExecution, "execution", 0, "Only records belonging to this execution id")
	f.IntVarP(&ledgerLimit, "limit", "n", 0, "Keep only the N most recent matches (0 for all)")
	f.StringVarP(&ledgerOutput, "output", "o", string(ledger.FormatTable), "Output format: table or jsonl")

	ledgerCmd.AddCommand(ledgerListCmd)
	rootCmd.AddCommand(ledgerCmd)
}

func runLedgerList(cmd *cobra.Command, args []string) error {
	kind, err := vault.ParseKind(args[0])
	if err != nil {
		return printer.Error("unknown record kind", err.Error(), []string{
			"Use one of: " + kindList(),
		})
	}
	format, err := ledger.ParseFormat(ledgerOutput)
	if err != nil {
		return printer.Error("invalid output format", err.Error(), nil)
	}
	if ledgerLimit < 0 {
		return printer.Error("invalid limit", "--limit must be zero or positive.", nil)
	}
	since, until, err := timespec.ParseRange(ledgerSince, ledgerUntil, time.Now())
	if err != nil {
		return printer.Error("invalid time filter", err.Error(), []string{
			"--since 2h",
			"--since 2025-01-01 --until 2025-02-01",
		})
	}

	c := ledger.Criteria{
		Since:       since,
		Until:       until,
		AgentGlob:   ledgerAgent,
		ExecutionID: ledgerExecution,
		Limit:       ledgerLimit,
	}
	return withVault(func(ctx context.Context, v *vault.Vault) error {
		if err := ledger.List(ctx, v, kind, c, format, cmd.OutOrStdout()); err != nil {
			return printer.Error("failed to list records", err.Error(), nil)
		}
		return nil
	})
}

func runLedgerWatch(cmd *cobra.Command, args []string) error {
	kind, err := vault.ParseKind(args[0])
	if err != nil {
		return printer.Error("unknown record kind", err.Error(), []string{"Use one of: " + kindList()})
	}
	format, err := ledger.ParseFormat(ledgerOutput)
	if err != nil {
		return printer.Error("invalid output format", err.Error(), nil)
	}

	out := cmd.OutOrStdout()
	return withVault(func(ctx context.Context, v *vault.Vault) error {
		var after int64
		if !watchAll {
			if after, err = watch.Latest(ctx, v, kind); err != nil {
				return printer.Error("failed to read vault", err.Error(), nil)
			}
		}
		err := watch.Follow(ctx, v, kind, after, watchInterval, func(e vault.Entry) error {
			if format == ledger.FormatJSONL {
				return ledger.WriteJSONL(out, []vault.Entry{e})
			}
			_, err := fmt.Fprintf(out, "%s %s #%d %s\n", e.Timestamp.Format(time.TimeOnly), e.Kind, e.ID, ledger.Summarize(e))
			return err
		})
		if err != nil {
			return printer.Error("watch stopped", err.Error(), nil)
		}
		return nil
	})
}

// withVault opens the configured vault for a read-side command and closes
// it after fn returns.
func withVault(fn func(ctx context.Context, v *vault.Vault) error) error {
	ctx, cancel := signalContext()
	defer cancel()

	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	logger, err := newLogger(cfg)
	if err != nil {
		return err
	}
	defer logger.Sync()

	if cfg.Vault.Backend == config.BackendMemory {
		printer.Warning("vault.backend is memory; records from earlier runs are not visible\n")
	}

	v, err := app.OpenVault(ctx, cfg, logger, nil)
	if err != nil {
		return printer.ErrorWithContext("failed to open vault", err.Error(),
			map[string]string{"Vault": cfg.Vault.Backend}, nil)
	}
	defer v.Close()

	return fn(ctx, v)
}

func kindList() string {
	names := make([]string, len(vault.Kinds))
	for i, k := range vault.Kinds {
		names[i] = string(k)
	}
	return strings.Join(names, ", ")
}

// notFound maps a missing-record error to user guidance.
func notFound(what string, err error) error {
	return printer.Error(
		fmt.Sprintf("%s not found", what),
		err.Error(),
		[]string{"List recent executions: sevai ledger list agent_execution --limit 20"},
	)
}
