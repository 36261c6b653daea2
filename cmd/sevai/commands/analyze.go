package commands

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/olekukonko/tablewriter"
	"github.com/spf13/cobra"

	"github.com/dyluth/sevai/internal/app"
	"github.com/dyluth/sevai/internal/config"
	"github.com/dyluth/sevai/internal/pipeline"
	"github.com/dyluth/sevai/internal/printer"
	"github.com/dyluth/sevai/internal/producer"
	"github.com/dyluth/sevai/pkg/vault"
)

var (
	analyzeBatchDir string
	analyzeJSON     bool
	analyzeOutFile  string
	analyzeSource   string
)

var analyzeCmd = &cobra.Command{
	Use:   "analyze [CASE_FILE|-]",
	Short: "Run a case through the reasoning pipeline",
	Long: `Run one case, or a directory of cases, through the reasoning pipeline.

Case files are YAML or JSON with text, source and metadata fields. Any
other file is read as plain case text. Use "-" to read from stdin.

Every agent step, causal step, policy check and final output is recorded
in the configured vault.

Examples:
  # Analyze one case
  sevai analyze cases/pneumonia.yml

  # Pipe a note in and keep the full result for graph export
  cat note.txt | sevai analyze - --out result.json

  # Analyze a directory of cases in parallel
  sevai analyze --batch cases/ --json`,
	Args: cobra.MaximumNArgs(1),
	RunE: runAnalyze,
}

func init() {
	analyzeCmd.Flags().StringVar(&analyzeBatchDir, "batch", "", "Analyze every case file in this directory")
	analyzeCmd.Flags().BoolVar(&analyzeJSON, "json", false, "Print the full result as JSON")
	analyzeCmd.Flags().StringVarP(&analyzeOutFile, "out", "o", "", "Also write the full JSON result to this file")
	analyzeCmd.Flags().StringVar(&analyzeSource, "source", "", "Override the case source label")

	rootCmd.AddCommand(analyzeCmd)
}

func runAnalyze(cmd *cobra.Command, args []string) error {
	if (len(args) == 0) == (analyzeBatchDir == "") {
		return printer.Error(
			"no case given",
			"analyze needs exactly one of a case file argument or --batch.",
			[]string{"sevai analyze case.yml", "sevai analyze --batch cases/"},
		)
	}

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

	a, err := app.New(ctx, cfg, logger)
	if err != nil {
		return startupError(cfg, err)
	}
	defer a.Close()

	if analyzeBatchDir != "" {
		cases, err := pipeline.LoadCaseDir(analyzeBatchDir)
		if err != nil {
			return printer.Error("failed to load cases", err.Error(), nil)
		}
		for i := range cases {
			if analyzeSource != "" {
				cases[i].Source = analyzeSource
			}
		}
		results, err := a.Coordinator.RunBatch(ctx, cases, cfg.Pipeline.Parallelism)
		if err != nil {
			return printer.Error("batch interrupted", err.Error(), nil)
		}
		return writeBatch(cmd.OutOrStdout(), results, analyzeJSON)
	}

	c, err := pipeline.ReadCase(args[0], cmd.InOrStdin())
	if err != nil {
		return printer.Error("failed to load case", err.Error(), nil)
	}
	if analyzeSource != "" {
		c.Source = analyzeSource
	}

	res, err := analyzeCase(ctx, a.Coordinator, c)
	if err != nil {
		return err
	}
	if analyzeOutFile != "" {
		if err := writeJSONFile(analyzeOutFile, res); err != nil {
			return printer.Error("failed to write result", err.Error(), nil)
		}
	}
	if analyzeJSON {
		return writeJSON(cmd.OutOrStdout(), res)
	}
	writeResult(cmd.OutOrStdout(), res)
	return nil
}

func analyzeCase(ctx context.Context, coord *pipeline.Coordinator, c pipeline.Case) (*pipeline.Result, error) {
	res, err := coord.Run(ctx, c)
	if err == nil {
		return res, nil
	}
	switch {
	case producer.IsProducerError(err):
		return nil, printer.Error("producer failed", err.Error(), []string{
			"Check the producer backend is reachable (producer.backend in sevai.yml)",
			"Raise producer.max_retries or producer.request_timeout",
		})
	case vault.IsStorage(err):
		return nil, printer.Error("vault write failed", err.Error()+"\n\nNo output was recorded for this case.", []string{
			"Check the vault backend is reachable",
			"Run 'sevai verify' to confirm the chains are intact",
		})
	}
	return nil, printer.Error("analysis failed", err.Error(), nil)
}

func startupError(cfg *config.Config, err error) error {
	ctx := map[string]string{
		"Vault":    cfg.Vault.Backend,
		"Producer": cfg.Producer.Backend,
	}
	var suggestions []string
	switch cfg.Producer.Backend {
	case config.ProducerGemini:
		suggestions = append(suggestions, "Set "+config.EnvGeminiAPIKey+" or choose producer.backend: command or static")
	case config.ProducerStatic:
		suggestions = append(suggestions, "Check producer.static_file points at a readable fixture")
	}
	if cfg.Vault.Backend == config.BackendRedis {
		suggestions = append(suggestions, "Check Redis is running at vault.redis_url")
	}
	return printer.ErrorWithContext("failed to start engine", err.Error(), ctx, suggestions)
}

// writeResult renders a result for a terminal.
func writeResult(w io.Writer, res *pipeline.Result) {
	fmt.Fprintf(w, "Conclusion: %s\n", res.Conclusion)
	fmt.Fprintf(w, "Confidence: %s\n", printer.Confidence(res.Confidence, string(res.Level)))
	fmt.Fprintf(w, "Proceed:    %s\n", yesNo(res.Proceed))

	if len(res.RiskFlags) > 0 {
		flags := make([]string, len(res.RiskFlags))
		for i, f := range res.RiskFlags {
			flags[i] = printer.Flag(f)
		}
		fmt.Fprintf(w, "Risk flags: %s\n", strings.Join(flags, ", "))
	}

	fmt.Fprintf(w, "\nRecommendations:\n")
	for _, r := range res.Recommendations {
		fmt.Fprintf(w, "  - %s\n", r)
	}

	if len(res.Findings) > 0 {
		fmt.Fprintf(w, "\nPolicy findings:\n")
		for _, f := range res.Findings {
			fmt.Fprintf(w, "  [%s] %s: %s\n", f.Action, f.RuleID, f.Description)
		}
	}
	if res.Blocked() {
		fmt.Fprintf(w, "\nOutput is blocked by policy and must not be released without review.\n")
	}

	fmt.Fprintf(w, "\n%s\n", res.Summary)
	fmt.Fprintf(w, "Vault: input %d, execution %d, output %d (run %s)\n", res.InputID, res.ExecutionID, res.OutputID, res.RunID)
}

func writeBatch(w io.Writer, results []pipeline.BatchResult, asJSON bool) error {
	failed := 0
	for _, r := range results {
		if r.Err != nil {
			failed++
		}
	}

	if asJSON {
		type item struct {
			Name   string           `json:"name"`
			Result *pipeline.Result `json:"result,omitempty"`
			Error  string           `json:"error,omitempty"`
		}
		items := make([]item, len(results))
		for i, r := range results {
			items[i] = item{Name: r.Case.Name, Result: r.Result}
			if r.Err != nil {
				items[i].Error = r.Err.Error()
			}
		}
		if err := writeJSON(w, items); err != nil {
			return err
		}
	} else {
		table := tablewriter.NewWriter(w)
		table.Header("CASE", "STATUS", "CONFIDENCE", "EXECUTION", "FLAGS")
		for _, r := range results {
			var row []string
			if r.Err != nil {
				row = []string{r.Case.Name, "failed", "-", "-", r.Err.Error()}
			} else {
				row = []string{
					r.Case.Name,
					"ok",
					fmt.Sprintf("%.1f%% (%s)", r.Result.Confidence*100, r.Result.Level),
					fmt.Sprint(r.Result.ExecutionID),
					strings.Join(r.Result.RiskFlags, ","),
				}
			}
			if err := table.Append(row); err != nil {
				return fmt.Errorf("failed to add table row: %w", err)
			}
		}
		if err := table.Render(); err != nil {
			return fmt.Errorf("failed to render table: %w", err)
		}
		fmt.Fprintf(w, "\n%d cases, %d failed\n", len(results), failed)
	}

	if failed > 0 {
		return printer.Error("batch had failures", fmt.Sprintf("%d of %d cases failed.", failed, len(results)), nil)
	}
	return nil
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	enc.SetEscapeHTML(false)
	if err := enc.Encode(v); err != nil {
		return fmt.Errorf("failed to encode JSON: %w", err)
	}
	return nil
}

func writeJSONFile(path string, v any) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	if err := writeJSON(f, v); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}

func yesNo(v bool) string {
	if v {
		return "yes"
	}
	return "no (human review required)"
}
