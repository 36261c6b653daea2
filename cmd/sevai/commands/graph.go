package commands

import (
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/dyluth/sevai/internal/printer"
	"github.com/dyluth/sevai/internal/trail"
	"github.com/dyluth/sevai/pkg/causal"
)

// Graph export formats
const (
	graphFormatJSON    = "json"
	graphFormatGraphML = "graphml"
	graphFormatViz     = "viz"
)

var graphFormat string

var graphCmd = &cobra.Command{
	Use:   "graph",
	Short: "Work with causal graphs",
}

var graphExportCmd = &cobra.Command{
	Use:   "export <result.json>",
	Short: "Export the causal graph of a saved result",
	Long: `Export the causal graph held in a result written by
'sevai analyze --out', or in a bare graph document.

Formats:
  json     graph document (round-trips)
  graphml  GraphML for graph tools
  viz      node/edge lists for a flow renderer`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		data, err := os.ReadFile(args[0])
		if err != nil {
			return printer.Error("failed to read graph", err.Error(), nil)
		}
		g, err := decodeGraph(data)
		if err != nil {
			return printer.Error("invalid graph", err.Error(), nil)
		}
		return exportGraph(cmd.OutOrStdout(), g, graphFormat)
	},
}

func init() {
	graphExportCmd.Flags().StringVarP(&graphFormat, "format", "f", graphFormatJSON, "Export format: json, graphml or viz")
	graphCmd.AddCommand(graphExportCmd)
	rootCmd.AddCommand(graphCmd)
}

// decodeGraph accepts a pipeline result or a bare graph document.
func decodeGraph(data []byte) (*causal.Graph, error) {
	var wrapper struct {
		CausalGraph *struct {
			Document *causal.Document `json:"document"`
		} `json:"causal_graph"`
	}
	if err := json.Unmarshal(data, &wrapper); err != nil {
		return nil, fmt.Errorf("failed to parse JSON: %w", err)
	}
	if wrapper.CausalGraph != nil && wrapper.CausalGraph.Document != nil {
		return causal.FromDocument(*wrapper.CausalGraph.Document)
	}

	var doc causal.Document
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("failed to parse graph document: %w", err)
	}
	return causal.FromDocument(doc)
}

func exportGraph(w io.Writer, g *causal.Graph, format string) error {
	switch format {
	case graphFormatJSON:
		return writeJSON(w, g.Document())
	case graphFormatGraphML:
		if err := g.WriteGraphML(w); err != nil {
			return fmt.Errorf("failed to write GraphML: %w", err)
		}
		return nil
	case graphFormatViz:
		return writeJSON(w, trail.ExportForVisualization(g))
	}
	return printer.Error("unknown graph format", fmt.Sprintf("%q is not a graph format.", format),
		[]string{"--format json", "--format graphml", "--format viz"})
}
