package trail

import (
	"fmt"
	"strings"

	"github.com/dyluth/sevai/pkg/causal"
)

const rule = "============================================================"

// Summary renders a fixed-format report of the graph and its key steps.
func Summary(g *causal.Graph, t Trail) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Reasoning Summary for %s\n", g.ID)
	b.WriteString(rule + "\n\n")

	b.WriteString("Graph Statistics:\n")
	fmt.Fprintf(&b, "  - Total nodes: %d\n", t.GraphStats.NumNodes)
	fmt.Fprintf(&b, "  - Total edges: %d\n", t.GraphStats.NumEdges)
	fmt.Fprintf(&b, "  - Reasoning paths: %d\n", t.NumPaths)
	fmt.Fprintf(&b, "  - Connected: %s\n", yesNo(t.GraphStats.IsConnected))
	fmt.Fprintf(&b, "  - Has cycles: %s\n\n", yesNo(!t.GraphStats.IsDAG))

	b.WriteString("Key Reasoning Steps:\n")
	for i, s := range t.KeySteps {
		fmt.Fprintf(&b, "  %d. %s (%s, confidence: %s)\n", i+1, s.Content, s.Type, percent(s.Confidence))
	}

	b.WriteString("\n" + rule + "\n")
	return b.String()
}

func yesNo(v bool) string {
	if v {
		return "Yes"
	}
	return "No"
}
