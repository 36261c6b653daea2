package causal

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newChainGraph(t *testing.T) (*Graph, NodeID, NodeID, NodeID) {
	t.Helper()
	g := New()
	fever, err := g.AddSymptom("fever", 0.85)
	require.NoError(t, err)
	pneumonia, err := g.AddDiagnosis("pneumonia", 0.8)
	require.NoError(t, err)
	recovery, err := g.AddOutcome("recovery", 0.7)
	require.NoError(t, err)
	_, _, err = g.AddEdge(fever, pneumonia, EdgeCauses, 0.85)
	require.NoError(t, err)
	_, _, err = g.AddEdge(pneumonia, recovery, EdgeLeadsTo, 0.7)
	require.NoError(t, err)
	return g, fever, pneumonia, recovery
}

func TestNewNodeID(t *testing.T) {
	t.Run("is deterministic", func(t *testing.T) {
		assert.Equal(t, NewNodeID(NodeSymptom, "fever"), NewNodeID(NodeSymptom, "fever"))
	})

	t.Run("differs by type", func(t *testing.T) {
		assert.NotEqual(t, NewNodeID(NodeSymptom, "fever"), NewNodeID(NodeDiagnosis, "fever"))
	})

	t.Run("carries type prefix", func(t *testing.T) {
		assert.Contains(t, string(NewNodeID(NodeOutcome, "recovery")), "outcome:")
	})
}

func TestAddNode(t *testing.T) {
	t.Run("identical content collapses to one node", func(t *testing.T) {
		g := New()
		a, err := g.AddNode("cough", NodeSymptom, 0.85)
		require.NoError(t, err)
		b, err := g.AddNode("cough", NodeSymptom, 0.5)
		require.NoError(t, err)

		assert.Equal(t, a, b)
		assert.Equal(t, 1, g.NumNodes())
		n, ok := g.Node(a)
		require.True(t, ok)
		assert.Equal(t, 0.85, n.Confidence, "first insertion wins")
	})

	t.Run("explicit id bypasses content addressing", func(t *testing.T) {
		g := New()
		a, err := g.AddNode("cough", NodeSymptom, 0.85)
		require.NoError(t, err)
		b, err := g.AddNode("cough", NodeSymptom, 0.85, WithID("custom"))
		require.NoError(t, err)

		assert.NotEqual(t, a, b)
		assert.Equal(t, NodeID("custom"), b)
		assert.Equal(t, 2, g.NumNodes())
	})

	t.Run("rejects confidence out of range", func(t *testing.T) {
		g := New()
		for _, c := range []float64{-0.1, 1.1} {
			_, err := g.AddNode("x", NodeSymptom, c)
			require.Error(t, err)
			assert.True(t, IsValidation(err))
		}
		assert.Equal(t, 0, g.NumNodes())
	})

	t.Run("rejects unknown type", func(t *testing.T) {
		g := New()
		_, err := g.AddNode("x", NodeType("lab"), 0.5)
		assert.True(t, IsValidation(err))
	})

	t.Run("evidence helper records source", func(t *testing.T) {
		g := New()
		id, err := g.AddEvidence("guideline text", 0.6, "nice")
		require.NoError(t, err)
		n, _ := g.Node(id)
		assert.Equal(t, NodeEvidence, n.Type)
		assert.Equal(t, "nice", n.Metadata["source"])
	})
}

func TestAddEdge(t *testing.T) {
	t.Run("missing endpoint is a reference error and leaves graph unchanged", func(t *testing.T) {
		g, fever, _, _ := newChainGraph(t)
		nodes, edges := g.NumNodes(), g.NumEdges()

		_, _, err := g.AddEdge(fever, "diagnosis:missing", EdgeCauses, 0.9)
		require.Error(t, err)
		assert.True(t, IsReference(err))

		_, _, err = g.AddEdge("symptom:missing", fever, EdgeCauses, 0.9)
		require.Error(t, err)
		var re *ReferenceError
		require.ErrorAs(t, err, &re)
		assert.Equal(t, NodeID("symptom:missing"), re.Missing)

		assert.Equal(t, nodes, g.NumNodes())
		assert.Equal(t, edges, g.NumEdges())
	})

	t.Run("applies defaults", func(t *testing.T) {
		g, fever, pneumonia, _ := newChainGraph(t)
		e, ok := g.Edge(fever, pneumonia)
		require.True(t, ok)
		assert.Equal(t, StrengthModerate, e.Strength)
		assert.Equal(t, ReasoningLLM, e.ReasoningType)
		assert.Empty(t, e.EvidenceRefs)
	})

	t.Run("re-adding a pair replaces attributes", func(t *testing.T) {
		g, fever, pneumonia, _ := newChainGraph(t)
		_, _, err := g.AddEdge(fever, pneumonia, EdgeSupports, 0.4, WithStrength(StrengthWeak), WithEvidenceRefs("ref"))
		require.NoError(t, err)

		assert.Equal(t, 2, g.NumEdges())
		e, _ := g.Edge(fever, pneumonia)
		assert.Equal(t, EdgeSupports, e.Type)
		assert.Equal(t, []string{"ref"}, e.EvidenceRefs)
	})

	t.Run("rejects invalid confidence", func(t *testing.T) {
		g, fever, pneumonia, _ := newChainGraph(t)
		_, _, err := g.AddEdge(pneumonia, fever, EdgeCauses, 2)
		assert.True(t, IsValidation(err))
		assert.Equal(t, 2, g.NumEdges())
	})
}

func TestLookups(t *testing.T) {
	g, fever, pneumonia, recovery := newChainGraph(t)

	_, ok := g.Node("nope")
	assert.False(t, ok)
	_, ok = g.Edge(recovery, fever)
	assert.False(t, ok)
	_, ok = g.Edge("nope", fever)
	assert.False(t, ok)

	assert.Equal(t, []NodeID{pneumonia}, g.Successors(fever))
	assert.Equal(t, []NodeID{pneumonia}, g.Predecessors(recovery))
	assert.Equal(t, []NodeID{fever}, g.FindNodesByType(NodeSymptom))
	assert.Empty(t, g.FindNodesByType(NodeTreatment))
}

func TestPaths(t *testing.T) {
	t.Run("enumerates all simple paths", func(t *testing.T) {
		g, fever, pneumonia, recovery := newChainGraph(t)
		_, _, err := g.AddEdge(fever, recovery, EdgeLeadsTo, 0.5)
		require.NoError(t, err)

		paths := g.AllSimplePaths(fever, recovery)
		assert.ElementsMatch(t, [][]NodeID{
			{fever, pneumonia, recovery},
			{fever, recovery},
		}, paths)
	})

	t.Run("empty when unreachable or absent", func(t *testing.T) {
		g, fever, _, recovery := newChainGraph(t)
		assert.Empty(t, g.AllSimplePaths(recovery, fever))
		assert.Empty(t, g.AllSimplePaths("nope", recovery))
		assert.Empty(t, g.AllSimplePaths(fever, "nope"))
	})

	t.Run("simple paths do not loop through cycles", func(t *testing.T) {
		g, fever, pneumonia, recovery := newChainGraph(t)
		_, _, err := g.AddEdge(pneumonia, fever, EdgeSupports, 0.5)
		require.NoError(t, err)
		assert.Equal(t, [][]NodeID{{fever, pneumonia, recovery}}, g.AllSimplePaths(fever, recovery))
	})

	t.Run("shortest path prefers fewer hops", func(t *testing.T) {
		g, fever, _, recovery := newChainGraph(t)
		_, _, err := g.AddEdge(fever, recovery, EdgeLeadsTo, 0.5)
		require.NoError(t, err)

		path, ok := g.ShortestPath(fever, recovery)
		require.True(t, ok)
		assert.Equal(t, []NodeID{fever, recovery}, path)

		_, ok = g.ShortestPath(recovery, fever)
		assert.False(t, ok)
	})
}

func TestDiagnostics(t *testing.T) {
	t.Run("acyclic and connected chain", func(t *testing.T) {
		g, _, _, _ := newChainGraph(t)
		assert.False(t, g.HasCycles())
		assert.True(t, g.IsWeaklyConnected())
	})

	t.Run("detects cycle", func(t *testing.T) {
		g, fever, _, recovery := newChainGraph(t)
		_, _, err := g.AddEdge(recovery, fever, EdgeSupports, 0.5)
		require.NoError(t, err)
		assert.True(t, g.HasCycles())
	})

	t.Run("detects self loop", func(t *testing.T) {
		g := New()
		a, _ := g.AddSymptom("a", 0.5)
		_, _, err := g.AddEdge(a, a, EdgeSupports, 0.5)
		require.NoError(t, err)
		assert.True(t, g.HasCycles())
	})

	t.Run("detects disconnection", func(t *testing.T) {
		g, _, _, _ := newChainGraph(t)
		_, err := g.AddTreatment("rest", 0.75)
		require.NoError(t, err)
		assert.False(t, g.IsWeaklyConnected())
	})

	t.Run("empty graph is not connected", func(t *testing.T) {
		assert.False(t, New().IsWeaklyConnected())
	})
}

func TestPruneBelowConfidence(t *testing.T) {
	g, fever, pneumonia, recovery := newChainGraph(t)
	_, _, err := g.AddEdge(fever, recovery, EdgeLeadsTo, 0.2)
	require.NoError(t, err)

	removed := g.PruneBelowConfidence(0.3)

	assert.Equal(t, 1, removed)
	assert.Equal(t, 3, g.NumNodes())
	assert.Equal(t, 2, g.NumEdges())
	_, ok := g.Edge(fever, recovery)
	assert.False(t, ok)

	// Adjacency must follow the pruned arena.
	assert.Equal(t, []NodeID{pneumonia}, g.Successors(fever))
	path, ok := g.ShortestPath(fever, recovery)
	require.True(t, ok)
	assert.Equal(t, []NodeID{fever, pneumonia, recovery}, path)

	assert.Equal(t, 0, g.PruneBelowConfidence(0.3))
}

func TestStats(t *testing.T) {
	g, _, _, _ := newChainGraph(t)
	s := g.Stats()

	assert.Equal(t, 3, s.NumNodes)
	assert.Equal(t, 2, s.NumEdges)
	assert.Equal(t, 1, s.NodeTypes[NodeSymptom])
	assert.Equal(t, 1, s.EdgeTypes[EdgeCauses])
	assert.InDelta(t, 2.0/6.0, s.Density, 1e-9)
	assert.True(t, s.IsDAG)
	assert.True(t, s.IsConnected)

	assert.Zero(t, New().Stats().Density)
}

func TestClone(t *testing.T) {
	g, fever, pneumonia, _ := newChainGraph(t)
	c := g.Clone()

	c.PruneBelowConfidence(0.9)
	_, err := c.AddTreatment("antibiotics", 0.75)
	require.NoError(t, err)

	assert.Equal(t, 3, g.NumNodes())
	assert.Equal(t, 2, g.NumEdges())
	_, ok := g.Edge(fever, pneumonia)
	assert.True(t, ok)
	assert.Equal(t, g.ID, c.ID)
}

func TestStrengthFor(t *testing.T) {
	tests := []struct {
		confidence float64
		want       Strength
	}{
		{0.95, StrengthStrong},
		{0.8, StrengthStrong},
		{0.79, StrengthModerate},
		{0.6, StrengthModerate},
		{0.59, StrengthWeak},
		{0, StrengthWeak},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, StrengthFor(tt.confidence), "confidence %v", tt.confidence)
	}
}
