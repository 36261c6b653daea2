package causal

// AllSimplePaths returns every path from source to target that visits no node
// twice. The result is empty when either node is absent, when source equals
// target, or when target is unreachable.
func (g *Graph) AllSimplePaths(source, target NodeID) [][]NodeID {
	si, ok := g.nodeIndex[source]
	if !ok {
		return nil
	}
	ti, ok := g.nodeIndex[target]
	if !ok || si == ti {
		return nil
	}

	var paths [][]NodeID
	visited := make([]bool, len(g.nodes))
	stack := []int{si}
	visited[si] = true

	var walk func(cur int)
	walk = func(cur int) {
		for _, ei := range g.out[cur] {
			next := g.nodeIndex[g.edges[ei].Target]
			if visited[next] {
				continue
			}
			if next == ti {
				path := make([]NodeID, 0, len(stack)+1)
				for _, i := range stack {
					path = append(path, g.nodes[i].ID)
				}
				paths = append(paths, append(path, g.nodes[ti].ID))
				continue
			}
			visited[next] = true
			stack = append(stack, next)
			walk(next)
			stack = stack[:len(stack)-1]
			visited[next] = false
		}
	}
	walk(si)
	return paths
}

// ShortestPath returns a path from source to target with the fewest edges.
// ok is false when no path exists or either node is absent.
func (g *Graph) ShortestPath(source, target NodeID) ([]NodeID, bool) {
	si, ok := g.nodeIndex[source]
	if !ok {
		return nil, false
	}
	ti, ok := g.nodeIndex[target]
	if !ok {
		return nil, false
	}
	if si == ti {
		return []NodeID{source}, true
	}

	prev := make([]int, len(g.nodes))
	for i := range prev {
		prev[i] = -1
	}
	prev[si] = si
	queue := []int{si}
	for len(queue) > 0 {
		cur := queue[0]
		queue = queue[1:]
		for _, ei := range g.out[cur] {
			next := g.nodeIndex[g.edges[ei].Target]
			if prev[next] != -1 {
				continue
			}
			prev[next] = cur
			if next == ti {
				return g.unwind(prev, si, ti), true
			}
			queue = append(queue, next)
		}
	}
	return nil, false
}

func (g *Graph) unwind(prev []int, si, ti int) []NodeID {
	var rev []NodeID
	for i := ti; i != si; i = prev[i] {
		rev = append(rev, g.nodes[i].ID)
	}
	rev = append(rev, g.nodes[si].ID)
	path := make([]NodeID, len(rev))
	for i, id := range rev {
		path[len(rev)-1-i] = id
	}
	return path
}

// HasCycles reports whether the graph contains a directed cycle (including a
// self-loop).
func (g *Graph) HasCycles() bool {
	const (
		white = iota
		grey
		black
	)
	colour := make([]int, len(g.nodes))

	var visit func(i int) bool
	visit = func(i int) bool {
		colour[i] = grey
		for _, ei := range g.out[i] {
			next := g.nodeIndex[g.edges[ei].Target]
			switch colour[next] {
			case grey:
				return true
			case white:
				if visit(next) {
					return true
				}
			}
		}
		colour[i] = black
		return false
	}

	for i := range g.nodes {
		if colour[i] == white && visit(i) {
			return true
		}
	}
	return false
}

// IsWeaklyConnected reports whether every node is reachable from every other
// when edge direction is ignored. An empty graph is not connected.
func (g *Graph) IsWeaklyConnected() bool {
	if len(g.nodes) == 0 {
		return false
	}
	seen := make([]bool, len(g.nodes))
	seen[0] = true
	queue := []int{0}
	count := 1
	for len(queue) > 0 {
		cur := queue[0]
		queue = queue[1:]
		neighbours := make([]int, 0, len(g.out[cur])+len(g.in[cur]))
		for _, ei := range g.out[cur] {
			neighbours = append(neighbours, g.nodeIndex[g.edges[ei].Target])
		}
		for _, ei := range g.in[cur] {
			neighbours = append(neighbours, g.nodeIndex[g.edges[ei].Source])
		}
		for _, n := range neighbours {
			if !seen[n] {
				seen[n] = true
				count++
				queue = append(queue, n)
			}
		}
	}
	return count == len(g.nodes)
}
