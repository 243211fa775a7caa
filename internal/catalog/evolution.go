package catalog

import "fmt"

// MaxEvolutionDepth bounds how deep an evolution chain may nest
const MaxEvolutionDepth = 64

type evolutionFrame struct {
	node  *EvolutionNode
	next  int // index of the next child to visit
	depth int
}

// FlattenEvolution lists species names in pre-order (a node before its
// children, children left to right), keeping the first occurrence of each
// name. A nil root yields an empty list.
//
// A node reachable from itself or a chain deeper than MaxEvolutionDepth
// returns ErrMalformedUpstream along with the names collected so far.
func FlattenEvolution(root *EvolutionNode) ([]string, error) {
	names := []string{}
	if root == nil {
		return names, nil
	}

	seen := make(map[string]struct{})
	onPath := make(map[*EvolutionNode]struct{})

	visit := func(n *EvolutionNode) {
		if n.SpeciesName == "" {
			return
		}
		if _, dup := seen[n.SpeciesName]; dup {
			return
		}
		seen[n.SpeciesName] = struct{}{}
		names = append(names, n.SpeciesName)
	}

	visit(root)
	onPath[root] = struct{}{}
	stack := []*evolutionFrame{{node: root, depth: 1}}

	for len(stack) > 0 {
		top := stack[len(stack)-1]
		if top.next >= len(top.node.Children) {
			delete(onPath, top.node)
			stack = stack[:len(stack)-1]
			continue
		}

		child := top.node.Children[top.next]
		top.next++
		if child == nil {
			continue
		}

		if _, cycle := onPath[child]; cycle {
			return names, fmt.Errorf("%w: evolution chain cycles at %q", ErrMalformedUpstream, child.SpeciesName)
		}
		if top.depth+1 > MaxEvolutionDepth {
			return names, fmt.Errorf("%w: evolution chain deeper than %d", ErrMalformedUpstream, MaxEvolutionDepth)
		}

		visit(child)
		onPath[child] = struct{}{}
		stack = append(stack, &evolutionFrame{node: child, depth: top.depth + 1})
	}

	return names, nil
}
