package pack

// Index returns position of stage node in the pack or -1.
func (p *StoryPack) Index(node *StageNode) int {
	for i, s := range p.StageNodes {
		if s == node {
			return i
		}
	}
	return -1
}

// ActionNodes returns distinct action nodes in order of first reference from
// stage nodes.
func (p *StoryPack) ActionNodes() []*ActionNode {
	seen := make(map[*ActionNode]struct{})
	var out []*ActionNode
	for _, s := range p.StageNodes {
		for _, t := range []*Transition{s.OkTransition, s.HomeTransition} {
			if t == nil || t.ActionNode() == nil {
				continue
			}
			if _, ok := seen[t.ActionNode()]; ok {
				continue
			}
			seen[t.ActionNode()] = struct{}{}
			out = append(out, t.ActionNode())
		}
	}
	return out
}

// Walk visits every node reachable from the first stage node breadth first,
// each node exactly once. Walking stops on first error returned by fn.
func (p *StoryPack) Walk(fn func(Node) error) error {
	if len(p.StageNodes) == 0 {
		return nil
	}

	visited := make(map[Node]struct{})
	queue := []Node{p.StageNodes[0]}
	visited[p.StageNodes[0]] = struct{}{}

	enqueue := func(n Node) {
		if _, ok := visited[n]; ok {
			return
		}
		visited[n] = struct{}{}
		queue = append(queue, n)
	}

	for len(queue) > 0 {
		n := queue[0]
		queue = queue[1:]
		if err := fn(n); err != nil {
			return err
		}
		switch v := n.(type) {
		case *StageNode:
			for _, t := range []*Transition{v.OkTransition, v.HomeTransition} {
				if t != nil && t.ActionNode() != nil {
					enqueue(t.ActionNode())
				}
			}
		case *ActionNode:
			for _, opt := range v.Options {
				enqueue(opt)
			}
		}
	}
	return nil
}

// Unreachable returns indices of stage nodes which cannot be reached from the
// first stage node.
func (p *StoryPack) Unreachable() []int {
	reached := make(map[*StageNode]struct{})
	_ = p.Walk(func(n Node) error {
		if s, ok := n.(*StageNode); ok {
			reached[s] = struct{}{}
		}
		return nil
	})

	var out []int
	for i, s := range p.StageNodes {
		if _, ok := reached[s]; !ok {
			out = append(out, i)
		}
	}
	return out
}
