package cluster

import (
	"time"

	"searchcore/pkg/log"
)

// Tried is the set of nodes a logical call has already attempted.
type Tried map[*Node]struct{}

// Add records node as attempted.
func (t Tried) Add(node *Node) {
	t[node] = struct{}{}
}

// Has reports whether node was attempted. A nil set holds nothing.
func (t Tried) Has(node *Node) bool {
	_, ok := t[node]
	return ok
}

// Selector picks the node for the next attempt. The nearest node wins while it
// is usable; otherwise nodes rotate round robin, skipping those that failed
// recently. When every node is down the rotation continues anyway so that a
// real attempt can find out whether one has come back.
type Selector struct {
	registry     *Registry
	recheckAfter time.Duration

	// current is the ring index of the last selected node. Guarded by registry.mu.
	current int
}

// NewSelector returns a selector over the registry. An unhealthy node becomes
// eligible again once recheckAfter has passed since it was marked.
func NewSelector(registry *Registry, recheckAfter time.Duration) *Selector {
	return &Selector{
		registry:     registry,
		recheckAfter: recheckAfter,
		current:      -1,
	}
}

// Next returns the node to try next. Nodes in tried are passed over while an
// untried one remains, so a call never goes back to a node it already failed
// on just because another call has since marked it healthy. Once every node
// has been tried the usual order applies again.
func (s *Selector) Next(tried Tried) *Node {
	r := s.registry
	r.mu.Lock()
	defer r.mu.Unlock()

	now := r.clock.Now()

	fresh := func(n *Node) bool { return s.usable(n, now) && !tried.Has(n) }
	if node := s.pick(fresh); node != nil {
		return node
	}

	// Usable nodes are used up for this call: an untried node that is still
	// marked down beats one that already failed.
	if len(tried) > 0 && r.nearest != nil && !tried.Has(r.nearest) {
		log.Debug().Str("node", r.nearest.baseURL).Msg("Trying nearest node still marked unhealthy")
		return r.nearest
	}
	if node := s.rotate(func(n *Node) bool { return !tried.Has(n) }); node != nil {
		log.Debug().Str("node", node.baseURL).Msg("Trying node still marked unhealthy")
		return node
	}

	if node := s.pick(func(n *Node) bool { return s.usable(n, now) }); node != nil {
		return node
	}

	// Nothing usable: advance once more so repeated calls still cycle the ring.
	s.current = (s.current + 1) % len(r.nodes)
	node := r.nodes[s.current]
	log.Debug().Str("node", node.baseURL).Msg("All nodes unhealthy, trying next in rotation")

	return node
}

// pick returns the nearest node if it matches, else the next matching node in
// rotation.
func (s *Selector) pick(match func(*Node) bool) *Node {
	if nearest := s.registry.nearest; nearest != nil && match(nearest) {
		log.Trace().Str("node", nearest.baseURL).Msg("Selected nearest node")
		return nearest
	}
	return s.rotate(match)
}

// rotate walks the ring once from the last selected index. A miss leaves the
// index where it started.
func (s *Selector) rotate(match func(*Node) bool) *Node {
	nodes := s.registry.nodes
	for range nodes {
		s.current = (s.current + 1) % len(nodes)
		if candidate := nodes[s.current]; match(candidate) {
			log.Trace().Str("node", candidate.baseURL).Int("index", s.current).Msg("Selected node")
			return candidate
		}
	}
	return nil
}

func (s *Selector) usable(n *Node, now time.Time) bool {
	return n.healthy || now.Sub(n.lastAccess) >= s.recheckAfter
}
