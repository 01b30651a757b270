package cluster

import (
	"errors"
	"sync"
	"time"

	"searchcore/pkg/config"
	"searchcore/pkg/log"
	"searchcore/pkg/models"

	"github.com/benbjohnson/clock"
)

// ErrNoNodes is returned when a registry is built without any nodes.
var ErrNoNodes = errors.New("at least one node must be configured")

// Node is one backend endpoint. Its health fields are owned by the Registry
// and only read or written under the registry lock.
type Node struct {
	config  models.NodeConfig
	baseURL string
	index   int // position in the round-robin ring, -1 for the nearest node

	healthy    bool
	lastAccess time.Time
}

// BaseURL returns protocol://host:port[path].
func (n *Node) BaseURL() string {
	return n.baseURL
}

// Config returns the node's resolved configuration.
func (n *Node) Config() models.NodeConfig {
	return n.config
}

// Index returns the node's round-robin position, or -1 for the nearest node.
func (n *Node) Index() int {
	return n.index
}

// Registry holds the configured nodes and their health.
type Registry struct {
	mu      sync.Mutex
	nodes   []*Node
	nearest *Node
	clock   clock.Clock
}

// NewRegistry builds a registry from resolved node configurations. Every node
// starts healthy.
func NewRegistry(nodes []models.NodeConfig, nearest *models.NodeConfig, clk clock.Clock) (*Registry, error) {
	if len(nodes) == 0 {
		return nil, ErrNoNodes
	}
	if clk == nil {
		clk = clock.New()
	}

	now := clk.Now()
	r := &Registry{
		nodes: make([]*Node, len(nodes)),
		clock: clk,
	}
	for i, cfg := range nodes {
		r.nodes[i] = newNode(cfg, i, now)
	}
	if nearest != nil {
		r.nearest = newNode(*nearest, -1, now)
	}

	return r, nil
}

func newNode(cfg models.NodeConfig, index int, now time.Time) *Node {
	return &Node{
		config:     cfg,
		baseURL:    config.BaseURL(cfg),
		index:      index,
		healthy:    true,
		lastAccess: now,
	}
}

// Nodes returns the configured round-robin nodes in order.
func (r *Registry) Nodes() []*Node {
	out := make([]*Node, len(r.nodes))
	copy(out, r.nodes)
	return out
}

// Nearest returns the preferred node, or nil when none is configured.
func (r *Registry) Nearest() *Node {
	return r.nearest
}

// MarkHealthy records a successful attempt against the node.
func (r *Registry) MarkHealthy(node *Node) {
	r.setHealth(node, true)
}

// MarkUnhealthy records a node-level failure against the node.
func (r *Registry) MarkUnhealthy(node *Node) {
	r.setHealth(node, false)
}

func (r *Registry) setHealth(node *Node, healthy bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	changed := node.healthy != healthy
	node.healthy = healthy
	node.lastAccess = r.clock.Now()

	if !changed {
		return
	}
	if healthy {
		log.Info().Str("node", node.baseURL).Msg("Node back to healthy")
	} else {
		log.Warn().Str("node", node.baseURL).Msg("Node marked unhealthy")
	}
}

// IsHealthy reports the node's current health flag.
func (r *Registry) IsHealthy(node *Node) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return node.healthy
}

// Snapshot returns the status of every node, nearest first.
func (r *Registry) Snapshot() []models.NodeStatus {
	r.mu.Lock()
	defer r.mu.Unlock()

	statuses := make([]models.NodeStatus, 0, len(r.nodes)+1)
	if r.nearest != nil {
		statuses = append(statuses, statusOf(r.nearest))
	}
	for _, n := range r.nodes {
		statuses = append(statuses, statusOf(n))
	}
	return statuses
}

func statusOf(n *Node) models.NodeStatus {
	return models.NodeStatus{
		URL:        n.baseURL,
		Nearest:    n.index < 0,
		Healthy:    n.healthy,
		LastAccess: n.lastAccess,
	}
}
