// Package graph implements the dependency DAG at the heart of the analysis:
// nodes are requests, cookies, unresolved markers, or user inputs; an edge
// from consumer to provider is labeled with the exact dynamic value being
// transported. The graph is acyclic by construction — AddEdge refuses any
// edge that would close a cycle.
package graph

import (
	"errors"
	"fmt"

	"github.com/harvestmcp/harvest/internal/har"
)

// NodeID identifies a node within one graph. IDs are dense indexes into the
// node vector and are never reused.
type NodeID int

// NodeKind discriminates the node payload.
type NodeKind string

const (
	// KindMaster is the primary request; exactly one exists after workflow
	// selection and it sorts last in dependency order.
	KindMaster NodeKind = "master"
	// KindCurl is an ordinary request contributing a value to a descendant.
	KindCurl NodeKind = "curl"
	// KindCookie supplies a value from the cookie jar.
	KindCookie NodeKind = "cookie"
	// KindNotFound stands for a dynamic value with no identified source.
	// Its presence means the graph is not complete.
	KindNotFound NodeKind = "not_found"
	// KindInput is a request parameter surfaced in the generated client's
	// signature. Optional inputs may be omitted by the caller.
	KindInput NodeKind = "input"
)

// Node is one vertex of the dependency graph. Request is set for master and
// curl nodes, CookieName for cookie nodes, Content for not_found and input
// nodes. DynamicParts shrinks as resolution progresses; ExtractedParts lists
// values the node is known to produce.
type Node struct {
	ID             NodeID
	Kind           NodeKind
	Request        *har.Request
	CookieName     string
	Content        string
	Optional       bool
	DynamicParts   []string
	ExtractedParts []string
	InputVariables map[string]string

	removed bool
}

// Resolved reports whether the node has no unresolved dynamic parts.
func (n *Node) Resolved() bool {
	return len(n.DynamicParts) == 0
}

// Label returns a human-readable handle for logs and diagnostics.
func (n *Node) Label() string {
	switch n.Kind {
	case KindMaster, KindCurl:
		if n.Request != nil {
			return n.Request.Method + " " + n.Request.URL
		}
		return string(n.Kind)
	case KindCookie:
		return "cookie:" + n.CookieName
	default:
		return string(n.Kind) + ":" + n.Content
	}
}

// Edge is a directed dependency from a consumer node to the provider of one
// dynamic part. Edges are unique per (From, To, Label).
type Edge struct {
	From  NodeID `json:"from"`
	To    NodeID `json:"to"`
	Label string `json:"label"`
}

// Attrs carries the optional initial state for AddNode and the partial
// update for UpdateNode. Nil slices/maps in an update leave the field as is.
type Attrs struct {
	DynamicParts   []string
	ExtractedParts []string
	InputVariables map[string]string
}

// Structural errors. Callers match with errors.Is.
var (
	ErrNodeNotFound    = errors.New("node not found")
	ErrWouldCreateCycle = errors.New("edge would create a cycle")
)

// Graph is the DAG store. Not safe for concurrent use; each session owns one
// graph and accesses it from a single task.
type Graph struct {
	nodes   []*Node
	out     map[NodeID][]Edge // consumer -> providers, insertion order
	in      map[NodeID][]Edge // provider -> consumers, insertion order
	edges   map[Edge]bool
	master  NodeID
}

// New creates an empty graph.
func New() *Graph {
	return &Graph{
		out:    make(map[NodeID][]Edge),
		in:     make(map[NodeID][]Edge),
		edges:  make(map[Edge]bool),
		master: -1,
	}
}

// AddNode appends a node of the given kind. payload is interpreted by kind:
// a *har.Request for master/curl, a cookie name for cookie, the raw value or
// variable name for not_found/input. O(1).
func (g *Graph) AddNode(kind NodeKind, payload any, attrs Attrs) NodeID {
	n := &Node{
		ID:             NodeID(len(g.nodes)),
		Kind:           kind,
		DynamicParts:   attrs.DynamicParts,
		ExtractedParts: attrs.ExtractedParts,
		InputVariables: attrs.InputVariables,
	}
	switch kind {
	case KindMaster, KindCurl:
		if req, ok := payload.(*har.Request); ok {
			n.Request = req
		}
	case KindCookie:
		if name, ok := payload.(string); ok {
			n.CookieName = name
		}
	default:
		if s, ok := payload.(string); ok {
			n.Content = s
		}
	}
	g.nodes = append(g.nodes, n)
	if kind == KindMaster {
		g.master = n.ID
	}
	return n.ID
}

// Node returns the node for id.
func (g *Graph) Node(id NodeID) (*Node, error) {
	if int(id) < 0 || int(id) >= len(g.nodes) || g.nodes[id].removed {
		return nil, fmt.Errorf("node %d: %w", id, ErrNodeNotFound)
	}
	return g.nodes[id], nil
}

// Nodes returns all live nodes in insertion order.
func (g *Graph) Nodes() []*Node {
	live := make([]*Node, 0, len(g.nodes))
	for _, n := range g.nodes {
		if !n.removed {
			live = append(live, n)
		}
	}
	return live
}

// NodeCount returns the number of live nodes.
func (g *Graph) NodeCount() int {
	count := 0
	for _, n := range g.nodes {
		if !n.removed {
			count++
		}
	}
	return count
}

// RetractNotFound removes the not_found marker for value, detaching its
// consumer edges. Only not_found nodes can be retracted — they are
// placeholders, not recorded traffic — and retraction is how the manual
// override surface clears a blocker once a real source is supplied.
func (g *Graph) RetractNotFound(value string) []NodeID {
	var consumers []NodeID
	for _, n := range g.nodes {
		if n.removed || n.Kind != KindNotFound || n.Content != value {
			continue
		}
		for _, e := range g.in[n.ID] {
			consumers = append(consumers, e.From)
			g.out[e.From] = dropEdge(g.out[e.From], e)
			delete(g.edges, e)
		}
		delete(g.in, n.ID)
		n.removed = true
	}
	return consumers
}

func dropEdge(edges []Edge, target Edge) []Edge {
	kept := edges[:0]
	for _, e := range edges {
		if e != target {
			kept = append(kept, e)
		}
	}
	return kept
}

// Master returns the master node id, or false if none has been set.
func (g *Graph) Master() (NodeID, bool) {
	return g.master, g.master >= 0
}

// SetMaster redesignates the master node. Any previous master demotes to an
// ordinary curl node.
func (g *Graph) SetMaster(id NodeID) {
	if g.master >= 0 && g.master != id && !g.nodes[g.master].removed {
		g.nodes[g.master].Kind = KindCurl
	}
	g.master = id
}

// UpdateNode overwrites the attribute fields present in attrs.
func (g *Graph) UpdateNode(id NodeID, attrs Attrs) error {
	n, err := g.Node(id)
	if err != nil {
		return err
	}
	if attrs.DynamicParts != nil {
		n.DynamicParts = attrs.DynamicParts
	}
	if attrs.ExtractedParts != nil {
		n.ExtractedParts = attrs.ExtractedParts
	}
	if attrs.InputVariables != nil {
		n.InputVariables = attrs.InputVariables
	}
	return nil
}

// ResolveDynamicPart removes part from the node's unresolved list. Removing
// a part that is not present is a no-op.
func (g *Graph) ResolveDynamicPart(id NodeID, part string) error {
	n, err := g.Node(id)
	if err != nil {
		return err
	}
	kept := n.DynamicParts[:0]
	for _, p := range n.DynamicParts {
		if p != part {
			kept = append(kept, p)
		}
	}
	n.DynamicParts = kept
	return nil
}

// AddEdge records that from consumes label from to. Duplicate edges are
// no-ops. The edge is refused with ErrWouldCreateCycle if to can already
// reach from, leaving the graph unchanged.
func (g *Graph) AddEdge(from, to NodeID, label string) error {
	if _, err := g.Node(from); err != nil {
		return err
	}
	if _, err := g.Node(to); err != nil {
		return err
	}
	e := Edge{From: from, To: to, Label: label}
	if g.edges[e] {
		return nil
	}
	if from == to || g.reachable(to, from) {
		return fmt.Errorf("edge %d->%d: %w", from, to, ErrWouldCreateCycle)
	}
	g.edges[e] = true
	g.out[from] = append(g.out[from], e)
	g.in[to] = append(g.in[to], e)
	return nil
}

// reachable reports whether dst is reachable from src along out-edges.
func (g *Graph) reachable(src, dst NodeID) bool {
	seen := make(map[NodeID]bool)
	stack := []NodeID{src}
	for len(stack) > 0 {
		id := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		if id == dst {
			return true
		}
		if seen[id] {
			continue
		}
		seen[id] = true
		for _, e := range g.out[id] {
			stack = append(stack, e.To)
		}
	}
	return false
}

// Edges returns every edge in insertion order grouped by consumer.
func (g *Graph) Edges() []Edge {
	var all []Edge
	for _, n := range g.Nodes() {
		all = append(all, g.out[n.ID]...)
	}
	return all
}

// Successors returns the provider node ids adjacent to id, in the order the
// edges were inserted.
func (g *Graph) Successors(id NodeID) []NodeID {
	return adjacent(g.out[id], func(e Edge) NodeID { return e.To })
}

// Predecessors returns the consumer node ids adjacent to id, in the order
// the edges were inserted.
func (g *Graph) Predecessors(id NodeID) []NodeID {
	return adjacent(g.in[id], func(e Edge) NodeID { return e.From })
}

func adjacent(edges []Edge, pick func(Edge) NodeID) []NodeID {
	var ids []NodeID
	seen := make(map[NodeID]bool)
	for _, e := range edges {
		id := pick(e)
		if !seen[id] {
			seen[id] = true
			ids = append(ids, id)
		}
	}
	return ids
}

// TopologicalSort returns node ids in dependency order: every provider
// before its consumers, the master node last. Ties break on insertion order.
// An empty graph yields an empty slice.
func (g *Graph) TopologicalSort() []NodeID {
	// A node's in-degree here is its number of outstanding dependencies
	// (distinct providers), so zero-dependency nodes drain first.
	nodes := g.Nodes()
	deps := make(map[NodeID]int, len(nodes))
	for _, n := range nodes {
		deps[n.ID] = len(g.Successors(n.ID))
	}

	var queue []NodeID
	for _, n := range nodes {
		if deps[n.ID] == 0 {
			queue = append(queue, n.ID)
		}
	}

	sorted := make([]NodeID, 0, len(nodes))
	for len(queue) > 0 {
		id := queue[0]
		queue = queue[1:]
		sorted = append(sorted, id)
		for _, consumer := range g.Predecessors(id) {
			deps[consumer]--
			if deps[consumer] == 0 {
				queue = append(queue, consumer)
			}
		}
	}
	return sorted
}

// DetectCycles returns a cycle witness, or nil. Since AddEdge refuses
// cycles, a non-nil result indicates a bug in the graph itself.
func (g *Graph) DetectCycles() []NodeID {
	sorted := g.TopologicalSort()
	if len(sorted) == g.NodeCount() {
		return nil
	}
	placed := make(map[NodeID]bool, len(sorted))
	for _, id := range sorted {
		placed[id] = true
	}
	var witness []NodeID
	for _, n := range g.Nodes() {
		if !placed[n.ID] {
			witness = append(witness, n.ID)
		}
	}
	return witness
}

// IsComplete reports whether every node is resolved and no not_found node
// remains.
func (g *Graph) IsComplete() bool {
	for _, n := range g.Nodes() {
		if n.Kind == KindNotFound {
			return false
		}
		if !n.Resolved() {
			return false
		}
	}
	return true
}

// Unresolved maps each node with outstanding dynamic parts to that list.
func (g *Graph) Unresolved() map[NodeID][]string {
	out := make(map[NodeID][]string)
	for _, n := range g.Nodes() {
		if !n.Resolved() {
			out[n.ID] = n.DynamicParts
		}
	}
	return out
}
