package graph

import (
	"encoding/json"
	"fmt"

	"github.com/harvestmcp/harvest/internal/har"
)

// serialNode is the persisted form of a node. Request-backed nodes store the
// method+URL key and are re-linked against the archive on restore, so a
// restored graph is content-isomorphic even though ids may be reassigned.
type serialNode struct {
	ID             NodeID            `json:"id"`
	Kind           NodeKind          `json:"kind"`
	RequestMethod  string            `json:"request_method,omitempty"`
	RequestURL     string            `json:"request_url,omitempty"`
	CookieName     string            `json:"cookie_name,omitempty"`
	Content        string            `json:"content,omitempty"`
	Optional       bool              `json:"optional,omitempty"`
	DynamicParts   []string          `json:"dynamic_parts,omitempty"`
	ExtractedParts []string          `json:"extracted_parts,omitempty"`
	InputVariables map[string]string `json:"input_variables,omitempty"`
}

type serialGraph struct {
	Nodes []serialNode `json:"nodes"`
	Edges []Edge       `json:"edges"`
}

// MarshalJSON serializes the graph for persistence.
func (g *Graph) MarshalJSON() ([]byte, error) {
	s := serialGraph{Edges: g.Edges()}
	for _, n := range g.Nodes() {
		sn := serialNode{
			ID:             n.ID,
			Kind:           n.Kind,
			CookieName:     n.CookieName,
			Content:        n.Content,
			Optional:       n.Optional,
			DynamicParts:   n.DynamicParts,
			ExtractedParts: n.ExtractedParts,
			InputVariables: n.InputVariables,
		}
		if n.Request != nil {
			sn.RequestMethod = n.Request.Method
			sn.RequestURL = n.Request.URL
		}
		s.Nodes = append(s.Nodes, sn)
	}
	return json.Marshal(s)
}

// Restore rebuilds a graph from its serialized form, re-linking request
// nodes against archive by method+URL.
func Restore(data []byte, archive *har.Archive) (*Graph, error) {
	var s serialGraph
	if err := json.Unmarshal(data, &s); err != nil {
		return nil, fmt.Errorf("restore graph: %w", err)
	}

	g := New()
	remap := make(map[NodeID]NodeID, len(s.Nodes))
	for _, sn := range s.Nodes {
		attrs := Attrs{
			DynamicParts:   sn.DynamicParts,
			ExtractedParts: sn.ExtractedParts,
			InputVariables: sn.InputVariables,
		}
		var id NodeID
		switch sn.Kind {
		case KindMaster, KindCurl:
			req, ok := archive.FindByURL(sn.RequestURL, sn.RequestMethod)
			if !ok {
				return nil, fmt.Errorf("restore graph: request %s %s not in archive", sn.RequestMethod, sn.RequestURL)
			}
			id = g.AddNode(sn.Kind, req, attrs)
		case KindCookie:
			id = g.AddNode(sn.Kind, sn.CookieName, attrs)
		default:
			id = g.AddNode(sn.Kind, sn.Content, attrs)
			if n, err := g.Node(id); err == nil {
				n.Optional = sn.Optional
			}
		}
		remap[sn.ID] = id
	}

	for _, e := range s.Edges {
		from, okF := remap[e.From]
		to, okT := remap[e.To]
		if !okF || !okT {
			return nil, fmt.Errorf("restore graph: edge %d->%d references unknown node", e.From, e.To)
		}
		if err := g.AddEdge(from, to, e.Label); err != nil {
			return nil, fmt.Errorf("restore graph: %w", err)
		}
	}
	return g, nil
}
