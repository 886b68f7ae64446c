// Package resolver locates a producer for each dynamic value on a graph
// node. Cookies are checked first and win over request sources; responses
// are scanned in capture order so the earliest producer is chosen; values
// with no source become not_found nodes. The same package answers bootstrap
// queries for the parameter classifier, since both walks share the response
// scan.
package resolver

import (
	"sort"
	"strings"

	"github.com/harvestmcp/harvest/internal/graph"
	"github.com/harvestmcp/harvest/internal/har"
)

// Resolver links dynamic parts to their sources within one session.
type Resolver struct {
	archive *har.Archive
	jar     har.Jar
	g       *graph.Graph
}

// New creates a Resolver over the session's traffic, jar, and graph.
func New(archive *har.Archive, jar har.Jar, g *graph.Graph) *Resolver {
	return &Resolver{archive: archive, jar: jar, g: g}
}

// Resolve dispositions every outstanding dynamic part of consumer, creating
// producer nodes and labeled edges. It returns the ids of newly created
// request-backed nodes — the caller enqueues those for their own resolution
// pass. Cookie and not_found nodes are terminal and are not returned.
func (r *Resolver) Resolve(consumer graph.NodeID) ([]graph.NodeID, error) {
	node, err := r.g.Node(consumer)
	if err != nil {
		return nil, err
	}

	var created []graph.NodeID
	parts := append([]string(nil), node.DynamicParts...)
	for _, part := range parts {
		producer, isNew, err := r.resolvePart(consumer, part)
		if err != nil {
			return created, err
		}
		if err := r.g.ResolveDynamicPart(consumer, part); err != nil {
			return created, err
		}
		if isNew {
			if p, err := r.g.Node(producer); err == nil && (p.Kind == graph.KindCurl) {
				created = append(created, producer)
			}
		}
	}
	return created, nil
}

// resolvePart finds or creates the producer node for one value and links the
// consumer to it.
func (r *Resolver) resolvePart(consumer graph.NodeID, part string) (graph.NodeID, bool, error) {
	// Cookie pass. Exact value match; cookies take priority over request
	// sources. Names are sorted so resolution is deterministic.
	names := make([]string, 0, len(r.jar))
	for name := range r.jar {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		if r.jar[name].Value != part {
			continue
		}
		id, isNew := r.findOrAddCookieNode(name, part)
		return id, isNew, r.g.AddEdge(consumer, id, part)
	}

	// Response pass. Requests are in capture order, so the first hit is the
	// earliest response that produced the value.
	consumerNode, err := r.g.Node(consumer)
	if err != nil {
		return 0, false, err
	}
	for _, req := range r.archive.Requests() {
		if req == consumerNode.Request || req.IsJavaScript() {
			continue
		}
		if !responseProduces(req, part) {
			continue
		}
		id, isNew := r.findOrAddCurlNode(req, part)
		return id, isNew, r.g.AddEdge(consumer, id, part)
	}

	// No source found.
	id := r.g.AddNode(graph.KindNotFound, part, graph.Attrs{})
	return id, true, r.g.AddEdge(consumer, id, part)
}

// responseProduces reports whether the recorded response carries value
// verbatim in its body, a header value, or a Set-Cookie payload.
func responseProduces(req *har.Request, value string) bool {
	resp := req.Response
	if resp == nil || value == "" {
		return false
	}
	if strings.Contains(resp.Body.Text, value) {
		return true
	}
	for _, h := range resp.Headers {
		if strings.Contains(h.Value, value) {
			return true
		}
	}
	return false
}

func (r *Resolver) findOrAddCookieNode(name, part string) (graph.NodeID, bool) {
	for _, n := range r.g.Nodes() {
		if n.Kind == graph.KindCookie && n.CookieName == name {
			n.ExtractedParts = appendUnique(n.ExtractedParts, part)
			return n.ID, false
		}
	}
	id := r.g.AddNode(graph.KindCookie, name, graph.Attrs{ExtractedParts: []string{part}})
	return id, true
}

func (r *Resolver) findOrAddCurlNode(req *har.Request, part string) (graph.NodeID, bool) {
	for _, n := range r.g.Nodes() {
		if (n.Kind == graph.KindCurl || n.Kind == graph.KindMaster) && n.Request == req {
			n.ExtractedParts = appendUnique(n.ExtractedParts, part)
			return n.ID, false
		}
	}
	id := r.g.AddNode(graph.KindCurl, req, graph.Attrs{ExtractedParts: []string{part}})
	return id, true
}

func appendUnique(list []string, v string) []string {
	for _, existing := range list {
		if existing == v {
			return list
		}
	}
	return append(list, v)
}
