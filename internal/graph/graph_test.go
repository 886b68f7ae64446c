package graph

import (
	"errors"
	"testing"

	"github.com/harvestmcp/harvest/internal/har"
)

func req(method, url string) *har.Request {
	return &har.Request{Method: method, URL: url}
}

func TestAddNodeAndLookup(t *testing.T) {
	g := New()
	id := g.AddNode(KindMaster, req("POST", "https://x/api/do"), Attrs{DynamicParts: []string{"tok"}})

	n, err := g.Node(id)
	if err != nil {
		t.Fatalf("node: %v", err)
	}
	if n.Kind != KindMaster || n.Request.URL != "https://x/api/do" {
		t.Errorf("unexpected node: %+v", n)
	}
	if master, ok := g.Master(); !ok || master != id {
		t.Errorf("expected master %d, got %d ok=%v", id, master, ok)
	}

	if _, err := g.Node(99); !errors.Is(err, ErrNodeNotFound) {
		t.Errorf("expected ErrNodeNotFound, got %v", err)
	}
}

func TestAddEdgeRejectsCycle(t *testing.T) {
	g := New()
	a := g.AddNode(KindCurl, req("GET", "https://x/a"), Attrs{})
	b := g.AddNode(KindCurl, req("GET", "https://x/b"), Attrs{})

	if err := g.AddEdge(a, b, "v1"); err != nil {
		t.Fatalf("a->b: %v", err)
	}
	err := g.AddEdge(b, a, "v2")
	if !errors.Is(err, ErrWouldCreateCycle) {
		t.Fatalf("expected ErrWouldCreateCycle, got %v", err)
	}

	// Graph unchanged: only the first edge exists, and no cycle is present.
	if len(g.Edges()) != 1 {
		t.Errorf("expected 1 edge after rejection, got %d", len(g.Edges()))
	}
	if w := g.DetectCycles(); w != nil {
		t.Errorf("expected no cycle witness, got %v", w)
	}
}

func TestAddEdgeRejectsSelfLoop(t *testing.T) {
	g := New()
	a := g.AddNode(KindCurl, req("GET", "https://x/a"), Attrs{})
	if err := g.AddEdge(a, a, "v"); !errors.Is(err, ErrWouldCreateCycle) {
		t.Errorf("expected ErrWouldCreateCycle for self loop, got %v", err)
	}
}

func TestAddEdgeIdempotent(t *testing.T) {
	g := New()
	a := g.AddNode(KindCurl, req("GET", "https://x/a"), Attrs{})
	b := g.AddNode(KindCurl, req("GET", "https://x/b"), Attrs{})

	if err := g.AddEdge(a, b, "tok"); err != nil {
		t.Fatal(err)
	}
	if err := g.AddEdge(a, b, "tok"); err != nil {
		t.Fatalf("duplicate edge should be a no-op, got %v", err)
	}
	if len(g.Edges()) != 1 {
		t.Errorf("expected 1 edge, got %d", len(g.Edges()))
	}

	// Same pair, different label is a distinct edge.
	if err := g.AddEdge(a, b, "tok2"); err != nil {
		t.Fatal(err)
	}
	if len(g.Edges()) != 2 {
		t.Errorf("expected 2 edges, got %d", len(g.Edges()))
	}
}

func TestTopologicalSortMasterLast(t *testing.T) {
	g := New()
	master := g.AddNode(KindMaster, req("GET", "https://x/me"), Attrs{})
	login := g.AddNode(KindCurl, req("POST", "https://x/login"), Attrs{})
	cookie := g.AddNode(KindCookie, "sid", Attrs{})

	if err := g.AddEdge(master, login, "tok"); err != nil {
		t.Fatal(err)
	}
	if err := g.AddEdge(master, cookie, "sid-val"); err != nil {
		t.Fatal(err)
	}

	order := g.TopologicalSort()
	if len(order) != 3 {
		t.Fatalf("expected 3 nodes in order, got %d", len(order))
	}
	if order[len(order)-1] != master {
		t.Errorf("expected master last, got %v", order)
	}
	// Providers keep insertion order among themselves.
	if order[0] != login || order[1] != cookie {
		t.Errorf("expected providers in insertion order, got %v", order)
	}
}

func TestTopologicalSortEmpty(t *testing.T) {
	if got := New().TopologicalSort(); len(got) != 0 {
		t.Errorf("expected empty order, got %v", got)
	}
}

func TestIsCompleteAndUnresolved(t *testing.T) {
	g := New()
	m := g.AddNode(KindMaster, req("POST", "https://x/api/do"), Attrs{DynamicParts: []string{"sig"}})
	if g.IsComplete() {
		t.Error("graph with unresolved parts should not be complete")
	}

	un := g.Unresolved()
	if parts, ok := un[m]; !ok || len(parts) != 1 || parts[0] != "sig" {
		t.Errorf("unexpected unresolved map: %v", un)
	}

	if err := g.ResolveDynamicPart(m, "sig"); err != nil {
		t.Fatal(err)
	}
	if !g.IsComplete() {
		t.Error("expected complete after resolving")
	}

	g.AddNode(KindNotFound, "deadbeef", Attrs{})
	if g.IsComplete() {
		t.Error("not_found node should block completeness")
	}
}

func TestPredecessorsSuccessors(t *testing.T) {
	g := New()
	a := g.AddNode(KindMaster, req("GET", "https://x/a"), Attrs{})
	b := g.AddNode(KindCurl, req("GET", "https://x/b"), Attrs{})
	c := g.AddNode(KindCookie, "sid", Attrs{})

	_ = g.AddEdge(a, b, "v1")
	_ = g.AddEdge(a, c, "v2")

	succ := g.Successors(a)
	if len(succ) != 2 || succ[0] != b || succ[1] != c {
		t.Errorf("unexpected successors: %v", succ)
	}
	pred := g.Predecessors(b)
	if len(pred) != 1 || pred[0] != a {
		t.Errorf("unexpected predecessors: %v", pred)
	}
}

func TestSerializeRestoreIsomorphic(t *testing.T) {
	archive, err := har.Parse([]byte(`{"log":{"entries":[
		{"startedDateTime":"2025-06-01T10:00:00Z","request":{"method":"POST","url":"https://x/login","headers":[],"queryString":[]},
		 "response":{"status":200,"statusText":"OK","headers":[],"content":{"mimeType":"application/json","text":"{\"token\":\"t1\"}"}}},
		{"startedDateTime":"2025-06-01T10:00:01Z","request":{"method":"GET","url":"https://x/me","headers":[],"queryString":[]},
		 "response":{"status":200,"statusText":"OK","headers":[],"content":{"mimeType":"application/json","text":"{}"}}}
	]}}`))
	if err != nil {
		t.Fatal(err)
	}

	g := New()
	login, _ := archive.FindByURL("https://x/login", "POST")
	me, _ := archive.FindByURL("https://x/me", "GET")
	m := g.AddNode(KindMaster, me, Attrs{})
	l := g.AddNode(KindCurl, login, Attrs{ExtractedParts: []string{"t1"}})
	_ = g.AddEdge(m, l, "t1")

	data, err := g.MarshalJSON()
	if err != nil {
		t.Fatal(err)
	}

	restored, err := Restore(data, archive)
	if err != nil {
		t.Fatal(err)
	}
	if restored.NodeCount() != 2 {
		t.Fatalf("expected 2 nodes, got %d", restored.NodeCount())
	}
	rm, ok := restored.Master()
	if !ok {
		t.Fatal("expected master after restore")
	}
	n, _ := restored.Node(rm)
	if n.Request == nil || n.Request.URL != "https://x/me" {
		t.Errorf("master not re-linked: %+v", n)
	}
	edges := restored.Edges()
	if len(edges) != 1 || edges[0].Label != "t1" {
		t.Errorf("unexpected restored edges: %v", edges)
	}
}
