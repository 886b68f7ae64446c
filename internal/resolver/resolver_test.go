package resolver

import (
	"testing"

	"github.com/harvestmcp/harvest/internal/graph"
	"github.com/harvestmcp/harvest/internal/har"
)

const chainHAR = `{"log":{"entries":[
	{"startedDateTime":"2025-06-01T10:00:00Z",
	 "request":{"method":"POST","url":"https://x/login","headers":[],"queryString":[]},
	 "response":{"status":200,"statusText":"OK","headers":[{"name":"Content-Type","value":"application/json"}],
	             "content":{"mimeType":"application/json","text":"{\"token\":\"tok_ABCDEF1234567890\"}"}}},
	{"startedDateTime":"2025-06-01T10:00:05Z",
	 "request":{"method":"GET","url":"https://x/me","headers":[{"name":"Authorization","value":"Bearer tok_ABCDEF1234567890"}],"queryString":[]},
	 "response":{"status":200,"statusText":"OK","headers":[],"content":{"mimeType":"application/json","text":"{\"name\":\"ada\"}"}}}
]}}`

func chainSetup(t *testing.T, jar har.Jar) (*har.Archive, *graph.Graph, *Resolver, graph.NodeID) {
	t.Helper()
	archive, err := har.Parse([]byte(chainHAR))
	if err != nil {
		t.Fatal(err)
	}
	g := graph.New()
	me, ok := archive.FindByURL("https://x/me", "GET")
	if !ok {
		t.Fatal("missing /me in archive")
	}
	master := g.AddNode(graph.KindMaster, me, graph.Attrs{DynamicParts: []string{"tok_ABCDEF1234567890"}})
	return archive, g, New(archive, jar, g), master
}

func TestResolveFromResponse(t *testing.T) {
	_, g, r, master := chainSetup(t, nil)

	created, err := r.Resolve(master)
	if err != nil {
		t.Fatal(err)
	}
	if len(created) != 1 {
		t.Fatalf("expected 1 new producer node, got %d", len(created))
	}

	producer, _ := g.Node(created[0])
	if producer.Kind != graph.KindCurl || producer.Request.URL != "https://x/login" {
		t.Errorf("unexpected producer: %+v", producer)
	}
	if len(producer.ExtractedParts) != 1 || producer.ExtractedParts[0] != "tok_ABCDEF1234567890" {
		t.Errorf("producer should record the extracted part, got %v", producer.ExtractedParts)
	}

	edges := g.Edges()
	if len(edges) != 1 || edges[0].From != master || edges[0].To != created[0] || edges[0].Label != "tok_ABCDEF1234567890" {
		t.Errorf("unexpected edges: %+v", edges)
	}

	mnode, _ := g.Node(master)
	if !mnode.Resolved() {
		t.Errorf("master should have no dynamic parts left, got %v", mnode.DynamicParts)
	}
}

func TestCookieWinsOverResponse(t *testing.T) {
	jar := har.Jar{"session_token": {Name: "session_token", Value: "tok_ABCDEF1234567890"}}
	_, g, r, master := chainSetup(t, jar)

	created, err := r.Resolve(master)
	if err != nil {
		t.Fatal(err)
	}
	// Cookie nodes are terminal: nothing to enqueue.
	if len(created) != 0 {
		t.Fatalf("expected no enqueueable nodes, got %d", len(created))
	}

	var cookieNode *graph.Node
	for _, n := range g.Nodes() {
		if n.Kind == graph.KindCookie {
			cookieNode = n
		}
		if n.Kind == graph.KindCurl {
			t.Error("no curl node should be created when a cookie matches")
		}
	}
	if cookieNode == nil || cookieNode.CookieName != "session_token" {
		t.Fatalf("expected cookie node, got %+v", cookieNode)
	}
	if preds := g.Predecessors(cookieNode.ID); len(preds) != 1 || preds[0] != master {
		t.Errorf("expected exactly one consumer edge, got %v", preds)
	}
}

func TestUnresolvedBecomesNotFound(t *testing.T) {
	archive, err := har.Parse([]byte(chainHAR))
	if err != nil {
		t.Fatal(err)
	}
	g := graph.New()
	me, _ := archive.FindByURL("https://x/me", "GET")
	master := g.AddNode(graph.KindMaster, me, graph.Attrs{DynamicParts: []string{"deadbeef"}})

	created, err := New(archive, nil, g).Resolve(master)
	if err != nil {
		t.Fatal(err)
	}
	if len(created) != 0 {
		t.Fatalf("not_found nodes are not enqueued, got %v", created)
	}

	var nf *graph.Node
	for _, n := range g.Nodes() {
		if n.Kind == graph.KindNotFound {
			nf = n
		}
	}
	if nf == nil || nf.Content != "deadbeef" {
		t.Fatalf("expected not_found node for deadbeef, got %+v", nf)
	}
	if g.IsComplete() {
		t.Error("graph with not_found node must not be complete")
	}
}

func TestEarliestResponseWins(t *testing.T) {
	harText := `{"log":{"entries":[
		{"startedDateTime":"2025-06-01T10:00:02Z",
		 "request":{"method":"GET","url":"https://x/later","headers":[],"queryString":[]},
		 "response":{"status":200,"statusText":"OK","headers":[],"content":{"mimeType":"application/json","text":"{\"v\":\"shared_value_123\"}"}}},
		{"startedDateTime":"2025-06-01T10:00:01Z",
		 "request":{"method":"GET","url":"https://x/earlier","headers":[],"queryString":[]},
		 "response":{"status":200,"statusText":"OK","headers":[],"content":{"mimeType":"application/json","text":"{\"v\":\"shared_value_123\"}"}}},
		{"startedDateTime":"2025-06-01T10:00:03Z",
		 "request":{"method":"POST","url":"https://x/use","headers":[],"queryString":[]},
		 "response":{"status":200,"statusText":"OK","headers":[],"content":{"mimeType":"application/json","text":"{}"}}}
	]}}`
	archive, err := har.Parse([]byte(harText))
	if err != nil {
		t.Fatal(err)
	}
	g := graph.New()
	use, _ := archive.FindByURL("https://x/use", "POST")
	master := g.AddNode(graph.KindMaster, use, graph.Attrs{DynamicParts: []string{"shared_value_123"}})

	created, err := New(archive, nil, g).Resolve(master)
	if err != nil {
		t.Fatal(err)
	}
	if len(created) != 1 {
		t.Fatalf("expected one producer, got %d", len(created))
	}
	producer, _ := g.Node(created[0])
	if producer.Request.URL != "https://x/earlier" {
		t.Errorf("expected earliest response to win, got %s", producer.Request.URL)
	}
}

func TestJavaScriptNeverProduces(t *testing.T) {
	harText := `{"log":{"entries":[
		{"startedDateTime":"2025-06-01T10:00:00Z",
		 "request":{"method":"GET","url":"https://x/bundle.js","headers":[],"queryString":[]},
		 "response":{"status":200,"statusText":"OK","headers":[],"content":{"mimeType":"text/javascript","text":"var t=\"leaked_value_99\";"}}},
		{"startedDateTime":"2025-06-01T10:00:01Z",
		 "request":{"method":"POST","url":"https://x/use","headers":[],"queryString":[]},
		 "response":{"status":200,"statusText":"OK","headers":[],"content":{"mimeType":"application/json","text":"{}"}}}
	]}}`
	archive, err := har.Parse([]byte(harText))
	if err != nil {
		t.Fatal(err)
	}
	g := graph.New()
	use, _ := archive.FindByURL("https://x/use", "POST")
	master := g.AddNode(graph.KindMaster, use, graph.Attrs{DynamicParts: []string{"leaked_value_99"}})

	if _, err := New(archive, nil, g).Resolve(master); err != nil {
		t.Fatal(err)
	}
	for _, n := range g.Nodes() {
		if n.Kind == graph.KindCurl {
			t.Errorf("js response must never become a producer, got %s", n.Request.URL)
		}
	}
}

func TestFindBootstrapSource(t *testing.T) {
	archive, err := har.Parse([]byte(chainHAR))
	if err != nil {
		t.Fatal(err)
	}
	r := New(archive, nil, graph.New())

	src, ok := r.FindBootstrapSource("tok_ABCDEF1234567890", "https://x/me")
	if !ok {
		t.Fatal("expected bootstrap source")
	}
	if src.SourceURL != "https://x/login" || src.SourceType != "body_field" || src.FieldPath != "token" {
		t.Errorf("unexpected source: %+v", src)
	}

	// Short values are refused to avoid false positives.
	if _, ok := r.FindBootstrapSource("ada", "https://x/login"); ok {
		t.Error("short values must not match")
	}

	// The target's own response is excluded.
	if _, ok := r.FindBootstrapSource("tok_ABCDEF1234567890", "https://x/login"); ok {
		t.Error("target URL must be excluded from the scan")
	}
}

func TestFindBootstrapSourceNestedPath(t *testing.T) {
	harText := `{"log":{"entries":[
		{"startedDateTime":"2025-06-01T10:00:00Z",
		 "request":{"method":"GET","url":"https://x/boot","headers":[],"queryString":[]},
		 "response":{"status":200,"statusText":"OK","headers":[{"name":"Content-Type","value":"application/json"}],
		             "content":{"mimeType":"application/json","text":"{\"auth\":{\"keys\":[{\"id\":\"k\",\"value\":\"nested_secret_42\"}]}}"}}}
	]}}`
	archive, err := har.Parse([]byte(harText))
	if err != nil {
		t.Fatal(err)
	}
	r := New(archive, nil, graph.New())
	src, ok := r.FindBootstrapSource("nested_secret_42", "https://x/target")
	if !ok {
		t.Fatal("expected nested source")
	}
	if src.FieldPath != "auth.keys.0.value" {
		t.Errorf("unexpected field path %q", src.FieldPath)
	}
}
