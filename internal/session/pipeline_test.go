package session

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/harvestmcp/harvest/internal/classifier"
	"github.com/harvestmcp/harvest/internal/graph"
	"github.com/harvestmcp/harvest/internal/oracle"
)

// contextualOracle answers like the real one: it only returns dynamic parts
// that actually appear in the request it was shown.
func contextualOracle(t *testing.T, endURL string, knownParts ...string) oracle.Oracle {
	t.Helper()
	return oracle.Func(func(ctx context.Context, req oracle.Request) (json.RawMessage, error) {
		content := ""
		for _, m := range req.Messages {
			content += m.Content
		}
		switch req.Function.Name {
		case "identify_end_url":
			return json.Marshal(map[string]string{"url": endURL})
		case "identify_dynamic_parts":
			parts := []string{}
			for _, p := range knownParts {
				if strings.Contains(content, p) {
					parts = append(parts, p)
				}
			}
			return json.Marshal(map[string][]string{"dynamic_parts": parts})
		case "analyze_session_tokens":
			return json.RawMessage(`{"potentialSessionTokens":[],"authenticationParameters":[],"confidence":0.5,"analysis":"none"}`), nil
		case "identify_input_variables":
			return json.RawMessage(`{"identified_variables":[]}`), nil
		case "classify_parameters":
			return nil, &oracle.Error{Kind: oracle.KindUnavailable, Msg: "heuristics only"}
		}
		return nil, &oracle.Error{Kind: oracle.KindUnavailable, Msg: "unscripted"}
	})
}

func downOracle() oracle.Oracle {
	return oracle.Func(func(ctx context.Context, req oracle.Request) (json.RawMessage, error) {
		return nil, &oracle.Error{Kind: oracle.KindUnavailable, Msg: "down"}
	})
}

func writeFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

// drain pumps ProcessNextNode until it stops reporting "processed".
func drain(t *testing.T, e *Engine, s *Session) (ProcessResult, error) {
	t.Helper()
	for i := 0; i < 50; i++ {
		res, err := e.ProcessNextNode(context.Background(), s)
		if err != nil || res.Status != "processed" {
			return res, err
		}
	}
	t.Fatal("pipeline did not terminate in 50 steps")
	return ProcessResult{}, nil
}

const pingHAR = `{"log":{"entries":[
	{"startedDateTime":"2025-06-01T10:00:00Z",
	 "request":{"method":"GET","url":"https://api.x/v1/ping","headers":[],"queryString":[]},
	 "response":{"status":200,"statusText":"OK","headers":[{"name":"Content-Type","value":"application/json"}],
	             "content":{"mimeType":"application/json","text":"{\"pong\":true}"}}}
]}}`

func TestSingleURLShortcut(t *testing.T) {
	// Scenario: one API URL in the capture. The identifier must not consult
	// the oracle, and the session must run straight to ready_for_emission.
	endURLCalls := 0
	o := oracle.Func(func(ctx context.Context, req oracle.Request) (json.RawMessage, error) {
		if req.Function.Name == "identify_end_url" {
			endURLCalls++
		}
		return nil, &oracle.Error{Kind: oracle.KindUnavailable, Msg: "down"}
	})
	e := NewEngine(o)

	s, err := e.Create(writeFile(t, "ping.har", pingHAR), "", "ping the service", nil)
	if err != nil {
		t.Fatal(err)
	}
	if s.State != StateAwaitingWorkflowSelection {
		t.Fatalf("expected awaiting selection, got %s", s.State)
	}

	if err := e.SelectWorkflow(context.Background(), s); err != nil {
		t.Fatal(err)
	}
	if s.ActionURL != "https://api.x/v1/ping" {
		t.Errorf("unexpected action url %s", s.ActionURL)
	}

	res, err := drain(t, e, s)
	if err != nil {
		t.Fatal(err)
	}
	if res.Status != "complete" || s.State != StateReadyForEmission {
		t.Errorf("expected complete/ready, got %s/%s", res.Status, s.State)
	}
	if s.Graph.NodeCount() != 1 || len(s.Graph.Edges()) != 0 {
		t.Errorf("expected 1 node 0 edges, got %d/%d", s.Graph.NodeCount(), len(s.Graph.Edges()))
	}

	// identify_end_url is never called for a single candidate; the only
	// oracle traffic is the (failing) extraction calls.
	if endURLCalls != 0 {
		t.Errorf("end-url oracle must not be consulted for a single candidate, got %d calls", endURLCalls)
	}
}

func TestProcessNextNodeIdempotentWhenComplete(t *testing.T) {
	e := NewEngine(downOracle())
	s, err := e.Create(writeFile(t, "ping.har", pingHAR), "", "ping the service", nil)
	if err != nil {
		t.Fatal(err)
	}
	if err := e.SelectWorkflow(context.Background(), s); err != nil {
		t.Fatal(err)
	}
	if _, err := drain(t, e, s); err != nil {
		t.Fatal(err)
	}

	res, err := e.ProcessNextNode(context.Background(), s)
	if err != nil {
		t.Fatal(err)
	}
	if res.Status != "already_complete" || s.State != StateReadyForEmission {
		t.Errorf("expected idempotent no-op, got %s/%s", res.Status, s.State)
	}
}

const bearerChainHAR = `{"log":{"entries":[
	{"startedDateTime":"2025-06-01T10:00:00Z",
	 "request":{"method":"POST","url":"https://x/login","headers":[{"name":"Content-Type","value":"application/json"}],"queryString":[]},
	 "response":{"status":200,"statusText":"OK","headers":[{"name":"Content-Type","value":"application/json"}],
	             "content":{"mimeType":"application/json","text":"{\"token\":\"tok_ABCDEF1234567890\"}"}}},
	{"startedDateTime":"2025-06-01T10:00:05Z",
	 "request":{"method":"GET","url":"https://x/me","headers":[{"name":"Authorization","value":"Bearer tok_ABCDEF1234567890"}],"queryString":[]},
	 "response":{"status":200,"statusText":"OK","headers":[{"name":"Content-Type","value":"application/json"}],
	             "content":{"mimeType":"application/json","text":"{\"name\":\"ada\"}"}}}
]}}`

func TestBearerTokenChain(t *testing.T) {
	// Scenario: /me depends on a token minted by /login. The pipeline must
	// link the two with a labeled edge and end complete.
	o := contextualOracle(t, "https://x/me", "tok_ABCDEF1234567890")
	e := NewEngine(o)

	s, err := e.Create(writeFile(t, "chain.har", bearerChainHAR), "", "fetch profile", nil)
	if err != nil {
		t.Fatal(err)
	}
	if err := e.SelectWorkflow(context.Background(), s); err != nil {
		t.Fatal(err)
	}

	masterID, ok := s.Graph.Master()
	if !ok {
		t.Fatal("expected master node")
	}
	master, _ := s.Graph.Node(masterID)
	if master.Request.URL != "https://x/me" {
		t.Fatalf("expected /me master, got %s", master.Request.URL)
	}

	res, err := drain(t, e, s)
	if err != nil {
		t.Fatal(err)
	}
	if res.Status != "complete" || s.State != StateReadyForEmission {
		t.Fatalf("expected ready, got %s/%s (err=%v)", res.Status, s.State, s.Err)
	}

	edges := s.Graph.Edges()
	if len(edges) != 1 || edges[0].Label != "tok_ABCDEF1234567890" {
		t.Fatalf("expected one labeled edge, got %+v", edges)
	}
	provider, _ := s.Graph.Node(edges[0].To)
	if provider.Kind != graph.KindCurl || provider.Request.URL != "https://x/login" {
		t.Errorf("expected /login producer, got %+v", provider)
	}

	if !s.Graph.IsComplete() {
		t.Error("graph should be complete")
	}
	if s.Auth == nil || len(s.Auth.Tokens) != 1 || !s.Auth.Readiness.IsReady {
		t.Errorf("unexpected auth analysis: %+v", s.Auth)
	}

	// Topological order puts /login before the master.
	order := s.Graph.TopologicalSort()
	if len(order) != 2 || order[len(order)-1] != masterID {
		t.Errorf("unexpected order %v", order)
	}
}

const csrfHAR = `{"log":{"entries":[
	{"startedDateTime":"2025-06-01T10:00:00Z",
	 "request":{"method":"GET","url":"https://x/","headers":[],"queryString":[]},
	 "response":{"status":200,"statusText":"OK","headers":[{"name":"Set-Cookie","value":"XSRF-TOKEN=xyz789; Path=/"}],
	             "content":{"mimeType":"text/html","text":"<html></html>"}}},
	{"startedDateTime":"2025-06-01T10:00:03Z",
	 "request":{"method":"POST","url":"https://x/api/do","headers":[{"name":"X-XSRF-Token","value":"xyz789"}],"queryString":[]},
	 "response":{"status":200,"statusText":"OK","headers":[{"name":"Content-Type","value":"application/json"}],
	             "content":{"mimeType":"application/json","text":"{\"done\":true}"}}}
]}}`

func TestCSRFCookieWins(t *testing.T) {
	// Scenario: the CSRF value exists both in the jar and in a prior
	// response header; the cookie must win.
	o := contextualOracle(t, "https://x/api/do", "xyz789")
	e := NewEngine(o)

	cookiePath := writeFile(t, "cookies.json", `{"cookies":[{"name":"XSRF-TOKEN","value":"xyz789"}]}`)
	s, err := e.Create(writeFile(t, "csrf.har", csrfHAR), cookiePath, "trigger action", nil)
	if err != nil {
		t.Fatal(err)
	}
	if err := e.SelectWorkflow(context.Background(), s); err != nil {
		t.Fatal(err)
	}
	if _, err := drain(t, e, s); err != nil {
		t.Fatal(err)
	}

	var cookieNode *graph.Node
	for _, n := range s.Graph.Nodes() {
		switch n.Kind {
		case graph.KindCookie:
			cookieNode = n
		case graph.KindCurl:
			t.Errorf("cookie should win over the response source, found curl node %s", n.Label())
		}
	}
	if cookieNode == nil || cookieNode.CookieName != "XSRF-TOKEN" {
		t.Fatalf("expected XSRF-TOKEN cookie node, got %+v", cookieNode)
	}

	masterID, _ := s.Graph.Master()
	if preds := s.Graph.Predecessors(cookieNode.ID); len(preds) != 1 || preds[0] != masterID {
		t.Errorf("expected exactly one consumer edge from master, got %v", preds)
	}

	// The CSRF header parameter classifies as a session constant.
	foundSessionConstant := false
	for _, p := range s.Params[masterID] {
		if p.Name == "X-XSRF-Token" && p.Classification == classifier.SessionConstant {
			foundSessionConstant = true
		}
	}
	if !foundSessionConstant {
		t.Errorf("expected X-XSRF-Token classified sessionConstant, got %+v", s.Params[masterID])
	}
}

const unresolvedHAR = `{"log":{"entries":[
	{"startedDateTime":"2025-06-01T10:00:00Z",
	 "request":{"method":"POST","url":"https://x/api/search","headers":[{"name":"Content-Type","value":"application/json"}],"queryString":[],
	            "postData":{"mimeType":"application/json","text":"{\"sig\":\"deadbeef\"}"}},
	 "response":{"status":200,"statusText":"OK","headers":[{"name":"Content-Type","value":"application/json"}],
	             "content":{"mimeType":"application/json","text":"{\"hits\":[]}"}}}
]}}`

func TestUnresolvedValueBlocksCompletion(t *testing.T) {
	// Scenario: nothing produces "deadbeef". A not_found node appears and
	// completion reports the blocker with its repair recommendations.
	o := contextualOracle(t, "https://x/api/search", "deadbeef")
	e := NewEngine(o)

	s, err := e.Create(writeFile(t, "u.har", unresolvedHAR), "", "search things", nil)
	if err != nil {
		t.Fatal(err)
	}
	if err := e.SelectWorkflow(context.Background(), s); err != nil {
		t.Fatal(err)
	}

	res, err := drain(t, e, s)
	if res.Status != "blocked" {
		t.Fatalf("expected blocked, got %s (err=%v)", res.Status, err)
	}
	var serr *Error
	if !errors.As(err, &serr) || serr.Kind != ErrCompletionBlocked {
		t.Fatalf("expected completion_blocked, got %v", err)
	}

	blockers := serr.Context["blockers"].([]string)
	hasUnresolved := false
	for _, b := range blockers {
		if b == "UnresolvedNodes" {
			hasUnresolved = true
		}
	}
	if !hasUnresolved {
		t.Errorf("expected UnresolvedNodes blocker, got %v", blockers)
	}
	recs := serr.Context["recommendations"].([]string)
	joined := strings.Join(recs, " ")
	if !strings.Contains(joined, "force_dependency") || !strings.Contains(joined, "inject_response") {
		t.Errorf("expected repair recommendations, got %v", recs)
	}

	if s.State != StateProcessingDependencies {
		t.Errorf("blocked session stays in processing, got %s", s.State)
	}
}

func TestInjectResponseUnblocks(t *testing.T) {
	o := contextualOracle(t, "https://x/api/search", "deadbeef")
	e := NewEngine(o)

	s, err := e.Create(writeFile(t, "u.har", unresolvedHAR), "", "search things", nil)
	if err != nil {
		t.Fatal(err)
	}
	if err := e.SelectWorkflow(context.Background(), s); err != nil {
		t.Fatal(err)
	}
	if res, _ := drain(t, e, s); res.Status != "blocked" {
		t.Fatalf("expected blocked first, got %s", res.Status)
	}

	// The only source of "deadbeef" is the target's own response, so the
	// injection turns the marker into a caller-supplied input.
	masterID, _ := s.Graph.Master()
	if err := s.InjectResponse(masterID, `{"sig":"deadbeef"}`, []string{"deadbeef"}); err != nil {
		t.Fatal(err)
	}
	if !s.Graph.IsComplete() {
		t.Fatal("expected graph complete after injection")
	}
	foundInput := false
	for _, n := range s.Graph.Nodes() {
		if n.Kind == graph.KindInput && n.Content == "deadbeef" {
			foundInput = true
		}
	}
	if !foundInput {
		t.Error("expected an input node standing in for the unresolvable value")
	}

	res, err := e.ProcessNextNode(context.Background(), s)
	if err != nil {
		t.Fatal(err)
	}
	if res.Status != "complete" || s.State != StateReadyForEmission {
		t.Errorf("expected ready after repair, got %s/%s", res.Status, s.State)
	}
}

func TestOracleDegradationStillCompletes(t *testing.T) {
	// Scenario: every oracle schema fails. Heuristics carry the pipeline:
	// the top-ranked candidate is selected and the session still reaches
	// ready_for_emission because nothing dynamic blocks the graph.
	harText := `{"log":{"entries":[
		{"startedDateTime":"2025-06-01T10:00:00Z",
		 "request":{"method":"GET","url":"https://x/api/search?q=widgets","headers":[],"queryString":[{"name":"q","value":"widgets"}]},
		 "response":{"status":200,"statusText":"OK","headers":[{"name":"Content-Type","value":"application/json"}],
		             "content":{"mimeType":"application/json","text":"{\"hits\":[]}"}}},
		{"startedDateTime":"2025-06-01T10:00:01Z",
		 "request":{"method":"GET","url":"https://x/api/profile","headers":[],"queryString":[]},
		 "response":{"status":200,"statusText":"OK","headers":[{"name":"Content-Type","value":"application/json"}],
		             "content":{"mimeType":"application/json","text":"{}"}}}
	]}}`
	e := NewEngine(downOracle())

	s, err := e.Create(writeFile(t, "deg.har", harText), "", "search for widgets", nil)
	if err != nil {
		t.Fatal(err)
	}
	if err := e.SelectWorkflow(context.Background(), s); err != nil {
		t.Fatal(err)
	}
	if s.ActionURL != "https://x/api/search?q=widgets" {
		t.Errorf("expected heuristic top candidate, got %s", s.ActionURL)
	}

	res, err := drain(t, e, s)
	if err != nil {
		t.Fatal(err)
	}
	if res.Status != "complete" || s.State != StateReadyForEmission {
		t.Errorf("expected ready via heuristics, got %s/%s", res.Status, s.State)
	}
}

func TestCreateRejectsEmptyHAR(t *testing.T) {
	e := NewEngine(downOracle())
	_, err := e.Create(writeFile(t, "empty.har", `{"log":{"entries":[]}}`), "", "do something", nil)

	var serr *Error
	if !errors.As(err, &serr) || serr.Kind != ErrHarQualityEmpty {
		t.Fatalf("expected har_quality_empty, got %v", err)
	}
}

func TestCreateRejectsEmptyPrompt(t *testing.T) {
	e := NewEngine(downOracle())
	_, err := e.Create("irrelevant.har", "", "", nil)

	var serr *Error
	if !errors.As(err, &serr) || serr.Kind != ErrInvalidInput {
		t.Fatalf("expected invalid_input, got %v", err)
	}
}

func TestCancellationFailsSession(t *testing.T) {
	e := NewEngine(downOracle())
	s, err := e.Create(writeFile(t, "ping.har", pingHAR), "", "ping the service", nil)
	if err != nil {
		t.Fatal(err)
	}
	if err := e.SelectWorkflow(context.Background(), s); err != nil {
		t.Fatal(err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := e.ProcessNextNode(ctx, s); err == nil {
		t.Fatal("expected cancellation error")
	}
	if s.State != StateFailed || s.Err.Kind != ErrCancelled {
		t.Errorf("expected failed/cancelled, got %s/%v", s.State, s.Err)
	}
}

func TestDiscoverWorkflows(t *testing.T) {
	e := NewEngine(downOracle())
	s, err := e.Create(writeFile(t, "chain.har", bearerChainHAR), "", "fetch profile", nil)
	if err != nil {
		t.Fatal(err)
	}

	groups := DiscoverWorkflows(s)
	if len(groups) == 0 {
		t.Fatal("expected workflow groups")
	}
	for _, g := range groups {
		if g.Primary.URL == "" || len(g.Requests) == 0 {
			t.Errorf("malformed group %+v", g)
		}
	}
}
