package urlselect

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/harvestmcp/harvest/internal/har"
	"github.com/harvestmcp/harvest/internal/oracle"
)

func failingOracle() oracle.Oracle {
	return oracle.Func(func(ctx context.Context, req oracle.Request) (json.RawMessage, error) {
		return nil, &oracle.Error{Kind: oracle.KindUnavailable, Msg: "down"}
	})
}

func TestSingleCandidateSkipsOracle(t *testing.T) {
	calls := 0
	o := oracle.Func(func(ctx context.Context, req oracle.Request) (json.RawMessage, error) {
		calls++
		return nil, errors.New("should not be called")
	})

	urls := []har.URLInfo{
		{URL: "https://api.x/v1/ping", Method: "GET", ResponseContentType: "application/json"},
		{URL: "https://cdn.x/app.js", Method: "GET", ResponseContentType: "text/javascript"},
	}
	got, err := New(o).Identify(context.Background(), "ping the service", urls)
	if err != nil {
		t.Fatal(err)
	}
	if got.URL != "https://api.x/v1/ping" {
		t.Errorf("expected ping URL, got %s", got.URL)
	}
	if calls != 0 {
		t.Errorf("expected no oracle calls, got %d", calls)
	}
}

func TestOracleArbitratesAmongCandidates(t *testing.T) {
	o := oracle.Func(func(ctx context.Context, req oracle.Request) (json.RawMessage, error) {
		return json.RawMessage(`{"url":"https://x/api/v1/orders"}`), nil
	})

	urls := []har.URLInfo{
		{URL: "https://x/api/v1/orders", Method: "POST", ResponseContentType: "application/json"},
		{URL: "https://x/api/v1/cart", Method: "GET", ResponseContentType: "application/json"},
	}
	got, err := New(o).Identify(context.Background(), "place an order", urls)
	if err != nil {
		t.Fatal(err)
	}
	if got.URL != "https://x/api/v1/orders" {
		t.Errorf("expected oracle choice, got %s", got.URL)
	}
}

func TestOffListOracleAnswerFallsBackToHeuristic(t *testing.T) {
	o := oracle.Func(func(ctx context.Context, req oracle.Request) (json.RawMessage, error) {
		return json.RawMessage(`{"url":"https://elsewhere.invalid/made-up"}`), nil
	})

	urls := []har.URLInfo{
		{URL: "https://x/api/search?q=widgets", Method: "GET", ResponseContentType: "application/json"},
		{URL: "https://x/api/profile", Method: "GET", ResponseContentType: "application/json"},
	}
	got, err := New(o).Identify(context.Background(), "search for widgets", urls)
	if err != nil {
		t.Fatal(err)
	}
	if got.URL != "https://x/api/search?q=widgets" {
		t.Errorf("expected heuristic top candidate, got %s", got.URL)
	}
}

func TestOracleFailureDegradesToHeuristic(t *testing.T) {
	urls := []har.URLInfo{
		{URL: "https://x/api/search?q=abc", Method: "GET", ResponseContentType: "application/json"},
		{URL: "https://x/api/other", Method: "GET", ResponseContentType: "application/json"},
	}
	got, err := New(failingOracle()).Identify(context.Background(), "search the records", urls)
	if err != nil {
		t.Fatal(err)
	}
	if got.URL != "https://x/api/search?q=abc" {
		t.Errorf("expected heuristic winner, got %s", got.URL)
	}
}

func TestNoCandidatesFails(t *testing.T) {
	_, err := New(failingOracle()).Identify(context.Background(), "do something", nil)
	var ie *IdentificationError
	if !errors.As(err, &ie) {
		t.Fatalf("expected IdentificationError, got %v", err)
	}
}

func TestPrefilterFallsBackToFullList(t *testing.T) {
	urls := []har.URLInfo{
		{URL: "https://x/page-one", Method: "GET", ResponseContentType: "text/plain"},
		{URL: "https://x/page-two", Method: "GET", ResponseContentType: "text/plain"},
	}
	if got := prefilter(urls); len(got) != 2 {
		t.Errorf("expected full-list fallback, got %d entries", len(got))
	}
}

func TestRankPrefersActionOverAsset(t *testing.T) {
	urls := []har.URLInfo{
		{URL: "https://x/static/logo.png", Method: "GET"},
		{URL: "https://x/api/v2/search?q=jurisprudencia&page=1", Method: "GET", ResponseContentType: "application/json"},
	}
	ranked := Rank("pesquisa de jurisprudencia", urls)
	if len(ranked) == 0 || ranked[0].Info.URL != "https://x/api/v2/search?q=jurisprudencia&page=1" {
		t.Fatalf("unexpected ranking: %+v", ranked)
	}
}

func TestSecondaryActionPenalty(t *testing.T) {
	share := keywordScore("search documents", "https://x/api/share/doc")
	plain := keywordScore("search documents", "https://x/api/doc")
	if share >= plain {
		t.Errorf("expected share endpoint penalized: share=%v plain=%v", share, plain)
	}
}
