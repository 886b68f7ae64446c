// Package dynparts finds the byte-strings in a request that the server is
// presumed to validate: tokens, session IDs, CSRF values, API keys. It runs
// two passes — a per-request oracle pass and a deterministic cross-request
// consistency pass — and unions the results. Oracle failures never surface
// as errors here; the extractor degrades to whatever the deterministic pass
// produced.
package dynparts

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"strings"

	"github.com/harvestmcp/harvest/internal/har"
	"github.com/harvestmcp/harvest/internal/oracle"
)

// Extractor runs both extraction passes.
type Extractor struct {
	oracle oracle.Oracle

	// SessionThreshold is the minimum consistency score for a cross-request
	// pattern to reach the oracle. FallbackThreshold is the stricter score
	// used when the oracle is unavailable.
	SessionThreshold  float64
	FallbackThreshold float64
}

// New creates an Extractor with the default thresholds.
func New(o oracle.Oracle) *Extractor {
	return &Extractor{oracle: o, SessionThreshold: 0.3, FallbackThreshold: 0.5}
}

// Extract returns the dynamic parts of req: the union of the single-request
// oracle pass and the session-aware pass values that occur in this request,
// deduplicated in discovery order.
func (e *Extractor) Extract(ctx context.Context, req *har.Request, inputVars map[string]string, all []*har.Request) []string {
	single := e.SingleRequest(ctx, req, inputVars)
	session := e.SessionAware(ctx, all)

	curl := req.AsCurl()
	seen := make(map[string]bool)
	var out []string
	add := func(v string) {
		if v != "" && !seen[v] {
			seen[v] = true
			out = append(out, v)
		}
	}
	for _, v := range single {
		add(v)
	}
	for _, v := range session {
		if strings.Contains(curl, v) {
			add(v)
		}
	}
	return out
}

// SingleRequest asks the oracle for the server-validated values in one
// request. JavaScript resources are skipped outright, and any returned value
// that is a declared input variable present in the request is dropped — the
// matcher owns those.
func (e *Extractor) SingleRequest(ctx context.Context, req *har.Request, inputVars map[string]string) []string {
	if req.IsJavaScript() {
		return nil
	}

	curl := req.AsCurl()
	var b strings.Builder
	b.WriteString("Request:\n\n")
	b.WriteString(curl)
	if len(inputVars) > 0 {
		b.WriteString("\n\nDeclared input variables (exclude their values):\n")
		for name, value := range inputVars {
			fmt.Fprintf(&b, "- %s = %s\n", name, value)
		}
	}

	raw, err := e.oracle.CallFunction(ctx, oracle.Request{
		Messages: []oracle.Message{{Role: "user", Content: b.String()}},
		Function: oracle.IdentifyDynamicParts(),
	})
	if err != nil {
		log.Printf("[dynparts] single-request pass degraded (%s)", oracle.KindOf(err))
		return nil
	}

	var result oracle.DynamicPartsResult
	if err := json.Unmarshal(raw, &result); err != nil {
		log.Printf("[dynparts] decode dynamic_parts: %v", err)
		return nil
	}

	inputValues := make(map[string]bool, len(inputVars))
	for _, v := range inputVars {
		inputValues[v] = true
	}

	var out []string
	for _, v := range result.DynamicParts {
		if v == "" {
			continue
		}
		if inputValues[v] && strings.Contains(curl, v) {
			continue
		}
		out = append(out, v)
	}
	return out
}
