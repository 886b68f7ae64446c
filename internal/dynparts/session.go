package dynparts

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"regexp"
	"sort"
	"strings"

	"github.com/harvestmcp/harvest/internal/har"
	"github.com/harvestmcp/harvest/internal/oracle"
)

// authHeaderRe matches header names that carry credentials.
var authHeaderRe = regexp.MustCompile(`(?i)^(authorization|x-api-key|x-auth-token|x-csrf-token|x-xsrf-token|x-session-token|bearer|api-key|auth-token)$`)

// sessionCookieFragments mark cookie names worth tracking.
var sessionCookieFragments = []string{"session", "sess", "auth", "token", "csrf", "xsrf", "jwt", "bearer"}

// Pattern is one cross-request (key, values) observation set.
type Pattern struct {
	Key         string
	Values      map[string]int // value -> occurrences
	Total       int
	IsAuth      bool
	Consistency float64 // frequency of the most common value
}

// dominantValue returns the most frequently observed value.
func (p *Pattern) dominantValue() string {
	best, bestCount := "", -1
	for v, c := range p.Values {
		if c > bestCount || (c == bestCount && v < best) {
			best, bestCount = v, c
		}
	}
	return best
}

// CollectPatterns builds the cross-request frequency map: query parameters,
// credential headers, and session-looking cookies across every request.
// Deterministic: patterns come back sorted by key.
func CollectPatterns(all []*har.Request) []*Pattern {
	byKey := make(map[string]*Pattern)
	observe := func(key, value string, isAuth bool) {
		if key == "" || value == "" {
			return
		}
		p, ok := byKey[key]
		if !ok {
			p = &Pattern{Key: key, Values: make(map[string]int)}
			byKey[key] = p
		}
		p.Values[value]++
		p.Total++
		p.IsAuth = p.IsAuth || isAuth
	}

	for _, r := range all {
		for _, q := range r.Query {
			observe(q.Name, q.Value, false)
		}
		for _, h := range r.Headers {
			if authHeaderRe.MatchString(h.Name) {
				observe(h.Name, h.Value, true)
			}
		}
		if cookieHeader, ok := r.Header("Cookie"); ok {
			for _, pair := range strings.Split(cookieHeader, ";") {
				name, value, found := strings.Cut(strings.TrimSpace(pair), "=")
				if !found {
					continue
				}
				lower := strings.ToLower(name)
				for _, frag := range sessionCookieFragments {
					if strings.Contains(lower, frag) {
						observe(name, value, true)
						break
					}
				}
			}
		}
	}

	keys := make([]string, 0, len(byKey))
	for k := range byKey {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var patterns []*Pattern
	for _, k := range keys {
		p := byKey[k]
		max := 0
		for _, c := range p.Values {
			if c > max {
				max = c
			}
		}
		p.Consistency = float64(max) / float64(p.Total)
		// A key is a candidate if it is an auth parameter or holds exactly
		// one distinct value across the whole session.
		if p.IsAuth || len(p.Values) == 1 {
			patterns = append(patterns, p)
		}
	}
	return patterns
}

// SessionAware returns the values the cross-request pass believes are
// session-established. Candidates at or above SessionThreshold go to the
// oracle; if it fails, the stricter deterministic rule (consistency at or
// above FallbackThreshold and an auth key) applies.
func (e *Extractor) SessionAware(ctx context.Context, all []*har.Request) []string {
	patterns := CollectPatterns(all)
	var candidates []*Pattern
	for _, p := range patterns {
		if p.Consistency >= e.SessionThreshold {
			candidates = append(candidates, p)
		}
	}
	if len(candidates) == 0 {
		return nil
	}

	values, err := e.consultOracle(ctx, candidates)
	if err != nil {
		log.Printf("[dynparts] session pass degraded (%s), applying consistency fallback", oracle.KindOf(err))
		for _, p := range candidates {
			if p.Consistency >= e.FallbackThreshold && p.IsAuth {
				values = append(values, p.dominantValue())
			}
		}
	}
	return values
}

func (e *Extractor) consultOracle(ctx context.Context, candidates []*Pattern) ([]string, error) {
	var b strings.Builder
	b.WriteString("Parameter patterns observed across a recorded browser session:\n\n")
	for _, p := range candidates {
		fmt.Fprintf(&b, "- %s = %s (seen %d times, consistency %.2f, auth=%v)\n",
			p.Key, p.dominantValue(), p.Total, p.Consistency, p.IsAuth)
	}
	b.WriteString("\nSeparate session-established tokens from user-supplied values. Return values, not keys.")

	raw, err := e.oracle.CallFunction(ctx, oracle.Request{
		Messages: []oracle.Message{{Role: "user", Content: b.String()}},
		Function: oracle.AnalyzeSessionTokens(),
	})
	if err != nil {
		return nil, err
	}

	var result oracle.SessionTokensResult
	if err := json.Unmarshal(raw, &result); err != nil {
		return nil, fmt.Errorf("decode session tokens: %w", err)
	}

	seen := make(map[string]bool)
	var values []string
	for _, v := range append(result.PotentialSessionTokens, result.AuthenticationParameters...) {
		if v != "" && !seen[v] {
			seen[v] = true
			values = append(values, v)
		}
	}
	return values, nil
}
