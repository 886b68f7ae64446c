// Package urlselect picks the primary action URL for a session: the one
// recorded request that performs the user's stated goal. Deterministic
// heuristic scoring always runs first; the oracle refines the ranking only
// when more than one candidate survives, and its answer is accepted only if
// it names a URL actually present in the capture.
package urlselect

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

// IdentificationError reports that no primary URL could be chosen. It carries
// the available URL list so the host can present a manual override.
type IdentificationError struct {
	URLs       []string
	Suggestion string
}

func (e *IdentificationError) Error() string {
	return fmt.Sprintf("url identification failed across %d candidates: %s", len(e.URLs), e.Suggestion)
}

// Candidate is one scored URL.
type Candidate struct {
	Info  har.URLInfo
	Score float64
}

// Identifier selects the primary action URL.
type Identifier struct {
	oracle oracle.Oracle
}

// New creates an Identifier backed by the given oracle.
func New(o oracle.Oracle) *Identifier {
	return &Identifier{oracle: o}
}

var versionedPathRe = regexp.MustCompile(`/v\d+/`)

// prefilter narrows the index to API-like endpoints. If nothing survives,
// the full list is used instead.
func prefilter(urls []har.URLInfo) []har.URLInfo {
	var kept []har.URLInfo
	for _, u := range urls {
		if isStaticAsset(u.URL) {
			continue
		}
		lower := strings.ToLower(u.URL)
		apiLike := strings.Contains(lower, "/api/") ||
			versionedPathRe.MatchString(lower) ||
			strings.Contains(strings.ToLower(u.ResponseContentType), "json")
		switch u.Method {
		case "POST", "PUT", "DELETE", "PATCH":
			apiLike = true
		}
		if apiLike {
			kept = append(kept, u)
		}
	}
	if len(kept) == 0 {
		return urls
	}
	return kept
}

// Rank scores and sorts the candidates, best first. Pure function of its
// inputs; exposed so workflow discovery can reuse the ordering.
func Rank(prompt string, urls []har.URLInfo) []Candidate {
	filtered := prefilter(urls)
	candidates := make([]Candidate, 0, len(filtered))
	for _, u := range filtered {
		score := weightKeyword*keywordScore(prompt, u.URL) +
			weightAPI*apiScore(u.URL) +
			weightParams*paramScore(u.URL) +
			weightMethod*methodScore(prompt, u.Method) +
			weightResponse*responseScore(u.ResponseContentType)
		candidates = append(candidates, Candidate{Info: u, Score: score})
	}
	sort.SliceStable(candidates, func(i, j int) bool {
		return candidates[i].Score > candidates[j].Score
	})
	return candidates
}

// Identify returns the primary action URL for the prompt. A single surviving
// candidate is returned without consulting the oracle; otherwise the oracle
// arbitrates over the heuristic ranking, falling back to the top-ranked
// candidate if it fails or answers off-list.
func (id *Identifier) Identify(ctx context.Context, prompt string, urls []har.URLInfo) (har.URLInfo, error) {
	candidates := Rank(prompt, urls)
	if len(candidates) == 0 {
		return har.URLInfo{}, &IdentificationError{
			URLs:       urlStrings(urls),
			Suggestion: "no API-like requests found; set the action URL manually with set_action_url",
		}
	}
	if len(candidates) == 1 {
		return candidates[0].Info, nil
	}

	chosen, err := id.consultOracle(ctx, prompt, candidates)
	if err != nil {
		log.Printf("[urlselect] oracle refinement failed, using heuristic top candidate: %v", err)
		return candidates[0].Info, nil
	}

	// The oracle must answer from the capture; anything else is discarded.
	for _, u := range urls {
		if u.URL == chosen {
			for _, c := range candidates {
				if c.Info.URL == chosen {
					return c.Info, nil
				}
			}
			return u, nil
		}
	}
	log.Printf("[urlselect] oracle returned %q which is not in the capture; using heuristic top candidate", chosen)
	return candidates[0].Info, nil
}

func (id *Identifier) consultOracle(ctx context.Context, prompt string, candidates []Candidate) (string, error) {
	var b strings.Builder
	fmt.Fprintf(&b, "Goal: %s\n\nRecorded candidate URLs (best heuristic match first):\n", prompt)
	for i, c := range candidates {
		fmt.Fprintf(&b, "%d. %s %s (score %.1f)\n", i+1, c.Info.Method, c.Info.URL, c.Score)
	}
	top := len(candidates)
	if top > 5 {
		top = 5
	}
	fmt.Fprintf(&b, "\nThe top %d are the strongest heuristic matches. Pick the single URL that performs the goal.", top)

	raw, err := id.oracle.CallFunction(ctx, oracle.Request{
		Messages: []oracle.Message{{Role: "user", Content: b.String()}},
		Function: oracle.IdentifyEndURL(),
	})
	if err != nil {
		return "", err
	}
	var result oracle.EndURLResult
	if err := json.Unmarshal(raw, &result); err != nil {
		return "", fmt.Errorf("decode end url: %w", err)
	}
	return result.URL, nil
}

func urlStrings(urls []har.URLInfo) []string {
	out := make([]string, len(urls))
	for i, u := range urls {
		out[i] = u.Method + " " + u.URL
	}
	return out
}
