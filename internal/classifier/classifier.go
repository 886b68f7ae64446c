// Package classifier assigns every request parameter one of five roles —
// dynamic, sessionConstant, userInput, staticConstant, optional — through a
// hybrid pipeline: a deterministic cross-request consistency pass, a rule
// library, a merge step, a batch oracle refinement for whatever is still
// uncertain, and bootstrap-source enrichment for session constants.
package classifier

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"sort"
	"strings"

	"github.com/harvestmcp/harvest/internal/har"
	"github.com/harvestmcp/harvest/internal/oracle"
	"github.com/harvestmcp/harvest/internal/resolver"
)

// Classification is the role assigned to a parameter.
type Classification string

const (
	// Dynamic values must be resolved from a prior response at runtime.
	Dynamic Classification = "dynamic"
	// SessionConstant values are stable within one session and differ
	// across sessions (session IDs, CSRF tokens).
	SessionConstant Classification = "sessionConstant"
	// UserInput values become function arguments of the generated client.
	UserInput Classification = "userInput"
	// StaticConstant values are safe to hardcode.
	StaticConstant Classification = "staticConstant"
	// Optional values can be omitted.
	Optional Classification = "optional"
)

// Provenance records which pipeline stage decided the classification.
type Provenance string

const (
	ProvenanceHeuristic   Provenance = "heuristic"
	ProvenanceConsistency Provenance = "consistency"
	ProvenanceOracle      Provenance = "oracle"
	ProvenanceManual      Provenance = "manual-override"
)

// Parameter is one observed name/value pair and where it was found.
type Parameter struct {
	Name     string `json:"name"`
	Value    string `json:"value"`
	Location string `json:"location"` // query, header, cookie, body
}

// Metadata carries the observation statistics and bootstrap findings backing
// a classification.
type Metadata struct {
	OccurrenceCount     int                       `json:"occurrence_count"`
	TotalObservations   int                       `json:"total_observations"`
	ConsistencyScore    float64                   `json:"consistency_score"`
	Bootstrap           *resolver.BootstrapSource `json:"bootstrap,omitempty"`
	RequiresBootstrap   bool                      `json:"requires_bootstrap,omitempty"`
	BootstrapUnresolved bool                      `json:"bootstrap_unresolved,omitempty"`
}

// Classified is a parameter with its assigned role.
type Classified struct {
	Parameter
	Classification Classification `json:"classification"`
	Confidence     float64        `json:"confidence"`
	Provenance     Provenance     `json:"provenance"`
	Reasoning      string         `json:"reasoning,omitempty"`
	Metadata       Metadata       `json:"metadata"`
}

// BootstrapLookup asks whether a value is extractable from a non-target
// response; the resolver provides the real implementation.
type BootstrapLookup func(value, targetURL string) (*resolver.BootstrapSource, bool)

// Classifier runs the pipeline.
type Classifier struct {
	oracle oracle.Oracle
	lookup BootstrapLookup
}

// New creates a Classifier. lookup may be nil, which disables bootstrap
// enrichment.
func New(o oracle.Oracle, lookup BootstrapLookup) *Classifier {
	return &Classifier{oracle: o, lookup: lookup}
}

// stats is the consistency-pass result for one parameter name.
type stats struct {
	occurrences int // requests the parameter appears in
	total       int // total requests observed
	consistency float64
}

// consistencyPass computes per-name value stability across all recorded
// requests. A parameter never observed elsewhere gets consistency 1.0 with
// one occurrence, so a sparse capture cannot produce NaN downstream.
func consistencyPass(all []*har.Request) map[string]stats {
	values := make(map[string]map[string]int)
	occur := make(map[string]int)
	for _, req := range all {
		seen := make(map[string]bool)
		for _, p := range ExtractParameters(req) {
			if values[p.Name] == nil {
				values[p.Name] = make(map[string]int)
			}
			values[p.Name][p.Value]++
			if !seen[p.Name] {
				seen[p.Name] = true
				occur[p.Name]++
			}
		}
	}

	out := make(map[string]stats, len(values))
	for name, freq := range values {
		total := 0
		max := 0
		for _, c := range freq {
			total += c
			if c > max {
				max = c
			}
		}
		s := stats{occurrences: occur[name], total: len(all)}
		if total == 0 {
			s.consistency = 1.0
			s.occurrences = 1
		} else {
			s.consistency = float64(max) / float64(total)
		}
		out[name] = s
	}
	return out
}

// Classify runs the full pipeline for the parameters of req, using all
// recorded requests for the consistency pass. targetURL scopes bootstrap
// lookups so a parameter is never "bootstrapped" from its own response.
func (c *Classifier) Classify(ctx context.Context, req *har.Request, all []*har.Request, targetURL string) []Classified {
	params := ExtractParameters(req)
	if len(params) == 0 {
		return nil
	}
	st := consistencyPass(all)

	classified := make([]Classified, 0, len(params))
	for _, p := range params {
		s, ok := st[p.Name]
		if !ok {
			s = stats{consistency: 1.0, occurrences: 1, total: len(all)}
		}
		cl := heuristicClassify(p, s)
		cl = mergeConsistency(cl, s, len(all))
		classified = append(classified, cl)
	}

	classified = c.refineWithOracle(ctx, classified)
	c.enrichBootstrap(classified, targetURL)
	return classified
}

// refineWithOracle sends every parameter still below 0.8 confidence to a
// single batch call. On any failure the heuristic results stand.
func (c *Classifier) refineWithOracle(ctx context.Context, classified []Classified) []Classified {
	var uncertain []int
	for i, cl := range classified {
		if cl.Confidence < 0.8 {
			uncertain = append(uncertain, i)
		}
	}
	if len(uncertain) == 0 {
		return classified
	}

	var b strings.Builder
	b.WriteString("Classify these request parameters. Domain hints: session/CSRF tokens are sessionConstant; search terms, pagination, and dates are userInput; coordinates, versions, and format switches are staticConstant.\n\n")
	for _, i := range uncertain {
		cl := classified[i]
		fmt.Fprintf(&b, "- %s = %q (in %s; heuristic guess %s at %.2f)\n",
			cl.Name, cl.Value, cl.Location, cl.Classification, cl.Confidence)
	}

	raw, err := c.oracle.CallFunction(ctx, oracle.Request{
		Messages: []oracle.Message{{Role: "user", Content: b.String()}},
		Function: oracle.ClassifyParameters(),
	})
	if err != nil {
		log.Printf("[classifier] oracle refinement degraded (%s), keeping heuristics", oracle.KindOf(err))
		return classified
	}
	var result oracle.ClassifyParametersResult
	if err := json.Unmarshal(raw, &result); err != nil {
		log.Printf("[classifier] decode classify_parameters: %v", err)
		return classified
	}

	byName := make(map[string]oracle.ClassifiedParameter, len(result.ClassifiedParameters))
	for _, p := range result.ClassifiedParameters {
		byName[p.ParameterName+"\x00"+p.ParameterValue] = p
	}
	for _, i := range uncertain {
		cl := &classified[i]
		p, ok := byName[cl.Name+"\x00"+cl.Value]
		if !ok {
			continue
		}
		cl.Classification = Classification(p.Classification)
		cl.Confidence = p.Confidence
		if cl.Confidence > 0.95 {
			cl.Confidence = 0.95
		}
		cl.Provenance = ProvenanceOracle
		cl.Reasoning = p.Reasoning
	}
	return classified
}

// enrichBootstrap attaches the bootstrap source for each session constant.
func (c *Classifier) enrichBootstrap(classified []Classified, targetURL string) {
	if c.lookup == nil {
		return
	}
	for i := range classified {
		cl := &classified[i]
		if cl.Classification != SessionConstant {
			continue
		}
		cl.Metadata.RequiresBootstrap = true
		if src, ok := c.lookup(cl.Value, targetURL); ok {
			cl.Metadata.Bootstrap = src
			cl.Confidence += 0.1
			if cl.Confidence > 1.0 {
				cl.Confidence = 1.0
			}
		} else {
			cl.Metadata.BootstrapUnresolved = true
		}
	}
}

// SortStable orders classifications deterministically by name then value,
// so repeated runs over the same transcript compare equal.
func SortStable(classified []Classified) {
	sort.SliceStable(classified, func(i, j int) bool {
		if classified[i].Name != classified[j].Name {
			return classified[i].Name < classified[j].Name
		}
		return classified[i].Value < classified[j].Value
	})
}
