package classifier

import (
	"regexp"
	"strings"
)

// Name-pattern groups. Matching is case-insensitive on the parameter name.
var (
	authNameRe       = regexp.MustCompile(`(?i)(session|auth|token|csrf|xsrf|jwt|bearer|api[-_]?key|secret)`)
	staticNameRe     = regexp.MustCompile(`(?i)^(lat|latitude|lng|lon|longitude|version|ver|v|format|fmt|output|encoding|charset)$`)
	searchNameRe     = regexp.MustCompile(`(?i)^(q|query|search|term|keyword|texto|pesquisa|busca)$`)
	paginationNameRe = regexp.MustCompile(`(?i)^(page|pagina|offset|limit|size|per_page|page_size|start|count)$`)
	dateNameRe       = regexp.MustCompile(`(?i)(date|data|from|to|inicio|fim|start_date|end_date|timestamp)`)
	legalNameRe      = regexp.MustCompile(`(?i)(processo|tribunal|orgao|classe|relator|comarca|vara)`)
	filterNameRe     = regexp.MustCompile(`(?i)^(filter|filtro|sort|order|order_by|direction)$`)
)

// Value-shape patterns.
var (
	hexValueRe     = regexp.MustCompile(`^[0-9a-fA-F]{16,}$`)
	longAlnumRe    = regexp.MustCompile(`^[0-9a-zA-Z_\-\.]{16,}$`)
	isoDateRe      = regexp.MustCompile(`^\d{4}-\d{2}-\d{2}([T ]\d{2}:\d{2})?`)
	unixTimeRe     = regexp.MustCompile(`^1[0-9]{9}(\d{3})?$`)
)

// domainRule maps a name pattern to its default role.
type domainRule struct {
	re             *regexp.Regexp
	classification Classification
	confidence     float64
	reason         string
}

var domainRules = []domainRule{
	{authNameRe, SessionConstant, 0.85, "authentication-style name"},
	{searchNameRe, UserInput, 0.85, "search term"},
	{paginationNameRe, UserInput, 0.8, "pagination control"},
	{dateNameRe, UserInput, 0.75, "date range input"},
	{legalNameRe, UserInput, 0.75, "case-lookup input"},
	{filterNameRe, UserInput, 0.7, "filter control"},
	{staticNameRe, StaticConstant, 0.8, "format/version switch"},
}

// heuristicClassify applies the rule ladder to one parameter: the
// high-priority consistency rule, then the domain library, then
// location-based defaults, then value-shape detection, then the
// low-confidence userInput default.
func heuristicClassify(p Parameter, s stats) Classified {
	cl := Classified{
		Parameter:  p,
		Provenance: ProvenanceHeuristic,
		Metadata: Metadata{
			OccurrenceCount:   s.occurrences,
			TotalObservations: s.total,
			ConsistencyScore:  s.consistency,
		},
	}
	occurrenceRate := 0.0
	if s.total > 0 {
		occurrenceRate = float64(s.occurrences) / float64(s.total)
	}

	// High-priority rule: a value that never changes and shows up in most
	// requests is a constant of some kind.
	if s.consistency > 0.9 && occurrenceRate > 0.5 {
		switch {
		case authNameRe.MatchString(p.Name):
			cl.Classification, cl.Confidence = SessionConstant, 0.95
			cl.Reasoning = "stable across session with authentication-style name"
		case staticNameRe.MatchString(p.Name):
			cl.Classification, cl.Confidence = StaticConstant, 0.95
			cl.Reasoning = "stable across session with static-style name"
		default:
			cl.Classification, cl.Confidence = StaticConstant, 0.9
			cl.Reasoning = "stable across session"
		}
		return cl
	}

	for _, rule := range domainRules {
		if rule.re.MatchString(p.Name) {
			cl.Classification, cl.Confidence = rule.classification, rule.confidence
			cl.Reasoning = rule.reason
			return cl
		}
	}

	// Location/name defaults.
	if p.Location == "header" && authNameRe.MatchString(p.Name) {
		cl.Classification, cl.Confidence = SessionConstant, 0.75
		cl.Reasoning = "credential header"
		return cl
	}
	if isZeroCoordinate(p) {
		cl.Classification, cl.Confidence = StaticConstant, 0.9
		cl.Reasoning = "zeroed coordinate"
		return cl
	}

	// Value-shape detection.
	switch {
	case hexValueRe.MatchString(p.Value) || longAlnumRe.MatchString(p.Value):
		cl.Classification, cl.Confidence = SessionConstant, 0.7
		cl.Reasoning = "token-shaped value"
	case isoDateRe.MatchString(p.Value) || unixTimeRe.MatchString(p.Value):
		cl.Classification, cl.Confidence = UserInput, 0.8
		cl.Reasoning = "date-shaped value"
	default:
		cl.Classification, cl.Confidence = UserInput, 0.4
		cl.Reasoning = "no rule matched"
	}
	return cl
}

func isZeroCoordinate(p Parameter) bool {
	name := strings.ToLower(p.Name)
	return (name == "latitude" || name == "longitude" || name == "lat" || name == "lng" || name == "lon") &&
		(p.Value == "0" || p.Value == "0.0")
}

// mergeConsistency folds the consistency statistics back into the heuristic
// result: strong cross-request evidence overrides, moderate evidence nudges
// confidence.
func mergeConsistency(cl Classified, s stats, totalRequests int) Classified {
	if s.consistency > 0.9 && totalRequests > 2 {
		if authNameRe.MatchString(cl.Name) {
			cl.Classification = SessionConstant
			cl.Confidence = 0.95
			cl.Provenance = ProvenanceConsistency
			cl.Reasoning = "single value across session with authentication-style name"
			return cl
		}
		if staticNameRe.MatchString(cl.Name) {
			cl.Classification = StaticConstant
			cl.Confidence = 0.95
			cl.Provenance = ProvenanceConsistency
			cl.Reasoning = "single value across session with static-style name"
			return cl
		}
	}

	switch {
	case s.consistency > 0.8 && cl.Confidence <= 0.8:
		cl.Confidence *= 1.1
		if cl.Confidence > 0.95 {
			cl.Confidence = 0.95
		}
	case s.consistency < 0.5:
		cl.Confidence *= 0.8
	}
	return cl
}
