package urlselect

import (
	"net/url"
	"regexp"
	"strings"
)

// Additive scoring weights. Keyword relevance dominates; response format is
// a tiebreaker.
const (
	weightKeyword   = 3.0
	weightAPI       = 2.0
	weightParams    = 1.5
	weightMethod    = 1.0
	weightResponse  = 0.8
	secondaryPenalty = 3.0
)

var apiPatterns = []struct {
	re    *regexp.Regexp
	score float64
}{
	{regexp.MustCompile(`/api/v\d+/`), 10},
	{regexp.MustCompile(`/graphql`), 9},
	{regexp.MustCompile(`/api/`), 8},
	{regexp.MustCompile(`/rest/`), 7},
	{regexp.MustCompile(`/v\d+/`), 6},
	{regexp.MustCompile(`\.(json|xml)(\?|$)`), 5},
	{regexp.MustCompile(`/(ajax|rpc|service|endpoint)/`), 4},
}

// domainParamNames get a complexity boost: their presence marks a substantive
// action endpoint rather than an asset fetch.
var domainParamNames = []string{
	"q", "query", "search", "term", "keyword",
	"page", "offset", "limit", "size", "per_page",
	"date", "from", "to", "start", "end",
	"processo", "tribunal", "orgao", "classe", "relator",
	"filter", "sort", "order",
}

var staticAssetExts = []string{
	".js", ".css", ".png", ".jpg", ".jpeg", ".gif", ".svg", ".ico", ".woff", ".woff2",
}

func promptTokens(prompt string) []string {
	fields := strings.FieldsFunc(strings.ToLower(prompt), func(r rune) bool {
		return !('a' <= r && r <= 'z' || '0' <= r && r <= '9')
	})
	var tokens []string
	for _, f := range fields {
		if len(f) >= 3 {
			tokens = append(tokens, f)
		}
	}
	return tokens
}

// keywordScore matches prompt vocabulary against the URL: weighted table
// terms that appear in both, plus a path-segment bonus for literal prompt
// tokens, minus the secondary-action penalty.
func keywordScore(prompt, rawURL string) float64 {
	p := strings.ToLower(prompt)
	u := strings.ToLower(rawURL)

	var score float64
	for _, kw := range keywordTable {
		if strings.Contains(p, kw.term) && strings.Contains(u, kw.term) {
			score += kw.weight
		}
	}

	parsed, err := url.Parse(u)
	if err == nil {
		segments := strings.Split(strings.Trim(parsed.Path, "/"), "/")
		for _, tok := range promptTokens(prompt) {
			for _, seg := range segments {
				if seg == tok {
					score += 5
					break
				}
			}
		}
	}

	for _, action := range secondaryActions {
		if strings.Contains(u, action) && !strings.Contains(p, action) {
			score -= secondaryPenalty
		}
	}
	return score
}

func apiScore(rawURL string) float64 {
	u := strings.ToLower(rawURL)
	best := 0.0
	for _, p := range apiPatterns {
		if p.re.MatchString(u) && p.score > best {
			best = p.score
		}
	}
	return best
}

// paramScore measures request complexity from the query string alone.
func paramScore(rawURL string) float64 {
	parsed, err := url.Parse(rawURL)
	if err != nil {
		return 0
	}
	rawQuery := parsed.RawQuery
	if rawQuery == "" {
		return 0
	}

	values, err := url.ParseQuery(rawQuery)
	if err != nil {
		return 0
	}

	score := 2.0 * float64(len(values))
	if score > 20 {
		score = 20
	}
	for name, vals := range values {
		lower := strings.ToLower(name)
		for _, dn := range domainParamNames {
			if lower == dn || strings.Contains(lower, dn) {
				score += 3
				break
			}
		}
		for _, v := range vals {
			if len(v) > 10 {
				score++
			}
		}
	}
	if strings.Contains(rawQuery, "%") {
		score += 3
	}
	return score
}

// methodScore favors mutating methods, adjusted by what the prompt asks for.
func methodScore(prompt, method string) float64 {
	var score float64
	switch method {
	case "POST":
		score = 5
	case "PUT", "DELETE", "PATCH":
		score = 4
	case "GET":
		score = 3
	default:
		score = 1
	}

	p := strings.ToLower(prompt)
	intent := func(verbs []string) bool {
		for _, v := range verbs {
			if strings.Contains(p, v) {
				return true
			}
		}
		return false
	}
	if method == "POST" && intent(creationVerbs) {
		score += 3
	}
	if method == "GET" && intent(searchVerbs) {
		score += 3
	}
	return score
}

func responseScore(contentType string) float64 {
	ct := strings.ToLower(contentType)
	switch {
	case strings.Contains(ct, "json"):
		return 5
	case strings.Contains(ct, "xml"):
		return 3
	case strings.Contains(ct, "html"):
		return 1
	default:
		return 0
	}
}

func isStaticAsset(rawURL string) bool {
	parsed, err := url.Parse(strings.ToLower(rawURL))
	if err != nil {
		return false
	}
	for _, ext := range staticAssetExts {
		if strings.HasSuffix(parsed.Path, ext) {
			return true
		}
	}
	return false
}
