package session

import (
	"net/url"
	"sort"
	"strings"

	"github.com/harvestmcp/harvest/internal/har"
	"github.com/harvestmcp/harvest/internal/urlselect"
)

// WorkflowGroup is a set of related requests forming one user-visible
// operation, surfaced so the host can inspect alternatives before a
// workflow is selected.
type WorkflowGroup struct {
	Name     string        `json:"name"`
	Score    float64       `json:"score"`
	Primary  har.URLInfo   `json:"primary"`
	Requests []har.URLInfo `json:"requests"`
}

// DiscoverWorkflows groups the URL index by host and leading path segment,
// ranks each group by its best-scoring member against the prompt, and
// returns groups best first.
func DiscoverWorkflows(s *Session) []WorkflowGroup {
	ranked := urlselect.Rank(s.Prompt, s.Archive.URLs())

	groups := make(map[string]*WorkflowGroup)
	var order []string
	for _, c := range ranked {
		key := groupKey(c.Info.URL)
		g, ok := groups[key]
		if !ok {
			g = &WorkflowGroup{Name: key, Score: c.Score, Primary: c.Info}
			groups[key] = g
			order = append(order, key)
		}
		g.Requests = append(g.Requests, c.Info)
		if c.Score > g.Score {
			g.Score = c.Score
			g.Primary = c.Info
		}
	}

	out := make([]WorkflowGroup, 0, len(order))
	for _, key := range order {
		out = append(out, *groups[key])
	}
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].Score > out[j].Score
	})
	return out
}

func groupKey(rawURL string) string {
	parsed, err := url.Parse(rawURL)
	if err != nil {
		return rawURL
	}
	segments := strings.Split(strings.Trim(parsed.Path, "/"), "/")
	if len(segments) > 0 && segments[0] != "" {
		return parsed.Host + "/" + segments[0]
	}
	return parsed.Host
}
