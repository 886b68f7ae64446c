// Package har holds the recorded-traffic model: an immutable, in-memory view
// of a HAR 1.2 capture plus its cookie jar. Everything downstream (the URL
// identifier, the dependency resolver, the auth analyzer) works from read-only
// references into this package.
package har

import (
	"encoding/json"
	"fmt"
	"net/url"
	"os"
	"sort"
	"strings"
	"time"
)

// Header is a single request or response header with its recorded casing.
type Header struct {
	Name  string `json:"name"`
	Value string `json:"value"`
}

// QueryParam is a single query-string pair as recorded.
type QueryParam struct {
	Name  string `json:"name"`
	Value string `json:"value"`
}

// Body is a request body with its MIME type. Text carries the raw payload;
// for JSON bodies callers parse on demand.
type Body struct {
	MimeType string `json:"mimeType"`
	Text     string `json:"text"`
}

// Response is the recorded response to a request. A request with no recorded
// response has a nil Response.
type Response struct {
	Status     int      `json:"status"`
	StatusText string   `json:"statusText"`
	Headers    []Header `json:"headers"`
	Body       Body     `json:"content"`
}

// Request is one recorded request/response pair. Requests are immutable after
// ingestion; the Archive owns them and hands out pointers.
type Request struct {
	Method    string
	URL       string
	Headers   []Header
	Query     []QueryParam
	Body      *Body
	Response  *Response
	StartedAt time.Time
}

// Header returns the value of the named header, case-insensitively, and
// whether it was present. The recorded casing of other headers is preserved.
func (r *Request) Header(name string) (string, bool) {
	for _, h := range r.Headers {
		if strings.EqualFold(h.Name, name) {
			return h.Value, true
		}
	}
	return "", false
}

// ResponseHeader returns the value of the named response header,
// case-insensitively.
func (r *Request) ResponseHeader(name string) (string, bool) {
	if r.Response == nil {
		return "", false
	}
	for _, h := range r.Response.Headers {
		if strings.EqualFold(h.Name, name) {
			return h.Value, true
		}
	}
	return "", false
}

// ContentType returns the request Content-Type header, if any.
func (r *Request) ContentType() string {
	if r.Body != nil && r.Body.MimeType != "" {
		return r.Body.MimeType
	}
	ct, _ := r.Header("Content-Type")
	return ct
}

// ResponseContentType returns the recorded response MIME type, if any.
func (r *Request) ResponseContentType() string {
	if r.Response == nil {
		return ""
	}
	if r.Response.Body.MimeType != "" {
		return r.Response.Body.MimeType
	}
	ct, _ := r.ResponseHeader("Content-Type")
	return ct
}

// Path returns the URL path component, or the raw URL if it does not parse.
func (r *Request) Path() string {
	u, err := url.Parse(r.URL)
	if err != nil {
		return r.URL
	}
	return u.Path
}

// IsJavaScript reports whether the request targets a JavaScript resource.
// Script fetches are never treated as dependency producers or consumers.
func (r *Request) IsJavaScript() bool {
	return strings.HasSuffix(strings.ToLower(r.Path()), ".js")
}

// URLInfo describes one distinct method+URL pair from the capture. It is what
// the URL identifier scores, so it deliberately carries no bodies.
type URLInfo struct {
	URL                 string `json:"url"`
	Method              string `json:"method"`
	RequestContentType  string `json:"request_content_type,omitempty"`
	ResponseContentType string `json:"response_content_type,omitempty"`
}

// Quality grades how workable a capture is for analysis.
type Quality string

const (
	QualityExcellent Quality = "excellent"
	QualityGood      Quality = "good"
	QualityPoor      Quality = "poor"
	QualityEmpty     Quality = "empty"
)

// Validation is the precomputed quality report for a capture.
type Validation struct {
	Quality         Quality  `json:"quality"`
	Issues          []string `json:"issues,omitempty"`
	Recommendations []string `json:"recommendations,omitempty"`
}

// Archive is the loaded traffic model. Immutable once built.
type Archive struct {
	requests   []*Request
	urls       []URLInfo
	validation Validation
}

// harFile mirrors the subset of HAR 1.2 the kernel reads. Unknown fields are
// ignored by encoding/json.
type harFile struct {
	Log struct {
		Entries []harEntry `json:"entries"`
	} `json:"log"`
}

type harEntry struct {
	StartedDateTime string `json:"startedDateTime"`
	Request         struct {
		Method      string       `json:"method"`
		URL         string       `json:"url"`
		Headers     []Header     `json:"headers"`
		QueryString []QueryParam `json:"queryString"`
		PostData    *Body        `json:"postData"`
	} `json:"request"`
	Response *struct {
		Status     int      `json:"status"`
		StatusText string   `json:"statusText"`
		Headers    []Header `json:"headers"`
		Content    Body     `json:"content"`
	} `json:"response"`
}

// LoadFile reads and parses a HAR 1.2 file from disk.
func LoadFile(path string) (*Archive, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read har: %w", err)
	}
	return Parse(data)
}

// Parse builds an Archive from raw HAR 1.2 bytes.
func Parse(data []byte) (*Archive, error) {
	var f harFile
	if err := json.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("parse har: %w", err)
	}

	requests := make([]*Request, 0, len(f.Log.Entries))
	for _, e := range f.Log.Entries {
		if e.Request.URL == "" {
			continue
		}
		req := &Request{
			Method:  strings.ToUpper(e.Request.Method),
			URL:     e.Request.URL,
			Headers: e.Request.Headers,
			Query:   e.Request.QueryString,
			Body:    e.Request.PostData,
		}
		if ts, err := time.Parse(time.RFC3339Nano, e.StartedDateTime); err == nil {
			req.StartedAt = ts
		}
		if e.Response != nil && e.Response.Status != 0 {
			req.Response = &Response{
				Status:     e.Response.Status,
				StatusText: e.Response.StatusText,
				Headers:    e.Response.Headers,
				Body:       e.Response.Content,
			}
		}
		requests = append(requests, req)
	}

	// Keep recorded order except where timestamps say otherwise; the resolver
	// depends on "earliest response wins".
	sort.SliceStable(requests, func(i, j int) bool {
		if requests[i].StartedAt.IsZero() || requests[j].StartedAt.IsZero() {
			return false
		}
		return requests[i].StartedAt.Before(requests[j].StartedAt)
	})

	a := &Archive{requests: requests}
	a.urls = buildURLIndex(requests)
	a.validation = validate(requests)
	return a, nil
}

// buildURLIndex collects distinct method+URL pairs in first-seen order.
// HTML documents are excluded from the candidate index but stay reachable
// through Requests and FindByURL.
func buildURLIndex(requests []*Request) []URLInfo {
	seen := make(map[string]bool)
	var urls []URLInfo
	for _, r := range requests {
		key := r.Method + " " + r.URL
		if seen[key] {
			continue
		}
		seen[key] = true
		if strings.Contains(r.ResponseContentType(), "text/html") {
			continue
		}
		urls = append(urls, URLInfo{
			URL:                 r.URL,
			Method:              r.Method,
			RequestContentType:  r.ContentType(),
			ResponseContentType: r.ResponseContentType(),
		})
	}
	return urls
}

func validate(requests []*Request) Validation {
	if len(requests) == 0 {
		return Validation{
			Quality: QualityEmpty,
			Issues:  []string{"capture contains no entries"},
			Recommendations: []string{
				"re-record the session with the browser devtools network tab open",
			},
		}
	}

	apiLike := 0
	nonGet := 0
	for _, r := range requests {
		if looksLikeAPIPath(r.Path()) || strings.Contains(r.ResponseContentType(), "json") {
			apiLike++
		}
		if r.Method != "GET" {
			nonGet++
		}
	}
	ratio := float64(apiLike) / float64(len(requests))

	v := Validation{}
	switch {
	case ratio >= 0.3 && nonGet > 0:
		v.Quality = QualityExcellent
	case ratio >= 0.1 || nonGet > 0:
		v.Quality = QualityGood
	default:
		v.Quality = QualityPoor
	}
	if ratio < 0.1 {
		v.Issues = append(v.Issues, "few API-looking requests in capture")
		v.Recommendations = append(v.Recommendations, "perform the target action while recording, not just page loads")
	}
	if nonGet == 0 {
		v.Issues = append(v.Issues, "capture contains only GET requests")
		v.Recommendations = append(v.Recommendations, "if the goal is a mutation, make sure the action was actually triggered")
	}
	return v
}

func looksLikeAPIPath(path string) bool {
	p := strings.ToLower(path)
	return strings.Contains(p, "/api/") ||
		strings.Contains(p, "/rest/") ||
		strings.Contains(p, "/graphql") ||
		versionSegmentRe.MatchString(p)
}

// Requests returns all recorded requests in capture order.
func (a *Archive) Requests() []*Request {
	return a.requests
}

// URLs returns the distinct method+URL index, HTML documents excluded.
func (a *Archive) URLs() []URLInfo {
	return a.urls
}

// FindByURL returns the first request matching url, and method when method is
// non-empty. HTML responses are findable here even though the URL index
// skips them.
func (a *Archive) FindByURL(rawURL, method string) (*Request, bool) {
	for _, r := range a.requests {
		if r.URL != rawURL {
			continue
		}
		if method != "" && !strings.EqualFold(r.Method, method) {
			continue
		}
		return r, true
	}
	return nil, false
}

// Validation returns the precomputed quality report.
func (a *Archive) Validation() Validation {
	return a.validation
}
