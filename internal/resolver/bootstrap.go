package resolver

import (
	"strings"

	"github.com/tidwall/gjson"

	"github.com/harvestmcp/harvest/internal/har"
)

// minBootstrapValueLen guards the text search against short numeric literals
// that match half the capture by accident.
const minBootstrapValueLen = 8

// BootstrapSource names the non-target response that first supplies a
// session constant, so generated clients know where to fetch it.
type BootstrapSource struct {
	SourceURL  string `json:"source_url"`
	SourceType string `json:"source_type"` // body_field, body, header, set_cookie
	FieldPath  string `json:"field_path,omitempty"`
}

// FindBootstrapSource scans responses (earliest first, excluding targetURL)
// for the one that supplies value. JSON bodies are walked field by field so
// the result can name the exact path; other matches degrade to coarser
// source types.
func (r *Resolver) FindBootstrapSource(value, targetURL string) (*BootstrapSource, bool) {
	if len(value) < minBootstrapValueLen {
		return nil, false
	}

	for _, req := range r.archive.Requests() {
		if req.URL == targetURL || req.IsJavaScript() || req.Response == nil {
			continue
		}
		if src, ok := probeResponse(req, value); ok {
			return src, true
		}
	}
	return nil, false
}

func probeResponse(req *har.Request, value string) (*BootstrapSource, bool) {
	resp := req.Response

	for _, h := range resp.Headers {
		if !strings.Contains(h.Value, value) {
			continue
		}
		sourceType := "header"
		if strings.EqualFold(h.Name, "Set-Cookie") {
			sourceType = "set_cookie"
		}
		return &BootstrapSource{SourceURL: req.URL, SourceType: sourceType, FieldPath: h.Name}, true
	}

	if !strings.Contains(resp.Body.Text, value) {
		return nil, false
	}
	if strings.Contains(strings.ToLower(req.ResponseContentType()), "json") {
		if path, ok := findJSONPath(resp.Body.Text, value); ok {
			return &BootstrapSource{SourceURL: req.URL, SourceType: "body_field", FieldPath: path}, true
		}
	}
	return &BootstrapSource{SourceURL: req.URL, SourceType: "body"}, true
}

// findJSONPath returns the gjson path of the first field whose string form
// equals value, walking depth-first in document order.
func findJSONPath(body, value string) (string, bool) {
	doc := gjson.Parse(body)
	if !doc.IsObject() && !doc.IsArray() {
		return "", false
	}
	return walkJSON(doc, "", value)
}

func walkJSON(node gjson.Result, prefix, value string) (string, bool) {
	var found string
	node.ForEach(func(key, child gjson.Result) bool {
		path := key.String()
		if prefix != "" {
			path = prefix + "." + path
		}
		if child.IsObject() || child.IsArray() {
			if p, ok := walkJSON(child, path, value); ok {
				found = p
				return false
			}
			return true
		}
		if child.String() == value {
			found = path
			return false
		}
		return true
	})
	return found, found != ""
}
