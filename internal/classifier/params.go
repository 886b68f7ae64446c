package classifier

import (
	"strings"

	"github.com/tidwall/gjson"

	"github.com/harvestmcp/harvest/internal/har"
)

// Headers that are plumbing rather than parameters. Everything else —
// credentials, custom x- headers — is classifiable.
var ignoredHeaders = map[string]bool{
	"accept":            true,
	"accept-encoding":   true,
	"accept-language":   true,
	"cache-control":     true,
	"connection":        true,
	"content-length":    true,
	"content-type":      true,
	"host":              true,
	"origin":            true,
	"pragma":            true,
	"referer":           true,
	"sec-ch-ua":         true,
	"sec-ch-ua-mobile":  true,
	"sec-ch-ua-platform": true,
	"sec-fetch-dest":    true,
	"sec-fetch-mode":    true,
	"sec-fetch-site":    true,
	"user-agent":        true,
	"upgrade-insecure-requests": true,
}

// ExtractParameters flattens a request into classifiable name/value pairs:
// query parameters, non-plumbing headers, cookie pairs, and scalar JSON body
// fields (nested fields keep their dotted path).
func ExtractParameters(req *har.Request) []Parameter {
	var params []Parameter

	for _, q := range req.Query {
		params = append(params, Parameter{Name: q.Name, Value: q.Value, Location: "query"})
	}

	for _, h := range req.Headers {
		lower := strings.ToLower(h.Name)
		if ignoredHeaders[lower] || lower == "cookie" || strings.HasPrefix(lower, ":") {
			continue
		}
		value := h.Value
		if lower == "authorization" {
			// The credential is the token, not the scheme.
			value = strings.TrimPrefix(value, "Bearer ")
			value = strings.TrimPrefix(value, "Basic ")
		}
		params = append(params, Parameter{Name: h.Name, Value: value, Location: "header"})
	}

	if cookieHeader, ok := req.Header("Cookie"); ok {
		for _, pair := range strings.Split(cookieHeader, ";") {
			name, value, found := strings.Cut(strings.TrimSpace(pair), "=")
			if found && name != "" {
				params = append(params, Parameter{Name: name, Value: value, Location: "cookie"})
			}
		}
	}

	if req.Body != nil && req.Body.Text != "" {
		if strings.Contains(strings.ToLower(req.Body.MimeType), "json") {
			params = append(params, bodyParameters(req.Body.Text)...)
		} else if strings.Contains(req.Body.MimeType, "x-www-form-urlencoded") {
			for _, pair := range strings.Split(req.Body.Text, "&") {
				name, value, found := strings.Cut(pair, "=")
				if found && name != "" {
					params = append(params, Parameter{Name: name, Value: value, Location: "body"})
				}
			}
		}
	}

	return params
}

func bodyParameters(body string) []Parameter {
	doc := gjson.Parse(body)
	if !doc.IsObject() {
		return nil
	}
	var params []Parameter
	var walk func(node gjson.Result, prefix string)
	walk = func(node gjson.Result, prefix string) {
		node.ForEach(func(key, child gjson.Result) bool {
			path := key.String()
			if prefix != "" {
				path = prefix + "." + path
			}
			if child.IsObject() || child.IsArray() {
				walk(child, path)
			} else {
				params = append(params, Parameter{Name: path, Value: child.String(), Location: "body"})
			}
			return true
		})
	}
	walk(doc, "")
	return params
}
