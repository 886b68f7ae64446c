package har

import (
	"fmt"
	"regexp"
	"strings"
)

// versionSegmentRe matches versioned API path segments like /v1/ or /v12/.
var versionSegmentRe = regexp.MustCompile(`/v\d+(/|$)`)

// AsCurl renders the request as a canonical cURL command. This is the wire
// format the extraction agents show the oracle: one line per header, body
// last, single-quoted with embedded quotes escaped.
func (r *Request) AsCurl() string {
	var b strings.Builder
	fmt.Fprintf(&b, "curl -X %s %s", r.Method, shellQuote(r.URL))
	for _, h := range r.Headers {
		fmt.Fprintf(&b, " \\\n  -H %s", shellQuote(h.Name+": "+h.Value))
	}
	if r.Body != nil && r.Body.Text != "" {
		fmt.Fprintf(&b, " \\\n  -d %s", shellQuote(r.Body.Text))
	}
	return b.String()
}

func shellQuote(s string) string {
	return "'" + strings.ReplaceAll(s, "'", `'\''`) + "'"
}
