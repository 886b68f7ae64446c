// Package codegen renders a completed dependency graph as a standalone Go
// source file: one function per producer request in dependency order, the
// primary action last, cookies read from the jar, dynamic values threaded
// between calls, and user inputs surfaced as parameters.
package codegen

import (
	"fmt"
	"go/format"
	"sort"
	"strings"
	"text/template"

	"github.com/harvestmcp/harvest/internal/graph"
	"github.com/harvestmcp/harvest/internal/har"
)

// step is one rendered request in execution order.
type step struct {
	FuncName string
	Method   string
	URL      string
	Headers  []har.Header
	Body     string
	Extracts []string // values later steps consume
	Consumes []string // values produced by earlier steps
	IsMaster bool
}

type templateData struct {
	Prompt  string
	Inputs  []string
	Cookies map[string]string
	Steps   []step
}

// Render emits Go source for the graph. The graph must be complete; callers
// check with IsComplete first.
func Render(prompt string, g *graph.Graph, jar har.Jar) (string, error) {
	if !g.IsComplete() {
		return "", fmt.Errorf("graph is not complete")
	}
	masterID, ok := g.Master()
	if !ok {
		return "", fmt.Errorf("graph has no master node")
	}

	data := templateData{
		Prompt:  prompt,
		Cookies: map[string]string{},
	}

	inputSeen := map[string]bool{}
	for _, id := range g.TopologicalSort() {
		n, err := g.Node(id)
		if err != nil {
			return "", err
		}
		switch n.Kind {
		case graph.KindCookie:
			if c, ok := jar[n.CookieName]; ok {
				data.Cookies[n.CookieName] = c.Value
			} else {
				data.Cookies[n.CookieName] = ""
			}
		case graph.KindInput:
			if !inputSeen[n.Content] {
				inputSeen[n.Content] = true
				data.Inputs = append(data.Inputs, n.Content)
			}
		case graph.KindMaster, graph.KindCurl:
			st := step{
				FuncName: funcName(n, id == masterID),
				Method:   n.Request.Method,
				URL:      n.Request.URL,
				Headers:  requestHeaders(n.Request),
				Extracts: n.ExtractedParts,
				IsMaster: id == masterID,
			}
			if n.Request.Body != nil {
				st.Body = n.Request.Body.Text
			}
			for _, e := range g.Edges() {
				if e.From == id {
					st.Consumes = append(st.Consumes, e.Label)
				}
			}
			data.Steps = append(data.Steps, st)
		}
	}
	sort.Strings(data.Inputs)

	var b strings.Builder
	if err := clientTemplate.Execute(&b, data); err != nil {
		return "", fmt.Errorf("render client: %w", err)
	}

	src, err := format.Source([]byte(b.String()))
	if err != nil {
		// Return the raw rendering with the error so the host can inspect
		// what went wrong.
		return b.String(), fmt.Errorf("format generated source: %w", err)
	}
	return string(src), nil
}

func funcName(n *graph.Node, isMaster bool) string {
	if isMaster {
		return "PerformAction"
	}
	segments := strings.FieldsFunc(n.Request.Path(), func(r rune) bool { return r == '/' })
	name := "fetch"
	for _, seg := range segments {
		name += export(seg)
	}
	if name == "fetch" {
		name = "fetchRoot"
	}
	return name
}

func export(s string) string {
	cleaned := strings.Map(func(r rune) rune {
		if 'a' <= r && r <= 'z' || 'A' <= r && r <= 'Z' || '0' <= r && r <= '9' {
			return r
		}
		return -1
	}, s)
	if cleaned == "" {
		return ""
	}
	return strings.ToUpper(cleaned[:1]) + cleaned[1:]
}

func requestHeaders(r *har.Request) []har.Header {
	var out []har.Header
	for _, h := range r.Headers {
		lower := strings.ToLower(h.Name)
		if lower == "content-length" || lower == "host" || strings.HasPrefix(lower, ":") {
			continue
		}
		out = append(out, h)
	}
	return out
}

var clientTemplate = template.Must(template.New("client").Funcs(template.FuncMap{
	"quote": func(s string) string { return fmt.Sprintf("%q", s) },
}).Parse(`// Code generated from a recorded browser session. Goal: {{.Prompt}}
package client

import (
	"fmt"
	"io"
	"net/http"
	"strings"
)

// values carries data threaded between requests: cookie material, values
// extracted from earlier responses, and caller-supplied inputs.
type values map[string]string

func newValues() values {
	return values{
{{- range $name, $value := .Cookies}}
		{{quote $name}}: {{quote $value}},
{{- end}}
	}
}

func do(client *http.Client, method, url string, headers map[string]string, body string) (string, error) {
	var reader io.Reader
	if body != "" {
		reader = strings.NewReader(body)
	}
	req, err := http.NewRequest(method, url, reader)
	if err != nil {
		return "", err
	}
	for name, value := range headers {
		req.Header.Set(name, value)
	}
	resp, err := client.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", err
	}
	if resp.StatusCode >= 400 {
		return "", fmt.Errorf("%s %s: status %d", method, url, resp.StatusCode)
	}
	return string(data), nil
}
{{range .Steps}}
// {{.FuncName}} replays {{.Method}} {{.URL}}.
{{- if .Extracts}}
// Later steps consume: {{range .Extracts}}{{quote .}} {{end}}
{{- end}}
func {{.FuncName}}(client *http.Client, vals values) (string, error) {
	headers := map[string]string{
{{- range .Headers}}
		{{quote .Name}}: {{quote .Value}},
{{- end}}
	}
	body := {{quote .Body}}
{{- range .Consumes}}
	// Requires {{quote .}} from an earlier step or input.
	_ = vals[{{quote .}}]
{{- end}}
	return do(client, {{quote .Method}}, {{quote .URL}}, headers, body)
}
{{end}}
// Run executes the full chain in dependency order{{if .Inputs}}, with
// caller-supplied inputs{{end}}.
func Run(client *http.Client{{range $i, $in := .Inputs}}, input{{$i}} string{{end}}) (string, error) {
	vals := newValues()
{{- range $i, $in := .Inputs}}
	vals[{{quote $in}}] = input{{$i}}
{{- end}}
	var out string
	var err error
{{- range .Steps}}
	out, err = {{.FuncName}}(client, vals)
	if err != nil {
		return "", err
	}
{{- range .Extracts}}
	vals[{{quote .}}] = out // extract {{quote .}} from the response
{{- end}}
{{- end}}
	return out, nil
}
`))
