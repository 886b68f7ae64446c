// Package authscan inventories how the recorded session authenticates: what
// kind of credential each request carries, which tokens circulate, which
// endpoints mint or destroy them, and whether the capture is clean enough to
// generate a client from.
package authscan

import (
	"fmt"
	"net/url"
	"regexp"
	"strings"

	"github.com/tidwall/gjson"

	"github.com/harvestmcp/harvest/internal/har"
)

// AuthType is the credential mechanism observed on one request.
type AuthType string

const (
	BearerToken   AuthType = "bearer_token"
	APIKey        AuthType = "api_key"
	BasicAuth     AuthType = "basic_auth"
	SessionCookie AuthType = "session_cookie"
	OAuth         AuthType = "oauth"
	CustomHeader  AuthType = "custom_header"
	URLParameter  AuthType = "url_parameter"
	NoAuth        AuthType = "none"
)

// Requirement says whether the endpoint demanded the credential.
type Requirement string

const (
	Required     Requirement = "required"
	OptionalAuth Requirement = "optional"
	NotRequired  Requirement = "none"
)

// Token is one deduplicated credential value and where it travels.
type Token struct {
	Location string `json:"location"` // header, cookie, url_param, body
	Kind     string `json:"kind"`     // bearer, api_key, session, csrf, custom
	Name     string `json:"name"`
	Value    string `json:"value"`
}

// RequestAuth is the per-request verdict.
type RequestAuth struct {
	URL         string      `json:"url"`
	Method      string      `json:"method"`
	Types       []AuthType  `json:"types"`
	Requirement Requirement `json:"requirement"`
	Tokens      []Token     `json:"tokens,omitempty"`
	FailureCode int         `json:"failure_code,omitempty"`
	FailureText string      `json:"failure_text,omitempty"`
}

// Endpoint is an auth-related URL with its inferred purpose.
type Endpoint struct {
	URL                   string `json:"url"`
	Purpose               string `json:"purpose"` // login, refresh, logout, validate
	ResponseContainsToken bool   `json:"response_contains_token"`
}

// Readiness partitions the token inventory for the code generator.
type Readiness struct {
	IsReady   bool    `json:"is_ready"`
	Hardcoded []Token `json:"hardcoded,omitempty"` // static lifecycle, safe to embed
	Dynamic   []Token `json:"dynamic,omitempty"`   // a generation endpoint exists
}

// Analysis is the full inventory.
type Analysis struct {
	Requests       []RequestAuth `json:"requests"`
	Tokens         []Token       `json:"tokens"`
	Endpoints      []Endpoint    `json:"endpoints"`
	FlowComplexity string        `json:"flow_complexity"` // simple, moderate, complex
	SecurityIssues []string      `json:"security_issues,omitempty"`
	FailedRequests int           `json:"failed_requests"`
	Readiness      Readiness     `json:"readiness"`
}

var (
	apiKeyHeaderRe  = regexp.MustCompile(`(?i)^(x-api-key|api-key|x-app-key)$`)
	customAuthRe    = regexp.MustCompile(`(?i)^x-.*(token|auth|csrf|xsrf|session)`)
	sessionCookieRe = regexp.MustCompile(`(?i)(session|sess|sid|auth|token|jwt)`)
	urlTokenRe      = regexp.MustCompile(`(?i)^(token|access_token|api_key|apikey|key|auth)$`)

	loginPathRe    = regexp.MustCompile(`(?i)/(login|signin|auth)(/|$|\?)`)
	refreshPathRe  = regexp.MustCompile(`(?i)/(refresh|renew)(/|$|\?)`)
	logoutPathRe   = regexp.MustCompile(`(?i)/(logout|signout)(/|$|\?)`)
	validatePathRe = regexp.MustCompile(`(?i)/(validate|verify)(/|$|\?)`)
	oauthRe        = regexp.MustCompile(`(?i)(oauth|/authorize\b|grant_type)`)
)

const minTokenLen = 10

// Analyze runs the single pass over all recorded requests.
func Analyze(archive *har.Archive) *Analysis {
	a := &Analysis{}
	tokenSeen := make(map[string]bool)
	endpointSeen := make(map[string]bool)
	authEndpoints := 0
	hasRefresh := false
	hasOAuth := false

	for _, req := range archive.Requests() {
		ra := analyzeRequest(req)
		a.Requests = append(a.Requests, ra)

		if ra.FailureCode != 0 {
			a.FailedRequests++
			a.SecurityIssues = append(a.SecurityIssues,
				fmt.Sprintf("%s %s returned %d", req.Method, req.URL, ra.FailureCode))
		}

		for _, tok := range ra.Tokens {
			if !tokenSeen[tok.Value] {
				tokenSeen[tok.Value] = true
				a.Tokens = append(a.Tokens, tok)
				if tok.Location == "url_param" {
					a.SecurityIssues = append(a.SecurityIssues,
						fmt.Sprintf("token %q travels in the URL query", tok.Name))
				}
				if len(tok.Value) < minTokenLen {
					a.SecurityIssues = append(a.SecurityIssues,
						fmt.Sprintf("token %q is shorter than %d characters", tok.Name, minTokenLen))
				}
			}
		}

		if purpose := endpointPurpose(req.URL); purpose != "" && !endpointSeen[req.URL] {
			endpointSeen[req.URL] = true
			a.Endpoints = append(a.Endpoints, Endpoint{
				URL:                   req.URL,
				Purpose:               purpose,
				ResponseContainsToken: responseMentionsToken(req),
			})
			authEndpoints++
			if purpose == "refresh" {
				hasRefresh = true
			}
		}
		if oauthRe.MatchString(req.URL) {
			hasOAuth = true
		}
	}

	switch {
	case authEndpoints > 4 || hasOAuth:
		a.FlowComplexity = "complex"
	case hasRefresh || authEndpoints > 2:
		a.FlowComplexity = "moderate"
	default:
		a.FlowComplexity = "simple"
	}

	a.Readiness = readiness(a, archive)
	return a
}

func analyzeRequest(req *har.Request) RequestAuth {
	ra := RequestAuth{URL: req.URL, Method: req.Method, Requirement: NotRequired}

	addType := func(t AuthType) {
		for _, existing := range ra.Types {
			if existing == t {
				return
			}
		}
		ra.Types = append(ra.Types, t)
	}

	for _, h := range req.Headers {
		name := strings.ToLower(h.Name)
		switch {
		case name == "authorization":
			value := h.Value
			switch {
			case strings.HasPrefix(value, "Bearer "):
				addType(BearerToken)
				ra.Tokens = append(ra.Tokens, Token{Location: "header", Kind: "bearer", Name: h.Name, Value: strings.TrimPrefix(value, "Bearer ")})
			case strings.HasPrefix(value, "Basic "):
				addType(BasicAuth)
				ra.Tokens = append(ra.Tokens, Token{Location: "header", Kind: "custom", Name: h.Name, Value: strings.TrimPrefix(value, "Basic ")})
			default:
				addType(CustomHeader)
				ra.Tokens = append(ra.Tokens, Token{Location: "header", Kind: "custom", Name: h.Name, Value: value})
			}
		case apiKeyHeaderRe.MatchString(h.Name):
			addType(APIKey)
			ra.Tokens = append(ra.Tokens, Token{Location: "header", Kind: "api_key", Name: h.Name, Value: h.Value})
		case customAuthRe.MatchString(h.Name):
			addType(CustomHeader)
			kind := "custom"
			if strings.Contains(name, "csrf") || strings.Contains(name, "xsrf") {
				kind = "csrf"
			}
			ra.Tokens = append(ra.Tokens, Token{Location: "header", Kind: kind, Name: h.Name, Value: h.Value})
		}
	}

	if cookieHeader, ok := req.Header("Cookie"); ok {
		for _, pair := range strings.Split(cookieHeader, ";") {
			name, value, found := strings.Cut(strings.TrimSpace(pair), "=")
			if !found || !sessionCookieRe.MatchString(name) {
				continue
			}
			addType(SessionCookie)
			kind := "session"
			if strings.Contains(strings.ToLower(name), "csrf") || strings.Contains(strings.ToLower(name), "xsrf") {
				kind = "csrf"
			}
			ra.Tokens = append(ra.Tokens, Token{Location: "cookie", Kind: kind, Name: name, Value: value})
		}
	}

	if parsed, err := url.Parse(req.URL); err == nil {
		for name, vals := range parsed.Query() {
			if urlTokenRe.MatchString(name) && len(vals) > 0 && vals[0] != "" {
				addType(URLParameter)
				ra.Tokens = append(ra.Tokens, Token{Location: "url_param", Kind: "api_key", Name: name, Value: vals[0]})
			}
		}
	}

	if oauthRe.MatchString(req.URL) {
		addType(OAuth)
	}
	if len(ra.Types) == 0 {
		ra.Types = []AuthType{NoAuth}
	} else {
		ra.Requirement = Required
	}

	if req.Response != nil && (req.Response.Status == 401 || req.Response.Status == 403) {
		ra.FailureCode = req.Response.Status
		ra.FailureText = req.Response.StatusText
	}
	return ra
}

func endpointPurpose(rawURL string) string {
	switch {
	case loginPathRe.MatchString(rawURL):
		return "login"
	case refreshPathRe.MatchString(rawURL):
		return "refresh"
	case logoutPathRe.MatchString(rawURL):
		return "logout"
	case validatePathRe.MatchString(rawURL):
		return "validate"
	}
	return ""
}

func responseMentionsToken(req *har.Request) bool {
	if req.Response == nil {
		return false
	}
	body := strings.ToLower(req.Response.Body.Text)
	return strings.Contains(body, "token") || strings.Contains(body, "access") || strings.Contains(body, "bearer")
}

// readiness decides whether generation can proceed and splits tokens by
// lifecycle: a token whose value shows up in some auth endpoint's JSON
// response is dynamic (fetch at runtime); everything else is hardcoded.
func readiness(a *Analysis, archive *har.Archive) Readiness {
	r := Readiness{IsReady: a.FailedRequests == 0 && len(a.Tokens) > 0}
	for _, tok := range a.Tokens {
		if tokenMinted(tok, archive) {
			r.Dynamic = append(r.Dynamic, tok)
		} else {
			r.Hardcoded = append(r.Hardcoded, tok)
		}
	}
	return r
}

func tokenMinted(tok Token, archive *har.Archive) bool {
	for _, req := range archive.Requests() {
		if endpointPurpose(req.URL) == "" || req.Response == nil {
			continue
		}
		body := req.Response.Body.Text
		if !strings.Contains(body, tok.Value) {
			continue
		}
		// Confirm it is a real JSON field, not an accidental substring,
		// when the body parses.
		if doc := gjson.Parse(body); doc.IsObject() {
			minted := false
			doc.ForEach(func(key, child gjson.Result) bool {
				if child.String() == tok.Value {
					minted = true
					return false
				}
				return true
			})
			if minted {
				return true
			}
			continue
		}
		return true
	}
	return false
}
