package har

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"
)

// Cookie is one entry from the captured cookie jar.
type Cookie struct {
	Name     string `json:"name"`
	Value    string `json:"value"`
	Domain   string `json:"domain,omitempty"`
	Path     string `json:"path,omitempty"`
	Expires  string `json:"expires,omitempty"`
	HTTPOnly bool   `json:"httpOnly,omitempty"`
	Secure   bool   `json:"secure,omitempty"`
	SameSite string `json:"sameSite,omitempty"`
}

// Jar maps cookie names to their records. A nil Jar behaves as empty.
type Jar map[string]Cookie

// cookieFile is the object form of a cookie export.
type cookieFile struct {
	Cookies []Cookie `json:"cookies"`
}

// LoadCookieFile reads a cookie jar from disk. Both export shapes are
// accepted: an object with a cookies array, or a flat name-to-value map.
func LoadCookieFile(path string) (Jar, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read cookies: %w", err)
	}
	return ParseCookies(data)
}

// ParseCookies builds a Jar from raw cookie-file bytes.
func ParseCookies(data []byte) (Jar, error) {
	var f cookieFile
	if err := json.Unmarshal(data, &f); err == nil && f.Cookies != nil {
		jar := make(Jar, len(f.Cookies))
		for _, c := range f.Cookies {
			if c.Name != "" {
				jar[c.Name] = c
			}
		}
		return jar, nil
	}

	var flat map[string]string
	if err := json.Unmarshal(data, &flat); err != nil {
		return nil, fmt.Errorf("parse cookies: unrecognized format: %w", err)
	}
	jar := make(Jar, len(flat))
	for name, value := range flat {
		jar[name] = Cookie{Name: name, Value: value}
	}
	return jar, nil
}

// MatchesDomain reports whether the cookie applies to host. A cookie domain
// with a leading dot matches the host and any subdomain suffix; an exact
// domain matches only itself. Cookies without a domain match everything.
func (c Cookie) MatchesDomain(host string) bool {
	if c.Domain == "" {
		return true
	}
	d := strings.ToLower(c.Domain)
	h := strings.ToLower(host)
	if strings.HasPrefix(d, ".") {
		return h == d[1:] || strings.HasSuffix(h, d)
	}
	return h == d
}

// ForDomain returns the subset of the jar applicable to host.
func (j Jar) ForDomain(host string) Jar {
	out := make(Jar)
	for name, c := range j {
		if c.MatchesDomain(host) {
			out[name] = c
		}
	}
	return out
}
