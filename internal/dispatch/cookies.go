package dispatch

import (
	"net/http"
	"strings"
	"sync"
)

// CookieJar retains cookies across calls within one run, keyed by domain.
// Collection is append-only per response, so concurrent endpoints within a
// step only ever add entries.
type CookieJar struct {
	sync.Mutex
	domains map[string]map[string]string
}

func NewCookieJar() *CookieJar {
	return &CookieJar{
		domains: map[string]map[string]string{},
	}
}

// Collect merges a response's Set-Cookie values into the jar under the
// request's host
func (j *CookieJar) Collect(host string, cookies []*http.Cookie) {
	if len(cookies) == 0 {
		return
	}
	domain := normalizeDomain(host)

	j.Lock()
	defer j.Unlock()
	byName, ok := j.domains[domain]
	if !ok {
		byName = map[string]string{}
		j.domains[domain] = byName
	}
	for _, c := range cookies {
		byName[c.Name] = c.Value
	}
}

// Apply attaches the jar's cookies for the request host
func (j *CookieJar) Apply(req *http.Request) {
	domain := normalizeDomain(req.URL.Host)

	j.Lock()
	defer j.Unlock()
	for name, value := range j.domains[domain] {
		req.AddCookie(&http.Cookie{Name: name, Value: value})
	}
}

func normalizeDomain(host string) string {
	if idx := strings.IndexByte(host, ':'); idx >= 0 {
		host = host[:idx]
	}
	return strings.ToLower(host)
}
