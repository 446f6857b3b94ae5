// Package session persists authenticated portal sessions across daemon
// restarts. The portals track login state in cookies, so a saved cookie
// jar lets the daemon resume without hitting the SSO login endpoint again.
package session

import (
	"net/http"
	"net/http/cookiejar"
	"net/url"
	"sync"
	"time"

	"golang.org/x/net/publicsuffix"
)

// cookieRecord is the serializable form of an http.Cookie.
type cookieRecord struct {
	Name     string    `json:"name"`
	Value    string    `json:"value"`
	Path     string    `json:"path,omitempty"`
	Domain   string    `json:"domain,omitempty"`
	Expires  time.Time `json:"expires,omitempty"`
	Secure   bool      `json:"secure,omitempty"`
	HTTPOnly bool      `json:"httpOnly,omitempty"`
}

// State is a snapshot of all cookies a jar has seen, keyed by the URL the
// server set them for.
type State struct {
	SavedAt time.Time                 `json:"savedAt"`
	Cookies map[string][]cookieRecord `json:"cookies"`
}

// Jar is an http.CookieJar that records every SetCookies call so the jar
// contents can be snapshotted. The standard cookiejar does not expose its
// entries, so recording at the boundary is the only way to persist them.
type Jar struct {
	mu       sync.Mutex
	inner    *cookiejar.Jar
	recorded map[string][]cookieRecord
}

// NewJar creates a recording cookie jar using the public suffix list for
// domain matching.
func NewJar() (*Jar, error) {
	inner, err := cookiejar.New(&cookiejar.Options{PublicSuffixList: publicsuffix.List})
	if err != nil {
		return nil, err
	}
	return &Jar{inner: inner, recorded: make(map[string][]cookieRecord)}, nil
}

// SetCookies implements http.CookieJar.
func (j *Jar) SetCookies(u *url.URL, cookies []*http.Cookie) {
	j.inner.SetCookies(u, cookies)

	key := (&url.URL{Scheme: u.Scheme, Host: u.Host, Path: u.Path}).String()

	j.mu.Lock()
	defer j.mu.Unlock()
	for _, c := range cookies {
		rec := cookieRecord{
			Name:     c.Name,
			Value:    c.Value,
			Path:     c.Path,
			Domain:   c.Domain,
			Expires:  c.Expires,
			Secure:   c.Secure,
			HTTPOnly: c.HttpOnly,
		}
		j.recorded[key] = upsertCookie(j.recorded[key], rec)
	}
}

// Cookies implements http.CookieJar.
func (j *Jar) Cookies(u *url.URL) []*http.Cookie {
	return j.inner.Cookies(u)
}

// Snapshot returns the recorded jar state for persistence.
func (j *Jar) Snapshot() *State {
	j.mu.Lock()
	defer j.mu.Unlock()

	cookies := make(map[string][]cookieRecord, len(j.recorded))
	for key, recs := range j.recorded {
		cookies[key] = append([]cookieRecord(nil), recs...)
	}
	return &State{SavedAt: time.Now(), Cookies: cookies}
}

// Restore replays a saved state into the jar. Cookies that already expired
// are skipped.
func (j *Jar) Restore(state *State) error {
	if state == nil {
		return nil
	}
	now := time.Now()
	for rawURL, recs := range state.Cookies {
		u, err := url.Parse(rawURL)
		if err != nil {
			continue
		}
		var cookies []*http.Cookie
		for _, rec := range recs {
			if !rec.Expires.IsZero() && rec.Expires.Before(now) {
				continue
			}
			cookies = append(cookies, &http.Cookie{
				Name:     rec.Name,
				Value:    rec.Value,
				Path:     rec.Path,
				Domain:   rec.Domain,
				Expires:  rec.Expires,
				Secure:   rec.Secure,
				HttpOnly: rec.HTTPOnly,
			})
		}
		if len(cookies) > 0 {
			j.SetCookies(u, cookies)
		}
	}
	return nil
}

func upsertCookie(recs []cookieRecord, rec cookieRecord) []cookieRecord {
	for i, existing := range recs {
		if existing.Name == rec.Name && existing.Path == rec.Path && existing.Domain == rec.Domain {
			recs[i] = rec
			return recs
		}
	}
	return append(recs, rec)
}
