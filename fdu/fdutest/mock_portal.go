// Package fdutest provides a configurable mock of the campus portals for
// testing the SDK without touching the real systems.
package fdutest

import (
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"

	"github.com/fduhole/fdusdk/fdu"
	"golang.org/x/time/rate"
)

// Credentials accepted by the mock UIS.
const (
	UID      = "21300000000"
	Password = "secret"
)

// MockPortal serves a fake UIS plus any service endpoints a test registers.
type MockPortal struct {
	*httptest.Server
	mux *http.ServeMux

	mu         sync.Mutex
	logins     int
	logouts    int
	rejectNext bool
}

// NewMockPortal starts a portal mock with a working SSO flow.
func NewMockPortal() *MockPortal {
	m := &MockPortal{mux: http.NewServeMux()}
	m.mux.HandleFunc("GET /authserver/login", m.handleLoginPage)
	m.mux.HandleFunc("POST /authserver/login", m.handleLogin)
	m.mux.HandleFunc("/authserver/index.do", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, "<html><body>authserver index</body></html>")
	})
	m.mux.HandleFunc("/authserver/logout", func(w http.ResponseWriter, r *http.Request) {
		m.mu.Lock()
		m.logouts++
		m.mu.Unlock()
		http.Redirect(w, r, "/authserver/login", http.StatusFound)
	})
	m.Server = httptest.NewServer(m.mux)
	return m
}

// Handle registers an extra endpoint on the mock, e.g. a grades table.
func (m *MockPortal) Handle(pattern string, handler http.HandlerFunc) {
	m.mux.HandleFunc(pattern, handler)
}

// NewClient builds a client against the mock with request pacing disabled,
// so tests do not sit in the rate limiter.
func (m *MockPortal) NewClient(opts ...fdu.Option) *fdu.Client {
	base := []fdu.Option{
		fdu.WithBaseURLs(m.BaseURLs()),
		fdu.WithRateLimit(rate.Inf, 0),
	}
	return fdu.New(append(base, opts...)...)
}

// BaseURLs points every portal at the mock server.
func (m *MockPortal) BaseURLs() fdu.BaseURLs {
	return fdu.BaseURLs{
		UIS:   m.URL + "/authserver",
		JWFW:  m.URL,
		My:    m.URL,
		ECard: m.URL,
		Zlapp: m.URL,
		XK:    m.URL,
	}
}

// RejectNextLogin makes the next login attempt fail regardless of credentials.
func (m *MockPortal) RejectNextLogin() {
	m.mu.Lock()
	m.rejectNext = true
	m.mu.Unlock()
}

// Logins returns the number of successful logins.
func (m *MockPortal) Logins() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.logins
}

// Logouts returns the number of logout requests seen.
func (m *MockPortal) Logouts() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.logouts
}

func (m *MockPortal) handleLoginPage(w http.ResponseWriter, r *http.Request) {
	fmt.Fprint(w, `<html><body><form method="post">
<input type="hidden" name="lt" value="LT-mock-token"/>
<input type="hidden" name="execution" value="e1s1"/>
<input type="hidden" name="_eventId" value="submit"/>
<input type="text" name="username"/>
<input type="password" name="password"/>
</form></body></html>`)
}

func (m *MockPortal) handleLogin(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		http.Error(w, "bad form", http.StatusBadRequest)
		return
	}

	m.mu.Lock()
	reject := m.rejectNext
	m.rejectNext = false
	m.mu.Unlock()

	// The real authserver refuses posts that do not echo the one-time
	// tokens from the login page.
	if r.PostFormValue("lt") != "LT-mock-token" || r.PostFormValue("execution") == "" {
		fmt.Fprint(w, "<html><body>missing token</body></html>")
		return
	}
	if reject || r.PostFormValue("username") != UID || r.PostFormValue("password") != Password {
		// Failed logins re-render the form, no redirect.
		fmt.Fprint(w, `<html><body><span id="msg">用户名或密码有误</span></body></html>`)
		return
	}

	m.mu.Lock()
	m.logins++
	m.mu.Unlock()
	http.Redirect(w, r, "/authserver/index.do", http.StatusFound)
}
