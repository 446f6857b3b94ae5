// Package api serves the daemon's HTTP surface: health probes, Prometheus
// metrics, and a small JSON API over the authenticated portal session.
package api

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/httprate"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/fduhole/fdusdk/fdu"
	"github.com/fduhole/fdusdk/fdu/daily"
	"github.com/fduhole/fdusdk/fdu/ecard"
	"github.com/fduhole/fdusdk/fdu/grades"
	"github.com/fduhole/fdusdk/fdu/xk"
	"github.com/fduhole/fdusdk/internal/cache"
	"github.com/fduhole/fdusdk/internal/jobs"
)

// Config holds API server configuration.
type Config struct {
	// Token guards /api/v1; empty disables authentication.
	Token string
	// RateLimitPerMinute caps /api/v1 requests per client IP.
	RateLimitPerMinute int
	// CacheTTL bounds how stale cached scrape results may get.
	CacheTTL time.Duration
	// UID and Password are needed for the separate course election login.
	UID      string
	Password string
}

// Server exposes portal data over HTTP.
type Server struct {
	cfg    Config
	client *fdu.Client
	grades *grades.Service
	ecard  *ecard.Service
	daily  *daily.Service
	runner *jobs.Runner
	cache  cache.Cache

	// Course election uses its own session, established lazily.
	xkMu       sync.Mutex
	xk         *xk.Service
	xkLoggedIn bool
}

// NewServer wires the API server. runner may be nil when the refresh loop
// is disabled.
func NewServer(cfg Config, client *fdu.Client, runner *jobs.Runner, c cache.Cache) *Server {
	if c == nil {
		c = cache.NewNoop()
	}
	return &Server{
		cfg:    cfg,
		client: client,
		grades: grades.New(client),
		ecard:  ecard.New(client),
		daily:  daily.New(client),
		runner: runner,
		cache:  c,
		xk:     xk.New(client),
	}
}

// Router builds the chi router with the full middleware stack.
func (s *Server) Router() *chi.Mux {
	r := chi.NewRouter()
	r.Use(recoverer)
	r.Use(requestID)
	r.Use(requestLogger)

	r.Get("/healthz", s.handleHealth)
	r.Get("/readyz", s.handleReady)
	r.Method(http.MethodGet, "/metrics", promhttp.Handler())

	r.Route("/api/v1", func(r chi.Router) {
		if s.cfg.RateLimitPerMinute > 0 {
			r.Use(httprate.LimitByIP(s.cfg.RateLimitPerMinute, time.Minute))
		}
		r.Use(bearerAuth(s.cfg.Token))

		r.Get("/grades", s.handleGrades)
		r.Get("/grades/semester", s.handleSemester)
		r.Get("/gpa", s.handleGPA)
		r.Get("/daily", s.handleDaily)
		r.Get("/ecard/qrcode", s.handleQRCode)
		r.Get("/report", s.handleReport)
		r.Post("/refresh", s.handleRefresh)

		r.Get("/xk/courses", s.handleXKCourses)
		r.Post("/xk/elect", s.handleElect)
		r.Post("/xk/drop", s.handleDrop)
	})

	return r
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// handleReady reports ready once an authenticated session exists. Load
// balancers keep traffic away until the first login has succeeded.
func (s *Server) handleReady(w http.ResponseWriter, _ *http.Request) {
	if !s.client.LoggedIn() {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "waiting for login"})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
}

func (s *Server) handleGrades(w http.ResponseWriter, r *http.Request) {
	if cached, ok := s.cache.Get("grades"); ok {
		w.Header().Set("Content-Type", "application/json")
		w.Header().Set("X-Cache", "hit")
		_, _ = w.Write(cached)
		return
	}

	all, err := s.grades.All(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}

	buf, err := json.Marshal(all)
	if err != nil {
		writeError(w, err)
		return
	}
	s.cache.Set("grades", buf, s.cfg.CacheTTL)

	w.Header().Set("Content-Type", "application/json")
	_, _ = w.Write(buf)
}

func (s *Server) handleSemester(w http.ResponseWriter, r *http.Request) {
	current, err := s.grades.CurrentSemester(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, current)
}

func (s *Server) handleGPA(w http.ResponseWriter, r *http.Request) {
	if err := s.client.EnsureLoggedIn(); err != nil {
		writeError(w, err)
		return
	}

	if cached, ok := s.cache.Get("gpa"); ok {
		w.Header().Set("Content-Type", "application/json")
		w.Header().Set("X-Cache", "hit")
		_, _ = w.Write(cached)
		return
	}

	gpa := s.grades.GPA(r.Context())
	buf, err := json.Marshal(gpa)
	if err != nil {
		writeError(w, err)
		return
	}
	s.cache.Set("gpa", buf, s.cfg.CacheTTL)

	w.Header().Set("Content-Type", "application/json")
	_, _ = w.Write(buf)
}

func (s *Server) handleDaily(w http.ResponseWriter, r *http.Request) {
	ticked, err := s.daily.HasTicked(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"ticked_today": ticked})
}

// handleQRCode always hits the portal: payment codes are one-time use, so
// caching one would hand out dead codes.
func (s *Server) handleQRCode(w http.ResponseWriter, r *http.Request) {
	qr, err := s.ecard.QRCode(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"qrcode": qr})
}

func (s *Server) handleReport(w http.ResponseWriter, _ *http.Request) {
	if s.runner == nil {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "refresh loop disabled"})
		return
	}
	report := s.runner.Last()
	if report == nil {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "no refresh completed yet"})
		return
	}
	writeJSON(w, http.StatusOK, report)
}

func (s *Server) handleRefresh(w http.ResponseWriter, _ *http.Request) {
	if s.runner == nil {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "refresh loop disabled"})
		return
	}
	s.runner.TriggerRefresh()
	s.cache.Delete("grades")
	s.cache.Delete("gpa")
	writeJSON(w, http.StatusAccepted, map[string]string{"status": "scheduled"})
}

// ensureXK establishes the course election session on first use. Election
// runs on a separate backend with its own login.
func (s *Server) ensureXK(r *http.Request) error {
	s.xkMu.Lock()
	defer s.xkMu.Unlock()
	if s.xkLoggedIn {
		return nil
	}
	if err := s.xk.Login(r.Context(), s.cfg.UID, s.cfg.Password); err != nil {
		return err
	}
	s.xkLoggedIn = true
	return nil
}

func (s *Server) handleXKCourses(w http.ResponseWriter, r *http.Request) {
	if err := s.ensureXK(r); err != nil {
		writeError(w, err)
		return
	}
	var (
		courses []xk.Course
		err     error
	)
	if q := r.URL.Query().Get("query"); q != "" {
		courses, err = s.xk.QueryCourses(r.Context(), xk.CourseQuery{Name: q})
	} else {
		courses, err = s.xk.Courses(r.Context())
	}
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, courses)
}

type electRequest struct {
	No   string `json:"no"`
	Code string `json:"code"`
	Name string `json:"name"`
}

func (req electRequest) query() xk.CourseQuery {
	return xk.CourseQuery{No: req.No, Code: req.Code, Name: req.Name}
}

func (s *Server) handleElect(w http.ResponseWriter, r *http.Request) {
	s.handleElection(w, r, s.xk.Elect)
}

func (s *Server) handleDrop(w http.ResponseWriter, r *http.Request) {
	s.handleElection(w, r, s.xk.Drop)
}

func (s *Server) handleElection(w http.ResponseWriter, r *http.Request, op func(ctx context.Context, q xk.CourseQuery) (bool, error)) {
	var req electRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid request body"})
		return
	}
	if req.No == "" && req.Code == "" && req.Name == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "no, code or name is required"})
		return
	}

	if err := s.ensureXK(r); err != nil {
		writeError(w, err)
		return
	}

	ok, err := op(r.Context(), req.query())
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"success": ok})
}
