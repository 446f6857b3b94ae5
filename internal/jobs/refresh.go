// Package jobs runs the periodic refresh cycle: log in, fetch the
// transcript, GPA and check-in state, persist a snapshot, and report
// newly published grades.
package jobs

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/codes"
	"golang.org/x/sync/errgroup"

	"github.com/fduhole/fdusdk/fdu"
	"github.com/fduhole/fdusdk/fdu/daily"
	"github.com/fduhole/fdusdk/fdu/grades"
	fdulog "github.com/fduhole/fdusdk/internal/log"
	"github.com/fduhole/fdusdk/internal/metrics"
	"github.com/fduhole/fdusdk/internal/session"
	"github.com/fduhole/fdusdk/internal/store"
	"github.com/fduhole/fdusdk/internal/telemetry"
)

// Report is the outcome of one refresh cycle, also written to
// <dataDir>/report.json for external consumers.
type Report struct {
	LastRun     time.Time  `json:"last_run"`
	UID         string     `json:"uid"`
	GPA         grades.GPA `json:"gpa"`
	Courses     int        `json:"courses"`
	NewCourses  []string   `json:"new_courses,omitempty"`
	TickedToday bool       `json:"ticked_today"`
	Duration    string     `json:"duration"`
	Error       string     `json:"error,omitempty"`
}

// Config holds refresh job configuration.
type Config struct {
	DataDir       string
	UID           string
	Password      string
	Interval      time.Duration
	Timeout       time.Duration
	KeepSnapshots int
}

// Runner executes refresh cycles against the portals.
type Runner struct {
	cfg    Config
	client *fdu.Client
	grades *grades.Service
	daily  *daily.Service
	store  *store.Store

	// Optional session persistence; nil disables it.
	jar      *session.Jar
	sessions *session.Store

	mu      sync.Mutex // serializes refresh cycles
	lastMu  sync.RWMutex
	last    *Report
	trigger chan struct{}
}

// NewRunner wires a refresh runner. jar and sessions may be nil when
// session persistence is disabled.
func NewRunner(cfg Config, client *fdu.Client, st *store.Store, jar *session.Jar, sessions *session.Store) *Runner {
	return &Runner{
		cfg:      cfg,
		client:   client,
		grades:   grades.New(client),
		daily:    daily.New(client),
		store:    st,
		jar:      jar,
		sessions: sessions,
		trigger:  make(chan struct{}, 1),
	}
}

// Last returns the most recent report, or nil before the first cycle.
func (r *Runner) Last() *Report {
	r.lastMu.RLock()
	defer r.lastMu.RUnlock()
	return r.last
}

// TriggerRefresh requests an immediate refresh from the run loop.
// A cycle already pending is not queued twice.
func (r *Runner) TriggerRefresh() {
	select {
	case r.trigger <- struct{}{}:
	default:
	}
}

// RestoreSession loads a persisted cookie jar, if one exists, so the
// daemon can skip the SSO login after a restart.
func (r *Runner) RestoreSession(ctx context.Context) {
	if r.jar == nil || r.sessions == nil {
		return
	}
	logger := fdulog.WithComponentFromContext(ctx, "jobs")

	state, found, err := r.sessions.Get(ctx, r.cfg.UID)
	if err != nil {
		logger.Warn().Err(err).Str(fdulog.FieldEvent, "session.restore_failed").Msg("could not load saved session")
		return
	}
	if !found {
		return
	}
	if err := r.jar.Restore(state); err != nil {
		logger.Warn().Err(err).Str(fdulog.FieldEvent, "session.restore_failed").Msg("could not replay saved cookies")
		return
	}
	logger.Info().
		Str(fdulog.FieldEvent, "session.restored").
		Str(fdulog.FieldUID, r.cfg.UID).
		Time("saved_at", state.SavedAt).
		Msg("restored saved session")
}

// Run executes refresh cycles until ctx is cancelled: one immediately,
// then on every interval tick or manual trigger.
func (r *Runner) Run(ctx context.Context) {
	logger := fdulog.WithComponentFromContext(ctx, "jobs")

	r.runOnce(ctx)

	ticker := time.NewTicker(r.cfg.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			logger.Info().Str(fdulog.FieldEvent, "jobs.stopped").Msg("refresh loop stopped")
			return
		case <-ticker.C:
			r.runOnce(ctx)
		case <-r.trigger:
			r.runOnce(ctx)
		}
	}
}

func (r *Runner) runOnce(ctx context.Context) {
	jobID := uuid.NewString()
	ctx = fdulog.ContextWithJobID(ctx, jobID)
	logger := fdulog.WithComponentFromContext(ctx, "jobs")

	report, err := r.Refresh(ctx)
	if err != nil {
		logger.Error().Err(err).
			Str(fdulog.FieldEvent, "refresh.failed").
			Str(fdulog.FieldJobID, jobID).
			Msg("refresh cycle failed")
		return
	}
	logger.Info().
		Str(fdulog.FieldEvent, "refresh.success").
		Str(fdulog.FieldJobID, jobID).
		Int("courses", report.Courses).
		Int("new_courses", len(report.NewCourses)).
		Msg("refresh completed")
}

// Refresh performs one full cycle and returns its report. Daily check-in
// state is best effort; transcript or GPA failures abort the cycle.
func (r *Runner) Refresh(ctx context.Context) (rep *Report, err error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	start := time.Now()
	defer func() { metrics.ObserveRefresh(time.Since(start), err) }()

	ctx, span := telemetry.Tracer("fdusdk.jobs").Start(ctx, "jobs.refresh")
	defer func() {
		status := "success"
		if err != nil {
			status = "error"
			span.SetAttributes(telemetry.ErrorAttributes(err, "refresh")...)
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
		span.SetAttributes(telemetry.JobAttributes("refresh", status, time.Since(start).Milliseconds())...)
		span.End()
	}()

	ctx, cancel := context.WithTimeout(ctx, r.cfg.Timeout)
	defer cancel()

	logger := fdulog.WithComponentFromContext(ctx, "jobs")
	logger.Info().Str(fdulog.FieldEvent, "refresh.start").Str(fdulog.FieldUID, r.cfg.UID).Msg("starting refresh")

	if !r.client.LoggedIn() {
		if err := r.client.Login(ctx, r.cfg.UID, r.cfg.Password); err != nil {
			return nil, fmt.Errorf("login: %w", err)
		}
	}

	// Drop memoized transcript so the cycle sees fresh data.
	r.grades.Invalidate()

	var (
		transcript []grades.CourseGrade
		gpa        grades.GPA
		ticked     bool
	)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		transcript, err = r.grades.All(gctx)
		if err != nil {
			return fmt.Errorf("transcript: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		gpa = r.grades.GPA(gctx)
		return nil
	})
	g.Go(func() error {
		var err error
		ticked, err = r.daily.HasTicked(gctx)
		if err != nil {
			logger.Warn().Err(err).Str(fdulog.FieldEvent, "refresh.daily_failed").Msg("check-in state unavailable")
			ticked = false
		}
		return nil
	})
	if err := g.Wait(); err != nil {
		return nil, err
	}

	newCodes, err := r.diffNewCourses(ctx, transcript)
	if err != nil {
		return nil, err
	}
	metrics.SetGradesKnown(len(transcript))
	metrics.AddGradesNew(len(newCodes))

	if _, err := r.store.SaveSnapshot(ctx, r.cfg.UID, start, gpa, transcript); err != nil {
		return nil, fmt.Errorf("save snapshot: %w", err)
	}
	if err := r.store.Prune(ctx, r.cfg.UID, r.cfg.KeepSnapshots); err != nil {
		return nil, fmt.Errorf("prune snapshots: %w", err)
	}

	r.persistSession(ctx)

	report := &Report{
		LastRun:     start,
		UID:         r.cfg.UID,
		GPA:         gpa,
		Courses:     len(transcript),
		NewCourses:  newCodes,
		TickedToday: ticked,
		Duration:    time.Since(start).Round(time.Millisecond).String(),
	}
	if err := writeReport(ctx, r.cfg.DataDir, report); err != nil {
		return nil, fmt.Errorf("write report: %w", err)
	}

	r.lastMu.Lock()
	r.last = report
	r.lastMu.Unlock()

	return report, nil
}

// diffNewCourses returns transcript codes never seen in any prior
// snapshot, sorted for stable reports.
func (r *Runner) diffNewCourses(ctx context.Context, transcript []grades.CourseGrade) ([]string, error) {
	known, err := r.store.KnownCodes(ctx, r.cfg.UID)
	if err != nil {
		return nil, fmt.Errorf("known codes: %w", err)
	}

	var fresh []string
	for _, course := range transcript {
		if _, ok := known[course.Code]; !ok {
			fresh = append(fresh, course.Code)
		}
	}
	sort.Strings(fresh)
	return fresh, nil
}

func (r *Runner) persistSession(ctx context.Context) {
	if r.jar == nil || r.sessions == nil {
		return
	}
	if err := r.sessions.Put(ctx, r.cfg.UID, r.jar.Snapshot()); err != nil {
		logger := fdulog.WithComponentFromContext(ctx, "jobs")
		logger.Warn().Err(err).
			Str(fdulog.FieldEvent, "session.persist_failed").
			Msg("could not persist session")
	}
}
