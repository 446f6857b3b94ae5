// Package grades fetches course grades and GPA standing from the
// information portal and the academic affairs system.
package grades

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"sync"

	"github.com/fduhole/fdusdk/fdu"
	"github.com/fduhole/fdusdk/internal/log"
	"github.com/fduhole/fdusdk/internal/scrape"
)

const (
	portalMy   = "my"
	portalJWFW = "jwfw"

	gradeListPath = "/list/bks_xx_cj"
	gpaSearchPath = "/eams/myActualGpa!search.action"
)

// CourseGrade is one row of the transcript.
type CourseGrade struct {
	Code     string  `json:"code"`
	Year     string  `json:"year"`
	Semester string  `json:"semester"`
	Name     string  `json:"name"`
	Credit   float64 `json:"credit"`
	Grade    string  `json:"grade"`
	Point    float64 `json:"point"`
}

// GPA is the grade point standing, either as published by the academic
// affairs ranking table or derived from the transcript.
type GPA struct {
	GPA        float64 `json:"gpa"`
	Ranking    int     `json:"ranking"`
	Total      int     `json:"total"`
	Percentage float64 `json:"percentage"`
	Credits    float64 `json:"credits"`
}

func (g GPA) String() string {
	return fmt.Sprintf("gpa: %g, ranking: %d/%d %.1f%%, credits: %g",
		g.GPA, g.Ranking, g.Total, g.Percentage*100, g.Credits)
}

// Service scrapes grade data over an authenticated portal session.
// The transcript is memoized per Service instance.
type Service struct {
	c *fdu.Client

	mu     sync.Mutex
	cached []CourseGrade
}

// New creates a grades service on top of an existing session.
func New(c *fdu.Client) *Service {
	return &Service{c: c}
}

// All returns the full transcript, newest semester first (portal order).
func (s *Service) All(ctx context.Context) ([]CourseGrade, error) {
	if err := s.c.EnsureLoggedIn(); err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.cached) > 0 {
		return append([]CourseGrade(nil), s.cached...), nil
	}

	page, err := s.c.GetPage(ctx, portalMy, "grade_list", s.c.Bases().My+gradeListPath)
	if err != nil {
		return nil, err
	}

	rows, err := scrape.TableRows(strings.NewReader(page.Body))
	if err != nil {
		return nil, fdu.NewPortalError(fdu.ErrBadResponse, portalMy, "grade_list").WithCause(err)
	}

	logger := log.WithComponentFromContext(ctx, "grades")
	grades := make([]CourseGrade, 0, len(rows))
	for _, v := range rows {
		if len(v) < 6 {
			continue
		}
		credit, err := strconv.ParseFloat(v[4], 64)
		if err != nil {
			return nil, fdu.NewPortalError(fdu.ErrBadResponse, portalMy, "grade_list").
				WithCause(fmt.Errorf("parse credit %q: %w", v[4], err))
		}
		grade := v[5]
		point, known := PointOf(grade)
		if !known {
			logger.Warn().Str("grade", grade).Str("course", v[0]).Msg("unknown letter grade")
		}
		grades = append(grades, CourseGrade{
			Code:     v[0],
			Year:     v[1],
			Semester: v[2],
			Name:     v[3],
			Credit:   credit,
			Grade:    grade,
			Point:    point,
		})
	}

	s.cached = grades
	return append([]CourseGrade(nil), grades...), nil
}

// CurrentSemester returns the leading run of grades that share the newest
// year and semester.
func (s *Service) CurrentSemester(ctx context.Context) ([]CourseGrade, error) {
	all, err := s.All(ctx)
	if err != nil {
		return nil, err
	}
	if len(all) == 0 {
		return nil, nil
	}
	year, semester := all[0].Year, all[0].Semester
	i := 0
	for ; i < len(all); i++ {
		if all[i].Year != year || all[i].Semester != semester {
			break
		}
	}
	return all[:i], nil
}

// Invalidate drops the memoized transcript so the next call re-fetches.
func (s *Service) Invalidate() {
	s.mu.Lock()
	s.cached = nil
	s.mu.Unlock()
}

// FromRanking scrapes the published GPA standing from the academic affairs
// ranking table. The table lists the whole school; the caller's row is the
// one whose first cell is not masked with a leading asterisk, and ranking
// is counted within the caller's major (rows are in descending GPA order).
func (s *Service) FromRanking(ctx context.Context) (GPA, error) {
	if err := s.c.EnsureLoggedIn(); err != nil {
		return GPA{}, err
	}

	page, err := s.c.GetPage(ctx, portalJWFW, "gpa_ranking", s.c.Bases().JWFW+gpaSearchPath)
	if err != nil {
		return GPA{}, err
	}

	rows, err := scrape.TableRows(strings.NewReader(page.Body))
	if err != nil {
		return GPA{}, fdu.NewPortalError(fdu.ErrBadResponse, portalJWFW, "gpa_ranking").WithCause(err)
	}

	var gpa GPA
	var major string
	found := false
	for _, row := range rows {
		v := nonEmpty(row)
		if len(v) < 7 {
			continue
		}
		if !strings.HasPrefix(v[0], "*") {
			major = v[3]
			if gpa.GPA, err = strconv.ParseFloat(v[5], 64); err != nil {
				return GPA{}, fdu.NewPortalError(fdu.ErrBadResponse, portalJWFW, "gpa_ranking").
					WithCause(fmt.Errorf("parse gpa %q: %w", v[5], err))
			}
			if gpa.Credits, err = strconv.ParseFloat(v[6], 64); err != nil {
				return GPA{}, fdu.NewPortalError(fdu.ErrBadResponse, portalJWFW, "gpa_ranking").
					WithCause(fmt.Errorf("parse credits %q: %w", v[6], err))
			}
			found = true
			break
		}
	}
	if !found {
		return GPA{}, fdu.NewPortalError(fdu.ErrBadResponse, portalJWFW, "gpa_ranking").
			WithBody("own row not present in ranking table")
	}

	for _, row := range rows {
		v := nonEmpty(row)
		if len(v) < 7 || v[3] != major {
			continue
		}
		gpa.Total++
		if !strings.HasPrefix(v[0], "*") {
			gpa.Ranking = gpa.Total
		}
	}
	if gpa.Total != 0 {
		gpa.Percentage = float64(gpa.Ranking) / float64(gpa.Total)
	}
	return gpa, nil
}

// FromTranscript computes a credit-weighted GPA from the grade list.
// Pass/fail courses (grade P) do not enter the average.
func (s *Service) FromTranscript(ctx context.Context) (GPA, error) {
	all, err := s.All(ctx)
	if err != nil {
		return GPA{}, err
	}
	var gpa GPA
	for _, g := range all {
		if g.Grade == "P" {
			continue
		}
		gpa.GPA += g.Point * g.Credit
		gpa.Credits += g.Credit
	}
	if gpa.Credits > 0 {
		gpa.GPA /= gpa.Credits
	}
	return gpa, nil
}

// GPA returns the published standing when available and falls back to the
// transcript-derived value; a zero GPA means both sources failed.
func (s *Service) GPA(ctx context.Context) GPA {
	logger := log.WithComponentFromContext(ctx, "grades")

	gpa, err := s.FromRanking(ctx)
	if err == nil {
		return gpa
	}
	logger.Warn().Err(err).Msg("ranking table unavailable, deriving gpa from transcript")

	gpa, err = s.FromTranscript(ctx)
	if err == nil {
		return gpa
	}
	logger.Error().Err(err).Msg("transcript unavailable, reporting zero gpa")
	return GPA{}
}

// PointOf maps a letter grade to its grade point. The second return is
// false for grades outside the published table.
func PointOf(grade string) (float64, bool) {
	switch grade {
	case "A":
		return 4.0, true
	case "A-":
		return 3.7, true
	case "B+":
		return 3.3, true
	case "B":
		return 3.0, true
	case "B-":
		return 2.7, true
	case "C+":
		return 2.3, true
	case "C":
		return 2.0, true
	case "C-":
		return 1.7, true
	case "D+":
		return 1.3, true
	case "D":
		return 1.0, true
	case "F", "P":
		return 0, true
	default:
		return 0, false
	}
}

func nonEmpty(cells []string) []string {
	out := make([]string, 0, len(cells))
	for _, c := range cells {
		if strings.TrimSpace(c) != "" {
			out = append(out, c)
		}
	}
	return out
}
