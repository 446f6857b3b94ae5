// Package xk drives the course election system (选课).
//
// XK is a separate host with its own login action and a notoriously
// fragile backend: it bans sessions that issue requests faster than
// roughly one per 1.5 seconds, and its query endpoint answers with
// JavaScript object literals rather than JSON.
package xk

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"regexp"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/fduhole/fdusdk/fdu"
	"github.com/fduhole/fdusdk/internal/log"
	"github.com/fduhole/fdusdk/internal/scrape"
	"golang.org/x/time/rate"
)

const (
	portal = "xk"

	loginPath       = "/xk/login.action"
	homePath        = "/xk/home.action"
	logoutPath      = "/xk/logout.action"
	electCoursePath = "/xk/stdElectCourse!defaultPage.action"
	queryLessonPath = "/xk/stdElectCourse!queryLesson.action"
	batchOpPath     = "/xk/stdElectCourse!batchOperator.action"

	// Minimum spacing the backend tolerates between requests.
	defaultPace = 1500 * time.Millisecond
)

// CourseQuery selects courses by lesson number, course code or name.
// Empty fields match everything.
type CourseQuery struct {
	No   string // e.g. ECON130213.01
	Code string // e.g. ECON130213
	Name string // e.g. 计量经济学
}

func (q CourseQuery) form() url.Values {
	return url.Values{
		"lessonNo":   {q.No},
		"courseCode": {q.Code},
		"courseName": {q.Name},
	}
}

// Course is one electable lesson.
type Course struct {
	ID     int        `json:"id"`
	No     string     `json:"no"`
	Code   string     `json:"code"`
	Name   string     `json:"name"`
	Amount AmountInfo `json:"amount"`
}

// AmountInfo is the seat usage of a course.
type AmountInfo struct {
	Total    int `json:"lc"`
	Selected int `json:"sc"`
}

// Service is an XK session. It must be logged in via its own Login; the
// UIS session does not carry over.
type Service struct {
	c     *fdu.Client
	pacer *rate.Limiter

	mu        sync.Mutex
	profileID int
	courses   []Course
}

// Option configures an XK service.
type Option func(*Service)

// WithPace overrides the request spacing, e.g. rate.Inf in tests.
func WithPace(r rate.Limit, burst int) Option {
	return func(s *Service) { s.pacer = rate.NewLimiter(r, burst) }
}

// New creates an XK service on top of an existing portal client.
func New(c *fdu.Client, opts ...Option) *Service {
	s := &Service{
		c:     c,
		pacer: rate.NewLimiter(rate.Every(defaultPace), 1),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Login authenticates against XK and prepares the election profile. The
// profile id is scraped from the election page and is required by every
// later operation.
func (s *Service) Login(ctx context.Context, uid, pwd string) error {
	base := s.c.Bases().XK

	if err := s.pace(ctx); err != nil {
		return err
	}
	form := url.Values{"username": {uid}, "password": {pwd}}
	page, err := s.c.PostFormPage(ctx, portal, "login", base+loginPath, form)
	if err != nil {
		return err
	}
	if !strings.HasPrefix(page.URL.String(), base+homePath) {
		return fdu.NewPortalError(fdu.ErrLoginFailed, portal, "login").WithStatus(page.Status)
	}

	if err := s.pace(ctx); err != nil {
		return err
	}
	page, err = s.c.GetPage(ctx, portal, "profile_page", base+electCoursePath)
	if err != nil {
		return err
	}
	value, ok, err := scrape.FirstHiddenInputValue(strings.NewReader(page.Body))
	if err != nil || !ok {
		return fdu.NewPortalError(fdu.ErrBadResponse, portal, "profile_page").WithCause(err)
	}
	profileID, err := strconv.Atoi(value)
	if err != nil || profileID == 0 {
		return fdu.NewPortalError(fdu.ErrBadResponse, portal, "profile_page").
			WithBody(fmt.Sprintf("election profile id %q", value))
	}

	// The election page must be entered once before queries are accepted.
	if err := s.pace(ctx); err != nil {
		return err
	}
	enter := url.Values{"electionProfile.id": {strconv.Itoa(profileID)}}
	page, err = s.c.PostFormPage(ctx, portal, "enter_election", base+electCoursePath, enter)
	if err != nil {
		return err
	}
	if page.Status != 200 {
		return fdu.NewPortalError(fdu.ErrLoginFailed, portal, "enter_election").WithStatus(page.Status)
	}

	s.mu.Lock()
	s.profileID = profileID
	s.mu.Unlock()

	logger := log.WithComponentFromContext(ctx, "xk")
	logger.Info().
		Str(log.FieldEvent, "xk.login").
		Int("profile_id", profileID).
		Msg("election session ready")
	return nil
}

// Logout terminates the XK session.
func (s *Service) Logout(ctx context.Context) error {
	if err := s.pace(ctx); err != nil {
		return err
	}
	page, err := s.c.GetPage(ctx, portal, "logout", s.c.Bases().XK+logoutPath)
	if err != nil {
		return err
	}
	if page.Status != 200 {
		return fdu.NewPortalError(fdu.ErrLogoutFailed, portal, "logout").WithStatus(page.Status)
	}
	return nil
}

// QueryCourses searches the catalogue. The endpoint answers with two
// JavaScript literals, a course array and an id-to-seat map; both are
// normalised to strict JSON before decoding and joined by course id.
func (s *Service) QueryCourses(ctx context.Context, query CourseQuery) ([]Course, error) {
	profileID, err := s.requireProfile()
	if err != nil {
		return nil, err
	}

	if err := s.pace(ctx); err != nil {
		return nil, err
	}
	u := fmt.Sprintf("%s%s?profileId=%d", s.c.Bases().XK, queryLessonPath, profileID)
	page, err := s.c.PostFormPage(ctx, portal, "query_lesson", u, query.form())
	if err != nil {
		return nil, err
	}
	if page.Status != 200 {
		return nil, fdu.NewPortalError(fdu.ErrUpstreamUnavailable, portal, "query_lesson").
			WithStatus(page.Status).WithBody(page.Body)
	}

	return parseCourseResponse(page.Body)
}

// Courses returns the whole catalogue, memoized per service.
func (s *Service) Courses(ctx context.Context) ([]Course, error) {
	s.mu.Lock()
	cached := s.courses
	s.mu.Unlock()
	if len(cached) > 0 {
		return append([]Course(nil), cached...), nil
	}

	courses, err := s.QueryCourses(ctx, CourseQuery{})
	if err != nil {
		return nil, err
	}

	s.mu.Lock()
	s.courses = courses
	s.mu.Unlock()
	return append([]Course(nil), courses...), nil
}

// Elect selects the single course matched by query.
func (s *Service) Elect(ctx context.Context, query CourseQuery) (bool, error) {
	return s.singleSelect(ctx, query, true)
}

// Drop withdraws from the single course matched by query.
func (s *Service) Drop(ctx context.Context, query CourseQuery) (bool, error) {
	return s.singleSelect(ctx, query, false)
}

func (s *Service) singleSelect(ctx context.Context, query CourseQuery, elect bool) (bool, error) {
	courses, err := s.QueryCourses(ctx, query)
	if err != nil {
		return false, err
	}
	id, err := matchCourse(query, courses)
	if err != nil {
		return false, err
	}
	return s.operateCourse(ctx, id, elect)
}

func (s *Service) operateCourse(ctx context.Context, id int, elect bool) (bool, error) {
	profileID, err := s.requireProfile()
	if err != nil {
		return false, err
	}

	form := url.Values{}
	if elect {
		form.Set("optype", "true")
		form.Set("operator0", fmt.Sprintf("%d:true:0", id))
	} else {
		form.Set("optype", "false")
		form.Set("operator0", fmt.Sprintf("%d:false", id))
	}

	if err := s.pace(ctx); err != nil {
		return false, err
	}
	u := fmt.Sprintf("%s%s?profileId=%d", s.c.Bases().XK, batchOpPath, profileID)
	page, err := s.c.PostFormPage(ctx, portal, "batch_operator", u, form)
	if err != nil {
		return false, err
	}

	result, ok, err := scrape.FirstDivText(strings.NewReader(page.Body))
	if err != nil || !ok {
		return false, fdu.NewPortalError(fdu.ErrBadResponse, portal, "batch_operator").WithCause(err)
	}
	result = strings.Join(strings.Fields(result), "")

	logger := log.WithComponentFromContext(ctx, "xk")
	logger.Info().
		Str(log.FieldEvent, "xk.operate").
		Int("course_id", id).
		Bool("elect", elect).
		Str("result", result).
		Msg("course operation finished")
	return strings.Contains(result, "成功"), nil
}

func (s *Service) requireProfile() (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.profileID == 0 {
		return 0, fdu.ErrNotLoggedIn
	}
	return s.profileID, nil
}

func (s *Service) pace(ctx context.Context) error {
	if err := s.pacer.Wait(ctx); err != nil {
		return fdu.NewPortalError(fdu.ErrTimeout, portal, "pace").WithCause(err)
	}
	return nil
}

func matchCourse(query CourseQuery, courses []Course) (int, error) {
	for _, c := range courses {
		if (query.No != "" && c.No == query.No) ||
			(query.Code != "" && c.Code == query.Code) ||
			(query.Name != "" && c.Name == query.Name) {
			return c.ID, nil
		}
	}
	return 0, fdu.NewPortalError(fdu.ErrBadResponse, portal, "match_course").
		WithBody("no course matches the query")
}

var (
	// The payload is two JS literals: a course array and a seat map.
	coursePayloadRe = regexp.MustCompile(`(\[.+])[\s\S]*?(\{.+})`)
	// Unquoted object keys such as {id:698241, no:'ECON...'}.
	bareKeyRe = regexp.MustCompile(`([a-zA-Z]+?):`)
)

func parseCourseResponse(body string) ([]Course, error) {
	m := coursePayloadRe.FindStringSubmatch(body)
	if m == nil {
		return nil, fdu.NewPortalError(fdu.ErrBadResponse, portal, "query_lesson").
			WithBody("course payload not found")
	}
	coursesStr := normalizeJSON(m[1])
	amountsStr := normalizeJSON(m[2])

	var courses []Course
	if err := json.Unmarshal([]byte(coursesStr), &courses); err != nil {
		return nil, fdu.NewPortalError(fdu.ErrBadResponse, portal, "query_lesson").WithCause(err)
	}
	amounts := map[string]AmountInfo{}
	if err := json.Unmarshal([]byte(amountsStr), &amounts); err != nil {
		return nil, fdu.NewPortalError(fdu.ErrBadResponse, portal, "query_lesson").WithCause(err)
	}

	for i := range courses {
		if amount, ok := amounts[strconv.Itoa(courses[i].ID)]; ok {
			courses[i].Amount = amount
		}
	}
	return courses, nil
}

// normalizeJSON rewrites a JavaScript object literal into strict JSON:
// bare keys get quoted and single quotes become double quotes.
func normalizeJSON(js string) string {
	out := bareKeyRe.ReplaceAllString(js, `"${1}":`)
	return strings.ReplaceAll(out, "'", `"`)
}
