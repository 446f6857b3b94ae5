// Package daily accesses the daily health check-in app (平安复旦).
package daily

import (
	"context"
	"encoding/json"
	"time"

	"github.com/fduhole/fdusdk/fdu"
)

const (
	portal      = "zlapp"
	getInfoPath = "/ncov/wap/fudan/get-info"
)

// Service wraps check-in operations on an authenticated session.
type Service struct {
	c *fdu.Client

	// now is swappable for tests.
	now func() time.Time
}

// New creates a daily check-in service on top of an existing session.
func New(c *fdu.Client) *Service {
	return &Service{c: c, now: time.Now}
}

// History returns the raw check-in history JSON as served by the app.
func (s *Service) History(ctx context.Context) (string, error) {
	if err := s.c.EnsureLoggedIn(); err != nil {
		return "", err
	}
	page, err := s.c.GetPage(ctx, portal, "get_info", s.c.Bases().Zlapp+getInfoPath)
	if err != nil {
		return "", err
	}
	return page.Body, nil
}

type historyPayload struct {
	D struct {
		Info struct {
			Date string `json:"date"`
		} `json:"info"`
	} `json:"d"`
}

// HasTicked reports whether today's check-in has been submitted: the
// history's d.info.date equals today in yyyyMMdd. Absent keys mean "not
// ticked", not an error; only undecodable payloads are.
func (s *Service) HasTicked(ctx context.Context) (bool, error) {
	raw, err := s.History(ctx)
	if err != nil {
		return false, err
	}

	var payload historyPayload
	if err := json.Unmarshal([]byte(raw), &payload); err != nil {
		return false, fdu.NewPortalError(fdu.ErrBadResponse, portal, "get_info").WithCause(err)
	}

	today := s.now().Format("20060102")
	return payload.D.Info.Date == today, nil
}
