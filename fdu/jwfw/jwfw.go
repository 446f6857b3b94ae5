// Package jwfw accesses the academic affairs system (教务服务).
package jwfw

import (
	"context"
	"strings"

	"github.com/fduhole/fdusdk/fdu"
	"github.com/fduhole/fdusdk/internal/scrape"
)

const (
	portal   = "jwfw"
	homePath = "/eams/home.action"

	// Anchor text of the interstitial page ("click here").
	redirectAnchor = "点击此处"
)

// Service wraps JWFW operations on an authenticated session.
type Service struct {
	c *fdu.Client
}

// New creates a JWFW service on top of an existing session.
func New(c *fdu.Client) *Service {
	return &Service{c: c}
}

// Homepage fetches the JWFW home page. After SSO the system sometimes
// serves an interstitial page with a single continue link; when present it
// is followed before returning.
func (s *Service) Homepage(ctx context.Context) (string, error) {
	if err := s.c.EnsureLoggedIn(); err != nil {
		return "", err
	}

	page, err := s.c.GetPage(ctx, portal, "homepage", s.c.Bases().JWFW+homePath)
	if err != nil {
		return "", err
	}

	href, ok, err := scrape.AnchorHrefByText(strings.NewReader(page.Body), redirectAnchor)
	if err != nil {
		return "", fdu.NewPortalError(fdu.ErrBadResponse, portal, "homepage").WithCause(err)
	}
	if !ok {
		return page.Body, nil
	}

	next, err := page.URL.Parse(href)
	if err != nil {
		return "", fdu.NewPortalError(fdu.ErrBadResponse, portal, "homepage").WithCause(err)
	}
	follow, err := s.c.GetPage(ctx, portal, "homepage_follow", next.String())
	if err != nil {
		return "", err
	}
	return follow.Body, nil
}
