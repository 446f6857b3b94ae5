// Package ecard accesses campus card services.
package ecard

import (
	"context"
	"strings"

	"github.com/fduhole/fdusdk/fdu"
	"github.com/fduhole/fdusdk/internal/scrape"
)

const (
	portal     = "ecard"
	qrCodePath = "/epay/wxpage/fudan/zfm/qrcode"
)

// Service wraps ecard operations on an authenticated session.
type Service struct {
	c *fdu.Client
}

// New creates an ecard service on top of an existing session.
func New(c *fdu.Client) *Service {
	return &Service{c: c}
}

// QRCode returns the one-time payment code. The page embeds it as the
// value of the #myText element; codes expire quickly, so callers should
// fetch one right before display.
func (s *Service) QRCode(ctx context.Context) (string, error) {
	if err := s.c.EnsureLoggedIn(); err != nil {
		return "", err
	}

	page, err := s.c.GetPage(ctx, portal, "qrcode", s.c.Bases().ECard+qrCodePath)
	if err != nil {
		return "", err
	}

	code, ok, err := scrape.AttrByID(strings.NewReader(page.Body), "myText", "value")
	if err != nil {
		return "", fdu.NewPortalError(fdu.ErrBadResponse, portal, "qrcode").WithCause(err)
	}
	if !ok || code == "" {
		return "", fdu.NewPortalError(fdu.ErrBadResponse, portal, "qrcode").
			WithStatus(page.Status).WithBody("qr code element missing")
	}
	return code, nil
}
