package fdu

import (
	"context"
	"net/http"
	"net/url"
	"strings"

	"github.com/fduhole/fdusdk/internal/log"
	"github.com/fduhole/fdusdk/internal/metrics"
	"github.com/fduhole/fdusdk/internal/scrape"
)

const portalUIS = "uis"

// Login authenticates against UIS single sign-on. The login form carries a
// set of hidden one-time tokens that must be echoed back with the
// credentials; success is recognised by landing on the authserver index
// page after the redirect chain.
func (c *Client) Login(ctx context.Context, uid, pwd string) (err error) {
	defer func() { metrics.RecordLogin(portalUIS, err) }()

	logger := log.WithComponentFromContext(ctx, "fdu")

	loginURL := c.bases.UIS + "/login"
	page, err := c.GetPage(ctx, portalUIS, "login_page", loginURL)
	if err != nil {
		return err
	}

	hidden, err := scrape.HiddenInputs(strings.NewReader(page.Body))
	if err != nil {
		return NewPortalError(ErrBadResponse, portalUIS, "login_page").WithCause(err)
	}

	form := url.Values{}
	for name, value := range hidden {
		form.Set(name, value)
	}
	form.Set("username", uid)
	form.Set("password", pwd)

	res, err := c.PostFormPage(ctx, portalUIS, "login", loginURL, form)
	if err != nil {
		return err
	}

	if res.URL.String() != c.bases.UIS+"/index.do" {
		logger.Debug().
			Str(log.FieldURL, res.URL.String()).
			Int(log.FieldStatus, res.Status).
			Msg("login did not land on index page")
		return NewPortalError(ErrLoginFailed, portalUIS, "login").WithStatus(res.Status)
	}

	c.mu.Lock()
	c.uid = uid
	c.pwd = pwd
	c.loggedIn = true
	c.mu.Unlock()

	logger.Info().
		Str(log.FieldEvent, "uis.login").
		Str(log.FieldUID, uid).
		Msg("logged in")
	return nil
}

// Logout terminates the SSO session. The authserver answers a plain 302;
// anything else means the session was not cleanly released.
func (c *Client) Logout(ctx context.Context) error {
	logoutURL := c.bases.UIS + "/logout?" + url.Values{"service": {""}}.Encode()
	page, err := c.GetPageNoRedirect(ctx, portalUIS, "logout", logoutURL)
	if err != nil {
		return err
	}
	if page.Status != http.StatusFound {
		return NewPortalError(ErrLogoutFailed, portalUIS, "logout").WithStatus(page.Status)
	}

	c.mu.Lock()
	c.loggedIn = false
	c.mu.Unlock()

	logger := log.WithComponentFromContext(ctx, "fdu")
	logger.Info().
		Str(log.FieldEvent, "uis.logout").
		Msg("logged out")
	return nil
}
