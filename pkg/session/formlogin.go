package session

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"net/http/cookiejar"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/schwarzT404/scrapping/pkg/scrape"
)

// FormLogin authenticates against a classic HTML login form, discovering
// the CSRF token from the form page and carrying the session cookies on
// every subsequent request.
type FormLogin struct {
	// LoginURL is the address of the login form.
	LoginURL string

	// Username and Password are the form credentials.
	Username string
	Password string

	// CSRFField is the name of the hidden CSRF input. Defaults to
	// "csrf_token".
	CSRFField string

	client *http.Client
	jar    *cookiejar.Jar
	logger zerolog.Logger

	mu            sync.Mutex
	authenticated bool
}

// NewFormLogin creates a form-login provider with its own cookie jar.
func NewFormLogin(loginURL, username, password string) (*FormLogin, error) {
	if loginURL == "" {
		return nil, fmt.Errorf("login url is required")
	}
	jar, err := cookiejar.New(nil)
	if err != nil {
		return nil, fmt.Errorf("create cookie jar: %w", err)
	}
	return &FormLogin{
		LoginURL:  loginURL,
		Username:  username,
		Password:  password,
		CSRFField: "csrf_token",
		jar:       jar,
		client: &http.Client{
			Jar:     jar,
			Timeout: 15 * time.Second,
		},
		logger: log.With().Str("component", "session").Logger(),
	}, nil
}

// Apply attaches the session cookies to the outgoing request. The first
// call logs in; a lost session surfaces as scrape.ErrAuthExpired on a
// later response, which the fetcher handles by calling Refresh.
func (f *FormLogin) Apply(ctx context.Context, req *http.Request) error {
	f.mu.Lock()
	needLogin := !f.authenticated
	f.mu.Unlock()

	if needLogin {
		if err := f.Refresh(ctx); err != nil {
			return err
		}
	}

	for _, cookie := range f.jar.Cookies(req.URL) {
		req.AddCookie(cookie)
	}
	return nil
}

// Refresh performs the login flow: fetch the form, extract the CSRF token,
// post the credentials, and verify the session took.
func (f *FormLogin) Refresh(ctx context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.logger.Info().Str("login_url", f.LoginURL).Msg("Authenticating")

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, f.LoginURL, nil)
	if err != nil {
		return fmt.Errorf("create login request: %w", err)
	}
	resp, err := f.client.Do(req)
	if err != nil {
		return fmt.Errorf("get login form: %w", err)
	}
	body, err := io.ReadAll(resp.Body)
	resp.Body.Close()
	if err != nil {
		return fmt.Errorf("read login form: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("login form returned status %d: %w", resp.StatusCode, scrape.ErrAuthExpired)
	}

	token, err := extractCSRFToken(bytes.NewReader(body), f.CSRFField)
	if err != nil {
		return fmt.Errorf("extract csrf token: %w", err)
	}

	form := url.Values{
		"username": {f.Username},
		"password": {f.Password},
	}
	if token != "" {
		form.Set(f.CSRFField, token)
		f.logger.Debug().Msg("CSRF token attached to login form")
	}

	postReq, err := http.NewRequestWithContext(ctx, http.MethodPost, f.LoginURL, strings.NewReader(form.Encode()))
	if err != nil {
		return fmt.Errorf("create login post: %w", err)
	}
	postReq.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	postResp, err := f.client.Do(postReq)
	if err != nil {
		return fmt.Errorf("post login form: %w", err)
	}
	postBody, err := io.ReadAll(postResp.Body)
	postResp.Body.Close()
	if err != nil {
		return fmt.Errorf("read login response: %w", err)
	}

	if postResp.StatusCode >= 400 || loginRejected(bytes.NewReader(postBody)) {
		f.authenticated = false
		return fmt.Errorf("credentials rejected (status %d): %w", postResp.StatusCode, scrape.ErrAuthExpired)
	}

	f.authenticated = true
	f.logger.Info().Msg("Session established")
	return nil
}

// extractCSRFToken finds the hidden CSRF input in the login form. Returns
// an empty token when the form has none.
func extractCSRFToken(r io.Reader, field string) (string, error) {
	doc, err := goquery.NewDocumentFromReader(r)
	if err != nil {
		return "", err
	}
	input := doc.Find(fmt.Sprintf("input[name=%s]", field)).First()
	value, _ := input.Attr("value")
	return value, nil
}

// loginRejected checks the post-login page for the login form still being
// present, the conventional signal that credentials were refused.
func loginRejected(r io.Reader) bool {
	doc, err := goquery.NewDocumentFromReader(r)
	if err != nil {
		return true
	}
	return doc.Find("form input[name=password]").Length() > 0
}
