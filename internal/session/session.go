package session

import (
	"errors"
	"net/http"
	"time"

	"github.com/playwright-community/playwright-go"

	"github.com/maltedev/order-extractor/internal/browser"
)

var (
	ErrMissingCredentials = errors.New("portal credentials are missing")
	ErrLoginFailed        = errors.New("portal login failed")
	ErrFilterFailed       = errors.New("failed to apply order filters")
	ErrNavigation         = errors.New("page navigation failed")
	ErrClosed             = errors.New("session is closed")
)

// Session is an authenticated, filtered browsing context owned by exactly one page cycle.
type Session struct {
	ID        string
	CreatedAt time.Time

	valid   bool
	browser *browser.Browser
	page    playwright.Page
	baseURL string
}

// New wraps an already logged-in browser page. b and page may be nil in tests.
func New(id string, b *browser.Browser, page playwright.Page, baseURL string) *Session {
	return &Session{
		ID:        id,
		CreatedAt: time.Now(),
		valid:     true,
		browser:   b,
		page:      page,
		baseURL:   baseURL,
	}
}

func (s *Session) Valid() bool {
	return s != nil && s.valid
}

func (s *Session) Page() playwright.Page {
	return s.page
}

func (s *Session) BaseURL() string {
	return s.baseURL
}

// Age is how long the session has been open.
func (s *Session) Age() time.Duration {
	return time.Since(s.CreatedAt)
}

// Cookies returns the portal cookies of the session for direct HTTP calls.
func (s *Session) Cookies() ([]*http.Cookie, error) {
	if !s.Valid() {
		return nil, ErrClosed
	}
	if s.browser == nil {
		return nil, nil
	}
	if s.baseURL == "" {
		return s.browser.Cookies()
	}
	return s.browser.Cookies(s.baseURL)
}

// release frees the browser and marks the session unusable. Safe to call twice.
func (s *Session) release() error {
	if !s.Valid() {
		return nil
	}
	s.valid = false

	if s.browser == nil {
		return nil
	}
	b := s.browser
	s.browser = nil
	s.page = nil
	return b.Close()
}
