package session

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/playwright-community/playwright-go"

	"github.com/maltedev/order-extractor/internal/browser"
	"github.com/maltedev/order-extractor/internal/config"
)

// Provider hands out fresh sessions. Every page cycle opens its own session and closes it
// before the next cycle starts.
type Provider interface {
	Open(ctx context.Context) (*Session, error)
	Navigate(ctx context.Context, s *Session, page int) error
	Close(s *Session) error
}

// LaunchFunc starts a browser. Tests swap it out to avoid Chromium.
type LaunchFunc func(opts *browser.Options) (*browser.Browser, error)

// PortalProvider logs into the order portal with Playwright and applies the configured filters.
type PortalProvider struct {
	portal      config.PortalConfig
	extraction  config.ExtractionConfig
	browserOpts *browser.Options
	launch      LaunchFunc
	logger      *slog.Logger
}

func NewPortalProvider(cfg *config.Config, logger *slog.Logger) *PortalProvider {
	opts := browser.DefaultOptions()
	opts.Headless = cfg.Browser.Headless
	opts.Timeout = cfg.Browser.Timeout
	opts.ViewportWidth = cfg.Browser.ViewportWidth
	opts.ViewportHeight = cfg.Browser.ViewportHeight
	if cfg.Browser.Locale != "" {
		opts.Locale = cfg.Browser.Locale
	}
	if cfg.Browser.TimezoneID != "" {
		opts.TimezoneID = cfg.Browser.TimezoneID
	}

	return &PortalProvider{
		portal:      cfg.Portal,
		extraction:  cfg.Extraction,
		browserOpts: opts,
		launch:      browser.New,
		logger:      logger.With("component", "session"),
	}
}

// WithLauncher replaces the browser launcher.
func (p *PortalProvider) WithLauncher(fn LaunchFunc) *PortalProvider {
	p.launch = fn
	return p
}

func (p *PortalProvider) Open(ctx context.Context) (*Session, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	if p.portal.Username == "" || p.portal.Password == "" {
		if p.portal.CredentialsFile != "" {
			return nil, fmt.Errorf("%w: check %s", ErrMissingCredentials, p.portal.CredentialsFile)
		}
		return nil, ErrMissingCredentials
	}

	if p.portal.BaseURL == "" {
		return nil, fmt.Errorf("%w: portal base url is not configured", ErrLoginFailed)
	}

	b, err := p.launch(p.browserOpts)
	if err != nil {
		return nil, fmt.Errorf("failed to launch browser: %w", err)
	}

	page, err := b.NewPage()
	if err != nil {
		b.Close()
		return nil, err
	}

	s := New(uuid.NewString(), b, page, p.portal.BaseURL)
	logger := p.logger.With("browser_session_id", s.ID)

	if err := p.login(b, page); err != nil {
		s.release()
		return nil, err
	}
	logger.Info("logged in")

	if err := p.applyFilters(ctx, b, page); err != nil {
		s.release()
		return nil, err
	}
	logger.Info("filters applied",
		"date_from", p.extraction.DateFrom,
		"date_to", p.extraction.DateTo,
		"channel", p.extraction.Channel,
		"limit", p.extraction.DisplayLimit,
	)

	return s, nil
}

func (p *PortalProvider) login(b *browser.Browser, page playwright.Page) error {
	if err := b.NavigateWithRetry(page, p.url(p.portal.LoginPath), 3); err != nil {
		return fmt.Errorf("%w: %v", ErrLoginFailed, err)
	}

	if err := page.Locator(p.portal.UsernameSelector).Fill(p.portal.Username); err != nil {
		return fmt.Errorf("%w: failed to fill username: %v", ErrLoginFailed, err)
	}
	if err := page.Locator(p.portal.PasswordSelector).Fill(p.portal.Password); err != nil {
		return fmt.Errorf("%w: failed to fill password: %v", ErrLoginFailed, err)
	}
	if err := page.Locator(p.portal.SubmitSelector).Click(); err != nil {
		return fmt.Errorf("%w: failed to submit login form: %v", ErrLoginFailed, err)
	}

	if err := page.WaitForLoadState(playwright.PageWaitForLoadStateOptions{
		State: playwright.LoadStateNetworkidle,
	}); err != nil {
		p.logger.Warn("login did not reach network idle", "error", err)
	}

	// The password field stays on screen when the portal rejects the credentials.
	remaining, err := page.Locator(p.portal.PasswordSelector).Count()
	if err != nil {
		return fmt.Errorf("%w: %v", ErrLoginFailed, err)
	}
	if remaining > 0 && strings.Contains(page.URL(), p.portal.LoginPath) {
		return fmt.Errorf("%w: still on login page", ErrLoginFailed)
	}

	return nil
}

const setInputValueJS = `([sel, value]) => {
	const el = document.querySelector(sel);
	if (!el) return false;
	el.value = value;
	el.dispatchEvent(new Event('input', { bubbles: true }));
	el.dispatchEvent(new Event('change', { bubbles: true }));
	return true;
}`

func (p *PortalProvider) applyFilters(ctx context.Context, b *browser.Browser, page playwright.Page) error {
	if err := b.NavigateWithRetry(page, p.url(p.portal.OrdersPath), 3); err != nil {
		return fmt.Errorf("%w: %v", ErrFilterFailed, err)
	}

	// Date pickers are usually read-only inputs, so the value is set through the DOM.
	dates := []struct{ selector, value string }{
		{p.portal.DateFromSelector, p.extraction.DateFrom},
		{p.portal.DateToSelector, p.extraction.DateTo},
	}
	for _, d := range dates {
		if d.value == "" {
			continue
		}
		ok, err := page.Evaluate(setInputValueJS, []interface{}{d.selector, d.value})
		if err != nil {
			return fmt.Errorf("%w: %v", ErrFilterFailed, err)
		}
		if found, _ := ok.(bool); !found {
			return fmt.Errorf("%w: date input %q not found", ErrFilterFailed, d.selector)
		}
	}

	if p.extraction.Channel != "" {
		if _, err := page.Locator(p.portal.ChannelSelector).SelectOption(playwright.SelectOptionValues{
			Values: &[]string{p.extraction.Channel},
		}); err != nil {
			return fmt.Errorf("%w: failed to select channel: %v", ErrFilterFailed, err)
		}
	}

	if p.extraction.DisplayLimit > 0 {
		if _, err := page.Locator(p.portal.LimitSelector).SelectOption(playwright.SelectOptionValues{
			Values: &[]string{strconv.Itoa(p.extraction.DisplayLimit)},
		}); err != nil {
			return fmt.Errorf("%w: failed to select display limit: %v", ErrFilterFailed, err)
		}
	}

	if err := page.Locator(p.portal.ApplySelector).Click(); err != nil {
		return fmt.Errorf("%w: failed to apply filters: %v", ErrFilterFailed, err)
	}

	if err := p.waitForRows(page); err != nil {
		return fmt.Errorf("%w: %v", ErrFilterFailed, err)
	}

	return sleepCtx(ctx, p.extraction.SettleDelay)
}

func (p *PortalProvider) waitForRows(page playwright.Page) error {
	return page.Locator(p.portal.TableSelector + " tbody tr").First().WaitFor(playwright.LocatorWaitForOptions{
		State:   playwright.WaitForSelectorStateAttached,
		Timeout: playwright.Float(float64(p.browserOpts.Timeout.Milliseconds())),
	})
}

const drawPageJS = `([sel, index]) => {
	if (typeof $ === 'undefined' || !$.fn || !$.fn.DataTable) return -1;
	const table = $(sel).DataTable();
	table.page(index).draw('page');
	return table.page.info().page;
}`

// Navigate moves the filtered table to the 1-based page. Page 1 is where Open leaves the
// session, so it is a no-op.
func (p *PortalProvider) Navigate(ctx context.Context, s *Session, pageNumber int) error {
	if !s.Valid() {
		return ErrClosed
	}
	if pageNumber <= 1 {
		return nil
	}

	page := s.Page()
	if page == nil {
		return fmt.Errorf("%w: session has no page", ErrNavigation)
	}

	result, err := page.Evaluate(drawPageJS, []interface{}{p.portal.TableSelector, pageNumber - 1})
	if err != nil {
		return fmt.Errorf("%w: %v", ErrNavigation, err)
	}

	current, ok := toInt(result)
	switch {
	case !ok:
		return fmt.Errorf("%w: unexpected pager result %v", ErrNavigation, result)
	case current == -1:
		// No DataTables API on the page, fall back to the pager links.
		link := page.Locator(fmt.Sprintf(".paginate_button:text-is(%q)", strconv.Itoa(pageNumber)))
		if err := link.Click(); err != nil {
			return fmt.Errorf("%w: pager link for page %d: %v", ErrNavigation, pageNumber, err)
		}
	case current != pageNumber-1:
		return fmt.Errorf("%w: table is on page %d, wanted %d", ErrNavigation, current+1, pageNumber)
	}

	if err := p.waitForRows(page); err != nil {
		return fmt.Errorf("%w: %v", ErrNavigation, err)
	}

	p.logger.Info("navigated", "browser_session_id", s.ID, "page", pageNumber)

	return sleepCtx(ctx, p.extraction.SettleDelay)
}

// Close logs out when it can and always frees the browser. Closing twice is harmless.
func (p *PortalProvider) Close(s *Session) error {
	if !s.Valid() {
		return nil
	}

	if page := s.Page(); page != nil && p.portal.LogoutPath != "" {
		if _, err := page.Goto(p.url(p.portal.LogoutPath), playwright.PageGotoOptions{
			Timeout: playwright.Float(5000),
		}); err != nil {
			p.logger.Warn("logout failed", "browser_session_id", s.ID, "error", err)
		}
	}

	if err := s.release(); err != nil {
		return fmt.Errorf("failed to close session %s: %w", s.ID, err)
	}

	p.logger.Info("session closed", "browser_session_id", s.ID, "age", s.Age().Round(time.Millisecond))
	return nil
}

func (p *PortalProvider) url(path string) string {
	return strings.TrimRight(p.portal.BaseURL, "/") + path
}

func toInt(v interface{}) (int, bool) {
	switch n := v.(type) {
	case int:
		return n, true
	case int64:
		return int(n), true
	case float64:
		return int(n), true
	default:
		return 0, false
	}
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
