package session

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/maltedev/order-extractor/internal/browser"
	"github.com/maltedev/order-extractor/internal/config"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestPortalProvider_OpenRequiresCredentials(t *testing.T) {
	cfg := config.Default()
	cfg.Portal.BaseURL = "https://portal.example.com"

	launched := false
	p := NewPortalProvider(cfg, testLogger()).WithLauncher(func(*browser.Options) (*browser.Browser, error) {
		launched = true
		return nil, errors.New("should not launch")
	})

	s, err := p.Open(context.Background())
	require.ErrorIs(t, err, ErrMissingCredentials)
	assert.Nil(t, s)
	assert.False(t, launched, "browser must not start without credentials")
}

func TestPortalProvider_OpenNamesCredentialsFile(t *testing.T) {
	cfg := config.Default()
	cfg.Portal.BaseURL = "https://portal.example.com"
	cfg.Portal.CredentialsFile = "/etc/portal/creds.json"

	_, err := NewPortalProvider(cfg, testLogger()).Open(context.Background())
	require.ErrorIs(t, err, ErrMissingCredentials)
	assert.Contains(t, err.Error(), "/etc/portal/creds.json")
}

func TestPortalProvider_OpenLaunchFailure(t *testing.T) {
	cfg := config.Default()
	cfg.Portal.BaseURL = "https://portal.example.com"
	cfg.Portal.Username = "ops"
	cfg.Portal.Password = "secret"

	p := NewPortalProvider(cfg, testLogger()).WithLauncher(func(*browser.Options) (*browser.Browser, error) {
		return nil, errors.New("chromium missing")
	})

	_, err := p.Open(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "chromium missing")
	assert.NotErrorIs(t, err, ErrMissingCredentials)
}

func TestPortalProvider_OpenCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := NewPortalProvider(config.Default(), testLogger()).Open(ctx)
	require.ErrorIs(t, err, context.Canceled)
}

func TestPortalProvider_NavigateFirstPageIsNoop(t *testing.T) {
	p := NewPortalProvider(config.Default(), testLogger())
	s := New("s-1", nil, nil, "")

	require.NoError(t, p.Navigate(context.Background(), s, 1))
}

func TestPortalProvider_NavigateClosedSession(t *testing.T) {
	p := NewPortalProvider(config.Default(), testLogger())
	s := New("s-1", nil, nil, "")
	require.NoError(t, p.Close(s))

	err := p.Navigate(context.Background(), s, 3)
	require.ErrorIs(t, err, ErrClosed)
}

func TestPortalProvider_NavigateWithoutPage(t *testing.T) {
	p := NewPortalProvider(config.Default(), testLogger())
	s := New("s-1", nil, nil, "")

	err := p.Navigate(context.Background(), s, 2)
	require.ErrorIs(t, err, ErrNavigation)
}

func TestPortalProvider_CloseIsIdempotent(t *testing.T) {
	p := NewPortalProvider(config.Default(), testLogger())
	s := New("s-1", nil, nil, "")

	require.NoError(t, p.Close(s))
	assert.False(t, s.Valid())
	require.NoError(t, p.Close(s))
	require.NoError(t, p.Close(nil))
}

func TestSession_Cookies(t *testing.T) {
	s := New("s-1", nil, nil, "https://portal.example.com")

	cookies, err := s.Cookies()
	require.NoError(t, err)
	assert.Empty(t, cookies)

	require.NoError(t, s.release())
	_, err = s.Cookies()
	require.ErrorIs(t, err, ErrClosed)
}

func TestNewPortalProvider_BrowserOptions(t *testing.T) {
	cfg := config.Default()
	cfg.Browser.Headless = false
	cfg.Browser.Timeout = 45 * time.Second

	p := NewPortalProvider(cfg, testLogger())
	assert.False(t, p.browserOpts.Headless)
	assert.Equal(t, 45*time.Second, p.browserOpts.Timeout)
	assert.Equal(t, "Asia/Ho_Chi_Minh", p.browserOpts.TimezoneID)
}

func TestToInt(t *testing.T) {
	n, ok := toInt(float64(3))
	assert.True(t, ok)
	assert.Equal(t, 3, n)

	_, ok = toInt("3")
	assert.False(t, ok)
}

func TestSleepCtx(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	assert.ErrorIs(t, sleepCtx(ctx, time.Hour), context.Canceled)
	assert.NoError(t, sleepCtx(context.Background(), 0))
}
