package enrichment

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"

	"github.com/maltedev/order-extractor/internal/models"
)

// APIStrategy calls the portal's invoice JSON endpoint directly with the session cookies.
type APIStrategy struct {
	client *resty.Client
	path   string
	logger *slog.Logger
}

func NewAPIStrategy(baseURL, path string, timeout time.Duration, logger *slog.Logger) *APIStrategy {
	client := resty.New().
		SetBaseURL(strings.TrimRight(baseURL, "/")).
		SetTimeout(timeout).
		SetHeader("Accept", "application/json, text/plain, */*").
		SetHeader("X-Requested-With", "XMLHttpRequest")

	return &APIStrategy{
		client: client,
		path:   path,
		logger: logger.With("component", "enrichment_api"),
	}
}

// WithTransport swaps the HTTP transport, e.g. for httpmock.
func (a *APIStrategy) WithTransport(rt http.RoundTripper) *APIStrategy {
	a.client.SetTransport(rt)
	return a
}

func (a *APIStrategy) Name() string {
	return "api"
}

func (a *APIStrategy) FetchBatch(ctx context.Context, ids []string, s Session) (map[string]*models.EnrichmentRecord, error) {
	if s == nil || !s.Valid() {
		return nil, ErrNoSession
	}

	cookies, err := s.Cookies()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrNoSession, err)
	}

	// The ids go into the raw query so the commas survive unescaped.
	resp, err := a.client.R().
		SetContext(ctx).
		SetCookies(cookies).
		Get(a.path + "?id=" + strings.Join(ids, ","))
	if err != nil {
		return nil, classifyError(err, 0)
	}

	if err := classifyError(nil, resp.StatusCode()); err != nil {
		return nil, err
	}

	contentType := resp.Header().Get("Content-Type")
	if strings.Contains(strings.ToLower(contentType), "text/html") {
		return nil, NotJSONError{ContentType: contentType}
	}

	records, err := decodePayload(resp.Body())
	if err != nil {
		return nil, err
	}

	a.logger.Debug("batch fetched", "requested", len(ids), "received", len(records), "duration", resp.Time())
	return records, nil
}
