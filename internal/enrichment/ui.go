package enrichment

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/playwright-community/playwright-go"

	"github.com/maltedev/order-extractor/internal/models"
)

// ExportReader pulls the export JSON out of page markup.
type ExportReader interface {
	ExtractExportPayload(html string) ([]byte, error)
}

// UIStrategy drives the order table like an operator: tick the rows of the batch, press the
// export button and read the JSON the portal renders.
type UIStrategy struct {
	buttonText string
	timeout    time.Duration
	reader     ExportReader
	logger     *slog.Logger
}

func NewUIStrategy(buttonText string, timeout time.Duration, reader ExportReader, logger *slog.Logger) *UIStrategy {
	return &UIStrategy{
		buttonText: buttonText,
		timeout:    timeout,
		reader:     reader,
		logger:     logger.With("component", "enrichment_ui"),
	}
}

func (u *UIStrategy) Name() string {
	return "ui"
}

func (u *UIStrategy) FetchBatch(ctx context.Context, ids []string, s Session) (map[string]*models.EnrichmentRecord, error) {
	if s == nil || !s.Valid() || s.Page() == nil {
		return nil, ErrNoSession
	}
	page := s.Page()

	startURL := page.URL()
	checked := u.selectRows(page, ids)
	defer u.restore(page, startURL, func() { u.clearRows(checked) })

	if len(checked) == 0 {
		return nil, ErrNothingSelected
	}
	u.logger.Debug("rows selected", "selected", len(checked), "requested", len(ids))

	if err := ctx.Err(); err != nil {
		return nil, err
	}

	button := page.Locator(fmt.Sprintf("button:has-text(%q), a:has-text(%q)", u.buttonText, u.buttonText)).First()
	if err := button.WaitFor(playwright.LocatorWaitForOptions{
		State:   playwright.WaitForSelectorStateVisible,
		Timeout: playwright.Float(float64(u.timeout.Milliseconds())),
	}); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrExportButton, err)
	}

	if err := button.Click(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrExportButton, err)
	}

	if err := page.WaitForLoadState(playwright.PageWaitForLoadStateOptions{
		State:   playwright.LoadStateDomcontentloaded,
		Timeout: playwright.Float(float64(u.timeout.Milliseconds())),
	}); err != nil {
		u.logger.Debug("export did not finish loading", "error", err)
	}

	html, err := page.Content()
	if err != nil {
		return nil, TransportError{Err: err}
	}

	return readExport(u.reader, html)
}

// tableView is the part of the page restore needs.
type tableView interface {
	URL() string
	GoBack(options ...playwright.PageGoBackOptions) (playwright.Response, error)
}

// restore leaves the session on the order table with no rows ticked. While the table is still
// shown the ticked rows are cleared in place. If the export navigated away, going back reloads the
// table and the stale selection is not touched.
func (u *UIStrategy) restore(view tableView, startURL string, clear func()) {
	if view.URL() == startURL {
		clear()
		return
	}
	if _, err := view.GoBack(); err != nil {
		u.logger.Warn("failed to return to order table", "error", err)
	}
}

// selectRows ticks the checkbox of every id it can find and returns the ones it ticked.
func (u *UIStrategy) selectRows(page playwright.Page, ids []string) []playwright.Locator {
	var checked []playwright.Locator

	for _, id := range ids {
		box := findCheckbox(page, id)
		if box == nil {
			continue
		}
		isChecked, err := box.IsChecked()
		if err != nil {
			continue
		}
		if isChecked {
			continue
		}
		if err := box.Check(); err != nil {
			u.logger.Debug("failed to tick row", "order_id", id, "error", err)
			continue
		}
		checked = append(checked, box)
	}

	return checked
}

func (u *UIStrategy) clearRows(boxes []playwright.Locator) {
	for _, box := range boxes {
		if err := box.Uncheck(playwright.LocatorUncheckOptions{
			Timeout: playwright.Float(1000),
		}); err != nil {
			// The view may have changed under us. Nothing left to clear then.
			return
		}
	}
}

func findCheckbox(page playwright.Page, id string) playwright.Locator {
	candidates := []string{
		fmt.Sprintf("input[type=checkbox][value=%q]", id),
		fmt.Sprintf("xpath=//tr[td[normalize-space(.)='%s']]//input[@type='checkbox']", id),
	}
	for _, sel := range candidates {
		loc := page.Locator(sel).First()
		if n, err := page.Locator(sel).Count(); err == nil && n > 0 {
			return loc
		}
	}
	return nil
}

func readExport(reader ExportReader, html string) (map[string]*models.EnrichmentRecord, error) {
	payload, err := reader.ExtractExportPayload(html)
	if err != nil {
		return nil, NotJSONError{Err: err}
	}
	return decodePayload(payload)
}
