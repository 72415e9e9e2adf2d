package parser

import (
	"errors"

	"github.com/maltedev/order-extractor/internal/models"
)

var (
	ErrTableNotFound   = errors.New("order table not found")
	ErrPayloadNotFound = errors.New("export payload not found")
)

// Parser reads the portal's markup. It never touches the browser.
type Parser interface {
	ParseOrderTable(html, selector string) ([]models.RawRow, error)
	ExtractExportPayload(html string) ([]byte, error)
}
