package enrichment

import (
	"bytes"
	"encoding/json"
	"strconv"
	"strings"

	"github.com/maltedev/order-extractor/internal/models"
	"github.com/maltedev/order-extractor/internal/orders"
)

// flexString accepts a JSON string, number, bool or null and keeps it as text.
type flexString string

func (f *flexString) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) == 0 || bytes.Equal(data, []byte("null")) {
		*f = ""
		return nil
	}
	if data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		*f = flexString(s)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(data, &n); err == nil {
		*f = flexString(n.String())
		return nil
	}
	var b bool
	if err := json.Unmarshal(data, &b); err == nil {
		*f = flexString(strconv.FormatBool(b))
		return nil
	}
	// Objects and arrays are kept verbatim.
	*f = flexString(data)
	return nil
}

type invoiceEntry struct {
	ID          flexString `json:"id"`
	Detail      flexString `json:"detail"`
	Customer    flexString `json:"customer"`
	AmountTotal flexString `json:"amount_total"`
	Transporter flexString `json:"transporter"`
	Address     flexString `json:"address"`
	Phone       flexString `json:"phone"`
}

type invoicePayload struct {
	Error   *bool           `json:"error"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data"`
}

// decodePayload turns an invoice JSON document into enrichment records keyed by order id.
// Entries without an id or with an empty detail are skipped.
func decodePayload(body []byte) (map[string]*models.EnrichmentRecord, error) {
	trimmed := bytes.TrimSpace(body)
	if len(trimmed) == 0 || trimmed[0] != '{' {
		return nil, NotJSONError{Err: errNotObject}
	}

	var payload invoicePayload
	if err := json.Unmarshal(trimmed, &payload); err != nil {
		return nil, NotJSONError{Err: err}
	}

	if payload.Error == nil {
		return nil, APIError{Reason: "missing error flag"}
	}
	if *payload.Error {
		reason := payload.Message
		if reason == "" {
			reason = "error flag set"
		}
		return nil, APIError{Reason: reason}
	}

	data := bytes.TrimSpace(payload.Data)
	if len(data) == 0 || bytes.Equal(data, []byte("null")) {
		return nil, APIError{Reason: "missing data"}
	}

	var entries []invoiceEntry
	if err := json.Unmarshal(data, &entries); err != nil {
		return nil, NotJSONError{Err: err}
	}

	out := make(map[string]*models.EnrichmentRecord, len(entries))
	for _, e := range entries {
		id := strings.TrimSpace(string(e.ID))
		detail := strings.TrimSpace(string(e.Detail))
		if id == "" || detail == "" {
			continue
		}

		rec := orders.NewEnrichmentRecord(id, detail)
		rec.Customer = strings.TrimSpace(string(e.Customer))
		rec.AmountTotal = strings.TrimSpace(string(e.AmountTotal))
		rec.Transporter = strings.TrimSpace(string(e.Transporter))
		rec.Address = strings.TrimSpace(string(e.Address))
		rec.Phone = strings.TrimSpace(string(e.Phone))
		out[id] = rec
	}

	return out, nil
}
