package database

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/maltedev/order-extractor/internal/models"
)

// PageExtractedPayload is the body of a PAGE_EXTRACTED event.
type PageExtractedPayload struct {
	SessionID          string    `json:"session_id"`
	PageNumber         int       `json:"page_number"`
	TotalRecords       int       `json:"total_records"`
	TotalProducts      int       `json:"total_products"`
	TotalItems         int       `json:"total_items"`
	OrdersWithProducts int       `json:"orders_with_products"`
	OrderIDs           []string  `json:"order_ids"`
	ExtractedAt        time.Time `json:"extracted_at"`
}

// PageSink stores extracted pages in Postgres and announces them through the outbox.
type PageSink struct {
	db     *DB
	outbox *OutboxRepository
	stream string
}

func NewPageSink(db *DB, stream string) *PageSink {
	if stream == "" {
		stream = DefaultStream
	}
	return &PageSink{
		db:     db,
		outbox: NewOutboxRepository(db),
		stream: stream,
	}
}

func (s *PageSink) Name() string {
	return "postgres"
}

// Save writes the page row, all order rows and the outbox event in one transaction.
// Saving the same page of the same run again replaces its orders.
func (s *PageSink) Save(ctx context.Context, page *models.PageResult) error {
	event, err := pageExtractedEvent(page, s.stream, time.Now())
	if err != nil {
		return err
	}

	return s.db.Transaction(ctx, func(tx pgx.Tx) error {
		var pageID int64
		err := tx.QueryRow(ctx, `
			INSERT INTO extraction_pages (
				session_id, page_number, total_records, total_products,
				total_items, orders_with_products, duration_ms, extracted_at
			) VALUES ($1, $2, $3, $4, $5, $6, $7, NOW())
			ON CONFLICT (session_id, page_number) DO UPDATE SET
				total_records = EXCLUDED.total_records,
				total_products = EXCLUDED.total_products,
				total_items = EXCLUDED.total_items,
				orders_with_products = EXCLUDED.orders_with_products,
				duration_ms = EXCLUDED.duration_ms,
				extracted_at = NOW()
			RETURNING id`,
			page.SessionID, page.PageNumber, len(page.Records), page.TotalProducts(),
			page.TotalItems(), page.OrdersWithProducts(), page.Duration.Milliseconds(),
		).Scan(&pageID)
		if err != nil {
			return fmt.Errorf("failed to upsert extraction page: %w", err)
		}

		if _, err := tx.Exec(ctx, "DELETE FROM extracted_orders WHERE page_id = $1", pageID); err != nil {
			return fmt.Errorf("failed to clear previous orders: %w", err)
		}

		if err := insertOrders(ctx, tx, pageID, page.Records); err != nil {
			return err
		}

		return s.outbox.InsertWithTx(ctx, tx, event)
	})
}

func insertOrders(ctx context.Context, tx pgx.Tx, pageID int64, records []*models.OutputRecord) error {
	if len(records) == 0 {
		return nil
	}

	batch := &pgx.Batch{}
	for _, r := range records {
		doc, err := json.Marshal(r)
		if err != nil {
			return fmt.Errorf("failed to encode order at position %d: %w", r.PagePosition, err)
		}
		batch.Queue(`
			INSERT INTO extracted_orders (
				page_id, page_position, order_id, order_code, customer_name,
				has_product_details, product_count, total_items, product_summary,
				record, processed_at
			) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`,
			pageID, r.PagePosition, nullable(r.OrderID), nullable(r.OrderCode), nullable(r.CustomerName),
			r.HasProductDetails, r.ProductCount, r.TotalItems, r.ProductSummary,
			doc, r.ProcessedAt,
		)
	}

	results := tx.SendBatch(ctx, batch)
	for range records {
		if _, err := results.Exec(); err != nil {
			results.Close()
			return fmt.Errorf("failed to insert order: %w", err)
		}
	}
	if err := results.Close(); err != nil {
		return fmt.Errorf("failed to insert orders: %w", err)
	}
	return nil
}

func pageExtractedEvent(page *models.PageResult, stream string, now time.Time) (*OutboxEvent, error) {
	ids := make([]string, 0, len(page.Records))
	for _, r := range page.Records {
		if r.OrderID != "" {
			ids = append(ids, r.OrderID)
		}
	}

	payload, err := json.Marshal(PageExtractedPayload{
		SessionID:          page.SessionID,
		PageNumber:         page.PageNumber,
		TotalRecords:       len(page.Records),
		TotalProducts:      page.TotalProducts(),
		TotalItems:         page.TotalItems(),
		OrdersWithProducts: page.OrdersWithProducts(),
		OrderIDs:           ids,
		ExtractedAt:        now,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to encode page event: %w", err)
	}

	return &OutboxEvent{
		AggregateType: "extraction_page",
		AggregateID:   fmt.Sprintf("%s:%d", page.SessionID, page.PageNumber),
		EventType:     EventPageExtracted,
		Payload:       payload,
		TargetStream:  stream,
	}, nil
}

// RunCompletedEvent announces the final summary of a run.
func RunCompletedEvent(summary *models.RunSummary, stream string) (*OutboxEvent, error) {
	payload, err := json.Marshal(summary)
	if err != nil {
		return nil, fmt.Errorf("failed to encode run summary: %w", err)
	}
	if stream == "" {
		stream = DefaultStream
	}
	return &OutboxEvent{
		AggregateType: "extraction_run",
		AggregateID:   summary.RunID,
		EventType:     EventRunCompleted,
		Payload:       payload,
		TargetStream:  stream,
	}, nil
}

// PageDone is a no-op; pages reach the database through Save.
func (s *PageSink) PageDone(*models.PageResult, *models.RunSummary) {}

// RunDone queues the RUN_COMPLETED event. It runs after the run context may be gone, so it
// uses its own short deadline.
func (s *PageSink) RunDone(summary *models.RunSummary) {
	event, err := RunCompletedEvent(summary, s.stream)
	if err != nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	_ = s.outbox.Insert(ctx, event)
}

func nullable(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
