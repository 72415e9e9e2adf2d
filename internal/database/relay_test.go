package database

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

type MockRedisClient struct {
	mock.Mock
}

func (m *MockRedisClient) XAdd(ctx context.Context, args *redis.XAddArgs) *redis.StringCmd {
	mockArgs := m.Called(ctx, args)
	cmd := redis.NewStringCmd(ctx)
	if mockArgs.Get(0) != nil {
		cmd.SetErr(mockArgs.Error(0))
	} else {
		cmd.SetVal("1234567890-0")
	}
	return cmd
}

func (m *MockRedisClient) Close() error {
	args := m.Called()
	return args.Error(0)
}

type MockOutboxRepository struct {
	mock.Mock
}

func (m *MockOutboxRepository) GetPending(ctx context.Context, limit int) ([]*OutboxEvent, error) {
	args := m.Called(ctx, limit)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]*OutboxEvent), args.Error(1)
}

func (m *MockOutboxRepository) MarkProcessed(ctx context.Context, id uuid.UUID) error {
	args := m.Called(ctx, id)
	return args.Error(0)
}

func (m *MockOutboxRepository) MarkFailed(ctx context.Context, id uuid.UUID, err error) error {
	args := m.Called(ctx, id, err)
	return args.Error(0)
}

func pageEvent(aggregateID string) *OutboxEvent {
	return &OutboxEvent{
		ID:            uuid.New(),
		AggregateType: "extraction_page",
		AggregateID:   aggregateID,
		EventType:     EventPageExtracted,
		Payload:       json.RawMessage(`{"session_id":"june","page_number":1,"total_records":2}`),
		TargetStream:  DefaultStream,
		CreatedAt:     time.Now(),
	}
}

// streamValues returns the field map the relay hands to XADD.
func streamValues(args *redis.XAddArgs) map[string]interface{} {
	values, _ := args.Values.(map[string]interface{})
	return values
}

func TestRelay_ProcessEvents(t *testing.T) {
	ctx := context.Background()
	logger := slog.Default()

	t.Run("publishes and marks every event", func(t *testing.T) {
		mockRedis := new(MockRedisClient)
		mockOutbox := new(MockOutboxRepository)
		relay := newRelay(mockOutbox, mockRedis, logger, RelayConfig{BatchSize: 10})

		events := []*OutboxEvent{pageEvent("june:1"), pageEvent("june:2")}
		mockOutbox.On("GetPending", ctx, 10).Return(events, nil)

		for _, event := range events {
			event := event
			mockRedis.On("XAdd", ctx, mock.MatchedBy(func(args *redis.XAddArgs) bool {
				values := streamValues(args)
				return args.Stream == DefaultStream &&
					values["event_type"] == EventPageExtracted &&
					values["aggregate_id"] == event.AggregateID
			})).Return(nil)
			mockOutbox.On("MarkProcessed", ctx, event.ID).Return(nil)
		}

		require.NoError(t, relay.processEvents(ctx))

		mockRedis.AssertExpectations(t)
		mockOutbox.AssertExpectations(t)
	})

	t.Run("redis failure marks the event failed", func(t *testing.T) {
		mockRedis := new(MockRedisClient)
		mockOutbox := new(MockOutboxRepository)
		relay := newRelay(mockOutbox, mockRedis, logger, RelayConfig{BatchSize: 10})

		event := pageEvent("june:1")
		mockOutbox.On("GetPending", ctx, 10).Return([]*OutboxEvent{event}, nil)
		mockRedis.On("XAdd", ctx, mock.Anything).Return(errors.New("redis connection failed"))
		mockOutbox.On("MarkFailed", ctx, event.ID, mock.MatchedBy(func(err error) bool {
			return err.Error() == "failed to publish to redis: redis connection failed"
		})).Return(nil)

		assert.NoError(t, relay.processEvents(ctx))

		mockRedis.AssertExpectations(t)
		mockOutbox.AssertExpectations(t)
	})

	t.Run("empty batch", func(t *testing.T) {
		mockRedis := new(MockRedisClient)
		mockOutbox := new(MockOutboxRepository)
		relay := newRelay(mockOutbox, mockRedis, logger, RelayConfig{BatchSize: 10})

		mockOutbox.On("GetPending", ctx, 10).Return([]*OutboxEvent{}, nil)

		require.NoError(t, relay.Flush(ctx))

		mockRedis.AssertNotCalled(t, "XAdd", mock.Anything, mock.Anything)
		mockOutbox.AssertExpectations(t)
	})

	t.Run("one failure does not stop the batch", func(t *testing.T) {
		mockRedis := new(MockRedisClient)
		mockOutbox := new(MockOutboxRepository)
		relay := newRelay(mockOutbox, mockRedis, logger, RelayConfig{BatchSize: 10})

		events := []*OutboxEvent{pageEvent("june:1"), pageEvent("june:2")}
		mockOutbox.On("GetPending", ctx, 10).Return(events, nil)

		mockRedis.On("XAdd", ctx, mock.MatchedBy(func(args *redis.XAddArgs) bool {
			return streamValues(args)["aggregate_id"] == "june:1"
		})).Return(errors.New("redis error"))
		mockOutbox.On("MarkFailed", ctx, events[0].ID, mock.Anything).Return(nil)

		mockRedis.On("XAdd", ctx, mock.MatchedBy(func(args *redis.XAddArgs) bool {
			return streamValues(args)["aggregate_id"] == "june:2"
		})).Return(nil)
		mockOutbox.On("MarkProcessed", ctx, events[1].ID).Return(nil)

		require.NoError(t, relay.processEvents(ctx))

		mockRedis.AssertExpectations(t)
		mockOutbox.AssertExpectations(t)
	})

	t.Run("pending lookup failure", func(t *testing.T) {
		mockOutbox := new(MockOutboxRepository)
		relay := newRelay(mockOutbox, new(MockRedisClient), logger, RelayConfig{BatchSize: 10})

		mockOutbox.On("GetPending", ctx, 10).Return(nil, errors.New("db down"))

		assert.ErrorContains(t, relay.processEvents(ctx), "db down")
	})
}

func TestRelay_PublishToRedis(t *testing.T) {
	ctx := context.Background()
	mockRedis := new(MockRedisClient)
	relay := newRelay(new(MockOutboxRepository), mockRedis, slog.Default(), RelayConfig{})

	event := pageEvent("june:3")

	mockRedis.On("XAdd", ctx, mock.MatchedBy(func(args *redis.XAddArgs) bool {
		val, ok := streamValues(args)["data"].(string)
		if !ok {
			return false
		}

		var data map[string]interface{}
		if err := json.Unmarshal([]byte(val), &data); err != nil {
			return false
		}
		metadata, ok := data["metadata"].(map[string]interface{})
		if !ok {
			return false
		}
		payload, ok := data["payload"].(map[string]interface{})
		if !ok {
			return false
		}

		return data["type"] == EventPageExtracted &&
			data["aggregate_type"] == "extraction_page" &&
			data["aggregate_id"] == "june:3" &&
			payload["session_id"] == "june" &&
			metadata["source"] == Source &&
			metadata["target_stream"] == DefaultStream
	})).Return(nil)

	require.NoError(t, relay.publishToRedis(ctx, event))
	mockRedis.AssertExpectations(t)

	event.Payload = json.RawMessage(`not json`)
	assert.ErrorContains(t, relay.publishToRedis(ctx, event), "failed to unmarshal payload")
}

func TestRelay_Defaults(t *testing.T) {
	relay := newRelay(new(MockOutboxRepository), new(MockRedisClient), slog.Default(), RelayConfig{})
	assert.Equal(t, 5*time.Second, relay.interval)
	assert.Equal(t, 100, relay.batchSize)
}

func TestRelay_Start(t *testing.T) {
	mockOutbox := new(MockOutboxRepository)
	relay := newRelay(mockOutbox, new(MockRedisClient), slog.Default(), RelayConfig{
		PollInterval: 50 * time.Millisecond,
		BatchSize:    10,
	})

	mockOutbox.On("GetPending", mock.Anything, 10).Return([]*OutboxEvent{}, nil).Maybe()

	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan error)
	go func() {
		done <- relay.Start(ctx)
	}()

	time.Sleep(100 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(1 * time.Second):
		t.Fatal("relay did not stop on context cancellation")
	}
}
