package database

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"testing"
	"time"

	"github.com/maltedev/shop-image-collector/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setupTestDB(t *testing.T) *DB {
	t.Helper()
	url := os.Getenv("TEST_DATABASE_URL")
	if url == "" {
		t.Skip("TEST_DATABASE_URL not set")
	}

	ctx := context.Background()
	db, err := New(ctx, Config{URL: url, MaxConns: 4})
	require.NoError(t, err)
	require.NoError(t, db.Migrate(ctx))

	_, err = db.Exec(ctx, "TRUNCATE collection_run, outbox_event")
	require.NoError(t, err)

	t.Cleanup(db.Close)
	return db
}

func TestRunEvent(t *testing.T) {
	tests := []struct {
		name     string
		result   *models.CollectionResult
		expected string
	}{
		{"success", &models.CollectionResult{Success: true, Images: []models.ProductImage{{URL: "a.jpg"}}}, EventCollectionSucceeded},
		{"failure", models.NewFailure(models.StrategyNone, "all strategies failed"), EventCollectionFailed},
		{"error page", &models.CollectionResult{IsErrorPage: true, Error: "sale has ended"}, EventErrorPageDetected},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			run := models.NewCollectionRun("https://shop.example/x", models.PlatformGeneric, tt.result)
			event, err := runEvent(run, "")
			require.NoError(t, err)

			assert.Equal(t, tt.expected, event.EventType)
			assert.Equal(t, run.ID.String(), event.AggregateID)
			assert.Equal(t, DefaultRunStream, event.TargetStream)
			assert.Equal(t, run.CreatedAt, event.CreatedAt)
			assert.NoError(t, event.validate())

			var payload map[string]interface{}
			require.NoError(t, json.Unmarshal(event.Payload, &payload))
			assert.Equal(t, "generic", payload["platform"])
		})
	}
}

func TestOutboxEvent_Validate(t *testing.T) {
	valid := &OutboxEvent{AggregateType: "collection_run", EventType: EventCollectionSucceeded, Payload: json.RawMessage(`{}`)}
	assert.NoError(t, valid.validate())

	missingType := *valid
	missingType.AggregateType = ""
	assert.ErrorIs(t, missingType.validate(), ErrInvalidEvent)

	missingEvent := *valid
	missingEvent.EventType = ""
	assert.ErrorIs(t, missingEvent.validate(), ErrInvalidEvent)

	missingPayload := *valid
	missingPayload.Payload = nil
	assert.ErrorIs(t, missingPayload.validate(), ErrInvalidEvent)
}

func TestRetryBackoff(t *testing.T) {
	assert.Equal(t, 2*time.Second, retryBackoff(1))
	assert.Equal(t, 16*time.Second, retryBackoff(4))
	assert.Equal(t, 256*time.Second, retryBackoff(8))
	assert.Equal(t, maxBackoff, retryBackoff(9))
	assert.Equal(t, maxBackoff, retryBackoff(40))
}

func TestRunRepository(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()
	repo := NewRunRepository(db, "")
	outbox := NewOutboxRepository(db)

	ok := models.NewCollectionRun("https://www.coupang.com/vp/products/1", models.PlatformCoupang,
		&models.CollectionResult{Success: true, UsedStrategy: "html-selectors", Images: []models.ProductImage{{URL: "a.jpg"}, {URL: "b.jpg"}}, Timing: 300})
	failed := models.NewCollectionRun("https://www.coupang.com/vp/products/2", models.PlatformCoupang,
		models.NewFailure(models.StrategyNone, "all strategies failed"))
	failed.CreatedAt = ok.CreatedAt.Add(time.Second)
	naver := models.NewCollectionRun("https://smartstore.naver.com/s/products/3", models.PlatformNaver,
		&models.CollectionResult{IsErrorPage: true, UsedStrategy: models.StrategyNone, Error: "sale has ended"})
	naver.CreatedAt = ok.CreatedAt.Add(2 * time.Second)

	for _, run := range []*models.CollectionRun{ok, failed, naver} {
		require.NoError(t, repo.RecordRun(ctx, run))
	}

	t.Run("list newest first", func(t *testing.T) {
		runs, err := repo.ListRecent(ctx, "", 10)
		require.NoError(t, err)
		require.Len(t, runs, 3)
		assert.Equal(t, naver.ID, runs[0].ID)
		assert.Equal(t, "sale has ended", runs[0].Error)
		assert.True(t, runs[0].IsErrorPage)
	})

	t.Run("list by platform", func(t *testing.T) {
		runs, err := repo.ListRecent(ctx, models.PlatformCoupang, 10)
		require.NoError(t, err)
		require.Len(t, runs, 2)
		assert.Equal(t, 2, runs[1].ImageCount)
	})

	t.Run("stats per platform", func(t *testing.T) {
		stats, err := repo.Stats(ctx)
		require.NoError(t, err)
		require.Len(t, stats, 2)

		assert.Equal(t, models.PlatformCoupang, stats[0].Platform)
		assert.Equal(t, int64(2), stats[0].Total)
		assert.Equal(t, int64(1), stats[0].Succeeded)
		assert.Equal(t, "html-selectors", stats[0].TopStrategy)
		assert.Equal(t, int64(1), stats[1].ErrorPages)
	})

	t.Run("each run has a pending outbox event", func(t *testing.T) {
		events, err := outbox.GetPending(ctx, 10)
		require.NoError(t, err)
		assert.Len(t, events, 3)
		for _, e := range events {
			assert.Equal(t, DefaultRunStream, e.TargetStream)
		}

		require.NoError(t, outbox.MarkProcessed(ctx, events[0].ID))
		remaining, err := outbox.GetPending(ctx, 10)
		require.NoError(t, err)
		assert.Len(t, remaining, 2)
	})

	t.Run("failed publishes back off until dead letter", func(t *testing.T) {
		events, err := outbox.GetPending(ctx, 10)
		require.NoError(t, err)
		require.NotEmpty(t, events)
		id := events[0].ID

		require.NoError(t, outbox.MarkFailed(ctx, id, errors.New("redis unavailable")))
		due, err := outbox.GetPending(ctx, 10)
		require.NoError(t, err)
		assert.Len(t, due, len(events)-1, "backed off event is not due yet")

		for i := 1; i < MaxRetryCount; i++ {
			require.NoError(t, outbox.MarkFailed(ctx, id, errors.New("redis unavailable")))
		}

		var status string
		var retries int
		require.NoError(t, db.QueryRow(ctx,
			"SELECT status, retry_count FROM outbox_event WHERE id = $1", id).Scan(&status, &retries))
		assert.Equal(t, OutboxStatusDeadLetter, status)
		assert.Equal(t, MaxRetryCount, retries)
	})
}
