package postgres

import (
	"context"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/quiverhq/quiver/internal/domain"
	"github.com/quiverhq/quiver/internal/storage"
)

// testDatabaseEnv points at a migrated scratch database. The tests in this
// file skip when it is unset, so the package suite runs without Postgres.
const testDatabaseEnv = "QUIVER_TEST_DATABASE_URL"

func newTestAdapter(t *testing.T) *Adapter {
	t.Helper()
	dsn := os.Getenv(testDatabaseEnv)
	if dsn == "" {
		t.Skipf("%s not set", testDatabaseEnv)
	}
	pool, err := pgxpool.New(context.Background(), dsn)
	if err != nil {
		t.Fatalf("failed to connect: %v", err)
	}
	t.Cleanup(pool.Close)
	if _, err := pool.Exec(context.Background(), `TRUNCATE sync_events`); err != nil {
		t.Fatalf("failed to reset sync_events: %v", err)
	}
	return &Adapter{pool: pool}
}

func TestAppendSyncEventConcurrentAppendsStayGapless(t *testing.T) {
	adapter := newTestAdapter(t)
	ctx := context.Background()

	const writers = 8
	const perWriter = 5

	var wg sync.WaitGroup
	errs := make(chan error, writers*perWriter)
	for i := 0; i < writers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < perWriter; j++ {
				err := adapter.WithTransaction(ctx, func(tx storage.Transaction) error {
					_, err := tx.AppendSyncEvent(ctx, domain.SyncEvent{
						Kind:          domain.EventCreateEntity,
						CreatedBy:     uuid.New(),
						CreatedAt:     time.Now().UTC(),
						SchemaVersion: 1,
						Payload:       []byte(`{}`),
					})
					return err
				})
				if err != nil {
					errs <- err
				}
			}
		}()
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		t.Fatalf("concurrent append failed: %v", err)
	}

	var events []domain.SyncEvent
	err := adapter.WithTransaction(ctx, func(tx storage.Transaction) error {
		var err error
		events, err = tx.ListSyncEvents(ctx, 0, writers*perWriter+1)
		return err
	})
	if err != nil {
		t.Fatalf("ListSyncEvents: %v", err)
	}
	if len(events) != writers*perWriter {
		t.Fatalf("expected %d events, got %d", writers*perWriter, len(events))
	}
	for i, event := range events {
		if event.ID != int64(i+1) {
			t.Fatalf("expected gapless ids, got %d at position %d", event.ID, i)
		}
	}
}
