package archive_test

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/stagecue/stagecue/internal/archive"
	"github.com/stagecue/stagecue/internal/dispatch"
	"github.com/stagecue/stagecue/internal/trigger"
)

// testDSN returns the test database DSN from the environment, or skips the
// test if STAGECUE_TEST_POSTGRES_DSN is not set.
func testDSN(t *testing.T) string {
	t.Helper()
	dsn := os.Getenv("STAGECUE_TEST_POSTGRES_DSN")
	if dsn == "" {
		t.Skip("STAGECUE_TEST_POSTGRES_DSN not set, skipping PostgreSQL integration tests")
	}
	return dsn
}

func newTestArchive(t *testing.T) (*archive.Archive, *pgxpool.Pool) {
	t.Helper()
	dsn := testDSN(t)
	ctx := context.Background()

	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		t.Fatalf("pool: %v", err)
	}
	t.Cleanup(pool.Close)

	for _, table := range []string{"chat_events", "job_events"} {
		if _, err := pool.Exec(ctx, "DROP TABLE IF EXISTS "+table); err != nil {
			t.Fatalf("drop %s: %v", table, err)
		}
	}

	a, err := archive.Open(ctx, dsn)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	return a, pool
}

func TestRecordChatPersisted(t *testing.T) {
	a, pool := newTestArchive(t)

	a.RecordChat(trigger.ChatEvent{
		Platform:  "douyin",
		Text:      "what is the price",
		SenderID:  "v1",
		ArrivedAt: time.Now(),
	}, "price")
	if err := a.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	var keyword string
	row := pool.QueryRow(context.Background(),
		"SELECT keyword FROM chat_events WHERE sender_id = 'v1'")
	if err := row.Scan(&keyword); err != nil {
		t.Fatalf("scan: %v", err)
	}
	if keyword != "price" {
		t.Fatalf("keyword = %q, want price", keyword)
	}
}

func TestStatusArchivesOnlyTerminalStates(t *testing.T) {
	a, pool := newTestArchive(t)

	id := uuid.New()
	base := dispatch.StatusEvent{
		JobID: id,
		Kind:  trigger.KindKeywordMatch,
		Mode:  dispatch.ModeSpeaking,
		At:    time.Now(),
	}

	waiting := base
	waiting.State = dispatch.JobWaiting
	a.Status(waiting)

	active := base
	active.State = dispatch.JobActive
	a.Status(active)

	completed := base
	completed.State = dispatch.JobCompleted
	a.Status(completed)

	if err := a.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	var count int
	row := pool.QueryRow(context.Background(),
		"SELECT count(*) FROM job_events WHERE job_id = $1", id)
	if err := row.Scan(&count); err != nil {
		t.Fatalf("scan: %v", err)
	}
	if count != 1 {
		t.Fatalf("job_events rows = %d, want 1 (terminal only)", count)
	}
}

func TestOpenBadDSN(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if _, err := archive.Open(ctx, "not a dsn"); err == nil {
		t.Fatal("Open with a malformed DSN succeeded")
	}
}
