package archive

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/stagecue/stagecue/internal/dispatch"
	"github.com/stagecue/stagecue/internal/trigger"
)

const (
	// bufferDepth bounds pending writes. Overflow drops the record.
	bufferDepth = 256

	// writeTimeout bounds one insert.
	writeTimeout = 5 * time.Second
)

// record is one pending insert.
type record struct {
	chat *chatRecord
	job  *jobRecord
}

type chatRecord struct {
	Platform string
	Sender   string
	Text     string
	Keyword  string
	At       time.Time
}

type jobRecord struct {
	JobID       string
	Kind        string
	State       string
	Reason      string
	Mode        string
	StopLatency time.Duration
	At          time.Time
}

// Archive is the PostgreSQL event archive. All methods are safe for
// concurrent use and never block the caller.
type Archive struct {
	pool *pgxpool.Pool

	records   chan record
	done      chan struct{}
	closeOnce sync.Once
	wg        sync.WaitGroup
}

// Open connects to the database at dsn, verifies the connection, and ensures
// the schema exists.
func Open(ctx context.Context, dsn string) (*Archive, error) {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("archive: parse dsn: %w", err)
	}

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("archive: create pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("archive: ping: %w", err)
	}

	if err := Migrate(ctx, pool); err != nil {
		pool.Close()
		return nil, err
	}

	a := &Archive{
		pool:    pool,
		records: make(chan record, bufferDepth),
		done:    make(chan struct{}),
	}
	a.wg.Add(1)
	go a.writeLoop()
	return a, nil
}

// RecordChat archives one viewer message. keyword is the matched rule key,
// or empty when classification produced no trigger.
func (a *Archive) RecordChat(ev trigger.ChatEvent, keyword string) {
	a.enqueue(record{chat: &chatRecord{
		Platform: ev.Platform,
		Sender:   ev.SenderID,
		Text:     ev.Text,
		Keyword:  keyword,
		At:       ev.ArrivedAt,
	}})
}

// Status archives terminal job transitions. It is registered alongside the
// other status consumers and must not block, so it only enqueues.
func (a *Archive) Status(ev dispatch.StatusEvent) {
	switch ev.State {
	case dispatch.JobCompleted, dispatch.JobPreempted, dispatch.JobDropped:
	default:
		return
	}
	a.enqueue(record{job: &jobRecord{
		JobID:       ev.JobID.String(),
		Kind:        ev.Kind.String(),
		State:       ev.State.String(),
		Reason:      ev.Reason,
		Mode:        ev.Mode.String(),
		StopLatency: ev.StopLatency,
		At:          ev.At,
	}})
}

func (a *Archive) enqueue(r record) {
	select {
	case a.records <- r:
	default:
		slog.Warn("archive: buffer full, record dropped")
	}
}

func (a *Archive) writeLoop() {
	defer a.wg.Done()
	for {
		select {
		case <-a.done:
			// Flush what is already buffered before exiting.
			for {
				select {
				case r := <-a.records:
					a.write(r)
				default:
					return
				}
			}
		case r := <-a.records:
			a.write(r)
		}
	}
}

func (a *Archive) write(r record) {
	ctx, cancel := context.WithTimeout(context.Background(), writeTimeout)
	defer cancel()

	var err error
	switch {
	case r.chat != nil:
		const q = `
			INSERT INTO chat_events (platform, sender_id, text, keyword, at)
			VALUES ($1, $2, $3, $4, $5)`
		_, err = a.pool.Exec(ctx, q, r.chat.Platform, r.chat.Sender, r.chat.Text, r.chat.Keyword, r.chat.At)
	case r.job != nil:
		const q = `
			INSERT INTO job_events (job_id, kind, state, reason, mode, stop_latency_ns, at)
			VALUES ($1, $2, $3, $4, $5, $6, $7)`
		_, err = a.pool.Exec(ctx, q, r.job.JobID, r.job.Kind, r.job.State, r.job.Reason,
			r.job.Mode, r.job.StopLatency.Nanoseconds(), r.job.At)
	}
	if err != nil {
		slog.Warn("archive: insert failed", "error", err)
	}
}

// Close flushes buffered records and releases the pool.
func (a *Archive) Close() error {
	a.closeOnce.Do(func() { close(a.done) })
	a.wg.Wait()
	a.pool.Close()
	return nil
}
