package source

import (
	"sync"
	"time"

	"github.com/stagecue/stagecue/internal/trigger"
)

// Timers drives the time-based trigger producers: the scheduled broadcast
// rotation and the idle filler poll. A zero interval disables the
// corresponding producer.
type Timers struct {
	control        Control
	broadcastEvery time.Duration
	fillerPoll     time.Duration

	mu      sync.Mutex
	pending []*time.Timer

	done      chan struct{}
	closeOnce sync.Once
	wg        sync.WaitGroup
}

// NewTimers starts the producers immediately.
func NewTimers(control Control, broadcastEvery, fillerPoll time.Duration) *Timers {
	t := &Timers{
		control:        control,
		broadcastEvery: broadcastEvery,
		fillerPoll:     fillerPoll,
		done:           make(chan struct{}),
	}
	t.wg.Add(1)
	go t.run()
	return t
}

func (t *Timers) run() {
	defer t.wg.Done()

	var broadcastC, fillerC <-chan time.Time
	if t.broadcastEvery > 0 {
		tick := time.NewTicker(t.broadcastEvery)
		defer tick.Stop()
		broadcastC = tick.C
	}
	if t.fillerPoll > 0 {
		tick := time.NewTicker(t.fillerPoll)
		defer tick.Stop()
		fillerC = tick.C
	}

	for {
		select {
		case <-t.done:
			return
		case <-broadcastC:
			t.control.Submit(trigger.Trigger{
				Kind:      trigger.KindScheduledBroadcast,
				CreatedAt: time.Now(),
			})
		case <-fillerC:
			// The picker gates filler on minimum idle time, and a
			// pending filler replaces the previous one, so polling
			// unconditionally is safe.
			t.control.Submit(trigger.Trigger{
				Kind:      trigger.KindIdleFiller,
				CreatedAt: time.Now(),
			})
		}
	}
}

// ScheduleOnce submits a one-shot broadcast-priority trigger for the named
// manual group after the delay.
func (t *Timers) ScheduleOnce(delay time.Duration, group string) {
	if delay < 0 {
		delay = 0
	}
	timer := time.AfterFunc(delay, func() {
		select {
		case <-t.done:
			return
		default:
		}
		t.control.Submit(trigger.Trigger{
			Kind:        trigger.KindScheduledBroadcast,
			BroadcastID: group,
			CreatedAt:   time.Now(),
		})
	})
	t.mu.Lock()
	t.pending = append(t.pending, timer)
	t.mu.Unlock()
}

// Close stops all producers and pending one-shots.
func (t *Timers) Close() {
	t.closeOnce.Do(func() {
		close(t.done)
		t.mu.Lock()
		for _, timer := range t.pending {
			timer.Stop()
		}
		t.pending = nil
		t.mu.Unlock()
	})
	t.wg.Wait()
}
