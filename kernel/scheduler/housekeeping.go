package scheduler

import (
	"container/heap"
	"context"
	"sync"
	"time"

	"badgeros/kernel/klog"
)

// Reaper is supplied to Housekeeping to actually reclaim an exited
// thread's resources (its control block, stack, name). Kept as a
// function value rather than a concrete type, the way the teacher wires
// cleanup callbacks through hooks.Run.
type Reaper func(th *Thread)

// cleanupJob is one scheduled entry in the housekeeper's min-heap,
// ordered by its due timestamp (spec §4.5: "its queue is a min-heap by
// scheduled timestamp").
type cleanupJob struct {
	due time.Time
	th  *Thread
}

type jobHeap []*cleanupJob

func (h jobHeap) Len() int            { return len(h) }
func (h jobHeap) Less(i, j int) bool  { return h[i].due.Before(h[j].due) }
func (h jobHeap) Swap(i, j int)       { h[i], h[j] = h[j], h[i] }
func (h *jobHeap) Push(x interface{}) { *h = append(*h, x.(*cleanupJob)) }
func (h *jobHeap) Pop() interface{} {
	old := *h
	n := len(old)
	item := old[n-1]
	*h = old[:n-1]
	return item
}

// Housekeeping is the dedicated kernel thread from spec §4.5 that
// periodically collects detached, fully-exited threads. Grounded on the
// teacher's background-cleanup idiom (hooks.Run / container.RefreshStatus
// called on a loop) generalized into a standing goroutine with its own
// scheduled-job heap, in the shape of other_examples's
// nmxmxh-inos_v1/kernel/threads/supervisor.go goroutine-supervisor.
type Housekeeping struct {
	mu     sync.Mutex
	jobs   jobHeap
	reaper Reaper

	wake chan struct{}
}

// NewHousekeeping creates a housekeeper that calls reaper for every
// thread whose scheduled cleanup comes due.
func NewHousekeeping(reaper Reaper) *Housekeeping {
	h := &Housekeeping{reaper: reaper, wake: make(chan struct{}, 1)}
	heap.Init(&h.jobs)
	return h
}

// Schedule queues th for cleanup at due.
func (h *Housekeeping) Schedule(th *Thread, due time.Time) {
	h.mu.Lock()
	heap.Push(&h.jobs, &cleanupJob{due: due, th: th})
	h.mu.Unlock()
	select {
	case h.wake <- struct{}{}:
	default:
	}
}

// Run drives the housekeeper's loop until ctx is cancelled, reaping every
// job whose due time has passed and sleeping until the next one (or
// until woken by a new Schedule call).
func (h *Housekeeping) Run(ctx context.Context) {
	for {
		h.mu.Lock()
		var wait time.Duration = time.Hour
		if h.jobs.Len() > 0 {
			wait = time.Until(h.jobs[0].due)
		}
		h.mu.Unlock()
		if wait < 0 {
			wait = 0
		}

		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return
		case <-timer.C:
		case <-h.wake:
			timer.Stop()
		}

		h.drainDue()
	}
}

func (h *Housekeeping) drainDue() {
	now := time.Now()
	for {
		h.mu.Lock()
		if h.jobs.Len() == 0 || h.jobs[0].due.After(now) {
			h.mu.Unlock()
			return
		}
		job := heap.Pop(&h.jobs).(*cleanupJob)
		h.mu.Unlock()

		klog.Debug("housekeeping: reaping thread", "thread", job.th.ID, "name", job.th.Name)
		if h.reaper != nil {
			h.reaper(job.th)
		}
	}
}

// Pending reports how many cleanup jobs are still queued, for tests.
func (h *Housekeeping) Pending() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.jobs.Len()
}
