package tasks

import (
	"container/heap"
	"log"
	"time"
)

// expiryHeap is a min-heap of records ordered by expiry time, so the sweep
// only ever inspects the records that are actually due. Records without a
// TTL ceiling never enter the heap.
type expiryHeap []*record

func (h expiryHeap) Len() int { return len(h) }

func (h expiryHeap) Less(i, j int) bool { return h[i].expiresAt.Before(h[j].expiresAt) }

func (h expiryHeap) Swap(i, j int) {
	h[i], h[j] = h[j], h[i]
	h[i].heapIndex = i
	h[j].heapIndex = j
}

func (h *expiryHeap) Push(x any) {
	rec := x.(*record)
	rec.heapIndex = len(*h)
	*h = append(*h, rec)
}

func (h *expiryHeap) Pop() any {
	old := *h
	n := len(old)
	rec := old[n-1]
	old[n-1] = nil
	rec.heapIndex = -1
	*h = old[:n-1]
	return rec
}

func (s *Store) sweepLoop() {
	defer close(s.sweepDone)
	ticker := time.NewTicker(s.cfg.SweepInterval)
	defer ticker.Stop()
	for {
		select {
		case <-s.sweepStop:
			return
		case <-ticker.C:
			s.sweepOnce(s.now())
		}
	}
}

// sweepOnce hard-deletes every record due at now and returns how many went.
// A record still executing gets its context cancelled; its eventual result
// is discarded when the executor finds the record evicted. Reads already
// treat due records as gone, so the sweep only reclaims memory and stops
// work, it does not define visibility.
func (s *Store) sweepOnce(now time.Time) int {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return 0
	}
	var due []*record
	for len(s.byExpiry) > 0 && s.byExpiry[0].expired(now) {
		rec := heap.Pop(&s.byExpiry).(*record)
		delete(s.records, rec.task.ID)
		due = append(due, rec)
	}
	s.mu.Unlock()

	if len(due) == 0 {
		return 0
	}

	type evicted struct {
		id, owner, tool string
		last            Status
	}
	out := make([]evicted, 0, len(due))
	nonTerminal := 0
	for _, rec := range due {
		rec.mu.Lock()
		rec.evicted = true
		last := rec.task.Status
		rec.closeDoneLocked()
		rec.mu.Unlock()
		rec.cancel()
		if !last.Terminal() {
			nonTerminal++
			s.releaseOwner(rec.task.Owner)
		}
		out = append(out, evicted{id: rec.task.ID, owner: rec.task.Owner, tool: rec.task.ToolName, last: last})
	}

	s.mu.Lock()
	s.evicted += uint64(len(due))
	s.mu.Unlock()

	for _, e := range out {
		s.emit(Event{
			Kind:   EventEvicted,
			TaskID: e.id,
			Owner:  e.owner,
			Tool:   e.tool,
			From:   e.last,
			At:     now,
		})
	}
	log.Printf("[SWEEP] evicted %d expired tasks (%d still running)", len(due), nonTerminal)
	return len(due)
}

// releaseOwner frees one quota slot for an owner whose non-terminal task
// was evicted before reaching a terminal state.
func (s *Store) releaseOwner(owner string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	if n := s.owners[owner]; n > 1 {
		s.owners[owner] = n - 1
	} else {
		delete(s.owners, owner)
	}
}
