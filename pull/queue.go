package pull

import "sync"

// QueueStats is a snapshot of a Queue's occupancy, exposed for monitoring
// and tests.
type QueueStats struct {
	Reserved int
	Filled   int
	Bubbles  int
}

type slot struct {
	filled bool
	bubble bool
	sub    *Submission
}

// Queue is the bounded ring buffer between the reader fibers and the single
// writer fiber: a fixed number of slots, reserved two at a time (one for the
// target file, one for the meta-file) under the caller's connection mutex,
// then filled independently and out of order by whichever reader gets there
// first, but always drained in reservation order. A filled slot with a nil
// Submission is a bubble: a reservation that turned out to need no write
// because the URI was already known locally or the stream line was
// malformed.
type Queue struct {
	mu         sync.Mutex
	notFull    *sync.Cond
	headFilled *sync.Cond
	slots      []slot
	head       int
	tail       int
	count      int
	bubbles    int
	closed     bool
}

// NewQueue creates a queue with the given fixed capacity.
func NewQueue(capacity int) *Queue {
	q := &Queue{slots: make([]slot, capacity)}
	q.notFull = sync.NewCond(&q.mu)
	q.headFilled = sync.NewCond(&q.mu)
	return q
}

// Reserve blocks until two consecutive slots are free, reserves them, and
// returns their positions. ok is false if the queue was stopped while
// waiting, in which case no slots were reserved.
func (q *Queue) Reserve() (a, b int, ok bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	for !q.closed && q.count+2 > len(q.slots) {
		q.notFull.Wait()
	}
	if q.closed {
		return 0, 0, false
	}
	a = q.tail
	q.slots[a] = slot{}
	q.tail = (q.tail + 1) % len(q.slots)
	b = q.tail
	q.slots[b] = slot{}
	q.tail = (q.tail + 1) % len(q.slots)
	q.count += 2
	return a, b, true
}

// Fill records the outcome of a reserved slot. A nil sub marks the slot a
// bubble; the writer fiber's Drain skips it without touching storage.
func (q *Queue) Fill(pos int, sub *Submission) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.slots[pos].filled = true
	q.slots[pos].sub = sub
	q.slots[pos].bubble = sub == nil
	if sub == nil {
		q.bubbles++
	}
	q.headFilled.Broadcast()
}

// Drain blocks until the head slot is filled, then returns its Submission
// (nil for a bubble) and advances past it, freeing room for new Reserve
// calls. ok is false only once the queue is stopped and fully drained.
func (q *Queue) Drain() (sub *Submission, ok bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	for {
		if q.count > 0 && q.slots[q.head].filled {
			s := q.slots[q.head]
			q.slots[q.head] = slot{}
			q.head = (q.head + 1) % len(q.slots)
			q.count--
			if s.bubble {
				q.bubbles--
			}
			q.notFull.Broadcast()
			return s.sub, true
		}
		if q.closed && q.count == 0 {
			return nil, false
		}
		q.headFilled.Wait()
	}
}

// TryDrain is Drain's non-blocking counterpart, used by the writer fiber to
// opportunistically extend a batch with whatever is already filled instead
// of blocking on the next arrival. found is false if the head slot isn't
// filled yet (whether or not the queue is closed).
func (q *Queue) TryDrain() (sub *Submission, ok bool, found bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.count == 0 || !q.slots[q.head].filled {
		return nil, false, false
	}
	s := q.slots[q.head]
	q.slots[q.head] = slot{}
	q.head = (q.head + 1) % len(q.slots)
	q.count--
	if s.bubble {
		q.bubbles--
	}
	q.notFull.Broadcast()
	return s.sub, true, true
}

// Stop wakes every blocked Reserve and Drain call. Slots already reserved
// continue to drain normally once filled; no further Reserve succeeds.
func (q *Queue) Stop() {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.closed = true
	q.notFull.Broadcast()
	q.headFilled.Broadcast()
}

// Stats reports the queue's current occupancy.
func (q *Queue) Stats() QueueStats {
	q.mu.Lock()
	defer q.mu.Unlock()
	filled := 0
	for i := range q.slots {
		if q.slots[i].filled {
			filled++
		}
	}
	return QueueStats{Reserved: q.count, Filled: filled, Bubbles: q.bubbles}
}
