package pull

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// TestQueueReserveFillDrainOrder exercises the basic reserve/fill/drain
// cycle: an entry is consumed iff its slot has been filled.
func TestQueueReserveFillDrainOrder(t *testing.T) {
	q := NewQueue(4)

	a, b, ok := q.Reserve()
	require.True(t, ok)
	assert.Equal(t, 0, a)
	assert.Equal(t, 1, b)

	subA := &Submission{}
	q.Fill(a, subA)
	q.Fill(b, nil) // bubble

	gotA, ok := q.Drain()
	require.True(t, ok)
	assert.Same(t, subA, gotA)

	gotB, ok := q.Drain()
	require.True(t, ok)
	assert.Nil(t, gotB)
}

// TestQueueCapacityInvariant: across any interleaving of reader/writer
// goroutines, 0 <= count <= capacity holds continuously. Many concurrent
// reserve/fill/drain cycles run against a small queue and Stats is read
// from a separate goroutine throughout.
func TestQueueCapacityInvariant(t *testing.T) {
	const capacity = 8
	const readers = 6
	const perReader = 200
	q := NewQueue(capacity)

	stop := make(chan struct{})
	var violations int
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		for {
			select {
			case <-stop:
				return
			default:
			}
			st := q.Stats()
			if st.Reserved < 0 || st.Reserved > capacity {
				violations++
			}
			time.Sleep(time.Microsecond)
		}
	}()

	var readerWG sync.WaitGroup
	readerWG.Add(readers)
	for r := 0; r < readers; r++ {
		go func() {
			defer readerWG.Done()
			for i := 0; i < perReader; i++ {
				a, b, ok := q.Reserve()
				if !ok {
					return
				}
				q.Fill(a, &Submission{})
				q.Fill(b, nil)
			}
		}()
	}

	var drained int
	var drainWG sync.WaitGroup
	drainWG.Add(1)
	go func() {
		defer drainWG.Done()
		for i := 0; i < readers*perReader*2; i++ {
			_, ok := q.Drain()
			if !ok {
				return
			}
			drained++
		}
	}()

	readerWG.Wait()
	drainWG.Wait()
	close(stop)
	wg.Wait()

	assert.Equal(t, 0, violations)
	assert.Equal(t, readers*perReader*2, drained)
}

// TestQueueBubblePreservation: if k of n reservations are bubbles, the
// writer drains exactly n-k non-nil submissions and advances the ring
// exactly n slots.
func TestQueueBubblePreservation(t *testing.T) {
	q := NewQueue(8)
	const n = 6
	const bubbles = 2

	positions := make([]int, 0, n)
	for i := 0; i < n/2; i++ {
		a, b, ok := q.Reserve()
		require.True(t, ok)
		positions = append(positions, a, b)
	}

	// Fill in stream order; the first `bubbles` reservations are bubbles.
	for i, pos := range positions {
		if i < bubbles {
			q.Fill(pos, nil)
		} else {
			q.Fill(pos, &Submission{})
		}
	}

	var real, drained int
	for i := 0; i < n; i++ {
		sub, ok := q.Drain()
		require.True(t, ok)
		drained++
		if sub != nil {
			real++
		}
	}
	assert.Equal(t, n, drained)
	assert.Equal(t, n-bubbles, real)
}

// TestQueueStopUnblocksWaiters: a Reserve blocked on a full queue when Stop
// is called wakes up and reports ok=false instead of hanging forever.
func TestQueueStopUnblocksWaiters(t *testing.T) {
	q := NewQueue(2)

	// Fill the queue so a further Reserve must block.
	a, b, ok := q.Reserve()
	require.True(t, ok)
	q.Fill(a, &Submission{})
	q.Fill(b, &Submission{})

	done := make(chan bool, 1)
	go func() {
		_, _, ok := q.Reserve()
		done <- ok
	}()

	time.Sleep(10 * time.Millisecond)
	q.Stop()

	select {
	case ok := <-done:
		assert.False(t, ok)
	case <-time.After(time.Second):
		t.Fatal("Reserve did not unblock after Stop")
	}
}
