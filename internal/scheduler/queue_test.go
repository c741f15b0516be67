package scheduler

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestQueuePushRejectsDuplicates(t *testing.T) {
	q := NewQueue()

	assert.True(t, q.Push("https://x.test/a.pdf"))
	assert.False(t, q.Push("https://x.test/a.pdf"))
	assert.True(t, q.Push("https://x.test/b.pdf"))
	assert.Equal(t, 2, q.Size())

	url, ok := q.Pop()
	assert.True(t, ok)
	assert.Equal(t, "https://x.test/a.pdf", url)

	// Still rejected while in flight and after it finishes
	assert.False(t, q.Push("https://x.test/a.pdf"))
	assert.True(t, q.Finish(url, StateSucceeded))
	assert.False(t, q.Push("https://x.test/a.pdf"))
}

func TestQueueStateTransitions(t *testing.T) {
	q := NewQueue()
	q.Push("u1")

	state, ok := q.States()["u1"]
	assert.True(t, ok)
	assert.Equal(t, StatePending, state)

	// Finish requires InFlight
	assert.False(t, q.Finish("u1", StateFailed))

	url, _ := q.Pop()
	assert.Equal(t, StateInFlight, q.States()[url])

	assert.False(t, q.Finish(url, StatePending), "non-terminal state must be rejected")
	assert.True(t, q.Finish(url, StateFailed))
	assert.False(t, q.Finish(url, StateSucceeded), "terminal state is final")

	assert.Equal(t, StateFailed, q.States()[url])
}

func TestQueuePopDrainsThenStops(t *testing.T) {
	q := NewQueue()
	q.Push("u1")
	q.Push("u2")
	q.Stop()

	assert.False(t, q.Push("u3"), "stopped queue must reject pushes")

	first, ok := q.Pop()
	assert.True(t, ok)
	second, ok := q.Pop()
	assert.True(t, ok)
	assert.Equal(t, []string{"u1", "u2"}, []string{first, second})

	_, ok = q.Pop()
	assert.False(t, ok)
}

func TestQueuePopBlocksUntilPush(t *testing.T) {
	q := NewQueue()

	got := make(chan string, 1)
	go func() {
		url, _ := q.Pop()
		got <- url
	}()

	time.Sleep(20 * time.Millisecond)
	q.Push("late")

	select {
	case url := <-got:
		assert.Equal(t, "late", url)
	case <-time.After(time.Second):
		t.Fatal("Pop did not wake up after Push")
	}
}

func TestQueueCancelPending(t *testing.T) {
	q := NewQueue()
	for _, u := range []string{"u1", "u2", "u3", "u4"} {
		q.Push(u)
	}

	inFlight, _ := q.Pop()

	cancelled := q.CancelPending()
	assert.Equal(t, []string{"u2", "u3", "u4"}, cancelled)
	assert.Zero(t, q.Size())

	states := q.States()
	assert.Equal(t, StateInFlight, states[inFlight])
	for _, u := range cancelled {
		assert.Equal(t, StateCancelled, states[u])
	}

	_, ok := q.Pop()
	assert.False(t, ok)
	assert.Empty(t, q.CancelPending(), "second cancel is a no-op")
}

func TestQueueCancelWakesBlockedPop(t *testing.T) {
	q := NewQueue()

	var wg sync.WaitGroup
	for i := 0; i < 3; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, ok := q.Pop()
			assert.False(t, ok)
		}()
	}

	time.Sleep(20 * time.Millisecond)
	q.CancelPending()

	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("blocked Pop calls were not released")
	}
}
