package queue

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestPriorityOrdering(t *testing.T) {
	q := New(0)
	q.Enqueue(NewJob("", "62811", ModeFull, TriggerSchedule, Params{}))
	q.Enqueue(NewJob("", "62812", ModeFull, TriggerManual, Params{}))
	q.Enqueue(NewJob("", "62813", ModeFull, TriggerSchedule, Params{}))

	ctx := context.Background()
	j, err := q.Dequeue(ctx)
	require.NoError(t, err)
	require.Equal(t, "62812", j.AccountID, "manual triggers are served first")

	j, err = q.Dequeue(ctx)
	require.NoError(t, err)
	require.Equal(t, "62811", j.AccountID, "scheduled jobs stay FIFO")

	j, err = q.Dequeue(ctx)
	require.NoError(t, err)
	require.Equal(t, "62813", j.AccountID)
	require.Equal(t, 0, q.Len())
}

func TestDequeueBlocksUntilEnqueue(t *testing.T) {
	q := New(0)
	got := make(chan Job, 1)
	go func() {
		j, err := q.Dequeue(context.Background())
		if err == nil {
			got <- j
		}
	}()

	select {
	case <-got:
		t.Fatal("dequeue returned with empty queue")
	case <-time.After(50 * time.Millisecond):
	}

	q.Enqueue(NewJob("", "62812", ModeSync, TriggerSchedule, Params{}))
	select {
	case j := <-got:
		require.Equal(t, "62812", j.AccountID)
	case <-time.After(time.Second):
		t.Fatal("dequeue did not wake up")
	}
}

func TestDequeueHonorsContext(t *testing.T) {
	q := New(0)
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()
	_, err := q.Dequeue(ctx)
	require.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestPosition(t *testing.T) {
	q := New(0)
	a := NewJob("", "62811", ModeFull, TriggerSchedule, Params{})
	b := NewJob("", "62812", ModeFull, TriggerSchedule, Params{})
	m := NewJob("", "62813", ModeFull, TriggerManual, Params{})
	q.Enqueue(a)
	q.Enqueue(b)
	q.Enqueue(m)

	require.Equal(t, 1, q.Position(m.ID), "manual job jumps the line")
	require.Equal(t, 2, q.Position(a.ID))
	require.Equal(t, 3, q.Position(b.ID))
	require.Equal(t, 0, q.Position("nonexistent"))

	_, err := q.Dequeue(context.Background())
	require.NoError(t, err)
	require.Equal(t, 0, q.Position(m.ID), "claimed jobs have no queue position")
}

func TestPositionFor(t *testing.T) {
	q := New(0)
	require.Equal(t, 0, q.PositionFor("", "62811"))

	q.Enqueue(NewJob("", "62811", ModeFull, TriggerSchedule, Params{}))
	q.Enqueue(NewJob("", "62812", ModeFull, TriggerManual, Params{}))

	require.Equal(t, 2, q.PositionFor("", "62811"), "manual job is ahead")
	require.Equal(t, 1, q.PositionFor("", "62812"))
	require.Equal(t, 0, q.PositionFor("other", "62811"))
}

func TestPendingFor(t *testing.T) {
	q := New(0)
	require.False(t, q.PendingFor("", "62812"))
	q.Enqueue(NewJob("", "62812", ModeFull, TriggerSchedule, Params{}))
	require.True(t, q.PendingFor("", "62812"))
	require.False(t, q.PendingFor("other", "62812"))
}

func TestEnqueueRejectsAtCapacity(t *testing.T) {
	q := New(2)
	require.True(t, q.Enqueue(NewJob("", "62811", ModeFull, TriggerSchedule, Params{})))
	require.True(t, q.Enqueue(NewJob("", "62812", ModeFull, TriggerSchedule, Params{})))
	require.False(t, q.Enqueue(NewJob("", "62813", ModeFull, TriggerSchedule, Params{})))
	require.Equal(t, 2, q.Len())

	// A claim frees a slot.
	_, err := q.Dequeue(context.Background())
	require.NoError(t, err)
	require.True(t, q.Enqueue(NewJob("", "62813", ModeFull, TriggerSchedule, Params{})))
}

func TestManyWorkersDrainEverything(t *testing.T) {
	q := New(0)
	const n = 50
	for i := 0; i < n; i++ {
		q.Enqueue(NewJob("", "62812", ModeSync, TriggerSchedule, Params{}))
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	got := make(chan Job, n)
	for w := 0; w < 4; w++ {
		go func() {
			for {
				j, err := q.Dequeue(ctx)
				if err != nil {
					return
				}
				got <- j
			}
		}()
	}

	seen := map[string]bool{}
	for i := 0; i < n; i++ {
		select {
		case j := <-got:
			require.False(t, seen[j.ID], "job %s dequeued twice", j.ID)
			seen[j.ID] = true
		case <-ctx.Done():
			t.Fatalf("drained only %d of %d jobs", i, n)
		}
	}
	require.Equal(t, 0, q.Len())
}
