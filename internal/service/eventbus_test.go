package service

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pawhaus/kennelcam/internal/domain"
)

func TestEventBus_PublishReachesSubscriber(t *testing.T) {
	bus := NewEventBus()
	ch := bus.Subscribe("job-1")

	bus.Publish("job-1", JobEvent{Type: "claimed", Status: domain.JobStatusRunning})

	select {
	case ev := <-ch:
		assert.Equal(t, "claimed", ev.Type)
		assert.Equal(t, domain.JobStatusRunning, ev.Status)
	case <-time.After(time.Second):
		t.Fatal("event never delivered")
	}
}

func TestEventBus_PublishIsScopedToJob(t *testing.T) {
	bus := NewEventBus()
	ch := bus.Subscribe("job-1")

	bus.Publish("job-2", JobEvent{Type: "done", Status: domain.JobStatusDone})

	select {
	case ev := <-ch:
		t.Fatalf("received event for another job: %+v", ev)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestEventBus_SubscribeAllSeesEveryJob(t *testing.T) {
	bus := NewEventBus()
	ch := bus.SubscribeAll()

	bus.Publish("job-1", JobEvent{Type: "claimed", Status: domain.JobStatusRunning})
	bus.Publish("job-2", JobEvent{Type: "done", Status: domain.JobStatusDone})

	var got []JobEvent
	for i := 0; i < 2; i++ {
		select {
		case ev := <-ch:
			got = append(got, ev)
		case <-time.After(time.Second):
			t.Fatal("event never delivered")
		}
	}

	require.Len(t, got, 2)
	assert.Equal(t, "job-1", got[0].JobID, "published events carry their job id")
	assert.Equal(t, "job-2", got[1].JobID)
	assert.Equal(t, "claimed", got[0].Type)
	assert.Equal(t, "done", got[1].Type)
}

func TestEventBus_UnsubscribeClosesChannel(t *testing.T) {
	bus := NewEventBus()
	ch := bus.Subscribe("job-1")

	bus.Unsubscribe("job-1", ch)

	_, open := <-ch
	require.False(t, open, "channel must be closed after unsubscribe")

	// Publishing after unsubscribe must not panic.
	bus.Publish("job-1", JobEvent{Type: "done", Status: domain.JobStatusDone})
}

func TestEventBus_SlowSubscriberDropsInsteadOfBlocking(t *testing.T) {
	bus := NewEventBus()
	ch := bus.Subscribe("job-1")

	done := make(chan struct{})
	go func() {
		defer close(done)
		for i := 0; i < 100; i++ {
			bus.Publish("job-1", JobEvent{Type: "requeued", Status: domain.JobStatusPending})
		}
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("publish blocked on a slow subscriber")
	}
	assert.LessOrEqual(t, len(ch), cap(ch))
}
