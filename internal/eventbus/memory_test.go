package eventbus

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestMemoryBus_PublishFansOutToSubscribers(t *testing.T) {
	bus := NewMemory()
	defer bus.Close()

	received := make(chan Event, 1)
	sub := bus.Subscribe(func(e Event) { received <- e })
	defer sub.Unsubscribe()

	bus.Publish(Event{Type: WorkspaceRunning, Subject: "a", At: time.Now()})

	select {
	case evt := <-received:
		require.Equal(t, WorkspaceRunning, evt.Type)
		require.Equal(t, "a", evt.Subject)
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for event")
	}
}

func TestMemoryBus_UnsubscribeStopsDelivery(t *testing.T) {
	bus := NewMemory()
	defer bus.Close()

	var count int
	sub := bus.Subscribe(func(e Event) { count++ })
	sub.Unsubscribe()

	bus.Publish(Event{Type: WorkspaceRunning, Subject: "a", At: time.Now()})
	require.Equal(t, 0, count)
}
