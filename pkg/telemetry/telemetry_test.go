package telemetry

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewHub(t *testing.T) {
	hub := NewHub()
	require.NotNil(t, hub)
	assert.NotNil(t, hub.subscribers)
	assert.False(t, hub.closed)
}

func TestHub_PublishSubscribe(t *testing.T) {
	hub := NewHub()
	defer hub.Close()

	ch, unsub := hub.Subscribe()
	defer unsub()

	hub.Publish(Event{
		Type:  EventCheckStarted,
		RunID: "01J0RUN",
		Check: "page_load",
		Data:  map[string]any{"index": 0},
	})

	select {
	case received := <-ch:
		assert.Equal(t, EventCheckStarted, received.Type)
		assert.Equal(t, "01J0RUN", received.RunID)
		assert.Equal(t, "page_load", received.Check)
		assert.False(t, received.Timestamp.IsZero())
	case <-time.After(100 * time.Millisecond):
		t.Fatal("timeout waiting for event")
	}
}

func TestHub_MultipleSubscribers(t *testing.T) {
	hub := NewHub()
	defer hub.Close()

	ch1, unsub1 := hub.Subscribe()
	defer unsub1()
	ch2, unsub2 := hub.Subscribe()
	defer unsub2()

	hub.Publish(Event{Type: EventRunFinalized})

	for _, ch := range []<-chan Event{ch1, ch2} {
		select {
		case received := <-ch:
			assert.Equal(t, EventRunFinalized, received.Type)
		case <-time.After(100 * time.Millisecond):
			t.Fatal("subscriber did not receive event")
		}
	}
}

func TestHub_Unsubscribe(t *testing.T) {
	hub := NewHub()
	defer hub.Close()

	ch, unsub := hub.Subscribe()
	unsub()
	unsub()

	_, ok := <-ch
	assert.False(t, ok, "channel should be closed after unsubscribe")
}

func TestHub_Close(t *testing.T) {
	hub := NewHub()
	ch, _ := hub.Subscribe()

	hub.Close()
	hub.Close()

	_, ok := <-ch
	assert.False(t, ok, "channel should be closed after hub close")

	hub.Publish(Event{Type: EventRunStarted})

	late, _ := hub.Subscribe()
	_, ok = <-late
	assert.False(t, ok, "subscribing to a closed hub yields a closed channel")
}

func TestHub_DropsWhenBufferFull(t *testing.T) {
	hub := NewHub()
	defer hub.Close()

	ch, unsub := hub.Subscribe()
	defer unsub()

	total := DefaultSubscriberBuffer + 36
	for i := 0; i < total; i++ {
		hub.Publish(Event{Type: EventBrowserNavigate, Data: map[string]any{"i": i}})
	}

	assert.Len(t, ch, DefaultSubscriberBuffer)
	assert.Equal(t, int64(36), hub.Dropped())
}

func TestHub_NilIsNoop(t *testing.T) {
	var hub *Hub
	assert.NotPanics(t, func() {
		hub.Publish(Event{Type: EventRunStarted})
	})
	assert.Zero(t, hub.Dropped())
}

func TestHub_ConcurrentPublish(t *testing.T) {
	hub := NewHub()
	defer hub.Close()

	ch, unsub := hub.Subscribe()
	defer unsub()

	var wg sync.WaitGroup
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 10; j++ {
				hub.Publish(Event{Type: EventBrowserAction})
			}
		}()
	}
	wg.Wait()

	assert.Len(t, ch, 40)
}
