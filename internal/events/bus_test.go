package events

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBusPublishSubscribe(t *testing.T) {
	b := NewBus(16)
	ch := b.Subscribe("wf-1", 8)
	defer b.Unsubscribe("wf-1", ch)

	b.Publish(Event{Stream: "wf-1", Type: WorkflowStart})
	b.Publish(Event{Stream: "wf-2", Type: WorkflowStart}) // different stream

	select {
	case evt := <-ch:
		assert.Equal(t, WorkflowStart, evt.Type)
		assert.Equal(t, "wf-1", evt.Stream)
		assert.Equal(t, uint64(0), evt.Seq)
		assert.False(t, evt.Timestamp.IsZero())
	case <-time.After(time.Second):
		t.Fatal("no event delivered")
	}
	select {
	case evt := <-ch:
		t.Fatalf("unexpected cross-stream delivery: %+v", evt)
	default:
	}
}

func TestBusWildcardSubscriber(t *testing.T) {
	b := NewBus(16)
	all := b.Subscribe("", 8)
	defer b.Unsubscribe("", all)

	b.Publish(Event{Stream: "a", Type: StepStart})
	b.Publish(Event{Stream: "b", Type: StepComplete})

	got := []string{(<-all).Type, (<-all).Type}
	assert.Equal(t, []string{StepStart, StepComplete}, got)
}

func TestBusReplaySince(t *testing.T) {
	b := NewBus(4)
	for i := 0; i < 6; i++ {
		b.Publish(Event{Stream: "wf", Type: StepComplete})
	}
	// ring holds 4; seq 0..5 assigned, 2..5 retained
	evts := b.ReplaySince("wf", 3)
	require.Len(t, evts, 2)
	assert.Equal(t, uint64(4), evts[0].Seq)
	assert.Equal(t, uint64(5), evts[1].Seq)

	assert.Nil(t, b.ReplaySince("unknown", 0))
}

func TestBusSlowSubscriberDoesNotBlock(t *testing.T) {
	b := NewBus(16)
	ch := b.Subscribe("wf", 1)
	defer b.Unsubscribe("wf", ch)

	done := make(chan struct{})
	go func() {
		for i := 0; i < 100; i++ {
			b.Publish(Event{Stream: "wf", Type: StepStart})
		}
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("publish blocked on slow subscriber")
	}
}

func TestBusConcurrentPublishReplay(t *testing.T) {
	b := NewBus(32)
	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		for i := 0; i < 500; i++ {
			b.Publish(Event{Stream: "wf", Type: StepComplete})
		}
	}()
	go func() {
		defer wg.Done()
		for i := 0; i < 500; i++ {
			for _, evt := range b.ReplaySince("wf", 0) {
				assert.Equal(t, "wf", evt.Stream)
				assert.Equal(t, StepComplete, evt.Type)
			}
		}
	}()
	wg.Wait()

	evts := b.ReplaySince("wf", 0)
	require.NotEmpty(t, evts)
	for i := 1; i < len(evts); i++ {
		assert.Equal(t, evts[i-1].Seq+1, evts[i].Seq)
	}
}

func TestBusCloseStopsDelivery(t *testing.T) {
	b := NewBus(16)
	ch := b.Subscribe("wf", 1)
	b.Close()
	_, open := <-ch
	assert.False(t, open)
	// publish after close must not panic
	b.Publish(Event{Stream: "wf", Type: StepStart})
}
