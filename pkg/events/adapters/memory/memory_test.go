package memory_test

import (
	"context"
	"testing"
	"time"

	"github.com/pybrook/pybrook/pkg/events"
	"github.com/pybrook/pybrook/pkg/events/adapters/memory"
	"github.com/stretchr/testify/require"
)

func TestPublishFansOutToEverySubscriber(t *testing.T) {
	ctx := context.Background()
	bus := memory.New()
	defer bus.Close()

	got1 := make(chan events.Event, 1)
	got2 := make(chan events.Event, 1)
	require.NoError(t, bus.Subscribe(ctx, "telemetry", func(ctx context.Context, e events.Event) error {
		got1 <- e
		return nil
	}))
	require.NoError(t, bus.Subscribe(ctx, "telemetry", func(ctx context.Context, e events.Event) error {
		got2 <- e
		return nil
	}))

	require.NoError(t, bus.Publish(ctx, "telemetry", events.Event{Type: "telemetry.record", Payload: "V1"}))

	select {
	case e := <-got1:
		require.Equal(t, "V1", e.Payload)
	case <-time.After(time.Second):
		t.Fatal("first subscriber never received the event")
	}
	select {
	case e := <-got2:
		require.Equal(t, "V1", e.Payload)
	case <-time.After(time.Second):
		t.Fatal("second subscriber never received the event")
	}
}

func TestSubscriberIsPrunedWhenContextEnds(t *testing.T) {
	bus := memory.New()
	defer bus.Close()

	subCtx, cancel := context.WithCancel(context.Background())
	received := make(chan struct{}, 1)
	require.NoError(t, bus.Subscribe(subCtx, "telemetry", func(ctx context.Context, e events.Event) error {
		received <- struct{}{}
		return nil
	}))

	cancel()
	time.Sleep(20 * time.Millisecond) // let the prune goroutine run

	require.NoError(t, bus.Publish(context.Background(), "telemetry", events.Event{Type: "telemetry.record"}))

	select {
	case <-received:
		t.Fatal("pruned subscriber should not have received the event")
	case <-time.After(50 * time.Millisecond):
	}
}

func TestDifferentTopicsDoNotCrossDeliver(t *testing.T) {
	ctx := context.Background()
	bus := memory.New()
	defer bus.Close()

	wrongTopic := make(chan struct{}, 1)
	require.NoError(t, bus.Subscribe(ctx, "other", func(ctx context.Context, e events.Event) error {
		wrongTopic <- struct{}{}
		return nil
	}))

	require.NoError(t, bus.Publish(ctx, "telemetry", events.Event{Type: "telemetry.record"}))

	select {
	case <-wrongTopic:
		t.Fatal("subscriber on a different topic should not receive the event")
	case <-time.After(50 * time.Millisecond):
	}
}
