package liveevents

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/shortyai/creditdesk/internal/clock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func mustEvent(t *testing.T, topic, eventType string, at time.Time) Event {
	t.Helper()
	event, err := NewEvent(topic, eventType, at, map[string]string{"k": "v"})
	require.NoError(t, err)
	return event
}

func TestHubDeliversToTopicSubscribersOnly(t *testing.T) {
	hub := NewHub()
	now := time.Now()

	profileSub, _, err := hub.Subscribe(ProfileTopic("uid-1"))
	require.NoError(t, err)
	defer profileSub.Close()
	otherSub, _, err := hub.Subscribe(ProfileTopic("uid-2"))
	require.NoError(t, err)
	defer otherSub.Close()

	hub.Publish(mustEvent(t, ProfileTopic("uid-1"), TypeProfileUpdated, now))

	select {
	case got := <-profileSub.Events():
		assert.Equal(t, TypeProfileUpdated, got.Type)
	case <-time.After(time.Second):
		t.Fatal("expected event")
	}
	select {
	case got := <-otherSub.Events():
		t.Fatalf("unexpected event %v", got)
	default:
	}
}

func TestHubBacklogAndReplayAfter(t *testing.T) {
	hub := NewHub()
	now := time.Now()

	keep, _, err := hub.Subscribe(AllPaymentsTopic)
	require.NoError(t, err)
	defer keep.Close()

	first := mustEvent(t, AllPaymentsTopic, TypePaymentSubmitted, now)
	second := mustEvent(t, AllPaymentsTopic, TypePaymentApproved, now.Add(time.Millisecond))
	hub.Publish(first)
	hub.Publish(second)

	late, backlog, err := hub.Subscribe(AllPaymentsTopic)
	require.NoError(t, err)
	defer late.Close()

	require.Len(t, backlog, 2)
	replay := After(backlog, first.ID)
	require.Len(t, replay, 1)
	assert.Equal(t, second.ID, replay[0].ID)
	assert.Len(t, After(backlog, ""), 2)
}

func TestHubDropsForSlowSubscribers(t *testing.T) {
	hub := NewHub()
	sub, _, err := hub.Subscribe("t")
	require.NoError(t, err)
	defer sub.Close()

	done := make(chan struct{})
	go func() {
		for i := 0; i < DefaultSubscriberBuffer*4; i++ {
			hub.Publish(mustEvent(t, "t", "x", time.Now()))
		}
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("publish blocked on a slow subscriber")
	}
	assert.Len(t, sub.Events(), DefaultSubscriberBuffer)
}

func TestSubscriptionCloseReleasesTopic(t *testing.T) {
	hub := NewHub()
	sub, _, err := hub.Subscribe("t")
	require.NoError(t, err)
	assert.Equal(t, 1, hub.Subscribers("t"))

	sub.Close()
	sub.Close()
	assert.Equal(t, 0, hub.Subscribers("t"))

	_, _, err = hub.Subscribe(" ")
	assert.ErrorIs(t, err, ErrInvalidTopic)

	var nilHub *Hub
	_, _, err = nilHub.Subscribe("t")
	assert.ErrorIs(t, err, ErrHubUnavailable)
}

type fakeBridge struct {
	mu      sync.Mutex
	sent    []Event
	inbound chan Event
	closed  bool
}

func (f *fakeBridge) Send(_ context.Context, event Event) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sent = append(f.sent, event)
	return nil
}

func (f *fakeBridge) Run(ctx context.Context, deliver func(Event)) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case event := <-f.inbound:
			deliver(event)
		}
	}
}

func (f *fakeBridge) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed = true
	return nil
}

func TestBroadcasterRelaysPeerEventsAndSkipsOwn(t *testing.T) {
	bridge := &fakeBridge{inbound: make(chan Event, 4)}
	hub := NewHub()
	b := NewBroadcaster(hub, bridge, clock.NewFakeClock(time.Now()), zap.NewNop())
	b.Start()

	sub, _, err := hub.Subscribe(AllPaymentsTopic)
	require.NoError(t, err)
	defer sub.Close()

	require.NoError(t, b.Publish(context.Background(), AllPaymentsTopic, TypePaymentSubmitted, map[string]string{"id": "1"}))
	own := <-sub.Events()

	bridge.mu.Lock()
	require.Len(t, bridge.sent, 1)
	bridge.mu.Unlock()

	// our own event echoed back by the bridge must not be delivered twice
	bridge.inbound <- own
	peer := mustEvent(t, AllPaymentsTopic, TypePaymentApproved, time.Now())
	peer.Origin = "another-instance"
	bridge.inbound <- peer

	select {
	case got := <-sub.Events():
		assert.Equal(t, peer.ID, got.ID)
	case <-time.After(time.Second):
		t.Fatal("expected peer event")
	}

	require.NoError(t, b.Stop())
	assert.True(t, bridge.closed)
}
