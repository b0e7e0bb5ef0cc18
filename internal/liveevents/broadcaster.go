package liveevents

import (
	"context"
	"sync"

	"github.com/google/uuid"
	"github.com/shortyai/creditdesk/internal/clock"
	"go.uber.org/zap"
)

// Publisher is what domain services use to announce changes.
type Publisher interface {
	Publish(ctx context.Context, topic, eventType string, data any) error
}

// Bridge carries events between instances sharing the same database.
type Bridge interface {
	Send(ctx context.Context, event Event) error
	Run(ctx context.Context, deliver func(Event)) error
	Close() error
}

// Broadcaster publishes to the local hub and, when configured, to peers.
type Broadcaster struct {
	hub    *Hub
	bridge Bridge
	clock  clock.Clock
	log    *zap.Logger
	origin string

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

func NewBroadcaster(hub *Hub, bridge Bridge, clk clock.Clock, log *zap.Logger) *Broadcaster {
	if clk == nil {
		clk = clock.SystemClock{}
	}
	return &Broadcaster{
		hub:    hub,
		bridge: bridge,
		clock:  clk,
		log:    log.Named("liveevents.broadcaster"),
		origin: uuid.NewString(),
	}
}

func (b *Broadcaster) Hub() *Hub {
	return b.hub
}

func (b *Broadcaster) Publish(ctx context.Context, topic, eventType string, data any) error {
	event, err := NewEvent(topic, eventType, b.clock.Now(), data)
	if err != nil {
		return err
	}
	event.Origin = b.origin
	b.hub.Publish(event)

	if b.bridge == nil {
		return nil
	}
	if err := b.bridge.Send(ctx, event); err != nil {
		// local subscribers already have it; peers will catch up on their next read
		b.log.Warn("bridge send failed", zap.String("topic", topic), zap.String("type", eventType), zap.Error(err))
	}
	return nil
}

// Start consumes peer events until Stop. Events this instance sent are skipped.
func (b *Broadcaster) Start() {
	if b.bridge == nil {
		return
	}
	ctx, cancel := context.WithCancel(context.Background())
	b.cancel = cancel
	b.wg.Add(1)
	go func() {
		defer b.wg.Done()
		err := b.bridge.Run(ctx, func(event Event) {
			if event.Origin == b.origin {
				return
			}
			b.hub.Publish(event)
		})
		if err != nil && ctx.Err() == nil {
			b.log.Error("bridge stopped", zap.Error(err))
		}
	}()
}

func (b *Broadcaster) Stop() error {
	if b.cancel != nil {
		b.cancel()
	}
	b.wg.Wait()
	if b.bridge != nil {
		return b.bridge.Close()
	}
	return nil
}
