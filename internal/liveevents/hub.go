package liveevents

import (
	"errors"
	"strings"
	"sync"
)

const (
	DefaultBufferSize       = 50
	DefaultSubscriberBuffer = 16
)

var (
	ErrHubUnavailable = errors.New("hub_unavailable")
	ErrInvalidTopic   = errors.New("invalid_topic")
)

// Hub fans events out to in-process subscribers of a topic. Each topic keeps a
// short backlog while it has subscribers, used to replay after reconnects.
type Hub struct {
	mu               sync.RWMutex
	streams          map[string]*stream
	bufferSize       int
	subscriberBuffer int
}

type stream struct {
	mu     sync.Mutex
	buffer []Event
	subs   map[uint64]chan Event
	nextID uint64
}

type Subscription struct {
	hub   *Hub
	topic string
	id    uint64
	ch    chan Event
	once  sync.Once
}

func NewHub() *Hub {
	return &Hub{
		streams:          make(map[string]*stream),
		bufferSize:       DefaultBufferSize,
		subscriberBuffer: DefaultSubscriberBuffer,
	}
}

// Publish never blocks: a subscriber whose channel is full misses the event.
func (h *Hub) Publish(event Event) {
	if h == nil {
		return
	}
	topic := strings.TrimSpace(event.Topic)
	if topic == "" {
		return
	}
	h.mu.RLock()
	s := h.streams[topic]
	h.mu.RUnlock()
	if s == nil {
		return
	}

	s.mu.Lock()
	s.buffer = append(s.buffer, event)
	if len(s.buffer) > h.bufferSize {
		s.buffer = s.buffer[len(s.buffer)-h.bufferSize:]
	}
	subs := make([]chan Event, 0, len(s.subs))
	for _, ch := range s.subs {
		subs = append(subs, ch)
	}
	s.mu.Unlock()

	for _, ch := range subs {
		select {
		case ch <- event:
		default:
		}
	}
}

// Subscribe registers a subscriber and returns the topic backlog.
func (h *Hub) Subscribe(topic string) (*Subscription, []Event, error) {
	if h == nil {
		return nil, nil, ErrHubUnavailable
	}
	topic = strings.TrimSpace(topic)
	if topic == "" {
		return nil, nil, ErrInvalidTopic
	}

	h.mu.Lock()
	s := h.streams[topic]
	if s == nil {
		s = &stream{subs: make(map[uint64]chan Event)}
		h.streams[topic] = s
	}
	s.mu.Lock()
	id := s.nextID
	s.nextID++
	ch := make(chan Event, h.subscriberBuffer)
	s.subs[id] = ch
	backlog := append([]Event(nil), s.buffer...)
	s.mu.Unlock()
	h.mu.Unlock()

	return &Subscription{
		hub:   h,
		topic: topic,
		id:    id,
		ch:    ch,
	}, backlog, nil
}

// Subscribers reports how many subscribers a topic has.
func (h *Hub) Subscribers(topic string) int {
	if h == nil {
		return 0
	}
	h.mu.RLock()
	s := h.streams[strings.TrimSpace(topic)]
	h.mu.RUnlock()
	if s == nil {
		return 0
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.subs)
}

func (h *Hub) unsubscribe(topic string, id uint64) {
	h.mu.Lock()
	defer h.mu.Unlock()

	s := h.streams[topic]
	if s == nil {
		return
	}
	s.mu.Lock()
	delete(s.subs, id)
	empty := len(s.subs) == 0
	s.mu.Unlock()
	if empty {
		delete(h.streams, topic)
	}
}

func (s *Subscription) Events() <-chan Event {
	if s == nil {
		return nil
	}
	return s.ch
}

func (s *Subscription) Topic() string {
	if s == nil {
		return ""
	}
	return s.topic
}

// Close is safe to call more than once.
func (s *Subscription) Close() {
	if s == nil || s.hub == nil {
		return
	}
	s.once.Do(func() {
		s.hub.unsubscribe(s.topic, s.id)
	})
}

// After returns the backlog events newer than lastID. Event ids are ULIDs and sort by time.
func After(backlog []Event, lastID string) []Event {
	lastID = strings.TrimSpace(lastID)
	if lastID == "" {
		return backlog
	}
	for i, event := range backlog {
		if event.ID == lastID {
			return backlog[i+1:]
		}
	}
	out := make([]Event, 0, len(backlog))
	for _, event := range backlog {
		if event.ID > lastID {
			out = append(out, event)
		}
	}
	return out
}
