package broadcast

import (
	"context"
	"log"
	"os"
	"sync"
)

const (
	defaultSubscriberBuffer = 256
	defaultDedupeWindow     = 1024
)

// Publisher accepts messages for fan-out.
type Publisher interface {
	Publish(ctx context.Context, msg Message) error
}

// HubConfig holds hub settings. Zero values take defaults.
type HubConfig struct {
	// SubscriberBuffer is the per-subscriber channel capacity
	SubscriberBuffer int

	// DedupeWindow is how many recent message ids are remembered
	DedupeWindow int

	// Logger for drops and membership changes (default: stderr logger)
	Logger *log.Logger
}

// Hub is an in-process topic fan-out. It is safe for concurrent use.
type Hub struct {
	mu     sync.RWMutex
	topics map[string]map[*Subscription]struct{}

	dedupeMu     sync.Mutex
	recentIDs    map[string]struct{}
	recentOrder  []string
	dedupeWindow int

	buffer int
	logger *log.Logger
}

var _ Publisher = (*Hub)(nil)

// NewHub creates a hub.
func NewHub(cfg HubConfig) *Hub {
	if cfg.SubscriberBuffer <= 0 {
		cfg.SubscriberBuffer = defaultSubscriberBuffer
	}
	if cfg.DedupeWindow <= 0 {
		cfg.DedupeWindow = defaultDedupeWindow
	}
	if cfg.Logger == nil {
		cfg.Logger = log.New(os.Stderr, "[hub] ", log.LstdFlags)
	}
	return &Hub{
		topics:       make(map[string]map[*Subscription]struct{}),
		recentIDs:    make(map[string]struct{}),
		recentOrder:  make([]string, 0, cfg.DedupeWindow),
		dedupeWindow: cfg.DedupeWindow,
		buffer:       cfg.SubscriberBuffer,
		logger:       cfg.Logger,
	}
}

// Subscription is one client's membership in a topic. Close leaves it.
type Subscription struct {
	Topic    string
	ClientID string

	hub    *Hub
	ch     chan Message
	once   sync.Once
	closed bool // guarded by hub.mu
}

// Messages returns the delivery channel. It is closed when the subscription
// is closed.
func (s *Subscription) Messages() <-chan Message {
	return s.ch
}

// Close leaves the topic. Safe to call more than once.
func (s *Subscription) Close() {
	s.once.Do(func() {
		s.hub.remove(s)
	})
}

// Subscribe joins clientID to topic.
func (h *Hub) Subscribe(topic, clientID string) *Subscription {
	if topic == "" {
		topic = DefaultTopic
	}
	sub := &Subscription{
		Topic:    topic,
		ClientID: clientID,
		hub:      h,
		ch:       make(chan Message, h.buffer),
	}

	h.mu.Lock()
	if h.topics[topic] == nil {
		h.topics[topic] = make(map[*Subscription]struct{})
	}
	h.topics[topic][sub] = struct{}{}
	count := len(h.topics[topic])
	h.mu.Unlock()

	h.logger.Printf("Client %s joined %s (total: %d)", clientID, topic, count)
	return sub
}

func (h *Hub) remove(sub *Subscription) {
	h.mu.Lock()
	subs := h.topics[sub.Topic]
	delete(subs, sub)
	if len(subs) == 0 {
		delete(h.topics, sub.Topic)
	}
	count := len(subs)
	sub.closed = true
	close(sub.ch)
	h.mu.Unlock()

	h.logger.Printf("Client %s left %s (total: %d)", sub.ClientID, sub.Topic, count)
}

// Publish delivers msg to every subscriber of msg.Topic except its origin.
//
// Publish never blocks on a slow subscriber: a full buffer drops the
// message for that subscriber (it will catch up on its next full fetch).
// A message id seen within the dedupe window is dropped silently.
func (h *Hub) Publish(ctx context.Context, msg Message) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	msg.Normalize()
	if err := msg.Validate(); err != nil {
		return err
	}
	if h.isDuplicate(msg.ID) {
		return nil
	}

	h.mu.RLock()
	defer h.mu.RUnlock()
	for sub := range h.topics[msg.Topic] {
		if sub.closed || (msg.Origin != "" && sub.ClientID == msg.Origin) {
			continue
		}
		select {
		case sub.ch <- msg:
		default:
			h.logger.Printf("Warning: buffer full for client %s, dropping %s %s %s",
				sub.ClientID, msg.Entity, msg.Op, msg.ID)
		}
	}
	return nil
}

// ClientCount returns the number of subscribers of topic.
func (h *Hub) ClientCount(topic string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.topics[topic])
}

// Close drops every subscription.
func (h *Hub) Close() {
	h.mu.RLock()
	var subs []*Subscription
	for _, members := range h.topics {
		for sub := range members {
			subs = append(subs, sub)
		}
	}
	h.mu.RUnlock()

	for _, sub := range subs {
		sub.Close()
	}
}

func (h *Hub) isDuplicate(id string) bool {
	h.dedupeMu.Lock()
	defer h.dedupeMu.Unlock()
	if _, ok := h.recentIDs[id]; ok {
		return true
	}
	h.recentIDs[id] = struct{}{}
	h.recentOrder = append(h.recentOrder, id)
	if len(h.recentOrder) > h.dedupeWindow {
		oldest := h.recentOrder[0]
		h.recentOrder = h.recentOrder[1:]
		delete(h.recentIDs, oldest)
	}
	return false
}
