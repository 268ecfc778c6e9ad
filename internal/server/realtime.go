package server

import (
	"context"
	"sync"
	"time"
)

const (
	// RealtimeEventSessionChanged fires when the tab working set mutates.
	RealtimeEventSessionChanged = "session-change"
	// RealtimeEventMetadataChanged fires when the metadata cache reloads.
	RealtimeEventMetadataChanged = "metadata-change"
	realtimeEventHeartbeat       = "heartbeat"
)

// RealtimeMessage is one change notification scoped to an identity.
type RealtimeMessage struct {
	IdentityKey string
	EventType   string
	Timestamp   time.Time
}

// RealtimeDispatcher fans change notifications out to the subscribers of one
// identity. Slow subscribers drop messages rather than block publishers.
type RealtimeDispatcher struct {
	mu          sync.RWMutex
	subscribers map[string]map[int64]*realtimeSubscriber
	nextID      int64
	bufferSize  int
}

type realtimeSubscriber struct {
	id     int64
	stream chan RealtimeMessage
}

// NewRealtimeDispatcher constructs an empty dispatcher.
func NewRealtimeDispatcher() *RealtimeDispatcher {
	return &RealtimeDispatcher{
		subscribers: make(map[string]map[int64]*realtimeSubscriber),
		bufferSize:  16,
	}
}

// Subscribe registers a stream for the identity; the stream closes its
// registration when ctx is done or the returned cleanup runs.
func (d *RealtimeDispatcher) Subscribe(ctx context.Context, identityKey string) (<-chan RealtimeMessage, func()) {
	if identityKey == "" {
		ch := make(chan RealtimeMessage)
		close(ch)
		return ch, func() {}
	}
	subscriber := &realtimeSubscriber{
		id:     d.nextSequence(),
		stream: make(chan RealtimeMessage, d.bufferSize),
	}
	d.registerSubscriber(identityKey, subscriber)
	cleanup := func() {
		d.unregisterSubscriber(identityKey, subscriber.id)
	}
	go func() {
		<-ctx.Done()
		cleanup()
	}()
	return subscriber.stream, cleanup
}

// Publish delivers the message to every subscriber of its identity.
func (d *RealtimeDispatcher) Publish(message RealtimeMessage) {
	if message.IdentityKey == "" || message.EventType == "" {
		return
	}
	d.mu.RLock()
	subscribers := d.subscribers[message.IdentityKey]
	if len(subscribers) == 0 {
		d.mu.RUnlock()
		return
	}
	copies := make([]*realtimeSubscriber, 0, len(subscribers))
	for _, subscriber := range subscribers {
		copies = append(copies, subscriber)
	}
	d.mu.RUnlock()
	for _, subscriber := range copies {
		select {
		case subscriber.stream <- message:
		default:
		}
	}
}

func (d *RealtimeDispatcher) nextSequence() int64 {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.nextID++
	return d.nextID
}

func (d *RealtimeDispatcher) registerSubscriber(identityKey string, subscriber *realtimeSubscriber) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if _, ok := d.subscribers[identityKey]; !ok {
		d.subscribers[identityKey] = make(map[int64]*realtimeSubscriber)
	}
	d.subscribers[identityKey][subscriber.id] = subscriber
}

func (d *RealtimeDispatcher) unregisterSubscriber(identityKey string, subscriberID int64) {
	d.mu.Lock()
	subscribers := d.subscribers[identityKey]
	if subscribers != nil {
		delete(subscribers, subscriberID)
		if len(subscribers) == 0 {
			delete(d.subscribers, identityKey)
		}
	}
	d.mu.Unlock()
}
