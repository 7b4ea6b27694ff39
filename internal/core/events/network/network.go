// Package network carries named arrays of replicated values between the
// clients of a space. Inbound events are published to local subscribers on
// the tick goroutine.
package network

import (
	"errors"
	"fmt"
	"strconv"
	"sync"

	"github.com/zeusync/spacesync/internal/core/events/bus"
	"github.com/zeusync/spacesync/internal/core/models"
	"github.com/zeusync/spacesync/internal/core/observability/log"
	"github.com/zeusync/spacesync/internal/core/protocol"
	"github.com/zeusync/spacesync/internal/core/replicated"
)

// Reserved event names used by the runtime itself.
const (
	ClientElectionMessage  = "ClientElectionMessage"
	AssetDetailBlobChanged = "AssetDetailBlobChanged"
	ConversationSystem     = "ConversationSystem"
)

const topic = "network"

var (
	ErrEmptyEventName = errors.New("event name is empty")
	ErrNotEventFrame  = errors.New("frame does not carry a network event")
)

// IsReserved reports whether name is used internally.
func IsReserved(name string) bool {
	switch name {
	case ClientElectionMessage, AssetDetailBlobChanged, ConversationSystem:
		return true
	}
	return false
}

// Event is a network event as seen by a subscriber.
type Event struct {
	Name   string
	From   models.ClientID
	Values []replicated.Value
}

type Handler func(Event) error

// Sender hands an outbound frame to the transport.
type Sender func(f *protocol.Frame) error

type Bus struct {
	bus    bus.EventBus
	send   Sender
	logger log.Log

	mu   sync.Mutex
	subs []bus.Subscription
}

func New(send Sender, logger log.Log) *Bus {
	return &Bus{
		bus:    bus.New(),
		send:   send,
		logger: logger.With(log.String("component", "network_events")),
	}
}

// Subscribe registers handler for events named name. Several handlers per
// name are called in subscription order.
func (b *Bus) Subscribe(name string, handler Handler) (bus.Subscription, error) {
	if name == "" {
		return nil, ErrEmptyEventName
	}
	sub, err := b.bus.SubscribeTopic(topic, name, func(ev bus.Event) error {
		return handler(ev.Data().(Event))
	})
	if err != nil {
		return nil, err
	}

	b.mu.Lock()
	b.subs = append(b.subs, sub)
	b.mu.Unlock()
	return sub, nil
}

// Send is fire-and-forget. Target zero addresses every other client; the
// local client's own id is echoed back by the relay to its subscribers.
func (b *Bus) Send(name string, values []replicated.Value, target models.ClientID) error {
	if name == "" {
		return ErrEmptyEventName
	}
	if err := b.send(protocol.NewNetworkEvent(name, values, target)); err != nil {
		return fmt.Errorf("send event %q: %w", name, err)
	}
	return nil
}

// Deliver publishes an inbound NetworkEvent frame to subscribers and joins
// their errors.
func (b *Bus) Deliver(f *protocol.Frame) error {
	if f.Type != protocol.MessageTypeNetworkEvent || f.Event == nil {
		return ErrNotEventFrame
	}
	ev := Event{Name: f.Event.Name, From: f.From, Values: f.Event.Values}
	return b.bus.PublishToTopic(topic, bus.NewEvent(ev.Name, strconv.FormatUint(uint64(f.From), 10), ev))
}

// CancelAll drops every subscription made through this bus.
func (b *Bus) CancelAll() {
	b.mu.Lock()
	subs := b.subs
	b.subs = nil
	b.mu.Unlock()

	for _, s := range subs {
		_ = s.Cancel()
	}
}

// Subscriptions returns the number of live subscriptions.
func (b *Bus) Subscriptions() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	n := 0
	for _, s := range b.subs {
		if s.IsActive() {
			n++
		}
	}
	return n
}
