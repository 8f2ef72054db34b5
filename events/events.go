// Package events provides the in-process event bus that fans
// simulation and decomposition activity out to API streams.
package events

import (
	"context"
	"time"
)

// Topic groups related events for subscription and replay.
type Topic string

const (
	// TopicSimulation carries engine events from running simulations.
	TopicSimulation Topic = "simulation"
	// TopicDecomposition carries progress from decomposition runs.
	TopicDecomposition Topic = "decomposition"
	// TopicProjects carries project lifecycle notifications.
	TopicProjects Topic = "projects"
	// TopicAll subscribes to every topic. Publishing to it is invalid.
	TopicAll Topic = "*"
)

// Envelope wraps one event for transport. Kind names the event within
// its topic and Payload holds the topic-specific body.
type Envelope struct {
	ID        string    `json:"id"`
	Topic     Topic     `json:"topic"`
	Kind      string    `json:"kind"`
	Payload   any       `json:"payload,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// New builds an envelope for publishing. ID and Timestamp are filled in
// by the bus.
func New(topic Topic, kind string, payload any) *Envelope {
	return &Envelope{Topic: topic, Kind: kind, Payload: payload}
}

// Handler processes delivered envelopes.
type Handler func(ctx context.Context, ev *Envelope) error

// Bus distributes envelopes to subscribers and keeps a bounded replay
// history.
type Bus interface {
	// Publish delivers an envelope to subscribers of its topic and of
	// TopicAll.
	Publish(ctx context.Context, ev *Envelope) error

	// Subscribe registers a handler for one topic, or all topics via
	// TopicAll. The returned function unsubscribes the handler.
	Subscribe(topic Topic, handler Handler) (unsubscribe func())

	// History returns up to limit recent envelopes for the topic in
	// chronological order. A non-positive limit returns all retained
	// envelopes.
	History(topic Topic, limit int) ([]*Envelope, error)
}
