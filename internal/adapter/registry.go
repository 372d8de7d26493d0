// Package adapter implements the channel adapter capability for each
// delivery medium and the registry the orchestrator resolves adapters from.
package adapter

import (
	"fmt"

	"github.com/heraldhq/herald/internal/notify"
)

// Registry maps channel tags to their adapters. An unknown channel reaching
// dispatch is a configuration error, not a retryable condition.
type Registry struct {
	adapters map[notify.Channel]notify.ChannelAdapter
}

// NewRegistry builds a registry from the given channel/adapter pairs.
func NewRegistry() *Registry {
	return &Registry{adapters: make(map[notify.Channel]notify.ChannelAdapter)}
}

// Register binds an adapter to a channel, replacing any previous binding.
func (r *Registry) Register(ch notify.Channel, a notify.ChannelAdapter) {
	r.adapters[ch] = a
}

// Adapter resolves the adapter for ch.
func (r *Registry) Adapter(ch notify.Channel) (notify.ChannelAdapter, error) {
	a, ok := r.adapters[ch]
	if !ok {
		return nil, fmt.Errorf("no adapter registered for channel: %s", ch)
	}
	return a, nil
}

// Channels returns the channels with a registered adapter.
func (r *Registry) Channels() []notify.Channel {
	out := make([]notify.Channel, 0, len(r.adapters))
	for ch := range r.adapters {
		out = append(out, ch)
	}
	return out
}
