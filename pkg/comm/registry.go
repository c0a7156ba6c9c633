package comm

import (
	"fmt"
	"sync"
)

// Registry is the single owner of identity to channel associations. A
// channel only knows its identity by value; the registry is the only place
// that links an identity to its active channel.
type Registry struct {
	mu       sync.RWMutex
	channels map[string]*Channel
}

// NewRegistry creates an empty registry
func NewRegistry() *Registry {
	return &Registry{channels: make(map[string]*Channel)}
}

// Lookup returns the active channel for id, if any
func (r *Registry) Lookup(id Identity) (*Channel, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	c, ok := r.channels[id.Key()]
	return c, ok
}

// Len returns the number of active channels
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.channels)
}

// HostChannels returns the active channels whose peer is on the same host
// as id, regardless of port.
func (r *Registry) HostChannels(id Identity) []*Channel {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []*Channel
	for _, c := range r.channels {
		if c.peer.SameHost(id) {
			out = append(out, c)
		}
	}
	return out
}

// register links c to its identity. A second channel for an identity that
// already has one is rejected.
func (r *Registry) register(c *Channel) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	key := c.peer.Key()
	if _, exists := r.channels[key]; exists {
		return fmt.Errorf("%w: %s", ErrChannelActive, c.peer)
	}
	r.channels[key] = c
	return nil
}

// release unlinks c if it is still the registered channel for its identity
func (r *Registry) release(c *Channel) {
	r.mu.Lock()
	defer r.mu.Unlock()
	key := c.peer.Key()
	if r.channels[key] == c {
		delete(r.channels, key)
	}
}
