// Package events implements the Iris event router (C4): it tracks
// (instance, event-source) subscriptions and fans each incoming callback
// out to every sink registered for that pair, without ever blocking the
// transport's reader goroutine.
package events

import (
	"encoding/json"
	"sync"

	"github.com/cornea-tools/cornea/internal/logging"
)

// DefaultQueueDepth bounds each subscription's delivery queue, chosen as a
// round number comfortably larger than a single burst of simulator events
// between consumer reads.
const DefaultQueueDepth = 64

// Record is one decoded event, handed to a sink's channel.
type Record struct {
	SourceID   uint32
	InstanceID uint32
	Time       uint64
	Fields     map[string]json.RawMessage
}

// Sink receives Records for exactly one (instance, source) subscription.
// Dropped signals overflow so a consumer can notice it missed something
// without the router ever blocking on a full queue.
type Sink struct {
	ch      chan Record
	dropped chan struct{}
}

// C returns the channel Records are delivered on.
func (s *Sink) C() <-chan Record { return s.ch }

// Dropped returns a channel that is sent to (non-blocking, best effort)
// whenever this sink's queue overflowed and an event had to be discarded.
func (s *Sink) Dropped() <-chan struct{} { return s.dropped }

type key struct {
	instanceID, sourceID uint32
}

// Router maintains the subscription table and performs delivery. One
// Router is shared by every subscriber on a connection; it implements
// rpc.EventHandler so it can be wired directly as the RPC client's event
// sink.
type Router struct {
	mu   sync.RWMutex
	subs map[key][]*Sink
}

// New creates an empty Router.
func New() *Router {
	return &Router{subs: make(map[key][]*Sink)}
}

// Subscribe registers a new sink for (instanceID, sourceID). Multiple
// sinks may be registered for the same pair; each receives every event
// independently (fan-out).
func (r *Router) Subscribe(instanceID, sourceID uint32) *Sink {
	s := &Sink{
		ch:      make(chan Record, DefaultQueueDepth),
		dropped: make(chan struct{}, 1),
	}
	k := key{instanceID, sourceID}

	r.mu.Lock()
	r.subs[k] = append(r.subs[k], s)
	r.mu.Unlock()

	return s
}

// Unsubscribe removes a sink previously returned by Subscribe. Further
// callbacks for that (instance, source) are simply dropped if s was the
// only subscriber.
func (r *Router) Unsubscribe(instanceID, sourceID uint32, s *Sink) {
	k := key{instanceID, sourceID}

	r.mu.Lock()
	defer r.mu.Unlock()
	sinks := r.subs[k]
	for i, cur := range sinks {
		if cur == s {
			r.subs[k] = append(sinks[:i], sinks[i+1:]...)
			break
		}
	}
	if len(r.subs[k]) == 0 {
		delete(r.subs, k)
	}
}

// CloseAll cancels every subscription, matching the Connection lifecycle
// requirement that teardown drops every subscription.
func (r *Router) CloseAll() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.subs = make(map[key][]*Sink)
}

// HandleEvent implements rpc.EventHandler. It decodes the generic
// callback shape and fans it out to every sink registered for the
// (instance, source) pair named in the params; an event with no
// subscriber is dropped silently.
func (r *Router) HandleEvent(method string, params json.RawMessage) {
	var raw struct {
		InstID  uint32                     `json:"instId"`
		EvSrcID uint32                     `json:"evSrcId"`
		Time    uint64                     `json:"time"`
		Fields  map[string]json.RawMessage `json:"fields"`
	}
	if err := json.Unmarshal(params, &raw); err != nil {
		logging.Warn("dropping malformed event callback")
		return
	}

	rec := Record{SourceID: raw.EvSrcID, InstanceID: raw.InstID, Time: raw.Time, Fields: raw.Fields}
	k := key{raw.InstID, raw.EvSrcID}

	r.mu.RLock()
	sinks := append([]*Sink(nil), r.subs[k]...)
	r.mu.RUnlock()

	for _, s := range sinks {
		select {
		case s.ch <- rec:
			logging.LogEventDelivery(raw.EvSrcID, raw.InstID, len(s.ch))
		default:
			logging.LogEventDropped(raw.EvSrcID, raw.InstID)
			select {
			case s.dropped <- struct{}{}:
			default:
			}
		}
	}
}
