// Package events is the telemetry event stream shared between the
// broker drivers (producers of events) and bridge subscribers.
package events

import "sync"

// Vocabulary emitted by the producer drivers.
const (
	Dropped          = "dropped"
	DroppedQueueFull = "dropped_queue_full"
	Queuing          = "queuing"
	Retried          = "retried"
	Failed           = "failed"
	Inflight         = "inflight"
	RetriedFailed    = "retried_failed"
	RetriedSuccess   = "retried_success"
	Success          = "success"
)

// ProducerEvents returns the full producer event vocabulary.
func ProducerEvents() []string {
	return []string{
		Dropped, DroppedQueueFull, Queuing, Retried, Failed,
		Inflight, RetriedFailed, RetriedSuccess, Success,
	}
}

// Event is one telemetry measurement. Meta carries at least
// "resource_id"; gauge events additionally carry "partition".
type Event struct {
	Name  string
	Value int64
	Meta  map[string]string
}

// HandlerFunc receives an event plus the context the handler was
// registered with.
type HandlerFunc func(ev Event, ctx map[string]string)

type handler struct {
	names map[string]struct{}
	fn    HandlerFunc
	ctx   map[string]string
}

// Registry is a process-wide subscription table keyed by handler id.
// Attach/Detach are idempotent per key; that is the only mutation
// discipline callers need.
type Registry struct {
	mu       sync.Mutex
	handlers map[string]*handler
}

func NewRegistry() *Registry {
	return &Registry{handlers: make(map[string]*handler)}
}

// Attach registers fn for the named events. Re-attaching under an
// existing id is a no-op; reports whether the handler was added.
func (r *Registry) Attach(id string, names []string, fn HandlerFunc, ctx map[string]string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.handlers[id]; ok {
		return false
	}
	set := make(map[string]struct{}, len(names))
	for _, n := range names {
		set[n] = struct{}{}
	}
	r.handlers[id] = &handler{names: set, fn: fn, ctx: ctx}
	return true
}

// Detach removes the handler; detaching an unknown id is a no-op.
func (r *Registry) Detach(id string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.handlers[id]; !ok {
		return false
	}
	delete(r.handlers, id)
	return true
}

func (r *Registry) Attached(id string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.handlers[id]
	return ok
}

// Dispatch fans the event out to every handler subscribed to its name.
// Handlers run outside the registry lock.
func (r *Registry) Dispatch(ev Event) {
	r.mu.Lock()
	targets := make([]*handler, 0, len(r.handlers))
	for _, h := range r.handlers {
		if _, ok := h.names[ev.Name]; ok {
			targets = append(targets, h)
		}
	}
	r.mu.Unlock()

	for _, h := range targets {
		h.fn(ev, h.ctx)
	}
}
