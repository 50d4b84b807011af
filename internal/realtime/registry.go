package realtime

import (
	"reflect"
	"sync"
)

// Subscription is one registered (event type, handler) pair.
// It stays registered across reconnects until Unsubscribe is called.
type Subscription struct {
	eventType string
	handler   Handler
	registry  *registry
}

// EventType returns the event the subscription listens to.
func (s *Subscription) EventType() string {
	return s.eventType
}

// Unsubscribe removes the subscription. Calling it more than once is a no-op.
func (s *Subscription) Unsubscribe() {
	if s == nil || s.registry == nil {
		return
	}
	s.registry.unsubscribe(s.eventType, s)
}

// registry maps event names to insertion-ordered subscriptions.
type registry struct {
	mu   sync.RWMutex
	subs map[string][]*Subscription
}

func newRegistry() *registry {
	return &registry{
		subs: make(map[string][]*Subscription),
	}
}

// sameHandler reports whether a and b are the same handler reference.
// Handlers of non-comparable types (funcs, structs holding funcs) are never
// equal. A comparable struct can still hold a func in an interface field, and
// == panics on it at runtime; such handlers are treated as distinct too.
func sameHandler(a, b Handler) (same bool) {
	t := reflect.TypeOf(b)
	if t == nil || !t.Comparable() {
		return false
	}
	if reflect.TypeOf(a) != t {
		return false
	}
	defer func() {
		if recover() != nil {
			same = false
		}
	}()
	return a == b
}

func (r *registry) subscribe(eventType string, h Handler) *Subscription {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, existing := range r.subs[eventType] {
		if sameHandler(existing.handler, h) {
			return existing
		}
	}

	sub := &Subscription{
		eventType: eventType,
		handler:   h,
		registry:  r,
	}
	r.subs[eventType] = append(r.subs[eventType], sub)
	return sub
}

func (r *registry) unsubscribe(eventType string, sub *Subscription) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.removeLocked(eventType, func(s *Subscription) bool { return s == sub })
}

func (r *registry) unsubscribeHandler(eventType string, h Handler) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.removeLocked(eventType, func(s *Subscription) bool { return sameHandler(s.handler, h) })
}

func (r *registry) removeLocked(eventType string, match func(*Subscription) bool) {
	subs := r.subs[eventType]
	for i, s := range subs {
		if !match(s) {
			continue
		}
		// Copy instead of shifting in place so snapshots taken by lookup stay intact.
		next := make([]*Subscription, 0, len(subs)-1)
		next = append(next, subs[:i]...)
		next = append(next, subs[i+1:]...)
		if len(next) == 0 {
			delete(r.subs, eventType)
		} else {
			r.subs[eventType] = next
		}
		return
	}
}

// lookup returns a snapshot of the handlers for eventType in subscription order.
func (r *registry) lookup(eventType string) []Handler {
	r.mu.RLock()
	defer r.mu.RUnlock()

	subs := r.subs[eventType]
	handlers := make([]Handler, len(subs))
	for i, s := range subs {
		handlers[i] = s.handler
	}
	return handlers
}

func (r *registry) count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()

	n := 0
	for _, subs := range r.subs {
		n += len(subs)
	}
	return n
}

func (r *registry) eventTypes() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	types := make([]string, 0, len(r.subs))
	for t := range r.subs {
		types = append(types, t)
	}
	return types
}
