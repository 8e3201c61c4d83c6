package cwdtp

import "sync"

// MessageHandler receives the decoded arguments of a non-reserved peer event
// (§4.C's on_message hook).
type MessageHandler func(args []any)

// router is a concurrency-safe event-name to handler map. Registration can
// happen from any goroutine at any time; dispatch always runs on the
// Connection's own loop goroutine.
type router struct {
	mu       sync.RWMutex
	handlers map[string]MessageHandler
}

func newRouter() *router {
	return &router{handlers: make(map[string]MessageHandler)}
}

func (r *router) on(event string, h MessageHandler) error {
	if err := ValidateEventName(event); err != nil {
		return err
	}
	r.mu.Lock()
	r.handlers[event] = h
	r.mu.Unlock()
	return nil
}

func (r *router) dispatch(event string, args []any) {
	r.mu.RLock()
	h := r.handlers[event]
	r.mu.RUnlock()
	if h != nil {
		h(args)
	}
}
