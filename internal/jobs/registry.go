package jobs

import (
	"context"
	"fmt"
	"sync"
)

// Handler executes jobs of one type. A returned error fails the job.
type Handler interface {
	Type() Type
	Run(ctx context.Context, job *Job) error
}

// HandlerFunc adapts a function to Handler.
type HandlerFunc struct {
	JobType Type
	Fn      func(ctx context.Context, job *Job) error
}

func (h HandlerFunc) Type() Type { return h.JobType }

func (h HandlerFunc) Run(ctx context.Context, job *Job) error { return h.Fn(ctx, job) }

// Registry maps job types to handlers.
type Registry struct {
	mu       sync.RWMutex
	handlers map[Type]Handler
}

func NewRegistry() *Registry {
	return &Registry{handlers: make(map[Type]Handler)}
}

// Register adds h. Registering the same type twice is an error.
func (r *Registry) Register(h Handler) error {
	if h == nil {
		return fmt.Errorf("nil handler")
	}
	t := h.Type()
	if t == "" {
		return fmt.Errorf("handler Type() is empty")
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.handlers[t]; exists {
		return fmt.Errorf("handler already registered for job type %s", t)
	}
	r.handlers[t] = h
	return nil
}

func (r *Registry) Get(t Type) (Handler, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	h, ok := r.handlers[t]
	return h, ok
}
