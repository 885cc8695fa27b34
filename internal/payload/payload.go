// Package payload validates and decodes work item payloads per task type.
//
// Payloads travel through the store as opaque JSON; this package is the one
// place that knows what each task type's document looks like. The scheduler
// consults the registry before enqueueing so malformed work never reaches an
// agent.
package payload

import (
	"fmt"
	"sort"
	"strings"
	"sync"

	"dispatch/internal/services"
)

// Decoder parses and validates the raw payload for one task type.
type Decoder func(raw []byte) (any, error)

// Registry maps task types to their payload decoders.
type Registry struct {
	mu       sync.RWMutex
	decoders map[string]Decoder
}

// NewRegistry returns an empty payload registry.
func NewRegistry() *Registry {
	return &Registry{decoders: make(map[string]Decoder)}
}

// Register binds a decoder to a task type, replacing any existing binding.
func (r *Registry) Register(taskType string, decoder Decoder) {
	taskType = strings.TrimSpace(taskType)
	if taskType == "" || decoder == nil {
		return
	}
	r.mu.Lock()
	r.decoders[taskType] = decoder
	r.mu.Unlock()
}

// Known reports whether a decoder is registered for the task type.
func (r *Registry) Known(taskType string) bool {
	r.mu.RLock()
	_, ok := r.decoders[strings.TrimSpace(taskType)]
	r.mu.RUnlock()
	return ok
}

// TaskTypes returns the registered task types in sorted order.
func (r *Registry) TaskTypes() []string {
	r.mu.RLock()
	types := make([]string, 0, len(r.decoders))
	for taskType := range r.decoders {
		types = append(types, taskType)
	}
	r.mu.RUnlock()
	sort.Strings(types)
	return types
}

// Resolve decodes and validates a payload for the given task type. Unknown
// task types and malformed documents are validation failures; neither is
// retryable.
func (r *Registry) Resolve(taskType, raw string) (any, error) {
	taskType = strings.TrimSpace(taskType)
	r.mu.RLock()
	decoder, ok := r.decoders[taskType]
	r.mu.RUnlock()
	if !ok {
		return nil, services.Wrap(services.ErrValidation, "payload", "resolve", fmt.Sprintf("unknown task type %q", taskType), nil)
	}
	decoded, err := decoder([]byte(raw))
	if err != nil {
		return nil, services.Wrap(services.ErrValidation, "payload", "resolve", fmt.Sprintf("invalid %s payload", taskType), err)
	}
	return decoded, nil
}
