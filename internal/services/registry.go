// Package services provides the in-process service registry through which
// modules call each other. Every cross-module call goes through a registered
// handler, so a module can later be split out behind a network transport
// without touching its callers.
package services

import (
	"context"
	"fmt"
	"sync"

	"github.com/rs/zerolog"
)

// Handler serves one module's in-process API. Method and path mirror the
// module's HTTP surface; data carries the request payload for writes.
type Handler func(ctx context.Context, method, path string, data map[string]interface{}) Response

// Response is the uniform envelope returned by every in-process call.
type Response struct {
	Success bool        `json:"success"`
	Data    interface{} `json:"data,omitempty"`
	Error   *CallError  `json:"error,omitempty"`
}

// CallError carries a machine-readable code alongside the message.
type CallError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func (e *CallError) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// OK wraps a payload in a successful response.
func OK(data interface{}) Response {
	return Response{Success: true, Data: data}
}

// Fail wraps a code and message in a failed response.
func Fail(code, message string) Response {
	return Response{Success: false, Error: &CallError{Code: code, Message: message}}
}

// Failf is Fail with a formatted message.
func Failf(code, format string, args ...interface{}) Response {
	return Fail(code, fmt.Sprintf(format, args...))
}

// Registry maps module names to their in-process handlers.
type Registry struct {
	mu       sync.RWMutex
	handlers map[string]Handler
	log      zerolog.Logger
}

// NewRegistry creates an empty registry.
func NewRegistry(log zerolog.Logger) *Registry {
	return &Registry{
		handlers: make(map[string]Handler),
		log:      log.With().Str("component", "services").Logger(),
	}
}

// Register installs a module's handler, replacing any previous one.
func (r *Registry) Register(module string, handler Handler) {
	r.mu.Lock()
	r.handlers[module] = handler
	r.mu.Unlock()
	r.log.Debug().Str("module", module).Msg("Service registered")
}

// Call routes a request to the named module. An unknown module yields a
// NOT_FOUND response rather than an error, matching what a remote transport
// would return.
func (r *Registry) Call(ctx context.Context, module, method, path string, data map[string]interface{}) Response {
	r.mu.RLock()
	handler, ok := r.handlers[module]
	r.mu.RUnlock()
	if !ok {
		return Failf("NOT_FOUND", "no service registered for module %q", module)
	}
	return handler(ctx, method, path, data)
}

// Modules returns the names of all registered modules.
func (r *Registry) Modules() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.handlers))
	for name := range r.handlers {
		names = append(names, name)
	}
	return names
}
