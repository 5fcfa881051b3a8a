package runner

import (
	"context"
	"fmt"
	"sync"

	"github.com/nexuscfg/nexus/pkg/types"
)

// HandlerManager tracks which handlers have been notified for which
// hosts, and flushes them in declaration order regardless of the order
// notifications arrived in.
type HandlerManager struct {
	mu sync.RWMutex

	handlers         map[string]types.Task
	declarationOrder []string
	notified         map[string]map[string]bool // handler -> set of hosts
	flushed          map[string]bool
}

// NewHandlerManager creates a new, empty handler manager.
func NewHandlerManager() *HandlerManager {
	return &HandlerManager{
		handlers: make(map[string]types.Task),
		notified: make(map[string]map[string]bool),
		flushed:  make(map[string]bool),
	}
}

// RegisterHandler adds a handler task, appending it to the declaration
// order the first time it is seen (a play's own handlers register
// first; role-contributed handlers register afterward, in role order,
// per the documented handler-inheritance decision).
func (h *HandlerManager) RegisterHandler(handler types.Task) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	if handler.Name == "" {
		return fmt.Errorf("handler must have a name")
	}

	if _, exists := h.handlers[handler.Name]; !exists {
		h.declarationOrder = append(h.declarationOrder, handler.Name)
	}
	h.handlers[handler.Name] = handler

	if handler.Listen != "" {
		if _, exists := h.handlers[handler.Listen]; !exists {
			h.declarationOrder = append(h.declarationOrder, handler.Listen)
		}
		h.handlers[handler.Listen] = handler
	}

	return nil
}

// Notify records that handlerName should run for host. Notifying the
// same (handler, host) pair twice is a no-op. Notifying an undefined
// handler is NOT an error here — per the flush-time contract, it only
// becomes fatal when flush actually tries to run it.
func (h *HandlerManager) Notify(handlerName, host string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.notifyLocked(handlerName, host)
}

func (h *HandlerManager) notifyLocked(handlerName, host string) {
	hosts, ok := h.notified[handlerName]
	if !ok {
		hosts = make(map[string]bool)
		h.notified[handlerName] = hosts
	}
	hosts[host] = true
	h.flushed[handlerName] = false
}

// NotifyAll records a notification for every name in handlerNames.
func (h *HandlerManager) NotifyAll(handlerNames []string, host string) {
	if len(handlerNames) == 0 {
		return
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	for _, name := range handlerNames {
		h.notifyLocked(name, host)
	}
}

// Pending returns handler names, in declaration order, that have at
// least one notified host not yet flushed this cycle.
func (h *HandlerManager) Pending() []string {
	h.mu.RLock()
	defer h.mu.RUnlock()

	var pending []string
	for _, name := range h.declarationOrder {
		if h.flushed[name] {
			continue
		}
		if hosts := h.notified[name]; len(hosts) > 0 {
			pending = append(pending, name)
		}
	}
	return pending
}

// HasPending reports whether any handler has unflushed notifications.
func (h *HandlerManager) HasPending() bool {
	return len(h.Pending()) > 0
}

// NotifiedHosts returns the hosts currently notified for handlerName.
func (h *HandlerManager) NotifiedHosts(handlerName string) []string {
	h.mu.RLock()
	defer h.mu.RUnlock()
	hosts := h.notified[handlerName]
	out := make([]string, 0, len(hosts))
	for host := range hosts {
		out = append(out, host)
	}
	return out
}

// MarkFlushed clears handlerName's notification set and marks it
// flushed for this cycle.
func (h *HandlerManager) MarkFlushed(handlerName string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	delete(h.notified, handlerName)
	h.flushed[handlerName] = true
}

// ParallelBatch returns the subset of Pending() whose handlers have no
// dependency (via Listen-based chaining) on a handler not already in
// the batch, so independent handlers can run concurrently.
func (h *HandlerManager) ParallelBatch() []string {
	pending := h.Pending()
	h.mu.RLock()
	defer h.mu.RUnlock()

	inBatch := make(map[string]bool, len(pending))
	for _, name := range pending {
		inBatch[name] = true
	}

	var batch []string
	for _, name := range pending {
		handler, ok := h.handlers[name]
		if !ok || handler.Listen == "" || handler.Listen == name || inBatch[handler.Listen] {
			batch = append(batch, name)
		}
	}
	return batch
}

// HasHandlers reports whether any handler has been registered.
func (h *HandlerManager) HasHandlers() bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.handlers) > 0
}

// GetHandler returns a handler definition by name.
func (h *HandlerManager) GetHandler(name string) (types.Task, bool) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	handler, exists := h.handlers[name]
	return handler, exists
}

// Clear resets the manager to empty (used between plays).
func (h *HandlerManager) Clear() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.handlers = make(map[string]types.Task)
	h.declarationOrder = nil
	h.notified = make(map[string]map[string]bool)
	h.flushed = make(map[string]bool)
}

// FlushAll runs every pending handler, in declaration order, against
// only the hosts that were actually notified for it — not the full
// host list passed in. A handler notified but never registered is a
// fatal error at this point.
func (h *HandlerManager) FlushAll(ctx context.Context, runner *TaskRunner, allHosts []types.Host, vars map[string]interface{}) ([]types.Result, error) {
	pending := h.Pending()
	if len(pending) == 0 {
		return nil, nil
	}

	hostByName := make(map[string]types.Host, len(allHosts))
	for _, host := range allHosts {
		hostByName[host.Name] = host
	}

	var allResults []types.Result
	for _, name := range pending {
		handler, ok := h.GetHandler(name)
		if !ok {
			return allResults, fmt.Errorf("handler %q was notified but is not defined", name)
		}

		notifiedHosts := h.NotifiedHosts(name)
		targets := make([]types.Host, 0, len(notifiedHosts))
		for _, hostName := range notifiedHosts {
			if host, ok := hostByName[hostName]; ok {
				targets = append(targets, host)
			}
		}

		results, err := runner.Run(ctx, handler, targets, vars)
		h.MarkFlushed(name)
		if err != nil {
			return allResults, fmt.Errorf("handler %q failed: %w", name, err)
		}
		allResults = append(allResults, results...)
	}

	return allResults, nil
}

// ProcessHandlers is kept as an alias of FlushAll for call sites
// grounded on the teacher's original naming.
func (h *HandlerManager) ProcessHandlers(ctx context.Context, runner *TaskRunner, hosts []types.Host, vars map[string]interface{}) ([]types.Result, error) {
	return h.FlushAll(ctx, runner, hosts, vars)
}
