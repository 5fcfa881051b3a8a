// Package context implements the per-host execution context: the
// mutable variable scope, registered-output tracking, and command
// escalation wrapping a running play carries for each host.
//
// This is unrelated to the standard library's context.Context for
// cancellation; callers pass a stdlib context.Context alongside an
// ExecutionContext where cancellation is needed.
package context

import (
	"fmt"
	"strconv"
	"strings"
	"sync"

	"github.com/nexuscfg/nexus/pkg/shellquote"
	"github.com/nexuscfg/nexus/pkg/types"
)

// registry holds registered Task Output values for a host, shared by
// every ExecutionContext cloned from the same root so that `register:`
// effects on one task are visible to the host's later tasks.
type registry struct {
	mu   sync.RWMutex
	data map[string]interface{}
}

func newRegistry() *registry {
	return &registry{data: make(map[string]interface{})}
}

func (r *registry) set(name string, value interface{}) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.data[name] = value
}

func (r *registry) get(name string) (interface{}, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	v, ok := r.data[name]
	return v, ok
}

func (r *registry) snapshot() map[string]interface{} {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make(map[string]interface{}, len(r.data))
	for k, v := range r.data {
		out[k] = v
	}
	return out
}

// ExecutionContext is the per-host state a play carries for the
// duration of its run (§4.2). At most one task is active in a given
// context at a time: concurrency is across hosts, serial within.
type ExecutionContext struct {
	Host types.Host

	vars     map[string]interface{}
	registry *registry

	loopItem  interface{}
	loopVar   string
	hasLoop   bool
	loopIndex int

	CheckMode bool
	DiffMode  bool
	Sudo      bool
	SudoUser  string

	SudoPassword string
}

// New creates the root execution context for a host: seeded with
// `host`, `inventory_hostname`, the host's own variables, and then
// the playbook/effective variables layered on top (highest
// precedence last).
func New(host types.Host, effectiveVars map[string]interface{}) *ExecutionContext {
	vars := make(map[string]interface{}, len(effectiveVars)+len(host.Variables)+2)
	vars["host"] = host
	vars["inventory_hostname"] = host.Name
	for k, v := range host.Variables {
		vars[k] = v
	}
	for k, v := range effectiveVars {
		vars[k] = v
	}

	return &ExecutionContext{
		Host:     host,
		vars:     vars,
		registry: newRegistry(),
		loopVar:  "item",
	}
}

// Clone returns a shallow copy for per-task use: its own variable map
// (so task-local `vars:` never leak to sibling tasks) but the same
// registered-output registry, so `register:` effects remain visible.
func (c *ExecutionContext) Clone() *ExecutionContext {
	clone := *c
	clone.vars = make(map[string]interface{}, len(c.vars))
	for k, v := range c.vars {
		clone.vars[k] = v
	}
	return &clone
}

// WithVars returns a clone with the given variables layered on top
// (used for a task's own `vars:` block).
func (c *ExecutionContext) WithVars(extra map[string]interface{}) *ExecutionContext {
	clone := c.Clone()
	for k, v := range extra {
		clone.vars[k] = v
	}
	return clone
}

// WithLoopItem returns a clone bound to a loop iteration: the loop
// item is addressable both as `item` (or the task's loop_var) and
// through `loop.*` metadata, which the caller sets separately via
// SetLoopMeta.
func (c *ExecutionContext) WithLoopItem(item interface{}, loopVar string) *ExecutionContext {
	if loopVar == "" {
		loopVar = "item"
	}
	clone := c.Clone()
	clone.loopItem = item
	clone.loopVar = loopVar
	clone.hasLoop = true
	clone.vars[loopVar] = item
	return clone
}

// SetLoopMeta sets the `loop.*` fields (index, index0, first, last,
// length, revindex, revindex0) visible to expressions during this
// iteration.
func (c *ExecutionContext) SetLoopMeta(index, length int) {
	c.loopIndex = index
	c.vars["loop"] = map[string]interface{}{
		"index":     index + 1,
		"index0":    index,
		"first":     index == 0,
		"last":      index == length-1,
		"length":    length,
		"revindex":  length - index,
		"revindex0": length - index - 1,
	}
}

// SetVar sets a variable directly in this context's own scope.
func (c *ExecutionContext) SetVar(name string, value interface{}) {
	c.vars[name] = value
}

// Register records a Task Output under a register name. Visible to
// every context cloned from the same root from this point on.
func (c *ExecutionContext) Register(name string, output *types.Result) {
	c.registry.set(name, output)
	c.vars[name] = ToValue(output)
}

// RegisteredOutputs returns a snapshot of every currently registered
// Task Output, keyed by register name, for checkpointing.
func (c *ExecutionContext) RegisteredOutputs() map[string]interface{} {
	return c.registry.snapshot()
}

// Vars returns the full effective variable map as seen by expression
// evaluation: host facts/vars, playbook vars, loop state, and
// registered outputs all flattened into one map.
func (c *ExecutionContext) Vars() map[string]interface{} {
	out := make(map[string]interface{}, len(c.vars))
	for k, v := range c.vars {
		out[k] = v
	}
	return out
}

// Lookup resolves a dotted path against this context (§4.2): `vars.`
// is stripped and resolved from the variable map, `host.` resolves
// against the host struct, `item` returns the current loop item, a
// registered name yields its Task Output converted to a Value, and
// anything else is looked up directly as a variable. Further
// segments navigate dict keys; integer segments index into lists.
func (c *ExecutionContext) Lookup(path string) (interface{}, bool) {
	segments := strings.Split(path, ".")
	if len(segments) == 0 {
		return nil, false
	}

	head := segments[0]
	rest := segments[1:]

	switch {
	case head == "vars":
		if len(rest) == 0 {
			return c.Vars(), true
		}
		v, ok := c.vars[rest[0]]
		if !ok {
			return nil, false
		}
		return navigate(v, rest[1:])
	case head == "host":
		return navigate(hostAsMap(c.Host), rest)
	case head == "item" && c.hasLoop:
		return navigate(c.loopItem, rest)
	default:
		if out, ok := c.registry.get(head); ok {
			return navigate(ToValue(out), rest)
		}
		v, ok := c.vars[head]
		if !ok {
			return nil, false
		}
		return navigate(v, rest)
	}
}

func hostAsMap(h types.Host) map[string]interface{} {
	m := map[string]interface{}{
		"name":    h.Name,
		"address": h.Address,
		"port":    h.Port,
		"user":    h.User,
		"groups":  h.Groups,
		"vars":    h.Variables,
	}
	return m
}

// navigate walks dict-key/list-index segments against a resolved
// value. An integer segment indexes into a list; anything else is
// treated as a map key.
func navigate(v interface{}, segments []string) (interface{}, bool) {
	cur := v
	for _, seg := range segments {
		switch typed := cur.(type) {
		case map[string]interface{}:
			next, ok := typed[seg]
			if !ok {
				return nil, false
			}
			cur = next
		case []interface{}:
			idx, err := strconv.Atoi(seg)
			if err != nil || idx < 0 || idx >= len(typed) {
				return nil, false
			}
			cur = typed[idx]
		default:
			return nil, false
		}
	}
	return cur, true
}

// ToValue converts a Task Output into the dict shape addressable
// under its register name (§3: Task Output -> Value), including the
// derived `stdout_lines`.
func ToValue(result *types.Result) map[string]interface{} {
	if result == nil {
		return map[string]interface{}{}
	}

	out := map[string]interface{}{
		"changed": result.Changed,
		"failed":  !result.Success,
		"skipped": false,
		"msg":     result.Message,
	}
	for k, v := range result.Data {
		out[k] = v
	}
	if stdout, ok := out["stdout"].(string); ok {
		lines := strings.Split(stdout, "\n")
		if len(lines) > 0 && lines[len(lines)-1] == "" {
			lines = lines[:len(lines)-1]
		}
		stdoutLines := make([]interface{}, len(lines))
		for i, l := range lines {
			stdoutLines[i] = l
		}
		out["stdout_lines"] = stdoutLines
	}
	if result.Diff != nil {
		out["diff"] = result.Diff
	}
	return out
}

// WrapCommand applies this context's sudo flags to a command, per
// §4.2's command-wrapping rule. Callers that shell out from a module
// must wrap their command through this before handing it to a
// connection.
func (c *ExecutionContext) WrapCommand(command string) string {
	if !c.Sudo {
		return command
	}
	return shellquote.Sudo(command, c.SudoUser)
}

// String is a debug aid; it does not affect evaluation.
func (c *ExecutionContext) String() string {
	return fmt.Sprintf("ExecutionContext{host=%s, sudo=%v, sudo_user=%q, check=%v, diff=%v}",
		c.Host.Name, c.Sudo, c.SudoUser, c.CheckMode, c.DiffMode)
}
