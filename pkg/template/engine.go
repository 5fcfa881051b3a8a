// Package template implements the Jinja2-like expression and template
// language shared by when/changed_when/fail_when conditions, the template
// module, and inline {{ }} substitution anywhere a task argument allows it.
package template

import (
	"fmt"
	"os"
	"path/filepath"
	"reflect"
	"sync"

	"github.com/nexuscfg/nexus/pkg/types"
)

// Engine implements the TemplateEngine interface with a hand-written
// lexer/parser/evaluator: variable paths, a filter pipeline, and the
// if/for/include/macro/extends block directives.
type Engine struct {
	mu          sync.RWMutex
	filters     *FilterRegistry
	searchPaths []string
}

// NewEngine creates a new template engine with the built-in filter set.
func NewEngine() *Engine {
	return &Engine{filters: NewFilterRegistry()}
}

// AddSearchPath registers a directory searched by {% include %} and
// {% extends %} when the referenced name isn't an absolute path.
func (e *Engine) AddSearchPath(dir string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.searchPaths = append(e.searchPaths, dir)
}

// Render processes a template string with the given variables.
func (e *Engine) Render(templateStr string, vars map[string]interface{}) (string, error) {
	nodes, err := ParseTemplate(templateStr)
	if err != nil {
		return "", types.NewTemplateError("inline", 0, 0, "failed to parse template", err)
	}

	e.mu.RLock()
	ev := &evaluator{filters: e.filters, includer: e.loadInclude}
	e.mu.RUnlock()

	result, err := ev.renderTemplate(nodes, newRootScope(vars))
	if err != nil {
		return "", types.NewTemplateError("inline", 0, 0, "failed to render template", err)
	}
	return result, nil
}

// RenderFile processes a template file with the given variables.
func (e *Engine) RenderFile(path string, vars map[string]interface{}) (string, error) {
	content, err := os.ReadFile(path)
	if err != nil {
		return "", types.NewTemplateError(path, 0, 0, "failed to read template file", err)
	}

	result, err := e.Render(string(content), vars)
	if err != nil {
		if templateErr, ok := err.(*types.TemplateError); ok {
			templateErr.Template = path
			return "", templateErr
		}
		return "", types.NewTemplateError(path, 0, 0, "failed to render template", err)
	}
	return result, nil
}

// AddFunction registers a custom filter. fn is called by reflection with
// the piped value as its first argument followed by any filter arguments;
// it may return either a single value or (value, error).
func (e *Engine) AddFunction(name string, fn interface{}) error {
	if name == "" {
		return types.NewValidationError("name", name, "function name cannot be empty")
	}
	if fn == nil {
		return types.NewValidationError("fn", fn, "function cannot be nil")
	}
	fv := reflect.ValueOf(fn)
	if fv.Kind() != reflect.Func {
		return types.NewValidationError("fn", fn, "function must be callable")
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	e.filters.Register(name, wrapReflectedFunc(fv))
	return nil
}

func wrapReflectedFunc(fv reflect.Value) FilterFunc {
	return func(value interface{}, args ...interface{}) (interface{}, error) {
		callArgs := make([]reflect.Value, 0, len(args)+1)
		callArgs = append(callArgs, reflectArg(fv.Type(), 0, value))
		for i, a := range args {
			callArgs = append(callArgs, reflectArg(fv.Type(), i+1, a))
		}
		out := fv.Call(callArgs)
		switch len(out) {
		case 0:
			return nil, nil
		case 1:
			if err, ok := out[0].Interface().(error); ok {
				return nil, err
			}
			return out[0].Interface(), nil
		default:
			var err error
			if e, ok := out[1].Interface().(error); ok {
				err = e
			}
			return out[0].Interface(), err
		}
	}
}

func reflectArg(fnType reflect.Type, index int, value interface{}) reflect.Value {
	if fnType.NumIn() > index {
		paramType := fnType.In(index)
		if value == nil {
			return reflect.Zero(paramType)
		}
		v := reflect.ValueOf(value)
		if v.Type().ConvertibleTo(paramType) {
			return v.Convert(paramType)
		}
	}
	return reflect.ValueOf(value)
}

// ListFunctions returns all registered filter names.
func (e *Engine) ListFunctions() []string {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.filters.Names()
}

func (e *Engine) loadInclude(name string) (string, error) {
	e.mu.RLock()
	paths := append([]string{""}, e.searchPaths...)
	e.mu.RUnlock()

	for _, dir := range paths {
		candidate := name
		if dir != "" {
			candidate = filepath.Join(dir, name)
		}
		if content, err := os.ReadFile(candidate); err == nil {
			return string(content), nil
		}
	}
	return "", fmt.Errorf("template '%s' not found in search path", name)
}

// DefaultTemplateEngine provides a default template engine instance.
var DefaultTemplateEngine = NewEngine()
