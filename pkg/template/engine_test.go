package template

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestNewEngineHasBuiltinFilters(t *testing.T) {
	engine := NewEngine()
	functions := engine.ListFunctions()
	if len(functions) == 0 {
		t.Fatal("engine should have built-in filters")
	}
	for _, expected := range []string{"upper", "lower", "trim", "replace", "default", "length"} {
		found := false
		for _, fn := range functions {
			if fn == expected {
				found = true
				break
			}
		}
		if !found {
			t.Errorf("expected filter %s not found", expected)
		}
	}
}

func TestEngineRenderBasic(t *testing.T) {
	engine := NewEngine()

	tests := []struct {
		name     string
		template string
		vars     map[string]interface{}
		expected string
	}{
		{
			name:     "simple variable substitution",
			template: "Hello {{ name }}!",
			vars:     map[string]interface{}{"name": "World"},
			expected: "Hello World!",
		},
		{
			name:     "multiple variables",
			template: "{{ greeting }} {{ name }}, you are {{ age }} years old",
			vars:     map[string]interface{}{"greeting": "Hi", "name": "Alice", "age": 30},
			expected: "Hi Alice, you are 30 years old",
		},
		{
			name:     "dotted path access",
			template: "{{ user.name }} ({{ user.roles[0] }})",
			vars: map[string]interface{}{
				"user": map[string]interface{}{
					"name":  "bob",
					"roles": []interface{}{"admin", "operator"},
				},
			},
			expected: "bob (admin)",
		},
		{
			name:     "filter pipeline",
			template: "{{ name | upper | trim }}",
			vars:     map[string]interface{}{"name": "  alice  "},
			expected: "ALICE",
		},
		{
			name:     "filter with argument",
			template: "{{ missing | default(\"fallback\") }}",
			vars:     map[string]interface{}{},
			expected: "fallback",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result, err := engine.Render(tt.template, tt.vars)
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if result != tt.expected {
				t.Errorf("expected %q, got %q", tt.expected, result)
			}
		})
	}
}

func TestEngineRenderConditionals(t *testing.T) {
	engine := NewEngine()

	tmpl := "{% if admin %}admin{% elif guest %}guest{% else %}user{% endif %}"

	result, err := engine.Render(tmpl, map[string]interface{}{"admin": true, "guest": false})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result != "admin" {
		t.Errorf("expected 'admin', got %q", result)
	}

	result, err = engine.Render(tmpl, map[string]interface{}{"admin": false, "guest": true})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result != "guest" {
		t.Errorf("expected 'guest', got %q", result)
	}

	result, err = engine.Render(tmpl, map[string]interface{}{"admin": false, "guest": false})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result != "user" {
		t.Errorf("expected 'user', got %q", result)
	}
}

func TestEngineRenderForLoop(t *testing.T) {
	engine := NewEngine()

	tmpl := "{% for item in items %}{{ loop.index }}:{{ item }}{% if not loop.last %}, {% endif %}{% endfor %}"
	result, err := engine.Render(tmpl, map[string]interface{}{
		"items": []interface{}{"a", "b", "c"},
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result != "1:a, 2:b, 3:c" {
		t.Errorf("unexpected loop render: %q", result)
	}
}

func TestEngineRenderForLoopOverMap(t *testing.T) {
	engine := NewEngine()

	tmpl := "{% for k, v in data %}{{ k }}={{ v }};{% endfor %}"
	result, err := engine.Render(tmpl, map[string]interface{}{
		"data": map[string]interface{}{"a": 1, "b": 2},
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result != "a=1;b=2;" {
		t.Errorf("unexpected map loop render (expects sorted keys): %q", result)
	}
}

func TestEngineRenderMacro(t *testing.T) {
	engine := NewEngine()

	tmpl := `{% macro greet(name, greeting="Hello") %}{{ greeting }}, {{ name }}!{% endmacro %}{{ greet("Alice") }} {{ greet("Bob", "Hi") }}`
	result, err := engine.Render(tmpl, nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result != "Hello, Alice! Hi, Bob!" {
		t.Errorf("unexpected macro render: %q", result)
	}
}

func TestEngineRenderWhitespaceTrim(t *testing.T) {
	engine := NewEngine()

	tmpl := "a\n{%- if true -%}\nb\n{%- endif -%}\nc"
	result, err := engine.Render(tmpl, nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result != "abc" {
		t.Errorf("expected whitespace-trimmed 'abc', got %q", result)
	}
}

func TestEngineRenderComment(t *testing.T) {
	engine := NewEngine()
	result, err := engine.Render("before{# this is dropped #}after", nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result != "beforeafter" {
		t.Errorf("expected comment stripped, got %q", result)
	}
}

func TestEngineRenderIncludeAndExtends(t *testing.T) {
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "base.tmpl"), []byte("[{% block body %}default{% endblock %}]"), 0644); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(dir, "partial.tmpl"), []byte("partial-{{ name }}"), 0644); err != nil {
		t.Fatal(err)
	}

	engine := NewEngine()
	engine.AddSearchPath(dir)

	childResult, err := engine.Render(`{% extends "base.tmpl" %}{% block body %}child{% endblock %}`, nil)
	if err != nil {
		t.Fatalf("extends render failed: %v", err)
	}
	if childResult != "[child]" {
		t.Errorf("expected '[child]', got %q", childResult)
	}

	includeResult, err := engine.Render(`X {% include "partial.tmpl" %} Y`, map[string]interface{}{"name": "z"})
	if err != nil {
		t.Fatalf("include render failed: %v", err)
	}
	if includeResult != "X partial-z Y" {
		t.Errorf("expected 'X partial-z Y', got %q", includeResult)
	}
}

func TestEngineAddFunction(t *testing.T) {
	engine := NewEngine()
	if err := engine.AddFunction("shout", func(s string) string {
		return strings.ToUpper(s) + "!"
	}); err != nil {
		t.Fatalf("failed to add function: %v", err)
	}

	result, err := engine.Render("{{ name | shout }}", map[string]interface{}{"name": "hey"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result != "HEY!" {
		t.Errorf("expected 'HEY!', got %q", result)
	}
}

func TestEngineRenderFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "greeting.tmpl")
	if err := os.WriteFile(path, []byte("hi {{ name }}"), 0644); err != nil {
		t.Fatal(err)
	}

	engine := NewEngine()
	result, err := engine.RenderFile(path, map[string]interface{}{"name": "file"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result != "hi file" {
		t.Errorf("expected 'hi file', got %q", result)
	}
}

func TestEngineRenderUndefinedVariableErrors(t *testing.T) {
	engine := NewEngine()
	_, err := engine.Render("{{ missing }}", map[string]interface{}{})
	if err == nil {
		t.Fatal("expected an error for an undefined variable")
	}
}
