package template

import (
	"fmt"
	"strings"

	"github.com/nexuscfg/nexus/pkg/types"
)

// renderTemplate is the full pipeline for one template source: preprocess
// (collect macros/blocks, strip comments — both handled during parsing),
// inheritance expansion, then top-down node rendering (includes, loops,
// conditionals, macro calls, {{ expr }} substitution).
func (e *evaluator) renderTemplate(nodes []Node, scope *Scope) (string, error) {
	nodes, err := e.expandExtends(nodes, scope, nil)
	if err != nil {
		return "", err
	}
	e.collectMacros(nodes, scope)
	var sb strings.Builder
	if err := e.renderNodes(nodes, scope, &sb); err != nil {
		return "", err
	}
	return sb.String(), nil
}

// expandExtends resolves a chain of {% extends %} templates: the root
// (non-extending) template's nodes are returned with its {% block %}
// nodes overridden by whichever descendant last defined that block name.
func (e *evaluator) expandExtends(nodes []Node, scope *Scope, overrides map[string][]Node) ([]Node, error) {
	if overrides == nil {
		overrides = make(map[string][]Node)
	}
	var extends *extendsNode
	for _, n := range nodes {
		switch v := n.(type) {
		case extendsNode:
			cp := v
			extends = &cp
		case blockNode:
			if _, exists := overrides[v.name]; !exists {
				overrides[v.name] = v.body
			}
		}
	}
	if extends == nil {
		return applyBlockOverrides(nodes, overrides), nil
	}
	if e.includer == nil {
		return nil, fmt.Errorf("extends used but no template loader is configured")
	}
	parentName, err := e.eval(extends.parent, scope)
	if err != nil {
		return nil, err
	}
	parentSrc, err := e.includer(types.ConvertToString(parentName))
	if err != nil {
		return nil, err
	}
	parentNodes, err := ParseTemplate(parentSrc)
	if err != nil {
		return nil, err
	}
	return e.expandExtends(parentNodes, scope, overrides)
}

func applyBlockOverrides(nodes []Node, overrides map[string][]Node) []Node {
	out := make([]Node, len(nodes))
	for i, n := range nodes {
		if b, ok := n.(blockNode); ok {
			if override, exists := overrides[b.name]; exists {
				out[i] = blockNode{name: b.name, body: applyBlockOverrides(override, overrides)}
				continue
			}
		}
		out[i] = n
	}
	return out
}

func (e *evaluator) collectMacros(nodes []Node, scope *Scope) {
	for _, n := range nodes {
		if m, ok := n.(macroNode); ok {
			cp := m
			scope.defineMacro(&cp)
		}
	}
}

func (e *evaluator) renderNodes(nodes []Node, scope *Scope, sb *strings.Builder) error {
	for _, n := range nodes {
		if err := e.renderNode(n, scope, sb); err != nil {
			return err
		}
	}
	return nil
}

func (e *evaluator) renderNode(n Node, scope *Scope, sb *strings.Builder) error {
	switch node := n.(type) {
	case textNode:
		sb.WriteString(node.value)
	case outputNode:
		v, err := e.eval(node.expr, scope)
		if err != nil {
			return err
		}
		sb.WriteString(types.ConvertToString(v))
	case ifNode:
		for _, branch := range node.branches {
			cond, err := e.eval(branch.cond, scope)
			if err != nil {
				return err
			}
			if types.ConvertToBool(cond) {
				return e.renderNodes(branch.body, scope, sb)
			}
		}
		return e.renderNodes(node.elseBody, scope, sb)
	case forNode:
		return e.renderFor(node, scope, sb)
	case includeNode:
		return e.renderInclude(node, scope, sb)
	case macroNode:
		// already collected by collectMacros; nothing to emit
	case blockNode:
		return e.renderNodes(node.body, scope, sb)
	case extendsNode:
		// consumed during expandExtends
	default:
		return fmt.Errorf("unsupported template node %T", n)
	}
	return nil
}

func (e *evaluator) renderFor(node forNode, scope *Scope, sb *strings.Builder) error {
	listVal, err := e.eval(node.listExpr, scope)
	if err != nil {
		return err
	}
	items, keys := iterationItems(listVal)
	length := len(items)
	for i, item := range items {
		loopVars := map[string]interface{}{
			node.varName: item,
			"loop": map[string]interface{}{
				"index":     i + 1,
				"index0":    i,
				"revindex":  length - i,
				"revindex0": length - i - 1,
				"first":     i == 0,
				"last":      i == length-1,
				"length":    length,
			},
		}
		if node.keyName != "" && keys != nil {
			loopVars[node.keyName] = keys[i]
		}
		childScope := scope.child(loopVars)
		if err := e.renderNodes(node.body, childScope, sb); err != nil {
			return err
		}
	}
	return nil
}

// iterationItems normalizes a for-loop target into a slice of values plus,
// for map iteration (for k, v in dict.items()), the parallel slice of keys.
func iterationItems(v interface{}) (items []interface{}, keys []interface{}) {
	switch val := v.(type) {
	case []interface{}:
		return val, nil
	case map[string]interface{}:
		ks := sortedKeys(val)
		items = make([]interface{}, 0, len(ks))
		keys = make([]interface{}, 0, len(ks))
		for _, k := range ks {
			keys = append(keys, k)
			items = append(items, val[k])
		}
		return items, keys
	case string:
		items = make([]interface{}, 0, len(val))
		for _, r := range val {
			items = append(items, string(r))
		}
		return items, nil
	case nil:
		return nil, nil
	default:
		return []interface{}{val}, nil
	}
}

func (e *evaluator) renderInclude(node includeNode, scope *Scope, sb *strings.Builder) error {
	if e.includer == nil {
		return fmt.Errorf("include used but no template loader is configured")
	}
	nameVal, err := e.eval(node.name, scope)
	if err != nil {
		return err
	}
	src, err := e.includer(types.ConvertToString(nameVal))
	if err != nil {
		return err
	}
	nodes, err := ParseTemplate(src)
	if err != nil {
		return err
	}
	rendered, err := e.renderTemplate(nodes, scope)
	if err != nil {
		return err
	}
	sb.WriteString(rendered)
	return nil
}
