package template

import (
	"fmt"
	"strings"
)

// ParseTemplate parses template source into a tree of Nodes.
func ParseTemplate(src string) ([]Node, error) {
	segs, err := lexTemplate(src)
	if err != nil {
		return nil, err
	}
	p := &templateParser{segs: segs}
	nodes, err := p.parseBody(nil)
	if err != nil {
		return nil, err
	}
	if p.pos != len(p.segs) {
		return nil, fmt.Errorf("unexpected trailing template content")
	}
	return nodes, nil
}

type templateParser struct {
	segs []segment
	pos  int
}

func (p *templateParser) cur() (segment, bool) {
	if p.pos >= len(p.segs) {
		return segment{}, false
	}
	return p.segs[p.pos], true
}

// parseBody consumes segments until EOF or a tag whose name is in stop,
// returning the accumulated nodes. It does not consume the stop tag itself.
func (p *templateParser) parseBody(stop map[string]bool) ([]Node, error) {
	var nodes []Node
	for {
		seg, ok := p.cur()
		if !ok {
			return nodes, nil
		}
		switch seg.kind {
		case segText:
			nodes = append(nodes, textNode{value: seg.value})
			p.pos++
		case segComment:
			p.pos++
		case segOutput:
			expr, err := ParseExpression(seg.value)
			if err != nil {
				return nil, err
			}
			nodes = append(nodes, outputNode{expr: expr})
			p.pos++
		case segTag:
			name, rest := splitTag(seg.value)
			if stop != nil && stop[name] {
				return nodes, nil
			}
			node, err := p.parseTag(name, rest)
			if err != nil {
				return nil, err
			}
			nodes = append(nodes, node)
		}
	}
}

func splitTag(body string) (name, rest string) {
	body = strings.TrimSpace(body)
	idx := strings.IndexAny(body, " \t\n")
	if idx < 0 {
		return body, ""
	}
	return body[:idx], strings.TrimSpace(body[idx:])
}

func (p *templateParser) parseTag(name, rest string) (Node, error) {
	switch name {
	case "if":
		return p.parseIf(rest)
	case "for":
		return p.parseFor(rest)
	case "include":
		expr, err := ParseExpression(rest)
		if err != nil {
			return nil, err
		}
		p.pos++
		return includeNode{name: expr}, nil
	case "macro":
		return p.parseMacro(rest)
	case "extends":
		expr, err := ParseExpression(rest)
		if err != nil {
			return nil, err
		}
		p.pos++
		return extendsNode{parent: expr}, nil
	case "block":
		p.pos++
		body, err := p.parseBody(map[string]bool{"endblock": true})
		if err != nil {
			return nil, err
		}
		if err := p.expectTag("endblock"); err != nil {
			return nil, err
		}
		return blockNode{name: strings.TrimSpace(rest), body: body}, nil
	default:
		return nil, fmt.Errorf("unknown template tag '%s'", name)
	}
}

func (p *templateParser) expectTag(name string) error {
	seg, ok := p.cur()
	if !ok || seg.kind != segTag {
		return fmt.Errorf("expected {%% %s %%}", name)
	}
	got, _ := splitTag(seg.value)
	if got != name {
		return fmt.Errorf("expected {%% %s %%}, got {%% %s %%}", name, got)
	}
	p.pos++
	return nil
}

func (p *templateParser) parseIf(cond string) (Node, error) {
	p.pos++ // consume the `if` tag
	expr, err := ParseExpression(cond)
	if err != nil {
		return nil, err
	}
	body, err := p.parseBody(map[string]bool{"elif": true, "else": true, "endif": true})
	if err != nil {
		return nil, err
	}
	node := ifNode{branches: []ifBranch{{cond: expr, body: body}}}

	for {
		seg, ok := p.cur()
		if !ok {
			return nil, fmt.Errorf("expected {%% endif %%}")
		}
		tagName, tagRest := splitTag(seg.value)
		switch tagName {
		case "elif":
			p.pos++
			elifExpr, err := ParseExpression(tagRest)
			if err != nil {
				return nil, err
			}
			elifBody, err := p.parseBody(map[string]bool{"elif": true, "else": true, "endif": true})
			if err != nil {
				return nil, err
			}
			node.branches = append(node.branches, ifBranch{cond: elifExpr, body: elifBody})
		case "else":
			p.pos++
			elseBody, err := p.parseBody(map[string]bool{"endif": true})
			if err != nil {
				return nil, err
			}
			node.elseBody = elseBody
		case "endif":
			p.pos++
			return node, nil
		default:
			return nil, fmt.Errorf("expected elif/else/endif, got '%s'", tagName)
		}
	}
}

func (p *templateParser) parseFor(clause string) (Node, error) {
	p.pos++
	varPart, listPart, err := splitForClause(clause)
	if err != nil {
		return nil, err
	}
	listExpr, err := ParseExpression(listPart)
	if err != nil {
		return nil, err
	}
	body, err := p.parseBody(map[string]bool{"endfor": true})
	if err != nil {
		return nil, err
	}
	if err := p.expectTag("endfor"); err != nil {
		return nil, err
	}
	node := forNode{listExpr: listExpr, body: body}
	if strings.Contains(varPart, ",") {
		parts := strings.SplitN(varPart, ",", 2)
		node.keyName = strings.TrimSpace(parts[0])
		node.varName = strings.TrimSpace(parts[1])
	} else {
		node.varName = strings.TrimSpace(varPart)
	}
	return node, nil
}

func splitForClause(clause string) (varPart, listPart string, err error) {
	idx := strings.Index(clause, " in ")
	if idx < 0 {
		return "", "", fmt.Errorf("malformed for clause '%s': expected 'x in list'", clause)
	}
	return clause[:idx], strings.TrimSpace(clause[idx+4:]), nil
}

func (p *templateParser) parseMacro(signature string) (Node, error) {
	p.pos++
	name, params, defs, err := parseMacroSignature(signature)
	if err != nil {
		return nil, err
	}
	body, err := p.parseBody(map[string]bool{"endmacro": true})
	if err != nil {
		return nil, err
	}
	if err := p.expectTag("endmacro"); err != nil {
		return nil, err
	}
	return macroNode{name: name, params: params, defs: defs, body: body}, nil
}

func parseMacroSignature(sig string) (name string, params []string, defs map[string]Expr, err error) {
	open := strings.Index(sig, "(")
	close := strings.LastIndex(sig, ")")
	if open < 0 || close < open {
		return "", nil, nil, fmt.Errorf("malformed macro signature '%s'", sig)
	}
	name = strings.TrimSpace(sig[:open])
	argsStr := sig[open+1 : close]
	defs = make(map[string]Expr)
	if strings.TrimSpace(argsStr) == "" {
		return name, nil, defs, nil
	}
	for _, part := range strings.Split(argsStr, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		if eq := strings.Index(part, "="); eq >= 0 {
			pname := strings.TrimSpace(part[:eq])
			defExpr, err := ParseExpression(strings.TrimSpace(part[eq+1:]))
			if err != nil {
				return "", nil, nil, err
			}
			params = append(params, pname)
			defs[pname] = defExpr
		} else {
			params = append(params, part)
		}
	}
	return name, params, defs, nil
}
