package template

import (
	"fmt"
	"strings"
)

type segmentKind int

const (
	segText segmentKind = iota
	segOutput
	segTag
	segComment
)

type segment struct {
	kind       segmentKind
	value      string // raw text, or expr/tag body
	trimLeft   bool
	trimRight  bool
}

// lexTemplate splits raw template source into text/output/tag/comment
// segments, recognising the whitespace-trim variants ({%- -%}, {{- -}},
// {#- -#}).
func lexTemplate(src string) ([]segment, error) {
	var segs []segment
	i := 0
	n := len(src)
	textStart := 0

	flush := func(end int) {
		if end > textStart {
			segs = append(segs, segment{kind: segText, value: src[textStart:end]})
		}
	}

	for i < n {
		if strings.HasPrefix(src[i:], "{{") || strings.HasPrefix(src[i:], "{%") || strings.HasPrefix(src[i:], "{#") {
			open := src[i : i+2]
			flush(i)
			i += 2
			trimLeft := false
			if i < n && src[i] == '-' {
				trimLeft = true
				i++
			}
			var close string
			var kind segmentKind
			switch open {
			case "{{":
				close = "}}"
				kind = segOutput
			case "{%":
				close = "%}"
				kind = segTag
			default:
				close = "#}"
				kind = segComment
			}
			end := strings.Index(src[i:], close)
			if end < 0 {
				return nil, fmt.Errorf("unterminated %q directive", open)
			}
			body := src[i : i+end]
			trimRight := false
			if strings.HasSuffix(body, "-") {
				trimRight = true
				body = body[:len(body)-1]
			}
			segs = append(segs, segment{kind: kind, value: strings.TrimSpace(body), trimLeft: trimLeft, trimRight: trimRight})
			i += end + len(close)
			textStart = i
			continue
		}
		i++
	}
	flush(n)

	applyWhitespaceTrim(segs)
	return segs, nil
}

// applyWhitespaceTrim strips the text segment immediately before a
// trim-left directive and immediately after a trim-right directive.
func applyWhitespaceTrim(segs []segment) {
	for idx, s := range segs {
		if s.trimLeft && idx > 0 && segs[idx-1].kind == segText {
			segs[idx-1].value = strings.TrimRight(segs[idx-1].value, " \t\r\n")
		}
		if s.trimRight && idx < len(segs)-1 && segs[idx+1].kind == segText {
			segs[idx+1].value = strings.TrimLeft(segs[idx+1].value, " \t\r\n")
		}
	}
}
