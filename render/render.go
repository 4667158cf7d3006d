package render

import "fmt"

// DisplayLine is an ordered pair (indent depth, text): the unit a hardware
// screen renders, one line at a time.
type DisplayLine struct {
	Indent int
	Text   string
}

func scalarText(d *Document, n *node) string {
	switch n.kind {
	case KindNull:
		return "null"
	case KindBool:
		if n.bl {
			return "true"
		}
		return "false"
	case KindNumber:
		return n.num.String()
	case KindString:
		return n.str
	default:
		return ""
	}
}

func isContainer(k NodeKind) bool { return k == KindArray || k == KindObject }

// pending is one unit of flatten work: render node idx at the given indent,
// with label already resolved to how it should prefix the node's own text
// (an object key "k:", an array index "[i]", or "" for the root node).
type pending struct {
	idx    int
	indent int
	label  string
}

// Flatten walks doc with an explicit stack (never recursion, since doc's
// depth is attacker-controlled) and returns the ordered display lines,
// hard-wrapping any scalar string whose rendered text exceeds width.
func Flatten(doc *Document, width int) []DisplayLine {
	var lines []DisplayLine
	stack := []pending{{idx: doc.root, indent: 0, label: ""}}

	for len(stack) > 0 {
		cur := stack[len(stack)-1]
		stack = stack[:len(stack)-1]

		n := &doc.nodes[cur.idx]
		if isContainer(n.kind) {
			if cur.label != "" {
				lines = append(lines, wrapLine(cur.indent, cur.label, width)...)
			}
			childIndent := cur.indent
			if cur.label != "" {
				childIndent++
			}
			children := collectChildren(doc, cur.idx)
			// push in reverse so the first child is popped (processed) first
			for i := len(children) - 1; i >= 0; i-- {
				c := &doc.nodes[children[i]]
				var label string
				if n.kind == KindObject {
					label = c.key + ":"
				} else {
					label = fmt.Sprintf("[%d]", i)
				}
				stack = append(stack, pending{idx: children[i], indent: childIndent, label: label})
			}
			continue
		}

		text := scalarText(doc, n)
		var full string
		switch {
		case cur.label == "":
			full = text
		default:
			full = joinLabelValue(cur.label, text)
		}
		lines = append(lines, wrapLine(cur.indent, full, width)...)
	}
	return lines
}

// joinLabelValue combines a label ("k:" or "[i]") with a scalar's text as
// "k: value" / "[i] value".
func joinLabelValue(label, text string) string {
	return label + " " + text
}

func collectChildren(doc *Document, containerIdx int) []int {
	var out []int
	for c := doc.nodes[containerIdx].firstChild; c != -1; c = doc.nodes[c].nextChild {
		out = append(out, c)
	}
	return out
}

// wrapLine hard-wraps text at width (a rune count) with fixed, unhyphenated
// wrap points: text is simply cut every width runes. width <= 0 disables
// wrapping (used by callers that only care about the logical line count).
func wrapLine(indent int, text string, width int) []DisplayLine {
	if width <= 0 {
		return []DisplayLine{{Indent: indent, Text: text}}
	}
	runes := []rune(text)
	if len(runes) <= width {
		return []DisplayLine{{Indent: indent, Text: text}}
	}
	var out []DisplayLine
	for len(runes) > 0 {
		n := width
		if n > len(runes) {
			n = len(runes)
		}
		out = append(out, DisplayLine{Indent: indent, Text: string(runes[:n])})
		runes = runes[n:]
	}
	return out
}
