// Package richtext parses TipTap/ProseMirror document trees and maps them to
// and from their plain-text projection.
package richtext

import (
	"encoding/json"
	"fmt"
	"strings"

	"counsel/api/internal/domain"
)

// Node is one node of a ProseMirror JSON tree.
type Node struct {
	Type    string         `json:"type"`
	Attrs   map[string]any `json:"attrs,omitempty"`
	Content []*Node        `json:"content,omitempty"`
	Text    string         `json:"text,omitempty"`
	Marks   []Mark         `json:"marks,omitempty"`
}

type Mark struct {
	Type  string         `json:"type"`
	Attrs map[string]any `json:"attrs,omitempty"`
}

const (
	TypeDoc       = "doc"
	TypeParagraph = "paragraph"
	TypeText      = "text"
	TypeHardBreak = "hardBreak"
)

var textblocks = map[string]bool{
	TypeParagraph: true,
	"heading":     true,
	"codeBlock":   true,
}

// containers hold only blocks and are pruned when an edit empties them.
var containers = map[string]bool{
	"bulletList":  true,
	"orderedList": true,
	"listItem":    true,
	"taskList":    true,
	"taskItem":    true,
	"blockquote":  true,
	"table":       true,
	"tableRow":    true,
	"tableCell":   true,
	"tableHeader": true,
}

var knownMarks = map[string]bool{
	"bold":        true,
	"italic":      true,
	"underline":   true,
	"strike":      true,
	"code":        true,
	"link":        true,
	"highlight":   true,
	"subscript":   true,
	"superscript": true,
	"textStyle":   true,
}

func IsTextblock(n *Node) bool { return n != nil && textblocks[n.Type] }

// Empty is the content of a new document: one empty paragraph.
func Empty() *Node {
	return &Node{Type: TypeDoc, Content: []*Node{{Type: TypeParagraph}}}
}

// Parse decodes and validates a document tree.
func Parse(raw json.RawMessage) (*Node, error) {
	trimmed := strings.TrimSpace(string(raw))
	if trimmed == "" || trimmed == "null" {
		return nil, domain.Invalid("content", "content is required")
	}
	var root Node
	if err := json.Unmarshal(raw, &root); err != nil {
		return nil, domain.Invalid("content", fmt.Sprintf("content is not a document tree: %v", err))
	}
	if err := Validate(&root); err != nil {
		return nil, err
	}
	return &root, nil
}

// Validate checks that n is a well-formed document tree.
func Validate(n *Node) error {
	if n == nil || n.Type != TypeDoc {
		return domain.Invalid("content", "root node must be of type doc")
	}
	if err := validateNode(n, nil, "content"); err != nil {
		return err
	}
	return nil
}

func validateNode(n, parent *Node, path string) error {
	if n == nil {
		return domain.Invalid("content", path+": null node")
	}
	if n.Type == "" {
		return domain.Invalid("content", path+": node type is required")
	}
	if n.Type == TypeText {
		if n.Text == "" {
			return domain.Invalid("content", path+": text node must not be empty")
		}
		if len(n.Content) > 0 {
			return domain.Invalid("content", path+": text node must not have children")
		}
		for _, mark := range n.Marks {
			if !knownMarks[mark.Type] {
				return domain.Invalid("content", fmt.Sprintf("%s: unknown mark %q", path, mark.Type))
			}
			if mark.Type == "link" {
				if href, ok := mark.Attrs["href"].(string); !ok || href == "" {
					return domain.Invalid("content", path+": link mark requires href")
				}
			}
		}
	} else {
		if n.Text != "" {
			return domain.Invalid("content", fmt.Sprintf("%s: %s node must not carry text", path, n.Type))
		}
		if len(n.Marks) > 0 {
			return domain.Invalid("content", fmt.Sprintf("%s: marks are only allowed on text nodes", path))
		}
	}
	if n.Type == TypeText || n.Type == TypeHardBreak {
		if !IsTextblock(parent) {
			return domain.Invalid("content", fmt.Sprintf("%s: %s must be inside a paragraph, heading or code block", path, n.Type))
		}
	}
	if n.Type == TypeDoc && parent != nil {
		return domain.Invalid("content", path+": nested doc node")
	}
	for i, child := range n.Content {
		if err := validateNode(child, n, fmt.Sprintf("%s[%d]", path, i)); err != nil {
			return err
		}
	}
	return nil
}

// Clone deep-copies the tree. Attribute maps are copied one level deep.
func (n *Node) Clone() *Node {
	if n == nil {
		return nil
	}
	out := &Node{Type: n.Type, Text: n.Text, Attrs: copyAttrs(n.Attrs)}
	if len(n.Marks) > 0 {
		out.Marks = make([]Mark, len(n.Marks))
		for i, m := range n.Marks {
			out.Marks[i] = Mark{Type: m.Type, Attrs: copyAttrs(m.Attrs)}
		}
	}
	if len(n.Content) > 0 {
		out.Content = make([]*Node, len(n.Content))
		for i, c := range n.Content {
			out.Content[i] = c.Clone()
		}
	}
	return out
}

func copyAttrs(in map[string]any) map[string]any {
	if in == nil {
		return nil
	}
	out := make(map[string]any, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}

// JSON marshals the tree. Node trees always marshal.
func (n *Node) JSON() json.RawMessage {
	raw, _ := json.Marshal(n)
	return raw
}
