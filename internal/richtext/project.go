package richtext

import (
	"strings"
	"unicode/utf8"
)

type blockRef struct {
	node   *Node
	parent *Node
	start  int
	length int
}

// Project returns the plain-text projection of a tree. Text nodes are
// concatenated in document order, each textblock after the first is preceded
// by a newline and hard breaks project to a newline.
func Project(n *Node) string {
	var b strings.Builder
	for i, blk := range collectBlocks(n) {
		if i > 0 {
			b.WriteByte('\n')
		}
		for _, child := range blk.node.Content {
			switch child.Type {
			case TypeText:
				b.WriteString(child.Text)
			case TypeHardBreak:
				b.WriteByte('\n')
			}
		}
	}
	return b.String()
}

// Len is the rune length of the projection.
func Len(n *Node) int {
	return utf8.RuneCountInString(Project(n))
}

func inlineLen(n *Node) int {
	switch n.Type {
	case TypeText:
		return utf8.RuneCountInString(n.Text)
	case TypeHardBreak:
		return 1
	}
	return 0
}

func collectBlocks(root *Node) []blockRef {
	var out []blockRef
	offset := 0
	var walk func(n, parent *Node)
	walk = func(n, parent *Node) {
		if IsTextblock(n) {
			if len(out) > 0 {
				offset++
			}
			length := 0
			for _, child := range n.Content {
				length += inlineLen(child)
			}
			out = append(out, blockRef{node: n, parent: parent, start: offset, length: length})
			offset += length
			return
		}
		for _, child := range n.Content {
			walk(child, n)
		}
	}
	if root != nil {
		walk(root, nil)
	}
	return out
}

// blockAt finds the textblock holding a projection offset. Offsets on a block
// boundary belong to the preceding block.
func blockAt(blocks []blockRef, offset int) int {
	for i, blk := range blocks {
		if offset <= blk.start+blk.length {
			return i
		}
	}
	return len(blocks) - 1
}
