package richtext

import (
	"strings"

	"counsel/api/internal/anchor"
	"counsel/api/internal/domain"
)

// Apply returns a copy of n with op applied, such that
// Project(result) == op.ApplyText(Project(n)).
func Apply(n *Node, op anchor.Op) (*Node, error) {
	if err := Validate(n); err != nil {
		return nil, err
	}
	if err := op.Validate(Len(n)); err != nil {
		return nil, err
	}
	out := n.Clone()
	switch op.Kind {
	case anchor.KindInsert:
		if strings.ContainsAny(op.Text, "\n\r") {
			return nil, domain.Invalid("text", "line breaks cannot be inserted as text; submit the edited content instead")
		}
		applyInsert(out, op.Offset, op.Text)
	case anchor.KindDelete:
		applyDelete(out, op.Offset, op.Offset+op.Length)
	}
	return out, nil
}

func applyInsert(root *Node, offset int, text string) {
	blocks := collectBlocks(root)
	if len(blocks) == 0 {
		root.Content = append(root.Content, &Node{Type: TypeParagraph})
		blocks = collectBlocks(root)
	}
	blk := blocks[blockAt(blocks, offset)]
	insertInline(blk.node, offset-blk.start, text)
}

func insertInline(blk *Node, x int, text string) {
	pos := 0
	for _, child := range blk.Content {
		l := inlineLen(child)
		if child.Type == TypeText && pos <= x && x <= pos+l {
			runes := []rune(child.Text)
			k := x - pos
			child.Text = string(runes[:k]) + text + string(runes[k:])
			return
		}
		pos += l
	}

	idx := len(blk.Content)
	pos = 0
	for i, child := range blk.Content {
		if pos >= x && inlineLen(child) > 0 {
			idx = i
			break
		}
		pos += inlineLen(child)
	}
	node := &Node{Type: TypeText, Text: text}
	blk.Content = append(blk.Content[:idx], append([]*Node{node}, blk.Content[idx:]...)...)
}

func applyDelete(root *Node, from, to int) {
	blocks := collectBlocks(root)
	i, j := blockAt(blocks, from), blockAt(blocks, to)
	first, last := blocks[i], blocks[j]

	if i == j {
		deleteInline(first.node, from-first.start, to-first.start)
	} else {
		deleteInline(first.node, from-first.start, first.length)
		deleteInline(last.node, 0, to-last.start)
		first.node.Content = append(first.node.Content, last.node.Content...)
		for _, blk := range blocks[i+1 : j+1] {
			removeChild(blk.parent, blk.node)
		}
	}
	prune(root)
	if len(root.Content) == 0 {
		root.Content = []*Node{{Type: TypeParagraph}}
	}
}

func deleteInline(blk *Node, from, to int) {
	kept := blk.Content[:0]
	pos := 0
	for _, child := range blk.Content {
		l := inlineLen(child)
		start, end := pos, pos+l
		pos = end
		switch {
		case child.Type == TypeText:
			if end <= from || start >= to {
				kept = append(kept, child)
				continue
			}
			runes := []rune(child.Text)
			lo := max(from-start, 0)
			hi := min(to-start, l)
			rest := string(runes[:lo]) + string(runes[hi:])
			if rest == "" {
				continue
			}
			child.Text = rest
			kept = append(kept, child)
		case l > 0:
			if start >= from && end <= to {
				continue
			}
			kept = append(kept, child)
		default:
			if start > from && start < to {
				continue
			}
			kept = append(kept, child)
		}
	}
	if len(kept) == 0 {
		blk.Content = nil
		return
	}
	blk.Content = kept
}

func removeChild(parent, child *Node) {
	if parent == nil {
		return
	}
	for idx, c := range parent.Content {
		if c == child {
			parent.Content = append(parent.Content[:idx], parent.Content[idx+1:]...)
			return
		}
	}
}

// prune drops containers left without children. It reports whether n survives.
func prune(n *Node) bool {
	if len(n.Content) > 0 {
		kept := n.Content[:0]
		for _, child := range n.Content {
			if prune(child) {
				kept = append(kept, child)
			}
		}
		n.Content = kept
	}
	return !(containers[n.Type] && len(n.Content) == 0)
}
