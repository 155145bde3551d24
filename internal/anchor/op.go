package anchor

import (
	"fmt"
	"unicode/utf8"

	"counsel/api/internal/domain"
)

type Kind string

const (
	KindInsert Kind = "insert"
	KindDelete Kind = "delete"
)

// Op is a plain-text edit against the projection of a document. Offsets count runes.
type Op struct {
	Kind   Kind   `json:"kind"`
	Offset int    `json:"offset"`
	Text   string `json:"text,omitempty"`
	Length int    `json:"length,omitempty"`
}

func Insert(offset int, text string) Op {
	return Op{Kind: KindInsert, Offset: offset, Text: text}
}

func Delete(offset, length int) Op {
	return Op{Kind: KindDelete, Offset: offset, Length: length}
}

// Size is the number of runes the op adds or removes.
func (o Op) Size() int {
	if o.Kind == KindInsert {
		return utf8.RuneCountInString(o.Text)
	}
	return o.Length
}

// Validate checks the op against a projection of textLen runes.
func (o Op) Validate(textLen int) error {
	switch o.Kind {
	case KindInsert:
		if o.Text == "" {
			return domain.Invalid("text", "insert text is required")
		}
		if !utf8.ValidString(o.Text) {
			return domain.Invalid("text", "insert text must be valid UTF-8")
		}
		if o.Offset < 0 || o.Offset > textLen {
			return domain.Invalid("offset", fmt.Sprintf("offset %d outside [0,%d]", o.Offset, textLen))
		}
	case KindDelete:
		if o.Length <= 0 {
			return domain.Invalid("length", "delete length must be positive")
		}
		if o.Offset < 0 || o.Offset+o.Length > textLen {
			return domain.Invalid("offset", fmt.Sprintf("delete [%d,%d) outside [0,%d]", o.Offset, o.Offset+o.Length, textLen))
		}
	default:
		return domain.Invalid("kind", fmt.Sprintf("unknown op kind %q", o.Kind))
	}
	return nil
}

// ApplyText applies the op to a plain string. The op must already be valid for s.
func (o Op) ApplyText(s string) string {
	runes := []rune(s)
	switch o.Kind {
	case KindInsert:
		out := make([]rune, 0, len(runes)+o.Size())
		out = append(out, runes[:o.Offset]...)
		out = append(out, []rune(o.Text)...)
		return string(append(out, runes[o.Offset:]...))
	case KindDelete:
		out := make([]rune, 0, len(runes)-o.Length)
		out = append(out, runes[:o.Offset]...)
		return string(append(out, runes[o.Offset+o.Length:]...))
	}
	return s
}
