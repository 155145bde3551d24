// Package anchor maps comment ranges recorded at one document revision onto
// later revisions by replaying the edit log.
package anchor

import (
	"fmt"

	"counsel/api/internal/domain"
)

// Anchor is a half-open rune range [Start, End) in the projection of the
// document at Revision.
type Anchor struct {
	Start    int   `json:"start"`
	End      int   `json:"end"`
	Revision int64 `json:"revision"`
}

type Status string

const (
	StatusResolved    Status = "resolved"
	StatusUnlocatable Status = "unlocatable"
)

// Result is where an anchor lands after replay. Start and End are zero when
// the status is unlocatable.
type Result struct {
	Status Status `json:"status"`
	Start  int    `json:"start"`
	End    int    `json:"end"`
}

func (r Result) Locatable() bool { return r.Status == StatusResolved }

// Excerpt returns the anchored slice of text, or "" when unlocatable or out of range.
func (r Result) Excerpt(text string) string {
	if !r.Locatable() {
		return ""
	}
	runes := []rune(text)
	if r.Start < 0 || r.End > len(runes) || r.Start >= r.End {
		return ""
	}
	return string(runes[r.Start:r.End])
}

// Validate enforces 0 <= Start < End <= textLen for a newly created anchor.
func Validate(a Anchor, textLen int) error {
	if a.Start < 0 {
		return domain.Invalid("startIndex", "startIndex must not be negative")
	}
	if a.End <= a.Start {
		return domain.Invalid("endIndex", "endIndex must be greater than startIndex")
	}
	if a.End > textLen {
		return domain.Invalid("endIndex", fmt.Sprintf("endIndex %d exceeds document length %d", a.End, textLen))
	}
	return nil
}

// Resolve replays ops, given in revision order and all newer than a.Revision,
// over the anchor's range. Once a deletion collapses the range the anchor stays
// unlocatable.
func Resolve(a Anchor, ops []Op) Result {
	start, end := a.Start, a.End
	for _, op := range ops {
		switch op.Kind {
		case KindInsert:
			n := op.Size()
			switch {
			case op.Offset <= start:
				start += n
				end += n
			case op.Offset < end:
				end += n
			}
		case KindDelete:
			from, to := op.Offset, op.Offset+op.Length
			start = mapDeleted(start, from, to)
			end = mapDeleted(end, from, to)
			if start >= end {
				return Result{Status: StatusUnlocatable}
			}
		}
	}
	return Result{Status: StatusResolved, Start: start, End: end}
}

func mapDeleted(x, from, to int) int {
	switch {
	case x <= from:
		return x
	case x <= to:
		return from
	default:
		return x - (to - from)
	}
}
