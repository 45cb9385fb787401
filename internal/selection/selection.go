// Package selection turns pointer gestures over a token strip into a set of
// highlighted token indices and the contiguous groups derived from it.
package selection

import "sort"

// NoToken is passed for pointer events that are not over any token.
const NoToken = -1

type Button int

const (
	ButtonPrimary Button = iota
	ButtonSecondary
	ButtonMiddle
)

type Modifiers uint8

const (
	ModCtrl Modifiers = 1 << iota
	ModMeta
	ModShift
)

// Additive reports whether the modifiers extend the selection instead of
// replacing it.
func (m Modifiers) Additive() bool {
	return m&(ModCtrl|ModMeta|ModShift) != 0
}

// Group is a maximal run of consecutive highlighted indices.
type Group struct {
	Start int
	End   int // inclusive
}

func (g Group) Len() int { return g.End - g.Start + 1 }

// GroupInfo describes one token's place in the highlight.
type GroupInfo struct {
	Highlighted bool
	GroupID     int // start index of the group, -1 when not highlighted
	Start       bool
	End         bool
}

// Engine holds the highlight of one completion and the drag state of the
// gesture in progress. It never touches annotation storage; operations that
// detach annotations return the affected indices.
type Engine struct {
	highlighted map[int]struct{}
	n           int
	generation  uint64

	selecting bool
	anchor    int
	base      map[int]struct{} // highlight at the start of the drag
}

// New restores the highlight from the indices of existing annotations.
// n is the current token count, or -1 when the completion has not been
// tokenized yet and indices cannot be range checked.
func New(n int, annotated []int) *Engine {
	e := &Engine{
		highlighted: make(map[int]struct{}, len(annotated)),
		n:           n,
		anchor:      NoToken,
	}
	for _, idx := range annotated {
		if idx < 0 || (n >= 0 && idx >= n) {
			continue
		}
		e.highlighted[idx] = struct{}{}
	}
	return e
}

func (e *Engine) Generation() uint64 { return e.generation }

// Len is the number of highlighted indices.
func (e *Engine) Len() int { return len(e.highlighted) }

func (e *Engine) IsHighlighted(idx int) bool {
	_, ok := e.highlighted[idx]
	return ok
}

// Selecting reports whether a drag is in progress.
func (e *Engine) Selecting() bool { return e.selecting }

// Highlighted returns the highlighted indices in ascending order.
func (e *Engine) Highlighted() []int {
	out := make([]int, 0, len(e.highlighted))
	for idx := range e.highlighted {
		out = append(out, idx)
	}
	sort.Ints(out)
	return out
}

func (e *Engine) inRange(idx int) bool {
	if idx < 0 {
		return false
	}
	return e.n < 0 || idx < e.n
}

// PointerDown starts a gesture on idx and returns the indices whose
// annotations must be removed.
func (e *Engine) PointerDown(idx int, button Button, mods Modifiers) []int {
	if button != ButtonPrimary || !e.inRange(idx) {
		return nil
	}
	if e.IsHighlighted(idx) {
		delete(e.highlighted, idx)
		e.endDrag()
		return []int{idx}
	}
	if mods.Additive() {
		e.highlighted[idx] = struct{}{}
		e.beginDrag(idx)
		return nil
	}
	var removed []int
	for _, prev := range e.Highlighted() {
		if prev != idx {
			removed = append(removed, prev)
		}
	}
	e.highlighted = map[int]struct{}{idx: {}}
	e.beginDrag(idx)
	return removed
}

func (e *Engine) beginDrag(anchor int) {
	e.selecting = true
	e.anchor = anchor
	e.base = make(map[int]struct{}, len(e.highlighted))
	for idx := range e.highlighted {
		e.base[idx] = struct{}{}
	}
}

func (e *Engine) endDrag() {
	e.selecting = false
	e.anchor = NoToken
	e.base = nil
}

// PointerMove extends the active drag to idx. Without modifiers the range
// anchor..idx replaces the highlight; with modifiers it is added to the
// highlight the drag started from.
func (e *Engine) PointerMove(idx int, mods Modifiers) {
	if !e.selecting || e.anchor == NoToken || !e.inRange(idx) {
		return
	}
	lo, hi := e.anchor, idx
	if lo > hi {
		lo, hi = hi, lo
	}
	next := make(map[int]struct{}, hi-lo+1)
	if mods.Additive() {
		for k := range e.base {
			next[k] = struct{}{}
		}
	}
	for i := lo; i <= hi; i++ {
		next[i] = struct{}{}
	}
	e.highlighted = next
}

// PointerUp ends the drag. The highlight is left as it is.
func (e *Engine) PointerUp() {
	e.endDrag()
}

// GroupInfo scans outward from idx, so the cost is the length of idx's group.
func (e *Engine) GroupInfo(idx int) GroupInfo {
	if !e.IsHighlighted(idx) {
		return GroupInfo{GroupID: -1}
	}
	start := idx
	for start > 0 && e.IsHighlighted(start-1) {
		start--
	}
	last := e.n - 1
	hasNext := e.IsHighlighted(idx+1) && (e.n < 0 || idx < last)
	return GroupInfo{
		Highlighted: true,
		GroupID:     start,
		Start:       start == idx,
		End:         !hasNext,
	}
}

// Groups returns every group in ascending order.
func (e *Engine) Groups() []Group {
	var out []Group
	for _, idx := range e.Highlighted() {
		if n := len(out); n > 0 && out[n-1].End == idx-1 {
			out[n-1].End = idx
			continue
		}
		out = append(out, Group{Start: idx, End: idx})
	}
	return out
}

// Stale returns the annotated indices that are no longer highlighted.
func (e *Engine) Stale(annotated []int) []int {
	var out []int
	for _, idx := range annotated {
		if !e.IsHighlighted(idx) {
			out = append(out, idx)
		}
	}
	return out
}

// Rebase moves the engine onto a new token model. Any drag is cancelled,
// since indices may now name different tokens, and highlighted indices that
// are out of range or rejected by keep are dropped and returned.
func (e *Engine) Rebase(generation uint64, n int, keep func(int) bool) []int {
	e.endDrag()
	e.generation = generation
	e.n = n
	var dropped []int
	for _, idx := range e.Highlighted() {
		if !e.inRange(idx) || (keep != nil && !keep(idx)) {
			delete(e.highlighted, idx)
			dropped = append(dropped, idx)
		}
	}
	return dropped
}

// Reset clears the highlight and any drag.
func (e *Engine) Reset() {
	e.endDrag()
	e.highlighted = make(map[int]struct{})
}
