package tokens

import "sort"

// Annotation records that a token position is a prediction target.
type Annotation struct {
	Idx        int    `json:"idx"`
	TargetID   int    `json:"target_id"`
	TargetText string `json:"target_text"`
}

func (a Annotation) HasTarget() bool {
	return a.TargetID >= 0
}

// Annotations is the ordered annotation list stored on a completion.
// Methods never mutate the receiver; they return the updated list.
type Annotations []Annotation

func (as Annotations) Indices() []int {
	out := make([]int, len(as))
	for i, a := range as {
		out[i] = a.Idx
	}
	return out
}

func (as Annotations) Has(idx int) bool {
	for _, a := range as {
		if a.Idx == idx {
			return true
		}
	}
	return false
}

// HasTargets reports whether any annotation carries a chosen target.
func (as Annotations) HasTargets() bool {
	for _, a := range as {
		if a.HasTarget() {
			return true
		}
	}
	return false
}

// Remove drops every annotation whose index is in idxs.
func (as Annotations) Remove(idxs ...int) Annotations {
	if len(idxs) == 0 {
		return as
	}
	drop := make(map[int]struct{}, len(idxs))
	for _, idx := range idxs {
		drop[idx] = struct{}{}
	}
	return as.Prune(func(idx int) bool {
		_, ok := drop[idx]
		return !ok
	})
}

// Prune keeps only annotations whose index satisfies keep.
func (as Annotations) Prune(keep func(int) bool) Annotations {
	out := make(Annotations, 0, len(as))
	for _, a := range as {
		if keep(a.Idx) {
			out = append(out, a)
		}
	}
	return out
}

// Materialize appends an unset annotation for every highlighted index that is
// not yet annotated. Existing annotations are kept as they are, so applying it
// twice with the same input is a no-op. New entries are appended in ascending
// index order.
func (as Annotations) Materialize(highlighted []int) (Annotations, int) {
	sorted := append([]int(nil), highlighted...)
	sort.Ints(sorted)
	out := append(Annotations(nil), as...)
	added := 0
	for i, idx := range sorted {
		if i > 0 && sorted[i-1] == idx {
			continue
		}
		if out.Has(idx) {
			continue
		}
		out = append(out, Annotation{Idx: idx, TargetID: NoTarget})
		added++
	}
	return out, added
}

// SetTarget sets the target of the annotation at idx, creating it if needed.
func (as Annotations) SetTarget(idx, targetID int, targetText string) Annotations {
	out := append(Annotations(nil), as...)
	for i := range out {
		if out[i].Idx == idx {
			out[i].TargetID = targetID
			out[i].TargetText = targetText
			return out
		}
	}
	return append(out, Annotation{Idx: idx, TargetID: targetID, TargetText: targetText})
}
