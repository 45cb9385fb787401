package selection

import (
	"math/rand"
	"reflect"
	"testing"
)

func highlighted(t *testing.T, e *Engine, want ...int) {
	t.Helper()
	got := e.Highlighted()
	if len(want) == 0 {
		want = []int{}
	}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("highlighted = %v, want %v", got, want)
	}
}

func TestNewRestoresAnnotations(t *testing.T) {
	e := New(5, []int{3, 1, 9, -2})
	highlighted(t, e, 1, 3)

	untokenized := New(-1, []int{7, 2})
	highlighted(t, untokenized, 2, 7)
}

func TestPlainClickReplacesSelection(t *testing.T) {
	e := New(10, []int{0, 1, 2, 6})
	removed := e.PointerDown(4, ButtonPrimary, 0)
	highlighted(t, e, 4)
	if !reflect.DeepEqual(removed, []int{0, 1, 2, 6}) {
		t.Fatalf("removed = %v, want [0 1 2 6]", removed)
	}
	if !e.Selecting() {
		t.Fatalf("Selecting = false after PointerDown")
	}
}

func TestClickHighlightedRemovesOnlyThatToken(t *testing.T) {
	e := New(10, []int{1, 2, 3})
	removed := e.PointerDown(2, ButtonPrimary, 0)
	highlighted(t, e, 1, 3)
	if !reflect.DeepEqual(removed, []int{2}) {
		t.Fatalf("removed = %v, want [2]", removed)
	}
	e.PointerMove(5, 0)
	highlighted(t, e, 1, 3)
}

func TestModifierClickAdds(t *testing.T) {
	for _, mod := range []Modifiers{ModCtrl, ModMeta, ModShift} {
		e := New(10, []int{0})
		if removed := e.PointerDown(5, ButtonPrimary, mod); removed != nil {
			t.Fatalf("mod %d removed = %v, want none", mod, removed)
		}
		highlighted(t, e, 0, 5)
	}
}

func TestNonPrimaryButtonIgnored(t *testing.T) {
	e := New(10, []int{1})
	if removed := e.PointerDown(4, ButtonSecondary, 0); removed != nil {
		t.Fatalf("removed = %v", removed)
	}
	highlighted(t, e, 1)
	if e.Selecting() {
		t.Fatalf("secondary button started a drag")
	}
}

func TestEventsOutsideTokensAreNoops(t *testing.T) {
	e := New(4, []int{1})
	e.PointerDown(NoToken, ButtonPrimary, 0)
	e.PointerDown(4, ButtonPrimary, 0)
	highlighted(t, e, 1)
	e.PointerDown(2, ButtonPrimary, ModCtrl)
	e.PointerMove(NoToken, 0)
	highlighted(t, e, 1, 2)
}

func TestDragOrderIndependent(t *testing.T) {
	e := New(10, nil)
	e.PointerDown(2, ButtonPrimary, 0)
	e.PointerMove(5, 0)
	e.PointerUp()
	highlighted(t, e, 2, 3, 4, 5)

	e = New(10, nil)
	e.PointerDown(5, ButtonPrimary, 0)
	e.PointerMove(2, 0)
	e.PointerUp()
	highlighted(t, e, 2, 3, 4, 5)
}

func TestPlainDragShrinks(t *testing.T) {
	e := New(10, nil)
	e.PointerDown(2, ButtonPrimary, 0)
	e.PointerMove(7, 0)
	e.PointerMove(3, 0)
	highlighted(t, e, 2, 3)
}

func TestModifierDragUnionsPreDragSet(t *testing.T) {
	e := New(10, []int{0})
	e.PointerDown(3, ButtonPrimary, ModCtrl)
	e.PointerMove(4, ModCtrl)
	highlighted(t, e, 0, 3, 4)
	e.PointerMove(6, ModCtrl)
	e.PointerMove(4, ModCtrl)
	highlighted(t, e, 0, 3, 4)
}

func TestMoveWithoutDragIsNoop(t *testing.T) {
	e := New(10, []int{1})
	e.PointerMove(5, 0)
	highlighted(t, e, 1)
	e.PointerDown(2, ButtonPrimary, 0)
	e.PointerUp()
	e.PointerMove(6, 0)
	highlighted(t, e, 2)
}

func TestGroupInfo(t *testing.T) {
	e := New(8, []int{0, 1, 2, 5, 7})
	cases := []struct {
		idx  int
		want GroupInfo
	}{
		{0, GroupInfo{Highlighted: true, GroupID: 0, Start: true}},
		{1, GroupInfo{Highlighted: true, GroupID: 0}},
		{2, GroupInfo{Highlighted: true, GroupID: 0, End: true}},
		{3, GroupInfo{GroupID: -1}},
		{5, GroupInfo{Highlighted: true, GroupID: 5, Start: true, End: true}},
		{7, GroupInfo{Highlighted: true, GroupID: 7, Start: true, End: true}},
	}
	for _, tc := range cases {
		if got := e.GroupInfo(tc.idx); got != tc.want {
			t.Fatalf("GroupInfo(%d) = %+v, want %+v", tc.idx, got, tc.want)
		}
	}
	groups := e.Groups()
	want := []Group{{0, 2}, {5, 5}, {7, 7}}
	if !reflect.DeepEqual(groups, want) {
		t.Fatalf("Groups = %v, want %v", groups, want)
	}
}

func TestGroupsPartitionHighlight(t *testing.T) {
	rng := rand.New(rand.NewSource(7))
	for iter := 0; iter < 200; iter++ {
		n := 1 + rng.Intn(40)
		var idxs []int
		for i := 0; i < n; i++ {
			if rng.Intn(2) == 0 {
				idxs = append(idxs, i)
			}
		}
		e := New(n, idxs)
		union := map[int]int{}
		for i := 0; i < n; i++ {
			info := e.GroupInfo(i)
			if info.Highlighted != e.IsHighlighted(i) {
				t.Fatalf("n=%d idx=%d highlighted mismatch", n, i)
			}
			if !info.Highlighted {
				continue
			}
			union[i] = info.GroupID
		}
		if len(union) != e.Len() {
			t.Fatalf("union size %d, highlight size %d", len(union), e.Len())
		}
		for _, g := range e.Groups() {
			for i := g.Start; i <= g.End; i++ {
				if union[i] != g.Start {
					t.Fatalf("idx %d group %d, want %d", i, union[i], g.Start)
				}
			}
			if g.Start > 0 && e.IsHighlighted(g.Start-1) {
				t.Fatalf("group %v not maximal on the left", g)
			}
			if e.IsHighlighted(g.End + 1) {
				t.Fatalf("group %v not maximal on the right", g)
			}
		}
	}
}

func TestStale(t *testing.T) {
	e := New(10, []int{1, 2})
	e.PointerDown(1, ButtonPrimary, ModShift)
	if got := e.Stale([]int{1, 2, 5}); !reflect.DeepEqual(got, []int{1, 5}) {
		t.Fatalf("Stale = %v, want [1 5]", got)
	}
}

func TestRebaseResetsDrag(t *testing.T) {
	e := New(10, []int{1, 8})
	e.PointerDown(3, ButtonPrimary, ModCtrl)
	dropped := e.Rebase(2, 5, func(idx int) bool { return idx != 3 })
	if e.Selecting() {
		t.Fatalf("drag survived Rebase")
	}
	if !reflect.DeepEqual(dropped, []int{3, 8}) {
		t.Fatalf("dropped = %v, want [3 8]", dropped)
	}
	highlighted(t, e, 1)
	e.PointerMove(4, 0)
	highlighted(t, e, 1)
	if e.Generation() != 2 {
		t.Fatalf("Generation = %d, want 2", e.Generation())
	}
}
