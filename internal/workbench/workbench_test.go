package workbench

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/gdamore/tcell/v2"
	"github.com/google/uuid"

	"github.com/kobzarvs/lensbench/internal/backend"
	"github.com/kobzarvs/lensbench/internal/completion"
	"github.com/kobzarvs/lensbench/internal/config"
	"github.com/kobzarvs/lensbench/internal/tokens"
)

type memStore struct {
	items   []*completion.Completion
	active  string
	updates int
	saves   int
}

func (m *memStore) List() []*completion.Completion {
	out := make([]*completion.Completion, len(m.items))
	for i, c := range m.items {
		out[i] = c.Clone()
	}
	return out
}

func (m *memStore) Add(name, prompt, model string) *completion.Completion {
	if name == "" {
		name = "Completion"
	}
	c := &completion.Completion{ID: uuid.NewString(), Name: name, Prompt: prompt, Model: model}
	m.items = append(m.items, c)
	m.active = c.ID
	return c.Clone()
}

func (m *memStore) Update(c *completion.Completion) error {
	for i, it := range m.items {
		if it.ID == c.ID {
			m.items[i] = c.Clone()
			m.updates++
			return nil
		}
	}
	return nil
}

func (m *memStore) Delete(id string) error {
	for i, it := range m.items {
		if it.ID == id {
			m.items = append(m.items[:i], m.items[i+1:]...)
			return nil
		}
	}
	return nil
}

func (m *memStore) SetActive(id string) { m.active = id }
func (m *memStore) Active() string      { return m.active }
func (m *memStore) ForceSave() error    { m.saves++; return nil }

type queueLoop struct {
	ch chan func()
}

func (q *queueLoop) Post(fn func()) { q.ch <- fn }

func (q *queueLoop) drain(t *testing.T) {
	t.Helper()
	select {
	case fn := <-q.ch:
		fn()
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for a posted result")
	}
}

type harness struct {
	w     *Workbench
	store *memStore
	mock  *backend.Mock
	loop  *queueLoop
	s     tcell.SimulationScreen
}

func newHarness(t *testing.T, items ...*completion.Completion) *harness {
	t.Helper()
	cfg := config.Default()
	cfg.Workbench.Models = []string{"m1", "m2"}
	h := &harness{
		store: &memStore{items: items},
		mock:  backend.NewMock("m1", "m2"),
		loop:  &queueLoop{ch: make(chan func(), 16)},
	}
	h.w = New(context.Background(), Options{
		Config:  cfg,
		Store:   h.store,
		Backend: h.mock,
		Loop:    h.loop,
	})
	h.s = tcell.NewSimulationScreen("UTF-8")
	if err := h.s.Init(); err != nil {
		t.Fatalf("init screen: %v", err)
	}
	t.Cleanup(h.s.Fini)
	h.s.SetSize(40, 16)
	return h
}

func (h *harness) key(k tcell.Key, r rune, mod tcell.ModMask) bool {
	return h.w.HandleKey(tcell.NewEventKey(k, r, mod))
}

func (h *harness) typeText(text string) {
	for _, r := range text {
		h.key(tcell.KeyRune, r, 0)
	}
}

func (h *harness) render() {
	h.w.Render(h.s)
}

func (h *harness) rowText(y int) string {
	cells, w, _ := h.s.GetContents()
	var b strings.Builder
	for x := 0; x < w; x++ {
		c := cells[y*w+x]
		if len(c.Runes) == 0 {
			b.WriteRune(' ')
			continue
		}
		b.WriteRune(c.Runes[0])
	}
	return b.String()
}

// cellOf finds the screen cell of the first rune of token idx.
func (h *harness) cellOf(t *testing.T, idx int) (int, int) {
	t.Helper()
	for _, c := range h.w.cells {
		if c.idx == idx {
			return c.x, h.w.stripY + c.row - h.w.stripScroll
		}
	}
	t.Fatalf("token %d not laid out", idx)
	return 0, 0
}

func (h *harness) click(t *testing.T, idx int, mod tcell.ModMask) {
	t.Helper()
	x, y := h.cellOf(t, idx)
	h.w.HandleMouse(tcell.NewEventMouse(x, y, tcell.Button1, mod))
	h.w.HandleMouse(tcell.NewEventMouse(x, y, tcell.ButtonNone, mod))
}

func (h *harness) tokenized(t *testing.T, prompt string) *card {
	t.Helper()
	h.key(tcell.KeyCtrlN, 0, 0)
	h.typeText(prompt)
	h.key(tcell.KeyCtrlT, 0, 0)
	h.loop.drain(t)
	h.render()
	return h.w.current()
}

func TestKeyString(t *testing.T) {
	cases := []struct {
		ev   *tcell.EventKey
		want string
	}{
		{tcell.NewEventKey(tcell.KeyCtrlT, 0, 0), "ctrl+t"},
		{tcell.NewEventKey(tcell.KeyEnter, 0, 0), "enter"},
		{tcell.NewEventKey(tcell.KeyBackspace2, 0, 0), "backspace"},
		{tcell.NewEventKey(tcell.KeyRune, 'x', 0), "x"},
		{tcell.NewEventKey(tcell.KeyRune, ' ', 0), "space"},
		{tcell.NewEventKey(tcell.KeyRight, 0, tcell.ModAlt), "alt+right"},
		{tcell.NewEventKey(tcell.KeyPgDn, 0, 0), "pgdn"},
	}
	for _, tc := range cases {
		if got := keyString(tc.ev); got != tc.want {
			t.Fatalf("keyString = %q, want %q", got, tc.want)
		}
	}
}

func TestComposeStatusLine(t *testing.T) {
	got := string(composeStatusLine("left", "right", 12))
	if got != "left   right" {
		t.Fatalf("composeStatusLine = %q, want %q", got, "left   right")
	}
	got = string(composeStatusLine("a long left side", "1/2", 8))
	if got != "a lon1/2" {
		t.Fatalf("composeStatusLine = %q, want %q", got, "a lon1/2")
	}
}

func TestNewCompletionAndTyping(t *testing.T) {
	h := newHarness(t)
	h.key(tcell.KeyCtrlN, 0, 0)
	if len(h.w.cards) != 1 {
		t.Fatalf("cards = %d, want 1", len(h.w.cards))
	}
	h.typeText("ab")
	h.key(tcell.KeyLeft, 0, 0)
	h.typeText("X")
	h.key(tcell.KeyEnter, 0, 0)
	h.key(tcell.KeyBackspace2, 0, 0)

	cd := h.w.current()
	if got := cd.orch.Completion().Prompt; got != "aXb" {
		t.Fatalf("prompt = %q, want %q", got, "aXb")
	}
	if got := h.store.items[0].Prompt; got != "aXb" {
		t.Fatalf("stored prompt = %q, want %q", got, "aXb")
	}
	if got := h.store.items[0].Model; got != "m1" {
		t.Fatalf("stored model = %q, want %q", got, "m1")
	}
}

func TestTokenizeRendersStrip(t *testing.T) {
	h := newHarness(t)
	cd := h.tokenized(t, "The cat sat")
	if cd.orch.Tokens().Len() != 3 {
		t.Fatalf("tokens = %d, want 3", cd.orch.Tokens().Len())
	}
	row := h.rowText(h.w.stripY)
	if !strings.HasPrefix(row, "The cat sat") {
		t.Fatalf("strip row = %q, want tokens", row)
	}
	if !strings.Contains(h.rowText(h.w.stripY-1), "3 tokens") {
		t.Fatalf("separator = %q, want token count", h.rowText(h.w.stripY-1))
	}
	if !strings.Contains(h.rowText(15), "tokens") {
		t.Fatalf("command line = %q, want tokenize message", h.rowText(15))
	}
}

func TestClickHighlightsAndPredict(t *testing.T) {
	h := newHarness(t)
	cd := h.tokenized(t, "The cat sat")

	h.click(t, 1, 0)
	if got := cd.orch.Selection().Highlighted(); len(got) != 1 || got[0] != 1 {
		t.Fatalf("Highlighted = %v, want [1]", got)
	}

	h.key(tcell.KeyCtrlP, 0, 0)
	h.loop.drain(t)
	if !cd.orch.Visible() {
		t.Fatalf("predictions not visible")
	}
	if cd.orch.Focus() != 1 {
		t.Fatalf("Focus = %d, want 1", cd.orch.Focus())
	}
	h.render()
	found := false
	for y := h.w.stripY; y < 14; y++ {
		if strings.Contains(h.rowText(y), `token 1 " cat"`) {
			found = true
		}
	}
	if !found {
		t.Fatalf("prediction panel not rendered")
	}

	h.key(tcell.KeyRune, '1', 0)
	got := h.store.items[0].Tokens
	want := tokens.Annotation{Idx: 1, TargetID: 2, TargetText: " sat"}
	if len(got) != 1 || got[0] != want {
		t.Fatalf("stored annotations = %+v, want %+v", got, want)
	}
	if cd.orch.Completion().Prompt != "The cat sat" {
		t.Fatalf("digit leaked into prompt: %q", cd.orch.Completion().Prompt)
	}
}

func TestDragSelectsRange(t *testing.T) {
	h := newHarness(t)
	cd := h.tokenized(t, "a b c d")

	x0, y0 := h.cellOf(t, 0)
	x2, y2 := h.cellOf(t, 2)
	h.w.HandleMouse(tcell.NewEventMouse(x0, y0, tcell.Button1, 0))
	h.w.HandleMouse(tcell.NewEventMouse(x2, y2, tcell.Button1, 0))
	h.w.HandleMouse(tcell.NewEventMouse(x2, y2, tcell.ButtonNone, 0))

	got := cd.orch.Selection().Highlighted()
	if len(got) != 3 || got[0] != 0 || got[2] != 2 {
		t.Fatalf("Highlighted = %v, want [0 1 2]", got)
	}
	if cd.orch.Selection().Selecting() {
		t.Fatalf("drag still active after release")
	}

	// a ctrl click on the neighbour extends the same group
	h.click(t, 3, tcell.ModCtrl)
	if n := len(cd.orch.Selection().Groups()); n != 1 {
		t.Fatalf("groups = %d, want 1 merged group", n)
	}
}

func TestClickOutsideTokensIsNoop(t *testing.T) {
	h := newHarness(t)
	cd := h.tokenized(t, "a b")
	h.click(t, 0, 0)
	h.w.HandleMouse(tcell.NewEventMouse(39, h.w.stripY+2, tcell.Button1, 0))
	h.w.HandleMouse(tcell.NewEventMouse(39, h.w.stripY+2, tcell.ButtonNone, 0))
	if got := cd.orch.Selection().Highlighted(); len(got) != 1 || got[0] != 0 {
		t.Fatalf("Highlighted = %v, want [0]", got)
	}
}

func TestRenameAndCycle(t *testing.T) {
	h := newHarness(t)
	h.key(tcell.KeyCtrlN, 0, 0)
	h.key(tcell.KeyCtrlN, 0, 0)
	if h.w.active != 1 {
		t.Fatalf("active = %d, want 1", h.w.active)
	}

	h.key(tcell.KeyCtrlR, 0, 0)
	if h.w.mode != ModeRename {
		t.Fatalf("mode = %v, want rename", h.w.mode)
	}
	for range []rune("Completion") {
		h.key(tcell.KeyBackspace2, 0, 0)
	}
	h.typeText("second")
	h.render()
	if !strings.HasPrefix(h.rowText(15), "Rename: second") {
		t.Fatalf("command line = %q", h.rowText(15))
	}
	h.key(tcell.KeyEnter, 0, 0)
	if got := h.store.items[1].Name; got != "second" {
		t.Fatalf("name = %q, want %q", got, "second")
	}

	h.key(tcell.KeyPgDn, 0, 0)
	if h.w.active != 0 || h.store.active != h.store.items[0].ID {
		t.Fatalf("active = %d, want wrap to 0", h.w.active)
	}
}

func TestNextModelCycles(t *testing.T) {
	h := newHarness(t)
	h.key(tcell.KeyCtrlN, 0, 0)
	h.key(tcell.KeyCtrlO, 0, 0)
	cd := h.w.current()
	if cd.orch.Model() != "m2" {
		t.Fatalf("model = %q, want m2", cd.orch.Model())
	}
	h.key(tcell.KeyCtrlO, 0, 0)
	if cd.orch.Model() != "m1" {
		t.Fatalf("model = %q, want m1", cd.orch.Model())
	}
}

func TestDeleteCompletion(t *testing.T) {
	h := newHarness(t)
	h.key(tcell.KeyCtrlN, 0, 0)
	h.key(tcell.KeyCtrlD, 0, 0)
	if len(h.w.cards) != 0 || len(h.store.items) != 0 {
		t.Fatalf("cards = %d items = %d, want none", len(h.w.cards), len(h.store.items))
	}
	h.render()
	if !strings.Contains(h.rowText(2), "No completions") {
		t.Fatalf("empty state not rendered: %q", h.rowText(2))
	}
	if quit := h.key(tcell.KeyCtrlQ, 0, 0); !quit {
		t.Fatalf("ctrl+q did not quit")
	}
}

func TestSetModelsRunsRestoreChain(t *testing.T) {
	h := newHarness(t, &completion.Completion{
		ID: "c1", Name: "restored", Prompt: "The cat sat", Model: "m1",
		Tokens: tokens.Annotations{{Idx: 1, TargetID: 2, TargetText: " sat"}},
	})
	h.w.SetModels(backend.ModelList{Base: []string{"m1", "m3"}})
	h.loop.drain(t)
	h.loop.drain(t)
	cd := h.w.current()
	if !cd.orch.Visible() {
		t.Fatalf("restored completion predictions not shown")
	}
	if len(h.w.models) != 3 {
		t.Fatalf("models = %v, want merged list of 3", h.w.models)
	}
}

func TestLayoutTokensWraps(t *testing.T) {
	toks := tokens.NewModel(1, "", "m", []string{"abc", "de", "fgh\n", "i"}).Tokens()
	cells := layoutTokens(toks, 6, "")
	want := []struct{ x, row int }{{0, 0}, {3, 0}, {0, 1}, {0, 2}}
	for i, c := range cells {
		if c.x != want[i].x || c.row != want[i].row {
			t.Fatalf("cell %d at (%d,%d), want (%d,%d)", i, c.x, c.row, want[i].x, want[i].row)
		}
	}
	if got := hitToken(cells, 4, 0); got != 1 {
		t.Fatalf("hitToken = %d, want 1", got)
	}
	if got := hitToken(cells, 5, 2); got != -1 {
		t.Fatalf("hitToken = %d, want -1", got)
	}
}

func TestLineColRoundTrip(t *testing.T) {
	text := []rune("ab\ncde\n")
	for off := 0; off <= len(text); off++ {
		row, col := lineCol(text, off)
		if got := offsetOf(text, row, col); got != off {
			t.Fatalf("offsetOf(lineCol(%d)) = %d", off, got)
		}
	}
	if got := offsetOf(text, 0, 10); got != 2 {
		t.Fatalf("offsetOf clamps to %d, want 2", got)
	}
}
