// Package workbench is the terminal view over the completions of a
// workspace: prompt editing, the token strip, predictions and status.
package workbench

import (
	"context"
	"fmt"

	"github.com/gdamore/tcell/v2"
	"go.uber.org/zap"

	"github.com/kobzarvs/lensbench/internal/backend"
	"github.com/kobzarvs/lensbench/internal/completion"
	"github.com/kobzarvs/lensbench/internal/config"
	"github.com/kobzarvs/lensbench/internal/promptsyntax"
	"github.com/kobzarvs/lensbench/internal/selection"
	"github.com/kobzarvs/lensbench/internal/status"
)

// Store is the persistence the workbench needs.
type Store interface {
	List() []*completion.Completion
	Add(name, prompt, model string) *completion.Completion
	Update(c *completion.Completion) error
	Delete(id string) error
	SetActive(id string)
	Active() string
	ForceSave() error
}

type Mode int

const (
	ModePrompt Mode = iota
	ModeRename
)

type Options struct {
	Config  config.Config
	Store   Store
	Backend backend.Client
	Status  *status.Channel
	Loop    completion.Loop
	Logger  *zap.Logger
	// Syntax is optional.
	Syntax *promptsyntax.Highlighter
	// Model overrides the configured default model.
	Model string
}

// card is one completion with its editing state.
type card struct {
	orch   *completion.Orchestrator
	prompt []rune
	cursor int
	scroll int
}

type tabCell struct {
	x, w int
	card int
}

type Workbench struct {
	ctx    context.Context
	opts   Options
	log    *zap.Logger
	styles styles

	cards  []*card
	active int
	models []string
	model  string

	mode          Mode
	rename        []rune
	statusMessage string

	// geometry of the last Render, for mouse hit testing
	tabs        []tabCell
	promptY     int
	promptRows  int
	stripY      int
	stripRows   int
	stripScroll int
	cells       []tokenCell

	mouseDown bool
	dragging  bool

	actionHook func(string)
}

func New(ctx context.Context, opts Options) *Workbench {
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	if opts.Status == nil {
		opts.Status = status.NewChannel(nil, opts.Logger)
	}
	w := &Workbench{
		ctx:    ctx,
		opts:   opts,
		log:    opts.Logger,
		styles: newStyles(opts.Config.Theme),
		models: append([]string(nil), opts.Config.Workbench.Models...),
		model:  opts.Model,
	}
	if w.model == "" {
		w.model = opts.Config.Workbench.DefaultModel
	}
	if w.model == "" && len(w.models) > 0 {
		w.model = w.models[0]
	}
	active := opts.Store.Active()
	for _, c := range opts.Store.List() {
		if c.ID == active {
			w.active = len(w.cards)
		}
		w.cards = append(w.cards, w.newCard(c))
	}
	return w
}

func (w *Workbench) newCard(c *completion.Completion) *card {
	cd := &card{prompt: []rune(c.Prompt)}
	cd.cursor = len(cd.prompt)
	cd.orch = completion.New(c, completion.Options{
		Backend: w.opts.Backend,
		Status:  w.opts.Status,
		Loop:    w.opts.Loop,
		Logger:  w.log,
		Timeout: w.opts.Config.Backend.TimeoutDuration(),
		Hooks: completion.Hooks{
			Tokenized: func(ok bool) { w.onTokenized(cd, ok) },
			Predicted: func(ok bool) { w.onPredicted(cd, ok) },
			Changed:   w.onChanged,
		},
	})
	if c.Model == "" && w.model != "" {
		cd.orch.SetModel(w.model)
	}
	return cd
}

// SetModels merges models reported by the backend into the selector and runs
// the restore chain for completions that have chosen targets.
func (w *Workbench) SetModels(list backend.ModelList) {
	seen := make(map[string]bool, len(w.models))
	for _, m := range w.models {
		seen[m] = true
	}
	for _, m := range list.All() {
		if !seen[m] {
			seen[m] = true
			w.models = append(w.models, m)
		}
	}
	if w.model == "" && len(w.models) > 0 {
		w.model = w.models[0]
	}
	for _, cd := range w.cards {
		if cd.orch.Model() == "" && w.model != "" {
			cd.orch.SetModel(w.model)
		}
	}
	w.AutoRun()
}

// AutoRun starts the tokenize-then-predict chain for every restored
// completion that qualifies.
func (w *Workbench) AutoRun() {
	for _, cd := range w.cards {
		if cd.orch.AutoRun(w.ctx) {
			w.log.Debug("auto run started", zap.String("completion", cd.orch.Completion().ID))
		}
	}
}

func (w *Workbench) current() *card {
	if w.active < 0 || w.active >= len(w.cards) {
		return nil
	}
	return w.cards[w.active]
}

func (w *Workbench) activate(i int) {
	if i < 0 || i >= len(w.cards) {
		return
	}
	w.active = i
	w.stripScroll = 0
	w.opts.Store.SetActive(w.cards[i].orch.Completion().ID)
}

func (w *Workbench) SetStatusMessage(msg string) {
	w.statusMessage = msg
}

func (w *Workbench) onTokenized(cd *card, ok bool) {
	name := cd.orch.Completion().Name
	w.log.Info("stage finished", zap.String("stage", "tokenize"), zap.String("completion", name), zap.Bool("ok", ok))
	switch {
	case ok:
		w.statusMessage = fmt.Sprintf("%s: %d tokens", name, cd.orch.Tokens().Len())
	case cd.orch.LastError() != nil:
		w.statusMessage = "tokenize failed: " + cd.orch.LastError().Error()
	}
}

func (w *Workbench) onPredicted(cd *card, ok bool) {
	name := cd.orch.Completion().Name
	w.log.Info("stage finished", zap.String("stage", "predict"), zap.String("completion", name), zap.Bool("ok", ok))
	switch {
	case ok:
		w.statusMessage = fmt.Sprintf("%s: predictions ready, 1-9 picks a target", name)
	case cd.orch.LastError() != nil:
		w.statusMessage = "predict failed: " + cd.orch.LastError().Error()
	}
}

func (w *Workbench) onChanged(c *completion.Completion) {
	if err := w.opts.Store.Update(c); err != nil {
		w.log.Warn("workspace update failed", zap.String("completion", c.ID), zap.Error(err))
	}
}

// report turns an operation error into the command line message.
func (w *Workbench) report(op string, err error) {
	if err == nil {
		return
	}
	switch completion.Classify(err) {
	case completion.KindPrecondition:
		w.statusMessage = op + ": " + err.Error()
	case completion.KindTransport, completion.KindCanceled, completion.KindConsistency:
		w.statusMessage = op + " failed: " + err.Error()
	case completion.KindNone:
	}
}

// HandleKey processes one key event and reports whether the app should quit.
func (w *Workbench) HandleKey(ev *tcell.EventKey) bool {
	if w.mode == ModeRename {
		return w.handleRename(ev)
	}
	if action, ok := w.opts.Config.Keymap[keyString(ev)]; ok {
		return w.execAction(action)
	}
	cd := w.current()
	if cd == nil {
		return false
	}
	if ev.Key() == tcell.KeyRune {
		if ev.Modifiers()&(tcell.ModCtrl|tcell.ModAlt|tcell.ModMeta) != 0 {
			return false
		}
		r := ev.Rune()
		if cd.orch.Visible() && r >= '1' && r <= '9' {
			w.pickCandidate(cd, int(r-'1'))
			return false
		}
		w.insert(cd, r)
		return false
	}
	switch ev.Key() {
	case tcell.KeyEnter:
		w.insert(cd, '\n')
	case tcell.KeyTab:
		w.insert(cd, '\t')
	case tcell.KeyBackspace, tcell.KeyBackspace2:
		w.backspace(cd)
	case tcell.KeyDelete:
		w.deleteChar(cd)
	case tcell.KeyLeft:
		if cd.cursor > 0 {
			cd.cursor--
		}
	case tcell.KeyRight:
		if cd.cursor < len(cd.prompt) {
			cd.cursor++
		}
	case tcell.KeyUp:
		row, col := lineCol(cd.prompt, cd.cursor)
		if row > 0 {
			cd.cursor = offsetOf(cd.prompt, row-1, col)
		}
	case tcell.KeyDown:
		row, col := lineCol(cd.prompt, cd.cursor)
		cd.cursor = offsetOf(cd.prompt, row+1, col)
	case tcell.KeyHome:
		row, _ := lineCol(cd.prompt, cd.cursor)
		cd.cursor = offsetOf(cd.prompt, row, 0)
	case tcell.KeyEnd:
		row, _ := lineCol(cd.prompt, cd.cursor)
		cd.cursor = offsetOf(cd.prompt, row, len(cd.prompt))
	}
	return false
}

func (w *Workbench) handleRename(ev *tcell.EventKey) bool {
	switch ev.Key() {
	case tcell.KeyEscape:
		w.mode = ModePrompt
		w.rename = nil
	case tcell.KeyEnter:
		if cd := w.current(); cd != nil && len(w.rename) > 0 {
			cd.orch.SetName(string(w.rename))
			w.statusMessage = "renamed to " + string(w.rename)
		}
		w.mode = ModePrompt
		w.rename = nil
	case tcell.KeyBackspace, tcell.KeyBackspace2:
		if len(w.rename) > 0 {
			w.rename = w.rename[:len(w.rename)-1]
		}
	case tcell.KeyRune:
		w.rename = append(w.rename, ev.Rune())
	}
	return false
}

func (w *Workbench) edited(cd *card) {
	cd.orch.SetPrompt(string(cd.prompt))
}

func (w *Workbench) insert(cd *card, r rune) {
	cd.prompt = append(cd.prompt, 0)
	copy(cd.prompt[cd.cursor+1:], cd.prompt[cd.cursor:])
	cd.prompt[cd.cursor] = r
	cd.cursor++
	w.edited(cd)
}

func (w *Workbench) backspace(cd *card) {
	if cd.cursor == 0 {
		return
	}
	cd.prompt = append(cd.prompt[:cd.cursor-1], cd.prompt[cd.cursor:]...)
	cd.cursor--
	w.edited(cd)
}

func (w *Workbench) deleteChar(cd *card) {
	if cd.cursor >= len(cd.prompt) {
		return
	}
	cd.prompt = append(cd.prompt[:cd.cursor], cd.prompt[cd.cursor+1:]...)
	w.edited(cd)
}

func (w *Workbench) pickCandidate(cd *card, n int) {
	idx := cd.orch.Focus()
	preds, ok := cd.orch.Predictions(idx)
	if !ok || n >= len(preds) {
		w.statusMessage = fmt.Sprintf("no candidate %d for this token", n+1)
		return
	}
	p := preds[n]
	if err := cd.orch.SetTarget(idx, p.ID, p.Text); err != nil {
		w.report("set target", err)
		return
	}
	w.statusMessage = fmt.Sprintf("token %d target set to %q", idx, p.Text)
}

func (w *Workbench) execAction(action string) bool {
	if w.actionHook != nil {
		w.actionHook(action)
	}
	cd := w.current()
	switch action {
	case "quit":
		return true
	case "new_completion":
		c := w.opts.Store.Add("", "", w.model)
		w.cards = append(w.cards, w.newCard(c))
		w.activate(len(w.cards) - 1)
		w.statusMessage = "created " + c.Name
		return false
	case "save":
		if err := w.opts.Store.ForceSave(); err != nil {
			w.statusMessage = "save failed: " + err.Error()
		} else {
			w.statusMessage = "saved"
		}
		return false
	case "cancel":
		w.statusMessage = ""
		return false
	}
	if cd == nil {
		w.statusMessage = "no completion, ctrl+n creates one"
		return false
	}
	switch action {
	case "tokenize":
		w.report("tokenize", cd.orch.Tokenize(w.ctx))
	case "predict":
		w.report("predict", cd.orch.Predict(w.ctx))
	case "delete_completion":
		w.deleteCard(w.active)
	case "next_completion":
		w.activate((w.active + 1) % len(w.cards))
	case "prev_completion":
		w.activate((w.active - 1 + len(w.cards)) % len(w.cards))
	case "next_model":
		w.cycleModel(cd)
	case "next_token":
		w.moveFocus(cd, 1)
	case "prev_token":
		w.moveFocus(cd, -1)
	case "rename":
		w.mode = ModeRename
		w.rename = []rune(cd.orch.Completion().Name)
	default:
		w.log.Debug("unknown action", zap.String("action", action))
	}
	return false
}

func (w *Workbench) deleteCard(i int) {
	cd := w.cards[i]
	id := cd.orch.Completion().ID
	cd.orch.Close()
	if err := w.opts.Store.Delete(id); err != nil {
		w.log.Warn("workspace delete failed", zap.String("completion", id), zap.Error(err))
	}
	w.cards = append(w.cards[:i], w.cards[i+1:]...)
	if w.active >= len(w.cards) {
		w.active = len(w.cards) - 1
	}
	if w.active >= 0 {
		w.activate(w.active)
	}
	w.statusMessage = "deleted " + cd.orch.Completion().Name
}

func (w *Workbench) cycleModel(cd *card) {
	if len(w.models) == 0 {
		w.statusMessage = "no models available"
		return
	}
	next := w.models[0]
	for i, m := range w.models {
		if m == cd.orch.Model() {
			next = w.models[(i+1)%len(w.models)]
			break
		}
	}
	w.model = next
	cd.orch.SetModel(next)
	w.statusMessage = "model: " + next
}

func (w *Workbench) moveFocus(cd *card, delta int) {
	toks := cd.orch.Tokens()
	if toks.Len() == 0 {
		return
	}
	idx := cd.orch.Focus() + delta
	if cd.orch.Focus() == selection.NoToken {
		idx = 0
	}
	if idx < 0 {
		idx = 0
	}
	if idx >= toks.Len() {
		idx = toks.Len() - 1
	}
	cd.orch.SelectToken(idx)
}

func toModifiers(m tcell.ModMask) selection.Modifiers {
	var out selection.Modifiers
	if m&tcell.ModCtrl != 0 {
		out |= selection.ModCtrl
	}
	if m&(tcell.ModMeta|tcell.ModAlt) != 0 {
		out |= selection.ModMeta
	}
	if m&tcell.ModShift != 0 {
		out |= selection.ModShift
	}
	return out
}

func toButton(b tcell.ButtonMask) selection.Button {
	switch {
	case b&tcell.Button2 != 0:
		return selection.ButtonSecondary
	case b&tcell.Button3 != 0:
		return selection.ButtonMiddle
	}
	return selection.ButtonPrimary
}

// HandleMouse turns press, drag and release into pointer events on the
// token strip. Presses elsewhere switch tabs or move the prompt cursor.
func (w *Workbench) HandleMouse(ev *tcell.EventMouse) {
	x, y := ev.Position()
	buttons := ev.Buttons()
	mods := toModifiers(ev.Modifiers())
	cd := w.current()

	switch {
	case buttons&tcell.WheelUp != 0:
		if w.stripScroll > 0 {
			w.stripScroll--
		}
		return
	case buttons&tcell.WheelDown != 0:
		w.stripScroll++
		return
	case buttons&(tcell.Button1|tcell.Button2|tcell.Button3) != 0:
		if w.mouseDown {
			if w.dragging && cd != nil {
				cd.orch.PointerMove(w.tokenAt(x, y), mods)
			}
			return
		}
		w.mouseDown = true
		w.press(cd, x, y, toButton(buttons), mods)
	default:
		if !w.mouseDown {
			return
		}
		w.mouseDown = false
		if w.dragging && cd != nil {
			cd.orch.PointerUp()
		}
		w.dragging = false
	}
}

func (w *Workbench) press(cd *card, x, y int, button selection.Button, mods selection.Modifiers) {
	if y == 0 {
		for _, t := range w.tabs {
			if x >= t.x && x < t.x+t.w {
				w.activate(t.card)
				return
			}
		}
		return
	}
	if cd == nil {
		return
	}
	if y >= w.promptY && y < w.promptY+w.promptRows {
		row := y - w.promptY + cd.scroll
		cd.cursor = offsetOf(cd.prompt, row, max(0, x-2))
		return
	}
	if y >= w.stripY && y < w.stripY+w.stripRows {
		w.dragging = true
		cd.orch.PointerDown(w.tokenAt(x, y), button, mods)
	}
}

func (w *Workbench) tokenAt(x, y int) int {
	if y < w.stripY || y >= w.stripY+w.stripRows {
		return selection.NoToken
	}
	return hitToken(w.cells, x, y-w.stripY+w.stripScroll)
}

// Shutdown drops derived state of every card.
func (w *Workbench) Shutdown() {
	for _, cd := range w.cards {
		cd.orch.Close()
	}
}
