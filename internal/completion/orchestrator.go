package completion

import (
	"context"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/kobzarvs/lensbench/internal/backend"
	"github.com/kobzarvs/lensbench/internal/selection"
	"github.com/kobzarvs/lensbench/internal/status"
	"github.com/kobzarvs/lensbench/internal/tokens"
)

// Loop runs fn on the goroutine that owns the orchestrator. Every
// orchestrator method must be called from that goroutine; request results
// come back through Post.
type Loop interface {
	Post(fn func())
}

// Hooks are optional callbacks, all invoked on the loop.
type Hooks struct {
	// Tokenized fires whenever a tokenize request finishes.
	Tokenized func(ok bool)
	// Predicted fires whenever a predict toggle finishes.
	Predicted func(ok bool)
	// Changed fires after the persisted completion was modified.
	Changed func(*Completion)
}

type Options struct {
	Backend backend.Client
	Status  *status.Channel
	Loop    Loop
	Logger  *zap.Logger
	Timeout time.Duration
	Hooks   Hooks
}

type TokenizeState int

const (
	TokenizeIdle TokenizeState = iota
	Tokenizing
	Tokenized
)

type PredictState int

const (
	PredictIdle PredictState = iota
	Predicting
	PredictReady
)

// State is the derived stage state shown by the card controls.
type State struct {
	Tokenize TokenizeState
	Predict  PredictState
	// Stale is set when the prompt no longer matches the displayed tokens.
	Stale bool
}

// Orchestrator owns the derived state of one borrowed Completion: its token
// model, highlight, and cached predictions.
type Orchestrator struct {
	c     *Completion
	opts  Options
	log   *zap.Logger
	model string

	toks       *tokens.Model
	watermark  string
	generation uint64
	sel        *selection.Engine

	tokenizing  bool
	tokenizeSeq uint64
	predicting  bool
	predictSeq  uint64

	result    backend.Predictions
	resultKey string
	visible   bool
	focus     int

	autoKey string
	lastErr error
	closed  bool
}

func New(c *Completion, opts Options) *Orchestrator {
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	if opts.Status == nil {
		opts.Status = status.NewChannel(nil, opts.Logger)
	}
	if opts.Timeout <= 0 {
		opts.Timeout = 60 * time.Second
	}
	return &Orchestrator{
		c:     c,
		opts:  opts,
		log:   opts.Logger.With(zap.String("completion", c.ID)),
		model: c.Model,
		sel:   selection.New(-1, c.Tokens.Indices()),
		focus: selection.NoToken,
	}
}

func (o *Orchestrator) Completion() *Completion { return o.c }

// Model returns the selected model used for tokenization.
func (o *Orchestrator) Model() string { return o.model }

// SetModel selects the model for later requests and records it on the
// completion. A tokenize result still in flight for another model is dropped.
func (o *Orchestrator) SetModel(name string) {
	o.model = name
	if name != "" && o.c.Model != name {
		o.c.Model = name
		o.changed()
	}
}

func (o *Orchestrator) SetPrompt(text string) {
	if o.c.Prompt == text {
		return
	}
	o.c.Prompt = text
	o.changed()
}

func (o *Orchestrator) SetName(name string) {
	if o.c.Name == name {
		return
	}
	o.c.Name = name
	o.changed()
}

// Tokens returns the current token model, which may be stale. Nil before
// the first successful tokenization.
func (o *Orchestrator) Tokens() *tokens.Model { return o.toks }

func (o *Orchestrator) Selection() *selection.Engine { return o.sel }

// LastError is the most recent transport error, cleared by the next success.
func (o *Orchestrator) LastError() error { return o.lastErr }

func (o *Orchestrator) State() State {
	var s State
	switch {
	case o.tokenizing:
		s.Tokenize = Tokenizing
	case o.toks != nil:
		s.Tokenize = Tokenized
	}
	switch {
	case o.predicting:
		s.Predict = Predicting
	case o.visible:
		s.Predict = PredictReady
	}
	s.Stale = o.toks != nil && o.c.Prompt != o.watermark
	return s
}

func (o *Orchestrator) IsLoading() bool { return o.tokenizing || o.predicting }

// Visible reports whether the prediction overlay is shown.
func (o *Orchestrator) Visible() bool { return o.visible }

func (o *Orchestrator) CanTokenize() bool {
	if o.closed || o.tokenizing || o.model == "" || o.c.Prompt == "" {
		return false
	}
	return o.toks == nil || o.c.Prompt != o.watermark
}

func (o *Orchestrator) CanPredict() bool {
	return !o.closed && !o.predicting && o.sel.Len() > 0
}

func (o *Orchestrator) changed() {
	if o.opts.Hooks.Changed != nil {
		o.opts.Hooks.Changed(o.c)
	}
}

func (o *Orchestrator) setAnnotations(as tokens.Annotations) {
	o.c.Tokens = as
	o.changed()
}

// Tokenize requests a fresh token model for the current prompt. An empty
// prompt clears the token model without a request and returns ErrEmptyPrompt.
func (o *Orchestrator) Tokenize(ctx context.Context) error {
	return o.tokenize(ctx, nil)
}

func (o *Orchestrator) tokenize(ctx context.Context, then func(ok bool)) error {
	switch {
	case o.closed:
		return ErrClosed
	case o.model == "":
		o.log.Warn("tokenize skipped", zap.Error(ErrNoModel))
		return ErrNoModel
	case o.tokenizing:
		return ErrBusy
	}
	if o.c.Prompt == "" {
		o.toks = nil
		o.watermark = ""
		o.generation++
		o.sel.Rebase(o.generation, -1, nil)
		return ErrEmptyPrompt
	}

	o.tokenizing = true
	o.tokenizeSeq++
	seq, text, model := o.tokenizeSeq, o.c.Prompt, o.model
	o.log.Debug("tokenize", zap.String("model", model), zap.Int("chars", len(text)))
	go func() {
		ctx, cancel := context.WithTimeout(ctx, o.opts.Timeout)
		defer cancel()
		pieces, err := o.opts.Backend.Tokenize(ctx, text, model)
		o.opts.Loop.Post(func() {
			ok := o.finishTokenize(seq, text, model, pieces, err)
			if then != nil {
				then(ok)
			}
		})
	}()
	return nil
}

func (o *Orchestrator) finishTokenize(seq uint64, text, model string, pieces []string, err error) bool {
	if o.closed || seq != o.tokenizeSeq {
		return false
	}
	o.tokenizing = false
	ok := o.applyTokens(text, model, pieces, err)
	if o.opts.Hooks.Tokenized != nil {
		o.opts.Hooks.Tokenized(ok)
	}
	return ok
}

func (o *Orchestrator) applyTokens(text, model string, pieces []string, err error) bool {
	if err != nil {
		o.lastErr = err
		o.log.Error("tokenize failed", zap.String("kind", Classify(err).String()), zap.Error(err))
		return false
	}
	if model != o.model {
		o.log.Debug("tokenize result dropped", zap.Error(ErrStale), zap.String("requested", model), zap.String("current", o.model))
		return false
	}
	o.lastErr = nil
	o.generation++
	next := tokens.NewModel(o.generation, text, model, pieces)
	keep := tokens.Remap(o.toks, next)
	if dropped := o.sel.Rebase(o.generation, next.Len(), keep); len(dropped) > 0 {
		o.log.Debug("highlight dropped after retokenize", zap.Ints("idx", dropped))
	}
	if pruned := o.c.Tokens.Prune(keep); len(pruned) != len(o.c.Tokens) {
		o.log.Debug("annotations dropped after retokenize", zap.Int("before", len(o.c.Tokens)), zap.Int("after", len(pruned)))
		o.setAnnotations(pruned)
	}
	o.toks = next
	o.watermark = text
	o.visible = false
	if !next.Valid(o.focus) {
		o.focus = selection.NoToken
	}
	return true
}

// Predict toggles the prediction overlay. When it is shown it is hidden.
// Otherwise the highlight is written into the annotations and the cached
// result is shown if it was computed for the same request, or one request is
// sent.
func (o *Orchestrator) Predict(ctx context.Context) error {
	return o.predict(ctx, nil)
}

func (o *Orchestrator) predict(ctx context.Context, then func(ok bool)) error {
	if o.closed {
		return ErrClosed
	}
	if o.visible {
		o.visible = false
		return nil
	}
	if o.predicting {
		return ErrBusy
	}
	if o.sel.Len() == 0 {
		return ErrNothingSelected
	}
	model := o.c.Model
	if model == "" {
		model = o.model
	}
	if model == "" {
		o.log.Warn("predict skipped", zap.Error(ErrNoModel))
		return ErrNoModel
	}

	o.reconcile()
	key := o.requestKey(model)
	if o.result != nil && key == o.resultKey {
		o.visible = true
		o.predicted(true)
		return nil
	}

	req := backend.PredictRequest{
		Completion: o.c.payload(),
		Model:      model,
		Tokens:     append([]tokens.Annotation(nil), o.c.Tokens...),
	}
	o.predicting = true
	o.predictSeq++
	seq := o.predictSeq
	lease := o.opts.Status.Start()
	o.log.Debug("predict", zap.String("model", model), zap.Int("tokens", len(req.Tokens)))
	go func() {
		defer lease.Stop()
		ctx, cancel := context.WithTimeout(ctx, o.opts.Timeout)
		defer cancel()
		res, err := o.opts.Backend.Predict(ctx, req)
		o.opts.Loop.Post(func() {
			ok := o.finishPredict(seq, key, res, err)
			if then != nil {
				then(ok)
			}
		})
	}()
	return nil
}

// reconcile adds an unset annotation for every highlighted token that has
// none. Nothing is removed here.
func (o *Orchestrator) reconcile() {
	updated, added := o.c.Tokens.Materialize(o.sel.Highlighted())
	if added > 0 {
		o.setAnnotations(updated)
	}
}

// requestKey identifies what a prediction result was computed against: the
// token generation, the model, the prompt text sent and the highlight.
func (o *Orchestrator) requestKey(model string) string {
	var b strings.Builder
	fmt.Fprintf(&b, "%d|%s|%q|", o.generation, model, o.c.Prompt)
	for _, idx := range o.sel.Highlighted() {
		fmt.Fprintf(&b, "%d,", idx)
	}
	return b.String()
}

func (o *Orchestrator) finishPredict(seq uint64, key string, res backend.Predictions, err error) bool {
	if o.closed || seq != o.predictSeq {
		return false
	}
	o.predicting = false
	ok := false
	switch {
	case err != nil:
		o.lastErr = err
		o.visible = false
		o.log.Error("predict failed", zap.String("kind", Classify(err).String()), zap.Error(err))
	case key != o.requestKey(o.requestModel()):
		o.log.Debug("predict result dropped", zap.Error(ErrStale))
	default:
		o.lastErr = nil
		o.result = res
		o.resultKey = key
		o.visible = true
		ok = true
	}
	o.predicted(ok)
	return ok
}

func (o *Orchestrator) requestModel() string {
	if o.c.Model != "" {
		return o.c.Model
	}
	return o.model
}

func (o *Orchestrator) predicted(ok bool) {
	if o.opts.Hooks.Predicted != nil {
		o.opts.Hooks.Predicted(ok)
	}
}

// AutoRun chains Tokenize and Predict for a completion restored with chosen
// targets but no token model yet. It runs at most once per combination of
// annotations, prompt and model, and reports whether it started.
func (o *Orchestrator) AutoRun(ctx context.Context) bool {
	if o.closed || o.toks != nil || o.c.Prompt == "" || o.model == "" || !o.c.Tokens.HasTargets() {
		return false
	}
	key := fmt.Sprintf("%v|%s|%s", o.c.Tokens, o.c.Prompt, o.model)
	if key == o.autoKey {
		return false
	}
	o.autoKey = key
	err := o.tokenize(ctx, func(ok bool) {
		if !ok {
			return
		}
		if err := o.predict(ctx, nil); err != nil {
			o.log.Warn("auto predict skipped", zap.Error(err))
		}
	})
	if err != nil {
		o.log.Warn("auto tokenize skipped", zap.Error(err))
		return false
	}
	return true
}

// Predictions returns the cached candidates for idx, if any.
func (o *Orchestrator) Predictions(idx int) ([]backend.Prediction, bool) {
	if o.result == nil {
		return nil, false
	}
	p, ok := o.result[idx]
	return p, ok
}

// Focus is the token whose candidates are listed in the prediction panel.
func (o *Orchestrator) Focus() int { return o.focus }

// SelectToken moves the prediction panel to idx.
func (o *Orchestrator) SelectToken(idx int) {
	if o.toks != nil && !o.toks.Valid(idx) {
		idx = selection.NoToken
	}
	o.focus = idx
}

// SetTarget records the chosen target token for a highlighted index.
func (o *Orchestrator) SetTarget(idx, targetID int, targetText string) error {
	if !o.sel.IsHighlighted(idx) {
		return ErrNotHighlighted
	}
	o.setAnnotations(o.c.Tokens.SetTarget(idx, targetID, targetText))
	return nil
}

// PointerDown forwards a press to the selection engine and detaches the
// annotations it reports. Input is ignored while predictions load.
func (o *Orchestrator) PointerDown(idx int, button selection.Button, mods selection.Modifiers) {
	if o.closed || o.predicting {
		return
	}
	if o.toks != nil && !o.toks.Valid(idx) {
		return
	}
	if removed := o.sel.PointerDown(idx, button, mods); len(removed) > 0 {
		o.setAnnotations(o.c.Tokens.Remove(removed...))
	}
	if o.sel.IsHighlighted(idx) {
		o.focus = idx
	}
}

func (o *Orchestrator) PointerMove(idx int, mods selection.Modifiers) {
	if o.closed || o.predicting {
		return
	}
	if o.toks != nil && !o.toks.Valid(idx) {
		return
	}
	o.sel.PointerMove(idx, mods)
}

// PointerUp ends the drag and drops annotations the drag left unhighlighted.
func (o *Orchestrator) PointerUp() {
	if o.closed {
		return
	}
	o.sel.PointerUp()
	if stale := o.sel.Stale(o.c.Tokens.Indices()); len(stale) > 0 {
		o.setAnnotations(o.c.Tokens.Remove(stale...))
	}
}

// Close drops all derived state. Responses still in flight are discarded.
func (o *Orchestrator) Close() {
	o.closed = true
	o.tokenizing = false
	o.predicting = false
	o.tokenizeSeq++
	o.predictSeq++
	o.toks = nil
	o.result = nil
	o.visible = false
	o.sel.Reset()
}
