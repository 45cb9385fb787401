// Package tokens holds the tokenized view of a prompt and the per-token
// target annotations persisted on a completion.
package tokens

// NoTarget marks an annotation whose prediction target has not been chosen.
const NoTarget = -1

// Token is one position of a tokenized prompt.
type Token struct {
	Idx        int    `json:"idx"`
	Text       string `json:"text"`
	TargetID   int    `json:"target_id"`
	TargetText string `json:"target_text"`
}

// Model is an immutable tokenization of one prompt. Indices are 0..n-1.
// Generation changes every time a completion replaces its model, so anything
// computed against an older generation can be detected as stale.
type Model struct {
	Generation uint64
	Text       string
	ModelName  string
	tokens     []Token
}

// NewModel builds a model from the token texts in order.
func NewModel(generation uint64, text, modelName string, pieces []string) *Model {
	toks := make([]Token, len(pieces))
	for i, p := range pieces {
		toks[i] = Token{Idx: i, Text: p, TargetID: NoTarget}
	}
	return &Model{
		Generation: generation,
		Text:       text,
		ModelName:  modelName,
		tokens:     toks,
	}
}

func (m *Model) Len() int {
	if m == nil {
		return 0
	}
	return len(m.tokens)
}

func (m *Model) Valid(idx int) bool {
	return idx >= 0 && idx < m.Len()
}

// At returns the token at idx. ok is false when idx is out of range.
func (m *Model) At(idx int) (Token, bool) {
	if !m.Valid(idx) {
		return Token{}, false
	}
	return m.tokens[idx], true
}

// Tokens returns a copy of the token sequence.
func (m *Model) Tokens() []Token {
	if m == nil {
		return nil
	}
	out := make([]Token, len(m.tokens))
	copy(out, m.tokens)
	return out
}

// Remap returns the predicate deciding which indices of prev survive the
// switch to next. The first model of a completion (prev == nil) keeps every
// in-range index; after that an index survives only if the token text at that
// position did not change.
func Remap(prev, next *Model) func(int) bool {
	if prev == nil {
		return next.Valid
	}
	return func(idx int) bool {
		a, ok := prev.At(idx)
		if !ok {
			return false
		}
		b, ok := next.At(idx)
		if !ok {
			return false
		}
		return a.Text == b.Text
	}
}
