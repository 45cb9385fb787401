package backend

import (
	"context"
	"strings"
	"sync"
	"unicode"
)

// Mock is a deterministic in-process Client. It splits on word boundaries,
// keeping leading spaces on the following piece, and predicts the next piece
// of the prompt for every requested index.
type Mock struct {
	mu            sync.Mutex
	ModelNames    ModelList
	TokenizeCalls int
	PredictCalls  int
	LastPredict   PredictRequest

	// Err, when set, is returned by every call.
	Err error
}

var _ Client = (*Mock)(nil)

func NewMock(models ...string) *Mock {
	if len(models) == 0 {
		models = []string{"mock"}
	}
	return &Mock{ModelNames: ModelList{Base: models}}
}

// SplitWords is the mock tokenization.
func SplitWords(text string) []string {
	var pieces []string
	var cur strings.Builder
	inWord := false
	for _, r := range text {
		space := unicode.IsSpace(r)
		if space && inWord {
			pieces = append(pieces, cur.String())
			cur.Reset()
		}
		cur.WriteRune(r)
		inWord = !space
	}
	if cur.Len() > 0 {
		pieces = append(pieces, cur.String())
	}
	return pieces
}

func (m *Mock) Tokenize(ctx context.Context, text, model string) ([]string, error) {
	m.mu.Lock()
	m.TokenizeCalls++
	err := m.Err
	m.mu.Unlock()
	if err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return SplitWords(text), nil
}

func (m *Mock) Predict(ctx context.Context, req PredictRequest) (Predictions, error) {
	m.mu.Lock()
	m.PredictCalls++
	m.LastPredict = req
	err := m.Err
	m.mu.Unlock()
	if err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	pieces := SplitWords(req.Completion.Prompt)
	out := Predictions{}
	for _, a := range req.Tokens {
		next := "<eos>"
		if a.Idx+1 < len(pieces) {
			next = pieces[a.Idx+1]
		}
		out[a.Idx] = []Prediction{
			{ID: a.Idx + 1, Text: next, Prob: 0.9},
			{ID: 0, Text: "<unk>", Prob: 0.1},
		}
	}
	return out, nil
}

func (m *Mock) Models(ctx context.Context) (ModelList, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.Err != nil {
		return ModelList{}, m.Err
	}
	return m.ModelNames, nil
}

// Calls returns the tokenize and predict call counts.
func (m *Mock) Calls() (tokenize, predict int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.TokenizeCalls, m.PredictCalls
}
