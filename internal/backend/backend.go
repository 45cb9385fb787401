// Package backend talks to the inference server: tokenization, prediction
// requests and the model list, plus a local SentencePiece tokenizer for
// models whose tokenizer file is available on disk.
package backend

import (
	"context"
	"fmt"

	"github.com/pkg/errors"

	"github.com/kobzarvs/lensbench/internal/tokens"
)

// ErrStatus is matched by every non-2xx response from the server.
var ErrStatus = errors.New("backend: unexpected status")

// StatusError carries the status code and a prefix of the response body.
type StatusError struct {
	Code int
	Body string
}

func (e *StatusError) Error() string {
	if e.Body == "" {
		return fmt.Sprintf("backend: status %d", e.Code)
	}
	return fmt.Sprintf("backend: status %d: %s", e.Code, e.Body)
}

func (e *StatusError) Is(target error) bool { return target == ErrStatus }

// Tokenizer splits text into token pieces for a model.
type Tokenizer interface {
	Tokenize(ctx context.Context, text, model string) ([]string, error)
}

// Client is everything the workbench needs from the server.
type Client interface {
	Tokenizer
	Predict(ctx context.Context, req PredictRequest) (Predictions, error)
	Models(ctx context.Context) (ModelList, error)
}

// CompletionPayload is the completion as sent inside a prediction request.
type CompletionPayload struct {
	ID     string              `json:"id"`
	Name   string              `json:"name"`
	Prompt string              `json:"prompt"`
	Model  string              `json:"model"`
	Tokens []tokens.Annotation `json:"tokens"`
}

// PredictRequest is the single request body of a prediction run.
type PredictRequest struct {
	Completion CompletionPayload   `json:"completion"`
	Model      string              `json:"model"`
	Tokens     []tokens.Annotation `json:"tokens"`
}

// Prediction is one candidate next token and its score.
type Prediction struct {
	ID   int     `json:"id"`
	Text string  `json:"text"`
	Prob float64 `json:"prob"`
}

// Predictions maps a token index to its candidates, best first.
type Predictions map[int][]Prediction

// ModelList is the server's model catalogue.
type ModelList struct {
	Base []string `json:"base"`
	Chat []string `json:"chat"`
}

// All returns base models followed by chat models.
func (m ModelList) All() []string {
	out := make([]string, 0, len(m.Base)+len(m.Chat))
	out = append(out, m.Base...)
	return append(out, m.Chat...)
}
