// Package completion sequences tokenization, annotation reconciliation and
// prediction requests for one completion of the workbench.
package completion

import (
	"context"
	"errors"

	"github.com/kobzarvs/lensbench/internal/backend"
	"github.com/kobzarvs/lensbench/internal/tokens"
)

// Completion is the persisted part of one prompt card.
type Completion struct {
	ID     string             `json:"id"`
	Name   string             `json:"name"`
	Prompt string             `json:"prompt"`
	Model  string             `json:"model"`
	Tokens tokens.Annotations `json:"tokens"`
}

// Clone returns a deep copy.
func (c *Completion) Clone() *Completion {
	cp := *c
	cp.Tokens = append(tokens.Annotations(nil), c.Tokens...)
	return &cp
}

func (c *Completion) payload() backend.CompletionPayload {
	return backend.CompletionPayload{
		ID:     c.ID,
		Name:   c.Name,
		Prompt: c.Prompt,
		Model:  c.Model,
		Tokens: append([]tokens.Annotation(nil), c.Tokens...),
	}
}

var (
	ErrNoModel         = errors.New("no model selected")
	ErrEmptyPrompt     = errors.New("prompt is empty")
	ErrBusy            = errors.New("request already in flight")
	ErrNothingSelected = errors.New("no tokens highlighted")
	ErrNotHighlighted  = errors.New("token is not highlighted")
	ErrClosed          = errors.New("completion deleted")

	// ErrStale marks a response computed against state that has since changed.
	ErrStale = errors.New("stale response")
)

type ErrorKind int

const (
	KindNone ErrorKind = iota
	KindPrecondition
	KindTransport
	KindConsistency
	KindCanceled
)

func (k ErrorKind) String() string {
	switch k {
	case KindNone:
		return "none"
	case KindPrecondition:
		return "precondition"
	case KindTransport:
		return "transport"
	case KindConsistency:
		return "consistency"
	case KindCanceled:
		return "canceled"
	}
	return "unknown"
}

// Classify sorts an operation error into the taxonomy used for logging and
// the status line.
func Classify(err error) ErrorKind {
	switch {
	case err == nil:
		return KindNone
	case errors.Is(err, ErrNoModel), errors.Is(err, ErrEmptyPrompt), errors.Is(err, ErrBusy),
		errors.Is(err, ErrNothingSelected), errors.Is(err, ErrNotHighlighted), errors.Is(err, ErrClosed):
		return KindPrecondition
	case errors.Is(err, ErrStale):
		return KindConsistency
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return KindCanceled
	}
	return KindTransport
}
