package backend

import (
	"context"
)

// Router sends tokenization for configured models to a local tokenizer and
// everything else to the remote client.
type Router struct {
	Remote Client
	Local  map[string]Tokenizer
}

var _ Client = (*Router)(nil)

// NewRouter builds a router with one SentencePiece tokenizer per entry of
// paths (model name -> tokenizer.model path).
func NewRouter(remote Client, paths map[string]string) *Router {
	local := make(map[string]Tokenizer, len(paths))
	for model, path := range paths {
		if path == "" {
			continue
		}
		local[model] = NewSentencePiece(path)
	}
	return &Router{Remote: remote, Local: local}
}

func (r *Router) Tokenize(ctx context.Context, text, model string) ([]string, error) {
	if tok, ok := r.Local[model]; ok {
		return tok.Tokenize(ctx, text, model)
	}
	return r.Remote.Tokenize(ctx, text, model)
}

func (r *Router) Predict(ctx context.Context, req PredictRequest) (Predictions, error) {
	return r.Remote.Predict(ctx, req)
}

func (r *Router) Models(ctx context.Context) (ModelList, error) {
	return r.Remote.Models(ctx)
}
