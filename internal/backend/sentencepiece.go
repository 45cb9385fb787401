package backend

import (
	"context"
	"sync"

	esentencepiece "github.com/eliben/go-sentencepiece"
	"github.com/pkg/errors"
)

// SentencePiece tokenizes locally from a "tokenizer.model" protobuf file.
// The processor is loaded on first use.
type SentencePiece struct {
	path string

	once sync.Once
	proc *esentencepiece.Processor
	err  error
}

var _ Tokenizer = (*SentencePiece)(nil)

func NewSentencePiece(path string) *SentencePiece {
	return &SentencePiece{path: path}
}

func (s *SentencePiece) load() (*esentencepiece.Processor, error) {
	s.once.Do(func() {
		s.proc, s.err = esentencepiece.NewProcessorFromPath(s.path)
		if s.err != nil {
			s.err = errors.Wrapf(s.err, "can't create sentencepiece tokenizer from %q", s.path)
		}
	})
	return s.proc, s.err
}

func (s *SentencePiece) Tokenize(ctx context.Context, text, model string) ([]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	proc, err := s.load()
	if err != nil {
		return nil, err
	}
	toks := proc.Encode(text)
	pieces := make([]string, len(toks))
	for i, t := range toks {
		pieces[i] = t.Text
	}
	return pieces, nil
}
