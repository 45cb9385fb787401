package backend

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kobzarvs/lensbench/internal/status"
	"github.com/kobzarvs/lensbench/internal/tokens"
)

func TestHTTPClientTokenize(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/tokenize", r.URL.Path)
		assert.Equal(t, "secret", r.Header.Get("X-Api-Key"))
		var req tokenizeRequest
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "The cat sat", req.Text)
		assert.Equal(t, "m1", req.Model)
		_, _ = w.Write([]byte(`[{"id":1,"text":"The"},{"id":2,"text":" cat"},{"id":3,"text":" sat"}]`))
	}))
	defer srv.Close()

	c := NewHTTPClient(Options{BaseURL: srv.URL, Headers: map[string]string{"X-Api-Key": "secret"}})
	pieces, err := c.Tokenize(context.Background(), "The cat sat", "m1")
	require.NoError(t, err)
	assert.Equal(t, []string{"The", " cat", " sat"}, pieces)
}

func TestHTTPClientPredict(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		var req PredictRequest
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		if assert.Len(t, req.Tokens, 1) {
			assert.Equal(t, tokens.Annotation{Idx: 1, TargetID: tokens.NoTarget}, req.Tokens[0])
		}
		assert.Equal(t, "c1", req.Completion.ID)
		_, _ = w.Write([]byte(`{"1":[{"id":9,"text":" dog","prob":0.75}]}`))
	}))
	defer srv.Close()

	c := NewHTTPClient(Options{BaseURL: srv.URL + "/", PredictPath: "predict"})
	got, err := c.Predict(context.Background(), PredictRequest{
		Completion: CompletionPayload{ID: "c1"},
		Model:      "m1",
		Tokens:     []tokens.Annotation{{Idx: 1, TargetID: tokens.NoTarget}},
	})
	require.NoError(t, err)
	require.Contains(t, got, 1)
	assert.Equal(t, " dog", got[1][0].Text)
	assert.InDelta(t, 0.75, got[1][0].Prob, 1e-9)
}

func TestHTTPClientStatusError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "model not loaded", http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	c := NewHTTPClient(Options{BaseURL: srv.URL})
	_, err := c.Models(context.Background())
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrStatus))
	var se *StatusError
	require.True(t, errors.As(err, &se))
	assert.Equal(t, http.StatusServiceUnavailable, se.Code)
	assert.Contains(t, se.Body, "model not loaded")
}

func TestHTTPClientTimeout(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		<-r.Context().Done()
	}))
	defer srv.Close()

	c := NewHTTPClient(Options{BaseURL: srv.URL})
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	_, err := c.Tokenize(ctx, "x", "m")
	require.Error(t, err)
	assert.True(t, errors.Is(err, context.DeadlineExceeded))
}

func TestRouterUsesLocalTokenizer(t *testing.T) {
	remote := NewMock()
	local := &fixedTokenizer{pieces: []string{"local"}}
	r := &Router{Remote: remote, Local: map[string]Tokenizer{"spm": local}}

	pieces, err := r.Tokenize(context.Background(), "a b", "spm")
	require.NoError(t, err)
	assert.Equal(t, []string{"local"}, pieces)

	pieces, err = r.Tokenize(context.Background(), "a b", "other")
	require.NoError(t, err)
	assert.Equal(t, []string{"a", " b"}, pieces)
	tok, _ := remote.Calls()
	assert.Equal(t, 1, tok)
}

func TestSentencePieceMissingFile(t *testing.T) {
	sp := NewSentencePiece(t.TempDir() + "/tokenizer.model")
	_, err := sp.Tokenize(context.Background(), "hello", "m")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "can't create sentencepiece tokenizer")
}

func TestSplitWords(t *testing.T) {
	assert.Equal(t, []string{"The", " cat", " sat"}, SplitWords("The cat sat"))
	assert.Equal(t, []string{"  a", " "}, SplitWords("  a "))
	assert.Empty(t, SplitWords(""))
}

func TestMockPredict(t *testing.T) {
	m := NewMock()
	got, err := m.Predict(context.Background(), PredictRequest{
		Completion: CompletionPayload{Prompt: "The cat sat"},
		Tokens:     []tokens.Annotation{{Idx: 1}, {Idx: 2}},
	})
	require.NoError(t, err)
	assert.Equal(t, " sat", got[1][0].Text)
	assert.Equal(t, "<eos>", got[2][0].Text)
}

type fixedTokenizer struct{ pieces []string }

func (f *fixedTokenizer) Tokenize(context.Context, string, string) ([]string, error) {
	return f.pieces, nil
}

type recordingSink struct {
	mu        sync.Mutex
	connected bool
	events    []status.Event
	errs      []error
	got       chan struct{}
}

func (s *recordingSink) Connected() {
	s.mu.Lock()
	s.connected = true
	s.mu.Unlock()
}

func (s *recordingSink) Event(ev status.Event) {
	s.mu.Lock()
	s.events = append(s.events, ev)
	n := len(s.events)
	s.mu.Unlock()
	if n == 2 {
		close(s.got)
	}
}

func (s *recordingSink) Error(err error) {
	s.mu.Lock()
	s.errs = append(s.errs, err)
	s.mu.Unlock()
}

func TestStatusStream(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/x-ndjson")
		_, _ = w.Write([]byte("{\"type\":\"job-sent\"}\n\n{\"type\":\"status-update\",\"status\":\"Running\",\"progress\":50,\"code\":\"loading\"}\n"))
		w.(http.Flusher).Flush()
		<-r.Context().Done()
	}))
	defer srv.Close()

	s := NewStatusStream(srv.URL, "", nil)
	sink := &recordingSink{got: make(chan struct{})}
	require.NoError(t, s.Open(context.Background(), sink))
	select {
	case <-sink.got:
	case <-time.After(2 * time.Second):
		t.Fatalf("timeout waiting for status events")
	}
	require.NoError(t, s.Close())

	sink.mu.Lock()
	defer sink.mu.Unlock()
	assert.True(t, sink.connected)
	require.Len(t, sink.events, 2)
	assert.Equal(t, status.EventJobSent, sink.events[0].Type)
	ev := sink.events[1]
	assert.Equal(t, status.EventStatusUpdate, ev.Type)
	assert.True(t, ev.HasProgress)
	assert.Equal(t, 50.0, ev.Progress)
	assert.Equal(t, status.CodeLoading, ev.Code)
	assert.Empty(t, sink.errs)
}
