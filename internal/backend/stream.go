package backend

import (
	"bufio"
	"context"
	"encoding/json"
	"net/http"
	"strings"
	"sync"

	"github.com/pkg/errors"

	"github.com/kobzarvs/lensbench/internal/status"
)

// StatusStream reads newline-delimited JSON status events from the server.
// It implements status.Transport.
type StatusStream struct {
	url     string
	headers map[string]string
	client  *http.Client

	mu     sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}
}

var _ status.Transport = (*StatusStream)(nil)

func NewStatusStream(baseURL, path string, headers map[string]string) *StatusStream {
	if path == "" {
		path = "/status/stream"
	}
	return &StatusStream{
		url:     joinURL(baseURL, path),
		headers: headers,
		client:  &http.Client{},
	}
}

type wireEvent struct {
	Type     string   `json:"type"`
	Status   string   `json:"status"`
	Progress *float64 `json:"progress"`
	Code     string   `json:"code"`
	Message  string   `json:"message"`
}

func (w wireEvent) event() (status.Event, bool) {
	switch w.Type {
	case "job-sent":
		return status.Event{Type: status.EventJobSent}, true
	case "status-update":
		ev := status.Event{Type: status.EventStatusUpdate, Status: w.Status, Code: status.Code(w.Code)}
		if w.Progress != nil {
			ev.Progress = *w.Progress
			ev.HasProgress = true
		}
		return ev, true
	case "connected":
		return status.Event{Type: status.EventConnected, Message: w.Message}, true
	}
	return status.Event{}, false
}

// Open starts reading in the background. It returns once the request has
// been started; connection failures are reported through sink.
func (s *StatusStream) Open(ctx context.Context, sink status.Sink) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cancel != nil {
		return errors.New("status stream already open")
	}
	ctx, cancel := context.WithCancel(ctx)
	s.cancel = cancel
	s.done = make(chan struct{})
	go s.run(ctx, sink, s.done)
	return nil
}

func (s *StatusStream) run(ctx context.Context, sink status.Sink, done chan struct{}) {
	defer close(done)
	err := s.read(ctx, sink)
	if err != nil && ctx.Err() == nil {
		sink.Error(err)
	}
}

func (s *StatusStream) read(ctx context.Context, sink status.Sink) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.url, nil)
	if err != nil {
		return errors.Wrapf(err, "build request %s", s.url)
	}
	req.Header.Set("Accept", "application/x-ndjson")
	for k, v := range s.headers {
		req.Header.Set(k, v)
	}
	resp, err := s.client.Do(req)
	if err != nil {
		return errors.Wrap(err, "status stream")
	}
	defer resp.Body.Close()
	if resp.StatusCode/100 != 2 {
		return errors.WithStack(&StatusError{Code: resp.StatusCode})
	}
	sink.Connected()
	sc := bufio.NewScanner(resp.Body)
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if line == "" {
			continue
		}
		var w wireEvent
		if err := json.Unmarshal([]byte(line), &w); err != nil {
			return errors.Wrap(err, "decode status event")
		}
		if ev, ok := w.event(); ok {
			sink.Event(ev)
		}
	}
	return errors.Wrap(sc.Err(), "read status stream")
}

// Close stops the reader and waits for it to exit.
func (s *StatusStream) Close() error {
	s.mu.Lock()
	cancel, done := s.cancel, s.done
	s.cancel, s.done = nil, nil
	s.mu.Unlock()
	if cancel == nil {
		return nil
	}
	cancel()
	<-done
	return nil
}
