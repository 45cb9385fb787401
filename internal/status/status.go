// Package status tracks long-running backend work for the status indicator.
//
// A Channel is shared by every completion in the workbench. Callers take a
// Lease around each request; the transport stays open while at least one
// lease is held, so one completion finishing never hides another's progress.
package status

import (
	"context"
	"sync"

	"go.uber.org/zap"
)

type EventType int

const (
	EventJobSent EventType = iota
	EventStatusUpdate
	EventConnected
)

func (t EventType) String() string {
	switch t {
	case EventJobSent:
		return "job-sent"
	case EventStatusUpdate:
		return "status-update"
	case EventConnected:
		return "connected"
	}
	return "unknown"
}

// Code is a structured outcome attached to a status update by backends that
// support it. CodeNone means only the free-form Status text is available.
type Code string

const (
	CodeNone    Code = ""
	CodeLoading Code = "loading"
	CodeSuccess Code = "success"
	CodeError   Code = "error"
)

// Event is one message from the status stream.
type Event struct {
	Type        EventType
	Status      string  // EventStatusUpdate
	Progress    float64 // EventStatusUpdate, valid when HasProgress
	HasProgress bool
	Code        Code   // EventStatusUpdate
	Message     string // EventConnected
}

// Snapshot is the passive read surface of a Channel.
type Snapshot struct {
	Connected bool
	Enabled   bool
	LastError string
	LastEvent *Event
}

// Sink receives transport callbacks. Methods may be called from any goroutine.
type Sink interface {
	Connected()
	Event(Event)
	Error(error)
}

// Transport delivers status events while open.
type Transport interface {
	Open(ctx context.Context, sink Sink) error
	Close() error
}

// Channel is the shared, reference-counted status notifier.
type Channel struct {
	// life is held across transport Open and Close so a new first lease
	// never overlaps the close of the previous one.
	life      sync.Mutex
	mu        sync.Mutex
	transport Transport
	log       *zap.Logger
	refs      int
	snap      Snapshot
	cancel    context.CancelFunc
	listeners []func(Snapshot)
}

// NewChannel creates a channel. transport may be nil, in which case only the
// enabled flag and lease count change.
func NewChannel(transport Transport, log *zap.Logger) *Channel {
	if log == nil {
		log = zap.NewNop()
	}
	return &Channel{transport: transport, log: log}
}

// Subscribe registers fn to be called after every snapshot change.
func (c *Channel) Subscribe(fn func(Snapshot)) {
	c.mu.Lock()
	c.listeners = append(c.listeners, fn)
	c.mu.Unlock()
}

// Snapshot returns a copy of the current state.
func (c *Channel) Snapshot() Snapshot {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.copySnapLocked()
}

func (c *Channel) copySnapLocked() Snapshot {
	s := c.snap
	if s.LastEvent != nil {
		ev := *s.LastEvent
		s.LastEvent = &ev
	}
	return s
}

// Active returns the number of outstanding leases.
func (c *Channel) Active() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.refs
}

// Lease is one caller's hold on the channel.
type Lease struct {
	c    *Channel
	once sync.Once
}

// Start takes a lease. The first lease enables the channel and opens the
// transport.
func (c *Channel) Start() *Lease {
	c.life.Lock()
	defer c.life.Unlock()

	c.mu.Lock()
	c.refs++
	first := c.refs == 1
	var ctx context.Context
	if first {
		c.snap = Snapshot{Enabled: true}
		ctx, c.cancel = context.WithCancel(context.Background())
	}
	transport := c.transport
	c.mu.Unlock()

	if first {
		c.log.Debug("status channel enabled")
		if transport != nil {
			if err := transport.Open(ctx, channelSink{c}); err != nil {
				c.log.Warn("status transport open failed", zap.Error(err))
				channelSink{c}.Error(err)
			}
		}
		c.notify()
	}
	return &Lease{c: c}
}

// Stop releases the lease. Calling it more than once has no further effect.
func (l *Lease) Stop() {
	if l == nil {
		return
	}
	l.once.Do(l.c.release)
}

func (c *Channel) release() {
	c.life.Lock()
	defer c.life.Unlock()

	c.mu.Lock()
	if c.refs == 0 {
		c.mu.Unlock()
		return
	}
	c.refs--
	last := c.refs == 0
	var cancel context.CancelFunc
	if last {
		c.snap.Enabled = false
		c.snap.Connected = false
		cancel = c.cancel
		c.cancel = nil
	}
	transport := c.transport
	c.mu.Unlock()

	if !last {
		return
	}
	if cancel != nil {
		cancel()
	}
	if transport != nil {
		if err := transport.Close(); err != nil {
			c.log.Debug("status transport close", zap.Error(err))
		}
	}
	c.log.Debug("status channel disabled")
	c.notify()
}

func (c *Channel) notify() {
	c.mu.Lock()
	snap := c.copySnapLocked()
	listeners := make([]func(Snapshot), len(c.listeners))
	copy(listeners, c.listeners)
	c.mu.Unlock()
	for _, fn := range listeners {
		fn(snap)
	}
}

type channelSink struct{ c *Channel }

func (s channelSink) Connected() {
	s.update(func(snap *Snapshot) {
		snap.Connected = true
		snap.LastError = ""
	})
}

func (s channelSink) Event(ev Event) {
	s.update(func(snap *Snapshot) {
		if ev.Type == EventConnected {
			snap.Connected = true
		}
		snap.LastEvent = &ev
	})
}

func (s channelSink) Error(err error) {
	if err == nil {
		return
	}
	s.update(func(snap *Snapshot) {
		snap.LastError = err.Error()
	})
}

// update drops callbacks that arrive while no lease is held.
func (s channelSink) update(fn func(*Snapshot)) {
	s.c.mu.Lock()
	if s.c.refs == 0 {
		s.c.mu.Unlock()
		return
	}
	fn(&s.c.snap)
	s.c.mu.Unlock()
	s.c.notify()
}
