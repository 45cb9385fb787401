package app

import (
	"context"
	"errors"
	"fmt"
	"runtime"
	"sync"
	"sync/atomic"

	"github.com/gdamore/tcell/v2"

	"github.com/kobzarvs/lensbench/internal/backend"
	"github.com/kobzarvs/lensbench/internal/completion"
	"github.com/kobzarvs/lensbench/internal/config"
	"github.com/kobzarvs/lensbench/internal/logger"
	"github.com/kobzarvs/lensbench/internal/promptsyntax"
	"github.com/kobzarvs/lensbench/internal/status"
	"github.com/kobzarvs/lensbench/internal/workbench"
	"github.com/kobzarvs/lensbench/internal/workspace"
)

// Options are the command line settings.
type Options struct {
	Debug bool
	// ConfigPath replaces the default config file location.
	ConfigPath string
	// WorkspacePath replaces the default workspace file location.
	WorkspacePath string
	// Model overrides the configured default model.
	Model string
	// Backend is "http" or "mock".
	Backend string
}

// App is the top-level runtime for lensbench.
type App struct {
	opts Options
}

func New(opts Options) *App {
	return &App{opts: opts}
}

// screenLoop queues functions for the tcell event loop. Queued functions
// are never dropped: one interrupt wakes the loop, which runs everything
// pending, and the loop also drains the queue after every other event.
type screenLoop struct {
	s       tcell.Screen
	mu      sync.Mutex
	pending []func()
	woken   atomic.Bool
}

func newScreenLoop(s tcell.Screen) *screenLoop {
	return &screenLoop{s: s}
}

func (l *screenLoop) Post(fn func()) {
	l.mu.Lock()
	l.pending = append(l.pending, fn)
	l.mu.Unlock()
	l.Wake()
}

// Wake asks for a redraw. Calls made while a wake-up is already queued
// are coalesced into it.
func (l *screenLoop) Wake() {
	if !l.woken.CompareAndSwap(false, true) {
		return
	}
	if err := l.s.PostEvent(tcell.NewEventInterrupt(nil)); err != nil {
		// The queue is full, so the loop has events to process and
		// drains pending work after them.
		l.woken.Store(false)
		logger.Debug("event queue full, wake-up deferred", "error", err)
	}
}

// Run executes the queued functions. It must be called on the loop.
func (l *screenLoop) Run() {
	l.woken.Store(false)
	l.mu.Lock()
	fns := l.pending
	l.pending = nil
	l.mu.Unlock()
	for _, fn := range fns {
		fn()
	}
}

func (a *App) loadConfig() (config.Config, error) {
	if a.opts.ConfigPath != "" {
		return config.LoadFrom(a.opts.ConfigPath)
	}
	return config.Load()
}

// newClient builds the backend for the configured mode.
func newClient(mode string, cfg config.Config) (backend.Client, status.Transport, error) {
	switch mode {
	case "", "http":
		remote := backend.NewHTTPClient(backend.Options{
			BaseURL:      cfg.Backend.URL,
			TokenizePath: cfg.Backend.TokenizePath,
			PredictPath:  cfg.Backend.PredictPath,
			ModelsPath:   cfg.Backend.ModelsPath,
			Timeout:      cfg.Backend.TimeoutDuration(),
			Headers:      cfg.Backend.Headers,
		})
		stream := backend.NewStatusStream(cfg.Backend.URL, cfg.Backend.StatusPath, cfg.Backend.Headers)
		return backend.NewRouter(remote, cfg.Tokenizer.Models), stream, nil
	case "mock":
		return backend.NewMock(cfg.Workbench.Models...), nil, nil
	}
	return nil, nil, fmt.Errorf("unknown backend %q", mode)
}

func (a *App) Run() error {
	runtime.LockOSThread()
	cfg, err := a.loadConfig()
	if err != nil {
		return err
	}
	if err := logger.Init(a.opts.Debug); err != nil {
		return err
	}
	defer logger.Close()

	client, transport, err := newClient(a.opts.Backend, cfg)
	if err != nil {
		return err
	}

	store, err := workspace.New(workspace.Options{
		Path:     a.opts.WorkspacePath,
		Autosave: cfg.Workbench.AutosaveInterval(),
		Logger:   logger.Named("workspace"),
	})
	if errors.Is(err, workspace.ErrLocked) {
		return fmt.Errorf("workspace is open in another lensbench: %w", err)
	}
	if err != nil {
		return err
	}
	defer func() {
		if err := store.Stop(); err != nil {
			logger.Error("workspace save on exit failed", "error", err)
		}
	}()

	syntax, err := promptsyntax.New()
	if err != nil {
		logger.Warn("prompt highlighting disabled", "error", err)
		syntax = nil
	}

	s, err := tcell.NewScreen()
	if err != nil {
		return err
	}
	if err := s.Init(); err != nil {
		return err
	}
	s.EnableMouse()
	defer s.Fini()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	ch := status.NewChannel(transport, logger.Named("status"))
	loop := newScreenLoop(s)
	ch.Subscribe(func(status.Snapshot) { loop.Wake() })

	wb := workbench.New(ctx, workbench.Options{
		Config:  cfg,
		Store:   store,
		Backend: client,
		Status:  ch,
		Loop:    loop,
		Logger:  logger.Named("workbench"),
		Syntax:  syntax,
		Model:   a.opts.Model,
	})
	defer wb.Shutdown()

	go fetchModels(ctx, client, loop, wb)

	logger.Info("lensbench started", "workspace", store.Path(), "backend", a.opts.Backend)
	wb.Render(s)
	for {
		ev := s.PollEvent()
		switch ev := ev.(type) {
		case nil:
			return nil
		case *tcell.EventKey:
			if wb.HandleKey(ev) {
				return nil
			}
		case *tcell.EventMouse:
			wb.HandleMouse(ev)
		case *tcell.EventResize:
			s.Sync()
		case *tcell.EventInterrupt:
			// Queued work runs below.
		}
		loop.Run()
		wb.Render(s)
	}
}

// fetchModels asks the backend for its models and hands them to the
// workbench on the loop. A failure keeps the configured list.
func fetchModels(ctx context.Context, client backend.Client, loop completion.Loop, wb *workbench.Workbench) {
	list, err := client.Models(ctx)
	if err != nil {
		logger.Warn("model list unavailable, using configured models", "error", err)
		loop.Post(func() {
			wb.SetStatusMessage("model list unavailable: " + err.Error())
			wb.SetModels(backend.ModelList{})
		})
		return
	}
	loop.Post(func() { wb.SetModels(list) })
}
