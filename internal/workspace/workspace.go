// Package workspace persists the completions of the workbench as one JSON
// file, guarded by a lock file so only one instance writes it.
package workspace

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/gofrs/flock"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/kobzarvs/lensbench/internal/completion"
)

var (
	ErrLocked   = errors.New("workspace is locked by another process")
	ErrNotFound = errors.New("completion not found")
)

const fileVersion = 1

// File is the on-disk layout.
type File struct {
	Version     int                      `json:"version"`
	Completions []*completion.Completion `json:"completions"`
	Active      string                   `json:"active,omitempty"`
	LastSaved   time.Time                `json:"last_saved"`
}

type Options struct {
	// Path of the workspace file. Empty means DefaultPath.
	Path string
	// Autosave interval. Zero disables the autosave loop.
	Autosave time.Duration
	Logger   *zap.Logger
}

// Store handles workspace persistence
type Store struct {
	mu       sync.RWMutex
	file     File
	path     string
	lock     *flock.Flock
	dirty    bool
	log      *zap.Logger
	stopChan chan struct{}
	stopOnce sync.Once
}

// New opens the workspace at opts.Path, taking its lock and loading any
// saved completions.
func New(opts Options) (*Store, error) {
	path := opts.Path
	if path == "" {
		var err error
		if path, err = DefaultPath(); err != nil {
			return nil, err
		}
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}
	log := opts.Logger
	if log == nil {
		log = zap.NewNop()
	}

	lock := flock.New(path + ".lock")
	ok, err := lock.TryLock()
	if err != nil {
		return nil, fmt.Errorf("lock workspace: %w", err)
	}
	if !ok {
		return nil, ErrLocked
	}

	s := &Store{
		file:     File{Version: fileVersion},
		path:     path,
		lock:     lock,
		log:      log,
		stopChan: make(chan struct{}),
	}
	s.load()

	if opts.Autosave > 0 {
		go s.autosaveLoop(opts.Autosave)
	}
	return s, nil
}

// DefaultPath is $XDG_STATE_HOME/lensbench/workspace.json.
func DefaultPath() (string, error) {
	stateDir := os.Getenv("XDG_STATE_HOME")
	if stateDir == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", err
		}
		stateDir = filepath.Join(home, ".local", "state")
	}
	return filepath.Join(stateDir, "lensbench", "workspace.json"), nil
}

func (s *Store) Path() string { return s.path }

func (s *Store) load() {
	data, err := os.ReadFile(s.path)
	if err != nil {
		return // No existing workspace, start fresh
	}
	var f File
	if err := json.Unmarshal(data, &f); err != nil {
		backup := s.path + ".corrupt"
		s.log.Warn("workspace unreadable, starting fresh", zap.String("backup", backup), zap.Error(err))
		_ = os.Rename(s.path, backup)
		return
	}
	kept := f.Completions[:0]
	for _, c := range f.Completions {
		if c == nil || c.ID == "" {
			continue
		}
		kept = append(kept, c)
	}
	f.Completions = kept
	f.Version = fileVersion
	s.file = f
	s.log.Info("workspace loaded", zap.String("path", s.path), zap.Int("completions", len(f.Completions)))
}

// List returns copies of all completions in order.
func (s *Store) List() []*completion.Completion {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*completion.Completion, len(s.file.Completions))
	for i, c := range s.file.Completions {
		out[i] = c.Clone()
	}
	return out
}

func (s *Store) Get(id string) (*completion.Completion, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if i := s.indexLocked(id); i >= 0 {
		return s.file.Completions[i].Clone(), true
	}
	return nil, false
}

func (s *Store) indexLocked(id string) int {
	for i, c := range s.file.Completions {
		if c.ID == id {
			return i
		}
	}
	return -1
}

// Add creates a completion with a fresh id and returns a copy of it.
func (s *Store) Add(name, prompt, model string) *completion.Completion {
	s.mu.Lock()
	defer s.mu.Unlock()
	if name == "" {
		name = fmt.Sprintf("Completion %d", len(s.file.Completions)+1)
	}
	c := &completion.Completion{
		ID:     uuid.NewString(),
		Name:   name,
		Prompt: prompt,
		Model:  model,
	}
	s.file.Completions = append(s.file.Completions, c)
	s.file.Active = c.ID
	s.dirty = true
	return c.Clone()
}

// Update replaces the stored completion with the same id.
func (s *Store) Update(c *completion.Completion) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	i := s.indexLocked(c.ID)
	if i < 0 {
		return ErrNotFound
	}
	s.file.Completions[i] = c.Clone()
	s.dirty = true
	return nil
}

func (s *Store) Delete(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	i := s.indexLocked(id)
	if i < 0 {
		return ErrNotFound
	}
	s.file.Completions = append(s.file.Completions[:i], s.file.Completions[i+1:]...)
	if s.file.Active == id {
		s.file.Active = ""
		if n := len(s.file.Completions); n > 0 {
			s.file.Active = s.file.Completions[min(i, n-1)].ID
		}
	}
	s.dirty = true
	return nil
}

func (s *Store) SetActive(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.file.Active == id {
		return
	}
	s.file.Active = id
	s.dirty = true
}

func (s *Store) Active() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.file.Active
}

// Save persists the workspace if it changed since the last save.
func (s *Store) Save() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.dirty {
		return nil
	}

	s.file.LastSaved = time.Now()
	data, err := json.MarshalIndent(s.file, "", "  ")
	if err != nil {
		return err
	}

	tmp := s.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return err
	}
	if err := os.Rename(tmp, s.path); err != nil {
		return err
	}

	s.dirty = false
	return nil
}

// ForceSave saves even if not dirty
func (s *Store) ForceSave() error {
	s.mu.Lock()
	s.dirty = true
	s.mu.Unlock()
	return s.Save()
}

func (s *Store) autosaveLoop(interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			if err := s.Save(); err != nil {
				s.log.Warn("autosave failed", zap.Error(err))
			}
		case <-s.stopChan:
			return
		}
	}
}

// Stop stops the autosave loop, saves final state and releases the lock.
func (s *Store) Stop() error {
	var err error
	s.stopOnce.Do(func() {
		close(s.stopChan)
		err = s.ForceSave()
		if uerr := s.lock.Unlock(); uerr != nil && err == nil {
			err = uerr
		}
	})
	return err
}
