package connectivity

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"
)

// ManualSource is a Source driven by code: tests, or a forced state from
// the command line.
type ManualSource struct {
	mu     sync.Mutex
	online bool
	events chan bool
}

// NewManualSource returns a source with the given initial state.
func NewManualSource(online bool) *ManualSource {
	return &ManualSource{online: online, events: make(chan bool, 16)}
}

// Online implements Source.
func (s *ManualSource) Online() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.online
}

// Events implements Source.
func (s *ManualSource) Events() <-chan bool {
	return s.events
}

// Set emits a platform signal. It blocks if the event buffer is full.
func (s *ManualSource) Set(online bool) {
	s.mu.Lock()
	s.online = online
	s.mu.Unlock()
	s.events <- online
}

// FileSource treats the presence of a marker file as "online". A network
// manager hook (or an operator) creates and removes the file; fsnotify
// delivers the changes.
type FileSource struct {
	path    string
	watcher *fsnotify.Watcher
	events  chan bool
	logger  *zap.Logger
	closing chan struct{}
	done    chan struct{}
	once    sync.Once
}

// NewFileSource watches the directory containing path.
func NewFileSource(path string, logger *zap.Logger) (*FileSource, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("resolve marker path: %w", err)
	}
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("create watcher: %w", err)
	}
	if err := w.Add(filepath.Dir(abs)); err != nil {
		w.Close()
		return nil, fmt.Errorf("watch %s: %w", filepath.Dir(abs), err)
	}
	s := &FileSource{
		path:    abs,
		watcher: w,
		events:  make(chan bool, 16),
		logger:  logger,
		closing: make(chan struct{}),
		done:    make(chan struct{}),
	}
	go s.loop()
	return s, nil
}

// Online implements Source.
func (s *FileSource) Online() bool {
	_, err := os.Stat(s.path)
	return err == nil
}

// Events implements Source. The channel closes after Close.
func (s *FileSource) Events() <-chan bool {
	return s.events
}

// Close stops watching.
func (s *FileSource) Close() error {
	var err error
	s.once.Do(func() {
		close(s.closing)
		err = s.watcher.Close()
		<-s.done
	})
	return err
}

func (s *FileSource) loop() {
	defer close(s.done)
	defer close(s.events)
	for {
		select {
		case <-s.closing:
			return
		case ev, ok := <-s.watcher.Events:
			if !ok {
				return
			}
			if filepath.Clean(ev.Name) != s.path {
				continue
			}
			if ev.Has(fsnotify.Create) || ev.Has(fsnotify.Remove) || ev.Has(fsnotify.Rename) {
				select {
				case s.events <- s.Online():
				case <-s.closing:
					return
				}
			}
		case err, ok := <-s.watcher.Errors:
			if !ok {
				return
			}
			s.logger.Warn("connectivity watcher error", zap.Error(err))
		}
	}
}
