package rules

import (
	"fmt"
	"log/slog"
	"os"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"gopkg.in/yaml.v3"
)

// Loader owns the signature rule table. It loads rules from a YAML file,
// keeps an immutable snapshot for readers, and optionally watches the file
// for changes.
type Loader struct {
	path       string
	hotReload  bool
	debounceMs int
	logger     *slog.Logger

	mu       sync.RWMutex
	snapshot *Snapshot

	watcher *fsnotify.Watcher
	stopCh  chan struct{}
}

// NewLoader creates a rule loader. An empty path means the built-in table
// is used and hot reload is disabled.
func NewLoader(path string, hotReload bool, debounceMs int, logger *slog.Logger) *Loader {
	return &Loader{
		path:       path,
		hotReload:  hotReload && path != "",
		debounceMs: debounceMs,
		logger:     logger,
		snapshot:   DefaultSnapshot(),
	}
}

// LoadSnapshot loads the rule file and swaps in a new snapshot. A missing
// or invalid file leaves the previous snapshot (built-in on first load) in
// place; the load error is returned for logging but is never fatal.
func (l *Loader) LoadSnapshot() (*Snapshot, error) {
	if l.path == "" {
		return l.GetSnapshot(), nil
	}

	data, err := os.ReadFile(l.path)
	if err != nil {
		return l.GetSnapshot(), fmt.Errorf("failed to read rule file: %w", err)
	}

	var file RuleFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return l.GetSnapshot(), fmt.Errorf("failed to parse rule file: %w", err)
	}

	var valid []Rule
	for _, rule := range file.Rules {
		if err := rule.Validate(); err != nil {
			l.logger.Warn("Invalid rule skipped", "file", l.path, "error", err)
			continue
		}
		valid = append(valid, rule)
	}

	if len(valid) == 0 {
		return l.GetSnapshot(), fmt.Errorf("rule file %s contains no valid rules", l.path)
	}

	snapshot := newSnapshot(file.Version, valid)

	l.mu.Lock()
	l.snapshot = snapshot
	l.mu.Unlock()

	l.logger.Info("Rule snapshot loaded",
		"file", l.path,
		"version", file.Version,
		"rules", len(valid),
		"skipped", len(file.Rules)-len(valid))

	return snapshot, nil
}

// GetSnapshot returns the current rule snapshot.
func (l *Loader) GetSnapshot() *Snapshot {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.snapshot
}

// WatchForChanges starts an fsnotify watcher on the rule file when hot
// reload is enabled. Reloads are debounced so editors that write in several
// steps trigger a single reload.
func (l *Loader) WatchForChanges() error {
	if !l.hotReload {
		return nil
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to create rule watcher: %w", err)
	}
	if err := watcher.Add(l.path); err != nil {
		watcher.Close()
		return fmt.Errorf("failed to watch rule file %s: %w", l.path, err)
	}

	l.watcher = watcher
	l.stopCh = make(chan struct{})

	go l.watchLoop()

	l.logger.Info("Watching rule file for changes", "file", l.path, "debounce_ms", l.debounceMs)
	return nil
}

func (l *Loader) watchLoop() {
	var timer *time.Timer
	debounce := time.Duration(l.debounceMs) * time.Millisecond

	for {
		select {
		case event, ok := <-l.watcher.Events:
			if !ok {
				return
			}
			if event.Op&(fsnotify.Write|fsnotify.Create) == 0 {
				continue
			}
			if timer != nil {
				timer.Stop()
			}
			timer = time.AfterFunc(debounce, func() {
				if _, err := l.LoadSnapshot(); err != nil {
					l.logger.Warn("Rule reload failed, keeping previous snapshot", "error", err)
				}
			})
		case err, ok := <-l.watcher.Errors:
			if !ok {
				return
			}
			l.logger.Warn("Rule watcher error", "error", err)
		case <-l.stopCh:
			return
		}
	}
}

// Close stops the watcher if one is running.
func (l *Loader) Close() {
	if l.stopCh != nil {
		close(l.stopCh)
		l.stopCh = nil
	}
	if l.watcher != nil {
		l.watcher.Close()
		l.watcher = nil
	}
}
