package config

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"github.com/fsnotify/fsnotify"
)

// Manager owns the active rule set. Requests read the active variant
// through an atomic pointer so a file reload or variant switch is never
// observed mid-request.
type Manager struct {
	path       string
	backupDir  string
	logger     *slog.Logger

	active atomic.Pointer[Variant]

	mu       sync.Mutex // guards variants and reload/backup bookkeeping
	variants map[string]Variant
	lastRaw  []byte // last known-good file content, backed up before a swap
}

// NewManager loads the rules file at path and returns a manager with the
// file's active variant installed.
func NewManager(path, backupDir string, logger *slog.Logger) (*Manager, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: read rules %s: %w", path, err)
	}
	rules, err := ParseRules(data)
	if err != nil {
		return nil, err
	}

	m := &Manager{
		path:      path,
		backupDir: backupDir,
		logger:    logger,
		variants:  rules.Variants,
		lastRaw:   data,
	}
	av := rules.Variants[rules.ActiveVariant]
	m.active.Store(&av)

	logger.Info("config: rules loaded",
		"path", path, "variants", len(rules.Variants), "active", av.Name)
	return m, nil
}

// Active returns the current variant snapshot. The returned value is a
// copy; callers hold it for the duration of one request.
func (m *Manager) Active() Variant {
	return *m.active.Load()
}

// Variants returns the names of all loaded variants.
func (m *Manager) Variants() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	names := make([]string, 0, len(m.variants))
	for name := range m.variants {
		names = append(names, name)
	}
	return names
}

// SwitchVariant atomically activates the named variant.
func (m *Manager) SwitchVariant(name string) error {
	m.mu.Lock()
	v, ok := m.variants[name]
	m.mu.Unlock()
	if !ok {
		return fmt.Errorf("config: unknown variant %q", name)
	}

	m.active.Store(&v)
	m.logger.Info("config: variant switched", "variant", name)
	return nil
}

// Watch starts an fsnotify watcher on the rules file and reloads it on
// modification. Invalid updates keep the previous configuration and log
// a warning. Returns after the watcher goroutine is running; the
// goroutine stops when ctx is cancelled.
func (m *Manager) Watch(ctx context.Context) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("config: create watcher: %w", err)
	}
	// Watch the directory, not the file: editors and atomic writers
	// replace the file, which breaks a direct file watch.
	if err := watcher.Add(filepath.Dir(m.path)); err != nil {
		_ = watcher.Close()
		return fmt.Errorf("config: watch %s: %w", m.path, err)
	}

	go func() {
		defer watcher.Close()

		// Debounce: editors fire several events per save.
		var timer *time.Timer
		reload := make(chan struct{}, 1)

		for {
			select {
			case <-ctx.Done():
				return
			case ev, ok := <-watcher.Events:
				if !ok {
					return
				}
				if filepath.Clean(ev.Name) != filepath.Clean(m.path) {
					continue
				}
				if !ev.Has(fsnotify.Write) && !ev.Has(fsnotify.Create) {
					continue
				}
				if timer != nil {
					timer.Stop()
				}
				timer = time.AfterFunc(200*time.Millisecond, func() {
					select {
					case reload <- struct{}{}:
					default:
					}
				})
			case <-reload:
				m.reload()
			case err, ok := <-watcher.Errors:
				if !ok {
					return
				}
				m.logger.Warn("config: watcher error", "error", err)
			}
		}
	}()

	m.logger.Info("config: watching rules file", "path", m.path)
	return nil
}

// reload re-reads the rules file, validates it, backs up the previous
// content, and atomically swaps the active variant.
func (m *Manager) reload() {
	data, err := os.ReadFile(m.path)
	if err != nil {
		m.logger.Warn("config: reload read failed, keeping previous rules", "error", err)
		return
	}

	rules, err := ParseRules(data)
	if err != nil {
		m.logger.Warn("config: reload rejected, keeping previous rules", "error", err)
		return
	}

	m.mu.Lock()
	prev := m.lastRaw
	m.variants = rules.Variants
	m.lastRaw = data
	m.mu.Unlock()

	if err := m.backup(prev); err != nil {
		m.logger.Warn("config: backup failed", "error", err)
	}

	av := rules.Variants[rules.ActiveVariant]
	m.active.Store(&av)
	m.logger.Info("config: rules reloaded", "active", av.Name, "variants", len(rules.Variants))
}

// backup writes the previous rules content to a timestamped file in the
// versions directory.
func (m *Manager) backup(content []byte) error {
	if m.backupDir == "" || len(content) == 0 {
		return nil
	}
	if err := os.MkdirAll(m.backupDir, 0o755); err != nil {
		return err
	}
	name := fmt.Sprintf("rules-%s.json", time.Now().UTC().Format("20060102T150405.000"))
	return os.WriteFile(filepath.Join(m.backupDir, name), content, 0o644)
}
