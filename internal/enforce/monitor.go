package enforce

import (
	"fmt"
	"sync"

	"github.com/fsnotify/fsnotify"
)

// Monitor watches governed directories and logs writes that land outside
// the allowlist. It is advisory only; nothing is blocked or reverted.
type Monitor struct {
	dirs  []string
	guard *Guard
	logf  func(format string, args ...any)

	mu        sync.Mutex
	watcher   *fsnotify.Watcher
	installed bool
	done      chan struct{}
}

// NewMonitor creates a monitor over the given directories using the
// guard's allowlist for path decisions.
func NewMonitor(dirs []string, guard *Guard, logf func(format string, args ...any)) *Monitor {
	if logf == nil {
		logf = guard.logf
	}
	return &Monitor{dirs: dirs, guard: guard, logf: logf}
}

// Install starts watching. Calling it again on an installed monitor is a
// no-op.
func (m *Monitor) Install() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.installed {
		return nil
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create watcher: %w", err)
	}
	for _, dir := range m.dirs {
		if err := watcher.Add(dir); err != nil {
			watcher.Close()
			return fmt.Errorf("watch %s: %w", dir, err)
		}
	}

	m.watcher = watcher
	m.done = make(chan struct{})
	m.installed = true
	go m.loop(watcher, m.done)
	return nil
}

func (m *Monitor) loop(watcher *fsnotify.Watcher, done chan struct{}) {
	for {
		select {
		case event, ok := <-watcher.Events:
			if !ok {
				return
			}
			if event.Op&(fsnotify.Write|fsnotify.Create) == 0 {
				continue
			}
			if !m.guard.PathAllowed(event.Name) {
				m.logf("%s: %s", AdvisoryPathOutside, event.Name)
			}
		case _, ok := <-watcher.Errors:
			if !ok {
				return
			}
		case <-done:
			return
		}
	}
}

// Close stops watching. Safe on an uninstalled monitor.
func (m *Monitor) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.installed {
		return nil
	}
	close(m.done)
	err := m.watcher.Close()
	m.watcher = nil
	m.installed = false
	return err
}
