package unitfile

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/fsnotify/fsnotify"
	"github.com/google/renameio"
)

// Load reads and parses the unit file for name from dir, trying
// "<name>.service" first and falling back to a bare sysvinit-style init
// script with an embedded unit file.
func Load(dir, name string) (*Unit, error) {
	unitPath := filepath.Join(dir, name+".service")
	if f, err := os.Open(unitPath); err == nil {
		defer f.Close()
		return Parse(f, name)
	} else if !os.IsNotExist(err) {
		return nil, err
	}

	scriptPath := filepath.Join(dir, name)
	f, err := os.Open(scriptPath)
	if err != nil {
		return nil, fmt.Errorf("unitfile: no unit file or init script for %q in %s", name, dir)
	}
	defer f.Close()
	return LoadScript(f, name)
}

// Write atomically (re)writes the unit file for u under dir, using
// renameio so a crash or concurrent reader never observes a partial file.
func Write(dir string, u *Unit) error {
	path := filepath.Join(dir, u.Name+".service")
	t, err := renameio.TempFile("", path)
	if err != nil {
		return err
	}
	defer t.Cleanup()
	if _, err := t.Write([]byte(u.String())); err != nil {
		return err
	}
	return t.CloseAtomicallyReplace()
}

// Watcher notifies of on-disk changes to unit files (and init scripts)
// within a directory, so a long-running front-end can react to a service
// being edited or dropped in without a full restart.
type Watcher struct {
	w  *fsnotify.Watcher
	ch chan string
}

// WatchDir starts watching dir for unit-file changes. Events carry the
// affected service name, derived by stripping a ".service" suffix if
// present.
func WatchDir(dir string) (*Watcher, error) {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	if err := w.Add(dir); err != nil {
		w.Close()
		return nil, err
	}
	watcher := &Watcher{w: w, ch: make(chan string, 16)}
	go watcher.run()
	return watcher, nil
}

func (w *Watcher) run() {
	defer close(w.ch)
	for event := range w.w.Events {
		if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Remove|fsnotify.Rename) == 0 {
			continue
		}
		name := strings.TrimSuffix(filepath.Base(event.Name), ".service")
		select {
		case w.ch <- name:
		default:
		}
	}
}

// Events returns the channel of changed service names.
func (w *Watcher) Events() <-chan string {
	return w.ch
}

// Close stops the watcher.
func (w *Watcher) Close() error {
	return w.w.Close()
}
