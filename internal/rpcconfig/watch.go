package rpcconfig

import (
	"context"
	"fmt"

	"github.com/fsnotify/fsnotify"
)

// Watcher hot-reloads configuration from a file on disk, repurposing the
// same fsnotify write-event pattern the CLI's log-follow command uses for
// tailing, here applied to a config path and a Kerberos keytab path instead
// of a log file.
type Watcher struct {
	watcher    *fsnotify.Watcher
	configPath string
	keytabPath string
	onReload   func(*Config)
	onKeytab   func()
}

// NewWatcher creates a Watcher for configPath (and, if non-empty,
// keytabPath). The Watcher is not yet running; call Run to start it.
func NewWatcher(configPath, keytabPath string, onReload func(*Config), onKeytab func()) (*Watcher, error) {
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("failed to create config watcher: %w", err)
	}

	if configPath != "" {
		if err := fw.Add(configPath); err != nil {
			_ = fw.Close()
			return nil, fmt.Errorf("failed to watch config file %s: %w", configPath, err)
		}
	}
	if keytabPath != "" {
		if err := fw.Add(keytabPath); err != nil {
			_ = fw.Close()
			return nil, fmt.Errorf("failed to watch keytab file %s: %w", keytabPath, err)
		}
	}

	return &Watcher{
		watcher:    fw,
		configPath: configPath,
		keytabPath: keytabPath,
		onReload:   onReload,
		onKeytab:   onKeytab,
	}, nil
}

// Run blocks, dispatching reload callbacks on write events, until ctx is
// canceled or the underlying watcher is closed.
func (w *Watcher) Run(ctx context.Context) error {
	defer func() { _ = w.watcher.Close() }()

	for {
		select {
		case <-ctx.Done():
			return nil

		case event, ok := <-w.watcher.Events:
			if !ok {
				return nil
			}
			if event.Op&(fsnotify.Write|fsnotify.Create) == 0 {
				continue
			}
			switch event.Name {
			case w.configPath:
				w.reloadConfig()
			case w.keytabPath:
				if w.onKeytab != nil {
					w.onKeytab()
				}
			}

		case err, ok := <-w.watcher.Errors:
			if !ok {
				return nil
			}
			return fmt.Errorf("config watcher error: %w", err)
		}
	}
}

func (w *Watcher) reloadConfig() {
	if w.onReload == nil {
		return
	}
	cfg, err := Load(w.configPath, nil)
	if err != nil {
		return
	}
	w.onReload(cfg)
}

// Close stops the watcher.
func (w *Watcher) Close() error {
	return w.watcher.Close()
}
