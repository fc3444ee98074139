package daemon

import (
	"context"
	"log/slog"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"git.home.luguber.info/inful/fencewatch/internal/config"
	trkerrors "git.home.luguber.info/inful/fencewatch/internal/errors"
	"git.home.luguber.info/inful/fencewatch/internal/logfields"
)

// ConfigWatcher monitors the configuration file and applies debounced
// reloads to the running daemon.
type ConfigWatcher struct {
	configPath   string
	daemon       *Daemon
	watcher      *fsnotify.Watcher
	logger       *slog.Logger
	stopOnce     sync.Once
	stopChan     chan struct{}
	reloadChan   chan struct{}
	debounceTime time.Duration
}

func NewConfigWatcher(configPath string, daemon *Daemon, logger *slog.Logger) (*ConfigWatcher, error) {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, trkerrors.Wrap(err, trkerrors.CategoryRuntime, trkerrors.SeverityWarning, "failed to create file watcher")
	}

	absPath, err := filepath.Abs(configPath)
	if err != nil {
		_ = watcher.Close()
		return nil, trkerrors.Wrap(err, trkerrors.CategoryConfig, trkerrors.SeverityWarning, "failed to resolve config path").
			WithContext("path", configPath)
	}

	return &ConfigWatcher{
		configPath:   absPath,
		daemon:       daemon,
		watcher:      watcher,
		logger:       logger.With(slog.String("component", "config_watcher")),
		stopChan:     make(chan struct{}),
		reloadChan:   make(chan struct{}, 1),
		debounceTime: 2 * time.Second, // rapid successive writes collapse into one reload
	}, nil
}

// Start begins monitoring. Watching the directory is more reliable than
// watching the file directly: editors replace files on save.
func (cw *ConfigWatcher) Start(ctx context.Context) error {
	configDir := filepath.Dir(cw.configPath)
	if err := cw.watcher.Add(configDir); err != nil {
		return trkerrors.Wrap(err, trkerrors.CategoryRuntime, trkerrors.SeverityWarning, "failed to watch config directory").
			WithContext("dir", configDir)
	}

	cw.logger.Info("watching configuration file", slog.String("path", cw.configPath))

	go cw.watchLoop(ctx)
	go cw.reloadLoop(ctx)
	return nil
}

// Stop stops the watcher.
func (cw *ConfigWatcher) Stop() {
	cw.stopOnce.Do(func() {
		close(cw.stopChan)
		if err := cw.watcher.Close(); err != nil {
			cw.logger.Warn("error closing file watcher", logfields.Error(err))
		}
	})
}

func (cw *ConfigWatcher) watchLoop(ctx context.Context) {
	configFile := filepath.Base(cw.configPath)

	for {
		select {
		case <-ctx.Done():
			return
		case <-cw.stopChan:
			return
		case event, ok := <-cw.watcher.Events:
			if !ok {
				return
			}
			if filepath.Base(event.Name) != configFile {
				continue
			}
			switch {
			case event.Op.Has(fsnotify.Write), event.Op.Has(fsnotify.Create), event.Op.Has(fsnotify.Rename):
				cw.triggerReload()
			case event.Op.Has(fsnotify.Remove):
				cw.logger.Warn("config file removed", slog.String("file", event.Name))
			}
		case err, ok := <-cw.watcher.Errors:
			if !ok {
				return
			}
			cw.logger.Error("config watcher error", logfields.Error(err))
		}
	}
}

func (cw *ConfigWatcher) reloadLoop(ctx context.Context) {
	var reloadTimer *time.Timer

	for {
		select {
		case <-ctx.Done():
			if reloadTimer != nil {
				reloadTimer.Stop()
			}
			return
		case <-cw.stopChan:
			if reloadTimer != nil {
				reloadTimer.Stop()
			}
			return
		case <-cw.reloadChan:
			if reloadTimer != nil {
				reloadTimer.Stop()
			}
			reloadTimer = time.AfterFunc(cw.debounceTime, func() {
				if err := cw.performReload(ctx); err != nil {
					cw.logger.Error("failed to reload configuration", logfields.Error(err))
				}
			})
		}
	}
}

func (cw *ConfigWatcher) triggerReload() {
	select {
	case cw.reloadChan <- struct{}{}:
	default: // reload already pending
	}
}

func (cw *ConfigWatcher) performReload(ctx context.Context) error {
	cw.logger.Info("reloading configuration", slog.String("path", cw.configPath))

	newCfg, err := config.Load(cw.configPath)
	if err != nil {
		return err
	}

	// Identity changes mid-run would desync the server's view of the
	// session; refuse them rather than silently swapping users.
	current := cw.daemon.GetConfig()
	if newCfg.Session.UserNumber != current.Session.UserNumber {
		return trkerrors.New(trkerrors.CategoryConfig, trkerrors.SeverityWarning, "session user change requires a restart")
	}

	return cw.daemon.ReloadConfig(ctx, newCfg)
}
