package supervisor

import (
	"context"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"vawter.tech/stopper"

	"github.com/core-tools/hsu-supervisor/pkg/errors"
	"github.com/core-tools/hsu-supervisor/pkg/logging"
)

const configChangeDebounce = 100 * time.Millisecond

// ConfigChangeFunc receives the validation result of a changed
// configuration file, nil when the new file is valid
type ConfigChangeFunc func(validationErr error)

// WatchConfigFile reports changes to a configuration file. The running
// topology is never changed; the callback decides what to tell the
// operator. The directory is watched so that editors replacing the file
// by rename are seen too. The returned cleanup stops the watch.
func WatchConfigFile(ctx context.Context, configFile string, onChange ConfigChangeFunc, logger logging.Logger) (func() error, error) {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, errors.NewIOError("failed to create configuration watcher", err)
	}

	configDir := filepath.Dir(configFile)
	configName := filepath.Base(configFile)
	if err := watcher.Add(configDir); err != nil {
		_ = watcher.Close()
		return nil, errors.NewIOError("failed to watch configuration directory", err).WithContext("directory", configDir)
	}

	sctx := stopper.WithContext(ctx)
	sctx.Defer(func() {
		_ = watcher.Close()
	})

	var mutex sync.Mutex
	var debouncer *time.Timer

	validate := func() {
		if sctx.IsStopping() {
			return
		}
		err := ValidateConfigFile(configFile)
		onChange(err)
	}

	sctx.Go(func(sctx *stopper.Context) error {
		sctx.Defer(func() {
			mutex.Lock()
			if debouncer != nil {
				debouncer.Stop()
			}
			mutex.Unlock()
		})

		for {
			select {
			case <-sctx.Stopping():
				return nil

			case event, ok := <-watcher.Events:
				if !ok {
					return nil
				}
				if filepath.Base(event.Name) != configName {
					continue
				}
				if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) == 0 {
					continue
				}

				logger.Debugf("Configuration file event: %s", event)
				mutex.Lock()
				if debouncer != nil {
					debouncer.Stop()
				}
				debouncer = time.AfterFunc(configChangeDebounce, validate)
				mutex.Unlock()

			case err, ok := <-watcher.Errors:
				if !ok {
					return nil
				}
				logger.Warnf("Configuration watcher error: %v", err)
			}
		}
	})

	logger.Infof("Watching configuration file %s", configFile)

	cleanup := func() error {
		sctx.Stop(100 * time.Millisecond)
		return sctx.Wait()
	}
	return cleanup, nil
}
