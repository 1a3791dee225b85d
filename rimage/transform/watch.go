package transform

import (
	"path/filepath"
	"sync"

	"github.com/fsnotify/fsnotify"
	"github.com/pkg/errors"
	goutils "go.viam.com/utils"

	"github.com/rock-image-processing/image-processing-stereo/logging"
)

// CalibrationWatcher reports changes to a calibration file. It watches the containing
// directory so that editors replacing the file by rename are noticed too.
type CalibrationWatcher struct {
	logger  logging.Logger
	name    string
	watcher *fsnotify.Watcher
	changes chan struct{}
	workers sync.WaitGroup
}

// NewCalibrationWatcher starts watching path.
func NewCalibrationWatcher(path string, logger logging.Logger) (*CalibrationWatcher, error) {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, errors.Wrap(err, "creating file watcher")
	}
	abs, err := filepath.Abs(path)
	if err != nil {
		goutils.UncheckedError(watcher.Close())
		return nil, err
	}
	if err := watcher.Add(filepath.Dir(abs)); err != nil {
		goutils.UncheckedError(watcher.Close())
		return nil, errors.Wrapf(err, "watching %q", filepath.Dir(abs))
	}

	cw := &CalibrationWatcher{
		logger:  logger,
		name:    abs,
		watcher: watcher,
		changes: make(chan struct{}, 1),
	}
	cw.workers.Add(1)
	goutils.ManagedGo(cw.watch, cw.workers.Done)
	return cw, nil
}

// Changes delivers a value after the file was written, created or replaced. Bursts of events
// collapse into a single pending notification.
func (cw *CalibrationWatcher) Changes() <-chan struct{} {
	return cw.changes
}

func (cw *CalibrationWatcher) watch() {
	for {
		select {
		case event, ok := <-cw.watcher.Events:
			if !ok {
				return
			}
			if filepath.Clean(event.Name) != cw.name {
				continue
			}
			if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) && !event.Has(fsnotify.Rename) {
				continue
			}
			cw.logger.Debugw("calibration file changed", "path", cw.name, "op", event.Op.String())
			select {
			case cw.changes <- struct{}{}:
			default:
			}
		case err, ok := <-cw.watcher.Errors:
			if !ok {
				return
			}
			cw.logger.Warnw("calibration watcher error", "error", err)
		}
	}
}

// Close stops watching.
func (cw *CalibrationWatcher) Close() error {
	err := cw.watcher.Close()
	cw.workers.Wait()
	return err
}
