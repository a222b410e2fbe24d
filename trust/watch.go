package trust

import (
	"fmt"
	"path/filepath"
	"sync"

	"github.com/fsnotify/fsnotify"
	"github.com/sirupsen/logrus"
)

// WatchedOracle caches the parsed registry and allow-list and drops the
// cache whenever either directory changes.
type WatchedOracle struct {
	src     Sources
	log     logrus.FieldLogger
	watcher *fsnotify.Watcher
	done    chan struct{}

	mu    sync.Mutex
	gen   uint64
	cache *snapshot
}

type snapshot struct {
	reg   *Registry
	allow AllowList
}

// NewWatchedOracle starts watching the directories of src. The allow-list
// directory may not exist yet, its absence only disables caching for it.
func NewWatchedOracle(src Sources, log logrus.FieldLogger) (*WatchedOracle, error) {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("creating watcher: %w", err)
	}
	if err := w.Add(filepath.Dir(src.Registry)); err != nil {
		w.Close()
		return nil, fmt.Errorf("watching registry: %w", err)
	}
	o := &WatchedOracle{
		src:     src,
		log:     log,
		watcher: w,
		done:    make(chan struct{}),
	}
	o.watchAllowList()
	go o.processEvents()
	return o, nil
}

func (o *WatchedOracle) watchAllowList() bool {
	dir := filepath.Dir(o.src.AllowListPath())
	if err := o.watcher.Add(dir); err != nil {
		o.log.WithError(err).WithField("dir", dir).Debug("allow-list directory not watched")
		return false
	}
	return true
}

func (o *WatchedOracle) processEvents() {
	defer close(o.done)
	for {
		select {
		case event, ok := <-o.watcher.Events:
			if !ok {
				return
			}
			o.log.WithField("event", event.String()).Debug("trust sources changed")
			o.invalidate()
		case err, ok := <-o.watcher.Errors:
			if !ok {
				return
			}
			o.log.WithError(err).Warn("watcher error")
			o.invalidate()
		}
	}
}

func (o *WatchedOracle) invalidate() {
	o.mu.Lock()
	o.gen++
	o.cache = nil
	o.mu.Unlock()
}

// IsGranted reports false on any read or parse failure.
func (o *WatchedOracle) IsGranted(uid int) bool {
	s, err := o.load()
	if err != nil {
		o.log.WithError(err).WithField("uid", uid).Error("trust check failed")
		return false
	}
	d := Decide(s.reg, s.allow, o.src.Granter, uid)
	o.log.WithFields(logrus.Fields{
		"uid":     uid,
		"package": d.Package,
		"granted": d.Granted,
	}).Debug(d.Reason)
	return d.Granted
}

func (o *WatchedOracle) load() (*snapshot, error) {
	o.mu.Lock()
	if o.cache != nil {
		s := o.cache
		o.mu.Unlock()
		return s, nil
	}
	gen := o.gen
	o.mu.Unlock()

	reg, err := LoadRegistry(o.src.Registry)
	if err != nil {
		return nil, fmt.Errorf("load registry: %w", err)
	}
	allow, err := LoadAllowList(o.src.AllowListPath())
	if err != nil {
		return nil, fmt.Errorf("load allow-list: %w", err)
	}
	s := &snapshot{reg: reg, allow: allow}

	// a directory created after start can only be cached once it is watched
	cacheable := o.watchAllowList()

	o.mu.Lock()
	if cacheable && o.gen == gen {
		o.cache = s
	}
	o.mu.Unlock()
	return s, nil
}

// Close stops the watcher.
func (o *WatchedOracle) Close() error {
	err := o.watcher.Close()
	<-o.done
	return err
}
