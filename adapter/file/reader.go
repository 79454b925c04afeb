package file

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"sort"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/robfig/cron/v3"
	"github.com/trickstertwo/xchannel"
	"github.com/trickstertwo/xlog"
)

var _ xchannel.Receiver = (*Reader)(nil)

// Reader is a polling source that dispatches every file in Dir matching
// Pattern. Scans are triggered by the cron schedule and, with Watch, by
// file system events. Only one scan runs at a time.
//
// A file whose dispatch fails is moved to ErrorDir when set, otherwise it is
// left in place and read again by the next scan.
type Reader struct {
	cfg    Config
	logger *xlog.Logger

	mu      sync.Mutex
	cron    *cron.Cron
	watcher *fsnotify.Watcher
	trigger chan struct{}
	cancel  context.CancelFunc
	wg      sync.WaitGroup

	// seen holds the mod time of files kept in place by ActionNone. Only the
	// scan goroutine touches it.
	seen map[string]time.Time
}

func NewReader(cfg Config) (*Reader, error) {
	if err := cfg.ValidateReader(); err != nil {
		return nil, err
	}
	return &Reader{cfg: cfg, logger: xlog.Default(), seen: map[string]time.Time{}}, nil
}

func (r *Reader) IsPolling() bool { return true }

func (r *Reader) OnStart(_ context.Context, d xchannel.Dispatcher) error {
	info, err := os.Stat(r.cfg.Dir)
	if err != nil {
		return fmt.Errorf("file: %w", err)
	}
	if !info.IsDir() {
		return fmt.Errorf("file: %s is not a directory", r.cfg.Dir)
	}
	for _, dir := range []string{r.cfg.MoveTo, r.cfg.ErrorDir} {
		if dir == "" {
			continue
		}
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("file: %w", err)
		}
	}

	ctx, cancel := context.WithCancel(context.Background())
	trigger := make(chan struct{}, 1)

	var c *cron.Cron
	if r.cfg.Schedule != "" {
		c = cron.New()
		if _, err := c.AddFunc(r.cfg.Schedule, func() { r.poke(trigger) }); err != nil {
			cancel()
			return fmt.Errorf("file: schedule %q: %w", r.cfg.Schedule, err)
		}
	}

	var w *fsnotify.Watcher
	if r.cfg.Watch {
		if w, err = fsnotify.NewWatcher(); err != nil {
			cancel()
			return fmt.Errorf("file: watcher: %w", err)
		}
		if err := w.Add(r.cfg.Dir); err != nil {
			_ = w.Close()
			cancel()
			return fmt.Errorf("file: watch %s: %w", r.cfg.Dir, err)
		}
	}

	r.mu.Lock()
	r.cron, r.watcher, r.trigger, r.cancel = c, w, trigger, cancel
	r.mu.Unlock()

	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		for {
			select {
			case <-ctx.Done():
				return
			case <-trigger:
				r.scan(ctx, d)
				d.EmitConnectionStatus(xchannel.ConnectionIdle, r.cfg.Dir)
			}
		}
	}()

	if w != nil {
		r.wg.Add(1)
		go func() {
			defer r.wg.Done()
			r.watch(ctx, w, trigger)
		}()
	}
	if c != nil {
		c.Start()
	}
	// First scan right away instead of waiting for the schedule.
	r.poke(trigger)
	return nil
}

func (r *Reader) poke(trigger chan struct{}) {
	select {
	case trigger <- struct{}{}:
	default:
	}
}

// watch debounces create and write events into scan triggers.
func (r *Reader) watch(ctx context.Context, w *fsnotify.Watcher, trigger chan struct{}) {
	var timer *time.Timer
	defer func() {
		if timer != nil {
			timer.Stop()
		}
	}()
	for {
		select {
		case <-ctx.Done():
			return
		case event, ok := <-w.Events:
			if !ok {
				return
			}
			if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) {
				continue
			}
			if ok, _ := filepath.Match(r.cfg.Pattern, filepath.Base(event.Name)); !ok {
				continue
			}
			if timer != nil {
				timer.Stop()
			}
			timer = time.AfterFunc(r.cfg.Debounce, func() { r.poke(trigger) })
		case err, ok := <-w.Errors:
			if !ok {
				return
			}
			r.logger.Warn().Str("dir", r.cfg.Dir).Err(err).Msg("file: watcher error")
		}
	}
}

// pending lists matching regular files, oldest name first.
func (r *Reader) pending() ([]string, error) {
	entries, err := os.ReadDir(r.cfg.Dir)
	if err != nil {
		return nil, err
	}
	var names []string
	for _, e := range entries {
		if !e.Type().IsRegular() {
			continue
		}
		if ok, _ := filepath.Match(r.cfg.Pattern, e.Name()); ok {
			names = append(names, e.Name())
		}
	}
	sort.Strings(names)
	for name := range r.seen {
		if _, ok := slices.BinarySearch(names, name); !ok {
			delete(r.seen, name)
		}
	}
	return names, nil
}

func (r *Reader) scan(ctx context.Context, d xchannel.Dispatcher) {
	d.EmitConnectionStatus(xchannel.ConnectionPolling, r.cfg.Dir)
	names, err := r.pending()
	if err != nil {
		r.logger.Error().Str("dir", r.cfg.Dir).Err(err).Msg("file: list failed")
		return
	}
	for _, name := range names {
		if ctx.Err() != nil {
			return
		}
		r.process(ctx, d, name)
	}
}

func (r *Reader) process(ctx context.Context, d xchannel.Dispatcher, name string) {
	path := filepath.Join(r.cfg.Dir, name)
	info, err := os.Stat(path)
	if err != nil {
		return
	}
	if mod, ok := r.seen[name]; ok && mod.Equal(info.ModTime()) {
		return
	}
	d.EmitConnectionStatus(xchannel.ConnectionReading, name)
	data, err := os.ReadFile(path)
	if err != nil {
		r.logger.Warn().Str("file", path).Err(err).Msg("file: read failed")
		return
	}

	sm := xchannel.NewMap()
	sm.Put("originalFilename", name)
	sm.Put("fileDirectory", r.cfg.Dir)
	sm.Put("fileSize", info.Size())
	sm.Put("fileLastModified", info.ModTime())

	// The scan context is only canceled on stop; a started dispatch completes.
	if _, err := d.Dispatch(context.WithoutCancel(ctx), xchannel.RawMessage{Data: string(data), SourceMap: sm}); err != nil {
		r.logger.Warn().Str("file", path).Err(err).Msg("file: dispatch failed")
		if r.cfg.ErrorDir != "" {
			r.relocate(path, filepath.Join(r.cfg.ErrorDir, name))
		}
		return
	}

	switch r.cfg.AfterProcessing {
	case ActionDelete:
		if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
			r.logger.Warn().Str("file", path).Err(err).Msg("file: delete failed")
		}
	case ActionMove:
		r.relocate(path, filepath.Join(r.cfg.MoveTo, name))
	case ActionNone:
		r.seen[name] = info.ModTime()
	}
}

func (r *Reader) relocate(from, to string) {
	if err := os.Rename(from, to); err != nil {
		r.logger.Warn().Str("file", from).Str("to", to).Err(err).Msg("file: move failed")
	}
}

// OnStop stops the schedule and the watcher and waits for the current scan.
func (r *Reader) OnStop(context.Context) error {
	r.mu.Lock()
	c, w, cancel := r.cron, r.watcher, r.cancel
	r.cron, r.watcher, r.cancel = nil, nil, nil
	r.mu.Unlock()

	if c != nil {
		<-c.Stop().Done()
	}
	if cancel != nil {
		cancel()
	}
	var err error
	if w != nil {
		err = w.Close()
	}
	r.wg.Wait()
	return err
}
