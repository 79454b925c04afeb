package xchannel

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/trickstertwo/xclock"
	"github.com/trickstertwo/xlog"
	"golang.org/x/sync/errgroup"
)

// Dependencies are shared by every channel an Engine builds from definitions.
type Dependencies struct {
	ServerID   string
	Logger     *xlog.Logger
	Clock      xclock.Clock
	Runtime    ScriptRuntime
	Store      StatisticsStore
	IDs        IDSequence
	Archiver   Archiver
	Sink       EventSink
	Observers  []Observer
	Registerer prometheus.Registerer
}

func (d Dependencies) apply(cb *ChannelBuilder) *ChannelBuilder {
	cb.WithServerID(d.ServerID).
		WithScriptRuntime(d.Runtime).
		WithStatisticsStore(d.Store).
		WithIDSequence(d.IDs).
		WithArchiver(d.Archiver).
		WithEventSink(d.Sink).
		WithObserver(d.Observers...).
		WithMetricsRegisterer(d.Registerer)
	if d.Logger != nil {
		cb.WithLogger(d.Logger)
	}
	if d.Clock != nil {
		cb.WithClock(d.Clock)
	}
	return cb
}

// Engine owns the deployed channels of one server.
type Engine struct {
	mu       sync.RWMutex
	channels map[string]*Channel
	deps     Dependencies
	logger   *xlog.Logger
}

// NewEngine returns an empty engine.
func NewEngine(deps Dependencies) *Engine {
	lg := deps.Logger
	if lg == nil {
		lg = xlog.Default()
		deps.Logger = lg
	}
	return &Engine{channels: map[string]*Channel{}, deps: deps, logger: lg}
}

// Deploy registers ch and optionally starts it.
func (e *Engine) Deploy(ctx context.Context, ch *Channel, start bool) error {
	e.mu.Lock()
	if _, ok := e.channels[ch.ID()]; ok {
		e.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrChannelExists, ch.ID())
	}
	e.channels[ch.ID()] = ch
	e.mu.Unlock()

	e.logger.Info().Str("channel_id", ch.ID()).Str("channel", ch.Name()).Msg("xchannel: channel deployed")
	if !start {
		return nil
	}
	return ch.Start(ctx)
}

// DeployDefinition builds a channel from def with the engine dependencies
// and deploys it, starting it when enabled.
func (e *Engine) DeployDefinition(ctx context.Context, def ChannelDefinition) (*Channel, error) {
	cb, err := def.Builder()
	if err != nil {
		return nil, err
	}
	ch, err := e.deps.apply(cb).Build()
	if err != nil {
		return nil, err
	}
	if err := e.Deploy(ctx, ch, def.IsEnabled()); err != nil {
		if !errors.Is(err, ErrChannelExists) {
			e.remove(ch.ID())
		}
		_ = ch.Close(ctx)
		return nil, err
	}
	return ch, nil
}

// Undeploy stops and removes a channel.
func (e *Engine) Undeploy(ctx context.Context, id string) error {
	ch := e.remove(id)
	if ch == nil {
		return fmt.Errorf("%w: %s", ErrChannelNotFound, id)
	}
	err := ch.Close(ctx)
	e.logger.Info().Str("channel_id", id).Err(err).Msg("xchannel: channel undeployed")
	return err
}

func (e *Engine) remove(id string) *Channel {
	e.mu.Lock()
	defer e.mu.Unlock()
	ch := e.channels[id]
	delete(e.channels, id)
	return ch
}

// Channel returns a deployed channel by id.
func (e *Engine) Channel(id string) (*Channel, bool) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	ch, ok := e.channels[id]
	return ch, ok
}

// Channels returns deployed channels ordered by id.
func (e *Engine) Channels() []*Channel {
	e.mu.RLock()
	out := make([]*Channel, 0, len(e.channels))
	for _, ch := range e.channels {
		out = append(out, ch)
	}
	e.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool { return out[i].ID() < out[j].ID() })
	return out
}

// StartAll starts every stopped channel concurrently.
func (e *Engine) StartAll(ctx context.Context) error {
	g, gctx := errgroup.WithContext(ctx)
	for _, ch := range e.Channels() {
		if ch.State() != StateStopped {
			continue
		}
		g.Go(func() error { return ch.Start(gctx) })
	}
	return g.Wait()
}

// StopAll stops every running channel concurrently, collecting all errors.
func (e *Engine) StopAll(ctx context.Context) error {
	var (
		mu   sync.Mutex
		errs []error
		wg   sync.WaitGroup
	)
	for _, ch := range e.Channels() {
		switch ch.State() {
		case StateStarted, StatePaused:
		default:
			continue
		}
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := ch.Stop(ctx); err != nil {
				mu.Lock()
				errs = append(errs, fmt.Errorf("channel %s: %w", ch.ID(), err))
				mu.Unlock()
			}
		}()
	}
	wg.Wait()
	return errors.Join(errs...)
}

// Health reports every channel's health keyed by id.
func (e *Engine) Health(ctx context.Context) map[string]HealthStatus {
	out := map[string]HealthStatus{}
	for _, ch := range e.Channels() {
		out[ch.ID()] = ch.Health(ctx)
	}
	return out
}

// Close undeploys every channel.
func (e *Engine) Close(ctx context.Context) error {
	var errs []error
	for _, ch := range e.Channels() {
		if err := e.Undeploy(ctx, ch.ID()); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
