package memory

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/trickstertwo/xchannel"
)

// TypeName is the connector type of the channel-to-channel router.
const TypeName = "memory"

var (
	ErrRouterClosed = errors.New("memory router is closed")
	ErrNoReceiver   = errors.New("memory router: no receiver for topic")
	ErrTopicInUse   = errors.New("memory router: topic already has a receiver")
)

func init() {
	if err := xchannel.RegisterSourceType(TypeName, func(props map[string]any) (xchannel.Receiver, error) {
		return NewReceiver(DefaultRouter(), ConfigFromMap(props))
	}); err != nil {
		panic(fmt.Errorf("xchannel/memory: failed to register source: %w", err))
	}
	if err := xchannel.RegisterDestinationType(TypeName, func(props map[string]any) (xchannel.Sender, error) {
		return NewSender(DefaultRouter(), ConfigFromMap(props))
	}); err != nil {
		panic(fmt.Errorf("xchannel/memory: failed to register destination: %w", err))
	}
}

// Config controls both ends of a memory route.
type Config struct {
	// Topic names the route, usually the id of the receiving channel.
	Topic string
	// BufferSize is the receiver queue size (default: 1024).
	BufferSize int
	// Concurrency is the number of receiver workers (default: 1).
	Concurrency int
	// Wait makes the sender block until the receiving channel processed the
	// message and return its reply as the response.
	Wait bool
	// Timeout bounds Wait (default: 30s).
	Timeout time.Duration
}

func ConfigFromMap(cfg map[string]any) Config {
	getInt := func(k string, d int) int {
		switch v := cfg[k].(type) {
		case int:
			return v
		case int32:
			return int(v)
		case int64:
			return int(v)
		case float64:
			return int(v)
		default:
			return d
		}
	}

	getBool := func(k string, d bool) bool {
		if v, ok := cfg[k].(bool); ok {
			return v
		}
		return d
	}

	getDur := func(k string, d time.Duration) time.Duration {
		switch v := cfg[k].(type) {
		case time.Duration:
			return v
		case string:
			if p, err := time.ParseDuration(v); err == nil {
				return p
			}
		case float64:
			return time.Duration(v)
		}
		return d
	}

	topic, _ := cfg["topic"].(string)
	return Config{
		Topic:       topic,
		BufferSize:  max(1, getInt("buffer_size", 1024)),
		Concurrency: max(1, getInt("concurrency", 1)),
		Wait:        getBool("wait", false),
		Timeout:     getDur("timeout", 30*time.Second),
	}
}

func (c Config) Validate() error {
	if c.Topic == "" {
		return fmt.Errorf("memory: topic required")
	}
	return nil
}

// Router connects memory senders to memory receivers by topic.
type Router struct {
	mu     sync.RWMutex
	topics map[string]chan *task
	closed atomic.Bool

	metrics routerMetrics
}

type routerMetrics struct {
	published  atomic.Uint64
	dispatched atomic.Uint64
	failed     atomic.Uint64
}

type task struct {
	raw   xchannel.RawMessage
	reply chan reply
}

type reply struct {
	outcome *xchannel.ResponseOutcome
	err     error
}

var (
	defaultRouter     *Router
	defaultRouterOnce sync.Once
)

// DefaultRouter is the process-wide router used by registered connector types.
func DefaultRouter() *Router {
	defaultRouterOnce.Do(func() { defaultRouter = NewRouter() })
	return defaultRouter
}

func NewRouter() *Router {
	return &Router{topics: make(map[string]chan *task)}
}

func (r *Router) bind(topic string, bufferSize int) (chan *task, error) {
	if r.closed.Load() {
		return nil, ErrRouterClosed
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.topics[topic]; ok {
		return nil, fmt.Errorf("%w: %s", ErrTopicInUse, topic)
	}
	q := make(chan *task, bufferSize)
	r.topics[topic] = q
	return q, nil
}

func (r *Router) unbind(topic string) {
	r.mu.Lock()
	delete(r.topics, topic)
	r.mu.Unlock()
}

// publish queues t, blocking while the receiver queue is full.
func (r *Router) publish(ctx context.Context, topic string, t *task) error {
	if r.closed.Load() {
		return ErrRouterClosed
	}
	r.mu.RLock()
	q, ok := r.topics[topic]
	r.mu.RUnlock()
	if !ok {
		return fmt.Errorf("%w: %s", ErrNoReceiver, topic)
	}
	select {
	case q <- t:
		r.metrics.published.Add(1)
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Close rejects further publishes. Bound receivers keep draining.
func (r *Router) Close() {
	r.closed.Store(true)
}

// Stats is router telemetry.
type Stats struct {
	Published  uint64
	Dispatched uint64
	Failed     uint64
}

func (r *Router) Stats() Stats {
	return Stats{
		Published:  r.metrics.published.Load(),
		Dispatched: r.metrics.dispatched.Load(),
		Failed:     r.metrics.failed.Load(),
	}
}

var _ xchannel.Receiver = (*Receiver)(nil)

// Receiver is a source fed by memory senders.
type Receiver struct {
	router *Router
	cfg    Config

	mu     sync.Mutex
	cancel context.CancelFunc
	queue  chan *task
	wg     sync.WaitGroup
}

func NewReceiver(r *Router, cfg Config) (*Receiver, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &Receiver{router: r, cfg: cfg}, nil
}

func (rc *Receiver) IsPolling() bool { return false }

func (rc *Receiver) OnStart(_ context.Context, d xchannel.Dispatcher) error {
	q, err := rc.router.bind(rc.cfg.Topic, rc.cfg.BufferSize)
	if err != nil {
		return err
	}
	ctx, cancel := context.WithCancel(context.Background())
	rc.mu.Lock()
	rc.cancel = cancel
	rc.queue = q
	rc.mu.Unlock()

	for i := 0; i < rc.cfg.Concurrency; i++ {
		rc.wg.Add(1)
		go func() {
			defer rc.wg.Done()
			rc.worker(ctx, q, d)
		}()
	}
	d.EmitConnectionStatus(xchannel.ConnectionIdle, rc.cfg.Topic)
	return nil
}

func (rc *Receiver) worker(ctx context.Context, q chan *task, d xchannel.Dispatcher) {
	for {
		select {
		case <-ctx.Done():
			return
		case t := <-q:
			d.EmitConnectionStatus(xchannel.ConnectionReceiving, rc.cfg.Topic)
			results, err := d.Dispatch(ctx, t.raw)
			d.EmitConnectionStatus(xchannel.ConnectionIdle, rc.cfg.Topic)
			if err != nil {
				rc.router.metrics.failed.Add(1)
			} else {
				rc.router.metrics.dispatched.Add(1)
			}
			if t.reply != nil {
				var out *xchannel.ResponseOutcome
				if n := len(results); n > 0 {
					out = results[n-1].Response
				}
				t.reply <- reply{outcome: out, err: err}
			}
		}
	}
}

// OnStop unbinds the topic, then waits for workers to finish their current
// message. Queued messages that were not picked up are failed.
func (rc *Receiver) OnStop(context.Context) error {
	rc.router.unbind(rc.cfg.Topic)
	rc.mu.Lock()
	cancel, q := rc.cancel, rc.queue
	rc.cancel, rc.queue = nil, nil
	rc.mu.Unlock()
	if cancel != nil {
		cancel()
	}
	rc.wg.Wait()
	for {
		select {
		case t := <-q:
			rc.router.metrics.failed.Add(1)
			if t.reply != nil {
				t.reply <- reply{err: fmt.Errorf("%w: %s", ErrNoReceiver, rc.cfg.Topic)}
			}
		default:
			return nil
		}
	}
}

var _ xchannel.Sender = (*Sender)(nil)

// Sender routes ENCODED content to the receiver bound to Topic.
type Sender struct {
	router *Router
	cfg    Config
}

func NewSender(r *Router, cfg Config) (*Sender, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &Sender{router: r, cfg: cfg}, nil
}

func (s *Sender) Send(ctx context.Context, cm *xchannel.ConnectorMessage) (*xchannel.Response, error) {
	sm := xchannel.NewMap()
	sm.Put("sourceChannelId", cm.ChannelID)
	sm.Put("sourceMessageId", strconv.FormatInt(cm.MessageID, 10))
	sm.Put("sourceConnector", cm.ConnectorName)

	t := &task{raw: xchannel.RawMessage{Data: cm.Encoded().Data, SourceMap: sm}}
	if !s.cfg.Wait {
		if err := s.router.publish(ctx, s.cfg.Topic, t); err != nil {
			return nil, err
		}
		return &xchannel.Response{Status: xchannel.StatusSent}, nil
	}

	t.reply = make(chan reply, 1)
	ctx, cancel := context.WithTimeout(ctx, s.cfg.Timeout)
	defer cancel()
	if err := s.router.publish(ctx, s.cfg.Topic, t); err != nil {
		return nil, err
	}
	select {
	case rep := <-t.reply:
		if rep.err != nil {
			return nil, rep.err
		}
		resp := &xchannel.Response{Status: xchannel.StatusSent}
		if rep.outcome != nil {
			resp.Message = rep.outcome.Message
			if rep.outcome.Err != nil {
				resp.Error = rep.outcome.Err.Error()
			}
		}
		return resp, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}
