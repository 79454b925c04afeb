package xchannel

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/trickstertwo/xclock"
	"github.com/trickstertwo/xlog"
)

type destinationSpec struct {
	cfg    DestinationConfig
	sender Sender
}

// ChannelBuilder constructs Channel instances (Builder pattern).
type ChannelBuilder struct {
	id       string
	name     string
	serverID string

	sourceName   string
	receiver     Receiver
	sourceFT     FilterTransformer
	batch        BatchAdaptorFactory
	destinations []destinationSpec
	columns      []MetaDataColumn
	response     ResponseSettings
	runtime      ScriptRuntime
	preprocessor Preprocessor

	ids           IDSequence
	store         StatisticsStore
	flushRetry    RetryConfig
	flushInterval time.Duration
	archiver      Archiver

	sink         EventSink
	observers    []Observer
	queueWorkers int
	queueBuffer  int

	logger     *xlog.Logger
	clock      xclock.Clock
	registerer prometheus.Registerer
}

// NewChannelBuilder returns a builder with sensible defaults.
func NewChannelBuilder(id, name string) *ChannelBuilder {
	return &ChannelBuilder{
		id:         id,
		name:       name,
		sourceName: "Source",
		response:   ResponseSettings{Mode: ResponseNone},
		flushRetry: RetryConfig{
			MaxAttempts: 3,
			Backoff:     ExponentialBackoff(50*time.Millisecond, time.Second),
		},
		flushInterval: 5 * time.Second,
		queueWorkers:  1,
		queueBuffer:   1024,
	}
}

func (cb *ChannelBuilder) WithServerID(id string) *ChannelBuilder {
	cb.serverID = id
	return cb
}

// WithSource sets the receiver and source filter/transformer.
func (cb *ChannelBuilder) WithSource(name string, r Receiver, ft FilterTransformer) *ChannelBuilder {
	if name != "" {
		cb.sourceName = name
	}
	cb.receiver = r
	cb.sourceFT = ft
	return cb
}

// WithBatchAdaptor lets receivers split inbound payloads with f.
func (cb *ChannelBuilder) WithBatchAdaptor(f BatchAdaptorFactory) *ChannelBuilder {
	cb.batch = f
	return cb
}

// WithDestination adds a destination. MetaDataIDs must be unique and positive.
func (cb *ChannelBuilder) WithDestination(cfg DestinationConfig, s Sender) *ChannelBuilder {
	cb.destinations = append(cb.destinations, destinationSpec{cfg: cfg, sender: s})
	return cb
}

func (cb *ChannelBuilder) WithMetaDataColumns(cols ...MetaDataColumn) *ChannelBuilder {
	cb.columns = append(cb.columns, cols...)
	return cb
}

func (cb *ChannelBuilder) WithResponse(rs ResponseSettings) *ChannelBuilder {
	cb.response = rs
	return cb
}

func (cb *ChannelBuilder) WithScriptRuntime(rt ScriptRuntime) *ChannelBuilder {
	cb.runtime = rt
	return cb
}

func (cb *ChannelBuilder) WithPreprocessor(p Preprocessor) *ChannelBuilder {
	cb.preprocessor = p
	return cb
}

func (cb *ChannelBuilder) WithIDSequence(s IDSequence) *ChannelBuilder {
	cb.ids = s
	return cb
}

func (cb *ChannelBuilder) WithStatisticsStore(s StatisticsStore) *ChannelBuilder {
	cb.store = s
	return cb
}

// WithFlushRetry controls statistics flush retries (default: 3 attempts).
func (cb *ChannelBuilder) WithFlushRetry(cfg RetryConfig) *ChannelBuilder {
	cb.flushRetry = cfg
	return cb
}

// WithFlushInterval sets how often statistics left over from a failed flush
// are retried while no message arrives (default 5s, zero disables).
func (cb *ChannelBuilder) WithFlushInterval(d time.Duration) *ChannelBuilder {
	cb.flushInterval = d
	return cb
}

func (cb *ChannelBuilder) WithArchiver(a Archiver) *ChannelBuilder {
	cb.archiver = a
	return cb
}

// WithEventSink sends events to an external sink in addition to observers.
func (cb *ChannelBuilder) WithEventSink(s EventSink) *ChannelBuilder {
	cb.sink = s
	return cb
}

func (cb *ChannelBuilder) WithObserver(obs ...Observer) *ChannelBuilder {
	for _, o := range obs {
		if o != nil {
			cb.observers = append(cb.observers, o)
		}
	}
	return cb
}

// WithEventQueue sizes the channel's own asynchronous observer queue.
func (cb *ChannelBuilder) WithEventQueue(workers, bufferSize int) *ChannelBuilder {
	cb.queueWorkers = workers
	cb.queueBuffer = bufferSize
	return cb
}

func (cb *ChannelBuilder) WithLogger(l *xlog.Logger) *ChannelBuilder {
	cb.logger = l
	return cb
}

func (cb *ChannelBuilder) WithClock(c xclock.Clock) *ChannelBuilder {
	cb.clock = c
	return cb
}

// WithMetricsRegisterer exports Prometheus metrics; nil disables them.
func (cb *ChannelBuilder) WithMetricsRegisterer(reg prometheus.Registerer) *ChannelBuilder {
	cb.registerer = reg
	return cb
}

func (cb *ChannelBuilder) Build() (*Channel, error) {
	if cb.id == "" {
		return nil, fmt.Errorf("xchannel: channel id must not be empty")
	}
	if cb.receiver == nil {
		return nil, ErrNoSourceConfigured
	}

	clk := cb.clock
	if clk == nil {
		clk = xclock.Default()
	}
	lg := cb.logger
	if lg == nil {
		lg = xlog.Default()
	}
	metrics, err := newChannelMetrics(cb.registerer)
	if err != nil {
		return nil, err
	}

	ch := &Channel{
		id:            cb.id,
		name:          cb.name,
		serverID:      cb.serverID,
		batch:         cb.batch,
		columns:       cb.columns,
		response:      cb.response,
		preprocessor:  cb.preprocessor,
		ids:           cb.ids,
		store:         cb.store,
		flushRetry:    cb.flushRetry,
		flushInterval: cb.flushInterval,
		pending:       NewStatisticsAccumulator(),
		totals:        NewStatisticsAccumulator(),
		archiver:      cb.archiver,
		clock:         clk,
		logger:        lg,
		metrics:       metrics,
		done:          make(chan struct{}),
	}
	if ch.ids == nil {
		ch.ids = &LocalSequence{}
	}
	if ch.response.Mode == "" {
		ch.response.Mode = ResponseNone
	}

	// Attach logging observer first unless already supplied externally.
	ch.queue = NewEventQueue(context.Background(), cb.queueWorkers, cb.queueBuffer)
	hasLoggingObserver := false
	for _, o := range cb.observers {
		if _, ok := o.(LoggingObserver); ok {
			hasLoggingObserver = true
			break
		}
	}
	if !hasLoggingObserver {
		ch.queue.AddObserver(LoggingObserver{Logger: lg})
	}
	for _, o := range cb.observers {
		ch.queue.AddObserver(o)
	}
	ch.sink = ch.queue
	if cb.sink != nil {
		ch.sink = fanoutSink{ch.queue, cb.sink}
	}

	sctx := ScriptContext{ChannelID: cb.id, ChannelName: cb.name, ConnectorName: cb.sourceName}
	ch.sourceExec, err = NewExecutor(cb.sourceFT, cb.runtime, sctx)
	if err != nil {
		_ = ch.queue.Close(time.Second)
		return nil, err
	}
	ch.source = &SourceConnector{receiver: cb.receiver, batch: cb.batch, process: ch.process}
	ch.source.init(cb.id, cb.sourceName, 0, ch.sink, clk, metrics)

	seen := make(map[int]bool, len(cb.destinations))
	for _, spec := range cb.destinations {
		d, err := cb.buildDestination(spec, ch.sink, clk, metrics)
		if err == nil && seen[d.metaDataID] {
			err = fmt.Errorf("%w: %d", ErrDuplicateMetaDataID, d.metaDataID)
		}
		if err != nil {
			_ = ch.queue.Close(time.Second)
			return nil, err
		}
		seen[d.metaDataID] = true
		ch.destinations = append(ch.destinations, d)
	}
	sort.Slice(ch.destinations, func(i, j int) bool {
		return ch.destinations[i].metaDataID < ch.destinations[j].metaDataID
	})
	return ch, nil
}

func (cb *ChannelBuilder) buildDestination(spec destinationSpec, sink EventSink, clk xclock.Clock, metrics *channelMetrics) (*DestinationConnector, error) {
	cfg := spec.cfg
	if cfg.MetaDataID < 1 {
		return nil, fmt.Errorf("xchannel: destination %q metaDataId must be >= 1, got %d", cfg.Name, cfg.MetaDataID)
	}
	if spec.sender == nil {
		return nil, fmt.Errorf("xchannel: destination %q has no sender", cfg.Name)
	}
	name := cfg.Name
	if name == "" {
		name = fmt.Sprintf("Destination %d", cfg.MetaDataID)
	}
	exec, err := NewExecutor(cfg.FilterTransformer, cb.runtime, ScriptContext{
		ChannelID:     cb.id,
		ChannelName:   cb.name,
		ConnectorName: name,
		MetaDataID:    cfg.MetaDataID,
	})
	if err != nil {
		return nil, err
	}
	validator := cfg.Validator
	if validator == nil {
		validator = PassthroughValidator{}
	}
	responseType := cfg.ResponseDataType
	if responseType == "" {
		responseType = exec.OutboundDataType()
	}

	base := RecoveryMiddleware()(countingSender(spec.sender))
	d := &DestinationConnector{
		sender:       spec.sender,
		send:         Chain(base, cfg.Middlewares...),
		executor:     exec,
		validator:    validator,
		queueOnError: cfg.QueueOnError,
		responseType: responseType,
	}
	d.init(cb.id, name, cfg.MetaDataID, sink, clk, metrics)
	return d, nil
}

type fanoutSink []EventSink

func (f fanoutSink) Emit(e Event) {
	for _, s := range f {
		s.Emit(e)
	}
}
