package xchannel

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"sync/atomic"
	"time"

	"github.com/trickstertwo/xclock"
	"github.com/trickstertwo/xlog"
	"golang.org/x/sync/errgroup"
)

var _ API = (*Channel)(nil)
var _ HealthChecker = (*Channel)(nil)

// Channel is one source connector fanned out to N destinations.
type Channel struct {
	id       string
	name     string
	serverID string

	source       *SourceConnector
	sourceExec   *Executor
	batch        BatchAdaptorFactory
	destinations []*DestinationConnector
	columns      []MetaDataColumn
	response     ResponseSettings
	preprocessor Preprocessor

	ids           IDSequence
	store         StatisticsStore
	flushRetry    RetryConfig
	flushInterval time.Duration
	pending       *StatisticsAccumulator
	totals        *StatisticsAccumulator
	archiver      Archiver
	retrying      atomic.Bool

	clock   xclock.Clock
	logger  *xlog.Logger
	sink    EventSink
	queue   *EventQueue
	metrics *channelMetrics
	stats   channelCounters
	closed  atomic.Bool
	done    chan struct{}
}

func (c *Channel) ID() string   { return c.id }
func (c *Channel) Name() string { return c.name }

// Source returns the source connector.
func (c *Channel) Source() *SourceConnector { return c.source }

// Destinations returns destination connectors ordered by metaDataId.
func (c *Channel) Destinations() []*DestinationConnector {
	out := make([]*DestinationConnector, len(c.destinations))
	copy(out, c.destinations)
	return out
}

// State is the source connector's deployed state.
func (c *Channel) State() DeployedState { return c.source.State() }

// BatchAdaptor returns the configured batch splitter, or nil.
func (c *Channel) BatchAdaptor() BatchAdaptorFactory { return c.batch }

// Start starts every destination, then the source. If the source fails the
// destinations are stopped again.
func (c *Channel) Start(ctx context.Context) error {
	if c.closed.Load() {
		return ErrChannelClosed
	}
	if state := c.source.State(); state != StateStopped {
		return fmt.Errorf("%w: %s -> %s on channel %q", ErrIllegalStateTransition, state, StateStarted, c.id)
	}
	g, gctx := errgroup.WithContext(ctx)
	for _, d := range c.destinations {
		g.Go(func() error { return d.Start(gctx) })
	}
	if err := g.Wait(); err != nil {
		c.stopDestinations(ctx, true)
		return err
	}
	if err := c.source.Start(ctx); err != nil {
		c.stopDestinations(ctx, true)
		return err
	}
	c.logger.Info().Str("channel_id", c.id).Str("channel", c.name).Msg("xchannel: channel started")
	return nil
}

// Stop stops the source, waiting for in-flight messages, then every
// destination, and flushes statistics left over from failed flushes.
func (c *Channel) Stop(ctx context.Context) error {
	err := c.source.Stop(ctx)
	if derr := c.stopDestinations(ctx, false); derr != nil {
		err = errors.Join(err, derr)
	}
	if ferr := c.flushPendingOnShutdown(ctx); ferr != nil {
		err = errors.Join(err, ferr)
	}
	c.logger.Info().Str("channel_id", c.id).Err(err).Msg("xchannel: channel stopped")
	return err
}

// Halt halts the source and every destination without waiting for in-flight
// messages.
func (c *Channel) Halt(ctx context.Context) error {
	err := c.source.Halt(ctx)
	if derr := c.stopDestinations(ctx, true); derr != nil {
		err = errors.Join(err, derr)
	}
	if ferr := c.flushPendingOnShutdown(ctx); ferr != nil {
		err = errors.Join(err, ferr)
	}
	c.logger.Warn().Str("channel_id", c.id).Err(err).Msg("xchannel: channel halted")
	return err
}

// Pause stops the source from receiving.
func (c *Channel) Pause(ctx context.Context) error { return c.source.Pause(ctx) }

// Resume restarts a paused source.
func (c *Channel) Resume(ctx context.Context) error { return c.source.Resume(ctx) }

func (c *Channel) stopDestinations(ctx context.Context, halt bool) error {
	g, gctx := errgroup.WithContext(context.WithoutCancel(ctx))
	for _, d := range c.destinations {
		switch d.State() {
		case StateStopped, StateUnknown:
			continue
		}
		g.Go(func() error {
			if halt {
				return d.Halt(gctx)
			}
			return d.Stop(gctx)
		})
	}
	return g.Wait()
}

// Close stops the channel if needed, makes a last attempt at pending
// statistics and releases the owned event queue.
func (c *Channel) Close(ctx context.Context) error {
	if c.closed.Swap(true) {
		return nil
	}
	close(c.done)
	var err error
	switch c.State() {
	case StateStarted, StatePaused:
		err = c.Stop(ctx)
	default:
		err = c.flushPendingOnShutdown(ctx)
	}
	if c.queue != nil {
		if qerr := c.queue.Close(5 * time.Second); qerr != nil {
			c.logger.Warn().Err(qerr).Msg("xchannel: event queue shutdown timeout")
			err = errors.Join(err, qerr)
		}
	}
	return err
}

// AddObserver registers an observer on the channel's own event queue.
func (c *Channel) AddObserver(obs Observer) {
	if c.queue != nil {
		c.queue.AddObserver(obs)
	}
}

// RemoveObserver removes an observer from the channel's own event queue.
func (c *Channel) RemoveObserver(obs Observer) {
	if c.queue != nil {
		c.queue.RemoveObserver(obs)
	}
}

// Statistics returns the counts of every processed message since deploy,
// whether or not they were flushed yet.
func (c *Channel) Statistics() map[int]map[Status]int64 { return c.totals.Snapshot() }

// PendingStatistics returns counts whose flush failed and that will be
// carried into the next flush.
func (c *Channel) PendingStatistics() map[int]map[Status]int64 { return c.pending.Snapshot() }

// FlushPending retries pending statistics without a new message.
func (c *Channel) FlushPending(ctx context.Context) error {
	return c.flush(ctx, NewStatisticsAccumulator())
}

func (c *Channel) flushPendingOnShutdown(ctx context.Context) error {
	if c.pending.Empty() {
		return nil
	}
	if err := c.FlushPending(ctx); err != nil {
		c.logger.Error().Str("channel_id", c.id).Err(err).Msg("xchannel: pending statistics could not be flushed")
		return fmt.Errorf("xchannel: flush pending statistics: %w", err)
	}
	return nil
}

// retryPending flushes pending statistics every flushInterval until they
// are written or the channel is closed. Only one loop runs at a time.
func (c *Channel) retryPending() {
	for {
		timer := time.NewTimer(c.flushInterval)
		select {
		case <-c.done:
			timer.Stop()
			c.retrying.Store(false)
			return
		case <-timer.C:
		}
		if err := c.FlushPending(context.Background()); err != nil || !c.pending.Empty() {
			continue
		}
		c.retrying.Store(false)
		// A flush that failed between the check and the store saw the loop
		// as running.
		if c.pending.Empty() || !c.retrying.CompareAndSwap(false, true) {
			return
		}
	}
}

// GetMetrics returns current channel counters.
func (c *Channel) GetMetrics() Metrics {
	m := Metrics{
		Received:            c.stats.received.Load(),
		Filtered:            c.stats.filtered.Load(),
		Sent:                c.stats.sent.Load(),
		Queued:              c.stats.queued.Load(),
		Errors:              c.stats.errors.Load(),
		FlushFailures:       c.stats.flushFailures.Load(),
		AvgProcessingTimeMs: float64(c.stats.processingNs.Load()) / 1e6,
	}
	if c.queue != nil {
		m.EventsDropped = c.queue.Stats().Dropped
	}
	return m
}

// Health reports unhealthy unless started, degraded above a 5% error rate or
// with unflushed statistics.
func (c *Channel) Health(ctx context.Context) HealthStatus {
	state := c.State()
	metrics := c.GetMetrics()
	now := c.clock.Now()
	if c.closed.Load() || state != StateStarted {
		return HealthStatus{Status: "unhealthy", State: state, Metrics: metrics, Timestamp: now, Message: "channel is " + string(state)}
	}
	status := "healthy"
	if metrics.Errors > 0 && metrics.Received > 0 && float64(metrics.Errors)/float64(metrics.Received) > 0.05 {
		status = "degraded"
	}
	msg := ""
	if !c.pending.Empty() {
		status = "degraded"
		msg = "statistics flush pending"
	}
	return HealthStatus{Status: status, State: state, Metrics: metrics, Timestamp: now, Message: msg}
}

// process is the body of SourceConnector.DispatchRawMessage.
func (c *Channel) process(ctx context.Context, raw RawMessage) (*DispatchResult, error) {
	start := c.clock.Now()
	ctx = InjectAll(ctx, c.logger, c.clock)

	id, err := c.ids.Next(ctx, c.id)
	if err != nil {
		return nil, fmt.Errorf("xchannel: allocate message id: %w", err)
	}

	msg := NewMessage(id, c.id, c.serverID, start)
	msg.SourceMap().Merge(raw.SourceMap)
	stats := NewStatisticsAccumulator()
	result := &DispatchResult{Message: msg}

	responded := false
	respond := func(o ResponseOutcome) {
		result.Response = &o
		if raw.OnResponse != nil && !responded {
			responded = true
			raw.OnResponse(o)
		}
	}

	src, err := msg.NewConnectorMessage(0, c.source.name, nil, start)
	if err != nil {
		return nil, err
	}
	if err := src.SetContent(ContentRaw, raw.Data, c.sourceExec.InboundDataType(), false); err != nil {
		return nil, err
	}
	c.record(stats, src, StatusReceived)

	sctx := ScriptContext{ChannelID: c.id, ChannelName: c.name, ConnectorName: c.source.name, MetaDataID: 0}
	procErr := c.preprocess(ctx, src, raw.Data, sctx)
	if procErr == nil {
		_, procErr = c.sourceExec.Run(injectScriptContext(ctx, sctx), src)
	}
	c.record(stats, src, src.Status)
	c.emitError(msg.ID, src)
	src.MetaData = ExtractMetaData(src, c.columns, c.logger)

	if c.response.Mode == ResponseAuto && !c.response.RespondAfterProcessing {
		respond(c.autoRespond(raw.Data, src, src.Status))
	}

	if src.Status == StatusTransformed {
		c.runDestinations(ctx, msg, src, stats)
	}

	switch c.response.Mode {
	case ResponseAuto:
		if c.response.RespondAfterProcessing {
			respond(c.autoRespond(raw.Data, src, AggregateStatus(msg)))
		}
	case ResponseDestination:
		respond(c.destinationResponse(msg))
	}

	msg.Processed = true
	if c.archiver != nil {
		if aerr := c.archiver.Archive(ctx, msg); aerr != nil {
			c.metrics.archiveFailed(c.id)
			c.logger.Warn().Str("channel_id", c.id).Str("message_id", strconv.FormatInt(id, 10)).Err(aerr).Msg("xchannel: archive failed")
		}
	}

	if ferr := c.flush(ctx, stats); ferr != nil {
		c.logger.Error().Str("channel_id", c.id).Err(ferr).Msg("xchannel: statistics flush failed, counts kept for next flush")
	}

	duration := c.clock.Since(start)
	c.stats.recordProcessingTime(duration.Nanoseconds())
	c.metrics.observe(c.id, duration)
	c.sink.Emit(Event{
		Type:          EventMessageProcessed,
		ChannelID:     c.id,
		ConnectorName: c.source.name,
		Time:          c.clock.Now(),
		MessageID:     id,
		Status:        AggregateStatus(msg),
		Duration:      duration,
		Err:           procErr,
	})
	return result, procErr
}

func (c *Channel) preprocess(ctx context.Context, src *ConnectorMessage, data string, sctx ScriptContext) error {
	if c.preprocessor == nil {
		return nil
	}
	out, err := c.preprocessor(ctx, data, src)
	if err != nil {
		terr := &TransformError{Connector: sctx.ConnectorName, MetaDataID: 0, Stage: StagePreprocess, Err: err}
		src.Fail(terr)
		return terr
	}
	if out != data {
		return src.SetContent(ContentProcessedRaw, out, src.Raw().DataType, false)
	}
	return nil
}

// runDestinations processes destinations in metaDataId order. Each one gets a
// copy of the previous connector's channel map and every earlier response.
func (c *Channel) runDestinations(ctx context.Context, msg *Message, src *ConnectorMessage, stats *StatisticsAccumulator) {
	encoded := src.Encoded()
	prevChannelMap := src.ChannelMap

	for _, d := range c.destinations {
		dcm, err := msg.NewConnectorMessage(d.metaDataID, d.name, prevChannelMap, c.clock.Now())
		if err != nil {
			c.logger.Error().Str("channel_id", c.id).Err(err).Msg("xchannel: destination skipped")
			continue
		}
		dcm.ResponseMap.Merge(src.ResponseMap)
		_ = dcm.SetContent(ContentRaw, encoded.Data, encoded.DataType, false)
		c.record(stats, dcm, StatusReceived)

		sctx := ScriptContext{ChannelID: c.id, ChannelName: c.name, ConnectorName: d.name, MetaDataID: d.metaDataID}
		resp, err := d.process(injectScriptContext(ctx, sctx), dcm)
		if err != nil {
			c.logger.Warn().
				Str("channel_id", c.id).
				Str("connector", d.name).
				Str("message_id", strconv.FormatInt(msg.ID, 10)).
				Err(err).
				Msg("xchannel: destination processing failed")
		}
		c.record(stats, dcm, dcm.Status)
		c.emitError(msg.ID, dcm)
		dcm.MetaData = ExtractMetaData(dcm, c.columns, c.logger)

		if resp != nil {
			src.ResponseMap.Put(d.ResponseKey(), resp)
		}
		prevChannelMap = dcm.ChannelMap
	}
}

func (c *Channel) autoRespond(raw string, src *ConnectorMessage, status Status) ResponseOutcome {
	responder := c.response.Responder
	if responder == nil {
		responder = StatusResponder{}
	}
	return responder.Respond(raw, src, status)
}

func (c *Channel) destinationResponse(msg *Message) ResponseOutcome {
	dcm := msg.Connector(c.response.DestinationID)
	if dcm == nil {
		return ResponseOutcome{Status: AggregateStatus(msg)}
	}
	out := ResponseOutcome{Status: dcm.Status}
	if rt := dcm.Content(ContentResponseTransformed); rt != nil {
		out.Message = rt.Data
	} else if r := dcm.Response(); r != nil {
		out.Message = r.Data
	}
	if dcm.ProcessingError != "" {
		out.Err = errors.New(dcm.ProcessingError)
	}
	return out
}

// emitError publishes an error event for a connector message that ended ERROR.
func (c *Channel) emitError(messageID int64, cm *ConnectorMessage) {
	if cm.Status != StatusError {
		return
	}
	c.sink.Emit(Event{
		Type:          EventError,
		ChannelID:     c.id,
		ConnectorName: cm.ConnectorName,
		MetaDataID:    cm.MetaDataID,
		Time:          c.clock.Now(),
		MessageID:     messageID,
		Status:        StatusError,
		Info:          cm.ProcessingError,
	})
}

// record counts RECEIVED and terminal statuses.
func (c *Channel) record(stats *StatisticsAccumulator, cm *ConnectorMessage, status Status) {
	if status != StatusReceived && !status.Terminal() {
		return
	}
	stats.Increment(cm.MetaDataID, status)
	c.metrics.status(c.id, cm.ConnectorName, status)
	if cm.MetaDataID != 0 && status == StatusReceived {
		return
	}
	switch status {
	case StatusReceived:
		c.stats.received.Add(1)
	case StatusFiltered:
		c.stats.filtered.Add(1)
	case StatusSent:
		c.stats.sent.Add(1)
	case StatusQueued:
		c.stats.queued.Add(1)
	case StatusError:
		c.stats.errors.Add(1)
	}
}

// flush writes stats plus any previously failed counts in one flush set.
// On failure the whole set is kept for the next flush.
func (c *Channel) flush(ctx context.Context, stats *StatisticsAccumulator) error {
	c.totals.Merge(stats)
	if c.store == nil {
		return nil
	}

	batch := c.pending.Drain()
	batch.Merge(stats)
	ops := batch.FlushOperations(c.id, c.serverID)
	if len(ops) == 0 {
		return nil
	}

	err := c.flushRetry.retry(ctx, func() error { return c.store.Apply(ctx, ops) })
	if err != nil {
		c.pending.Merge(batch)
		c.stats.flushFailures.Add(1)
		if c.flushInterval > 0 && !c.closed.Load() && c.retrying.CompareAndSwap(false, true) {
			go c.retryPending()
		}
		c.metrics.flushFailed(c.id)
		c.sink.Emit(Event{
			Type:      EventStatisticsFlushFailed,
			ChannelID: c.id,
			Time:      c.clock.Now(),
			Err:       err,
		})
		return err
	}
	batch.Reset()
	return nil
}
