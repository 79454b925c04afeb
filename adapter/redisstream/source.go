package redisstream

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/trickstertwo/xchannel"
)

var _ xchannel.Receiver = (*Receiver)(nil)

// Receiver reads a stream through a consumer group and acknowledges each
// entry once its dispatch returned. Entries whose dispatch failed are moved
// to DeadLetter when configured, otherwise left pending for redelivery.
type Receiver struct {
	cfg    Config
	client *redis.Client
	owned  bool

	mu     sync.Mutex
	cancel context.CancelFunc
	wg     sync.WaitGroup

	metrics receiverMetrics
}

type receiverMetrics struct {
	consumed      atomic.Uint64
	acked         atomic.Uint64
	failed        atomic.Uint64
	reclaimed     atomic.Uint64
	consumeErrors atomic.Uint64
}

// NewReceiver uses client when non-nil, otherwise connects on start.
func NewReceiver(cfg Config, client *redis.Client) (*Receiver, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if cfg.Stream == "" {
		return nil, fmt.Errorf("config: stream required")
	}
	return &Receiver{cfg: cfg, client: client}, nil
}

func (r *Receiver) IsPolling() bool { return true }

func (r *Receiver) OnStart(ctx context.Context, d xchannel.Dispatcher) error {
	if r.client == nil {
		c, err := NewClient(r.cfg)
		if err != nil {
			return err
		}
		r.client, r.owned = c, true
	}

	// Ensure consumer group exists (idempotent)
	if r.cfg.AutoCreate {
		if err := r.client.XGroupCreateMkStream(ctx, r.cfg.Stream, r.cfg.Group, "$").Err(); err != nil && !strings.Contains(err.Error(), "BUSYGROUP") {
			return fmt.Errorf("redisstream: create group: %w", err)
		}
	}

	innerCtx, cancel := context.WithCancel(context.Background())
	r.mu.Lock()
	r.cancel = cancel
	r.mu.Unlock()

	workers := max(1, r.cfg.Concurrency)
	workCh := make(chan redis.XMessage, workers*2)

	for i := 0; i < workers; i++ {
		r.wg.Add(1)
		go func() {
			defer r.wg.Done()
			for msg := range workCh {
				r.handle(innerCtx, d, msg)
			}
		}()
	}

	// workCh closes once every producer has returned.
	var producers sync.WaitGroup
	producers.Add(1)
	go func() {
		defer producers.Done()
		r.pollerLoop(innerCtx, d, workCh)
	}()
	if r.cfg.ClaimMinIdle > 0 && r.cfg.ClaimInterval > 0 && r.cfg.ClaimBatch > 0 {
		producers.Add(1)
		go func() {
			defer producers.Done()
			r.claimLoop(innerCtx, workCh)
		}()
	}
	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		producers.Wait()
		close(workCh)
	}()
	return nil
}

// OnStop stops polling and waits for in-progress entries.
func (r *Receiver) OnStop(context.Context) error {
	r.mu.Lock()
	cancel := r.cancel
	r.cancel = nil
	r.mu.Unlock()
	if cancel != nil {
		cancel()
	}
	r.wg.Wait()
	if r.owned && r.client != nil {
		err := r.client.Close()
		r.client, r.owned = nil, false
		return err
	}
	return nil
}

// pollerLoop reads from the stream and distributes entries to workers.
func (r *Receiver) pollerLoop(ctx context.Context, d xchannel.Dispatcher, workCh chan<- redis.XMessage) {
	xArgs := &redis.XReadGroupArgs{
		Group:    r.cfg.Group,
		Consumer: r.cfg.Consumer,
		Streams:  []string{r.cfg.Stream, ">"},
		Count:    int64(max(1, r.cfg.BatchSize)),
		Block:    r.cfg.Block,
		NoAck:    false,
	}

	backoff := time.Millisecond * 100
	maxBackoff := time.Second * 5

	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		d.EmitConnectionStatus(xchannel.ConnectionPolling, r.cfg.Stream)
		res, err := r.client.XReadGroup(ctx, xArgs).Result()
		if err != nil {
			if errors.Is(err, context.Canceled) || ctx.Err() != nil {
				return
			}
			if errors.Is(err, redis.Nil) {
				// Block timeout (expected), continue polling
				backoff = time.Millisecond * 100
				continue
			}

			r.metrics.consumeErrors.Add(1)
			d.EmitConnectionStatus(xchannel.ConnectionDisconnected, err.Error())
			select {
			case <-time.After(backoff):
				backoff = min(backoff*2, maxBackoff)
			case <-ctx.Done():
				return
			}
			continue
		}

		backoff = time.Millisecond * 100
		for _, stream := range res {
			for _, msg := range stream.Messages {
				r.metrics.consumed.Add(1)
				select {
				case workCh <- msg:
				case <-ctx.Done():
					return
				}
			}
		}
	}
}

func (r *Receiver) handle(ctx context.Context, d xchannel.Dispatcher, msg redis.XMessage) {
	d.EmitConnectionStatus(xchannel.ConnectionReceiving, msg.ID)
	_, err := d.Dispatch(ctx, decodeEntry(msg.Values))
	d.EmitConnectionStatus(xchannel.ConnectionIdle, "")

	// The dispatch result is final even if ctx was canceled meanwhile.
	ackCtx := context.WithoutCancel(ctx)
	if err == nil {
		r.ack(ackCtx, msg.ID)
		return
	}
	r.metrics.failed.Add(1)
	if r.cfg.DeadLetter == "" {
		// Leave pending to allow consumer group redelivery.
		return
	}
	values := make(map[string]any, len(msg.Values)+3)
	for k, v := range msg.Values {
		values[k] = v
	}
	values["orig_stream"] = r.cfg.Stream
	values["orig_id"] = msg.ID
	values["error"] = err.Error()
	if xerr := r.client.XAdd(ackCtx, &redis.XAddArgs{Stream: r.cfg.DeadLetter, ID: "*", Values: values}).Err(); xerr == nil {
		r.ack(ackCtx, msg.ID)
	}
}

func (r *Receiver) ack(ctx context.Context, id string) {
	if err := r.client.XAck(ctx, r.cfg.Stream, r.cfg.Group, id).Err(); err != nil {
		return
	}
	r.metrics.acked.Add(1)
	if r.cfg.AutoDeleteOnAck {
		_ = r.client.XDel(ctx, r.cfg.Stream, id).Err()
	}
}

// claimLoop periodically claims entries idle in the pending list, from dead
// consumers or left by failed dispatches of this one, and hands them to the
// workers again.
func (r *Receiver) claimLoop(ctx context.Context, workCh chan<- redis.XMessage) {
	ticker := time.NewTicker(r.cfg.ClaimInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}

		pending, err := r.client.XPendingExt(ctx, &redis.XPendingExtArgs{
			Stream: r.cfg.Stream,
			Group:  r.cfg.Group,
			Start:  "-",
			End:    "+",
			Count:  int64(max(1, r.cfg.ClaimBatch)),
			Idle:   r.cfg.ClaimMinIdle,
		}).Result()
		if err != nil || len(pending) == 0 {
			continue
		}

		ids := make([]string, 0, len(pending))
		for _, p := range pending {
			ids = append(ids, p.ID)
		}
		claimed, err := r.client.XClaim(ctx, &redis.XClaimArgs{
			Stream:   r.cfg.Stream,
			Group:    r.cfg.Group,
			Consumer: r.cfg.Consumer,
			MinIdle:  r.cfg.ClaimMinIdle,
			Messages: ids,
		}).Result()
		if err != nil {
			continue
		}
		for _, msg := range claimed {
			// Entries deleted from the stream come back without values.
			if len(msg.Values) == 0 {
				_ = r.client.XAck(ctx, r.cfg.Stream, r.cfg.Group, msg.ID).Err()
				continue
			}
			r.metrics.reclaimed.Add(1)
			select {
			case workCh <- msg:
			case <-ctx.Done():
				return
			}
		}
	}
}

// ReceiverStats is receiver telemetry.
type ReceiverStats struct {
	Consumed      uint64
	Acked         uint64
	Failed        uint64
	Reclaimed     uint64
	ConsumeErrors uint64
}

func (r *Receiver) Stats() ReceiverStats {
	return ReceiverStats{
		Consumed:      r.metrics.consumed.Load(),
		Acked:         r.metrics.acked.Load(),
		Failed:        r.metrics.failed.Load(),
		Reclaimed:     r.metrics.reclaimed.Load(),
		ConsumeErrors: r.metrics.consumeErrors.Load(),
	}
}

// decodeEntry turns stream entry values into a RawMessage. Fields with the
// src: prefix go to the source map.
func decodeEntry(vals map[string]any) xchannel.RawMessage {
	raw := xchannel.RawMessage{SourceMap: xchannel.NewMap()}
	if v, ok := vals[fieldData]; ok {
		raw.Data = asString(v)
	}
	for k, v := range vals {
		if strings.HasPrefix(k, fieldSourcePrefix) {
			raw.SourceMap.Put(strings.TrimPrefix(k, fieldSourcePrefix), asString(v))
		}
	}
	if v, ok := vals[fieldChannel]; ok {
		raw.SourceMap.Put("sourceChannelId", asString(v))
	}
	if v, ok := vals[fieldMessageID]; ok {
		raw.SourceMap.Put("sourceMessageId", asString(v))
	}
	if pa := vals[fieldProducedAt]; pa != nil {
		if ns, ok := toInt64(pa); ok && ns > 0 {
			raw.SourceMap.Put("producedAt", time.Unix(0, ns))
		}
	}
	return raw
}

func asString(v any) string {
	switch s := v.(type) {
	case string:
		return s
	case []byte:
		return string(s)
	default:
		return fmt.Sprintf("%v", s)
	}
}

func toInt64(v any) (int64, bool) {
	switch n := v.(type) {
	case int64:
		return n, true
	case int:
		return int64(n), true
	case string:
		if i, err := strconv.ParseInt(n, 10, 64); err == nil {
			return i, true
		}
	case []byte:
		return toInt64(string(n))
	}
	return 0, false
}
