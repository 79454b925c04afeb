package nats

import (
	"context"
	"sync"

	gonats "github.com/nats-io/nats.go"
	"github.com/trickstertwo/xchannel"
	"github.com/trickstertwo/xlog"
)

var _ xchannel.Receiver = (*Receiver)(nil)

// Receiver subscribes to Subject (in Queue when set). When a message has a
// reply subject the selected source reply is sent back with Respond.
type Receiver struct {
	cfg    Config
	logger *xlog.Logger

	mu       sync.Mutex
	conn     *gonats.Conn
	sub      *gonats.Subscription
	stopping bool
	inflight sync.WaitGroup
}

func NewReceiver(cfg Config) (*Receiver, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &Receiver{cfg: cfg, logger: xlog.Default()}, nil
}

func (r *Receiver) IsPolling() bool { return false }

func (r *Receiver) OnStart(_ context.Context, d xchannel.Dispatcher) error {
	nc, err := r.cfg.connect(func(connected bool, info string) {
		if connected {
			d.EmitConnectionStatus(xchannel.ConnectionConnected, info)
			return
		}
		d.EmitConnectionStatus(xchannel.ConnectionDisconnected, info)
	})
	if err != nil {
		return err
	}

	handler := func(msg *gonats.Msg) { r.handle(d, msg) }
	var sub *gonats.Subscription
	if r.cfg.Queue != "" {
		sub, err = nc.QueueSubscribe(r.cfg.Subject, r.cfg.Queue, handler)
	} else {
		sub, err = nc.Subscribe(r.cfg.Subject, handler)
	}
	if err != nil {
		nc.Close()
		return err
	}
	if err := nc.Flush(); err != nil {
		nc.Close()
		return err
	}

	r.mu.Lock()
	r.conn, r.sub, r.stopping = nc, sub, false
	r.mu.Unlock()
	d.EmitConnectionStatus(xchannel.ConnectionConnected, nc.ConnectedUrlRedacted())
	return nil
}

func (r *Receiver) handle(d xchannel.Dispatcher, msg *gonats.Msg) {
	r.mu.Lock()
	if r.stopping {
		r.mu.Unlock()
		return
	}
	r.inflight.Add(1)
	r.mu.Unlock()
	defer r.inflight.Done()

	sm := xchannel.NewMap()
	sm.Put("subject", msg.Subject)
	if msg.Reply != "" {
		sm.Put("replyTo", msg.Reply)
	}
	for k := range msg.Header {
		sm.Put("header."+k, msg.Header.Get(k))
	}

	raw := xchannel.RawMessage{Data: string(msg.Data), SourceMap: sm}
	if msg.Reply != "" {
		raw.OnResponse = func(o xchannel.ResponseOutcome) {
			if !o.HasReply() {
				return
			}
			if err := msg.Respond([]byte(o.Message)); err != nil {
				r.logger.Warn().Str("subject", msg.Subject).Err(err).Msg("nats: respond failed")
			}
		}
	}

	d.EmitConnectionStatus(xchannel.ConnectionReceiving, msg.Subject)
	if _, err := d.Dispatch(context.Background(), raw); err != nil {
		r.logger.Warn().Str("subject", msg.Subject).Err(err).Msg("nats: dispatch failed")
	}
	d.EmitConnectionStatus(xchannel.ConnectionIdle, msg.Subject)
}

// OnStop unsubscribes, waits for running dispatches and closes the
// connection.
func (r *Receiver) OnStop(context.Context) error {
	r.mu.Lock()
	nc, sub := r.conn, r.sub
	r.conn, r.sub, r.stopping = nil, nil, true
	r.mu.Unlock()

	var err error
	if sub != nil {
		err = sub.Unsubscribe()
	}
	r.inflight.Wait()
	if nc != nil {
		nc.Close()
	}
	return err
}
