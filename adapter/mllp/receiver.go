package mllp

import (
	"context"
	"errors"
	"io"
	"net"
	"sync"
	"time"

	"github.com/trickstertwo/xchannel"
	"github.com/trickstertwo/xlog"
)

var _ xchannel.Receiver = (*Receiver)(nil)

// Receiver is an MLLP listener source. Each frame is dispatched in order per
// connection and the selected source reply, if any, is written back as a
// frame.
type Receiver struct {
	cfg    Config
	logger *xlog.Logger

	mu       sync.Mutex
	ln       net.Listener
	conns    map[net.Conn]struct{}
	cancel   context.CancelFunc
	wg       sync.WaitGroup
	sem      chan struct{}
	draining bool
}

func NewReceiver(cfg Config) (*Receiver, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &Receiver{cfg: cfg, logger: xlog.Default(), conns: map[net.Conn]struct{}{}}, nil
}

// WithLogger sets the logger for connection errors.
func (r *Receiver) WithLogger(l *xlog.Logger) *Receiver {
	if l != nil {
		r.logger = l
	}
	return r
}

func (r *Receiver) IsPolling() bool { return false }

// Addr is the bound listen address, useful with port 0.
func (r *Receiver) Addr() net.Addr {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.ln == nil {
		return nil
	}
	return r.ln.Addr()
}

func (r *Receiver) OnStart(ctx context.Context, d xchannel.Dispatcher) error {
	var lc net.ListenConfig
	ln, err := lc.Listen(ctx, "tcp", r.cfg.Addr)
	if err != nil {
		return err
	}
	runCtx, cancel := context.WithCancel(context.Background())

	r.mu.Lock()
	r.ln, r.cancel, r.draining = ln, cancel, false
	r.sem = make(chan struct{}, r.cfg.MaxConnections)
	r.mu.Unlock()

	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		r.acceptLoop(runCtx, ln, d)
	}()
	d.EmitConnectionStatus(xchannel.ConnectionIdle, ln.Addr().String())
	return nil
}

func (r *Receiver) acceptLoop(ctx context.Context, ln net.Listener, d xchannel.Dispatcher) {
	for {
		conn, err := ln.Accept()
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, net.ErrClosed) {
				return
			}
			r.logger.Warn().Err(err).Msg("mllp: accept failed")
			select {
			case <-time.After(100 * time.Millisecond):
				continue
			case <-ctx.Done():
				return
			}
		}

		select {
		case r.sem <- struct{}{}:
		default:
			r.logger.Warn().Str("remote", conn.RemoteAddr().String()).Msg("mllp: connection limit reached")
			_ = conn.Close()
			continue
		}

		if !r.track(conn) {
			<-r.sem
			_ = conn.Close()
			return
		}
		r.wg.Add(1)
		go func() {
			defer func() {
				r.untrack(conn)
				<-r.sem
				r.wg.Done()
			}()
			r.serve(ctx, conn, d)
		}()
	}
}

func (r *Receiver) track(c net.Conn) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.draining {
		return false
	}
	r.conns[c] = struct{}{}
	return true
}

func (r *Receiver) untrack(c net.Conn) {
	r.mu.Lock()
	delete(r.conns, c)
	r.mu.Unlock()
	_ = c.Close()
}

func (r *Receiver) serve(ctx context.Context, conn net.Conn, d xchannel.Dispatcher) {
	remote := conn.RemoteAddr().String()
	d.EmitConnectionStatus(xchannel.ConnectionConnected, remote)
	defer d.EmitConnectionStatus(xchannel.ConnectionDisconnected, remote)

	fr := NewReader(conn, r.cfg.MaxFrameSize)
	var writeMu sync.Mutex
	for {
		if !r.armDeadline(conn) {
			return
		}
		frame, err := fr.ReadFrame()
		if err != nil {
			if !errors.Is(err, io.EOF) && !errors.Is(err, net.ErrClosed) && ctx.Err() == nil {
				r.logger.Debug().Str("remote", remote).Err(err).Msg("mllp: connection closed")
			}
			return
		}

		sm := xchannel.NewMap()
		sm.Put("remoteAddress", remote)
		sm.Put("localAddress", conn.LocalAddr().String())
		raw := xchannel.RawMessage{
			Data:      string(frame),
			SourceMap: sm,
			OnResponse: func(o xchannel.ResponseOutcome) {
				if !o.HasReply() {
					return
				}
				writeMu.Lock()
				defer writeMu.Unlock()
				if err := WriteFrame(conn, []byte(o.Message)); err != nil {
					r.logger.Warn().Str("remote", remote).Err(err).Msg("mllp: write response failed")
				}
			},
		}

		d.EmitConnectionStatus(xchannel.ConnectionReceiving, remote)
		if _, err := d.Dispatch(context.WithoutCancel(ctx), raw); err != nil {
			r.logger.Warn().Str("remote", remote).Err(err).Msg("mllp: dispatch failed")
		}
		d.EmitConnectionStatus(xchannel.ConnectionIdle, remote)
	}
}

// armDeadline sets the idle read deadline unless the receiver is stopping.
func (r *Receiver) armDeadline(conn net.Conn) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.draining {
		return false
	}
	var deadline time.Time
	if r.cfg.IdleTimeout > 0 {
		deadline = time.Now().Add(r.cfg.IdleTimeout)
	}
	_ = conn.SetReadDeadline(deadline)
	return true
}

// OnStop closes the listener and every open connection, then waits for
// in-progress dispatches.
func (r *Receiver) OnStop(context.Context) error {
	r.mu.Lock()
	ln, cancel := r.ln, r.cancel
	r.ln, r.cancel, r.draining = nil, nil, true
	conns := make([]net.Conn, 0, len(r.conns))
	for c := range r.conns {
		conns = append(conns, c)
	}
	r.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	var err error
	if ln != nil {
		err = ln.Close()
	}
	for _, c := range conns {
		// Unblock readers; a dispatch in progress completes first.
		_ = c.SetReadDeadline(time.Now())
	}
	r.wg.Wait()
	return err
}
