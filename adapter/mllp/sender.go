package mllp

import (
	"context"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/trickstertwo/xchannel"
)

var (
	_ xchannel.Sender  = (*Sender)(nil)
	_ xchannel.Stopper = (*Sender)(nil)
)

// Sender writes the ENCODED content as one frame and reads the reply frame.
// Sends on one Sender are serialised over a single connection.
type Sender struct {
	cfg    Config
	dialer net.Dialer

	mu   sync.Mutex
	conn net.Conn
	rd   *Reader
}

func NewSender(cfg Config) (*Sender, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &Sender{cfg: cfg, dialer: net.Dialer{Timeout: cfg.ConnectTimeout}}, nil
}

func (s *Sender) Send(ctx context.Context, cm *xchannel.ConnectorMessage) (*xchannel.Response, error) {
	enc := cm.Encoded()
	if enc == nil {
		return nil, fmt.Errorf("mllp: connector message %d has no encoded content", cm.MessageID)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.conn == nil {
		conn, err := s.dialer.DialContext(ctx, "tcp", s.cfg.Addr)
		if err != nil {
			return nil, fmt.Errorf("mllp: connect %s: %w", s.cfg.Addr, err)
		}
		s.conn, s.rd = conn, NewReader(conn, s.cfg.MaxFrameSize)
	}
	if !s.cfg.KeepOpen {
		defer s.closeLocked()
	}

	deadline := time.Now().Add(s.cfg.ResponseTimeout)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}
	_ = s.conn.SetDeadline(deadline)

	if err := WriteFrame(s.conn, []byte(enc.Data)); err != nil {
		s.closeLocked()
		return nil, fmt.Errorf("mllp: write: %w", err)
	}
	if s.cfg.IgnoreResponse {
		return &xchannel.Response{Status: xchannel.StatusSent}, nil
	}

	reply, err := s.rd.ReadFrame()
	if err != nil {
		s.closeLocked()
		return nil, fmt.Errorf("mllp: read response: %w", err)
	}
	return &xchannel.Response{Status: xchannel.StatusSent, Message: string(reply)}, nil
}

func (s *Sender) closeLocked() {
	if s.conn != nil {
		_ = s.conn.Close()
		s.conn, s.rd = nil, nil
	}
}

func (s *Sender) Stop(context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closeLocked()
	return nil
}
