package nats

import (
	"context"
	"fmt"
	"strconv"
	"sync"

	gonats "github.com/nats-io/nats.go"
	"github.com/trickstertwo/xchannel"
)

var (
	_ xchannel.Sender  = (*Sender)(nil)
	_ xchannel.Starter = (*Sender)(nil)
	_ xchannel.Stopper = (*Sender)(nil)
)

// Header keys set on outgoing messages.
const (
	HeaderChannelID = "Xchannel-Channel-Id"
	HeaderMessageID = "Xchannel-Message-Id"
	HeaderConnector = "Xchannel-Connector"
	HeaderDataType  = "Xchannel-Data-Type"
)

// Sender publishes the ENCODED content to Subject, or sends a request and
// returns the reply when Request is set.
type Sender struct {
	cfg Config

	mu   sync.RWMutex
	conn *gonats.Conn
}

func NewSender(cfg Config) (*Sender, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &Sender{cfg: cfg}, nil
}

func (s *Sender) Start(context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.conn != nil {
		return nil
	}
	nc, err := s.cfg.connect(nil)
	if err != nil {
		return err
	}
	s.conn = nc
	return nil
}

func (s *Sender) Stop(context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.conn == nil {
		return nil
	}
	err := s.conn.Drain()
	s.conn = nil
	return err
}

func (s *Sender) Send(ctx context.Context, cm *xchannel.ConnectorMessage) (*xchannel.Response, error) {
	s.mu.RLock()
	nc := s.conn
	s.mu.RUnlock()
	if nc == nil {
		return nil, fmt.Errorf("nats: sender not started")
	}

	msg := gonats.NewMsg(s.cfg.Subject)
	msg.Header.Set(HeaderChannelID, cm.ChannelID)
	msg.Header.Set(HeaderMessageID, strconv.FormatInt(cm.MessageID, 10))
	msg.Header.Set(HeaderConnector, cm.ConnectorName)
	if enc := cm.Encoded(); enc != nil {
		msg.Data = []byte(enc.Data)
		msg.Header.Set(HeaderDataType, enc.DataType)
	}

	if !s.cfg.Request {
		if err := nc.PublishMsg(msg); err != nil {
			return nil, fmt.Errorf("nats: publish %s: %w", s.cfg.Subject, err)
		}
		return &xchannel.Response{Status: xchannel.StatusSent}, nil
	}

	if _, ok := ctx.Deadline(); !ok {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.cfg.RequestTimeout)
		defer cancel()
	}
	reply, err := nc.RequestMsgWithContext(ctx, msg)
	if err != nil {
		return nil, fmt.Errorf("nats: request %s: %w", s.cfg.Subject, err)
	}
	return &xchannel.Response{Status: xchannel.StatusSent, Message: string(reply.Data)}, nil
}
