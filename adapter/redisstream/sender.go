package redisstream

import (
	"context"
	"fmt"
	"strconv"
	"sync"

	"github.com/redis/go-redis/v9"
	"github.com/trickstertwo/xchannel"
	"github.com/trickstertwo/xclock"
)

var (
	_ xchannel.Sender  = (*Sender)(nil)
	_ xchannel.Starter = (*Sender)(nil)
	_ xchannel.Stopper = (*Sender)(nil)
)

// Sender appends the ENCODED content of each connector message to a stream.
// The entry id is returned as the response.
type Sender struct {
	cfg   Config
	clock xclock.Clock

	mu     sync.RWMutex
	client *redis.Client
	owned  bool
}

// NewSender uses client when non-nil, otherwise connects on Start.
func NewSender(cfg Config, client *redis.Client) (*Sender, error) {
	if cfg.Addr == "" && client == nil {
		return nil, fmt.Errorf("config: addr required")
	}
	if cfg.Stream == "" {
		return nil, fmt.Errorf("config: stream required")
	}
	return &Sender{cfg: cfg, client: client, clock: xclock.Default()}, nil
}

func (s *Sender) Start(context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.client != nil {
		return nil
	}
	c, err := NewClient(s.cfg)
	if err != nil {
		return err
	}
	s.client, s.owned = c, true
	return nil
}

func (s *Sender) Stop(context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.owned || s.client == nil {
		return nil
	}
	err := s.client.Close()
	s.client, s.owned = nil, false
	return err
}

func (s *Sender) Send(ctx context.Context, cm *xchannel.ConnectorMessage) (*xchannel.Response, error) {
	s.mu.RLock()
	client := s.client
	s.mu.RUnlock()
	if client == nil {
		return nil, fmt.Errorf("redisstream: sender not started")
	}

	values := map[string]any{
		fieldChannel:    cm.ChannelID,
		fieldMessageID:  strconv.FormatInt(cm.MessageID, 10),
		fieldConnector:  cm.ConnectorName,
		fieldProducedAt: s.clock.Now().UnixNano(),
	}
	if enc := cm.Encoded(); enc != nil {
		values[fieldData] = enc.Data
		values[fieldDataType] = enc.DataType
	} else {
		values[fieldData] = ""
	}

	args := &redis.XAddArgs{Stream: s.cfg.Stream, ID: "*", Values: values}
	if s.cfg.MaxLenApprox > 0 {
		args.MaxLen = s.cfg.MaxLenApprox
		args.Approx = true
	}

	id, err := client.XAdd(ctx, args).Result()
	if err != nil {
		return nil, fmt.Errorf("redisstream: xadd %s: %w", s.cfg.Stream, err)
	}
	return &xchannel.Response{
		Status:        xchannel.StatusSent,
		Message:       id,
		StatusMessage: "appended to " + s.cfg.Stream,
	}, nil
}
