package database

import (
	"context"
	"database/sql"
	"fmt"
	"strconv"
	"sync"

	"github.com/trickstertwo/xchannel"
	"github.com/trickstertwo/xchannel/adapter/sqlstore"
)

var (
	_ xchannel.Sender  = (*Writer)(nil)
	_ xchannel.Starter = (*Writer)(nil)
	_ xchannel.Stopper = (*Writer)(nil)
)

// Writer runs Statement for every message. The number of affected rows is
// returned as the response.
type Writer struct {
	cfg     Config
	dialect sqlstore.Dialect

	mu    sync.RWMutex
	db    *sql.DB
	owned bool
}

// NewWriter uses db when non-nil, otherwise opens cfg.DSN on Start.
func NewWriter(cfg Config, db *sql.DB) (*Writer, error) {
	if db != nil && cfg.DSN == "" {
		cfg.DSN = "-"
	}
	if err := cfg.ValidateWriter(); err != nil {
		return nil, err
	}
	d, _ := sqlstore.DialectFor(cfg.Dialect)
	return &Writer{cfg: cfg, dialect: d, db: db}, nil
}

func (w *Writer) Start(ctx context.Context) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.db != nil {
		return nil
	}
	db, err := openDB(ctx, w.dialect, w.cfg.DSN)
	if err != nil {
		return err
	}
	w.db, w.owned = db, true
	return nil
}

func (w *Writer) Stop(context.Context) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if !w.owned || w.db == nil {
		return nil
	}
	err := w.db.Close()
	w.db, w.owned = nil, false
	return err
}

func (w *Writer) params(cm *xchannel.ConnectorMessage) ([]any, error) {
	args := make([]any, 0, len(w.cfg.Params))
	for _, p := range w.cfg.Params {
		switch p {
		case "messageId":
			args = append(args, cm.MessageID)
		case "channelId":
			args = append(args, cm.ChannelID)
		case "connector":
			args = append(args, cm.ConnectorName)
		case "encoded":
			if enc := cm.Encoded(); enc != nil {
				args = append(args, enc.Data)
			} else {
				args = append(args, nil)
			}
		default:
			v, ok := cm.Lookup(p)
			if !ok {
				return nil, fmt.Errorf("database: param %q not found in maps", p)
			}
			args = append(args, v)
		}
	}
	return args, nil
}

func (w *Writer) Send(ctx context.Context, cm *xchannel.ConnectorMessage) (*xchannel.Response, error) {
	w.mu.RLock()
	db := w.db
	w.mu.RUnlock()
	if db == nil {
		return nil, fmt.Errorf("database: writer not started")
	}
	args, err := w.params(cm)
	if err != nil {
		return nil, err
	}
	res, err := db.ExecContext(ctx, w.dialect.Rebind(w.cfg.Statement), args...)
	if err != nil {
		return nil, fmt.Errorf("database: exec: %w", err)
	}
	n, _ := res.RowsAffected()
	return &xchannel.Response{Status: xchannel.StatusSent, Message: strconv.FormatInt(n, 10), StatusMessage: "rows affected"}, nil
}
