package database

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/trickstertwo/xchannel"
	"github.com/trickstertwo/xchannel/adapter/sqlstore"
	"github.com/trickstertwo/xlog"
)

var _ xchannel.Receiver = (*Reader)(nil)

// Reader polls Query on a cron schedule and dispatches each row as a JSON
// object with columns in select order.
type Reader struct {
	cfg     Config
	dialect sqlstore.Dialect
	logger  *xlog.Logger

	mu     sync.Mutex
	db     *sql.DB
	owned  bool
	cron   *cron.Cron
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewReader uses db when non-nil, otherwise opens cfg.DSN on start.
func NewReader(cfg Config, db *sql.DB) (*Reader, error) {
	if db != nil && cfg.DSN == "" {
		cfg.DSN = "-"
	}
	if err := cfg.ValidateReader(); err != nil {
		return nil, err
	}
	d, _ := sqlstore.DialectFor(cfg.Dialect)
	return &Reader{cfg: cfg, dialect: d, db: db, logger: xlog.Default()}, nil
}

func (r *Reader) IsPolling() bool { return true }

func (r *Reader) OnStart(ctx context.Context, d xchannel.Dispatcher) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.db == nil {
		db, err := openDB(ctx, r.dialect, r.cfg.DSN)
		if err != nil {
			return err
		}
		r.db, r.owned = db, true
	}

	runCtx, cancel := context.WithCancel(context.Background())
	trigger := make(chan struct{}, 1)
	c := cron.New()
	if _, err := c.AddFunc(r.cfg.Schedule, func() {
		select {
		case trigger <- struct{}{}:
		default:
		}
	}); err != nil {
		cancel()
		return fmt.Errorf("database: schedule %q: %w", r.cfg.Schedule, err)
	}
	r.cron, r.cancel = c, cancel

	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		for {
			select {
			case <-runCtx.Done():
				return
			case <-trigger:
				if err := r.Poll(runCtx, d); err != nil && runCtx.Err() == nil {
					r.logger.Error().Err(err).Msg("database: poll failed")
					d.EmitConnectionStatus(xchannel.ConnectionDisconnected, err.Error())
					continue
				}
				d.EmitConnectionStatus(xchannel.ConnectionIdle, "")
			}
		}
	}()
	c.Start()
	return nil
}

// Poll runs the query once and dispatches the result.
func (r *Reader) Poll(ctx context.Context, d xchannel.Dispatcher) error {
	d.EmitConnectionStatus(xchannel.ConnectionPolling, "")
	rows, err := r.query(ctx)
	if err != nil {
		return err
	}
	if len(rows) == 0 {
		return nil
	}
	dctx := context.WithoutCancel(ctx)

	if r.cfg.Aggregate {
		doc, err := json.Marshal(rows)
		if err != nil {
			return err
		}
		sm := xchannel.NewMap()
		sm.Put("rowCount", len(rows))
		if _, err := d.Dispatch(dctx, xchannel.RawMessage{Data: string(doc), SourceMap: sm}); err != nil {
			return err
		}
		return r.update(ctx, nil)
	}

	for _, row := range rows {
		if ctx.Err() != nil {
			return nil
		}
		doc, err := json.Marshal(row)
		if err != nil {
			return err
		}
		if _, err := d.Dispatch(dctx, xchannel.RawMessage{Data: string(doc), SourceMap: xchannel.NewMap()}); err != nil {
			r.logger.Warn().Err(err).Msg("database: dispatch failed, row left for next poll")
			continue
		}
		if err := r.update(ctx, row); err != nil {
			return err
		}
	}
	return nil
}

// query reads the whole result before dispatching so the connection is
// released.
func (r *Reader) query(ctx context.Context) ([]*xchannel.Map, error) {
	rows, err := r.db.QueryContext(ctx, r.cfg.Query)
	if err != nil {
		return nil, fmt.Errorf("database: query: %w", err)
	}
	defer rows.Close()

	cols, err := rows.Columns()
	if err != nil {
		return nil, err
	}
	var out []*xchannel.Map
	for rows.Next() {
		vals := make([]any, len(cols))
		ptrs := make([]any, len(cols))
		for i := range vals {
			ptrs[i] = &vals[i]
		}
		if err := rows.Scan(ptrs...); err != nil {
			return nil, err
		}
		row := xchannel.NewMap()
		for i, col := range cols {
			row.Put(col, columnValue(vals[i]))
		}
		out = append(out, row)
	}
	return out, rows.Err()
}

func columnValue(v any) any {
	switch x := v.(type) {
	case []byte:
		return string(x)
	case time.Time:
		return x.UTC().Format(time.RFC3339Nano)
	default:
		return x
	}
}

func (r *Reader) update(ctx context.Context, row *xchannel.Map) error {
	if r.cfg.Update == "" {
		return nil
	}
	args := make([]any, 0, len(r.cfg.UpdateParams))
	for _, p := range r.cfg.UpdateParams {
		v, ok := row.Get(p)
		if !ok {
			return fmt.Errorf("database: update param %q is not a selected column", p)
		}
		args = append(args, v)
	}
	if _, err := r.db.ExecContext(ctx, r.dialect.Rebind(r.cfg.Update), args...); err != nil {
		return fmt.Errorf("database: update: %w", err)
	}
	return nil
}

func (r *Reader) OnStop(context.Context) error {
	r.mu.Lock()
	c, cancel := r.cron, r.cancel
	r.cron, r.cancel = nil, nil
	r.mu.Unlock()

	if c != nil {
		<-c.Stop().Done()
	}
	if cancel != nil {
		cancel()
	}
	r.wg.Wait()

	r.mu.Lock()
	defer r.mu.Unlock()
	if r.owned && r.db != nil {
		err := r.db.Close()
		r.db, r.owned = nil, false
		return err
	}
	return nil
}

func openDB(ctx context.Context, d sqlstore.Dialect, dsn string) (*sql.DB, error) {
	db, err := sql.Open(d.Driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("database: open %s: %w", d.Driver, err)
	}
	pingCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("database: ping: %w", err)
	}
	return db, nil
}
