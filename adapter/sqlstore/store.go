// Package sqlstore keeps xchannel statistics, message ids and the message
// archive in a SQL database. Postgres (pgx), SQLite (modernc) and MySQL are
// supported.
package sqlstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/trickstertwo/xchannel"
)

var (
	_ xchannel.StatisticsStore = (*Store)(nil)
	_ xchannel.IDSequence      = (*Store)(nil)
	_ xchannel.Archiver        = (*Store)(nil)
)

// Store is a StatisticsStore, IDSequence and Archiver over one *sql.DB.
type Store struct {
	db      *sql.DB
	dialect Dialect
}

// Open connects with the driver of dialect and checks the connection.
func Open(ctx context.Context, dialect, dsn string) (*Store, error) {
	d, err := DialectFor(dialect)
	if err != nil {
		return nil, err
	}
	db, err := sql.Open(d.Driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", d.Driver, err)
	}
	if d.Name == "sqlite" {
		// SQLite has a single writer.
		db.SetMaxOpenConns(1)
	} else {
		db.SetMaxOpenConns(10)
		db.SetMaxIdleConns(2)
		db.SetConnMaxLifetime(10 * time.Minute)
	}

	pingCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping %s: %w", d.Name, err)
	}
	return New(db, d), nil
}

// New wraps an open database.
func New(db *sql.DB, d Dialect) *Store {
	return &Store{db: db, dialect: d}
}

func (s *Store) DB() *sql.DB { return s.db }

func (s *Store) Close() error { return s.db.Close() }

// Migrate creates the tables when missing.
func (s *Store) Migrate(ctx context.Context) error {
	for _, stmt := range s.dialect.schema() {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("sqlstore: migrate: %w", err)
		}
	}
	return nil
}

func (s *Store) withTx(ctx context.Context, fn func(tx *sql.Tx) error) (err error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()
	if err = fn(tx); err != nil {
		return err
	}
	return tx.Commit()
}

// Apply adds every operation in one transaction.
func (s *Store) Apply(ctx context.Context, ops []xchannel.FlushOperation) error {
	if len(ops) == 0 {
		return nil
	}
	query := s.dialect.Rebind(
		"INSERT INTO xchannel_statistics (channel_id, server_id, metadata_id, status, total) VALUES (?, ?, ?, ?, ?) " +
			s.dialect.upsertIncrement)
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		stmt, err := tx.PrepareContext(ctx, query)
		if err != nil {
			return err
		}
		defer stmt.Close()
		for _, op := range ops {
			if _, err := stmt.ExecContext(ctx, op.ChannelID, op.ServerID, op.MetaDataID, string(op.Status), op.Delta); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("sqlstore: apply statistics: %w", err)
	}
	return nil
}

// Statistics returns the stored counts of channelID summed over servers.
func (s *Store) Statistics(ctx context.Context, channelID string) (map[int]map[xchannel.Status]int64, error) {
	rows, err := s.db.QueryContext(ctx, s.dialect.Rebind(
		"SELECT metadata_id, status, SUM(total) FROM xchannel_statistics WHERE channel_id = ? GROUP BY metadata_id, status"),
		channelID)
	if err != nil {
		return nil, fmt.Errorf("sqlstore: statistics: %w", err)
	}
	defer rows.Close()

	out := map[int]map[xchannel.Status]int64{}
	for rows.Next() {
		var (
			id     int
			status string
			total  int64
		)
		if err := rows.Scan(&id, &status, &total); err != nil {
			return nil, err
		}
		if out[id] == nil {
			out[id] = map[xchannel.Status]int64{}
		}
		out[id][xchannel.Status(status)] = total
	}
	return out, rows.Err()
}

// Next increments the channel's sequence row, creating it at 1. The upsert
// locks the row, so concurrent first calls for a channel do not collide.
func (s *Store) Next(ctx context.Context, channelID string) (id int64, err error) {
	err = s.withTx(ctx, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, s.dialect.Rebind(
			"INSERT INTO xchannel_sequence (channel_id, last_id) VALUES (?, 1) "+s.dialect.upsertSequence), channelID); err != nil {
			return err
		}
		return tx.QueryRowContext(ctx, s.dialect.Rebind(
			"SELECT last_id FROM xchannel_sequence WHERE channel_id = ?"), channelID).Scan(&id)
	})
	if err != nil {
		return 0, fmt.Errorf("sqlstore: next message id: %w", err)
	}
	return id, nil
}

// Archive stores msg as a JSON document keyed by channel and message id.
func (s *Store) Archive(ctx context.Context, msg *xchannel.Message) error {
	doc, err := xchannel.MarshalMessage(msg)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, s.dialect.Rebind(
		"INSERT INTO xchannel_messages (channel_id, message_id, server_id, status, received_date, document) VALUES (?, ?, ?, ?, ?, ?)"),
		msg.ChannelID, msg.ID, msg.ServerID, string(xchannel.AggregateStatus(msg)), msg.ReceivedDate.UTC(), string(doc))
	if err != nil {
		return fmt.Errorf("sqlstore: archive message %d: %w", msg.ID, err)
	}
	return nil
}

// ErrMessageNotFound is returned by Message for unknown ids.
var ErrMessageNotFound = errors.New("sqlstore: message not found")

// Message returns the archived JSON document of one message.
func (s *Store) Message(ctx context.Context, channelID string, messageID int64) (string, error) {
	var doc string
	err := s.db.QueryRowContext(ctx, s.dialect.Rebind(
		"SELECT document FROM xchannel_messages WHERE channel_id = ? AND message_id = ?"),
		channelID, messageID).Scan(&doc)
	if errors.Is(err, sql.ErrNoRows) {
		return "", ErrMessageNotFound
	}
	return doc, err
}
