package database

import (
	"context"
	"database/sql"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/trickstertwo/xchannel"
)

type recordingDispatcher struct {
	mu   sync.Mutex
	data []string
	fail bool
}

func (d *recordingDispatcher) DispatchRawMessage(_ context.Context, raw xchannel.RawMessage) (*xchannel.DispatchResult, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.data = append(d.data, raw.Data)
	if d.fail {
		return nil, errors.New("dispatch failed")
	}
	return &xchannel.DispatchResult{}, nil
}

func (d *recordingDispatcher) DispatchBatchMessage(ctx context.Context, raw xchannel.RawMessage, _ xchannel.BatchAdaptor) ([]*xchannel.DispatchResult, error) {
	r, err := d.DispatchRawMessage(ctx, raw)
	return []*xchannel.DispatchResult{r}, err
}

func (d *recordingDispatcher) Dispatch(ctx context.Context, raw xchannel.RawMessage) ([]*xchannel.DispatchResult, error) {
	return d.DispatchBatchMessage(ctx, raw, nil)
}

func (d *recordingDispatcher) EmitConnectionStatus(xchannel.ConnectionStatus, string) {}

func mockDB(t *testing.T) (*sql.DB, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherEqual))
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	return db, mock
}

// TestConfig_Validate tests rejected reader and writer settings.
func TestConfig_Validate(t *testing.T) {
	cfg := ConfigFromMap(map[string]any{"dsn": "x", "query": "SELECT 1", "dialect": "oracle"})
	assert.Error(t, cfg.ValidateReader())

	cfg = ConfigFromMap(map[string]any{"dsn": "x", "query": "SELECT 1", "schedule": "bogus"})
	assert.Error(t, cfg.ValidateReader())

	cfg = ConfigFromMap(map[string]any{"dsn": "x", "query": "SELECT 1", "aggregate": true, "update_params": []any{"id"}})
	assert.Error(t, cfg.ValidateReader())

	cfg = ConfigFromMap(map[string]any{"dsn": "x"})
	assert.Error(t, cfg.ValidateWriter())

	cfg = ConfigFromMap(map[string]any{"dsn": "x", "query": "SELECT 1", "update_params": "id"})
	assert.Equal(t, []string{"id"}, cfg.UpdateParams)
	assert.NoError(t, cfg.ValidateReader())
}

// TestReader_PollRows tests per-row dispatch followed by the update statement.
func TestReader_PollRows(t *testing.T) {
	db, mock := mockDB(t)
	r, err := NewReader(ConfigFromMap(map[string]any{
		"dialect":       "postgres",
		"query":         "SELECT id, name FROM patients WHERE processed = false",
		"update":        "UPDATE patients SET processed = true WHERE id = ?",
		"update_params": []string{"id"},
	}), db)
	require.NoError(t, err)

	mock.ExpectQuery("SELECT id, name FROM patients WHERE processed = false").
		WillReturnRows(sqlmock.NewRows([]string{"id", "name"}).AddRow(int64(1), "DOE").AddRow(int64(2), []byte("ROE")))
	mock.ExpectExec("UPDATE patients SET processed = true WHERE id = $1").WithArgs(int64(1)).WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec("UPDATE patients SET processed = true WHERE id = $1").WithArgs(int64(2)).WillReturnResult(sqlmock.NewResult(0, 1))

	d := &recordingDispatcher{}
	require.NoError(t, r.Poll(context.Background(), d))
	assert.Equal(t, []string{`{"id":1,"name":"DOE"}`, `{"id":2,"name":"ROE"}`}, d.data)
	assert.NoError(t, mock.ExpectationsWereMet())
}

// TestReader_PollFailedRowNotUpdated tests that rows whose dispatch failed stay unmarked.
func TestReader_PollFailedRowNotUpdated(t *testing.T) {
	db, mock := mockDB(t)
	r, err := NewReader(ConfigFromMap(map[string]any{
		"dialect":       "mysql",
		"query":         "SELECT id FROM orders",
		"update":        "UPDATE orders SET done = 1 WHERE id = ?",
		"update_params": []string{"id"},
	}), db)
	require.NoError(t, err)

	mock.ExpectQuery("SELECT id FROM orders").WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(int64(7)))

	d := &recordingDispatcher{fail: true}
	require.NoError(t, r.Poll(context.Background(), d))
	assert.Len(t, d.data, 1)
	assert.NoError(t, mock.ExpectationsWereMet())
}

// TestReader_PollAggregate tests dispatching all rows as one array.
func TestReader_PollAggregate(t *testing.T) {
	db, mock := mockDB(t)
	r, err := NewReader(ConfigFromMap(map[string]any{
		"dialect":   "sqlite",
		"query":     "SELECT code FROM results",
		"aggregate": true,
		"update":    "DELETE FROM results",
	}), db)
	require.NoError(t, err)

	mock.ExpectQuery("SELECT code FROM results").
		WillReturnRows(sqlmock.NewRows([]string{"code"}).AddRow("A").AddRow("B"))
	mock.ExpectExec("DELETE FROM results").WillReturnResult(sqlmock.NewResult(0, 2))

	d := &recordingDispatcher{}
	require.NoError(t, r.Poll(context.Background(), d))
	assert.Equal(t, []string{`[{"code":"A"},{"code":"B"}]`}, d.data)
	assert.NoError(t, mock.ExpectationsWereMet())
}

// TestWriter_Send tests statement parameters from maps and message fields.
func TestWriter_Send(t *testing.T) {
	db, mock := mockDB(t)
	w, err := NewWriter(ConfigFromMap(map[string]any{
		"dialect":   "postgres",
		"statement": "INSERT INTO inbox (message_id, mrn, body) VALUES (?, ?, ?)",
		"params":    []string{"messageId", "mrn", "encoded"},
	}), db)
	require.NoError(t, err)
	require.NoError(t, w.Start(context.Background()))

	msg := xchannel.NewMessage(42, "ch", "srv", time.Now())
	cm, err := msg.NewConnectorMessage(1, "DB", nil, time.Now())
	require.NoError(t, err)
	cm.ChannelMap.Put("mrn", "12345")
	cm.SetEncoded("body", xchannel.DataTypeRaw)

	mock.ExpectExec("INSERT INTO inbox (message_id, mrn, body) VALUES ($1, $2, $3)").
		WithArgs(int64(42), "12345", "body").
		WillReturnResult(sqlmock.NewResult(0, 1))

	resp, err := w.Send(context.Background(), cm)
	require.NoError(t, err)
	assert.Equal(t, "1", resp.Message)
	assert.NoError(t, mock.ExpectationsWereMet())

	cm.ChannelMap.Delete("mrn")
	_, err = w.Send(context.Background(), cm)
	assert.Error(t, err)
}
