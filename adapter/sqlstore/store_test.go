package sqlstore

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/trickstertwo/xchannel"
)

func mockStore(t *testing.T, dialect string) (*Store, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	d, err := DialectFor(dialect)
	require.NoError(t, err)
	return New(db, d), mock
}

func sqliteStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(context.Background(), "sqlite", filepath.Join(t.TempDir(), "xchannel.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	require.NoError(t, s.Migrate(context.Background()))
	return s
}

// TestDialect_Rebind tests placeholder rewriting.
func TestDialect_Rebind(t *testing.T) {
	pg, err := DialectFor("pgx")
	require.NoError(t, err)
	assert.Equal(t, "postgres", pg.Name)
	assert.Equal(t, "SELECT a FROM t WHERE b = $1 AND c = $2", pg.Rebind("SELECT a FROM t WHERE b = ? AND c = ?"))

	my, err := DialectFor("MySQL")
	require.NoError(t, err)
	assert.Equal(t, "SELECT ?", my.Rebind("SELECT ?"))

	_, err = DialectFor("oracle")
	assert.Error(t, err)
}

// TestStore_ApplyCommits tests that a flush set runs in one transaction.
func TestStore_ApplyCommits(t *testing.T) {
	s, mock := mockStore(t, "postgres")

	mock.ExpectBegin()
	prep := mock.ExpectPrepare("INSERT INTO xchannel_statistics")
	prep.ExpectExec().WithArgs("ch", "srv", 0, "RECEIVED", int64(3)).WillReturnResult(sqlmock.NewResult(0, 1))
	prep.ExpectExec().WithArgs("ch", "srv", 1, "SENT", int64(2)).WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	err := s.Apply(context.Background(), []xchannel.FlushOperation{
		{ChannelID: "ch", ServerID: "srv", MetaDataID: 0, Status: xchannel.StatusReceived, Delta: 3},
		{ChannelID: "ch", ServerID: "srv", MetaDataID: 1, Status: xchannel.StatusSent, Delta: 2},
	})
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

// TestStore_ApplyRollsBack tests that a failed increment discards the whole set.
func TestStore_ApplyRollsBack(t *testing.T) {
	s, mock := mockStore(t, "mysql")

	mock.ExpectBegin()
	prep := mock.ExpectPrepare("ON DUPLICATE KEY UPDATE")
	prep.ExpectExec().WithArgs("ch", "srv", 0, "RECEIVED", int64(1)).WillReturnResult(sqlmock.NewResult(0, 1))
	prep.ExpectExec().WithArgs("ch", "srv", 1, "ERROR", int64(1)).WillReturnError(errors.New("deadlock"))
	mock.ExpectRollback()

	err := s.Apply(context.Background(), []xchannel.FlushOperation{
		{ChannelID: "ch", ServerID: "srv", MetaDataID: 0, Status: xchannel.StatusReceived, Delta: 1},
		{ChannelID: "ch", ServerID: "srv", MetaDataID: 1, Status: xchannel.StatusError, Delta: 1},
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "deadlock")
	assert.NoError(t, mock.ExpectationsWereMet())
}

// TestStore_ApplyEmpty tests that an empty flush set does not touch the database.
func TestStore_ApplyEmpty(t *testing.T) {
	s, mock := mockStore(t, "postgres")
	require.NoError(t, s.Apply(context.Background(), nil))
	assert.NoError(t, mock.ExpectationsWereMet())
}

// TestStore_NextCreatesSequence tests the first id of a channel.
func TestStore_NextCreatesSequence(t *testing.T) {
	s, mock := mockStore(t, "postgres")

	mock.ExpectBegin()
	mock.ExpectExec(`INSERT INTO xchannel_sequence .* ON CONFLICT \(channel_id\) DO UPDATE`).
		WithArgs("ch").WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectQuery("SELECT last_id FROM xchannel_sequence").WithArgs("ch").
		WillReturnRows(sqlmock.NewRows([]string{"last_id"}).AddRow(int64(1)))
	mock.ExpectCommit()

	id, err := s.Next(context.Background(), "ch")
	require.NoError(t, err)
	assert.Equal(t, int64(1), id)
	assert.NoError(t, mock.ExpectationsWereMet())
}

// TestStore_NextMySQLUpsert tests the mysql sequence bump and rollback on failure.
func TestStore_NextMySQLUpsert(t *testing.T) {
	s, mock := mockStore(t, "mysql")

	mock.ExpectBegin()
	mock.ExpectExec(`ON DUPLICATE KEY UPDATE last_id = last_id \+ 1`).
		WithArgs("ch").WillReturnResult(sqlmock.NewResult(0, 2))
	mock.ExpectQuery("SELECT last_id FROM xchannel_sequence").WithArgs("ch").
		WillReturnRows(sqlmock.NewRows([]string{"last_id"}).AddRow(int64(8)))
	mock.ExpectCommit()

	id, err := s.Next(context.Background(), "ch")
	require.NoError(t, err)
	assert.Equal(t, int64(8), id)

	mock.ExpectBegin()
	mock.ExpectExec("INSERT INTO xchannel_sequence").WithArgs("ch").WillReturnError(errors.New("lock wait timeout"))
	mock.ExpectRollback()

	_, err = s.Next(context.Background(), "ch")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "next message id")
	assert.NoError(t, mock.ExpectationsWereMet())
}

// TestStore_NextConcurrent tests that concurrent first calls for a channel
// hand out distinct ids.
func TestStore_NextConcurrent(t *testing.T) {
	s := sqliteStore(t)
	ctx := context.Background()

	const n = 8
	ids := make(chan int64, n)
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			id, err := s.Next(ctx, "burst")
			assert.NoError(t, err)
			ids <- id
		}()
	}
	wg.Wait()
	close(ids)

	seen := map[int64]bool{}
	for id := range ids {
		assert.False(t, seen[id], "duplicate id %d", id)
		seen[id] = true
	}
	assert.Len(t, seen, n)
	for want := int64(1); want <= n; want++ {
		assert.True(t, seen[want], "missing id %d", want)
	}
}

// TestStore_SQLite tests the full store against an embedded database.
func TestStore_SQLite(t *testing.T) {
	s := sqliteStore(t)
	ctx := context.Background()

	ops := []xchannel.FlushOperation{
		{ChannelID: "ch", ServerID: "a", MetaDataID: 0, Status: xchannel.StatusReceived, Delta: 2},
		{ChannelID: "ch", ServerID: "b", MetaDataID: 0, Status: xchannel.StatusReceived, Delta: 1},
		{ChannelID: "ch", ServerID: "a", MetaDataID: 1, Status: xchannel.StatusFiltered, Delta: 1},
	}
	require.NoError(t, s.Apply(ctx, ops))
	require.NoError(t, s.Apply(ctx, ops[:1]))

	stats, err := s.Statistics(ctx, "ch")
	require.NoError(t, err)
	assert.Equal(t, int64(5), stats[0][xchannel.StatusReceived])
	assert.Equal(t, int64(1), stats[1][xchannel.StatusFiltered])

	for want := int64(1); want <= 3; want++ {
		id, err := s.Next(ctx, "ch")
		require.NoError(t, err)
		assert.Equal(t, want, id)
	}
	id, err := s.Next(ctx, "other")
	require.NoError(t, err)
	assert.Equal(t, int64(1), id)

	msg := xchannel.NewMessage(9, "ch", "a", time.Now())
	cm, err := msg.NewConnectorMessage(0, "Source", nil, time.Now())
	require.NoError(t, err)
	require.NoError(t, cm.SetContent(xchannel.ContentRaw, "payload", xchannel.DataTypeRaw, false))
	require.NoError(t, cm.SetStatus(xchannel.StatusFiltered))
	require.NoError(t, s.Archive(ctx, msg))

	doc, err := s.Message(ctx, "ch", 9)
	require.NoError(t, err)
	assert.Contains(t, doc, `"status":"FILTERED"`)
	assert.Contains(t, doc, `"RAW":"payload"`)

	_, err = s.Message(ctx, "ch", 10)
	assert.ErrorIs(t, err, ErrMessageNotFound)
}
