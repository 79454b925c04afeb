package sqlstore

import (
	"fmt"
	"strconv"
	"strings"

	_ "github.com/go-sql-driver/mysql"
	_ "github.com/jackc/pgx/v5/stdlib"
	_ "modernc.org/sqlite"
)

// Dialect is the SQL flavour of a database.
type Dialect struct {
	Name string
	// Driver is the database/sql driver name.
	Driver string
	// numbered placeholders ($1) instead of ?
	numbered bool
	// upsertIncrement is the ON CONFLICT clause that adds to an existing row.
	upsertIncrement string
	// upsertSequence bumps an existing sequence row on insert conflict.
	upsertSequence string
}

var dialects = map[string]Dialect{
	"postgres": {
		Name:            "postgres",
		Driver:          "pgx",
		numbered:        true,
		upsertIncrement: "ON CONFLICT (channel_id, server_id, metadata_id, status) DO UPDATE SET total = xchannel_statistics.total + EXCLUDED.total",
		upsertSequence:  "ON CONFLICT (channel_id) DO UPDATE SET last_id = xchannel_sequence.last_id + 1",
	},
	"sqlite": {
		Name:            "sqlite",
		Driver:          "sqlite",
		numbered:        false,
		upsertIncrement: "ON CONFLICT (channel_id, server_id, metadata_id, status) DO UPDATE SET total = xchannel_statistics.total + excluded.total",
		upsertSequence:  "ON CONFLICT (channel_id) DO UPDATE SET last_id = xchannel_sequence.last_id + 1",
	},
	"mysql": {
		Name:            "mysql",
		Driver:          "mysql",
		numbered:        false,
		upsertIncrement: "ON DUPLICATE KEY UPDATE total = total + VALUES(total)",
		upsertSequence:  "ON DUPLICATE KEY UPDATE last_id = last_id + 1",
	},
}

// DialectFor returns the dialect registered under name. "pgx" and
// "postgresql" are accepted for postgres.
func DialectFor(name string) (Dialect, error) {
	switch n := strings.ToLower(name); n {
	case "pgx", "postgresql":
		return dialects["postgres"], nil
	default:
		if d, ok := dialects[n]; ok {
			return d, nil
		}
	}
	return Dialect{}, fmt.Errorf("sqlstore: unknown dialect %q", name)
}

// Rebind rewrites ? placeholders for the dialect.
func (d Dialect) Rebind(query string) string {
	if !d.numbered {
		return query
	}
	var b strings.Builder
	b.Grow(len(query) + 8)
	n := 0
	for i := 0; i < len(query); i++ {
		if query[i] == '?' {
			n++
			b.WriteByte('$')
			b.WriteString(strconv.Itoa(n))
			continue
		}
		b.WriteByte(query[i])
	}
	return b.String()
}

func (d Dialect) schema() []string {
	text, bigint, ts := "TEXT", "BIGINT", "TIMESTAMP"
	if d.Name == "mysql" {
		text = "VARCHAR(255)"
		ts = "DATETIME(6)"
	}
	doc := "TEXT"
	if d.Name == "mysql" {
		doc = "LONGTEXT"
	}
	return []string{
		`CREATE TABLE IF NOT EXISTS xchannel_statistics (
			channel_id  ` + text + ` NOT NULL,
			server_id   ` + text + ` NOT NULL,
			metadata_id INTEGER NOT NULL,
			status      ` + text + ` NOT NULL,
			total       ` + bigint + ` NOT NULL DEFAULT 0,
			PRIMARY KEY (channel_id, server_id, metadata_id, status)
		)`,
		`CREATE TABLE IF NOT EXISTS xchannel_sequence (
			channel_id ` + text + ` NOT NULL PRIMARY KEY,
			last_id    ` + bigint + ` NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS xchannel_messages (
			channel_id    ` + text + ` NOT NULL,
			message_id    ` + bigint + ` NOT NULL,
			server_id     ` + text + ` NOT NULL,
			status        ` + text + ` NOT NULL,
			received_date ` + ts + ` NOT NULL,
			document      ` + doc + ` NOT NULL,
			PRIMARY KEY (channel_id, message_id)
		)`,
	}
}
