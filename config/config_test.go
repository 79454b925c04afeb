package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/trickstertwo/xchannel"
)

// unsetAfter removes keys a .env file may have set once the test ends.
func unsetAfter(t *testing.T, keys ...string) {
	t.Helper()
	for _, k := range keys {
		_ = os.Unsetenv(k)
		t.Cleanup(func() { _ = os.Unsetenv(k) })
	}
}

// TestLoad_Defaults tests the defaults applied with no environment.
func TestLoad_Defaults(t *testing.T) {
	unsetAfter(t, "XCHANNEL_SERVER_ID", "XCHANNEL_STORAGE", "XCHANNEL_SHUTDOWN_TIMEOUT", "XCHANNEL_METRICS_ADDR")

	cfg, err := Load(filepath.Join(t.TempDir(), "missing.env"))
	require.NoError(t, err)

	assert.Equal(t, StorageMemory, cfg.Storage)
	assert.Equal(t, 30*time.Second, cfg.ShutdownTimeout)
	assert.Equal(t, ":9464", cfg.Metrics.Addr)
	assert.Equal(t, "127.0.0.1:6379", cfg.Redis.Addr)
	assert.Equal(t, "postgres", cfg.SQL.Dialect)
	_, err = uuid.Parse(cfg.ServerID)
	assert.NoError(t, err, "generated server id should be a uuid")
}

// TestLoad_EnvFile tests that .env files feed the environment.
func TestLoad_EnvFile(t *testing.T) {
	unsetAfter(t, "XCHANNEL_SERVER_ID", "XCHANNEL_STORAGE", "XCHANNEL_SQL_DIALECT", "XCHANNEL_SQL_DSN")

	path := filepath.Join(t.TempDir(), ".env")
	content := "XCHANNEL_SERVER_ID=node-a\nXCHANNEL_STORAGE=sql\nXCHANNEL_SQL_DIALECT=sqlite\nXCHANNEL_SQL_DSN=file:stats.db\n"
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))

	n, err := LoadEnv([]string{path, filepath.Join(t.TempDir(), "absent.env")})
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "node-a", cfg.ServerID)
	assert.Equal(t, StorageSQL, cfg.Storage)
	assert.Equal(t, "sqlite", cfg.SQL.Dialect)
	assert.Equal(t, "file:stats.db", cfg.SQL.DSN)
}

// TestLoad_EnvironmentWins tests that set variables are not overridden by files.
func TestLoad_EnvironmentWins(t *testing.T) {
	unsetAfter(t, "XCHANNEL_STORAGE")
	t.Setenv("XCHANNEL_SERVER_ID", "from-env")

	path := filepath.Join(t.TempDir(), ".env")
	require.NoError(t, os.WriteFile(path, []byte("XCHANNEL_SERVER_ID=from-file\n"), 0o600))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "from-env", cfg.ServerID)
}

// TestEngineConfig_Validate tests the storage and timeout checks.
func TestEngineConfig_Validate(t *testing.T) {
	base := func() EngineConfig {
		return EngineConfig{
			Storage:         StorageMemory,
			ShutdownTimeout: time.Second,
			Metrics:         MetricsOptions{Enabled: true, Addr: ":0"},
		}
	}

	tests := []struct {
		name    string
		mutate  func(*EngineConfig)
		wantErr string
	}{
		{name: "memory", mutate: func(*EngineConfig) {}},
		{name: "unknown storage", mutate: func(c *EngineConfig) { c.Storage = "mongo" }, wantErr: "storage must be"},
		{name: "sql without dsn", mutate: func(c *EngineConfig) { c.Storage = StorageSQL }, wantErr: "sql dsn is required"},
		{name: "redis without addr", mutate: func(c *EngineConfig) { c.Storage = StorageRedis }, wantErr: "redis addr is required"},
		{name: "zero shutdown timeout", mutate: func(c *EngineConfig) { c.ShutdownTimeout = 0 }, wantErr: "shutdown timeout"},
		{name: "metrics without addr", mutate: func(c *EngineConfig) { c.Metrics.Addr = "" }, wantErr: "metrics addr"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := base()
			tt.mutate(&cfg)
			err := cfg.Validate()
			if tt.wantErr == "" {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

const channelsYAML = `
channels:
  - id: adt-inbound
    name: ADT inbound
    source:
      name: sourceConnector
      type: mllp
      properties:
        addr: ":6661"
      filterTransformer:
        inboundDataType: HL7V2
        outboundDataType: HL7V2
        rules:
          - name: only ADT
            type: eq
            properties:
              field: hl7:MSH.9.1
              value: ADT
    metaDataColumns:
      - name: MRN
        mapping: mrn
        type: STRING
    destinations:
      - name: archive
        metaDataId: 1
        type: file
        timeout: 5s
        retry:
          maxAttempts: 3
          backoff: 100ms
        properties:
          dir: /var/hl7/out
    response:
      mode: auto
  - id: lab-results
    enabled: false
    source:
      type: nats
      properties:
        subject: lab.results
`

// TestParseChannels tests decoding of a complete channels document.
func TestParseChannels(t *testing.T) {
	defs, err := ParseChannels([]byte(channelsYAML))
	require.NoError(t, err)
	require.Len(t, defs, 2)

	adt := defs[0]
	assert.Equal(t, "adt-inbound", adt.ID)
	assert.True(t, adt.IsEnabled())
	assert.Equal(t, "mllp", adt.Source.Type)
	assert.Equal(t, ":6661", adt.Source.Properties["addr"])
	assert.Equal(t, "HL7V2", adt.Source.FilterTransformer.InboundDataType)
	require.Len(t, adt.Source.FilterTransformer.Rules, 1)
	assert.Equal(t, "eq", adt.Source.FilterTransformer.Rules[0].Type)
	require.Len(t, adt.MetaDataColumns, 1)
	assert.Equal(t, xchannel.MetaDataString, adt.MetaDataColumns[0].Type)

	require.Len(t, adt.Destinations, 1)
	dest := adt.Destinations[0]
	assert.Equal(t, 1, dest.MetaDataID)
	assert.Equal(t, 5*time.Second, dest.Timeout)
	require.NotNil(t, dest.Retry)
	assert.Equal(t, 3, dest.Retry.MaxAttempts)
	assert.Equal(t, 100*time.Millisecond, dest.Retry.Backoff)
	assert.Equal(t, xchannel.ResponseAuto, adt.Response.Mode)

	assert.False(t, defs[1].IsEnabled())
}

// TestParseChannels_Errors tests rejected documents.
func TestParseChannels_Errors(t *testing.T) {
	tests := []struct {
		name    string
		doc     string
		wantErr string
	}{
		{
			name:    "unknown key",
			doc:     "channels:\n  - id: a\n    sorce: {type: mllp}\n",
			wantErr: "sorce",
		},
		{
			name:    "missing source",
			doc:     "channels:\n  - id: a\n",
			wantErr: "no source connector",
		},
		{
			name:    "duplicate channel",
			doc:     "channels:\n  - id: a\n    source: {type: mllp}\n  - id: a\n    source: {type: file}\n",
			wantErr: "duplicate id",
		},
		{
			name:    "duplicate destination",
			doc:     "channels:\n  - id: a\n    source: {type: mllp}\n    destinations:\n      - {name: x, metaDataId: 1, type: file}\n      - {name: y, metaDataId: 1, type: file}\n",
			wantErr: "duplicate destination metaDataId",
		},
		{
			name:    "source metadata id on destination",
			doc:     "channels:\n  - id: a\n    source: {type: mllp}\n    destinations:\n      - {name: x, metaDataId: 0, type: file}\n",
			wantErr: "metaDataId must be >= 1",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParseChannels([]byte(tt.doc))
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

// TestLoadChannels tests reading definitions from disk.
func TestLoadChannels(t *testing.T) {
	path := filepath.Join(t.TempDir(), "channels.yaml")
	require.NoError(t, os.WriteFile(path, []byte(channelsYAML), 0o600))

	defs, err := LoadChannels(path)
	require.NoError(t, err)
	assert.Len(t, defs, 2)

	_, err = LoadChannels(filepath.Join(t.TempDir(), "none.yaml"))
	assert.Error(t, err)
}

// TestParseChannels_Empty tests that an empty document yields no channels.
func TestParseChannels_Empty(t *testing.T) {
	defs, err := ParseChannels(nil)
	require.NoError(t, err)
	assert.Empty(t, defs)
}
