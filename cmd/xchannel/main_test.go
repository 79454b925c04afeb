package main

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/trickstertwo/xchannel/config"
)

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	cmd := newRootCmd()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetArgs(args)
	err := cmd.ExecuteContext(context.Background())
	return out.String(), err
}

func writeChannels(t *testing.T, inDir, outDir string) string {
	t.Helper()
	doc := fmt.Sprintf(`
channels:
  - id: e2e
    name: file relay
    source:
      type: file
      properties:
        dir: %q
        schedule: "@every 1s"
    destinations:
      - name: out
        metaDataId: 1
        type: file
        properties:
          dir: %q
`, inDir, outDir)
	path := filepath.Join(t.TempDir(), "channels.yaml")
	require.NoError(t, os.WriteFile(path, []byte(doc), 0o600))
	return path
}

// TestTypesCmd tests that every bundled connector type is registered.
func TestTypesCmd(t *testing.T) {
	out, err := execute(t, "types")
	require.NoError(t, err)
	for _, name := range []string{"database", "file", "memory", "mllp", "nats", "redis-streams"} {
		assert.Contains(t, out, name)
	}
}

// TestValidateCmd tests validation of a channels file.
func TestValidateCmd(t *testing.T) {
	path := writeChannels(t, t.TempDir(), t.TempDir())

	out, err := execute(t, "validate", path)
	require.NoError(t, err)
	assert.Contains(t, out, "e2e\tenabled\tfile -> 1 destination(s)")

	bad := filepath.Join(t.TempDir(), "bad.yaml")
	require.NoError(t, os.WriteFile(bad, []byte("channels:\n  - id: x\n    source: {type: carrier-pigeon}\n"), 0o600))
	_, err = execute(t, "validate", bad)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "carrier-pigeon")

	_, err = execute(t, "validate", "--build=false", bad)
	assert.NoError(t, err)
}

// TestNewDependencies_SQL tests the SQLite backend wiring.
func TestNewDependencies_SQL(t *testing.T) {
	cfg := &config.EngineConfig{
		ServerID: "node-a",
		Storage:  config.StorageSQL,
		SQL: config.SQLOptions{
			Dialect: "sqlite",
			DSN:     filepath.Join(t.TempDir(), "xchannel.db"),
			Migrate: true,
		},
	}
	ctx := context.Background()
	deps, closeFn, err := newDependencies(ctx, cfg)
	require.NoError(t, err)
	defer func() { require.NoError(t, closeFn()) }()

	assert.Equal(t, "node-a", deps.ServerID)
	require.NotNil(t, deps.Store)
	require.NotNil(t, deps.Archiver)
	id, err := deps.IDs.Next(ctx, "ch")
	require.NoError(t, err)
	assert.Equal(t, int64(1), id)
}

// TestNewDependencies_Memory tests the default backend.
func TestNewDependencies_Memory(t *testing.T) {
	deps, closeFn, err := newDependencies(context.Background(), &config.EngineConfig{Storage: config.StorageMemory})
	require.NoError(t, err)
	assert.NoError(t, closeFn())
	assert.NotNil(t, deps.Store)
	assert.NotNil(t, deps.IDs)
	assert.NotNil(t, deps.Archiver)

	_, _, err = newDependencies(context.Background(), &config.EngineConfig{Storage: "tape"})
	assert.Error(t, err)
}

// TestRun_RelaysFiles tests a full run: deploy, process one file, shut down.
func TestRun_RelaysFiles(t *testing.T) {
	inDir, outDir := t.TempDir(), t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(inDir, "a.txt"), []byte("hello"), 0o600))

	t.Setenv("XCHANNEL_STORAGE", config.StorageMemory)
	t.Setenv("XCHANNEL_METRICS_ENABLED", "false")
	t.Setenv("XCHANNEL_SHUTDOWN_TIMEOUT", "5s")

	opts := &runOptions{
		root:     &rootOptions{envFiles: []string{filepath.Join(t.TempDir(), "none.env")}},
		channels: writeChannels(t, inDir, outDir),
	}
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- run(ctx, opts) }()

	var written []string
	require.Eventually(t, func() bool {
		written, _ = filepath.Glob(filepath.Join(outDir, "*.msg"))
		return len(written) == 1
	}, 5*time.Second, 50*time.Millisecond)

	data, err := os.ReadFile(written[0])
	require.NoError(t, err)
	assert.Equal(t, "hello", string(data))
	assert.NoFileExists(t, filepath.Join(inDir, "a.txt"))

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(10 * time.Second):
		t.Fatal("run did not return after cancel")
	}
}

// TestRun_MissingChannelsFile tests that run fails before deploying.
func TestRun_MissingChannelsFile(t *testing.T) {
	t.Setenv("XCHANNEL_METRICS_ENABLED", "false")
	opts := &runOptions{
		root:     &rootOptions{envFiles: []string{filepath.Join(t.TempDir(), "none.env")}},
		channels: filepath.Join(t.TempDir(), "missing.yaml"),
	}
	err := run(context.Background(), opts)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "read channels")
}
