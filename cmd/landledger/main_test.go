package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/c360studio/landledger/config"
	"github.com/c360studio/landledger/registry"
)

// cliEnv isolates HOME and the working directory and writes a config file
// selecting backend. It returns the config path.
func cliEnv(t *testing.T, backend string) string {
	t.Helper()
	home := t.TempDir()
	work := t.TempDir()
	t.Setenv("HOME", home)
	t.Chdir(work)

	cfg := config.DefaultConfig()
	cfg.Storage.Backend = backend
	cfg.Storage.SQLitePath = filepath.Join(work, "landledger.db")
	cfg.NATS.StoreDir = filepath.Join(work, "jetstream")
	cfg.Identity.Caller = "registrar"
	path := filepath.Join(work, "test-config.yaml")
	require.NoError(t, cfg.SaveToFile(path))
	return path
}

func runCLI(t *testing.T, args ...string) (string, error) {
	t.Helper()
	cmd := rootCmd()
	var out, errOut bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&errOut)
	cmd.SetArgs(args)
	err := cmd.ExecuteContext(context.Background())
	return out.String(), err
}

func TestCLI_RegisterVerifyLookup_SQLite(t *testing.T) {
	cfgPath := cliEnv(t, config.BackendSQLite)

	out, err := runCLI(t, "-c", cfgPath, "register", "40.7128,-74.0060", "Alice Smith")
	require.NoError(t, err)
	assert.Equal(t, "registered 40.7128,-74.0060\n", out)

	// A second process sees the first registration.
	_, err = runCLI(t, "-c", cfgPath, "register", "40.7128,-74.0060", "Mallory")
	require.Error(t, err)
	assert.True(t, errors.Is(err, registry.ErrAlreadyRegistered))

	out, err = runCLI(t, "-c", cfgPath, "verify", "40.7128,-74.0060")
	require.NoError(t, err)
	assert.Equal(t, "Alice Smith\n", out)

	out, err = runCLI(t, "-c", cfgPath, "lookup", "--json", "40.7128,-74.0060")
	require.NoError(t, err)
	var view recordView
	require.NoError(t, json.Unmarshal([]byte(out), &view))
	assert.Equal(t, "40.7128,-74.0060", view.Key)
	assert.Equal(t, "Alice Smith", view.Owner)
	assert.Equal(t, "registrar", view.RegisteredBy)
	assert.False(t, view.RegisteredAt.IsZero())

	out, err = runCLI(t, "-c", cfgPath, "lookup", "40.7128,-74.0060")
	require.NoError(t, err)
	assert.Contains(t, out, "owner:         Alice Smith")
}

func TestCLI_CallerFlagOverridesConfig(t *testing.T) {
	cfgPath := cliEnv(t, config.BackendSQLite)

	_, err := runCLI(t, "-c", cfgPath, "--caller", "surveyor-7", "register", "plot-1", "Bob")
	require.NoError(t, err)

	out, err := runCLI(t, "-c", cfgPath, "lookup", "--json", "plot-1")
	require.NoError(t, err)
	var view recordView
	require.NoError(t, json.Unmarshal([]byte(out), &view))
	assert.Equal(t, "surveyor-7", view.RegisteredBy)
}

func TestCLI_VerifyUnknownKey(t *testing.T) {
	cfgPath := cliEnv(t, config.BackendSQLite)

	_, err := runCLI(t, "-c", cfgPath, "verify", "nowhere")
	require.Error(t, err)
	assert.True(t, errors.Is(err, registry.ErrNotFound))
}

func TestCLI_HexKeysAndList(t *testing.T) {
	cfgPath := cliEnv(t, config.BackendSQLite)

	_, err := runCLI(t, "-c", cfgPath, "--hex", "register", "00ff", "Binary Owner")
	require.NoError(t, err)
	_, err = runCLI(t, "-c", cfgPath, "register", "plot-2", "Carol")
	require.NoError(t, err)

	out, err := runCLI(t, "-c", cfgPath, "--hex", "verify", "00ff")
	require.NoError(t, err)
	assert.Equal(t, "Binary Owner\n", out)

	out, err = runCLI(t, "-c", cfgPath, "--hex", "list")
	require.NoError(t, err)
	lines := strings.Split(strings.TrimSpace(out), "\n")
	assert.ElementsMatch(t, []string{"00ff", "706c6f742d32"}, lines)

	_, err = runCLI(t, "-c", cfgPath, "--hex", "verify", "zz")
	require.Error(t, err)
}

func TestCLI_ListUnsupportedOnMemory(t *testing.T) {
	cfgPath := cliEnv(t, config.BackendMemory)

	_, err := runCLI(t, "-c", cfgPath, "list")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "cannot list records")
}

func TestCLI_EmptyKeyRejected(t *testing.T) {
	cfgPath := cliEnv(t, config.BackendMemory)

	_, err := runCLI(t, "-c", cfgPath, "register", "", "Alice")
	require.Error(t, err)
	assert.True(t, errors.Is(err, registry.ErrInvalidKey))
}

func TestCLI_ConfigInitAndShow(t *testing.T) {
	cfgPath := cliEnv(t, config.BackendMemory)

	out, err := runCLI(t, "config", "init")
	require.NoError(t, err)
	path := strings.TrimSpace(out)
	_, statErr := os.Stat(path)
	require.NoError(t, statErr)

	out, err = runCLI(t, "-c", cfgPath, "config", "show")
	require.NoError(t, err)
	assert.Contains(t, out, "backend: memory")
	assert.Contains(t, out, "caller: registrar")
}

func TestCLI_FlagOverridesMergeIntoConfig(t *testing.T) {
	cfgPath := cliEnv(t, config.BackendSQLite)

	out, err := runCLI(t, "-c", cfgPath, "--caller", "surveyor-7", "--backend", "memory", "config", "show")
	require.NoError(t, err)
	assert.Contains(t, out, "backend: memory")
	assert.Contains(t, out, "caller: surveyor-7")

	// The memory backend cannot list, so the flag reached the app.
	_, err = runCLI(t, "-c", cfgPath, "--backend", "memory", "list")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "cannot list records")

	_, err = runCLI(t, "-c", cfgPath, "--backend", "postgres", "list")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "storage.backend must be one of")
}

func TestCLI_Version(t *testing.T) {
	out, err := runCLI(t, "version")
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(out, "landledger version "+Version))
}

func TestCLI_MissingConfigFile(t *testing.T) {
	cliEnv(t, config.BackendMemory)

	_, err := runCLI(t, "-c", filepath.Join(t.TempDir(), "absent.yaml"), "verify", "plot-1")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "load config")
}

func TestParseKey(t *testing.T) {
	tests := []struct {
		name    string
		arg     string
		hex     bool
		want    registry.RecordKey
		wantErr bool
	}{
		{"utf8", "plot-42", false, registry.RecordKey("plot-42"), false},
		{"hex", "00ff10", true, registry.RecordKey{0x00, 0xff, 0x10}, false},
		{"bad hex", "0g", true, nil, true},
		{"odd hex", "abc", true, nil, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := parseKey(tt.arg, tt.hex)
			if tt.wantErr {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestResolveCaller(t *testing.T) {
	cfg := config.DefaultConfig()
	cfg.Identity.Caller = "from-config"

	got, err := resolveCaller(cfg)
	require.NoError(t, err)
	assert.Equal(t, registry.Identity("from-config"), got)

	cfg.Identity.Caller = ""
	got, err = resolveCaller(cfg)
	if err == nil {
		assert.NotEmpty(t, got, "falls back to the OS user")
	} else {
		assert.ErrorIs(t, err, registry.ErrUnauthenticated)
	}
}
