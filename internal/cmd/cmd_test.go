package cmd

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Iron-Ham/roster/internal/config"
	"github.com/Iron-Ham/roster/internal/coordination"
)

// deadPID is above any kernel's pid_max, so signal 0 always fails with ESRCH.
const deadPID = 1 << 30

// resetFlags clears flag state left behind by a previous Execute; cobra
// keeps parsed values in the bound variables.
func resetFlags() {
	outputFormat = formatText
	sessionFlag = ""
	startPID = 0
	lockWait = 0
	listAll = false
	taskID = ""
	taskDescription = ""
	taskDependsOn = nil
	taskPriority = 0
	taskUnclaimed = false
	claimWait = 0
	watchFromNow = false
	reapOnce = false
	configInitPath = ""
	_ = rootCmd.PersistentFlags().Set("config", "")
}

// resetViper clears viper state between tests without losing the --config
// binding.
func resetViper() {
	viper.Reset()
	bindFlags()
}

// executeCommand runs the root command with args and returns captured output
func executeCommand(ctx context.Context, args ...string) (string, error) {
	resetFlags()
	buf := new(bytes.Buffer)
	rootCmd.SetOut(buf)
	rootCmd.SetErr(buf)
	rootCmd.SetArgs(args)
	err := rootCmd.ExecuteContext(ctx)
	return buf.String(), err
}

// setupConfig writes a config pointing the store into a temp directory and
// returns the --config argument pair.
func setupConfig(t *testing.T) []string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	content := fmt.Sprintf(`store:
  dir: %s
watch:
  poll_interval: 20ms
  use_fsnotify: false
lock:
  retry_backoff: 1ms
  max_attempts: 20
logging:
  level: debug
`, filepath.Join(dir, "store"))
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))
	// Keep records out of the working directory even if the file is skipped.
	t.Setenv(config.EnvPrefix+"_STORE_DIR", filepath.Join(dir, "store"))
	resetViper()
	t.Cleanup(resetViper)
	return []string{"--config", path}
}

// run executes a command against the config and fails the test on error.
func run(t *testing.T, cfg []string, args ...string) string {
	t.Helper()
	out, err := executeCommand(context.Background(), append(args, cfg...)...)
	require.NoError(t, err, out)
	return out
}

func startSession(t *testing.T, cfg []string) string {
	t.Helper()
	out := run(t, cfg, "session", "start", "--pid", strconv.Itoa(os.Getpid()))
	return strings.TrimSpace(out)
}

func decodeJSON[T any](t *testing.T, out string) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal([]byte(out), &v), out)
	return v
}

func TestRootCommand(t *testing.T) {
	assert.Equal(t, "roster", rootCmd.Use)

	expected := []string{"session", "lock", "task", "watch", "reap", "status", "top", "config"}
	cmdMap := make(map[string]bool)
	for _, c := range rootCmd.Commands() {
		cmdMap[c.Name()] = true
	}
	for _, name := range expected {
		assert.True(t, cmdMap[name], "expected subcommand %q", name)
	}
}

func TestConfigFlag_EachTestUsesItsOwnStore(t *testing.T) {
	wd, err := os.Getwd()
	require.NoError(t, err)

	for i := 0; i < 3; i++ {
		t.Run(strconv.Itoa(i), func(t *testing.T) {
			cfg := setupConfig(t)
			// Drop the env fallback so only --config can select the store.
			require.NoError(t, os.Unsetenv(config.EnvPrefix+"_STORE_DIR"))

			id := startSession(t, cfg)
			out := run(t, cfg, "session", "list", "--format", "json")
			sessions := decodeJSON[[]sessionView](t, out)
			require.Len(t, sessions, 1)
			assert.Equal(t, id, sessions[0].ID)
		})
	}

	_, err = os.Stat(filepath.Join(wd, config.Default().Store.Dir))
	assert.True(t, os.IsNotExist(err), "store created in the working directory")
}

func TestInvalidFormat(t *testing.T) {
	cfg := setupConfig(t)
	_, err := executeCommand(context.Background(), append([]string{"status", "--format", "xml"}, cfg...)...)
	assert.ErrorContains(t, err, "invalid format")
}

func TestSessionStartAndList(t *testing.T) {
	cfg := setupConfig(t)
	id := startSession(t, cfg)
	require.NotEmpty(t, id)

	out := run(t, cfg, "session", "list", "--format", "json")
	sessions := decodeJSON[[]sessionView](t, out)
	require.Len(t, sessions, 1)
	assert.Equal(t, id, sessions[0].ID)
	assert.Equal(t, "active", sessions[0].Status)
	assert.True(t, sessions[0].Alive)
	assert.Equal(t, os.Getpid(), sessions[0].OwnerPID)

	out = run(t, cfg, "session", "alive", id)
	assert.Equal(t, "alive\n", out)
}

func TestSessionAlive_Unknown(t *testing.T) {
	cfg := setupConfig(t)
	out, err := executeCommand(context.Background(), append([]string{"session", "alive", "no-such-session"}, cfg...)...)
	assert.Equal(t, "not alive\n", out)
	assert.Equal(t, 1, ExitCode(err))
	assert.Empty(t, err.Error())
}

func TestSessionRequiresID(t *testing.T) {
	cfg := setupConfig(t)
	t.Setenv(SessionEnv, "")
	_, err := executeCommand(context.Background(), append([]string{"lock", "acquire", "db"}, cfg...)...)
	assert.ErrorContains(t, err, SessionEnv)
}

func TestLockContention(t *testing.T) {
	cfg := setupConfig(t)
	a := startSession(t, cfg)
	b := startSession(t, cfg)

	out := run(t, cfg, "lock", "acquire", "db-migrate", "--session", a)
	assert.Contains(t, out, "Granted lock db-migrate")

	out, err := executeCommand(context.Background(), append([]string{"lock", "acquire", "db-migrate", "-s", b}, cfg...)...)
	assert.Equal(t, exitDenied, ExitCode(err))
	assert.Contains(t, out, "held by "+a)

	out = run(t, cfg, "lock", "list", "--format", "json")
	locks := decodeJSON[[]entryView](t, out)
	require.Len(t, locks, 1)
	assert.Equal(t, a, locks[0].Holder)
	assert.True(t, locks[0].Live)

	// Releasing from the wrong session fails.
	_, err = executeCommand(context.Background(), append([]string{"lock", "release", "db-migrate", "-s", b}, cfg...)...)
	assert.Error(t, err)

	run(t, cfg, "lock", "release", "db-migrate", "-s", a)
	out = run(t, cfg, "lock", "acquire", "db-migrate", "-s", b)
	assert.Contains(t, out, "Granted lock db-migrate")
}

func TestLockAcquire_FromEnv(t *testing.T) {
	cfg := setupConfig(t)
	id := startSession(t, cfg)
	t.Setenv(SessionEnv, id)

	out := run(t, cfg, "lock", "acquire", "build", "--format", "json")
	res := decodeJSON[map[string]any](t, out)
	assert.Equal(t, true, res["granted"])
	assert.Equal(t, id, res["holder"])
}

func TestLockAcquire_WaitsForRelease(t *testing.T) {
	cfg := setupConfig(t)
	a := startSession(t, cfg)
	b := startSession(t, cfg)
	run(t, cfg, "lock", "acquire", "deploy", "-s", a)

	// Another process terminates a while b is waiting.
	settings := config.Default()
	settings.Store.Dir = filepath.Join(filepath.Dir(cfg[1]), "store")
	other, err := coordination.NewHub(coordination.Config{Settings: settings})
	require.NoError(t, err)
	defer other.Close()
	go func() {
		time.Sleep(100 * time.Millisecond)
		_ = other.Sessions().Terminate(context.Background(), a)
	}()

	start := time.Now()
	out := run(t, cfg, "lock", "acquire", "deploy", "-s", b, "--wait", "5s")
	assert.Contains(t, out, "Granted lock deploy")
	assert.Less(t, time.Since(start), 5*time.Second)
}

func TestLockAcquire_WaitTimesOut(t *testing.T) {
	cfg := setupConfig(t)
	a := startSession(t, cfg)
	b := startSession(t, cfg)
	run(t, cfg, "lock", "acquire", "deploy", "-s", a)

	out, err := executeCommand(context.Background(), append([]string{"lock", "acquire", "deploy", "-s", b, "-w", "150ms"}, cfg...)...)
	assert.Equal(t, exitDenied, ExitCode(err))
	assert.Contains(t, out, "held by "+a)
}

func TestStopReleasesEverything(t *testing.T) {
	cfg := setupConfig(t)
	a := startSession(t, cfg)
	b := startSession(t, cfg)
	run(t, cfg, "lock", "acquire", "deploy", "-s", a)
	run(t, cfg, "task", "claim", "t1", "-s", a)

	out := run(t, cfg, "session", "stop", "-s", a)
	assert.Contains(t, out, "terminated")

	out = run(t, cfg, "lock", "acquire", "deploy", "-s", b)
	assert.Contains(t, out, "Granted lock deploy")
	assert.NotContains(t, out, "reclaimed")
	out = run(t, cfg, "task", "claim", "t1", "-s", b)
	assert.Contains(t, out, "Granted task t1")

	_, err := executeCommand(context.Background(), append([]string{"session", "heartbeat", "-s", a}, cfg...)...)
	assert.Error(t, err)
}

func TestTaskFlow(t *testing.T) {
	cfg := setupConfig(t)
	a := startSession(t, cfg)
	b := startSession(t, cfg)

	assert.Equal(t, "index\n", run(t, cfg, "task", "add", "index", "docs", "--id", "index", "-p", "1"))
	run(t, cfg, "task", "add", "ship it", "--id", "ship", "--depends-on", "index")
	generated := strings.TrimSpace(run(t, cfg, "task", "add", "tidy"))
	assert.Len(t, generated, 10)

	out := run(t, cfg, "task", "claim", "-s", a)
	assert.Contains(t, out, "Claimed "+generated)
	out = run(t, cfg, "task", "claim", "-s", b)
	assert.Contains(t, out, "Claimed index: index docs")

	// ship is blocked until index completes.
	out, err := executeCommand(context.Background(), append([]string{"task", "claim", "-s", a}, cfg...)...)
	assert.Equal(t, exitDenied, ExitCode(err))
	assert.Contains(t, out, "No tasks available")

	// Only the claimant can complete.
	_, err = executeCommand(context.Background(), append([]string{"task", "done", "index", "-s", a}, cfg...)...)
	assert.Error(t, err)
	run(t, cfg, "task", "done", "index", "-s", b)

	out = run(t, cfg, "task", "claim", "-s", a)
	assert.Contains(t, out, "Claimed ship")

	out = run(t, cfg, "task", "list", "--format", "json")
	tasks := decodeJSON[[]map[string]any](t, out)
	require.Len(t, tasks, 3)
	byID := make(map[string]map[string]any)
	for _, task := range tasks {
		byID[task["task_id"].(string)] = task
	}
	assert.Equal(t, "completed", byID["index"]["status"])
	assert.Equal(t, b, byID["index"]["completed_by"])
	assert.Equal(t, a, byID["ship"]["claimed_by"])

	out = run(t, cfg, "task", "list")
	assert.Contains(t, out, "3 total, 0 pending, 2 claimed, 0 blocked, 1 completed")

	run(t, cfg, "task", "release", "ship", "-s", a)
	out = run(t, cfg, "task", "list", "--unclaimed", "--format", "json")
	pending := decodeJSON[[]map[string]any](t, out)
	require.Len(t, pending, 1)
	assert.Equal(t, "ship", pending[0]["task_id"])
}

func TestTaskAdd_Invalid(t *testing.T) {
	cfg := setupConfig(t)
	_, err := executeCommand(context.Background(), append([]string{"task", "add", "loop", "--id", "x", "--depends-on", "x"}, cfg...)...)
	assert.Error(t, err)

	run(t, cfg, "task", "add", "one", "--id", "dup")
	_, err = executeCommand(context.Background(), append([]string{"task", "add", "two", "--id", "dup"}, cfg...)...)
	assert.ErrorContains(t, err, "already exists")
}

func TestReapOnce(t *testing.T) {
	cfg := setupConfig(t)
	live := startSession(t, cfg)
	dead := strings.TrimSpace(run(t, cfg, "session", "start", "--pid", strconv.Itoa(deadPID)))
	run(t, cfg, "lock", "acquire", "db", "-s", dead)

	out := run(t, cfg, "reap", "--once", "--format", "json")
	res := decodeJSON[map[string][]string](t, out)
	assert.Equal(t, []string{dead}, res["reaped"])

	out = run(t, cfg, "lock", "acquire", "db", "-s", live)
	assert.Contains(t, out, "Granted lock db")

	out = run(t, cfg, "reap", "--once")
	assert.Contains(t, out, "0 session(s) reaped")
}

func TestWatch(t *testing.T) {
	cfg := setupConfig(t)
	id := startSession(t, cfg)
	run(t, cfg, "lock", "acquire", "db", "-s", id)

	ctx, cancel := context.WithTimeout(context.Background(), 300*time.Millisecond)
	defer cancel()
	out, err := executeCommand(ctx, append([]string{"watch", "locks/", "--format", "json"}, cfg...)...)
	require.NoError(t, err)

	lines := strings.Split(strings.TrimSpace(out), "\n")
	require.Len(t, lines, 1)
	ev := decodeJSON[map[string]any](t, lines[0])
	assert.Equal(t, "locks/db", ev["key"])
	assert.Equal(t, "created", ev["kind"])
}

func TestWatch_FromNow(t *testing.T) {
	cfg := setupConfig(t)
	id := startSession(t, cfg)
	run(t, cfg, "lock", "acquire", "db", "-s", id)

	ctx, cancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
	defer cancel()
	out, err := executeCommand(ctx, append([]string{"watch", "locks/", "--from-now"}, cfg...)...)
	require.NoError(t, err)
	assert.Empty(t, strings.TrimSpace(out))
}

func TestStatus(t *testing.T) {
	cfg := setupConfig(t)
	id := startSession(t, cfg)
	run(t, cfg, "lock", "acquire", "db", "-s", id)
	run(t, cfg, "task", "add", "docs", "--id", "docs")

	out := run(t, cfg, "status")
	assert.Contains(t, out, "roster status")
	assert.Contains(t, out, "db")

	out = run(t, cfg, "status", "--format", "json")
	snap := decodeJSON[map[string]any](t, out)
	assert.Len(t, snap["sessions"], 1)
	assert.Len(t, snap["locks"], 1)
	assert.EqualValues(t, 1, snap["backlog"].(map[string]any)["total"])
}

func TestConfigShow(t *testing.T) {
	cfg := setupConfig(t)
	out := run(t, cfg, "config", "show")
	assert.Contains(t, out, "# Config file: "+cfg[1])
	assert.Contains(t, out, "poll_interval: 20ms")
	assert.Contains(t, out, "staleness_threshold: 30s")
}

func TestConfigInit(t *testing.T) {
	cfg := setupConfig(t)
	path := filepath.Join(t.TempDir(), "nested", "config.yaml")

	out := run(t, cfg, "config", "init", "-o", path)
	assert.Contains(t, out, path)
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), "heartbeat_interval: 10s")
	assert.Contains(t, string(data), "backend: file")

	_, err = executeCommand(context.Background(), append([]string{"config", "init", "-o", path}, cfg...)...)
	assert.ErrorContains(t, err, "already exists")

	// The generated file loads cleanly.
	out = run(t, []string{"--config", path}, "config", "show")
	assert.Contains(t, out, "heartbeat_interval: 10s")
}

func TestExitCode(t *testing.T) {
	assert.Equal(t, 1, ExitCode(fmt.Errorf("plain")))
	assert.Equal(t, 3, ExitCode(fmt.Errorf("wrapped: %w", &ExitError{Code: 3})))
}
