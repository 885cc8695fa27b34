package main

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"dispatch/internal/config"
	"dispatch/internal/daemon"
	"dispatch/internal/ipc"
	"dispatch/internal/logging"
	"dispatch/internal/payload"
	"dispatch/internal/store"
	"dispatch/internal/testsupport"
)

type cliTestEnv struct {
	cfg        *config.Config
	store      *store.Store
	daemon     *daemon.Daemon
	server     *ipc.Server
	socketPath string
	configPath string
	cancel     context.CancelFunc
}

func setupCLITestEnv(t *testing.T) *cliTestEnv {
	t.Helper()

	cfg := testsupport.NewConfig(t)
	configPath := filepath.Join(filepath.Dir(cfg.Paths.DataDir), "config.toml")
	writeTestConfig(t, configPath, cfg)

	st := testsupport.MustOpenStore(t, cfg)

	d, err := daemon.New(cfg, st, logging.NewNop())
	if err != nil {
		t.Fatalf("daemon.New: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	srv, err := ipc.NewServer(ctx, cfg.Paths.SocketPath, d, logging.NewNop())
	if err != nil {
		cancel()
		if strings.Contains(err.Error(), "operation not permitted") {
			t.Skipf("unix sockets unavailable: %v", err)
		}
		t.Fatalf("ipc.NewServer: %v", err)
	}
	srv.Serve()

	env := &cliTestEnv{
		cfg:        cfg,
		store:      st,
		daemon:     d,
		server:     srv,
		socketPath: cfg.Paths.SocketPath,
		configPath: configPath,
		cancel:     cancel,
	}

	t.Cleanup(func() {
		cancel()
		srv.Close()
		d.Stop()
	})

	return env
}

func writeTestConfig(t *testing.T, path string, cfg *config.Config) {
	t.Helper()
	content := fmt.Sprintf(`[paths]
data_dir = %q
log_dir = %q
api_bind = "127.0.0.1:0"
socket_path = %q

[scheduler]
poll_interval = 1
error_retry_interval = 1
`, cfg.Paths.DataDir, cfg.Paths.LogDir, cfg.Paths.SocketPath)
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
}

func runCLI(t *testing.T, args []string, socket, configPath string) (string, string, error) {
	t.Helper()
	cmd := newRootCommand()
	var stdout, stderr bytes.Buffer
	cmd.SetOut(&stdout)
	cmd.SetErr(&stderr)
	flags := []string{"--socket", socket}
	if configPath != "" {
		flags = append(flags, "--config", configPath)
	}
	cmd.SetArgs(append(flags, args...))
	err := cmd.Execute()
	return stdout.String(), stderr.String(), err
}

func requireContains(t *testing.T, output, want string) {
	t.Helper()
	if !strings.Contains(output, want) {
		t.Fatalf("expected output to contain %q, got %q", want, output)
	}
}

func TestCLIWorkCommands(t *testing.T) {
	env := setupCLITestEnv(t)
	testsupport.SeedAgent(t, env.store, "worker-1", []string{"draft"}, 2)

	out, _, err := runCLI(t, []string{
		"work", "submit",
		"--session", "sess-1",
		"--type", payload.TaskDraftSection,
		"--capability", "draft",
		"--priority", "5",
		"--payload", `{"section":"intro"}`,
	}, env.socketPath, env.configPath)
	if err != nil {
		t.Fatalf("work submit: %v", err)
	}
	requireContains(t, out, "Submitted work item 1")

	_, _, err = runCLI(t, []string{
		"work", "submit",
		"--session", "sess-1",
		"--type", "unknown_task",
	}, env.socketPath, env.configPath)
	if err == nil {
		t.Fatal("expected submit with unknown task type to fail")
	}

	out, _, err = runCLI(t, []string{"work", "list"}, env.socketPath, env.configPath)
	if err != nil {
		t.Fatalf("work list: %v", err)
	}
	requireContains(t, out, "sess-1")
	requireContains(t, out, payload.TaskDraftSection)

	out, _, err = runCLI(t, []string{"work", "list", "--status", "completed"}, env.socketPath, env.configPath)
	if err != nil {
		t.Fatalf("work list --status: %v", err)
	}
	requireContains(t, out, "Queue is empty")

	out, _, err = runCLI(t, []string{"work", "status"}, env.socketPath, env.configPath)
	if err != nil {
		t.Fatalf("work status: %v", err)
	}
	requireContains(t, out, "Pending")

	out, _, err = runCLI(t, []string{"work", "describe", "1"}, env.socketPath, env.configPath)
	if err != nil {
		t.Fatalf("work describe: %v", err)
	}
	requireContains(t, out, `"sessionId": "sess-1"`)

	out, _, err = runCLI(t, []string{"work", "cancel", "1"}, env.socketPath, env.configPath)
	if err != nil {
		t.Fatalf("work cancel: %v", err)
	}
	requireContains(t, out, "Cancelled 1 of 1 items")
}

func TestCLIAgentAndSessionCommands(t *testing.T) {
	env := setupCLITestEnv(t)
	testsupport.SeedAgent(t, env.store, "worker-1", []string{"draft", "review"}, 4)
	testsupport.SeedSession(t, env.store, "sess-1")
	testsupport.SeedItem(t, env.store, "sess-1", payload.TaskDraftSection, []string{"draft"}, 1)

	out, _, err := runCLI(t, []string{"agents"}, env.socketPath, env.configPath)
	if err != nil {
		t.Fatalf("agents: %v", err)
	}
	requireContains(t, out, "worker-1")
	requireContains(t, out, "0/4")

	out, _, err = runCLI(t, []string{"sessions", "list"}, env.socketPath, env.configPath)
	if err != nil {
		t.Fatalf("sessions list: %v", err)
	}
	requireContains(t, out, "sess-1")

	out, _, err = runCLI(t, []string{"sessions", "progress", "sess-1", "--items"}, env.socketPath, env.configPath)
	if err != nil {
		t.Fatalf("sessions progress: %v", err)
	}
	requireContains(t, out, "Session sess-1")
	requireContains(t, out, "0/1 completed")
	requireContains(t, out, payload.TaskDraftSection)
}

func TestCLIDLQCommands(t *testing.T) {
	env := setupCLITestEnv(t)
	ctx := context.Background()
	testsupport.SeedAgent(t, env.store, "worker-1", []string{"draft"}, 2)
	testsupport.SeedSession(t, env.store, "sess-1")

	deadLetter := func(label string) string {
		t.Helper()
		item := testsupport.SeedItem(t, env.store, "sess-1", payload.TaskDraftSection, []string{"draft"}, 1)
		if _, err := env.store.ClaimItem(ctx, item.ID, "worker-1"); err != nil {
			t.Fatalf("ClaimItem: %v", err)
		}
		if _, err := env.store.MarkDeadLettered(ctx, item.ID, 3, label); err != nil {
			t.Fatalf("MarkDeadLettered: %v", err)
		}
		entry, err := env.daemon.DLQ().Create(ctx, item.ID, label)
		if err != nil {
			t.Fatalf("DLQ create: %v", err)
		}
		return entry.ID
	}
	reprocessID := deadLetter("retry budget exhausted")
	escalateID := deadLetter("schema drift")

	out, _, err := runCLI(t, []string{"dlq", "list"}, env.socketPath, env.configPath)
	if err != nil {
		t.Fatalf("dlq list: %v", err)
	}
	requireContains(t, out, "retry budget exhausted")
	requireContains(t, out, "schema drift")

	out, _, err = runCLI(t, []string{"dlq", "reprocess", reprocessID, "--triggered-by", "tester"}, env.socketPath, env.configPath)
	if err != nil {
		t.Fatalf("dlq reprocess: %v", err)
	}
	requireContains(t, out, "attempt 1")

	out, _, err = runCLI(t, []string{"dlq", "escalate", escalateID, "--reason", "needs review"}, env.socketPath, env.configPath)
	if err != nil {
		t.Fatalf("dlq escalate: %v", err)
	}
	requireContains(t, out, "Escalated entry "+escalateID)
}

func TestCLIWorkflowCommands(t *testing.T) {
	env := setupCLITestEnv(t)
	ctx := context.Background()

	if _, err := env.daemon.Workflows().Start(ctx, "wf-1", "submission", "preflight"); err != nil {
		t.Fatalf("workflow start: %v", err)
	}
	if _, err := env.daemon.Workflows().Advance(ctx, "wf-1", "authenticate"); err != nil {
		t.Fatalf("workflow advance: %v", err)
	}

	out, _, err := runCLI(t, []string{"workflow", "show", "wf-1"}, env.socketPath, env.configPath)
	if err != nil {
		t.Fatalf("workflow show: %v", err)
	}
	requireContains(t, out, "Workflow wf-1")
	requireContains(t, out, "authenticate")

	out, _, err = runCLI(t, []string{"workflow", "summary", "--window", "1h"}, env.socketPath, env.configPath)
	if err != nil {
		t.Fatalf("workflow summary: %v", err)
	}
	requireContains(t, out, "1 total")
}

func TestCLILogsCommand(t *testing.T) {
	env := setupCLITestEnv(t)

	logPath := env.daemon.LogPath()
	if err := os.MkdirAll(filepath.Dir(logPath), 0o755); err != nil {
		t.Fatalf("ensure log dir: %v", err)
	}
	if err := os.WriteFile(logPath, []byte("first\nsecond\nthird\n"), 0o644); err != nil {
		t.Fatalf("write log file: %v", err)
	}

	out, _, err := runCLI(t, []string{"logs", "--lines", "2"}, env.socketPath, env.configPath)
	if err != nil {
		t.Fatalf("logs: %v", err)
	}
	if strings.Contains(out, "first") {
		t.Fatalf("expected only trailing lines, got %q", out)
	}
	requireContains(t, out, "second")
	requireContains(t, out, "third")
}

func TestCLIDaemonStart(t *testing.T) {
	env := setupCLITestEnv(t)

	out, _, err := runCLI(t, []string{"start"}, env.socketPath, env.configPath)
	if err != nil {
		t.Fatalf("start: %v", err)
	}
	requireContains(t, out, "Daemon started")

	out, _, err = runCLI(t, []string{"status"}, env.socketPath, env.configPath)
	if err != nil {
		t.Fatalf("status: %v", err)
	}
	requireContains(t, out, "Daemon")
	requireContains(t, out, "running")
}
