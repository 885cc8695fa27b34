// Package daemonrun owns the dispatch daemon process lifecycle: logging
// setup, pid file management, store and IPC wiring, and signal-driven
// shutdown. Both the dispatchd binary and the CLI's foreground daemon
// subcommand share this entrypoint.
package daemonrun

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"syscall"

	"dispatch/internal/config"
	"dispatch/internal/daemon"
	"dispatch/internal/ipc"
	"dispatch/internal/logging"
	"dispatch/internal/store"
)

// Options adjusts daemon startup behavior.
type Options struct {
	LogLevel   string
	SocketPath string
}

// Run starts the daemon loop and blocks until a termination signal arrives.
func Run(cmdCtx context.Context, cfg *config.Config, opts Options) error {
	if cfg == nil {
		return fmt.Errorf("configuration is required")
	}

	signalCtx, stop := signal.NotifyContext(cmdCtx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	level := opts.LogLevel
	if level == "" {
		level = cfg.Logging.Level
	}
	logger, err := logging.New(logging.Options{
		Level:    level,
		Format:   cfg.Logging.Format,
		FilePath: filepath.Join(cfg.Paths.LogDir, "dispatchd.log"),
	})
	if err != nil {
		return fmt.Errorf("configure logging: %w", err)
	}

	pidPath := filepath.Join(cfg.Paths.LogDir, "dispatchd.pid")
	if err := writePIDFile(pidPath); err != nil {
		return fmt.Errorf("write pid file: %w", err)
	}
	defer os.Remove(pidPath)

	st, err := store.Open(cfg)
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	defer st.Close()

	d, err := daemon.New(cfg, st, logger)
	if err != nil {
		return fmt.Errorf("create daemon: %w", err)
	}

	socketPath := opts.SocketPath
	if socketPath == "" {
		socketPath = cfg.Paths.SocketPath
	}
	ipcServer, err := ipc.NewServer(signalCtx, socketPath, d, logger)
	if err != nil {
		return fmt.Errorf("create ipc server: %w", err)
	}
	defer ipcServer.Close()
	ipcServer.Serve()

	logger.Info("dispatch daemon ready",
		logging.String("socket", socketPath),
		logging.Int("pid", os.Getpid()))

	if err := d.Start(signalCtx); err != nil {
		logger.Warn("daemon start failed; awaiting manual start",
			logging.String(logging.FieldEventType, "daemon_start_failed"),
			logging.Error(err),
			logging.String(logging.FieldErrorHint, "check configuration and database access"))
	}
	defer d.Stop()

	<-signalCtx.Done()
	logger.Info("dispatch daemon shutting down")
	return nil
}

func writePIDFile(path string) error {
	return os.WriteFile(path, []byte(strconv.Itoa(os.Getpid())), 0o644)
}
