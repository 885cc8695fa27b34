package daemon_test

import (
	"context"
	"testing"
	"time"

	"dispatch/internal/daemon"
	"dispatch/internal/logging"
	"dispatch/internal/testsupport"
)

func TestDaemonStartStop(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	st := testsupport.MustOpenStore(t, cfg)
	d, err := daemon.New(cfg, st, logging.NewNop())
	if err != nil {
		t.Fatalf("daemon.New: %v", err)
	}
	t.Cleanup(func() {
		d.Close()
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := d.Start(ctx); err != nil {
		t.Fatalf("Start failed: %v", err)
	}

	status := d.Status(ctx)
	if !status.Running {
		t.Fatal("expected daemon to report running")
	}
	if !status.Scheduler.Running {
		t.Fatal("expected scheduler to report running")
	}
	if len(status.TaskTypes) == 0 {
		t.Fatal("expected built-in task types to be registered")
	}

	// Second start should fail
	if err := d.Start(ctx); err == nil {
		t.Fatal("expected second start to fail")
	}

	d.Stop()
	time.Sleep(50 * time.Millisecond)
	status = d.Status(ctx)
	if status.Running {
		t.Fatal("expected daemon to be stopped")
	}
}

func TestDaemonLockPreventsSecondInstance(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	st := testsupport.MustOpenStore(t, cfg)
	first, err := daemon.New(cfg, st, logging.NewNop())
	if err != nil {
		t.Fatalf("daemon.New: %v", err)
	}
	t.Cleanup(func() {
		first.Close()
	})

	ctx := context.Background()
	if err := first.Start(ctx); err != nil {
		t.Fatalf("Start failed: %v", err)
	}

	other := testsupport.MustOpenStore(t, cfg)
	second, err := daemon.New(cfg, other, logging.NewNop())
	if err != nil {
		t.Fatalf("daemon.New: %v", err)
	}
	t.Cleanup(func() {
		second.Close()
	})
	if err := second.Start(ctx); err == nil {
		second.Stop()
		t.Fatal("expected second instance to fail to acquire lock")
	}

	first.Stop()
	if err := second.Start(ctx); err != nil {
		t.Fatalf("expected lock to be free after first stop: %v", err)
	}
	second.Stop()
}
