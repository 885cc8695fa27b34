// Command dispatchd runs the dispatch daemon in the foreground. It is the
// systemd-friendly counterpart to `dispatch start`, which launches the same
// loop as a detached process.
package main

import (
	"context"
	"log"

	"dispatch/internal/config"
	"dispatch/internal/daemonrun"
)

func main() {
	cfg, _, _, err := config.Load("")
	if err != nil {
		log.Fatalf("load config: %v", err)
	}
	if err := cfg.EnsureDirectories(); err != nil {
		log.Fatalf("prepare directories: %v", err)
	}
	if err := daemonrun.Run(context.Background(), cfg, daemonrun.Options{}); err != nil {
		log.Fatalf("dispatchd: %v", err)
	}
}
