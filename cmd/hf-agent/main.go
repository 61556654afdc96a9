package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"hostfact/internal/agent"
	"hostfact/internal/logging"
)

func main() {
	configPath := flag.String("config", "./agent.json", "path to agent config json")
	once := flag.Bool("once", false, "collect and heartbeat once, then exit (for cron)")
	logLevel := flag.String("log-level", "info", "debug, info, warn or error")
	logFile := flag.String("log-file", "", "also append logs to this file")
	flag.Parse()

	log, cleanup, err := logging.New(*logLevel, *logFile)
	if err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
	defer cleanup()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	a, err := agent.New(*configPath, log)
	if err != nil {
		log.Error("cannot start", "err", err)
		os.Exit(1)
	}
	if err := a.EnrollIfNeeded(ctx); err != nil {
		log.Error("enroll failed", "err", err)
		os.Exit(1)
	}
	log.Info("agent ready", "agent_id", a.Cfg.AgentID, "server", a.Cfg.ServerURL)

	if *once {
		if err := a.SendHeartbeat(ctx); err != nil {
			log.Error("heartbeat failed", "err", err)
			os.Exit(1)
		}
		return
	}

	if err := a.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		log.Error("agent stopped", "err", err)
		os.Exit(1)
	}
	log.Info("agent stopped")
}
