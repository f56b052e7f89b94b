package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/rlbot/go-interface/internal/metrics"
	"github.com/rlbot/go-interface/match"
	"github.com/rlbot/go-interface/version"
)

func main() {
	cfg, showVersion := parseFlags()
	if showVersion {
		fmt.Printf("rlbot-match %s\n", version.Version)
		return
	}
	if cfg == nil {
		os.Exit(2)
	}
	l := setupLogger(cfg.logFormat, cfg.logLevel)
	version.PrintCurrentReleaseNotes()

	if cfg.metricsAddr != "" {
		metrics.InitBuildInfo(version.Version, "", "")
		srvHTTP := metrics.StartHTTP(cfg.metricsAddr)
		defer func() { _ = srvHTTP.Shutdown(context.Background()) }()
	}

	opts := []match.Option{}
	if cfg.exeName != "" {
		opts = append(opts, match.WithExecutableName(cfg.exeName))
	}
	if cfg.exeDir != "" {
		opts = append(opts, match.WithExecutableDir(cfg.exeDir))
	}
	opts = append(opts, match.WithLogger(l), match.WithConnectionTimeout(cfg.connectTO))
	mgr := match.NewManager(opts...)

	metrics.SetReadinessFunc(func() bool { return mgr.Relay().IsConnected() })

	if err := mgr.StartMatchFromPath(cfg.configPath, cfg.wait); err != nil {
		l.Error("start_match_failed", "error", err)
		os.Exit(1)
	}
	l.Info("match_running", "port", mgr.ServerPort())

	sigCh := make(chan os.Signal, 2)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	s := <-sigCh
	l.Info("shutdown_signal", "signal", s.String())

	if cfg.keepServer {
		if err := mgr.StopMatch(); err != nil {
			l.Warn("stop_match_failed", "error", err)
		}
		mgr.Disconnect()
		return
	}
	mgr.ShutDown(true)
	mgr.Disconnect()
}
