package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/scenesync/scenesync/internal/core/catalog"
	"github.com/scenesync/scenesync/internal/core/observability/log"
	"github.com/scenesync/scenesync/internal/server"
)

func main() {
	var (
		configPath  string
		prefabsPath string
	)
	flag.StringVar(&configPath, "config", "", "session config file (yaml or json)")
	flag.StringVar(&prefabsPath, "prefabs", "", "prefab manifest file (yaml or json)")
	flag.Parse()

	cfg := server.DefaultConfig()
	if configPath != "" {
		loaded, err := server.LoadFile(configPath)
		if err != nil {
			fmt.Fprintln(os.Stderr, "load config:", err)
			os.Exit(1)
		}
		cfg = loaded
	}

	logger := log.New(cfg.Level())

	cat := catalog.New(logger)
	if prefabsPath != "" {
		manifest, err := catalog.LoadManifestFile(prefabsPath)
		if err != nil {
			fmt.Fprintln(os.Stderr, "load prefab manifest:", err)
			os.Exit(1)
		}
		n, err := manifest.Apply(cat)
		if err != nil {
			fmt.Fprintln(os.Stderr, "apply prefab manifest:", err)
			os.Exit(1)
		}
		logger.Info("prefab catalog loaded", log.Int("prefabs", n))
	} else {
		logger.Warn("no prefab manifest, peers can only spawn empty instances")
	}

	session, err := server.NewSession(cfg, cat, logger)
	if err != nil {
		fmt.Fprintln(os.Stderr, "build session:", err)
		os.Exit(1)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	stopCh := make(chan os.Signal, 1)
	signal.Notify(stopCh, os.Interrupt, os.Kill, syscall.SIGTERM, syscall.SIGINT)

	if err := session.Start(ctx); err != nil {
		fmt.Fprintln(os.Stderr, "start session:", err)
		os.Exit(1)
	}

	<-stopCh
	cancel()
	if err := session.Stop(); err != nil && !errors.Is(err, server.ErrSessionNotRunning) {
		fmt.Fprintln(os.Stderr, "stop session:", err)
	}
}
