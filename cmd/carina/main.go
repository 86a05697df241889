// Command carina is the Launcher (C9): it loads the shared settings file,
// computes and publishes the Transport Substrate's wire addresses, spawns
// every worker binary in order, waits on the Central Controller, and
// drives shutdown on SIGINT or the Controller's exit.
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"carina/internal/config"
	"carina/internal/launcher"
	"carina/internal/telemetry/logging"
)

func main() {
	var settingsPath, binDir string
	flag.StringVar(&settingsPath, "settings", "settings.yaml", "Path to the shared settings document")
	flag.StringVar(&binDir, "bin-dir", "", "Directory containing the carina-* worker binaries (defaults to this binary's own directory)")
	flag.Parse()

	log := logging.NewJSON("carina", "launcher", slog.LevelInfo)
	ctx := context.Background()

	cfg, err := config.Load(settingsPath)
	if err != nil {
		log.ErrorCtx(ctx, "failed to load settings", "error", err)
		os.Exit(1)
	}

	if binDir == "" {
		exe, err := os.Executable()
		if err != nil {
			log.ErrorCtx(ctx, "failed to resolve own executable path", "error", err)
			os.Exit(1)
		}
		binDir = filepath.Dir(exe)
	}

	if err := os.MkdirAll(cfg.ScenarioDir(), 0o755); err != nil {
		log.ErrorCtx(ctx, "failed to create scenario directory", "error", err)
		os.Exit(1)
	}
	if cfg.Transport.Network == "unix" {
		if err := os.MkdirAll(cfg.Transport.SocketDir, 0o755); err != nil {
			log.ErrorCtx(ctx, "failed to create socket directory", "error", err)
			os.Exit(1)
		}
	}

	err = launcher.Launch(ctx, launcher.Options{
		BinDir:       binDir,
		SettingsPath: settingsPath,
		Cfg:          cfg,
		Log:          log,
	})
	if err != nil {
		log.ErrorCtx(ctx, "launcher exited with error", "error", err)
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
