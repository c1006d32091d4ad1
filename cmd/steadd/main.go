// cmd/steadd/main.go
//
// steadd is the supervision daemon: it owns the workspace's contract
// engine, resource brokers, and session listing, and exposes them over
// HTTP as a versioned command envelope.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/edhor1608/stead/internal/config"
	"github.com/edhor1608/stead/internal/contract"
	"github.com/edhor1608/stead/internal/daemon"
	"github.com/edhor1608/stead/internal/logbook"
	"github.com/edhor1608/stead/internal/logging"
	"github.com/edhor1608/stead/internal/resource"
	"github.com/edhor1608/stead/internal/resource/endpoint"
	"github.com/edhor1608/stead/internal/store"
)

func main() {
	workspaceDir := flag.String("workspace", "", "path to the workspace directory (defaults to cwd)")
	flag.Parse()

	workspace := *workspaceDir
	if workspace == "" {
		var err error
		workspace, err = os.Getwd()
		if err != nil {
			die("determine working directory: %v", err)
		}
	}
	absWorkspace, err := filepath.Abs(workspace)
	if err != nil {
		die("resolve workspace dir: %v", err)
	}

	if err := config.InitWorkspace(absWorkspace); err != nil {
		die("init .stead: %v", err)
	}
	cfg, err := config.Load(absWorkspace)
	if err != nil {
		die("load config: %v", err)
	}

	logger, err := logging.New(cfg.LogsDir())
	if err != nil {
		die("init logging: %v", err)
	}
	defer logger.Close()

	narration, err := logbook.New(filepath.Join(cfg.LogsDir(), "escalations.log"))
	if err != nil {
		die("init logbook: %v", err)
	}

	st, err := store.Open(cfg.DBPath())
	if err != nil {
		die("open store: %v", err)
	}
	defer st.Close()

	engine, err := contract.New(st, contract.WithWorkspaceRoot(absWorkspace))
	if err != nil {
		die("init contract engine: %v", err)
	}

	endpointRange := cfg.EndpointRange()
	endpoints := endpoint.New(resource.Range{Low: endpointRange.Low, High: endpointRange.High}, st)

	d := daemon.New(cfg, engine, endpoints, map[string]*resource.Broker{}, st, narration)

	settings := daemon.SettingsFromConfig(cfg)
	srv := daemon.NewServer(settings, d, daemon.WithLogger(logger))

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if !settings.Enabled {
		logger.Printf("steadd: daemon transport disabled by config, idling")
		<-ctx.Done()
		return
	}

	if err := srv.Start(ctx); err != nil {
		die("start daemon: %v", err)
	}
	logger.Printf("steadd: listening on %s (workspace %s)", srv.Addr(), absWorkspace)
	fmt.Printf("steadd listening on %s\n", settings.URL())

	<-ctx.Done()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Printf("steadd: shutdown error: %v", err)
	}
}

func die(format string, args ...any) {
	fmt.Fprintf(os.Stderr, format+"\n", args...)
	os.Exit(1)
}
