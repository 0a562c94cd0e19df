// Command dispatchd runs a single command-dispatch node: the scheduling
// queue, the worker pool, the reference handlers, and the HTTP ingress.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"

	"github.com/mattjoyce/dispatchd/internal/api"
	"github.com/mattjoyce/dispatchd/internal/config"
	"github.com/mattjoyce/dispatchd/internal/coordinator"
	"github.com/mattjoyce/dispatchd/internal/coordinator/sqlitecoord"
	"github.com/mattjoyce/dispatchd/internal/dispatch"
	"github.com/mattjoyce/dispatchd/internal/handler"
	"github.com/mattjoyce/dispatchd/internal/handler/refhandler"
	"github.com/mattjoyce/dispatchd/internal/lock"
	"github.com/mattjoyce/dispatchd/internal/log"
	"github.com/mattjoyce/dispatchd/internal/quarantine"
	"github.com/mattjoyce/dispatchd/internal/statusview"
	"github.com/mattjoyce/dispatchd/internal/store/sqlitestore"
	"github.com/mattjoyce/dispatchd/internal/worker"

	tea "github.com/charmbracelet/bubbletea"
)

const version = "0.1.0"

func main() {
	if len(os.Args) > 1 {
		switch os.Args[1] {
		case "version":
			fmt.Printf("dispatchd version %s\n", version)
			return
		case "help", "--help", "-h":
			printUsage()
			return
		case "watch":
			os.Exit(runWatch(os.Args[2:]))
		}
	}
	os.Exit(runStart(os.Args[1:]))
}

func printUsage() {
	fmt.Print(`dispatchd - command dispatch core node

Usage:
  dispatchd [--config path] [--leader]
  dispatchd watch [--api-url url]
  dispatchd version
  dispatchd help
`)
}

func runWatch(args []string) int {
	fs := flag.NewFlagSet("watch", flag.ExitOnError)
	apiURL := fs.String("api-url", "http://127.0.0.1:8080", "dispatchd node API base URL")
	if err := fs.Parse(args); err != nil {
		fmt.Fprintf(os.Stderr, "failed to parse flags: %v\n", err)
		return 1
	}

	if _, err := tea.NewProgram(statusview.NewMonitor(*apiURL)).Run(); err != nil {
		fmt.Fprintf(os.Stderr, "status viewer failed: %v\n", err)
		return 1
	}
	return 0
}

func runStart(args []string) int {
	fs := flag.NewFlagSet("dispatchd", flag.ExitOnError)
	configPath := fs.String("config", "", "path to node configuration file")
	leader := fs.Bool("leader", true, "whether this node masters the cluster on startup")
	if err := fs.Parse(args); err != nil {
		fmt.Fprintf(os.Stderr, "failed to parse flags: %v\n", err)
		return 1
	}

	if *configPath == "" {
		discovered, err := config.DiscoverConfigPath()
		if err != nil {
			fmt.Fprintf(os.Stderr, "failed to discover config: %v\n", err)
			return 1
		}
		*configPath = discovered
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config %q: %v\n", *configPath, err)
		return 1
	}

	log.Setup(cfg.Node.LogLevel)
	logger := log.WithComponent("main")
	logger.Info("dispatchd starting", "version", version, "config", *configPath, "node", cfg.Node.Name)

	lockPath := pidLockPath(cfg)
	pidLock, err := lock.AcquirePIDLock(lockPath)
	if err != nil {
		logger.Error("failed to acquire PID lock (another instance may be running)", "path", lockPath, "error", err)
		return 1
	}
	defer pidLock.Release()
	logger.Info("acquired PID lock", "path", lockPath)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	db, err := sqlitestore.Open(ctx, cfg.Store.SQLitePath)
	if err != nil {
		logger.Error("failed to open store", "path", cfg.Store.SQLitePath, "error", err)
		return 1
	}
	defer db.Close()
	logger.Info("store opened", "path", cfg.Store.SQLitePath)

	isLeader := *leader
	coord := sqlitecoord.New(db, func() bool { return isLeader })

	reg := handler.NewRegistry()
	if err := refhandler.RegisterAll(reg, db); err != nil {
		logger.Error("failed to register reference handlers", "error", err)
		return 1
	}

	quar := quarantine.New()

	// Forward is left nil: this binary runs single-leader topology only.
	// cfg.Cluster.PeerAddrs is informational until a forwarding transport
	// that can also hand a forwarded command's result back to the
	// original waiter on this node exists.
	core := dispatch.New(dispatch.Options{
		Registry:    reg,
		Quarantine:  quar,
		Coordinator: coord,
		WorkerConfig: worker.Config{
			Workers:  cfg.Worker.Count,
			TakeTick: cfg.Worker.TakeTick,
			RetryConfig: coordinator.RetryConfig{
				MaxRetries: cfg.Worker.MaxRetries,
				BaseDelay:  cfg.Worker.RetryBaseDelay,
				MaxDelay:   cfg.Worker.RetryMaxDelay,
			},
		},
		DefaultDeadline: cfg.Worker.DefaultDeadline,
	})

	if err := reg.Register("Status", &refhandler.Status{Fn: core.Status}); err != nil {
		logger.Error("failed to register status handler", "error", err)
		return 1
	}

	if err := core.Start(ctx); err != nil {
		logger.Error("failed to start dispatch core", "error", err)
		return 1
	}
	defer core.Stop()

	if len(cfg.Cluster.PeerAddrs) > 0 {
		core.SetRole(dispatch.RoleSynchronizing)
		if isLeader {
			core.SetRole(dispatch.RoleMastering)
		} else {
			core.SetRole(dispatch.RoleSlaving)
		}
	}

	apiServer := api.New(api.Config{Listen: cfg.API.Listen}, core, log.WithComponent("api"))

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	errCh := make(chan error, 1)
	go func() {
		if err := apiServer.Start(ctx); err != nil && err != context.Canceled {
			errCh <- fmt.Errorf("api: %w", err)
		}
	}()

	logger.Info("dispatchd running", "listen", cfg.API.Listen, "role", core.Role())

	select {
	case sig := <-sigCh:
		logger.Info("received shutdown signal", "signal", sig)
		cancel()
	case err := <-errCh:
		logger.Error("component failed", "error", err)
		cancel()
		return 1
	}

	logger.Info("dispatchd stopped")
	return 0
}

// pidLockPath derives the PID lock file from the store path, mirroring the
// store's basename with a .pid extension so the two never collide between
// two nodes pointed at different databases.
func pidLockPath(cfg *config.NodeConfig) string {
	dbPath := cfg.Store.SQLitePath
	dbDir := filepath.Dir(dbPath)
	dbBase := filepath.Base(dbPath)
	ext := filepath.Ext(dbBase)
	nameWithoutExt := strings.TrimSuffix(dbBase, ext)
	return filepath.Join(dbDir, nameWithoutExt+".pid")
}
