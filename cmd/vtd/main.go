package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"

	"github.com/spf13/cobra"

	"github.com/vibetunnel/vibetunneld/internal/api"
	"github.com/vibetunnel/vibetunneld/internal/config"
	"github.com/vibetunnel/vibetunneld/internal/hqrouter"
	"github.com/vibetunnel/vibetunneld/internal/logger"
	"github.com/vibetunnel/vibetunneld/internal/registry"
	"github.com/vibetunnel/vibetunneld/internal/session"
	"github.com/vibetunnel/vibetunneld/internal/stream"
	"github.com/vibetunnel/vibetunneld/internal/wsbuffer"
)

func main() {
	root := &cobra.Command{
		Use:   "vtd",
		Short: "vibetunnel session daemon",
		RunE:  run,
	}

	root.Flags().String("config", "", "path to config file (default ~/.vibetunnel/config.json)")
	root.Flags().String("root", "", "session store root (overrides config)")
	root.Flags().String("bind", "", "bind address (overrides config)")
	root.Flags().Int("port", 0, "listen port (overrides config)")
	root.Flags().Bool("hq", false, "run as HQ node (overrides config)")
	root.Flags().String("db", "", "HQ registry database path (overrides config)")
	root.Flags().String("log-level", "info", "debug, info, warn, or error")
	root.Flags().String("log-file", "", "additional log file path")
	root.Flags().Bool("p2p", false, "enable same-LAN WebRTC buffer delivery alongside the WS path")

	if err := root.Execute(); err != nil {
		os.Exit(1)
	}
}

func run(cmd *cobra.Command, args []string) error {
	logLevel, _ := cmd.Flags().GetString("log-level")
	logFile, _ := cmd.Flags().GetString("log-file")
	if err := logger.Init(logLevel, logFile); err != nil {
		return fmt.Errorf("init logger: %w", err)
	}

	cfg, err := loadConfig(cmd)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	root := cfg.Root
	if root == "" {
		root, err = config.DefaultRoot()
		if err != nil {
			return fmt.Errorf("resolve session root: %w", err)
		}
	}
	configDir, err := config.DefaultConfigDir()
	if err != nil {
		return fmt.Errorf("resolve config dir: %w", err)
	}
	if err := config.EnsureDirs(configDir, root); err != nil {
		return fmt.Errorf("create session root: %w", err)
	}

	sessions := session.NewManager(root)
	streams := stream.NewRegistry()

	var reg *registry.Registry
	var router *hqrouter.Router
	if cfg.IsHQ {
		dbPath := cfg.DBPath
		if dbPath == "" {
			dbPath, err = config.DefaultDBPath()
			if err != nil {
				return fmt.Errorf("resolve registry db path: %w", err)
			}
		}
		reg, err = registry.Open(dbPath)
		if err != nil {
			return fmt.Errorf("open HQ registry: %w", err)
		}
		defer reg.Close()
		reg.StartHealthLoop()
		router = hqrouter.NewRouter(reg)
	}

	// Hub, BufferBridge, and the session manager's output notifier form a
	// three-way cycle (Hub needs a SnapshotSource that can reach the
	// bridge; the bridge's notify callback needs to reach Hub.NotifyUpdate),
	// so hub is declared before BufferBridge and closed over by reference
	// rather than threaded through as a constructor argument.
	var hub *wsbuffer.Hub
	var bridge *hqrouter.BufferBridge
	if router != nil {
		bridge = hqrouter.NewBufferBridge(router, func(sessionID string) {
			if hub != nil {
				hub.NotifyUpdate(sessionID)
			}
		})
	}
	source := api.NewSnapshotSource(sessions, bridge)
	hub = wsbuffer.NewHub(source)
	sessions.SetOutputNotifier(hub.NotifyUpdate)

	if p2p, _ := cmd.Flags().GetBool("p2p"); p2p {
		hub.SetP2P(wsbuffer.NewP2PManager(nil))
	}

	srv := api.NewServer(sessions, streams, hub, router)

	addr := fmt.Sprintf("%s:%d", cfg.BindAddr, cfg.Port)
	httpSrv := &http.Server{
		Addr:    addr,
		Handler: srv,
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	errCh := make(chan error, 1)
	go func() {
		logger.With("vtd").Info("listening", "addr", addr, "hq", cfg.IsHQ)
		err := httpSrv.ListenAndServe()
		if err == http.ErrServerClosed {
			err = nil
		}
		errCh <- err
	}()

	select {
	case <-ctx.Done():
		logger.With("vtd").Info("shutting down")
		return httpSrv.Close()
	case err := <-errCh:
		return err
	}
}

func loadConfig(cmd *cobra.Command) (*config.Config, error) {
	configPath, _ := cmd.Flags().GetString("config")
	if configPath == "" {
		var err error
		configPath, err = config.DefaultConfigPath()
		if err != nil {
			return nil, err
		}
	}

	mgr := config.NewManager()
	if err := mgr.Load(configPath); err != nil {
		return nil, err
	}
	cfg := mgr.Get()

	if v, _ := cmd.Flags().GetString("root"); v != "" {
		cfg.Root = v
	}
	if v, _ := cmd.Flags().GetString("bind"); v != "" {
		cfg.BindAddr = v
	}
	if v, _ := cmd.Flags().GetInt("port"); v != 0 {
		cfg.Port = v
	}
	if v, _ := cmd.Flags().GetBool("hq"); v {
		cfg.IsHQ = true
	}
	if v, _ := cmd.Flags().GetString("db"); v != "" {
		cfg.DBPath = v
	}

	return cfg, nil
}
