// Command perryd is the agent daemon's entrypoint: it wires configuration,
// logging, the container driver, the durable stores, the workspace and
// session managers, and the gin RPC/HTTP surface, then serves until a
// termination signal arrives.
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/perry-systems/perryd/internal/config"
	"github.com/perry-systems/perryd/internal/container"
	"github.com/perry-systems/perryd/internal/eventbus"
	"github.com/perry-systems/perryd/internal/logging"
	"github.com/perry-systems/perryd/internal/model"
	"github.com/perry-systems/perryd/internal/pty"
	"github.com/perry-systems/perryd/internal/registry"
	"github.com/perry-systems/perryd/internal/rpc"
	"github.com/perry-systems/perryd/internal/session"
	"github.com/perry-systems/perryd/internal/store"
	"github.com/perry-systems/perryd/internal/sync"
	"github.com/perry-systems/perryd/internal/tracing"
	"github.com/perry-systems/perryd/internal/workspace"
)

func main() {
	// 1. Load configuration.
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	// 2. Initialize logger.
	log, err := logging.New(logging.Config{
		Level:      cfg.Logging.Level,
		Format:     cfg.Logging.Format,
		OutputPath: cfg.Logging.OutputPath,
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	defer log.Sync()
	logging.SetDefault(log)

	log.Info("starting perryd", zap.Int("port", cfg.Server.Port), zap.String("configDir", cfg.Server.ConfigDir))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	defer func() {
		if err := tracing.Shutdown(context.Background()); err != nil {
			log.Warn("tracing shutdown error", zap.Error(err))
		}
	}()

	// 3. Event bus: NATS if configured, else an in-process fallback.
	var bus eventbus.Bus
	if cfg.NATS.URL != "" {
		bus, err = eventbus.NewNATS(cfg.NATS.URL, cfg.NATS.ClientID, log)
		if err != nil {
			log.Warn("failed to connect to nats, falling back to in-process bus", zap.Error(err))
			bus = eventbus.NewMemory()
		} else {
			log.Info("connected to nats event bus", zap.String("url", cfg.NATS.URL))
		}
	} else {
		bus = eventbus.NewMemory()
	}
	defer bus.Close()

	// 4. Container driver.
	drv := container.New(cfg.Container.Binary, log)
	if v, err := drv.Version(ctx); err != nil {
		log.Warn("could not reach container runtime at startup", zap.Error(err))
	} else {
		log.Info("container runtime detected", zap.String("binary", cfg.Container.Binary), zap.String("version", v))
	}

	// 5. Durable stores.
	if err := os.MkdirAll(cfg.Server.ConfigDir, 0755); err != nil {
		log.Fatal("failed to create config dir", zap.Error(err))
	}
	stateStore, err := store.New(cfg.Server.ConfigDir)
	if err != nil {
		log.Fatal("failed to open state store", zap.Error(err))
	}
	sessionRegistry, err := registry.New(cfg.Server.ConfigDir)
	if err != nil {
		log.Fatal("failed to open session registry", zap.Error(err))
	}

	// 6. Port allocator, seeded from persisted workspaces so a restart
	// never hands out a port already recorded as in use.
	ports := workspace.NewPortAllocator(cfg.Server.PortRangeLow, cfg.Server.PortRangeHigh)
	seed := make(map[string]int)
	for _, rec := range stateStore.List() {
		seed[rec.Name] = rec.Ports.SSH
	}
	ports.Seed(seed)

	// 7. Sync engine + providers.
	hostHome, err := os.UserHomeDir()
	if err != nil {
		hostHome = "/root"
	}
	syncEngine := sync.New(drv, log)
	providers := []sync.Provider{
		sync.NewClaudeProvider(hostHome),
		sync.NewOpenCodeProvider(hostHome),
		sync.NewCodexProvider(hostHome),
	}

	// 8. Workspace manager.
	wsMgr := workspace.New(stateStore, drv, syncEngine, ports, bus, log, providers, cfg.Server.ConfigDir)

	// 9. PTY multiplexer.
	ptyMgr := pty.NewManager()
	ptyHandler := pty.NewHandler(ptyMgr, drv, wsMgr.Lookup, nil, "workspace", log)
	wsMgr.SetPTYCloser(ptyMgr)

	// 10. Session manager.
	sessMgr := session.NewManager(sessionRegistry, drv, bus, log, cfg.Session.GraceSeconds, "workspace")
	chatHandler := session.NewHandler(sessMgr, wsMgr.Lookup, "", log)
	opencodeHandler := session.NewHandler(sessMgr, wsMgr.Lookup, model.AgentOpenCode, log)
	wsMgr.SetSessionDisposer(sessMgr)

	// 11. RPC/HTTP surface.
	rpcServer := rpc.NewServer(wsMgr, sessMgr, sessionRegistry, ptyMgr, drv, cfg.Server.ConfigDir, cfg.Auth.BearerToken, log)
	if cfg.Logging.Level != "debug" {
		gin.SetMode(gin.ReleaseMode)
	}
	router := rpcServer.Router(ptyHandler, chatHandler, opencodeHandler)

	// 12. HTTP server.
	addr := fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port)
	httpServer := &http.Server{
		Addr:         addr,
		Handler:      router,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 0, // WebSocket upgrades outlive any fixed write deadline
	}

	// 13. Start serving.
	go func() {
		log.Info("rpc server listening", zap.String("addr", addr))
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal("http server failed", zap.Error(err))
		}
	}()

	// 14. Wait for termination.
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	log.Info("shutting down perryd")

	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		log.Error("http server shutdown error", zap.Error(err))
	}

	log.Info("perryd stopped")
}
