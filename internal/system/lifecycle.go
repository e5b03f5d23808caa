package system

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/KevinKickass/OpenFleetCore/internal/api/rest"
	"github.com/KevinKickass/OpenFleetCore/internal/api/websocket"
	"github.com/KevinKickass/OpenFleetCore/internal/auth"
	"github.com/KevinKickass/OpenFleetCore/internal/bot"
	"github.com/KevinKickass/OpenFleetCore/internal/botconfig"
	"github.com/KevinKickass/OpenFleetCore/internal/classifier"
	"github.com/KevinKickass/OpenFleetCore/internal/config"
	"github.com/KevinKickass/OpenFleetCore/internal/devices"
	"github.com/KevinKickass/OpenFleetCore/internal/interfaces"
	"github.com/KevinKickass/OpenFleetCore/internal/orchestrator"
	"github.com/KevinKickass/OpenFleetCore/internal/pool"
	"github.com/KevinKickass/OpenFleetCore/internal/report"
	"github.com/KevinKickass/OpenFleetCore/internal/scheduler"
	"github.com/KevinKickass/OpenFleetCore/internal/session"
	"github.com/KevinKickass/OpenFleetCore/internal/types"
	"go.uber.org/zap"
)

type LifecycleManager struct {
	config      *config.Config
	authService *auth.AuthService
	inventory   *devices.Inventory
	bridge      *devices.Bridge
	refresher   *devices.Refresher
	pool        *pool.Pool
	commands    *orchestrator.Orchestrator
	logger      *zap.Logger

	restServer *rest.Server
	wsHub      *websocket.Hub

	refreshCtx    context.Context
	refreshCancel context.CancelFunc

	stateMu      sync.RWMutex
	currentState SystemState
	startedAt    time.Time

	shutdownChan chan struct{}
	shutdownOnce sync.Once
}

func NewLifecycleManager(cfg *config.Config, logger *zap.Logger) (*LifecycleManager, error) {
	authService := auth.NewAuthService(cfg.Auth, logger)
	if !cfg.Auth.IsProductionReady() {
		logger.Warn("JWT secret is the development fallback, set it before going live")
	}

	cls := classifier.New(logger)
	sched := scheduler.New(logger)
	inventory := devices.NewInventory(cfg.Bridge.DeviceLabels, logger)
	bridge := devices.NewBridge(cfg.Bridge.AdbPath, cfg.Bridge.ScrcpyPath, cfg.Bridge.CommandTimeout, logger)
	refresher := devices.NewRefresher(bridge, inventory, cfg.Bridge.EnumerateInterval, cfg.Bridge.BatteryInterval, logger)
	launcher := bot.NewExecLauncher(cfg.Bot.Interpreter, cfg.Bot.StartScript, logger)

	procPool := pool.New(cls, sched, launcher, inventory, bridge, logger)
	inventory.SetActiveChecker(procPool.DeviceActive)

	configs, err := botconfig.NewStore(cfg.Bot.AccountsDir)
	if err != nil {
		return nil, fmt.Errorf("failed to create config store: %w", err)
	}
	sessions := session.NewStore(cfg.Bot.AccountsDir)
	reporter := report.NewReporter(cfg.Telegram.Token, cfg.Telegram.ChatID, cfg.Telegram.Enabled, logger)

	commands := orchestrator.New(procPool, inventory, bridge, refresher, sessions, configs, reporter, logger)

	lm := &LifecycleManager{
		config:       cfg,
		authService:  authService,
		inventory:    inventory,
		bridge:       bridge,
		refresher:    refresher,
		pool:         procPool,
		commands:     commands,
		logger:       logger,
		currentState: StateInitializing,
		shutdownChan: make(chan struct{}),
	}

	lm.wsHub = websocket.NewHub(logger, authService, commands)

	// Pool changes and battery sweeps reach the dashboard via the hub.
	procPool.SetNotifier(func(n pool.Notification) {
		lm.wsHub.Broadcast(websocket.NewProcessStatusMessage(
			websocket.MessageType(n.Type), n.Account, string(n.Previous), string(n.Status)))
	})
	refresher.SetBatteryListener(func(devs []types.Device) {
		lm.wsHub.Broadcast(websocket.NewMessage(websocket.MessageTypeDeviceBattery, devs))
	})

	return lm, nil
}

// Start starts the entire system
func (lm *LifecycleManager) Start() error {
	lm.logger.Info("Starting OpenFleetCore")

	go lm.wsHub.Run()

	// Start runs an immediate enumeration, so the inventory is seeded
	// before the API begins serving.
	lm.refreshCtx, lm.refreshCancel = context.WithCancel(context.Background())
	lm.refresher.Start(lm.refreshCtx)

	if err := lm.startRESTServer(); err != nil {
		lm.setState(StateError)
		return fmt.Errorf("failed to start REST API: %w", err)
	}

	lm.setState(StateRunning)
	lm.stateMu.Lock()
	lm.startedAt = time.Now()
	lm.stateMu.Unlock()

	lm.logger.Info("System started successfully",
		zap.Int("http_port", lm.config.Server.HTTPPort),
		zap.Int("known_devices", len(lm.inventory.ListKnown())))

	return nil
}

func (lm *LifecycleManager) startRESTServer() error {
	lm.restServer = rest.NewServer(lm.config, lm, lm.commands, lm.logger, lm.wsHub, lm.authService)
	return lm.restServer.Start()
}

// Shutdown gracefully shuts down the system
func (lm *LifecycleManager) Shutdown(ctx context.Context) error {
	var shutdownErr error

	lm.shutdownOnce.Do(func() {
		lm.logger.Info("Shutting down system")

		lm.setState(StateStopping)
		shutdownErr = lm.gracefulShutdown(ctx)
		lm.setState(StateStopped)

		close(lm.shutdownChan)
	})

	return shutdownErr
}

func (lm *LifecycleManager) gracefulShutdown(ctx context.Context) error {
	var wg sync.WaitGroup
	errChan := make(chan error, 2)

	// 1. Stop background refreshers
	if lm.refreshCancel != nil {
		lm.refreshCancel()
	}
	lm.refresher.Stop()

	// 2. REST API Server graceful shutdown
	if lm.restServer != nil {
		wg.Add(1)
		go func() {
			defer wg.Done()
			shutdownCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
			defer cancel()

			if err := lm.restServer.Shutdown(shutdownCtx); err != nil {
				errChan <- fmt.Errorf("rest api shutdown failed: %w", err)
			}
		}()
	}

	// 3. Kill running bots and cancel pending schedules
	wg.Add(1)
	go func() {
		defer wg.Done()
		lm.pool.Shutdown()
	}()

	// Wait for all shutdowns
	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		lm.logger.Info("Graceful shutdown completed")
		return nil
	case <-ctx.Done():
		lm.logger.Warn("Shutdown timeout, forcing stop")
		return fmt.Errorf("shutdown timeout exceeded")
	case err := <-errChan:
		return err
	}
}

func (lm *LifecycleManager) setState(state SystemState) {
	lm.stateMu.Lock()
	defer lm.stateMu.Unlock()
	if err := ValidateTransition(lm.currentState, state); err != nil {
		lm.logger.Warn("Forcing state transition", zap.Error(err))
	}
	lm.currentState = state
}

// GetCurrentStatus returns current system status (Interface implementation)
func (lm *LifecycleManager) GetCurrentStatus() interfaces.SystemStatus {
	lm.stateMu.RLock()
	defer lm.stateMu.RUnlock()

	processes := lm.pool.List("")
	active := 0
	for _, p := range processes {
		if p.Status.Active() {
			active++
		}
	}

	var uptime int64
	if !lm.startedAt.IsZero() {
		uptime = int64(time.Since(lm.startedAt).Seconds())
	}

	return interfaces.SystemStatus{
		State:           lm.currentState.String(),
		ProcessCount:    len(processes),
		ActiveProcesses: active,
		DeviceCount:     len(lm.inventory.ListKnown()),
		UptimeSeconds:   uptime,
	}
}

// Commands returns the command façade
func (lm *LifecycleManager) Commands() *orchestrator.Orchestrator {
	return lm.commands
}

// Config returns the configuration
func (lm *LifecycleManager) Config() *config.Config {
	return lm.config
}
