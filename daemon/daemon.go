// Package daemon wires the core subsystems into one running process: the
// event queue, ingestion client, dispatcher, supervisor, and control server,
// built from configuration and started in dependency order, per spec.md
// §2's "daemon glue" component.
//
// Grounded in the teacher's runtime.RunOrchestrator.Execute for the
// start-subprocess-owner -> start-concurrent-reader -> coordinate-shutdown
// sequencing pattern, generalized from a single bounded run to a long-lived
// daemon: subsystems are started once and torn down only on shutdown rather
// than per-run.
package daemon

import (
	"fmt"
	"os"
	"strconv"
	"sync"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/chenlehua/vnidsd/adapter"
	"github.com/chenlehua/vnidsd/adapter/redis"
	"github.com/chenlehua/vnidsd/adapter/webhook"
	"github.com/chenlehua/vnidsd/config"
	"github.com/chenlehua/vnidsd/control"
	"github.com/chenlehua/vnidsd/dispatcher"
	"github.com/chenlehua/vnidsd/ingestion"
	"github.com/chenlehua/vnidsd/log"
	"github.com/chenlehua/vnidsd/metrics"
	"github.com/chenlehua/vnidsd/queue"
	"github.com/chenlehua/vnidsd/storage"
	"github.com/chenlehua/vnidsd/supervisor"
	"github.com/chenlehua/vnidsd/types"
)

// Version is the daemon's reported version string, surfaced by the
// control plane's status command. Overridden via ldflags at build time.
var Version = "0.1.0-dev"

// Daemon owns every core subsystem and their startup/shutdown ordering.
type Daemon struct {
	cfg        *config.Config
	configPath string
	logger     *log.Logger
	stats      *metrics.Collector

	queue      *queue.EventQueue
	store      *storage.Store
	dispatcher *dispatcher.Dispatcher
	ingestion  *ingestion.Client
	supervisor *supervisor.Supervisor
	control    *control.Server

	adapters []adapter.Adapter

	startTime time.Time

	mu         sync.Mutex
	shutdown   atomic.Bool
	shutdownCh chan struct{}
	ingestStop chan struct{}
	ingestDone chan struct{}
}

// New builds every subsystem from cfg without starting any of them. Errors
// here are startup-fatal: a PID file naming a live process, a socket
// directory that cannot be created, a store that fails to open, or an
// invalid notify adapter URL. The detector binary is not checked here; a
// missing one makes the supervisor's start fail when Run is called, which
// leaves the supervisor in the failed state while Run logs the error and
// starts the rest. configPath is retained so ReloadConfig can re-read the
// same file on SIGHUP.
func New(cfg *config.Config, configPath string) (*Daemon, error) {
	logger := log.New("vnidsd", log.LevelFromString(cfg.General.LogLevel))
	stats := metrics.NewCollector()

	if err := checkPIDFile(cfg.General.PIDFile); err != nil {
		return nil, err
	}

	if err := os.MkdirAll(cfg.IPC.SocketDir, 0o755); err != nil {
		return nil, fmt.Errorf("daemon: creating socket dir: %w", err)
	}

	store, err := storage.Open(storage.Config{
		Driver:    storage.DriverSQLite,
		DSN:       cfg.Storage.DatabasePath,
		MaxEvents: cfg.Storage.MaxEvents,
	}, logger)
	if err != nil {
		return nil, fmt.Errorf("daemon: opening storage: %w", err)
	}

	q := queue.New(cfg.IPC.EventBufferSize)
	disp := dispatcher.New(q, store, logger)

	var adapters []adapter.Adapter
	if cfg.Notify.WebhookURL != "" {
		wh, err := webhook.New(webhook.Config{URL: cfg.Notify.WebhookURL})
		if err != nil {
			return nil, fmt.Errorf("daemon: configuring webhook adapter: %w", err)
		}
		disp.AddSubscriber(&adapter.DispatchSubscriber{
			Adapter:     wh,
			MinSeverity: severityFloor(cfg.Notify.MinSeverity),
		})
		adapters = append(adapters, wh)
	}
	if cfg.Notify.RedisURL != "" {
		rd, err := redis.New(redis.Config{URL: cfg.Notify.RedisURL, Channel: cfg.Notify.RedisChannel})
		if err != nil {
			return nil, fmt.Errorf("daemon: configuring redis adapter: %w", err)
		}
		disp.AddSubscriber(&adapter.DispatchSubscriber{
			Adapter:     rd,
			MinSeverity: severityFloor(cfg.Notify.MinSeverity),
		})
		adapters = append(adapters, rd)
	}

	ingestClient := ingestion.New(cfg.IPC.EventSocketPath(), logger)

	sup := supervisor.New(supervisor.Config{
		BinaryPath:         cfg.Detector.Binary,
		ConfigPath:         cfg.Detector.ConfigPath,
		EventSocketPath:    cfg.IPC.EventSocketPath(),
		RulesDir:           cfg.Detector.RulesDir,
		LogDir:             cfg.Detector.LogDir,
		Interfaces:         cfg.Detector.Interfaces,
		CheckInterval:      time.Duration(cfg.Watchdog.CheckIntervalMs) * time.Millisecond,
		MaxRestartAttempts: cfg.Watchdog.MaxRestartAttempts,
		AutoRestart:        true,
	}, logger, stats)

	d := &Daemon{
		cfg:        cfg,
		configPath: configPath,
		logger:     logger,
		stats:      stats,
		queue:      q,
		store:      store,
		dispatcher: disp,
		ingestion:  ingestClient,
		supervisor: sup,
		adapters:   adapters,
		shutdownCh: make(chan struct{}),
		ingestStop: make(chan struct{}),
		ingestDone: make(chan struct{}),
	}

	handlers := &control.Handlers{
		Supervisor:      sup,
		Dispatcher:      disp,
		Queue:           q,
		Store:           store,
		Ingestion:       ingestClient,
		Metrics:         stats,
		Config:          cfg,
		Logger:          logger,
		RulesDir:        func() string { return cfg.Detector.RulesDir },
		SetLogLevel:     func(level string) { log.SetGlobalLevel(log.LevelFromString(level)) },
		RequestShutdown: d.Shutdown,
		ShuttingDown:    d.shuttingDown,
		Version:         Version,
		Uptime:          d.Uptime,
	}
	d.control = control.New(cfg.IPC.ControlSocketPath(), logger, stats, handlers.Dispatch)

	return d, nil
}

// severityFloor maps an empty/unrecognized string to the least restrictive
// floor (info, i.e. every event passes).
func severityFloor(s string) types.Severity {
	switch s {
	case "critical":
		return types.SeverityCritical
	case "high":
		return types.SeverityHigh
	case "medium":
		return types.SeverityMedium
	case "low":
		return types.SeverityLow
	default:
		return types.SeverityInfo
	}
}

// checkPIDFile refuses to start if a stale PID file names a still-live
// process, per spec.md §7's "PID file collision with a live process".
func checkPIDFile(path string) error {
	if path == "" {
		return nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("daemon: reading PID file %s: %w", path, err)
	}
	pid, err := strconv.Atoi(string(data))
	if err != nil {
		return nil
	}
	if proc, err := os.FindProcess(pid); err == nil {
		if proc.Signal(syscall.Signal(0)) == nil {
			return fmt.Errorf("daemon: PID file %s names a live process (pid %d)", path, pid)
		}
	}
	return nil
}

// Run writes the PID file and starts the subsystems -- storage is already
// open -- in this order: supervisor (only when detector.binary is set; a
// start failure is logged and Run goes on), dispatcher (consumes the queue
// ingestion feeds), ingestion (reads from the socket the supervisor's child
// opens, retrying until it can connect), control server (answers queries
// against everything above). It returns once they are started; Wait blocks
// until Shutdown has completed.
func (d *Daemon) Run() error {
	d.mu.Lock()
	d.startTime = time.Now()
	d.mu.Unlock()

	if err := writePIDFile(d.cfg.General.PIDFile); err != nil {
		return err
	}

	if d.cfg.Detector.Binary != "" {
		if err := d.supervisor.Start(); err != nil {
			d.logger.Error("supervisor start failed", map[string]any{"error": err.Error()})
		}
	}

	d.dispatcher.Start()

	go func() {
		defer close(d.ingestDone)
		d.ingestion.Run(d.ingestStop, d.queue)
	}()

	if err := d.control.Start(); err != nil {
		d.Shutdown()
		return fmt.Errorf("daemon: starting control server: %w", err)
	}

	d.logger.Info("vnidsd started", map[string]any{
		"version":     Version,
		"control_sock": d.cfg.IPC.ControlSocketPath(),
		"event_sock":   d.cfg.IPC.EventSocketPath(),
	})
	return nil
}

// Wait blocks until Shutdown has completed.
func (d *Daemon) Wait() {
	<-d.shutdownCh
}

func (d *Daemon) shuttingDown() bool {
	return d.shutdown.Load()
}

// Shutdown stops every subsystem in reverse-start order and is safe to call
// more than once (the shutdown control command may race a signal handler).
func (d *Daemon) Shutdown() {
	if !d.shutdown.CompareAndSwap(false, true) {
		return
	}

	d.logger.Info("vnidsd shutting down", nil)

	d.control.Stop()

	close(d.ingestStop)
	<-d.ingestDone

	d.dispatcher.Stop()
	d.supervisor.Stop()

	for _, a := range d.adapters {
		_ = a.Close()
	}

	if err := d.store.Close(); err != nil {
		d.logger.Error("storage close failed", map[string]any{"error": err.Error()})
	}

	if d.cfg.General.PIDFile != "" {
		_ = os.Remove(d.cfg.General.PIDFile)
	}

	close(d.shutdownCh)
}

// Uptime returns how long the daemon has been running.
func (d *Daemon) Uptime() time.Duration {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.startTime.IsZero() {
		return 0
	}
	return time.Since(d.startTime)
}

// ReloadConfig re-reads the config file and applies the subset of settings
// that can change without a restart (log level), per SIGHUP's contract in
// spec.md §6. Detector-launch settings require a full restart to take
// effect; set_config's non-live keys are not applied either
// (control/handlers.go).
func (d *Daemon) ReloadConfig() error {
	cfg, err := config.Load(d.configPath)
	if err != nil {
		return err
	}
	log.SetGlobalLevel(log.LevelFromString(cfg.General.LogLevel))
	d.logger.Info("config reloaded", map[string]any{"log_level": cfg.General.LogLevel})
	return nil
}

// DumpStats logs a snapshot of daemon-lifetime metrics, for SIGUSR1 per
// spec.md §6.
func (d *Daemon) DumpStats() {
	snap := d.stats.Snapshot()
	d.logger.Info("stats dump", map[string]any{
		"events_stored":   snap.EventsStored,
		"events_dropped":  snap.EventsDropped,
		"events_notified": snap.EventsNotified,
		"parse_errors":    snap.ParseErrors,
		"restart_count":   snap.RestartCount,
		"queue":           d.queue.Stats(),
	})
}

func writePIDFile(path string) error {
	if path == "" {
		return nil
	}
	return os.WriteFile(path, []byte(strconv.Itoa(os.Getpid())), 0o644)
}
