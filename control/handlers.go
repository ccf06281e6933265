package control

import (
	"context"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/chenlehua/vnidsd/config"
	"github.com/chenlehua/vnidsd/dispatcher"
	"github.com/chenlehua/vnidsd/ingestion"
	"github.com/chenlehua/vnidsd/ipc"
	"github.com/chenlehua/vnidsd/log"
	"github.com/chenlehua/vnidsd/metrics"
	"github.com/chenlehua/vnidsd/queue"
	"github.com/chenlehua/vnidsd/storage"
	"github.com/chenlehua/vnidsd/supervisor"
	"github.com/chenlehua/vnidsd/types"
	"github.com/chenlehua/vnidsd/vnidserr"
)

// validateTimeout bounds how long a validate_rules subprocess may run
// before the handler gives up on it, per spec.md §4.7's "short-lived,
// time-boxed subprocess".
const validateTimeout = 10 * time.Second

// defaultListLimit bounds list_events when the caller supplies no limit.
const defaultListLimit = 100

// Handlers wires the command table spec.md §4.7 names to the daemon's live
// subsystems. Every field may be read concurrently from connection
// goroutines; none of the wrapped subsystems requires external locking from
// here.
type Handlers struct {
	Supervisor *supervisor.Supervisor
	Dispatcher *dispatcher.Dispatcher
	Queue      *queue.EventQueue
	Store      *storage.Store
	Ingestion  *ingestion.Client
	Metrics    *metrics.Collector
	Config     *config.Config
	Logger     *log.Logger

	// RulesDir is called on every list_rules/validate_rules call rather
	// than captured once. set_config's rules_dir key does not change what
	// it returns (see setConfig).
	RulesDir func() string

	// SetLogLevel applies a set_config log_level override live.
	SetLogLevel func(level string)
	// RequestShutdown triggers the daemon's graceful shutdown sequence.
	RequestShutdown func()
	// ShuttingDown reports whether RequestShutdown has already fired.
	ShuttingDown func() bool

	// Version is the daemon version string reported by status.
	Version string
	// Uptime reports how long the daemon has been running, for status.
	Uptime func() time.Duration
}

// Dispatch implements the Handler signature the control Server expects.
func (h *Handlers) Dispatch(req *ipc.Request) *ipc.Response {
	switch req.Command {
	case "status":
		return h.status()
	case "get_stats":
		return h.getStats()
	case "set_config":
		return h.setConfig(req.Params)
	case "shutdown":
		return h.shutdown()
	case "reload_rules":
		return h.reloadRules()
	case "list_rules":
		return h.listRules()
	case "list_events":
		return h.listEvents(req.Params)
	case "validate_rules":
		return h.validateRules(req.Params)
	default:
		return ipc.Err(int(vnidserr.CodeNotFound), "unknown command: "+req.Command)
	}
}

// statusResponse is the status command's data payload, per spec.md §4.7's
// `{status, version, uptime, detector_running}`. ChildPID/RestartCount are
// additive detail beyond the named fields.
type statusResponse struct {
	Status          string  `json:"status"`
	Version         string  `json:"version"`
	UptimeSeconds   float64 `json:"uptime"`
	DetectorRunning bool    `json:"detector_running"`
	ChildPID        int     `json:"child_pid"`
	RestartCount    int     `json:"restart_count"`
}

func (h *Handlers) status() *ipc.Response {
	snap := h.Supervisor.Snapshot()

	state := string(snap.State)
	if h.ShuttingDown != nil && h.ShuttingDown() {
		state = "shutting_down"
	} else if snap.State == types.SupervisorFailed {
		state = "failed"
	} else if snap.State == types.SupervisorRestarting && snap.RestartCount > 0 {
		state = "degraded"
	} else if snap.State == types.SupervisorRunning {
		state = "running"
	}

	version := h.Version
	if version == "" {
		version = "unknown"
	}

	var uptime time.Duration
	if h.Uptime != nil {
		uptime = h.Uptime()
	}

	return ipc.OK(statusResponse{
		Status:          state,
		Version:         version,
		UptimeSeconds:   uptime.Seconds(),
		DetectorRunning: h.Supervisor.IsChildRunning(),
		ChildPID:        snap.ChildPID,
		RestartCount:    snap.RestartCount,
	})
}

// statsResponse is get_stats's combined payload: supervisor state, detector
// self-reported stats, and the daemon's own ingestion/dispatch counters.
type statsResponse struct {
	Supervisor types.SupervisorSnapshot `json:"supervisor"`
	Detector   types.Stats              `json:"detector"`
	Ingestion  ingestion.Counters       `json:"ingestion"`
	Dispatch   dispatcher.Stats         `json:"dispatch"`
	Queue      queue.Stats              `json:"queue"`
	Daemon     metrics.Snapshot         `json:"daemon"`
}

func (h *Handlers) getStats() *ipc.Response {
	resp := statsResponse{
		Supervisor: h.Supervisor.Snapshot(),
		Dispatch:   h.Dispatcher.Stats(),
		Queue:      h.Queue.Stats(),
		Daemon:     h.Metrics.Snapshot(),
	}
	if h.Ingestion != nil {
		resp.Detector = h.Ingestion.LatestStats()
		resp.Ingestion = h.Ingestion.Stats()
	}
	return ipc.OK(resp)
}

// setConfig validates every key against config.SetConfigWhitelist and
// applies log_level and max_events live. The other whitelisted keys are
// accepted and named in the response message, but their values are neither
// stored nor applied, now or on a later restart.
func (h *Handlers) setConfig(params map[string]any) *ipc.Response {
	if len(params) == 0 {
		return ipc.Err(int(vnidserr.CodeInvalidArgument), "set_config requires at least one key")
	}

	var applied, deferred []string
	for key, value := range params {
		if !config.SetConfigWhitelist[key] {
			return ipc.Err(int(vnidserr.CodeInvalidArgument), "unknown config key: "+key)
		}
		switch key {
		case "log_level":
			level, ok := value.(string)
			if !ok {
				return ipc.Err(int(vnidserr.CodeInvalidArgument), "log_level must be a string")
			}
			if h.SetLogLevel != nil {
				h.SetLogLevel(level)
			}
			applied = append(applied, key)
		case "max_events":
			n, ok := toInt(value)
			if !ok {
				return ipc.Err(int(vnidserr.CodeInvalidArgument), "max_events must be an integer")
			}
			if h.Store != nil {
				h.Store.SetMaxEvents(n)
			}
			applied = append(applied, key)
		default:
			// event_socket, rules_dir, watchdog_interval, stats_interval:
			// validated against the whitelist but not applied.
			deferred = append(deferred, key)
		}
	}

	msg := "accepted"
	if len(applied) > 0 {
		msg += "; applied live: " + strings.Join(applied, ",")
	}
	if len(deferred) > 0 {
		msg += "; not applied: " + strings.Join(deferred, ",")
	}
	return ipc.OKMessage(msg)
}

func toInt(v any) (int, bool) {
	switch n := v.(type) {
	case int:
		return n, true
	case int64:
		return int(n), true
	case float64:
		return int(n), true
	case string:
		parsed, err := strconv.Atoi(n)
		return parsed, err == nil
	default:
		return 0, false
	}
}

func (h *Handlers) shutdown() *ipc.Response {
	if h.RequestShutdown != nil {
		go h.RequestShutdown()
	}
	return ipc.OKMessage("shutdown initiated")
}

func (h *Handlers) reloadRules() *ipc.Response {
	if err := h.Supervisor.ReloadRules(); err != nil {
		return ipc.Err(int(vnidserr.CodeDetector), err.Error())
	}
	return ipc.OKMessage("reload signaled")
}

func (h *Handlers) rulesDir() string {
	if h.RulesDir != nil {
		return h.RulesDir()
	}
	if h.Config != nil {
		return h.Config.Detector.RulesDir
	}
	return ""
}

func (h *Handlers) listRules() *ipc.Response {
	dir := h.rulesDir()
	if dir == "" {
		return ipc.Err(int(vnidserr.CodeConfig), "rules_dir not configured")
	}

	entries, err := os.ReadDir(dir)
	if err != nil {
		return ipc.Err(int(vnidserr.CodeIO), "reading rules dir: "+err.Error())
	}

	var rules []string
	for _, entry := range entries {
		if entry.IsDir() || filepath.Ext(entry.Name()) != ".rules" {
			continue
		}
		rules = append(rules, entry.Name())
	}
	return ipc.OK(rules)
}

func (h *Handlers) listEvents(params map[string]any) *ipc.Response {
	if h.Store == nil {
		return ipc.Err(int(vnidserr.CodeConfig), "storage not configured")
	}

	limit := defaultListLimit
	if raw, ok := params["limit"]; ok {
		if n, ok := toInt(raw); ok && n > 0 {
			limit = n
		}
	}

	var filter storage.Filter
	if raw, ok := params["min_severity"]; ok {
		if s, ok := raw.(string); ok {
			sev := severityFromString(s)
			filter.MinSeverity = &sev
		}
	}
	if raw, ok := params["since"]; ok {
		if s, ok := raw.(string); ok {
			if t, err := time.Parse(time.RFC3339, s); err == nil {
				filter.Since = &t
			}
		}
	}

	events, err := h.Store.QueryFiltered(limit, filter)
	if err != nil {
		return ipc.Err(int(vnidserr.CodeDB), "query_recent: "+err.Error())
	}
	return ipc.OK(events)
}

func severityFromString(s string) types.Severity {
	switch strings.ToLower(s) {
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

// validateResult is validate_rules's data payload.
type validateResult struct {
	Valid  bool   `json:"valid"`
	Output string `json:"output"`
}

// validateRules spawns the detector binary in validate mode and reports
// whether it accepted the rule set, grounded in the teacher's
// runtime.ValidateScript (spawn subprocess in validate mode, parse its
// output even on non-zero exit).
func (h *Handlers) validateRules(params map[string]any) *ipc.Response {
	if h.Config == nil || h.Config.Detector.Binary == "" {
		return ipc.Err(int(vnidserr.CodeConfig), "detector binary not configured")
	}

	dir := h.rulesDir()
	if raw, ok := params["rules_dir"]; ok {
		if s, ok := raw.(string); ok && s != "" {
			dir = s
		}
	}

	ctx, cancel := context.WithTimeout(context.Background(), validateTimeout)
	defer cancel()

	args := []string{"-c", h.Config.Detector.ConfigPath, "-T"}
	if dir != "" {
		args = append(args, "-S", dir)
	}
	out, err := runCommand(ctx, h.Config.Detector.Binary, args...)

	result := validateResult{Valid: err == nil, Output: out}
	return ipc.OK(result)
}

// runCommand runs name with args and returns combined stdout+stderr even
// when the process exits non-zero, per the teacher's ValidateScript
// ("parse its output even on non-zero exit").
func runCommand(ctx context.Context, name string, args ...string) (string, error) {
	cmd := exec.CommandContext(ctx, name, args...)
	out, err := cmd.CombinedOutput()
	return string(out), err
}
