package kgsm

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net"
	"os"
	"os/exec"
	"path/filepath"
	"regexp"
	"strconv"
	"syscall"
	"time"

	"github.com/TheKrystalShip/kgsm/events"
	"github.com/TheKrystalShip/kgsm/ports"
)

const (
	logPollInterval  = 2 * time.Second
	portPollInterval = 5 * time.Second
)

// Watcher implements the Readiness Watcher (spec.md §4.9): a detached
// per-start observer that emits instance_ready on first log-pattern match or
// port bind, or instance_ready_timeout if neither fires within
// watcher_timeout_seconds. It also stops silently if the underlying process
// disappears before either condition fires.
type Watcher struct {
	ctx *Context
}

// NewWatcher builds a Watcher against ctx's Config and Dispatcher.
func NewWatcher(ctx *Context) *Watcher {
	return &Watcher{ctx: ctx}
}

// Start launches inst's watcher detached from the calling process: a
// re-exec of the current binary as `__watch <instance>`, grounded on
// sand.EnsureDaemon's background self-relaunch (cmd.Start + Setpgid +
// closed stdio), generalized from "relaunch myself as the long-lived
// daemon" to "relaunch myself as the one-shot detached watcher for this
// start". Production callers invoke this right after starting inst; the
// `__watch` subcommand itself calls Watch.
func Start(inst *Instance) error {
	cmd := exec.Command(os.Args[0], "__watch", inst.Name)
	cmd.Stdout = nil
	cmd.Stderr = nil
	cmd.Stdin = nil
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}

	slog.Info("Watcher.Start", "cmd", cmd.Args)
	if err := cmd.Start(); err != nil {
		return WrapErr(ErrGeneral, fmt.Sprintf("launching readiness watcher for %s", inst.Name), "", err)
	}
	return nil
}

// Watch runs the strategy-selection and polling loop in-process, blocking
// until it emits instance_ready, emits instance_ready_timeout, or the
// watched process (pid) disappears. Exported separately from Start so it is
// directly testable without a subprocess; pid <= 0 disables the
// process-disappearance check (used by tests and by callers who don't track
// a PID for the instance's runtime).
func (w *Watcher) Watch(ctx context.Context, inst *Instance, pid int) error {
	timeoutSeconds := 600
	if raw, err := w.ctx.Config.GetDefault("watcher_timeout_seconds"); err == nil {
		if n, err := strconv.Atoi(raw); err == nil {
			timeoutSeconds = n
		}
	}
	deadline := time.Now().Add(time.Duration(timeoutSeconds) * time.Second)

	strategy, interval, poll, err := w.selectStrategy(inst)
	if err != nil {
		return err
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		if pid > 0 && !processAlive(pid) {
			slog.InfoContext(ctx, "Watcher", "instance", inst.Name, "status", "process gone before ready")
			return nil
		}
		if time.Now().After(deadline) {
			w.emit(events.InstanceReadyTimeout, events.ReadyData{InstanceName: inst.Name, Strategy: strategy, Reason: "watcher_timeout_seconds elapsed"})
			return WrapErr(ErrGeneral, fmt.Sprintf("instance %q did not become ready within %ds", inst.Name, timeoutSeconds), "", nil)
		}

		ready, err := poll()
		if err != nil {
			slog.WarnContext(ctx, "Watcher.poll", "instance", inst.Name, "strategy", strategy, "error", err)
		} else if ready {
			w.emit(events.InstanceReady, events.ReadyData{InstanceName: inst.Name, Strategy: strategy})
			return nil
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

// selectStrategy picks the log-pattern strategy over the port-probe one
// when startup_success_regex is set, per spec.md §4.9's stated precedence.
func (w *Watcher) selectStrategy(inst *Instance) (string, time.Duration, func() (bool, error), error) {
	if inst.StartupSuccessRegex != "" {
		re, err := regexp.Compile(inst.StartupSuccessRegex)
		if err != nil {
			return "", 0, nil, WrapErr(ErrInvalidArg, fmt.Sprintf("compiling startup_success_regex %q", inst.StartupSuccessRegex), "", err)
		}
		return "log-pattern", logPollInterval, newLogPatternPoller(inst.LogsDir, re), nil
	}
	if inst.Ports != "" {
		ranges, err := ports.Parse(inst.Ports)
		if err != nil || len(ranges) == 0 {
			return "", 0, nil, WrapErr(ErrInvalidArg, fmt.Sprintf("parsing ports %q for readiness probe", inst.Ports), "", err)
		}
		return "port-probe", portPollInterval, newPortProbePoller(ranges[0].Start), nil
	}
	return "", 0, nil, WrapErr(ErrMissingDependency, fmt.Sprintf("instance %q has neither startup_success_regex nor ports to watch", inst.Name), "set one of the two in its blueprint", nil)
}

func (w *Watcher) emit(eventType events.EventType, data any) {
	if w.ctx.Dispatcher == nil {
		return
	}
	if err := w.ctx.Dispatcher.Emit(eventType, data); err != nil {
		slog.Error("Watcher.emit", "eventType", eventType, "error", err)
	}
}

// processAlive reports whether pid is still running, via the signal-0 probe
// idiom (FindProcess always succeeds on Unix; Signal is what actually
// checks).
func processAlive(pid int) bool {
	proc, err := os.FindProcess(pid)
	if err != nil {
		return false
	}
	return proc.Signal(syscall.Signal(0)) == nil
}

// newLogPatternPoller returns a poll func that tails logsDir's most
// recently modified file, reading only bytes appended since its previous
// call, and reports true on the first line matching re.
func newLogPatternPoller(logsDir string, re *regexp.Regexp) func() (bool, error) {
	var currentPath string
	var offset int64

	return func() (bool, error) {
		latest, err := latestLogFile(logsDir)
		if err != nil {
			return false, err
		}
		if latest == "" {
			return false, nil
		}
		if latest != currentPath {
			currentPath = latest
			offset = 0
		}

		f, err := os.Open(currentPath)
		if err != nil {
			return false, err
		}
		defer f.Close()

		if _, err := f.Seek(offset, io.SeekStart); err != nil {
			return false, err
		}
		data, err := io.ReadAll(f)
		if err != nil {
			return false, err
		}
		offset += int64(len(data))

		return re.Match(data), nil
	}
}

// latestLogFile returns the most recently modified regular file directly
// under dir, or "" if dir has none yet.
func latestLogFile(dir string) (string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return "", nil
		}
		return "", err
	}

	var best string
	var bestMod time.Time
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		info, err := e.Info()
		if err != nil {
			continue
		}
		if best == "" || info.ModTime().After(bestMod) {
			best = e.Name()
			bestMod = info.ModTime()
		}
	}
	if best == "" {
		return "", nil
	}
	return filepath.Join(dir, best), nil
}

// newPortProbePoller returns a poll func that reports true once a TCP
// connection to 127.0.0.1:port succeeds, i.e. something is listening.
func newPortProbePoller(port int) func() (bool, error) {
	addr := fmt.Sprintf("127.0.0.1:%d", port)
	return func() (bool, error) {
		conn, err := net.DialTimeout("tcp", addr, 2*time.Second)
		if err != nil {
			return false, nil
		}
		conn.Close()
		return true, nil
	}
}
