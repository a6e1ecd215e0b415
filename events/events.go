// Package events implements the KGSM event dispatch fabric: a canonical
// JSON envelope fanned out to an optional Unix-socket transport and zero or
// more HTTP webhook transports, in parallel, with per-transport retry.
package events

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"time"
)

// EventType enumerates the envelope's EventType field, exactly the table in
// spec.md §6.
type EventType string

const (
	InstanceCreated EventType = "instance_created"

	InstanceDirectoriesCreated EventType = "instance_directories_created"
	InstanceDirectoriesRemoved EventType = "instance_directories_removed"
	InstanceFilesCreated       EventType = "instance_files_created"
	InstanceFilesRemoved       EventType = "instance_files_removed"

	InstanceDownloadStarted   EventType = "instance_download_started"
	InstanceDownloadFinished  EventType = "instance_download_finished"
	InstanceDownloaded        EventType = "instance_downloaded"
	InstanceDeployStarted     EventType = "instance_deploy_started"
	InstanceDeployFinished    EventType = "instance_deploy_finished"
	InstanceDeployed          EventType = "instance_deployed"
	InstanceUpdateStarted     EventType = "instance_update_started"
	InstanceUpdateFinished    EventType = "instance_update_finished"
	InstanceUpdated           EventType = "instance_updated"
	InstanceUpToDate          EventType = "instance_up_to_date"

	InstanceStarted      EventType = "instance_started"
	InstanceStopped      EventType = "instance_stopped"
	InstanceRemoved      EventType = "instance_removed"
	InstanceReady        EventType = "instance_ready"
	InstanceReadyTimeout EventType = "instance_ready_timeout"

	InstanceUninstallStarted  EventType = "instance_uninstall_started"
	InstanceUninstallFinished EventType = "instance_uninstall_finished"
	InstanceUninstalled       EventType = "instance_uninstalled"

	InstanceInstallationStarted  EventType = "instance_installation_started"
	InstanceInstallationFinished EventType = "instance_installation_finished"
	InstanceInstalled            EventType = "instance_installed"

	InstanceVersionUpdated EventType = "instance_version_updated"

	InstanceBackupCreated  EventType = "instance_backup_created"
	InstanceBackupRestored EventType = "instance_backup_restored"
)

// Envelope is the canonical wire shape, identical for every transport.
type Envelope struct {
	EventType   EventType `json:"EventType"`
	Data        any       `json:"Data"`
	Timestamp   string    `json:"Timestamp"` // RFC3339 UTC
	Hostname    string    `json:"Hostname"`
	KGSMVersion string    `json:"KGSMVersion"`
}

// InstanceData is the payload shape for events whose Data is just an
// instance (and, for instance_created and the installation events, its
// blueprint).
type InstanceData struct {
	InstanceName string `json:"InstanceName"`
	Blueprint    string `json:"Blueprint,omitempty"`
}

// VersionUpdatedData is instance_version_updated's payload.
type VersionUpdatedData struct {
	InstanceName string `json:"InstanceName"`
	OldVersion   string `json:"OldVersion"`
	NewVersion   string `json:"NewVersion"`
}

// ReadyData is instance_ready/instance_ready_timeout's payload.
type ReadyData struct {
	InstanceName string `json:"InstanceName"`
	Strategy     string `json:"Strategy,omitempty"`
	Reason       string `json:"Reason,omitempty"`
}

// BackupData is instance_backup_created/restored's payload.
type BackupData struct {
	InstanceName string `json:"InstanceName"`
	Source       string `json:"Source"`
	Version      string `json:"Version"`
}

// Transport is the fan-out unit; new transports plug in by implementing
// this, per spec.md §9 "Event fan-out with retries".
type Transport interface {
	Name() string
	Emit(env Envelope) error
}

// Config is the subset of process-wide Config Store settings the
// dispatcher and its transports need, read once at construction; the
// Config Store remains the source of truth on disk.
type Config struct {
	EnableSocket  bool
	SocketPath    string
	EnableWebhook bool
	WebhookURLs   []string
	WebhookSecret string
	WebhookTimeout time.Duration
	WebhookRetries int
	Hostname      string
	KGSMVersion   string
}

// Dispatcher builds envelopes and fans them out to every enabled transport.
type Dispatcher struct {
	cfg        Config
	transports []Transport
}

// NewDispatcher builds the transport set implied by cfg. Both transports
// are tolerant of their precondition being unmet (absent socket, empty URL
// list) — Emit then becomes a silent success, matching spec.md §4.6.
func NewDispatcher(cfg Config) *Dispatcher {
	d := &Dispatcher{cfg: cfg}
	if cfg.EnableSocket {
		d.transports = append(d.transports, NewSocketTransport(cfg.SocketPath))
	}
	if cfg.EnableWebhook && len(cfg.WebhookURLs) > 0 {
		d.transports = append(d.transports, NewWebhookTransport(cfg.WebhookURLs, cfg.WebhookSecret, cfg.WebhookTimeout, cfg.WebhookRetries, cfg.KGSMVersion))
	}
	return d
}

// Emit builds the envelope for eventType/data and dispatches it to every
// transport concurrently, waiting for all of them to finish. Orchestration
// callers that want fire-and-forget semantics should call this in a
// goroutine; Emit itself is always synchronous so tests can assert on the
// result.
func (d *Dispatcher) Emit(eventType EventType, data any) error {
	env := Envelope{
		EventType:   eventType,
		Data:        data,
		Timestamp:   time.Now().UTC().Format(time.RFC3339),
		Hostname:    d.cfg.Hostname,
		KGSMVersion: d.cfg.KGSMVersion,
	}

	if len(d.transports) == 0 {
		return nil
	}

	type result struct {
		name string
		err  error
	}
	results := make(chan result, len(d.transports))
	for _, t := range d.transports {
		go func(t Transport) {
			results <- result{name: t.Name(), err: t.Emit(env)}
		}(t)
	}

	var firstErr error
	for range d.transports {
		r := <-results
		if r.err != nil {
			slog.Error("events.Dispatcher.Emit", "transport", r.name, "eventType", eventType, "error", r.err)
			if firstErr == nil {
				firstErr = fmt.Errorf("transport %s: %w", r.name, r.err)
			}
		}
	}
	// Per spec.md §4.6, webhook endpoint failure does not affect the
	// verb; callers in synchronous (test) mode still want to observe it,
	// so Emit surfaces the first error rather than swallowing it.
	return firstErr
}

// Marshal renders an envelope as a single JSON line, used by both the
// socket and the webhook transports.
func Marshal(env Envelope) ([]byte, error) {
	return json.Marshal(env)
}

// LocalHostname is the Hostname field populated into every envelope built
// by this process.
func LocalHostname() string {
	h, err := os.Hostname()
	if err != nil {
		return "unknown"
	}
	return h
}
