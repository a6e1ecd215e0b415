package kgsm

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/TheKrystalShip/kgsm/events"
	"github.com/TheKrystalShip/kgsm/ports"
)

// Downloader materializes a blueprint's artifacts into destDir. Its actual
// implementation — the default Steam-CLI path or a per-blueprint override —
// is an external collaborator, deliberately out of scope per spec.md §1;
// only this contract is fixed here.
type Downloader interface {
	Download(ctx context.Context, inst *Instance, destDir string) error
}

// ManagementRenderer produces the generated per-instance management
// script's contents. Its runtime behavior (start/stop/save/input/logs) is
// an external collaborator, deliberately out of scope per spec.md §1; only
// the write-to-management_file contract is fixed here.
type ManagementRenderer interface {
	Render(inst *Instance) ([]byte, error)
}

// tracer instruments every orchestrator phase; the teacher's own go.mod
// carries the otel SDK and exporter without ever starting a span (it is a
// CLI tool, not a traced service), so this is new wiring of an
// otherwise-dormant dependency rather than an adaptation of existing
// teacher code (see DESIGN.md).
var tracer = otel.Tracer("github.com/TheKrystalShip/kgsm")

// phase is one forward/inverse step of a verb's pipeline (spec.md §4.3).
// Inverse is nil for steps that are irreversible but never themselves the
// cause of a rollback (e.g. "record version" only ever runs last).
type phase struct {
	Name    string
	Forward func(ctx context.Context, st *pipelineState) error
	Inverse func(ctx context.Context, st *pipelineState) error
}

// pipelineState is scratch state threaded across a single verb invocation's
// phases; fields are populated by early phases and read by later ones.
type pipelineState struct {
	inst      *Instance
	blueprint *Blueprint

	installDir    string
	requestedName string

	wasActive  bool
	oldVersion string
	newVersion string
	backupName string
}

// Orchestrator implements the Lifecycle Orchestrator (spec.md §4.3): create,
// install, update, uninstall, modify, each an ordered phase pipeline.
type Orchestrator struct {
	ctx          *Context
	fileOps      FileOps
	systemdOps   SystemdOps
	firewallOps  FirewallOps
	integrations []Integration
	backups      *BackupManager
}

func newOrchestrator(ctx *Context) *Orchestrator {
	fileOps := NewDefaultFileOps()
	systemdOps := NewDefaultSystemdOps(nil)
	firewallOps := NewDefaultFirewallOps(nil)
	return &Orchestrator{
		ctx:          ctx,
		fileOps:      fileOps,
		systemdOps:   systemdOps,
		firewallOps:  firewallOps,
		integrations: Integrations(ctx, fileOps, systemdOps, firewallOps),
		backups:      NewBackupManager(ctx, fileOps),
	}
}

// runPipeline executes phases in order under verb's span namespace. On
// error it inverts completed phases in reverse order (skipping nil
// Inverse), logging any inversion failure without masking the original
// error, then returns the first failure wrapped with phase context.
func (o *Orchestrator) runPipeline(ctx context.Context, verb string, st *pipelineState, phases []phase) error {
	var completed []phase

	for _, p := range phases {
		spanCtx, span := tracer.Start(ctx, fmt.Sprintf("kgsm.%s.%s", verb, p.Name))
		err := p.Forward(spanCtx, st)
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
			span.End()

			for i := len(completed) - 1; i >= 0; i-- {
				inv := completed[i]
				if inv.Inverse == nil {
					continue
				}
				invCtx, invSpan := tracer.Start(ctx, fmt.Sprintf("kgsm.%s.%s.inverse", verb, inv.Name))
				if invErr := inv.Inverse(invCtx, st); invErr != nil {
					slog.ErrorContext(ctx, "orchestrator.inverse", "verb", verb, "phase", inv.Name, "error", invErr)
					invSpan.RecordError(invErr)
					invSpan.SetStatus(codes.Error, invErr.Error())
				}
				invSpan.End()
			}
			return fmt.Errorf("%s phase %q: %w", verb, p.Name, err)
		}
		span.SetAttributes(attribute.String("kgsm.verb", verb), attribute.String("kgsm.phase", p.Name))
		span.End()
		completed = append(completed, p)
	}
	return nil
}

func (o *Orchestrator) emit(eventType events.EventType, data any) {
	if o.ctx.Dispatcher == nil {
		return
	}
	if err := o.ctx.Dispatcher.Emit(eventType, data); err != nil {
		slog.Error("orchestrator.emit", "eventType", eventType, "error", err)
	}
}

// Create materializes a new instance document from blueprintName without
// installing it (spec.md §4.3 "create"). installDir is the instances/
// parent directory the instance's working_dir is created under; name, if
// empty, is generated via Registry.GenerateName.
func (o *Orchestrator) Create(ctx context.Context, blueprintName, installDir, name string) (string, error) {
	st := &pipelineState{installDir: installDir, requestedName: name}

	phases := []phase{
		{
			Name: "resolve-blueprint",
			Forward: func(ctx context.Context, st *pipelineState) error {
				bp, err := o.ctx.Blueprints.Describe(blueprintName)
				if err != nil {
					return err
				}
				st.blueprint = bp
				return nil
			},
		},
		{
			Name: "generate-name",
			Forward: func(ctx context.Context, st *pipelineState) error {
				if st.requestedName != "" {
					return nil
				}
				generated, err := o.ctx.Registry.GenerateName(blueprintName)
				if err != nil {
					return err
				}
				st.requestedName = generated
				return nil
			},
		},
		{
			Name: "write-base-config",
			Forward: func(ctx context.Context, st *pipelineState) error {
				inst := instanceDirs(st.installDir, st.requestedName)
				inst.BlueprintFile = filepath.Base(st.blueprint.SourcePath)
				inst.Runtime = st.blueprint.Runtime
				inst.LifecycleManager = LifecycleStandalone
				inst.StopCommand = st.blueprint.StopCommand
				inst.SaveCommand = st.blueprint.SaveCommand
				inst.InstallDatetime = time.Now().UTC().Format(time.RFC3339)
				st.inst = &inst
				return o.ctx.saveInstance(st.inst)
			},
			Inverse: func(ctx context.Context, st *pipelineState) error {
				if st.inst == nil {
					return nil
				}
				return o.ctx.Registry.Remove(st.inst.Name)
			},
		},
		{
			Name: "write-runtime-config",
			Forward: func(ctx context.Context, st *pipelineState) error {
				st.inst.StartupSuccessRegex = st.blueprint.StartupSuccessRegex
				switch st.blueprint.Runtime {
				case RuntimeNative:
					st.inst.ExecutableFile = st.blueprint.ExecutableFile
					st.inst.ExecutableArguments = st.blueprint.ExecutableArguments
					st.inst.LaunchDir = filepath.Join(st.inst.InstallDir, st.blueprint.ExecutableSubdirectory)
					st.inst.Ports = st.blueprint.Ports
					upnp, err := ports.ToUPnP(st.blueprint.Ports)
					if err != nil {
						return WrapErr(ErrInvalidArg, "translating blueprint port spec to UPnP mappings", "check the blueprint's `ports` value", err)
					}
					st.inst.UPnPPorts = upnp
				case RuntimeContainer:
					st.inst.Ports = st.blueprint.Ports
				}
				return o.ctx.saveInstance(st.inst)
			},
			Inverse: func(ctx context.Context, st *pipelineState) error {
				return o.ctx.Registry.Remove(st.inst.Name)
			},
		},
	}

	if err := o.runPipeline(ctx, "create", st, phases); err != nil {
		return "", err
	}

	o.emit(events.InstanceCreated, events.InstanceData{InstanceName: st.inst.Name, Blueprint: blueprintName})
	return st.inst.Name, nil
}

// Install orchestrates an existing instance document into a running
// deployment (spec.md §4.3 "install"): directories, management file,
// configured integrations, download, deploy.
func (o *Orchestrator) Install(ctx context.Context, inst *Instance, downloader Downloader, renderer ManagementRenderer) error {
	st := &pipelineState{inst: inst}
	o.emit(events.InstanceInstallationStarted, events.InstanceData{InstanceName: inst.Name, Blueprint: blueprintNameOf(inst)})

	phases := []phase{
		{
			Name: "directories.create",
			Forward: func(ctx context.Context, st *pipelineState) error {
				for _, dir := range st.inst.dirs() {
					if err := os.MkdirAll(dir, 0o750); err != nil {
						return WrapErr(ErrPermission, fmt.Sprintf("creating %s", dir), "check KGSM_ROOT permissions", err)
					}
				}
				o.emit(events.InstanceDirectoriesCreated, events.InstanceData{InstanceName: st.inst.Name})
				return nil
			},
			Inverse: func(ctx context.Context, st *pipelineState) error {
				for _, dir := range st.inst.dirs() {
					if err := os.RemoveAll(dir); err != nil {
						return WrapErr(ErrFailedRemove, fmt.Sprintf("removing %s", dir), "", err)
					}
				}
				o.emit(events.InstanceDirectoriesRemoved, events.InstanceData{InstanceName: st.inst.Name})
				return nil
			},
		},
		{
			Name: "files.manage-create",
			Forward: func(ctx context.Context, st *pipelineState) error {
				if renderer == nil {
					return WrapErr(ErrMissingDependency, "no management script renderer configured", "", nil)
				}
				script, err := renderer.Render(st.inst)
				if err != nil {
					return WrapErr(ErrFailedTemplate, fmt.Sprintf("rendering management script for %s", st.inst.Name), "", err)
				}
				if err := writeArtifact(st.inst.ManagementFile, script, 0o750); err != nil {
					return err
				}
				o.emit(events.InstanceFilesCreated, events.InstanceData{InstanceName: st.inst.Name})
				return nil
			},
			Inverse: func(ctx context.Context, st *pipelineState) error {
				_ = os.Remove(st.inst.ManagementFile)
				o.emit(events.InstanceFilesRemoved, events.InstanceData{InstanceName: st.inst.Name})
				return nil
			},
		},
		{
			Name: "integrations.enable-all-configured",
			Forward: func(ctx context.Context, st *pipelineState) error {
				for _, integ := range o.integrations {
					if !integrationConfigured(st.inst, integ) {
						continue
					}
					if err := integ.Enable(ctx, st.inst); err != nil {
						return fmt.Errorf("enabling %s integration: %w", integ.Kind(), err)
					}
				}
				return nil
			},
			Inverse: func(ctx context.Context, st *pipelineState) error {
				for i := len(o.integrations) - 1; i >= 0; i-- {
					integ := o.integrations[i]
					if !integrationConfigured(st.inst, integ) {
						continue
					}
					if err := integ.Disable(ctx, st.inst); err != nil {
						return fmt.Errorf("disabling %s integration: %w", integ.Kind(), err)
					}
				}
				return nil
			},
		},
		{
			Name: "download",
			Forward: func(ctx context.Context, st *pipelineState) error {
				o.emit(events.InstanceDownloadStarted, events.InstanceData{InstanceName: st.inst.Name})
				if downloader != nil {
					if err := downloader.Download(ctx, st.inst, st.inst.TempDir); err != nil {
						return WrapErr(ErrFailedSource, fmt.Sprintf("downloading artifacts for %s", st.inst.Name), "check network connectivity and store credentials", err)
					}
				}
				o.emit(events.InstanceDownloadFinished, events.InstanceData{InstanceName: st.inst.Name})
				o.emit(events.InstanceDownloaded, events.InstanceData{InstanceName: st.inst.Name})
				return nil
			},
			Inverse: func(ctx context.Context, st *pipelineState) error {
				return clearDir(st.inst.TempDir)
			},
		},
		{
			Name: "deploy",
			Forward: func(ctx context.Context, st *pipelineState) error {
				o.emit(events.InstanceDeployStarted, events.InstanceData{InstanceName: st.inst.Name})
				if err := deployTempToInstall(st.inst.TempDir, st.inst.InstallDir); err != nil {
					return WrapErr(ErrFailedMove, fmt.Sprintf("deploying %s into %s", st.inst.TempDir, st.inst.InstallDir), "", err)
				}
				o.emit(events.InstanceDeployFinished, events.InstanceData{InstanceName: st.inst.Name})
				o.emit(events.InstanceDeployed, events.InstanceData{InstanceName: st.inst.Name})
				return nil
			},
		},
	}

	if err := o.runPipeline(ctx, "install", st, phases); err != nil {
		return err
	}
	o.emit(events.InstanceInstalled, events.InstanceData{InstanceName: inst.Name, Blueprint: blueprintNameOf(inst)})
	return nil
}

// Uninstall is install's reverse composition (spec.md §4.3 "uninstall"):
// disable every enabled integration, remove the management file and
// directories, remove the registry entry.
func (o *Orchestrator) Uninstall(ctx context.Context, inst *Instance) error {
	o.emit(events.InstanceUninstallStarted, events.InstanceData{InstanceName: inst.Name})

	for i := len(o.integrations) - 1; i >= 0; i-- {
		integ := o.integrations[i]
		if !integrationConfigured(inst, integ) {
			continue
		}
		if err := integ.Disable(ctx, inst); err != nil {
			return fmt.Errorf("disabling %s integration: %w", integ.Kind(), err)
		}
	}

	if err := removeArtifactTolerant(o.fileOps, inst.ManagementFile); err != nil {
		return err
	}
	o.emit(events.InstanceFilesRemoved, events.InstanceData{InstanceName: inst.Name})

	for _, dir := range inst.dirs() {
		if err := os.RemoveAll(dir); err != nil {
			return WrapErr(ErrFailedRemove, fmt.Sprintf("removing %s", dir), "check file permissions", err)
		}
	}
	if err := os.RemoveAll(inst.WorkingDir); err != nil {
		return WrapErr(ErrFailedRemove, fmt.Sprintf("removing %s", inst.WorkingDir), "check file permissions", err)
	}
	o.emit(events.InstanceDirectoriesRemoved, events.InstanceData{InstanceName: inst.Name})

	if err := o.ctx.Registry.Remove(inst.Name); err != nil {
		return err
	}

	o.emit(events.InstanceUninstallFinished, events.InstanceData{InstanceName: inst.Name})
	o.emit(events.InstanceUninstalled, events.InstanceData{InstanceName: inst.Name})
	return nil
}

// Modify applies action to the named integration kind (spec.md §4.3
// "modify"): "enable" or "disable", delegating to the matching Integration
// and the already-idempotent semantics it guarantees.
func (o *Orchestrator) Modify(ctx context.Context, inst *Instance, integrationKind, action string) error {
	for _, integ := range o.integrations {
		if integ.Kind() != integrationKind {
			continue
		}
		switch action {
		case "enable":
			return integ.Enable(ctx, inst)
		case "disable":
			return integ.Disable(ctx, inst)
		default:
			return WrapErr(ErrInvalidArg, fmt.Sprintf("unknown modify action %q", action), "use enable or disable", nil)
		}
	}
	return WrapErr(ErrInvalidArg, fmt.Sprintf("unknown integration kind %q", integrationKind), "", nil)
}

// integrationConfigured reports whether inst carries the recorded state for
// integ (i.e. it was enabled), used to iterate only over integrations a
// given instance actually uses during install/uninstall.
func integrationConfigured(inst *Instance, integ Integration) bool {
	switch integ.Kind() {
	case "systemd":
		return inst.EnableSystemd
	case "firewall":
		return inst.EnableFirewallManagement
	case "shortcut":
		return inst.EnableCommandShortcuts
	case "upnp":
		return inst.EnablePortForwarding
	default:
		return false
	}
}

// deployTempToInstall overlays tempDir's top-level entries onto installDir,
// one rename per entry (atomic per-entry from the caller's perspective, per
// spec.md §4.7 step 5); a pre-existing entry at the destination is replaced
// rather than merged, matching an overlay rather than a deep merge.
func deployTempToInstall(tempDir, installDir string) error {
	entries, err := os.ReadDir(tempDir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}
	if err := os.MkdirAll(installDir, 0o750); err != nil {
		return err
	}
	for _, e := range entries {
		src := filepath.Join(tempDir, e.Name())
		dst := filepath.Join(installDir, e.Name())
		if _, err := os.Lstat(dst); err == nil {
			if err := os.RemoveAll(dst); err != nil {
				return err
			}
		}
		if err := os.Rename(src, dst); err != nil {
			return err
		}
	}
	return nil
}

// clearDir removes dir's contents, leaving dir itself in place, used as download's
// inverse: temp_dir itself is a permanent instance directory, only its
// contents are transient.
func clearDir(dir string) error {
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return WrapErr(ErrFailedRemove, fmt.Sprintf("listing %s", dir), "", err)
	}
	for _, e := range entries {
		if err := os.RemoveAll(filepath.Join(dir, e.Name())); err != nil {
			return WrapErr(ErrFailedRemove, fmt.Sprintf("clearing %s", dir), "", err)
		}
	}
	return nil
}
