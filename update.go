package kgsm

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/google/go-containerregistry/pkg/name"
	"github.com/google/go-containerregistry/pkg/v1/remote"

	"github.com/TheKrystalShip/kgsm/events"
)

// VersionProbe resolves the latest available version for an instance's
// blueprint (spec.md §4.7 step 1).
type VersionProbe interface {
	Latest(ctx context.Context, inst *Instance, bp *Blueprint) (string, error)
}

// nativeVersionProbe is the external Steam-CLI probe collaborator spec.md
// §1 puts deliberately out of scope; callers must supply their own
// VersionProbe for native blueprints. This stand-in exists only so Update's
// signature has a sensible default to fall back to, and always fails.
type nativeVersionProbe struct{}

func (nativeVersionProbe) Latest(ctx context.Context, inst *Instance, bp *Blueprint) (string, error) {
	return "", WrapErr(ErrMissingDependency, fmt.Sprintf("no version probe configured for native blueprint %q", bp.Name), "wire an external Steam-CLI probe", nil)
}

// NewNativeVersionProbe returns the stand-in VersionProbe for native
// blueprints; the Command Surface is expected to replace it with a real
// Steam-CLI-backed probe once that external collaborator exists.
func NewNativeVersionProbe() VersionProbe {
	return nativeVersionProbe{}
}

// containerVersionProbe resolves the latest version as a container image's
// content digest, via go-containerregistry's remote.Image lookup against
// the compose descriptor's image reference (spec.md §4.7 step 1,
// SPEC_FULL.md §5.7).
type containerVersionProbe struct {
	imageRef string
}

// NewContainerVersionProbe builds a VersionProbe for container-runtime
// blueprints that resolves imageRef's current remote digest.
func NewContainerVersionProbe(imageRef string) VersionProbe {
	return containerVersionProbe{imageRef: imageRef}
}

func (p containerVersionProbe) Latest(ctx context.Context, inst *Instance, bp *Blueprint) (string, error) {
	ref, err := name.ParseReference(p.imageRef)
	if err != nil {
		return "", WrapErr(ErrInvalidArg, fmt.Sprintf("parsing image reference %q", p.imageRef), "", err)
	}
	img, err := remote.Image(ref, remote.WithContext(ctx))
	if err != nil {
		return "", WrapErr(ErrFailedSource, fmt.Sprintf("resolving image %q", p.imageRef), "check registry connectivity and credentials", err)
	}
	digest, err := img.Digest()
	if err != nil {
		return "", WrapErr(ErrFailedSource, "reading remote image digest", "", err)
	}
	return digest.String(), nil
}

// Update runs the seven-step Update Pipeline for inst (spec.md §4.7).
// downloader materialises the new version's artifacts into temp_dir;
// probe resolves the latest version (NewContainerVersionProbe for
// container blueprints, a caller-supplied probe wired to the external
// Steam-CLI collaborator for native ones). force treats a probe result
// equal to installed_version as an update to perform anyway, rather than a
// no-op success (the interactive overwrite prompt is a Command Surface
// concern, out of scope here).
func (o *Orchestrator) Update(ctx context.Context, inst *Instance, probe VersionProbe, downloader Downloader, lifecycle LifecycleOps, force bool) error {
	bp, err := o.ctx.Blueprints.Describe(blueprintNameOf(inst))
	if err != nil {
		return err
	}
	st := &pipelineState{inst: inst, blueprint: bp, oldVersion: inst.InstalledVersion}

	latest, err := probe.Latest(ctx, st.inst, st.blueprint)
	if err != nil {
		return err
	}
	st.newVersion = latest

	// spec.md §4.7 step 1: a non-interactive caller treats an already-current
	// instance as success with no re-download/re-deploy, unless force asks
	// for the update to run anyway.
	if latest == inst.InstalledVersion && !force {
		o.emit(events.InstanceUpToDate, events.InstanceData{InstanceName: inst.Name})
		return nil
	}

	o.emit(events.InstanceUpdateStarted, events.InstanceData{InstanceName: inst.Name})

	phases := []phase{
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
			Name: "stop-if-running",
			Forward: func(ctx context.Context, st *pipelineState) error {
				st.wasActive = st.inst.IsActive(ctx, o.systemdOps, o.fileOps)
				if !st.wasActive {
					return nil
				}
				return lifecycle.Stop(ctx, st.inst)
			},
			Inverse: func(ctx context.Context, st *pipelineState) error {
				if !st.wasActive {
					return nil
				}
				return lifecycle.Start(ctx, st.inst)
			},
		},
		{
			Name: "backup",
			Forward: func(ctx context.Context, st *pipelineState) error {
				createdName, err := o.backups.Create(ctx, st.inst, o.systemdOps)
				if err != nil {
					return err
				}
				st.backupName = createdName
				return nil
			},
			// A backup is never "un-created" (spec.md §5.5 carried verbatim).
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
			Inverse: func(ctx context.Context, st *pipelineState) error {
				if st.backupName == "" {
					return nil
				}
				backupPath := filepath.Join(st.inst.BackupsDir, st.backupName)
				return o.backups.restoreFiles(ctx, st.inst, backupPath)
			},
		},
		{
			Name: "restore-if-was-running",
			Forward: func(ctx context.Context, st *pipelineState) error {
				if !st.wasActive {
					return nil
				}
				return lifecycle.Start(ctx, st.inst)
			},
			Inverse: func(ctx context.Context, st *pipelineState) error {
				if !st.wasActive {
					return nil
				}
				return lifecycle.Stop(ctx, st.inst)
			},
		},
		{
			Name: "record-version",
			Forward: func(ctx context.Context, st *pipelineState) error {
				st.inst.InstalledVersion = st.newVersion
				if err := o.ctx.saveInstance(st.inst); err != nil {
					return err
				}
				if err := os.WriteFile(st.inst.VersionFile, []byte(st.newVersion+"\n"), 0o640); err != nil {
					return WrapErr(ErrFailedUpdateConfig, fmt.Sprintf("writing %s", st.inst.VersionFile), "", err)
				}
				o.emit(events.InstanceVersionUpdated, events.VersionUpdatedData{
					InstanceName: st.inst.Name,
					OldVersion:   st.oldVersion,
					NewVersion:   st.newVersion,
				})
				return nil
			},
		},
	}

	if err := o.runPipeline(ctx, "update", st, phases); err != nil {
		return err
	}

	o.emit(events.InstanceUpdateFinished, events.InstanceData{InstanceName: inst.Name})
	o.emit(events.InstanceUpdated, events.InstanceData{InstanceName: inst.Name})
	return nil
}
