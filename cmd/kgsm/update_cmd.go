package main

import (
	"context"
	"fmt"

	"github.com/TheKrystalShip/kgsm"
	"github.com/TheKrystalShip/kgsm/composeports"
)

// UpdateCmd implements `update <instance>` (spec.md §6/§4.7).
type UpdateCmd struct {
	Instance string `arg:"" predictor:"instance"`
	Force    bool   `help:"run the update even if the resolved latest version equals installed_version"`
}

func (c *UpdateCmd) Run(cctx *Context) error {
	ctx := context.Background()
	dctx := cctx.kgsm

	inst, err := dctx.Registry.Describe(c.Instance)
	if err != nil {
		return err
	}
	bp, err := dctx.Blueprints.Describe(blueprintNameFromFile(inst.BlueprintFile))
	if err != nil {
		return err
	}

	downloader, _ := resolveInstallCollaborators(bp)
	probe := resolveVersionProbe(bp)
	lifecycle := kgsm.NewDefaultLifecycleOps(kgsm.NewDefaultSystemdOps(nil))

	oldVersion := inst.InstalledVersion
	if err := dctx.Orchestrator.Update(ctx, inst, probe, downloader, lifecycle, c.Force); err != nil {
		return err
	}
	upToDate := inst.InstalledVersion == oldVersion

	if cctx.JSON {
		fmt.Printf(`{"instance":%q,"installed_version":%q,"up_to_date":%t}`+"\n", inst.Name, inst.InstalledVersion, upToDate)
		return nil
	}
	if upToDate {
		fmt.Printf("%s already at %s\n", inst.Name, inst.InstalledVersion)
		return nil
	}
	fmt.Printf("updated %s to %s\n", inst.Name, inst.InstalledVersion)
	return nil
}

func resolveVersionProbe(bp *kgsm.Blueprint) kgsm.VersionProbe {
	if bp.Runtime != kgsm.RuntimeContainer {
		return kgsm.NewNativeVersionProbe()
	}
	imageRef, err := composeports.ExtractImage(bp.ComposeFile)
	if err != nil {
		return kgsm.NewNativeVersionProbe()
	}
	return kgsm.NewContainerVersionProbe(imageRef)
}
