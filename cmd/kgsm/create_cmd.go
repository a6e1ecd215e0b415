package main

import (
	"context"
	"fmt"

	"github.com/TheKrystalShip/kgsm"
	"github.com/TheKrystalShip/kgsm/composeports"
)

// CreateCmd implements spec.md §6's `create <blueprint> --install-dir <d>
// [--name <n>]`: it runs the orchestrator's create phase (materialize the
// instance document) immediately followed by install (fetch + deploy +
// enable integrations), since the command surface exposes no separate
// `install` verb.
type CreateCmd struct {
	Blueprint  string `arg:"" help:"blueprint name to materialize an instance from"`
	InstallDir string `required:"" help:"parent directory the instance's working_dir is created under"`
	Name       string `help:"explicit instance name; generated from the blueprint name if omitted"`
}

func (c *CreateCmd) Run(cctx *Context) error {
	ctx := context.Background()
	dctx := cctx.kgsm

	name, err := dctx.Orchestrator.Create(ctx, c.Blueprint, c.InstallDir, c.Name)
	if err != nil {
		return err
	}

	inst, err := dctx.Registry.Describe(name)
	if err != nil {
		return err
	}
	bp, err := dctx.Blueprints.Describe(c.Blueprint)
	if err != nil {
		return err
	}

	downloader, renderer := resolveInstallCollaborators(bp)
	if err := dctx.Orchestrator.Install(ctx, inst, downloader, renderer); err != nil {
		return err
	}

	if cctx.JSON {
		fmt.Printf(`{"instance":%q}`+"\n", name)
		return nil
	}
	fmt.Printf("created and installed instance %s\n", name)
	return nil
}

// resolveInstallCollaborators picks the Downloader implementation a
// blueprint's runtime needs: the container-image puller for container
// blueprints (its image reference read from the compose descriptor), the
// always-failing native stand-in otherwise (spec.md §1's Steam-CLI
// collaborator is out of scope for this module).
func resolveInstallCollaborators(bp *kgsm.Blueprint) (kgsm.Downloader, kgsm.ManagementRenderer) {
	renderer := newScriptRenderer()
	if bp.Runtime != kgsm.RuntimeContainer {
		return nativeDownloader{}, renderer
	}
	imageRef, err := composeports.ExtractImage(bp.ComposeFile)
	if err != nil {
		return nativeDownloader{}, renderer
	}
	return newContainerDownloader(imageRef), renderer
}
