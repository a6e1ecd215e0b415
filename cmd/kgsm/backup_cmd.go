package main

import (
	"context"
	"fmt"

	"github.com/TheKrystalShip/kgsm"
)

func newBackupManager(cctx *Context) *kgsm.BackupManager {
	return kgsm.NewBackupManager(cctx.kgsm, kgsm.NewDefaultFileOps())
}

// CreateBackupCmd implements `create-backup <instance>`.
type CreateBackupCmd struct {
	Instance string `arg:"" predictor:"instance"`
}

func (c *CreateBackupCmd) Run(cctx *Context) error {
	ctx := context.Background()
	inst, err := cctx.kgsm.Registry.Describe(c.Instance)
	if err != nil {
		return err
	}
	name, err := newBackupManager(cctx).Create(ctx, inst, kgsm.NewDefaultSystemdOps(nil))
	if err != nil {
		return err
	}
	if name == "" {
		fmt.Printf("warning: %s's install directory is empty, nothing to back up\n", inst.Name)
		return nil
	}
	if cctx.JSON {
		fmt.Printf(`{"instance":%q,"backup":%q}`+"\n", inst.Name, name)
		return nil
	}
	fmt.Printf("created backup %s\n", name)
	return nil
}

// RestoreBackupCmd implements `restore-backup <instance> [<source>]`: when
// source is omitted, the newest backup (List's first element) is used.
type RestoreBackupCmd struct {
	Instance string `arg:"" predictor:"instance"`
	Source   string `arg:"" optional:"" help:"backup base name; defaults to the newest backup"`
}

func (c *RestoreBackupCmd) Run(cctx *Context) error {
	ctx := context.Background()
	inst, err := cctx.kgsm.Registry.Describe(c.Instance)
	if err != nil {
		return err
	}

	source := c.Source
	if source == "" {
		backups, err := newBackupManager(cctx).List(inst)
		if err != nil {
			return err
		}
		if len(backups) == 0 {
			return kgsm.WrapErr(kgsm.ErrNotFound, fmt.Sprintf("instance %q has no backups", inst.Name), "create one first with create-backup", nil)
		}
		source = backups[0]
	}

	if err := newBackupManager(cctx).Restore(ctx, inst, source, kgsm.NewDefaultSystemdOps(nil)); err != nil {
		return err
	}
	if cctx.JSON {
		fmt.Printf(`{"instance":%q,"restored":%q}`+"\n", inst.Name, source)
		return nil
	}
	fmt.Printf("restored %s from %s\n", inst.Name, source)
	return nil
}

// ListBackupsCmd implements `list-backups <instance>`.
type ListBackupsCmd struct {
	Instance string `arg:"" predictor:"instance"`
}

func (c *ListBackupsCmd) Run(cctx *Context) error {
	inst, err := cctx.kgsm.Registry.Describe(c.Instance)
	if err != nil {
		return err
	}
	backups, err := newBackupManager(cctx).List(inst)
	if err != nil {
		return err
	}
	if cctx.JSON {
		fmt.Print(`{"instance":"` + inst.Name + `","backups":[`)
		for i, b := range backups {
			if i > 0 {
				fmt.Print(",")
			}
			fmt.Printf("%q", b)
		}
		fmt.Println("]}")
		return nil
	}
	for _, b := range backups {
		fmt.Println(b)
	}
	return nil
}
