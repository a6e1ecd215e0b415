package main

import (
	"context"
	"fmt"

	"github.com/TheKrystalShip/kgsm"
)

// integrationKindByName translates spec.md §6's CLI-facing integration
// vocabulary (systemd|ufw|symlink|upnp) into Integration.Kind()'s internal
// strings (systemd|firewall|shortcut|upnp); the two diverge because "ufw"
// and "symlink" name the host mechanism where the orchestrator's kind names
// the integration's role.
var integrationKindByName = map[string]string{
	"systemd": "systemd",
	"ufw":     "firewall",
	"symlink": "shortcut",
	"upnp":    "upnp",
}

// ModifyCmd implements `modify <instance> --add|--remove
// <systemd|ufw|symlink|upnp>`.
type ModifyCmd struct {
	Instance string `arg:"" predictor:"instance"`
	Add      string `xor:"action" enum:"systemd,ufw,symlink,upnp," help:"enable this integration"`
	Remove   string `xor:"action" enum:"systemd,ufw,symlink,upnp," help:"disable this integration"`
}

func (c *ModifyCmd) Run(cctx *Context) error {
	ctx := context.Background()
	dctx := cctx.kgsm

	inst, err := dctx.Registry.Describe(c.Instance)
	if err != nil {
		return err
	}

	name, action := c.Add, "enable"
	if c.Remove != "" {
		name, action = c.Remove, "disable"
	}
	if name == "" {
		return kgsm.WrapErr(kgsm.ErrMissingArg, "modify requires --add or --remove", "pass one of --add <kind> or --remove <kind>", nil)
	}

	kind, ok := integrationKindByName[name]
	if !ok {
		return kgsm.WrapErr(kgsm.ErrInvalidArg, fmt.Sprintf("unknown integration %q", name), "use one of systemd, ufw, symlink, upnp", nil)
	}

	if err := dctx.Orchestrator.Modify(ctx, inst, kind, action); err != nil {
		return err
	}
	if cctx.JSON {
		fmt.Printf(`{"instance":%q,"integration":%q,"action":%q}`+"\n", inst.Name, name, action)
		return nil
	}
	fmt.Printf("%sd %s integration for %s\n", action, name, inst.Name)
	return nil
}
