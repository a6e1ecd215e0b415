package main

import (
	"fmt"
	"os"
	"os/exec"

	"github.com/riywo/loginshell"

	"github.com/TheKrystalShip/kgsm"
)

// ConfigCmd implements `config <get|set|list|reset|validate|edit>` over
// the process-wide Config Store.
type ConfigCmd struct {
	Get      ConfigGetCmd      `cmd:"" help:"print one key's value"`
	Set      ConfigSetCmd      `cmd:"" help:"set one key's value"`
	List     ConfigListCmd     `cmd:"" help:"print every set key=value pair"`
	Reset    ConfigResetCmd    `cmd:"" help:"revert the config store to its declared defaults"`
	Validate ConfigValidateCmd `cmd:"" help:"check every recognised key's declared type"`
	Edit     ConfigEditCmd     `cmd:"" help:"open the config store in $EDITOR"`
}

type ConfigGetCmd struct {
	Key string `arg:""`
}

func (c *ConfigGetCmd) Run(cctx *Context) error {
	v, err := cctx.kgsm.Config.GetDefault(c.Key)
	if err != nil {
		return err
	}
	if cctx.JSON {
		fmt.Printf(`{%q:%q}`+"\n", c.Key, v)
		return nil
	}
	fmt.Println(v)
	return nil
}

type ConfigSetCmd struct {
	Key   string `arg:""`
	Value string `arg:""`
}

func (c *ConfigSetCmd) Run(cctx *Context) error {
	if err := cctx.kgsm.Config.Set(c.Key, c.Value, ""); err != nil {
		return err
	}
	fmt.Printf("%s=%s\n", c.Key, c.Value)
	return nil
}

type ConfigListCmd struct{}

func (c *ConfigListCmd) Run(cctx *Context) error {
	pairs, err := cctx.kgsm.Config.List()
	if err != nil {
		return err
	}
	for _, p := range pairs {
		fmt.Println(p)
	}
	return nil
}

type ConfigResetCmd struct{}

func (c *ConfigResetCmd) Run(cctx *Context) error {
	if err := cctx.kgsm.Config.Reset(); err != nil {
		return err
	}
	fmt.Println("config store reset to defaults")
	return nil
}

type ConfigValidateCmd struct{}

func (c *ConfigValidateCmd) Run(cctx *Context) error {
	if err := cctx.kgsm.Config.Validate(); err != nil {
		return err
	}
	fmt.Println("config store is valid")
	return nil
}

type ConfigEditCmd struct{}

// Run shells out to $EDITOR (default vi) through the user's login shell, so
// editor aliases/functions defined in their shell rc apply the same way
// they would from an interactive terminal — the one use this module has
// for riywo/loginshell, otherwise a dormant dependency in the teacher's own
// go.mod (see DESIGN.md).
func (c *ConfigEditCmd) Run(cctx *Context) error {
	editor := os.Getenv("EDITOR")
	if editor == "" {
		editor = "vi"
	}

	shell, err := loginshell.Shell()
	if err != nil {
		shell = "/bin/sh"
	}

	cmd := exec.Command(shell, "-c", fmt.Sprintf("%s %q", editor, cctx.kgsm.Config.Path()))
	cmd.Stdin, cmd.Stdout, cmd.Stderr = os.Stdin, os.Stdout, os.Stderr
	if err := cmd.Run(); err != nil {
		return kgsm.WrapErr(kgsm.ErrGeneral, "running $EDITOR", "check your EDITOR environment variable", err)
	}
	return nil
}
