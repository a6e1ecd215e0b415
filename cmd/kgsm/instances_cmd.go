package main

import (
	"context"
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/TheKrystalShip/kgsm"
)

// InstancesCmd implements `instances [--list|--info|--find|--status]`,
// grounded on cmd/sand/ls_cmd.go's tabwriter-based listing shape.
type InstancesCmd struct {
	List   bool   `help:"list every instance, optionally filtered by --blueprint"`
	Info   string `help:"describe one instance in full"`
	Find   string `help:"print the instance document path for a name"`
	Status string `help:"report whether an instance is active"`

	Blueprint string `help:"restrict --list to instances of this blueprint"`
}

func (c *InstancesCmd) Run(cctx *Context) error {
	ctx := context.Background()
	dctx := cctx.kgsm

	switch {
	case c.Find != "":
		path, err := dctx.Registry.Find(c.Find)
		if err != nil {
			return err
		}
		fmt.Println(path)
		return nil

	case c.Info != "":
		inst, err := dctx.Registry.Describe(c.Info)
		if err != nil {
			return err
		}
		return printInstanceInfo(cctx, inst)

	case c.Status != "":
		inst, err := dctx.Registry.Describe(c.Status)
		if err != nil {
			return err
		}
		active := inst.IsActive(ctx, kgsm.NewDefaultSystemdOps(nil), kgsm.NewDefaultFileOps())
		if cctx.JSON {
			fmt.Printf(`{"instance":%q,"active":%t}`+"\n", inst.Name, active)
			return nil
		}
		state := "stopped"
		if active {
			state = "active"
		}
		fmt.Printf("%s: %s\n", inst.Name, state)
		return nil

	default: // --list is the default view
		names, err := dctx.Registry.List(c.Blueprint)
		if err != nil {
			return err
		}
		return printInstanceList(ctx, cctx, names)
	}
}

func printInstanceList(ctx context.Context, cctx *Context, names []string) error {
	dctx := cctx.kgsm
	systemdOps := kgsm.NewDefaultSystemdOps(nil)
	fileOps := kgsm.NewDefaultFileOps()

	if cctx.JSON {
		fmt.Print(`{"instances":[`)
		for i, n := range names {
			if i > 0 {
				fmt.Print(",")
			}
			fmt.Printf("%q", n)
		}
		fmt.Println("]}")
		return nil
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "NAME\tRUNTIME\tSTATUS\tVERSION\t")
	for _, n := range names {
		inst, err := dctx.Registry.Describe(n)
		if err != nil {
			return err
		}
		status := "stopped"
		if inst.IsActive(ctx, systemdOps, fileOps) {
			status = "active"
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t\n", inst.Name, inst.Runtime, status, inst.InstalledVersion)
	}
	return w.Flush()
}

func printInstanceInfo(cctx *Context, inst *kgsm.Instance) error {
	if cctx.JSON {
		fmt.Printf(`{"name":%q,"runtime":%q,"lifecycle_manager":%q,"installed_version":%q,"working_dir":%q}`+"\n",
			inst.Name, inst.Runtime, inst.LifecycleManager, inst.InstalledVersion, inst.WorkingDir)
		return nil
	}
	fmt.Printf("name:              %s\n", inst.Name)
	fmt.Printf("runtime:           %s\n", inst.Runtime)
	fmt.Printf("lifecycle_manager: %s\n", inst.LifecycleManager)
	fmt.Printf("installed_version: %s\n", inst.InstalledVersion)
	fmt.Printf("working_dir:       %s\n", inst.WorkingDir)
	fmt.Printf("install_dir:       %s\n", inst.InstallDir)
	fmt.Printf("enable_systemd:            %t\n", inst.EnableSystemd)
	fmt.Printf("enable_firewall_management: %t\n", inst.EnableFirewallManagement)
	fmt.Printf("enable_command_shortcuts:   %t\n", inst.EnableCommandShortcuts)
	fmt.Printf("enable_port_forwarding:     %t\n", inst.EnablePortForwarding)
	return nil
}
