package main

import (
	"fmt"
	"os"
	"text/tabwriter"
)

// BlueprintsCmd implements `blueprints [--list|--info|--find]`.
type BlueprintsCmd struct {
	List bool   `help:"list every available blueprint"`
	Info string `help:"describe one blueprint in full"`
	Find string `help:"print the blueprint source path for a name"`
}

func (c *BlueprintsCmd) Run(cctx *Context) error {
	dctx := cctx.kgsm

	switch {
	case c.Find != "":
		path, err := dctx.Blueprints.Find(c.Find)
		if err != nil {
			return err
		}
		fmt.Println(path)
		return nil

	case c.Info != "":
		bp, err := dctx.Blueprints.Describe(c.Info)
		if err != nil {
			return err
		}
		if cctx.JSON {
			fmt.Printf(`{"name":%q,"runtime":%q,"ports":%q}`+"\n", bp.Name, bp.Runtime, bp.Ports)
			return nil
		}
		fmt.Printf("name:    %s\n", bp.Name)
		fmt.Printf("runtime: %s\n", bp.Runtime)
		fmt.Printf("ports:   %s\n", bp.Ports)
		if bp.Runtime == "native" {
			fmt.Printf("executable_file: %s\n", bp.ExecutableFile)
			fmt.Printf("steam_app_id:    %s\n", bp.SteamAppID)
		} else {
			fmt.Printf("compose_file: %s\n", bp.ComposeFile)
		}
		return nil

	default:
		names, err := dctx.Blueprints.List()
		if err != nil {
			return err
		}
		if cctx.JSON {
			fmt.Print(`{"blueprints":[`)
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
		fmt.Fprintln(w, "NAME\t")
		for _, n := range names {
			fmt.Fprintf(w, "%s\t\n", n)
		}
		return w.Flush()
	}
}
