package main

import (
	"context"
	"fmt"

	"github.com/TheKrystalShip/kgsm"
	"github.com/TheKrystalShip/kgsm/events"
)

func lifecycleOps(cctx *Context) kgsm.LifecycleOps {
	return kgsm.NewDefaultLifecycleOps(kgsm.NewDefaultSystemdOps(nil))
}

// StartCmd implements `start <instance>`: starts it via its
// lifecycle_manager, then launches the detached Readiness Watcher so the
// instance's actual bind/log-pattern readiness is observed out of band.
type StartCmd struct {
	Instance string `arg:"" predictor:"instance"`
}

func (c *StartCmd) Run(cctx *Context) error {
	ctx := context.Background()
	dctx := cctx.kgsm

	inst, err := dctx.Registry.Describe(c.Instance)
	if err != nil {
		return err
	}
	if err := lifecycleOps(cctx).Start(ctx, inst); err != nil {
		return err
	}
	if dctx.Dispatcher != nil {
		_ = dctx.Dispatcher.Emit(events.InstanceStarted, events.InstanceData{InstanceName: inst.Name})
	}

	if err := kgsm.Start(inst); err != nil {
		// Readiness watching is best-effort: the instance is already
		// running even if we fail to observe its startup.
		fmt.Printf("started %s (readiness watcher failed to launch: %v)\n", inst.Name, err)
		return nil
	}

	if cctx.JSON {
		fmt.Printf(`{"instance":%q,"action":"start"}`+"\n", inst.Name)
		return nil
	}
	fmt.Printf("started %s\n", inst.Name)
	return nil
}

// StopCmd implements `stop <instance>`.
type StopCmd struct {
	Instance string `arg:"" predictor:"instance"`
}

func (c *StopCmd) Run(cctx *Context) error {
	ctx := context.Background()
	dctx := cctx.kgsm

	inst, err := dctx.Registry.Describe(c.Instance)
	if err != nil {
		return err
	}
	if err := lifecycleOps(cctx).Stop(ctx, inst); err != nil {
		return err
	}
	if dctx.Dispatcher != nil {
		_ = dctx.Dispatcher.Emit(events.InstanceStopped, events.InstanceData{InstanceName: inst.Name})
	}

	if cctx.JSON {
		fmt.Printf(`{"instance":%q,"action":"stop"}`+"\n", inst.Name)
		return nil
	}
	fmt.Printf("stopped %s\n", inst.Name)
	return nil
}

// RestartCmd implements `restart <instance>` as Stop followed by Start.
type RestartCmd struct {
	Instance string `arg:"" predictor:"instance"`
}

func (c *RestartCmd) Run(cctx *Context) error {
	if err := (&StopCmd{Instance: c.Instance}).Run(cctx); err != nil {
		return err
	}
	return (&StartCmd{Instance: c.Instance}).Run(cctx)
}

// StatusCmd implements `status <instance>`.
type StatusCmd struct {
	Instance string `arg:"" predictor:"instance"`
}

func (c *StatusCmd) Run(cctx *Context) error {
	ctx := context.Background()
	dctx := cctx.kgsm

	inst, err := dctx.Registry.Describe(c.Instance)
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
}
