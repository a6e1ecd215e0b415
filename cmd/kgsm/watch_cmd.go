package main

import (
	"context"
	"os"
	"strconv"

	"github.com/TheKrystalShip/kgsm"
)

// WatchCmd is the detached re-exec target readiness.go's Start launches:
// `kgsm __watch <instance>`. It is hidden from --help since it is never a
// user-facing entry point.
type WatchCmd struct {
	Instance string `arg:""`
	PID      int    `help:"pid to watch for disappearance; defaults to this process's parent"`
}

func (c *WatchCmd) Run(cctx *Context) error {
	ctx := context.Background()
	dctx := cctx.kgsm

	inst, err := dctx.Registry.Describe(c.Instance)
	if err != nil {
		return err
	}

	pid := c.PID
	if pid == 0 {
		pid = parentPID()
	}

	return kgsm.NewWatcher(dctx).Watch(ctx, inst, pid)
}

func parentPID() int {
	if v := os.Getenv("KGSM_WATCH_PID"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return os.Getppid()
}
