package kgsm

import (
	"context"

	"github.com/TheKrystalShip/kgsm/ports"
)

// upnpIntegration is a pure config-flag + upnp_ports[] toggle with no host
// mutation; the management script performs the actual port mapping at
// start/stop (spec.md §4.4 "UPnP integration").
type upnpIntegration struct {
	ctx *Context
}

func (u *upnpIntegration) Kind() string { return "upnp" }

func (u *upnpIntegration) State(ctx context.Context, inst *Instance) (IntegrationState, error) {
	switch {
	case !inst.EnablePortForwarding && len(inst.UPnPPorts) == 0:
		return IntegrationAbsent, nil
	case inst.EnablePortForwarding && len(inst.UPnPPorts) > 0:
		return IntegrationPresent, nil
	default:
		return IntegrationPartial, nil
	}
}

func (u *upnpIntegration) Enable(ctx context.Context, inst *Instance) error {
	upnpPorts, err := ports.ToUPnP(inst.Ports)
	if err != nil {
		return WrapErr(ErrInvalidArg, "translating instance port spec to UPnP mappings", "check the blueprint's `ports` value", err)
	}
	inst.UPnPPorts = upnpPorts
	inst.EnablePortForwarding = true
	return u.ctx.saveInstance(inst)
}

func (u *upnpIntegration) Disable(ctx context.Context, inst *Instance) error {
	inst.UPnPPorts = nil
	inst.EnablePortForwarding = false
	return u.ctx.saveInstance(inst)
}
