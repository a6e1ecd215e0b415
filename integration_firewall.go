package kgsm

import (
	"context"
	"fmt"
	"path/filepath"
)

// firewallIntegration translates an instance's UFW-style port spec into a
// bookkeeping rule file plus a named `ufw allow` rule keyed by instance name
// (spec.md §4.4 "Firewall integration"), wrapping `ufw` through ops.go's
// FirewallOps the same way the service-unit integration wraps `systemctl`.
type firewallIntegration struct {
	ctx      *Context
	fileOps  FileOps
	firewall FirewallOps
}

func (f *firewallIntegration) Kind() string { return "firewall" }

func (f *firewallIntegration) rulesDir() string {
	if dir, err := f.ctx.Config.GetDefault("firewall_rules_dir"); err == nil && dir != "" {
		return dir
	}
	return filepath.Join(f.ctx.Root, "firewall-rules")
}

func (f *firewallIntegration) ruleFile(inst *Instance) string {
	return filepath.Join(f.rulesDir(), "kgsm-"+inst.Name)
}

func (f *firewallIntegration) comment(inst *Instance) string {
	return "kgsm-" + inst.Name
}

func (f *firewallIntegration) State(ctx context.Context, inst *Instance) (IntegrationState, error) {
	exists := fileExists(inst.FirewallRuleFile)
	switch {
	case !exists && !inst.EnableFirewallManagement:
		return IntegrationAbsent, nil
	case exists && inst.EnableFirewallManagement:
		return IntegrationPresent, nil
	default:
		return IntegrationPartial, nil
	}
}

func (f *firewallIntegration) Enable(ctx context.Context, inst *Instance) error {
	state, err := f.State(ctx, inst)
	if err != nil {
		return err
	}
	if state == IntegrationPartial {
		if err := f.Disable(ctx, inst); err != nil {
			return err
		}
	}

	ruleFile := f.ruleFile(inst)
	if fileExists(ruleFile) && inst.FirewallRuleFile != ruleFile {
		return WrapErr(ErrFailedTemplate, fmt.Sprintf("%s already exists and is not recorded for instance %q", ruleFile, inst.Name), "remove the stale rule file or pick a different instance name", nil)
	}

	if err := writeArtifact(ruleFile, []byte(inst.Ports+"\n"), 0o644); err != nil {
		return err
	}
	if err := f.firewall.Allow(ctx, inst.Ports, f.comment(inst)); err != nil {
		return WrapErr(ErrFirewall, fmt.Sprintf("allowing %s for %s", inst.Ports, inst.Name), "check elevated-privilege configuration", err)
	}

	inst.FirewallRuleFile = ruleFile
	inst.EnableFirewallManagement = true
	return f.ctx.saveInstance(inst)
}

func (f *firewallIntegration) Disable(ctx context.Context, inst *Instance) error {
	_ = f.firewall.Delete(ctx, f.comment(inst)) // tolerant of missing rule

	if err := removeArtifactTolerant(f.fileOps, inst.FirewallRuleFile); err != nil {
		return err
	}

	inst.FirewallRuleFile = ""
	inst.EnableFirewallManagement = false
	return f.ctx.saveInstance(inst)
}
