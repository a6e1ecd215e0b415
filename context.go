// Package kgsm is the core domain package for the KGSM control plane: a
// Linux control plane for game-server instances materialized from
// blueprints. It owns the Config Store, Blueprint Resolver, Lifecycle
// Orchestrator, Integration Manager, Backup Subsystem, Instance Registry and
// Readiness Watcher; subpackages handle events, port-spec grammar, systemd
// unit rendering, compose-descriptor port parsing and the registry's sqlite
// read-model cache.
package kgsm

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/google/uuid"
	homedir "github.com/mitchellh/go-homedir"

	"github.com/TheKrystalShip/kgsm/events"
	"github.com/TheKrystalShip/kgsm/registryindex"
)

// Context is the process-wide state every component is constructed against.
// It replaces the KGSM_ROOT environment global with a single constructed
// value threaded explicitly through every call (spec.md §9 "Process-wide
// state"); there are no package-level singletons anywhere in this module.
type Context struct {
	// Root is KGSM_ROOT: the directory holding config.ini, blueprints/,
	// instances/, templates/ and overrides/.
	Root string

	Config      *ConfigStore
	Blueprints  *BlueprintResolver
	Registry    *Registry
	Orchestrator *Orchestrator
	Dispatcher  *events.Dispatcher

	index *registryindex.Index

	// RunID correlates every log line emitted during a single verb
	// invocation (AMBIENT STACK §2); it never appears in the wire-visible
	// event envelope.
	RunID string
}

// NewContext resolves root (expanding a leading "~"), ensures the KGSM_ROOT
// directory skeleton exists, opens the process-wide config.ini, opens the
// registry index cache, and wires the remaining components against them.
// Grounded on NewBoxer's constructor shape: directory creation, opening the
// persistent store, building dependent collaborators, all in one call.
func NewContext(root string) (*Context, error) {
	expanded, err := homedir.Expand(root)
	if err != nil {
		return nil, fmt.Errorf("expanding root %q: %w", root, err)
	}

	for _, dir := range []string{
		expanded,
		filepath.Join(expanded, "blueprints", "default"),
		filepath.Join(expanded, "blueprints", "custom"),
		filepath.Join(expanded, "instances"),
		filepath.Join(expanded, "templates"),
		filepath.Join(expanded, "overrides"),
	} {
		if err := os.MkdirAll(dir, 0o750); err != nil {
			return nil, fmt.Errorf("creating %s: %w", dir, err)
		}
	}

	cfg, err := OpenConfigStore(filepath.Join(expanded, "config.ini"))
	if err != nil {
		return nil, fmt.Errorf("opening config store: %w", err)
	}

	idx, err := registryindex.Open(filepath.Join(expanded, "registryindex.db"))
	if err != nil {
		return nil, fmt.Errorf("opening registry index: %w", err)
	}

	runID := uuid.NewString()

	ctx := &Context{
		Root:  expanded,
		Config: cfg,
		index: idx,
		RunID: runID,
	}
	ctx.Blueprints = newBlueprintResolver(ctx)
	ctx.Registry = newRegistry(ctx, idx)
	ctx.Dispatcher = events.NewDispatcher(cfg.eventConfig(expanded))
	ctx.Orchestrator = newOrchestrator(ctx)

	slog.Info("kgsm.NewContext", "root", expanded, "run_id", runID)
	return ctx, nil
}

// Close releases the registry index's database handle. The canonical
// instance tree on disk needs no closing; only the derived cache does.
func (c *Context) Close() error {
	if c.index != nil {
		return c.index.Close()
	}
	return nil
}
