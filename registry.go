package kgsm

import (
	"context"
	"crypto/rand"
	"fmt"
	"math/big"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/TheKrystalShip/kgsm/registryindex"
)

// Registry generates unique instance names and stores/lists/finds/removes
// instance documents grouped by blueprint name (spec.md §4.8). The
// canonical store is the instances/<blueprint>/<name>.ini tree; the sqlite
// registryindex is a derived, rebuildable read-model cache over it.
type Registry struct {
	ctx   *Context
	index *registryindex.Index
}

func newRegistry(ctx *Context, index *registryindex.Index) *Registry {
	return &Registry{ctx: ctx, index: index}
}

func (r *Registry) blueprintDir(blueprint string) string {
	return filepath.Join(r.ctx.Root, "instances", blueprint)
}

func (r *Registry) instancePath(blueprint, name string) string {
	return filepath.Join(r.blueprintDir(blueprint), name+".ini")
}

// GenerateName implements spec.md §4.8's generate_name: the blueprint name
// itself if no instance of it exists yet, otherwise
// "<blueprint>-<N-digit-random>", redrawing on collision.
func (r *Registry) GenerateName(blueprint string) (string, error) {
	existing, err := r.List(blueprint)
	if err != nil {
		return "", err
	}
	if len(existing) == 0 {
		return blueprint, nil
	}

	suffixLen := 2
	if v, err := r.ctx.Config.GetDefault("instance_suffix_length"); err == nil {
		if n, convErr := strconv.Atoi(v); convErr == nil && n > 0 {
			suffixLen = n
		}
	}

	taken := map[string]bool{}
	for _, name := range existing {
		taken[name] = true
	}

	max := int64(1)
	for i := 0; i < suffixLen; i++ {
		max *= 10
	}
	for attempt := 0; attempt < 1000; attempt++ {
		n, err := rand.Int(rand.Reader, big.NewInt(max))
		if err != nil {
			return "", WrapErr(ErrGeneral, "generating random instance suffix", "", err)
		}
		candidate := fmt.Sprintf("%s-%0*d", blueprint, suffixLen, n.Int64())
		if !taken[candidate] {
			return candidate, nil
		}
	}
	return "", WrapErr(ErrGeneral, fmt.Sprintf("could not find a free instance name for blueprint %q after 1000 attempts", blueprint), "", nil)
}

// List returns instance names for blueprint, or every instance across all
// blueprints if blueprint is "".
func (r *Registry) List(blueprint string) ([]string, error) {
	if blueprint != "" {
		return r.listDir(r.blueprintDir(blueprint))
	}

	root := filepath.Join(r.ctx.Root, "instances")
	entries, err := os.ReadDir(root)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, WrapErr(ErrGeneral, fmt.Sprintf("listing %s", root), "", err)
	}

	var out []string
	for _, e := range entries {
		if !e.IsDir() {
			continue
		}
		names, err := r.listDir(filepath.Join(root, e.Name()))
		if err != nil {
			return nil, err
		}
		out = append(out, names...)
	}
	return out, nil
}

func (r *Registry) listDir(dir string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, WrapErr(ErrGeneral, fmt.Sprintf("listing %s", dir), "", err)
	}
	var names []string
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), ".ini") {
			continue
		}
		names = append(names, strings.TrimSuffix(e.Name(), ".ini"))
	}
	return names, nil
}

// Find locates name's instance document across all blueprint subdirectories
// and returns its path.
func (r *Registry) Find(name string) (string, error) {
	root := filepath.Join(r.ctx.Root, "instances")
	entries, err := os.ReadDir(root)
	if err != nil {
		if os.IsNotExist(err) {
			return "", WrapErr(ErrNotFound, fmt.Sprintf("instance %q not found", name), "check `kgsm instances --list`", nil)
		}
		return "", WrapErr(ErrGeneral, fmt.Sprintf("listing %s", root), "", err)
	}
	for _, e := range entries {
		if !e.IsDir() {
			continue
		}
		candidate := r.instancePath(e.Name(), name)
		if _, err := os.Stat(candidate); err == nil {
			return candidate, nil
		}
	}
	return "", WrapErr(ErrNotFound, fmt.Sprintf("instance %q not found", name), "check `kgsm instances --list`", nil)
}

// Remove deletes name's config file and, if its blueprint directory is now
// empty, that directory too (spec.md §4.8); uninstall is all-or-nothing at
// the registry level, so callers must have already torn down all artifacts
// and host directories before calling Remove.
func (r *Registry) Remove(name string) error {
	path, err := r.Find(name)
	if err != nil {
		return err
	}
	dir := filepath.Dir(path)

	if err := os.Remove(path); err != nil {
		return WrapErr(ErrFailedRemove, fmt.Sprintf("removing instance document %s", path), "check file permissions", err)
	}

	remaining, err := os.ReadDir(dir)
	if err == nil && len(remaining) == 0 {
		os.Remove(dir) // best-effort; an empty blueprint dir left behind is harmless
	}

	if r.index != nil {
		if err := r.index.Delete(name); err != nil {
			return WrapErr(ErrGeneral, "removing index entry", "", err)
		}
	}
	return nil
}

// Describe loads and returns the full Instance document for name.
func (r *Registry) Describe(name string) (*Instance, error) {
	path, err := r.Find(name)
	if err != nil {
		return nil, err
	}
	return loadInstance(path)
}

// Save persists inst to its canonical document path (creating the
// blueprint subdirectory if needed) and upserts the registryindex row.
func (r *Registry) Save(blueprint string, inst *Instance) error {
	dir := r.blueprintDir(blueprint)
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return WrapErr(ErrPermission, fmt.Sprintf("creating %s", dir), "check KGSM_ROOT permissions", err)
	}

	path := r.instancePath(blueprint, inst.Name)
	if err := saveInstance(path, inst); err != nil {
		return err
	}

	if r.index != nil {
		if err := r.index.Upsert(toIndexRow(blueprint, inst)); err != nil {
			return WrapErr(ErrGeneral, "updating registry index", "", err)
		}
	}
	return nil
}

// Rebuild recomputes the registryindex cache by walking the canonical
// instances/ tree from scratch.
func (r *Registry) Rebuild() error {
	root := filepath.Join(r.ctx.Root, "instances")
	entries, err := os.ReadDir(root)
	if err != nil {
		if os.IsNotExist(err) {
			return r.index.Rebuild(nil)
		}
		return WrapErr(ErrGeneral, fmt.Sprintf("listing %s", root), "", err)
	}

	var rows []registryindex.Row
	for _, e := range entries {
		if !e.IsDir() {
			continue
		}
		blueprint := e.Name()
		names, err := r.listDir(filepath.Join(root, blueprint))
		if err != nil {
			return err
		}
		for _, name := range names {
			inst, err := loadInstance(r.instancePath(blueprint, name))
			if err != nil {
				return err
			}
			rows = append(rows, toIndexRow(blueprint, inst))
		}
	}
	return r.index.Rebuild(rows)
}

func toIndexRow(blueprint string, inst *Instance) registryindex.Row {
	return registryindex.Row{
		Name:                     inst.Name,
		Blueprint:                blueprint,
		Runtime:                  string(inst.Runtime),
		LifecycleManager:         string(inst.LifecycleManager),
		WorkingDir:               inst.WorkingDir,
		InstalledVersion:         inst.InstalledVersion,
		EnableSystemd:            inst.EnableSystemd,
		EnableFirewallManagement: inst.EnableFirewallManagement,
		EnableCommandShortcuts:   inst.EnableCommandShortcuts,
		EnablePortForwarding:     inst.EnablePortForwarding,
		Status:                   "unknown",
	}
}

// isInstanceActive implements spec.md §4.8's status derivation: a systemd
// is-active query when lifecycle_manager==systemd, else a PID-file
// existence check.
func isInstanceActive(ctx context.Context, i *Instance, systemdOps SystemdOps, fileOps FileOps) bool {
	if i.LifecycleManager == LifecycleSystemd && systemdOps != nil {
		unit := filepath.Base(i.SystemdServiceFile)
		active, err := systemdOps.IsActive(ctx, unit)
		return err == nil && active
	}
	if fileOps != nil {
		_, err := fileOps.Lstat(i.PIDFile)
		return err == nil
	}
	_, err := os.Stat(i.PIDFile)
	return err == nil
}
