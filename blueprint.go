package kgsm

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/TheKrystalShip/kgsm/composeports"
)

// Runtime classifies how an instance's process is actually run.
type Runtime string

const (
	RuntimeNative    Runtime = "native"
	RuntimeContainer Runtime = "container"
)

// LifecycleManager classifies how an instance's process is supervised.
type LifecycleManager string

const (
	LifecycleStandalone LifecycleManager = "standalone"
	LifecycleSystemd    LifecycleManager = "systemd"
)

// Blueprint is the immutable template an Instance is materialized from
// (spec.md §3).
type Blueprint struct {
	Name                   string
	Runtime                Runtime
	Ports                  string
	ExecutableFile         string
	ExecutableSubdirectory string
	ExecutableArguments    string
	LevelName              string
	StopCommand            string
	SaveCommand            string
	StartupSuccessRegex    string
	SteamAppID             string
	IsSteamAccountRequired bool
	Platform               string
	ComposeFile            string
	SourcePath             string
}

// BlueprintResolver locates blueprints across the default/custom source
// directories and classifies/parses them (spec.md §4.2).
type BlueprintResolver struct {
	ctx *Context
}

func newBlueprintResolver(ctx *Context) *BlueprintResolver {
	return &BlueprintResolver{ctx: ctx}
}

func (r *BlueprintResolver) dirs() []string {
	return []string{
		filepath.Join(r.ctx.Root, "blueprints", "custom"),
		filepath.Join(r.ctx.Root, "blueprints", "default"),
	}
}

// Find returns the first matching blueprint source path for name, trying
// custom/<name>.bp, default/<name>.bp, custom/<name>.docker-compose.yml,
// default/<name>.docker-compose.yml in that order, per spec.md §4.2.
func (r *BlueprintResolver) Find(name string) (string, error) {
	custom := filepath.Join(r.ctx.Root, "blueprints", "custom")
	def := filepath.Join(r.ctx.Root, "blueprints", "default")

	candidates := []string{
		filepath.Join(custom, name+".bp"),
		filepath.Join(def, name+".bp"),
		filepath.Join(custom, name+".docker-compose.yml"),
		filepath.Join(def, name+".docker-compose.yml"),
	}
	for _, c := range candidates {
		if _, err := os.Stat(c); err == nil {
			return c, nil
		}
	}
	return "", WrapErr(ErrNotFound, fmt.Sprintf("blueprint %q not found", name), "check `kgsm blueprints --list`", nil)
}

// List enumerates blueprint base names (extension stripped) across both
// source directories, deduplicated and lexicographically sorted.
func (r *BlueprintResolver) List() ([]string, error) {
	seen := map[string]bool{}
	for _, dir := range r.dirs() {
		entries, err := os.ReadDir(dir)
		if err != nil {
			if os.IsNotExist(err) {
				continue
			}
			return nil, WrapErr(ErrGeneral, fmt.Sprintf("listing blueprints in %s", dir), "", err)
		}
		for _, e := range entries {
			if e.IsDir() {
				continue
			}
			name := e.Name()
			switch {
			case strings.HasSuffix(name, ".bp"):
				seen[strings.TrimSuffix(name, ".bp")] = true
			case strings.HasSuffix(name, ".docker-compose.yml"):
				seen[strings.TrimSuffix(name, ".docker-compose.yml")] = true
			}
		}
	}
	out := make([]string, 0, len(seen))
	for name := range seen {
		out = append(out, name)
	}
	sort.Strings(out)
	return out, nil
}

// Describe resolves name and parses its fields, per spec.md §4.2. A
// blueprint resolved to a *.docker-compose.yml file is a container
// blueprint whose ports are parsed from that file; a *.bp blueprint is
// always native, and no compose file beside it is read.
func (r *BlueprintResolver) Describe(name string) (*Blueprint, error) {
	path, err := r.Find(name)
	if err != nil {
		return nil, err
	}

	if strings.HasSuffix(path, ".docker-compose.yml") {
		return r.describeContainer(name, path)
	}
	return r.describeNative(name, path)
}

func (r *BlueprintResolver) describeNative(name, path string) (*Blueprint, error) {
	doc := Document(path)
	bp := &Blueprint{Name: name, Runtime: RuntimeNative, SourcePath: path}

	get := func(key string) string {
		v, err := doc.Get(key)
		if err != nil {
			return ""
		}
		return v
	}

	bp.Ports = get("ports")
	bp.ExecutableFile = get("executable_file")
	bp.ExecutableSubdirectory = get("executable_subdirectory")
	bp.ExecutableArguments = get("executable_arguments")
	bp.LevelName = get("level_name")
	bp.StopCommand = get("stop_command")
	bp.SaveCommand = get("save_command")
	bp.StartupSuccessRegex = get("startup_success_regex")
	bp.SteamAppID = get("steam_app_id")
	bp.IsSteamAccountRequired = get("is_steam_account_required") == "true"
	bp.Platform = get("platform")
	return bp, nil
}

func (r *BlueprintResolver) describeContainer(name, path string) (*Blueprint, error) {
	portsSpec, err := composeports.ExtractPorts(path)
	if err != nil {
		return nil, WrapErr(ErrFailedSource, fmt.Sprintf("extracting ports from compose descriptor for %q", name), "verify the compose file's `ports:` entries", err)
	}
	return &Blueprint{
		Name:        name,
		Runtime:     RuntimeContainer,
		Ports:       portsSpec,
		ComposeFile: path,
		SourcePath:  path,
	}, nil
}

// interpolateArguments evaluates ExecutableArguments against a restricted
// substitution grammar ("$name" references only, no subshells, no
// arithmetic), per spec.md §9 "captured template".
func interpolateArguments(template string, vars map[string]string) string {
	var out strings.Builder
	i := 0
	for i < len(template) {
		if template[i] == '$' {
			j := i + 1
			for j < len(template) && (isIdentByte(template[j])) {
				j++
			}
			if j > i+1 {
				name := template[i+1 : j]
				if v, ok := vars[name]; ok {
					out.WriteString(v)
				}
				i = j
				continue
			}
		}
		out.WriteByte(template[i])
		i++
	}
	return out.String()
}

func isIdentByte(b byte) bool {
	return b == '_' || (b >= 'a' && b <= 'z') || (b >= 'A' && b <= 'Z') || (b >= '0' && b <= '9')
}
