// Command kgsm is the control-plane's command surface (spec.md §6): a thin
// Kong-driven frontend over the kgsm package's Context/Orchestrator/Registry.
package main

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/alecthomas/kong"
	kongyaml "github.com/alecthomas/kong-yaml"
	kongcompletion "github.com/jotaen/kong-completion"
	"github.com/mattn/go-isatty"
	"gopkg.in/natefinch/lumberjack.v2"

	"github.com/TheKrystalShip/kgsm"
)

// Context is threaded to every command's Run, mirroring cmd/sand/main.go's
// Context struct: global flags plus the one constructed collaborator every
// verb needs.
type Context struct {
	JSON       bool
	Interactive bool
	kgsm       *kgsm.Context
}

// CLI is the top-level Kong grammar. Every verb from spec.md §6 is a field
// tagged cmd:""; __watch is the detached readiness-watcher's own re-exec
// target (readiness.go's Start) and is hidden from --help.
type CLI struct {
	Root string `env:"KGSM_ROOT" default:"~/.kgsm" placeholder:"<dir>" help:"control-plane root directory (KGSM_ROOT)"`
	JSON bool   `help:"emit machine-readable JSON instead of interactive text (spec.md §7: never embeds hints)"`

	Create         CreateCmd         `cmd:"" help:"materialize a new instance document from a blueprint"`
	Start          StartCmd          `cmd:"" help:"start an instance"`
	Stop           StopCmd           `cmd:"" help:"stop an instance"`
	Restart        RestartCmd        `cmd:"" help:"stop then start an instance"`
	Status         StatusCmd         `cmd:"" help:"report whether an instance is active"`
	Update         UpdateCmd         `cmd:"" help:"run the 7-step update pipeline against an instance"`
	CreateBackup   CreateBackupCmd   `cmd:"create-backup" help:"create a backup of an instance's install directory"`
	RestoreBackup  RestoreBackupCmd  `cmd:"restore-backup" help:"restore an instance's install directory from a backup"`
	ListBackups    ListBackupsCmd    `cmd:"list-backups" help:"list an instance's backups, newest first"`
	Modify         ModifyCmd         `cmd:"" help:"enable or disable one of an instance's integrations"`
	Instances      InstancesCmd      `cmd:"" help:"list, describe or locate instances"`
	Blueprints     BlueprintsCmd     `cmd:"" help:"list, describe or locate blueprints"`
	Config         ConfigCmd         `cmd:"" help:"inspect or edit the process-wide config store"`
	Events         EventsCmd         `cmd:"" help:"inspect dispatcher status or emit a test event"`
	Version        VersionCmd        `cmd:"" help:"print version information"`
	Watch          WatchCmd          `cmd:"__watch" hidden:"" help:"run the readiness watcher for a single instance (internal)"`
}

const description = `KGSM: a control plane for materializing and operating game-server
instances from blueprints on Linux hosts.`

func main() {
	var cli CLI

	parser, err := kong.New(&cli,
		kong.Configuration(kongyaml.Loader, filepath.Join(kgsmConfigHome(), "cli.yaml")),
		kong.Description(description),
		kong.UsageOnError(),
	)
	if err != nil {
		fmt.Fprintf(os.Stderr, "building CLI parser: %v\n", err)
		os.Exit(int(kgsm.ErrGeneral))
	}

	// The teacher's go.mod carries jotaen/kong-completion and
	// posener/complete without ever registering a completion command (a
	// CLI with no such affordance); this wires both as the `completion`
	// subcommand and per-flag predictors, documented in DESIGN.md as new
	// wiring rather than adaptation.
	kongcompletion.Register(parser,
		kongcompletion.WithPredictor("instance", instancePredictor(&cli)),
		kongcompletion.WithPredictor("blueprint", blueprintPredictor(&cli)),
	)

	kctx, err := parser.Parse(os.Args[1:])
	parser.FatalIfErrorf(err)

	initSlog(kctx)

	// version never needs the full Context tree, so it skips
	// kgsm.NewContext's directory/store/index setup; every other verb
	// (__watch included, which reads the registry) gets a Context.
	var dctx *kgsm.Context
	if kctx.Command() != "version" {
		dctx, err = kgsm.NewContext(cli.Root)
		if err != nil {
			fmt.Fprintf(os.Stderr, "%s\n", err)
			os.Exit(int(kgsm.Classify(err)))
		}
		defer dctx.Close()
	}

	runErr := kctx.Run(&Context{
		JSON:        cli.JSON,
		Interactive: isatty.IsTerminal(os.Stdout.Fd()),
		kgsm:        dctx,
	})
	if runErr != nil {
		reportError(cli.JSON, runErr)
		os.Exit(int(kgsm.Classify(runErr)))
	}
}

// reportError prints spec.md §7's single-line reason+hint in interactive
// mode, or a bare JSON error object when --json is set (machine-readable
// surfaces never embed hints).
func reportError(jsonMode bool, err error) {
	if jsonMode {
		fmt.Fprintf(os.Stderr, `{"error":%q,"code":%d}`+"\n", err.Error(), kgsm.Classify(err).ExitCode())
		return
	}
	if hint := kgsm.Hint(err); hint != "" {
		fmt.Fprintf(os.Stderr, "error: %s\nhint: %s\n", err, hint)
		return
	}
	fmt.Fprintf(os.Stderr, "error: %s\n", err)
}

// initSlog logs to stderr and, via lumberjack, to a rotating file under the
// CLI's config home — otherwise a dormant dependency in the teacher's own
// go.mod (see DESIGN.md).
func initSlog(kctx *kong.Context) {
	level := slog.LevelInfo
	if os.Getenv("KGSM_DEBUG") != "" {
		level = slog.LevelDebug
	}

	rotate := &lumberjack.Logger{
		Filename:   filepath.Join(kgsmConfigHome(), "kgsm.log"),
		MaxSize:    10,
		MaxBackups: 3,
		MaxAge:     28,
	}
	handler := slog.NewTextHandler(io.MultiWriter(os.Stderr, rotate), &slog.HandlerOptions{Level: level})
	slog.SetDefault(slog.New(handler))
}

func kgsmConfigHome() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return "."
	}
	return filepath.Join(home, ".config", "kgsm")
}
