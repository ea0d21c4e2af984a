package main

import (
	"cmp"
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"runtime"
	"runtime/debug"
	"syscall"

	cli "github.com/urfave/cli/v3"
	"go.uber.org/multierr"
	"go.uber.org/zap"

	"resolveurl/config"
	"resolveurl/misc"
	"resolveurl/process"
	"resolveurl/state"
)

// setup runs once flags are parsed: loads configuration, opens debug report
// and builds logger.
func setup(ctx context.Context, cmd *cli.Command) (context.Context, error) {
	if cmd.NArg() == 0 {
		// help will be shown
		return ctx, nil
	}

	var err error
	env := state.EnvFromContext(ctx)

	cfgPath := cmd.String("config")
	if env.Cfg, err = config.LoadConfiguration(cfgPath); err != nil {
		return ctx, fmt.Errorf("unable to load configuration: %w", err)
	}
	if cmd.Bool("debug") {
		if env.Rpt, err = env.Cfg.Reporting.Prepare(); err != nil {
			return ctx, fmt.Errorf("unable to create debug report: %w", err)
		}
		if len(cfgPath) > 0 {
			if data, err := config.Dump(env.Cfg); err == nil {
				env.Rpt.StoreData("config/"+filepath.Base(cfgPath), data)
			}
		}
	}
	if env.Log, err = env.Cfg.Logging.Prepare(env.Rpt); err != nil {
		return ctx, fmt.Errorf("unable to create logger: %w", err)
	}
	env.RedirectStdLog()

	env.Log.Debug("Started",
		zap.Strings("args", os.Args), zap.String("ver", misc.GetVersion()),
		zap.String("runtime", runtime.Version()), zap.String("hash", misc.GetGitHash()))
	if env.Rpt != nil {
		env.Log.Info("Debug report requested", zap.String("location", env.Rpt.Name()))
	}
	if len(cfgPath) == 0 {
		env.Log.Info("No configuration file, using defaults")
	}
	return ctx, nil
}

// teardown flushes logs, writes debug report and drops empty panic log.
func teardown(ctx context.Context, cmd *cli.Command) (err error) {
	env := state.EnvFromContext(ctx)

	if env.Log != nil {
		env.Log.Debug("Finished", zap.Duration("elapsed", env.Uptime()), zap.Strings("args", cmd.Args().Slice()))
	}
	env.RestoreStdLog()

	// from here on errors go to stderr only
	if env.Rpt != nil {
		if er := env.Rpt.Close(); er != nil {
			err = multierr.Append(err, fmt.Errorf("unable to write debug report: %w", er))
		}
	}
	if env.Cfg == nil || len(env.Cfg.Logging.FileLogger.Destination) == 0 {
		return err
	}
	debug.SetCrashOutput(nil, debug.CrashOptions{})
	panicLog := filepath.Join(filepath.Dir(env.Cfg.Logging.FileLogger.Destination), misc.GetAppName()+"-panic.log")
	if fi, er := os.Stat(panicLog); er == nil && fi.Size() == 0 {
		if er := os.Remove(panicLog); er != nil {
			err = multierr.Append(err, fmt.Errorf("unable to remove %s: %w", panicLog, er))
		}
	}
	return err
}

// set when error was already logged, so main does not print it again
var errLogged bool

func logError(ctx context.Context, _ *cli.Command, err error) {
	if log := state.EnvFromContext(ctx).Log; log != nil {
		log.Error("Failed", zap.Error(err))
		errLogged = true
	}
}

func passUsageError(_ context.Context, _ *cli.Command, err error, _ bool) error {
	return err
}

func unknownCommand(ctx context.Context, _ *cli.Command, name string) {
	if log := state.EnvFromContext(ctx).Log; log != nil {
		log.Warn("Unknown command", zap.String("command", name))
	}
}

const rewriteHelp = `%s
SOURCE:
    CSS to process, one of:
        "[path]file.css"     - single file
        "[path]directory"    - files under directory matching configured pattern ("**/*.css" by default)
        "[path]**/*.css"     - doublestar pattern

    Inbound source map comes from the last sourceMappingURL comment (map file
    or inline data URI) or from "file.css.map" next to the file. Declarations
    are left alone when there is no map.

DESTINATION:
    directory for results, input directory structure is kept.
    When absent files are rewritten in place, which requires --overwrite.
`

const dumpHelp = `%s
DESTINATION:
    file to write to, STDOUT when absent

Prints configuration in effect: embedded defaults merged with the file given
by --config. Use --default to see embedded defaults only.
`

func newApp() *cli.Command {
	return &cli.Command{
		Name:            misc.GetAppName(),
		Usage:           "rewrites url() statements of compiled CSS relative to original sources using source maps",
		Version:         fmt.Sprintf("%s (%s) : %s", misc.GetVersion(), runtime.Version(), misc.GetGitHash()),
		HideHelpCommand: true,
		Before:          setup,
		After:           teardown,
		OnUsageError:    passUsageError,
		ExitErrHandler:  logError,
		CommandNotFound: unknownCommand,
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "config", Aliases: []string{"c"}, DefaultText: "", Usage: "load configuration from `FILE` (YAML)"},
			&cli.BoolFlag{Name: "debug", Aliases: []string{"d"}, Usage: "log everything and collect inputs, outputs and rewrite traces into report archive"},
		},
		Commands: []*cli.Command{
			{
				Name:               "rewrite",
				Usage:              "Rewrites url() statements in CSS file(s)",
				OnUsageError:       passUsageError,
				Action:             process.Run,
				Flags:              process.Flags(),
				ArgsUsage:          "SOURCE [DESTINATION]",
				CustomHelpTemplate: fmt.Sprintf(rewriteHelp, cli.CommandHelpTemplate),
			},
			{
				Name:               "dumpconfig",
				Usage:              "Prints default or effective configuration (YAML)",
				Flags:              []cli.Flag{&cli.BoolFlag{Name: "default", Usage: "print embedded defaults"}},
				OnUsageError:       passUsageError,
				Action:             dumpConfig,
				ArgsUsage:          "[DESTINATION]",
				CustomHelpTemplate: fmt.Sprintf(dumpHelp, cli.CommandHelpTemplate),
			},
		},
	}
}

func main() {
	// interrupt cancels pending existence checks, files being processed are
	// not written
	ctx, stop := signal.NotifyContext(state.ContextWithEnv(context.Background()), os.Interrupt, syscall.SIGTERM)

	err := newApp().Run(ctx, os.Args)
	stop()
	if err != nil {
		if !errLogged {
			fmt.Fprintf(os.Stderr, "%s: %v\n", misc.GetAppName(), err)
		}
		os.Exit(1)
	}
}

func dumpConfig(ctx context.Context, cmd *cli.Command) (err error) {
	env := state.EnvFromContext(ctx)
	if cmd.Args().Len() > 1 {
		env.Log.Warn("Extra arguments ignored", zap.Strings("args", cmd.Args().Slice()[1:]))
	}

	var (
		data []byte
		kind = "effective"
	)
	if cmd.Bool("default") {
		kind = "default"
		data, err = config.Prepare()
	} else {
		data, err = config.Dump(env.Cfg)
	}
	if err != nil {
		return fmt.Errorf("unable to produce configuration: %w", err)
	}

	dst := cmd.Args().Get(0)
	env.Log.Info("Dumping configuration", zap.String("kind", kind), zap.String("to", cmp.Or(dst, "STDOUT")))
	if len(dst) == 0 {
		_, err = os.Stdout.Write(data)
	} else {
		err = os.WriteFile(dst, data, 0644)
	}
	if err != nil {
		return fmt.Errorf("unable to write configuration: %w", err)
	}
	return nil
}
