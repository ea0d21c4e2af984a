// Package process drives url() rewriting of CSS files found on disk: it
// discovers inputs, locates their source maps, runs transformer on a worker
// pool and writes results.
package process

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	rtdebug "runtime/debug"
	"time"

	"github.com/panjf2000/ants/v2"
	"github.com/spf13/afero"
	cli "github.com/urfave/cli/v3"
	"go.uber.org/multierr"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"resolveurl/rewrite"
	"resolveurl/sourcemap"
	"resolveurl/state"
	"resolveurl/utils/debug"
)

// Flags returns command line flags of rewrite subcommand. Values left unset
// fall back to the configuration.
func Flags() []cli.Flag {
	return []cli.Flag{
		&cli.BoolFlag{Name: "absolute", Aliases: []string{"abs"}, Usage: "rewrite urls to absolute file paths instead of module requests"},
		&cli.BoolFlag{Name: "source-map", Aliases: []string{"sm"}, Usage: "produce outbound source map adjusted to rewritten urls"},
		&cli.BoolFlag{Name: "fail", Usage: "treat recoverable errors as fatal"},
		&cli.BoolFlag{Name: "silent", Usage: "do not report recoverable errors"},
		&cli.BoolFlag{Name: "keep-query", Aliases: []string{"kq"}, Usage: "keep query and hash of original urls"},
		&cli.IntFlag{Name: "attempts", Usage: "search up to `N` parent directories of the original file for assets"},
		&cli.StringFlag{Name: "root", Usage: "search assets under `DIR` as a last resort"},
		&cli.IntFlag{Name: "workers", Aliases: []string{"w"}, Usage: "process up to `N` files at the same time (0 - number of CPUs)"},
		&cli.StringFlag{Name: "project", Usage: "resolve bundler protocol sources (webpack:///) against `DIR`"},
		&cli.BoolFlag{Name: "overwrite", Aliases: []string{"ow"}, Usage: "overwrite existing files, required to rewrite files in place"},
	}
}

// Run is an action of rewrite subcommand.
func Run(ctx context.Context, cmd *cli.Command) (err error) {
	if err := ctx.Err(); err != nil {
		return err
	}

	env := state.EnvFromContext(ctx)
	log := env.Log.Named("process")

	src := cmd.Args().Get(0)
	if len(src) == 0 {
		return errors.New("no input source has been specified")
	}
	if src, err = filepath.Abs(src); err != nil {
		return err
	}

	dst := cmd.Args().Get(1)
	if len(dst) > 0 {
		if dst, err = filepath.Abs(dst); err != nil {
			return err
		}
	}
	if cmd.Args().Len() > 2 {
		log.Warn("Malformed command line, too many destinations", zap.Strings("ignoring", cmd.Args().Slice()[2:]))
	}

	applyFlags(env, cmd)
	if len(dst) == 0 && !env.Overwrite {
		return errors.New("no destination specified, use --overwrite to rewrite files in place")
	}

	log.Info("Processing starting", zap.String("source", src), zap.String("destination", dst))
	defer func(start time.Time) {
		log.Info("Processing completed", zap.Duration("elapsed", time.Since(start)))
	}(time.Now())

	return process(ctx, src, dst, log)
}

// applyFlags merges configured defaults with command line, flags which were
// explicitly set win.
func applyFlags(env *state.LocalEnv, cmd *cli.Command) {
	opts := env.Cfg.Resolve.ToOptions()
	for name, field := range map[string]*bool{
		"absolute":   &opts.Absolute,
		"source-map": &opts.SourceMap,
		"fail":       &opts.Fail,
		"silent":     &opts.Silent,
		"keep-query": &opts.KeepQuery,
	} {
		if cmd.IsSet(name) {
			*field = cmd.Bool(name)
		}
	}
	if cmd.IsSet("attempts") {
		opts.Attempts = cmd.Int("attempts")
	}
	if cmd.IsSet("root") {
		opts.Root = cmd.String("root")
	}
	env.Options = opts

	env.Workers = env.Cfg.Resolve.Workers
	if cmd.IsSet("workers") {
		env.Workers = cmd.Int("workers")
	}
	if env.Workers <= 0 {
		env.Workers = runtime.NumCPU()
	}
	env.Overwrite = cmd.Bool("overwrite")
	env.ProjectDir = cmd.String("project")
}

// process handles the core rewriting logic independently of CLI framework.
// Files are processed on a worker pool, failure of one file does not stop
// the others, all errors are reported together.
func process(ctx context.Context, src, dst string, log *zap.Logger) error {
	env := state.EnvFromContext(ctx)

	pattern := "**/*.css"
	if env.Cfg != nil && len(env.Cfg.Resolve.Pattern) > 0 {
		pattern = env.Cfg.Resolve.Pattern
	}
	inputs, err := discover(src, pattern)
	if err != nil {
		return err
	}

	projectDir := env.ProjectDir
	if len(projectDir) > 0 {
		if projectDir, err = filepath.Abs(projectDir); err != nil {
			return err
		}
	}

	tr, err := rewrite.New(env.Options, afero.NewOsFs(), log)
	if err != nil {
		return fmt.Errorf("unable to prepare transformer: %w", err)
	}

	workers := env.Workers
	if workers <= 0 {
		workers = runtime.NumCPU()
	}
	pool, err := ants.NewPool(workers)
	if err != nil {
		return fmt.Errorf("unable to create worker pool: %w", err)
	}
	defer pool.Release()

	errs := make([]error, len(inputs))
	g, gctx := errgroup.WithContext(ctx)
	for i, in := range inputs {
		g.Go(func() error {
			errCh := make(chan error, 1)
			if err := pool.Submit(func() {
				errCh <- processFile(gctx, tr, in, dst, projectDir, log)
			}); err != nil {
				return fmt.Errorf("unable to submit task: %w", err)
			}
			err := <-errCh
			if err != nil && gctx.Err() != nil {
				// cancellation stops everything
				return err
			}
			if err != nil {
				log.Error("Unable to process file", zap.String("file", in.path), zap.Error(err))
			}
			errs[i] = err
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	return multierr.Combine(errs...)
}

// processFile rewrites single CSS file and writes it (and its source map when
// requested) to the destination.
func processFile(ctx context.Context, tr *rewrite.Transformer, in input, dst, projectDir string, log *zap.Logger) (rerr error) {
	env := state.EnvFromContext(ctx)
	outPath := in.output(dst)

	log.Debug("Rewriting starting", zap.String("from", in.path))
	defer func(start time.Time) {
		if r := recover(); r != nil {
			log.Error("Rewriting ended with panic",
				zap.Any("panic", r), zap.Duration("elapsed", time.Since(start)), zap.String("to", outPath), zap.ByteString("stack", rtdebug.Stack()))
			rerr = fmt.Errorf("rewriting panic: %v", r)
		} else if rerr == nil {
			log.Debug("Rewriting completed", zap.Duration("elapsed", time.Since(start)), zap.String("to", outPath))
		}
	}(time.Now())

	if err := ctx.Err(); err != nil {
		return err
	}

	data, err := os.ReadFile(in.path)
	if err != nil {
		return fmt.Errorf("unable to read %s: %w", in.path, err)
	}

	ref, mapData, err := findMap(in.path, data)
	if err != nil {
		log.Warn("Ignoring source map", zap.String("file", in.path), zap.Error(err))
		ref, mapData = mapRef{}, nil
	}

	if env.Rpt != nil {
		for _, p := range []string{in.path, ref.path} {
			if len(p) == 0 {
				continue
			}
			if err := env.Rpt.StoreCopy(filepath.Join("inputs", filepath.Dir(in.rel()), filepath.Base(p)), p); err != nil {
				log.Warn("Unable to store copy in report", zap.String("file", p), zap.Error(err))
			}
		}
	}

	var (
		inbound    any
		sourceRoot string // of relocated map
		relocated  bool
	)
	if mapData != nil {
		inbound = mapData
		if filepath.Dir(outPath) != filepath.Dir(in.path) {
			// map sources are relative to the input, result lives elsewhere,
			// broken maps go as is and are reported by transformer
			if m, root, err := relocate(mapData, filepath.Dir(in.path), projectDir); err == nil {
				inbound, sourceRoot, relocated = m, root, true
			}
		}
	}

	res, err := tr.Transform(ctx, rewrite.Input{
		CSS:          data,
		Map:          inbound,
		ResourcePath: outPath,
		ProjectDir:   projectDir,
	})
	if err != nil {
		return fmt.Errorf("unable to rewrite %s: %w", in.path, err)
	}
	if env.Rpt != nil {
		env.Rpt.StoreData(filepath.ToSlash(filepath.Join("traces", in.rel()))+".txt", []byte(debug.Rewrites(in.path, res)))
	}

	if res.Map != nil && relocated && len(sourceRoot) > 0 {
		if res.Map, err = restoreSourceRoot(res.Map, filepath.Dir(outPath), projectDir, sourceRoot); err != nil {
			return fmt.Errorf("unable to restore sourceRoot for %s: %w", outPath, err)
		}
	}

	out, mapPath, mapOut := res.CSS, "", []byte(nil)
	if res.Map != nil {
		if out, mapPath, mapOut, err = attachMap(res.CSS, ref, res.Map, outPath); err != nil {
			return err
		}
	}

	if err := prepareOutput(outPath, in.path, env.Overwrite, log); err != nil {
		return err
	}
	if err := os.WriteFile(outPath, out, 0644); err != nil {
		return fmt.Errorf("unable to write %s: %w", outPath, err)
	}
	if len(mapPath) > 0 {
		if err := os.WriteFile(mapPath, mapOut, 0644); err != nil {
			return fmt.Errorf("unable to write %s: %w", mapPath, err)
		}
	}
	if env.Rpt != nil {
		if err := env.Rpt.StoreCopy(filepath.Join("outputs", filepath.Base(outPath)), outPath); err != nil {
			log.Warn("Unable to store copy in report", zap.String("file", outPath), zap.Error(err))
		}
	}
	log.Info("File processed", zap.String("file", outPath), zap.Int("rewritten", res.Rewritten), zap.Int("warnings", len(res.Warnings)))
	return nil
}

// relocate makes map sources absolute against the directory of the input
// file, so they survive the move of the result. Inbound sourceRoot is
// returned to be put back later.
func relocate(data []byte, inputDir, projectDir string) (*sourcemap.Map, string, error) {
	m, err := sourcemap.Decode(data)
	if err != nil {
		return nil, "", err
	}
	codec, err := sourcemap.NewCodec(inputDir, projectDir, m.SourceRoot)
	if err != nil {
		return nil, "", err
	}
	abs, err := m.ToAbsolute(codec)
	if err != nil {
		return nil, "", err
	}
	return abs, m.SourceRoot, nil
}

// restoreSourceRoot re-expresses sources of outbound map (relative to output
// directory) relative to output directory joined with sourceRoot and sets
// sourceRoot back.
func restoreSourceRoot(m *sourcemap.Map, outDir, projectDir, sourceRoot string) (*sourcemap.Map, error) {
	plain, err := sourcemap.NewCodec(outDir, projectDir, "")
	if err != nil {
		return nil, err
	}
	abs, err := m.ToAbsolute(plain)
	if err != nil {
		return nil, err
	}
	rooted, err := sourcemap.NewCodec(outDir, projectDir, sourceRoot)
	if err != nil {
		return nil, err
	}
	return abs.ToRelative(rooted), nil
}

func prepareOutput(outPath, inPath string, overwrite bool, log *zap.Logger) error {
	if _, err := os.Stat(outPath); err == nil {
		if !overwrite {
			return fmt.Errorf("output file already exists: %s", outPath)
		}
		if outPath != inPath {
			log.Warn("Overwriting existing file", zap.String("file", outPath))
		}
		return nil
	} else if !os.IsNotExist(err) {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(outPath), 0755); err != nil {
		return fmt.Errorf("unable to create output directory: %w", err)
	}
	return nil
}
