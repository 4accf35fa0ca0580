package inspect

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	cli "github.com/urfave/cli/v3"
	"go.uber.org/multierr"
	"go.uber.org/zap"

	"sdst/config"
	"sdst/pack"
	"sdst/state"
)

// forEachPack calls fn for every pack, failure of one pack does not stop
// processing of the rest. Returned error combines all failures.
func forEachPack(ctx context.Context, packs []string, fn func(folder string) error) (err error) {
	for _, folder := range packs {
		if e := ctx.Err(); e != nil {
			return multierr.Append(err, e)
		}
		if e := fn(folder); e != nil {
			err = multierr.Append(err, fmt.Errorf("%s: %w", folder, e))
		}
	}
	return err
}

func packArgs(cmd *cli.Command) ([]string, error) {
	packs := cmd.Args().Slice()
	if len(packs) == 0 {
		return nil, errors.New("no pack has been specified")
	}
	return packs, nil
}

// Info logs summary of every pack.
func Info(ctx context.Context, cmd *cli.Command) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	env := state.EnvFromContext(ctx)
	log := env.Log.Named("info")

	packs, err := packArgs(cmd)
	if err != nil {
		return err
	}
	r, err := env.PackReader("pack")
	if err != nil {
		return err
	}
	return forEachPack(ctx, packs, func(folder string) error {
		return info(r, folder, log)
	})
}

func info(r *pack.Reader, folder string, log *zap.Logger) error {
	meta, err := r.ReadMetadata(folder)
	if err != nil {
		return err
	}
	p, err := r.Read(folder)
	if err != nil {
		return err
	}

	images := make(map[*pack.ImageAsset]struct{})
	var sounds int
	for _, s := range p.StageNodes {
		if s.Image != nil {
			images[s.Image] = struct{}{}
		}
		if s.Audio != nil {
			sounds++
		}
	}

	log.Info("Story pack",
		zap.String("folder", folder),
		zap.String("uuid", meta.UUID),
		zap.String("format", meta.Format),
		zap.Int16("version", meta.Version),
		zap.Bool("night-mode", meta.NightModeAvailable),
		zap.Bool("factory-disabled", p.FactoryDisabled),
		zap.Bool("cleartext", p.Cleartext),
		zap.Int("stages", len(p.StageNodes)),
		zap.Int("actions", len(p.ActionNodes())),
		zap.Int("images", len(images)),
		zap.Int("sounds", sounds),
		zap.Ints("unreachable", p.Unreachable()))
	return nil
}

// List logs metadata of packs found under content root. Broken packs are
// reported and skipped.
func List(ctx context.Context, cmd *cli.Command) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	env := state.EnvFromContext(ctx)
	log := env.Log.Named("list")

	root := cmd.Args().Get(0)
	if len(root) == 0 {
		return errors.New("no content root has been specified")
	}
	if cmd.Args().Len() > 1 {
		log.Warn("Malformed command line, too many content roots", zap.Strings("ignoring", cmd.Args().Slice()[1:]))
	}
	r, err := env.PackReader("pack")
	if err != nil {
		return err
	}
	_, err = list(ctx, r, root, log)
	return err
}

func list(ctx context.Context, r *pack.Reader, root string, log *zap.Logger) ([]*pack.Metadata, error) {
	packs, err := Discover(ctx, root)
	if err != nil {
		return nil, err
	}
	log.Debug("Content root scanned", zap.String("root", root), zap.Int("packs", len(packs)))

	var out []*pack.Metadata
	for _, folder := range packs {
		meta, err := r.ReadMetadata(folder)
		if err != nil {
			log.Warn("Skipping broken pack", zap.String("folder", folder), zap.Error(err))
			continue
		}
		log.Info("Story pack", zap.String("uuid", meta.UUID), zap.Int16("version", meta.Version),
			zap.Bool("night-mode", meta.NightModeAvailable), zap.String("folder", folder))
		out = append(out, meta)
	}
	return out, nil
}

// Repair creates cleartext markers for unencrypted packs missing them.
func Repair(ctx context.Context, cmd *cli.Command) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	env := state.EnvFromContext(ctx)
	log := env.Log.Named("repair")

	packs, err := packArgs(cmd)
	if err != nil {
		return err
	}
	r, err := env.PackReader("pack")
	if err != nil {
		return err
	}
	return forEachPack(ctx, packs, func(folder string) error {
		cleartext, err := r.IsCleartext(folder, true)
		if err != nil {
			return err
		}
		log.Info("Pack checked", zap.String("folder", folder), zap.Bool("cleartext", cleartext))
		return nil
	})
}

// Dump writes pack graph as indented text.
func Dump(ctx context.Context, cmd *cli.Command) (err error) {
	if err := ctx.Err(); err != nil {
		return err
	}
	env := state.EnvFromContext(ctx)
	log := env.Log.Named("dump")

	folder := cmd.Args().Get(0)
	if len(folder) == 0 {
		return errors.New("no pack has been specified")
	}
	dst := cmd.Args().Get(1)
	if cmd.Args().Len() > 2 {
		log.Warn("Malformed command line, too many destinations", zap.Strings("ignoring", cmd.Args().Slice()[2:]))
	}

	r, err := env.PackReader("pack")
	if err != nil {
		return err
	}

	defer func(start time.Time) {
		log.Debug("Dump completed", zap.Duration("elapsed", time.Since(start)))
	}(time.Now())

	var out io.Writer = os.Stdout
	if len(dst) > 0 {
		f, cerr := os.Create(dst)
		if cerr != nil {
			return fmt.Errorf("unable to create destination file '%s': %w", dst, cerr)
		}
		defer func() { err = multierr.Append(err, f.Close()) }()
		out = f
	}
	return dump(r, folder, out, TreeOptions{HeaderBytes: int(cmd.Int("headers"))}, env.Rpt, log)
}

func dump(r *pack.Reader, folder string, out io.Writer, opts TreeOptions, rpt *config.Report, log *zap.Logger) error {
	p, err := r.Read(folder)
	if err != nil {
		return err
	}
	tw := Tree(p, opts)

	if rpt != nil {
		rpt.StoreData(fmt.Sprintf("dump/%s.txt", p.UUID), []byte(tw.String()))
		for _, name := range []string{pack.NodeIndexName, pack.ListIndexName, pack.ImageIndexName, pack.SoundIndexName} {
			if err := rpt.StoreCopy(fmt.Sprintf("pack/%s/%s", p.UUID, name), filepath.Join(folder, name)); err != nil {
				log.Warn("Unable to store pack index in report", zap.String("index", name), zap.Error(err))
			}
		}
	}

	if _, err := tw.WriteTo(out); err != nil {
		return fmt.Errorf("unable to write dump: %w", err)
	}
	return nil
}
