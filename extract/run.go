// Package extract unpacks story pack into a directory of plain media files
// and a story description.
package extract

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"slices"
	"time"

	"github.com/gosimple/slug"
	"github.com/h2non/filetype"
	"github.com/h2non/filetype/types"
	cli "github.com/urfave/cli/v3"
	"go.uber.org/multierr"
	"go.uber.org/zap"
	yaml "gopkg.in/yaml.v3"

	"sdst/config"
	"sdst/pack"
	"sdst/state"
	"sdst/stream"
	"sdst/utils/images"
)

// StoryName is the name of extracted story description.
const StoryName = "story.yaml"

// sniffLen is how much of the audio filetype needs to recognize it.
const sniffLen = 262

func Run(ctx context.Context, cmd *cli.Command) (err error) {
	if err := ctx.Err(); err != nil {
		return err
	}

	env := state.EnvFromContext(ctx)
	log := env.Log.Named("extract")

	src := cmd.Args().Get(0)
	if len(src) == 0 {
		return errors.New("no pack has been specified")
	}
	if src, err = filepath.Abs(src); err != nil {
		return err
	}

	dst := cmd.Args().Get(1)
	if len(dst) == 0 {
		if dst, err = os.Getwd(); err != nil {
			return fmt.Errorf("unable to get working directory: %w", err)
		}
	}
	if dst, err = filepath.Abs(dst); err != nil {
		return err
	}
	if cmd.Args().Len() > 2 {
		log.Warn("Malformed command line, too many destinations", zap.Strings("ignoring", cmd.Args().Slice()[2:]))
	}

	env.Overwrite = cmd.Bool("overwrite")

	r, err := env.PackReader("pack")
	if err != nil {
		return err
	}

	log.Info("Extraction starting", zap.String("source", src), zap.String("destination", dst))
	defer func(start time.Time) {
		log.Info("Extraction completed", zap.Duration("elapsed", time.Since(start)))
	}(time.Now())

	res, err := extract(ctx, r, src, dst, &env.Cfg.Extract, env.Overwrite, log)
	if err != nil {
		return err
	}
	log.Info("Pack extracted", zap.String("to", res.Dir), zap.Int("images", res.Images), zap.Int("sounds", res.Sounds))
	return nil
}

// Result summarizes extraction.
type Result struct {
	Dir    string
	Images int
	Sounds int
}

type (
	transitionEntry struct {
		Action   int   `yaml:"action"`
		Selected int   `yaml:"selected"`
		Options  []int `yaml:"options,flow"`
	}

	stageEntry struct {
		Index    int                  `yaml:"index"`
		UUID     string               `yaml:"uuid"`
		Kind     string               `yaml:"kind"`
		Image    string               `yaml:"image,omitempty"`
		Audio    string               `yaml:"audio,omitempty"`
		Controls pack.ControlSettings `yaml:"controls"`
		Ok       *transitionEntry     `yaml:"ok,omitempty"`
		Home     *transitionEntry     `yaml:"home,omitempty"`
	}

	storyEntry struct {
		UUID            string       `yaml:"uuid"`
		Version         int16        `yaml:"version"`
		NightMode       bool         `yaml:"night_mode"`
		FactoryDisabled bool         `yaml:"factory_disabled"`
		Unreachable     []int        `yaml:"unreachable,omitempty,flow"`
		Stages          []stageEntry `yaml:"stages"`
	}
)

// extractor writes assets of a single pack.
type extractor struct {
	folder string
	dir    string
	cfg    *config.ExtractConfig
	log    *zap.Logger

	images  map[*pack.ImageAsset]string
	sounds  map[string]string // asset path -> file name
	names   map[string]string // file name -> asset path
	actions map[*pack.ActionNode]int
}

func extract(ctx context.Context, r *pack.Reader, folder, dst string, cfg *config.ExtractConfig, overwrite bool, log *zap.Logger) (*Result, error) {
	p, err := r.Read(folder)
	if err != nil {
		return nil, err
	}

	name, err := config.OutputName(p.UUID)
	if err != nil {
		return nil, err
	}
	dir := filepath.Join(dst, name)
	if _, err := os.Stat(dir); err == nil {
		if !overwrite {
			return nil, fmt.Errorf("output directory '%s' already exists", dir)
		}
		log.Warn("Output directory already exists, overwriting", zap.String("dir", dir))
	}
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("unable to create output directory: %w", err)
	}

	e := &extractor{
		folder:  folder,
		dir:     dir,
		cfg:     cfg,
		log:     log.With(zap.String("pack", p.UUID)),
		images:  make(map[*pack.ImageAsset]string),
		sounds:  make(map[string]string),
		names:   make(map[string]string),
		actions: make(map[*pack.ActionNode]int),
	}
	for i, a := range p.ActionNodes() {
		e.actions[a] = i
	}

	story := storyEntry{
		UUID:            p.UUID,
		Version:         p.Version,
		NightMode:       p.NightModeAvailable,
		FactoryDisabled: p.FactoryDisabled,
		Unreachable:     p.Unreachable(),
		Stages:          make([]stageEntry, 0, len(p.StageNodes)),
	}
	for i, s := range p.StageNodes {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		se := stageEntry{
			Index:    i,
			UUID:     s.UUID,
			Kind:     s.Kind().String(),
			Controls: s.Controls,
			Ok:       e.transition(p, s.OkTransition),
			Home:     e.transition(p, s.HomeTransition),
		}
		if s.Image != nil {
			if se.Image, err = e.image(len(e.images), s.Image); err != nil {
				return nil, fmt.Errorf("stage %d: %w", i, err)
			}
		}
		if s.Audio != nil {
			if se.Audio, err = e.audio(s.Audio); err != nil {
				return nil, fmt.Errorf("stage %d: %w", i, err)
			}
		}
		story.Stages = append(story.Stages, se)
	}

	buf := new(bytes.Buffer)
	enc := yaml.NewEncoder(buf)
	enc.SetIndent(2)
	if err := enc.Encode(&story); err != nil {
		return nil, fmt.Errorf("unable to encode story: %w", err)
	}
	if err := enc.Close(); err != nil {
		return nil, fmt.Errorf("unable to encode story: %w", err)
	}
	if err := os.WriteFile(filepath.Join(dir, StoryName), buf.Bytes(), 0644); err != nil {
		return nil, fmt.Errorf("unable to write story: %w", err)
	}
	return &Result{Dir: dir, Images: len(e.images), Sounds: len(e.sounds)}, nil
}

func (e *extractor) transition(p *pack.StoryPack, t *pack.Transition) *transitionEntry {
	if t == nil {
		return nil
	}
	te := &transitionEntry{Action: e.actions[t.ActionNode()], Selected: int(t.OptionIndex)}
	for _, opt := range t.ActionNode().Options {
		te.Options = append(te.Options, p.Index(opt))
	}
	return te
}

// image stores image asset once, returning its file name.
func (e *extractor) image(n int, img *pack.ImageAsset) (string, error) {
	if name, ok := e.images[img]; ok {
		return name, nil
	}
	opts := images.Options{
		Format:      e.cfg.Images.Format,
		ScaleFactor: e.cfg.Images.ScaleFactor,
		JPEGQuality: e.cfg.Images.JPEGQuality,
		Grayscale:   e.cfg.Images.Grayscale,
	}
	conv, err := images.Convert(img.Data, opts, e.log)
	if err != nil {
		return "", err
	}
	name := fmt.Sprintf("image-%03d.%s", n, conv.Ext)
	if err := os.WriteFile(filepath.Join(e.dir, name), conv.Data, 0644); err != nil {
		return "", fmt.Errorf("unable to write image: %w", err)
	}
	e.log.Debug("Image extracted", zap.String("file", name), zap.String("mime", conv.MIMEType),
		zap.Int("width", conv.Width), zap.Int("height", conv.Height), zap.Bool("converted", conv.Changed))
	e.images[img] = name
	return name, nil
}

// audio decrypts audio asset once, returning its file name.
func (e *extractor) audio(a *pack.AudioAsset) (name string, err error) {
	if name, ok := e.sounds[a.Path]; ok {
		return name, nil
	}

	rs := stream.NewReadSeeker(a.Open())
	defer func() { err = multierr.Append(err, rs.Close()) }()

	head := make([]byte, sniffLen)
	n, err := io.ReadFull(rs, head)
	if err != nil && !errors.Is(err, io.EOF) && !errors.Is(err, io.ErrUnexpectedEOF) {
		return "", fmt.Errorf("unable to read audio '%s': %w", a.Path, err)
	}
	head = head[:n]

	rel, rerr := filepath.Rel(filepath.Join(e.folder, pack.SoundFolder), a.Path)
	if rerr != nil {
		rel = filepath.Base(a.Path)
	}
	name = e.uniqueName(slug.Make(filepath.ToSlash(rel)), e.audioExt(head, a.MIMEType), a.Path)

	f, err := os.Create(filepath.Join(e.dir, name))
	if err != nil {
		return "", fmt.Errorf("unable to create audio file: %w", err)
	}
	defer func() { err = multierr.Append(err, f.Close()) }()

	size, err := io.Copy(f, io.MultiReader(bytes.NewReader(head), rs))
	if err != nil {
		return "", fmt.Errorf("unable to extract audio '%s': %w", a.Path, err)
	}
	e.log.Debug("Audio extracted", zap.String("file", name), zap.Int64("size", size))
	e.sounds[a.Path] = name
	return name, nil
}

// uniqueName keeps audio file names apart when different asset paths slug
// to the same name, adding numeric suffix.
func (e *extractor) uniqueName(base, ext, path string) string {
	name := base + ext
	for i := 1; ; i++ {
		if owner, ok := e.names[name]; !ok || owner == path {
			break
		}
		name = fmt.Sprintf("%s-%d%s", base, i, ext)
	}
	e.names[name] = path
	return name
}

// audioExt picks file extension: configured one, detected from content or
// derived from declared MIME type, in that order.
func (e *extractor) audioExt(head []byte, mime string) string {
	if len(e.cfg.AudioExt) > 0 {
		return e.cfg.AudioExt
	}
	if kind, err := filetype.Match(head); err == nil && kind != filetype.Unknown {
		return "." + kind.Extension
	}
	var exts []string
	filetype.Types.Range(func(k, v any) bool {
		if t, ok := v.(types.Type); ok && t.MIME.Value == mime {
			exts = append(exts, k.(string))
		}
		return true
	})
	if len(exts) == 0 {
		return ".bin"
	}
	slices.Sort(exts)
	return "." + exts[0]
}
