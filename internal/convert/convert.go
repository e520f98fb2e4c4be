// Package convert walks a source tree and packs every recognized asset into
// a mirrored output tree. Per-file failures are logged and counted; they
// never stop a run.
package convert

import (
	"context"
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/zeebo/blake3"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/Faultbox/midgard-assets/internal/config"
	"github.com/Faultbox/midgard-assets/internal/importer"
	"github.com/Faultbox/midgard-assets/pkg/compress"
	"github.com/Faultbox/midgard-assets/pkg/container"
	"github.com/Faultbox/midgard-assets/pkg/encoding"
	"github.com/Faultbox/midgard-assets/pkg/formats"
	"github.com/Faultbox/midgard-assets/pkg/pack"
)

// Canonical output extensions.
const (
	ExtTexture  = ".tx"
	ExtMesh     = ".mesh"
	ExtMaterial = ".mat"
	ExtModel    = ".mdl"
)

// ExtFor returns the canonical extension of a container kind, or "".
func ExtFor(k container.Kind) string {
	switch k {
	case container.KindTexture:
		return ExtTexture
	case container.KindMesh:
		return ExtMesh
	case container.KindMaterial:
		return ExtMaterial
	case container.KindModel:
		return ExtModel
	default:
		return ""
	}
}

// IsOutput reports whether name has one of the canonical extensions.
func IsOutput(name string) bool {
	switch filepath.Ext(name) {
	case ExtTexture, ExtMesh, ExtMaterial, ExtModel:
		return true
	}
	return false
}

// assetNamespace seeds the name-based asset IDs.
var assetNamespace = uuid.NewSHA1(uuid.NameSpaceURL, []byte("midgard-assets"))

// Options control a conversion run.
type Options struct {
	Workers            int
	TextureCompression compress.Mode
	MeshCompression    compress.Mode
	RegenerateNormals  bool
	Incremental        bool
	BaseEffect         string
	MagentaKey         bool
}

// OptionsFromConfig builds Options from the convert section of a config.
func OptionsFromConfig(cfg *config.ConvertConfig) (Options, error) {
	tex, mesh, err := cfg.Modes()
	if err != nil {
		return Options{}, err
	}
	return Options{
		Workers:            cfg.Workers,
		TextureCompression: tex,
		MeshCompression:    mesh,
		RegenerateNormals:  cfg.RegenerateNormals,
		Incremental:        cfg.Incremental,
		BaseEffect:         cfg.BaseEffect,
		MagentaKey:         cfg.MagentaKey,
	}, nil
}

// Result describes the conversion of one source file.
type Result struct {
	Source  string
	Outputs []string
	Skipped bool
	Err     error
}

// Summary totals a run.
type Summary struct {
	Converted int
	Skipped   int
	Failed    int
	Ignored   int // files with no importer
	Outputs   int
	Failures  []Result
	Elapsed   time.Duration
}

func (s *Summary) add(r Result) {
	switch {
	case r.Err != nil:
		s.Failed++
		s.Failures = append(s.Failures, r)
	case r.Skipped:
		s.Skipped++
	default:
		s.Converted++
		s.Outputs += len(r.Outputs)
	}
}

// Converter packs the files of a Source into an output directory.
type Converter struct {
	src  Source
	out  string
	opts Options
	log  *zap.Logger
}

// New creates a Converter. A nil logger discards output.
func New(src Source, outRoot string, opts Options, log *zap.Logger) *Converter {
	if log == nil {
		log = zap.NewNop()
	}
	if opts.Workers < 1 {
		opts.Workers = 1
	}
	if opts.BaseEffect == "" {
		opts.BaseEffect = pack.DefaultEffect
	}
	return &Converter{src: src, out: outRoot, opts: opts, log: log}
}

// Run converts every recognized file of the source. It returns an error
// only when the run itself cannot proceed or ctx is canceled.
func (c *Converter) Run(ctx context.Context) (*Summary, error) {
	start := time.Now()
	files, err := c.src.Files()
	if err != nil {
		return nil, err
	}
	if err := os.MkdirAll(c.out, 0o755); err != nil {
		return nil, fmt.Errorf("%w: %w", container.ErrIO, err)
	}
	c.log.Info("conversion started",
		zap.String("input", c.src.Name()),
		zap.String("output", c.out),
		zap.Int("files", len(files)),
		zap.Int("workers", c.opts.Workers))

	var (
		mu      sync.Mutex
		sum     Summary
		ignored int
	)
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(c.opts.Workers)
	for _, rel := range files {
		if importer.Classify(rel) == importer.SourceUnknown {
			c.log.Debug("no importer", zap.String("file", rel))
			ignored++
			continue
		}
		if gctx.Err() != nil {
			break
		}
		g.Go(func() error {
			r := c.ConvertFile(gctx, rel)
			mu.Lock()
			sum.add(r)
			mu.Unlock()
			return nil
		})
	}
	_ = g.Wait()

	sum.Ignored = ignored
	sum.Elapsed = time.Since(start)
	sort.Slice(sum.Failures, func(i, j int) bool {
		return sum.Failures[i].Source < sum.Failures[j].Source
	})
	c.log.Info("conversion finished",
		zap.Int("converted", sum.Converted),
		zap.Int("skipped", sum.Skipped),
		zap.Int("failed", sum.Failed),
		zap.Int("ignored", sum.Ignored),
		zap.Duration("elapsed", sum.Elapsed))
	return &sum, ctx.Err()
}

// ConvertFile converts one source file and logs the outcome.
func (c *Converter) ConvertFile(ctx context.Context, rel string) Result {
	r := Result{Source: rel}
	if err := ctx.Err(); err != nil {
		r.Err = err
		return r
	}

	r.Outputs, r.Skipped, r.Err = c.convert(rel)

	log := c.log.With(zap.String("file", rel))
	switch {
	case r.Err != nil:
		log.Error("conversion failed", zap.Error(r.Err))
	case r.Skipped:
		log.Debug("up to date")
	default:
		log.Info("converted", zap.Strings("outputs", r.Outputs))
	}
	return r
}

func (c *Converter) convert(rel string) ([]string, bool, error) {
	kind := importer.Classify(rel)
	if kind == importer.SourceUnknown {
		return nil, false, fmt.Errorf("%w: %s", importer.ErrUnsupported, rel)
	}
	data, err := c.src.ReadFile(rel)
	if err != nil {
		return nil, false, fmt.Errorf("%w: %w", container.ErrIO, err)
	}
	hash := sourceHash(data)

	switch kind {
	case importer.SourceScene, importer.SourceRSM:
		return c.convertScene(rel, kind, data, hash)
	case importer.SourceSprite:
		return c.convertSprite(rel, data, hash)
	}
	out := outputPath(rel, ExtTexture)
	if c.upToDate(out, hash) {
		return []string{out}, true, nil
	}
	if err := c.convertImage(rel, out, data, hash); err != nil {
		return nil, false, err
	}
	return []string{out}, false, nil
}

func (c *Converter) convertImage(rel, out string, data []byte, hash string) error {
	pic, err := importer.DecodeImage(rel, data, importer.ImageOptions{MagentaKey: c.opts.MagentaKey})
	if err != nil {
		return err
	}
	cont, err := pack.PackTexture(pic.Pixels, pic.Width, pic.Height, pack.TextureOptions{
		Compression: c.opts.TextureCompression,
		Provenance:  c.provenance(rel, out, hash),
	})
	if err != nil {
		return err
	}
	return c.save(out, cont)
}

// upToDate reports whether the output at rel was converted from a source
// with the given hash.
func (c *Converter) upToDate(rel, hash string) bool {
	if !c.opts.Incremental {
		return false
	}
	dst, err := c.path(rel)
	if err != nil {
		return false
	}
	cont, err := container.Load(dst)
	if err != nil {
		return false
	}
	p, err := formats.ReadProvenance(cont)
	return err == nil && p.SourceHash == hash
}

func (c *Converter) provenance(src, out, hash string) formats.Provenance {
	return formats.Provenance{
		OriginalFile: src,
		SourceHash:   hash,
		AssetID:      AssetID(out),
	}
}

// path maps an output path to the filesystem. Paths that would leave the
// output root are rejected.
func (c *Converter) path(rel string) (string, error) {
	local := filepath.FromSlash(rel)
	if !filepath.IsLocal(local) {
		return "", fmt.Errorf("output path %q leaves the output directory", rel)
	}
	return filepath.Join(c.out, local), nil
}

func (c *Converter) save(rel string, cont *container.Container) error {
	dst, err := c.path(rel)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
		return fmt.Errorf("%w: %w", container.ErrIO, err)
	}
	return container.Save(dst, cont)
}

// AssetID derives a stable identifier from an output path. The same path
// always yields the same ID regardless of case or slash direction.
func AssetID(out string) string {
	return uuid.NewSHA1(assetNamespace, []byte(encoding.FoldPath(out))).String()
}

// sourceHash is the hex BLAKE3 digest of a source file.
func sourceHash(data []byte) string {
	sum := blake3.Sum256(data)
	return hex.EncodeToString(sum[:])
}
