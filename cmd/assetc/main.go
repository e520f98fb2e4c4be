// assetc converts source art into packed asset containers and inspects the
// results.
package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"image/png"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"sort"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/pflag"
	"github.com/tidwall/jsonc"
	"go.uber.org/zap"

	"github.com/Faultbox/midgard-assets/internal/assets"
	"github.com/Faultbox/midgard-assets/internal/config"
	"github.com/Faultbox/midgard-assets/internal/convert"
	"github.com/Faultbox/midgard-assets/internal/logger"
	"github.com/Faultbox/midgard-assets/pkg/container"
	"github.com/Faultbox/midgard-assets/pkg/formats"
	"github.com/Faultbox/midgard-assets/pkg/pack"
)

// errUsage marks a command line that could not be parsed. The usage text has
// already been printed.
var errUsage = errors.New("usage")

func main() {
	os.Exit(run(os.Args[1:], os.Stdout, os.Stderr))
}

func run(args []string, stdout, stderr io.Writer) int {
	if len(args) < 1 {
		printUsage(stderr)
		return 1
	}

	command := args[0]
	args = args[1:]

	var err error
	switch command {
	case "convert":
		err = cmdConvert(args, stdout, stderr, false)
	case "watch":
		err = cmdConvert(args, stdout, stderr, true)
	case "info":
		err = cmdInfo(args, stdout, stderr)
	case "verify":
		err = cmdVerify(args, stdout, stderr)
	case "extract", "x":
		err = cmdExtract(args, stdout, stderr)
	case "help", "-h", "--help":
		printUsage(stdout)
		return 0
	default:
		fmt.Fprintf(stderr, "Unknown command: %s\n", command)
		printUsage(stderr)
		return 1
	}

	if err != nil {
		if !errors.Is(err, errUsage) {
			fmt.Fprintf(stderr, "Error: %v\n", err)
		}
		return 1
	}
	return 0
}

func printUsage(w io.Writer) {
	fmt.Fprintln(w, `assetc - asset container converter

Usage:
  assetc <command> [options]

Commands:
  convert <input> <output>    Convert a directory or .grf archive
  watch <input> <output>      Convert, then re-convert files as they change
  info <file>                 Show a container's header and metadata
  verify <dir|file.grf>       Decode every container and check its links
  extract <file.tx> <out.png> Write a texture back as PNG

Examples:
  assetc convert art/ data/
  assetc convert -j 8 --texture-compression zstd data.grf data/
  assetc info data/ship.mdl
  assetc verify data/`)
}

// newFlagSet returns a flag set that reports parse errors instead of exiting.
func newFlagSet(name string, stderr io.Writer) *pflag.FlagSet {
	fs := pflag.NewFlagSet(name, pflag.ContinueOnError)
	fs.SetOutput(stderr)
	return fs
}

func parse(fs *pflag.FlagSet, args []string, nargs int, usage string, stderr io.Writer) error {
	if err := fs.Parse(args); err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			return errUsage
		}
		return err
	}
	if fs.NArg() != nargs {
		fmt.Fprintf(stderr, "Usage: assetc %s\n", usage)
		fs.PrintDefaults()
		return errUsage
	}
	return nil
}

// setup loads configuration and starts the logger.
func setup(flags *config.Flags) (*config.Config, error) {
	cfg, err := config.Load(flags)
	if err != nil {
		return nil, err
	}
	fileCfg := logger.FileConfig{}
	if cfg.Logging.LogFile != "" {
		fileCfg = logger.FileConfig{
			Path:       cfg.Logging.LogFile,
			MaxSizeMB:  cfg.Logging.MaxSizeMB,
			MaxBackups: cfg.Logging.MaxBackups,
			MaxAgeDays: cfg.Logging.MaxAgeDays,
			Compress:   cfg.Logging.Compress,
			JSON:       cfg.Logging.Format == "json",
		}
	}
	if err := logger.InitWithFileConfig(cfg.Logging.Level, fileCfg, true); err != nil {
		return nil, fmt.Errorf("starting logger: %w", err)
	}
	return cfg, nil
}

func cmdConvert(args []string, stdout, stderr io.Writer, watch bool) error {
	name := "convert"
	if watch {
		name = "watch"
	}
	fs := newFlagSet(name, stderr)
	flags := config.RegisterFlags(fs)
	if err := parse(fs, args, 2, name+" [options] <input> <output>", stderr); err != nil {
		return err
	}

	cfg, err := setup(flags)
	if err != nil {
		return err
	}
	defer logger.Sync()
	logger.Sugar.Debugf("Config: %+v", cfg)

	opts, err := convert.OptionsFromConfig(&cfg.Convert)
	if err != nil {
		return err
	}
	src, err := convert.OpenSource(fs.Arg(0))
	if err != nil {
		return err
	}
	defer src.Close()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	c := convert.New(src, fs.Arg(1), opts, logger.Named("convert"))
	if watch {
		err = c.Watch(ctx)
		if errors.Is(err, context.Canceled) {
			logger.Info("watch stopped")
			return nil
		}
		return err
	}

	sum, err := c.Run(ctx)
	if sum != nil {
		printSummary(stdout, sum)
	}
	return err
}

func printSummary(w io.Writer, sum *convert.Summary) {
	fmt.Fprintf(w, "Converted: %d (%d outputs)\n", sum.Converted, sum.Outputs)
	fmt.Fprintf(w, "Skipped:   %d\n", sum.Skipped)
	fmt.Fprintf(w, "Ignored:   %d\n", sum.Ignored)
	fmt.Fprintf(w, "Failed:    %d\n", sum.Failed)
	for _, r := range sum.Failures {
		fmt.Fprintf(w, "  %s: %v\n", r.Source, r.Err)
	}
	fmt.Fprintf(w, "Elapsed:   %s\n", sum.Elapsed.Round(time.Millisecond))
}

func cmdInfo(args []string, stdout, stderr io.Writer) error {
	fs := newFlagSet("info", stderr)
	if err := parse(fs, args, 1, "info <file>", stderr); err != nil {
		return err
	}

	c, err := container.Load(fs.Arg(0))
	if err != nil {
		// Show what the header declares when only the body is damaged.
		if h, herr := container.LoadHeader(fs.Arg(0)); herr == nil {
			printHeader(stdout, fs.Arg(0), h)
		}
		return err
	}
	h, err := c.Header()
	if err != nil {
		return err
	}
	printHeader(stdout, fs.Arg(0), h)

	if len(c.Metadata) == 0 {
		return nil
	}
	var pretty bytes.Buffer
	if err := json.Indent(&pretty, jsonc.ToJSON(c.Metadata), "", "  "); err != nil {
		// Not JSON: show it as stored.
		fmt.Fprintf(stdout, "\n%s\n", c.Metadata)
		return nil
	}
	fmt.Fprintf(stdout, "\n%s\n", pretty.Bytes())
	return nil
}

func printHeader(w io.Writer, path string, h container.Header) {
	kind := formats.KindOf(h.Kind)
	if kind == "" {
		kind = "unknown"
	}
	fmt.Fprintf(w, "File:     %s\n", path)
	fmt.Fprintf(w, "Kind:     %s (%s)\n", h.Kind, kind)
	fmt.Fprintf(w, "Version:  %d\n", h.Version)
	fmt.Fprintf(w, "Metadata: %d bytes\n", h.MetadataLength)
	fmt.Fprintf(w, "Payload:  %d bytes\n", h.PayloadLength)
}

func cmdVerify(args []string, stdout, stderr io.Writer) error {
	fs := newFlagSet("verify", stderr)
	quiet := fs.BoolP("quiet", "q", false, "Only print problems")
	if err := parse(fs, args, 1, "verify [options] <dir|file.grf>", stderr); err != nil {
		return err
	}

	m := assets.NewManager(nil)
	defer m.Close()

	root := fs.Arg(0)
	var err error
	if strings.EqualFold(filepath.Ext(root), ".grf") {
		err = m.AddArchive(root)
	} else {
		err = m.AddDir(root)
	}
	if err != nil {
		return err
	}

	files, err := m.Files()
	if err != nil {
		return err
	}
	r := m.Verify(files)

	for _, p := range r.Problems {
		fmt.Fprintf(stdout, "%s: %v\n", p.File, p.Err)
	}
	if !*quiet {
		kinds := make([]string, 0, len(r.Kinds))
		for k := range r.Kinds {
			kinds = append(kinds, k)
		}
		sort.Strings(kinds)
		fmt.Fprintf(stdout, "Checked %d files\n", r.Checked)
		for _, k := range kinds {
			fmt.Fprintf(stdout, "  %-10s %d\n", k, r.Kinds[k])
		}
	}
	if !r.OK() {
		return fmt.Errorf("%d problems found", len(r.Problems))
	}
	return nil
}

func cmdExtract(args []string, stdout, stderr io.Writer) error {
	fs := newFlagSet("extract", stderr)
	if err := parse(fs, args, 2, "extract <file.tx> <out.png>", stderr); err != nil {
		return err
	}

	c, err := container.Load(fs.Arg(0))
	if err != nil {
		return err
	}
	tex, err := pack.UnpackTexture(c)
	if err != nil {
		return err
	}

	var buf bytes.Buffer
	if err := png.Encode(&buf, tex.Image()); err != nil {
		return fmt.Errorf("encoding png: %w", err)
	}
	out := fs.Arg(1)
	if dir := filepath.Dir(out); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return err
		}
	}
	if err := os.WriteFile(out, buf.Bytes(), 0o644); err != nil {
		return err
	}

	logger.Debug("texture extracted", zap.String("file", fs.Arg(0)), zap.String("output", out))
	fmt.Fprintf(stdout, "Extracted: %s (%dx%d)\n", out, tex.Info.Dimensions.Width, tex.Info.Dimensions.Height)
	return nil
}
