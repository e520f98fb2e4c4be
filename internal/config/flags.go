package config

import "github.com/spf13/pflag"

// Flags are the configuration overrides a command accepts. Only flags the
// user actually set override file values.
type Flags struct {
	fs *pflag.FlagSet

	config             *string
	debug              *bool
	logFile            *string
	workers            *int
	textureCompression *string
	meshCompression    *string
	keepNormals        *bool
	magentaKey         *bool
	force              *bool
}

// RegisterFlags adds the configuration flags to fs.
func RegisterFlags(fs *pflag.FlagSet) *Flags {
	return &Flags{
		fs:                 fs,
		config:             fs.String("config", "", "Path to config file (.yaml or .toml)"),
		debug:              fs.Bool("debug", false, "Enable debug logging"),
		logFile:            fs.String("log-file", "", "Also write logs to this file"),
		workers:            fs.IntP("workers", "j", 0, "Files to convert in parallel"),
		textureCompression: fs.String("texture-compression", "", "Texture payload compression: none, lz4, lz4hc, zstd"),
		meshCompression:    fs.String("mesh-compression", "", "Mesh payload compression: none, lz4, lz4hc, zstd"),
		keepNormals:        fs.Bool("keep-normals", false, "Keep imported normals instead of regenerating flat normals"),
		magentaKey:         fs.Bool("magenta-key", false, "Make magenta (255,0,255) pixels transparent"),
		force:              fs.BoolP("force", "f", false, "Convert every file even if its output is up to date"),
	}
}

// ConfigPath returns the explicit config path if provided via --config flag.
func (f *Flags) ConfigPath() string {
	if f == nil {
		return ""
	}
	return *f.config
}

// apply applies CLI flag overrides to the config.
func (f *Flags) apply(cfg *Config) {
	if f == nil {
		return
	}
	if *f.debug {
		cfg.Logging.Level = "debug"
	}
	if f.fs.Changed("log-file") {
		cfg.Logging.LogFile = *f.logFile
	}
	if f.fs.Changed("workers") {
		cfg.Convert.Workers = *f.workers
	}
	if f.fs.Changed("texture-compression") {
		cfg.Convert.TextureCompression = *f.textureCompression
	}
	if f.fs.Changed("mesh-compression") {
		cfg.Convert.MeshCompression = *f.meshCompression
	}
	if *f.keepNormals {
		cfg.Convert.RegenerateNormals = false
	}
	if *f.magentaKey {
		cfg.Convert.MagentaKey = true
	}
	if *f.force {
		cfg.Convert.Incremental = false
	}
}
