package omfg

import (
	"encoding"
	"errors"
	"flag"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"reflect"
	"runtime"
	"runtime/debug"
	"slices"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/ShoshinNikita/omfg/pkg/rlog"
)

const defaultConfigFile = ".conf/config.yaml"

type Config struct {
	BuildInfo BuildInfo

	ConfigFile string
	// Root is the gallery root. Relative image paths are resolved against it.
	Root string
	Dir  string

	Thumbnails ThumbnailsConfig

	LogLevel    rlog.Level
	MetricsFile string

	// Images are positional arguments.
	Images []string
}

type BuildInfo struct {
	ShortGitHash string
	CommitTime   string
}

type ThumbnailsConfig struct {
	Root string

	Height    int
	MaxHeight int

	Cache           bool
	CacheDir        string
	CacheMaxAge     time.Duration
	CacheMaxSize    MiB
	CacheMaxEntries int

	AllowExec   bool
	VipsPath    string
	VipsTimeout time.Duration

	FallbackOnDecodeError bool

	WorkersCount int
}

// GetCacheDir returns the cache dir. If it is not set explicitly, "thumbnails"
// subdirectory of the data dir is used.
func (cfg Config) GetCacheDir() string {
	if cfg.Thumbnails.CacheDir != "" {
		return cfg.Thumbnails.CacheDir
	}
	return filepath.Join(cfg.Dir, "thumbnails")
}

type MiB int

func (mb MiB) Bytes() int64 {
	return int64(mb) << 20
}

func (mb MiB) String() string {
	text, _ := mb.MarshalText()
	return string(text)
}

func (mb MiB) MarshalText() (text []byte, err error) {
	if mb >= 1024 && mb%1024 == 0 {
		return []byte(strconv.Itoa(int(mb/1024)) + "Gi"), nil
	}
	return []byte(strconv.Itoa(int(mb)) + "Mi"), nil
}

func (mb *MiB) UnmarshalText(data []byte) error {
	text := string(data)

	mul := 1
	switch {
	case strings.HasSuffix(text, "Mi"):
	case strings.HasSuffix(text, "Gi"):
		mul = 1024
	default:
		return fmt.Errorf("valid suffixes: Mi, Gi")
	}
	n, err := strconv.Atoi(text[:len(text)-2])
	if err != nil {
		return fmt.Errorf("invalid size: %w", err)
	}

	*mb = MiB(n * mul)
	return nil
}

type flagParams struct {
	// p is a pointer to a value.
	p            any
	defaultValue any
	desc         string
}

func (cfg *Config) getFlagParams() map[string]flagParams {
	return map[string]flagParams{
		"config": {
			p: &cfg.ConfigFile, defaultValue: "", desc: "" +
				"Path to a YAML config file. Keys are flag names, optionally grouped in sections.\n" +
				"If not set, " + defaultConfigFile + " is used when it exists",
		},
		"root": {
			p: &cfg.Root, defaultValue: ".", desc: "Gallery root, relative image paths are resolved against it",
		},
		"dir": {
			p: &cfg.Dir, defaultValue: "./var", desc: "Directory for app data (thumbnails and etc.)",
		},
		//
		"thumbnails-height": {
			p: &cfg.Thumbnails.Height, defaultValue: 75, desc: "Default thumbnail height, px",
		},
		"thumbnails-max-height": {
			p: &cfg.Thumbnails.MaxHeight, defaultValue: 2000, desc: "Max thumbnail height, px. Requests for larger thumbnails are rejected",
		},
		"thumbnails-cache": {
			p: &cfg.Thumbnails.Cache, defaultValue: false, desc: "Save generated thumbnails on disk",
		},
		"thumbnails-cache-dir": {
			p: &cfg.Thumbnails.CacheDir, defaultValue: "", desc: "Thumbnails cache dir, <dir>/thumbnails by default",
		},
		"thumbnails-cache-max-age": {
			p: &cfg.Thumbnails.CacheMaxAge, defaultValue: time.Duration(0), desc: "Max age of cached thumbnails, 0 - unlimited",
		},
		"thumbnails-cache-size": {
			p: &cfg.Thumbnails.CacheMaxSize, defaultValue: MiB(0), desc: "Max total size of cached thumbnails, 0Mi - unlimited",
		},
		"thumbnails-cache-max-entries": {
			p: &cfg.Thumbnails.CacheMaxEntries, defaultValue: 0, desc: "" +
				"Max number of cached thumbnails, least recently used ones are removed first.\n" +
				"0 - unlimited",
		},
		"thumbnails-allow-exec": {
			p: &cfg.Thumbnails.AllowExec, defaultValue: true, desc: "Allow to run external tools (vipsthumbnail)",
		},
		"thumbnails-vips-path": {
			p: &cfg.Thumbnails.VipsPath, defaultValue: "vipsthumbnail", desc: "Name or path of vipsthumbnail binary",
		},
		"thumbnails-vips-timeout": {
			p: &cfg.Thumbnails.VipsTimeout, defaultValue: 5 * time.Second, desc: "Timeout for vipsthumbnail calls",
		},
		"thumbnails-fallback-on-decode-error": {
			p: &cfg.Thumbnails.FallbackOnDecodeError, defaultValue: true, desc: "" +
				"Retry with the next available backend once if the selected one\n" +
				"can't decode an image",
		},
		"thumbnails-workers-count": {
			p: &cfg.Thumbnails.WorkersCount, defaultValue: runtime.NumCPU(), desc: "Number of images processed in parallel",
		},
		//
		"metrics-file": {
			p: &cfg.MetricsFile, defaultValue: "", desc: "" +
				"Write metrics in Prometheus text format to this file after processing images.\n" +
				"It can be read by the textfile collector of node_exporter",
		},
		"log-level": {
			p: &cfg.LogLevel, defaultValue: rlog.LevelInfo, desc: "Set the minimal log level. One of: debug, info, warn, error",
		},
	}
}

// legacyKeys maps option names of the old ini config to flag names.
var legacyKeys = map[string]string{
	"start_path":   "root",
	"thumb_height": "thumbnails-height",
	"cache_thumbs": "thumbnails-cache",
}

// ParseConfig parses command line flags and the config file. Values from the command line
// take precedence over the file, options missing in both keep their defaults.
func ParseConfig(args []string) (cfg Config, printVersion bool, err error) {
	cfg = Config{
		BuildInfo: readBuildInfo(),
	}

	fset := flag.NewFlagSet("omfg", flag.ContinueOnError)
	fset.BoolVar(&printVersion, "version", false, "Print version and exit")

	flags := cfg.getFlagParams()
	for name, params := range flags {
		switch p := params.p.(type) {
		case *bool:
			fset.BoolVar(p, name, params.defaultValue.(bool), params.desc)
		case *int:
			fset.IntVar(p, name, params.defaultValue.(int), params.desc)
		case *int64:
			fset.Int64Var(p, name, params.defaultValue.(int64), params.desc)
		case *string:
			fset.StringVar(p, name, params.defaultValue.(string), params.desc)
		case *time.Duration:
			fset.DurationVar(p, name, params.defaultValue.(time.Duration), params.desc)
		case encoding.TextUnmarshaler:
			fset.TextVar(p, name, params.defaultValue.(encoding.TextMarshaler), params.desc)
		default:
			return Config{}, false, fmt.Errorf("flag %q has unsupported type: %T", name, p)
		}
	}

	if err := fset.Parse(args); err != nil {
		return Config{}, false, err
	}
	if printVersion {
		return cfg, true, nil
	}

	setFromArgs := make(map[string]bool)
	fset.Visit(func(f *flag.Flag) {
		setFromArgs[f.Name] = true
	})

	configFile, required := cfg.ConfigFile, true
	if configFile == "" {
		configFile, required = defaultConfigFile, false
	}
	fileValues, err := readConfigFile(configFile)
	switch {
	case err == nil:
		cfg.ConfigFile = configFile
	case errors.Is(err, fs.ErrNotExist) && !required:
		// Use defaults.
	default:
		return Config{}, false, fmt.Errorf("couldn't read config file %q: %w", configFile, err)
	}

	for name, value := range fileValues {
		if name == "config" {
			return Config{}, false, errors.New("config file can't set \"config\" option")
		}
		if setFromArgs[name] {
			continue
		}
		if fset.Lookup(name) == nil {
			return Config{}, false, fmt.Errorf("config file %q: unknown option %q", configFile, name)
		}
		if err := fset.Set(name, value); err != nil {
			return Config{}, false, fmt.Errorf("config file %q: invalid value of %q: %w", configFile, name, err)
		}
	}

	cfg.Thumbnails.Root = cfg.Root
	cfg.Images = fset.Args()

	if err := cfg.validate(); err != nil {
		return Config{}, false, err
	}
	return cfg, false, nil
}

func (cfg Config) validate() error {
	if cfg.Dir == "" {
		return errors.New("dir can't be empty")
	}
	if cfg.Thumbnails.Height <= 0 {
		return errors.New("thumbnails height must be > 0")
	}
	if cfg.Thumbnails.Height > cfg.Thumbnails.MaxHeight {
		return errors.New("thumbnails height can't be greater than max height")
	}
	if cfg.Thumbnails.VipsTimeout <= 0 {
		return errors.New("vips timeout must be > 0")
	}
	if cfg.Thumbnails.WorkersCount <= 0 {
		return errors.New("workers count must be > 0")
	}
	if cfg.Thumbnails.CacheMaxEntries < 0 || cfg.Thumbnails.CacheMaxSize < 0 || cfg.Thumbnails.CacheMaxAge < 0 {
		return errors.New("cache limits can't be negative")
	}
	return nil
}

// readConfigFile reads a YAML file and returns flag values. Top-level keys and keys of
// one-level sections (for example, "general:" and "options:") are merged together.
func readConfigFile(path string) (map[string]string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var raw map[string]any
	if err := yaml.NewDecoder(f).Decode(&raw); err != nil {
		if errors.Is(err, io.EOF) {
			// Empty file
			return nil, nil
		}
		return nil, fmt.Errorf("invalid yaml: %w", err)
	}

	res := make(map[string]string)
	add := func(key string, value any) error {
		if name, ok := legacyKeys[key]; ok {
			key = name
		}
		if _, ok := res[key]; ok {
			return fmt.Errorf("duplicate option %q", key)
		}
		if value == nil {
			return fmt.Errorf("option %q has no value", key)
		}
		res[key] = fmt.Sprint(value)
		return nil
	}
	for key, value := range raw {
		section, ok := value.(map[string]any)
		if !ok {
			if err := add(key, value); err != nil {
				return nil, err
			}
			continue
		}
		for key, value := range section {
			if _, ok := value.(map[string]any); ok {
				return nil, fmt.Errorf("nested sections are not supported: %q", key)
			}
			if err := add(key, value); err != nil {
				return nil, err
			}
		}
	}
	return res, nil
}

func readBuildInfo() BuildInfo {
	res := BuildInfo{
		ShortGitHash: "unknown",
		CommitTime:   "unknown",
	}

	info, ok := debug.ReadBuildInfo()
	if !ok {
		return res
	}

	for _, s := range info.Settings {
		switch s.Key {
		case "vcs.revision":
			res.ShortGitHash = s.Value
			if len(res.ShortGitHash) > 7 {
				res.ShortGitHash = res.ShortGitHash[:7]
			}

		case "vcs.time":
			t, err := time.Parse(time.RFC3339, s.Value)
			if err == nil {
				res.CommitTime = t.UTC().Format("2006-01-02 15:04:05 UTC")
			}
		}
	}
	return res
}

func (info BuildInfo) Print() {
	fmt.Fprintf(os.Stderr, `
      ___   __  __  ___  ___  _
     / _ \ |  \/  || __|/ __|| |
    | (_) || |\/| || _|| (_ ||_|
     \___/ |_|  |_||_|  \___|(_)

    Commit Hash: %q
    Commit Time: %q

`,
		info.ShortGitHash,
		info.CommitTime,
	)
}

func (cfg Config) Print() {
	flags := cfg.getFlagParams()

	var (
		names         = make([]string, 0, len(flags))
		maxNameLength int
	)
	for name := range flags {
		if len(name) > maxNameLength {
			maxNameLength = len(name)
		}
		names = append(names, name)
	}
	slices.Sort(names)

	fmt.Fprint(os.Stderr, "    Config:\n\n")
	for _, name := range names {
		fmt.Fprintf(os.Stderr, "        --%-*s = %v\n", maxNameLength, name, reflect.ValueOf(flags[name].p).Elem())
	}
	fmt.Fprint(os.Stderr, "\n")
}
