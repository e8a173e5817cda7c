package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/pkg/errors"
)

// Environment keys understood by FromEnv.
const (
	EnvTool             = "SCANRIG_TOOL"
	EnvCapturesDir      = "SCANRIG_CAPTURES_DIR"
	EnvFilenamePattern  = "SCANRIG_FILENAME_PATTERN"
	EnvDiscoverTimeout  = "SCANRIG_DISCOVER_TIMEOUT"
	EnvIdentifyTimeout  = "SCANRIG_IDENTIFY_TIMEOUT"
	EnvCaptureTimeout   = "SCANRIG_CAPTURE_TIMEOUT"
	EnvSettleInterval   = "SCANRIG_SETTLE_INTERVAL"
	EnvMode             = "SCANRIG_MODE"
	EnvVerifyIdentities = "SCANRIG_VERIFY_IDENTITIES"
	EnvJournal          = "SCANRIG_JOURNAL"
	EnvReleaseHolders   = "SCANRIG_RELEASE_HOLDERS"
	EnvLogLevel         = "SCANRIG_LOG_LEVEL"
	EnvConfigFile       = "SCANRIG_CONFIG"
)

const (
	DefaultTool            = "gphoto2"
	DefaultCapturesDir     = "captures"
	DefaultFilenamePattern = "img%05d.jpg"
	DefaultDiscoverTimeout = 5 * time.Second
	DefaultIdentifyTimeout = 3 * time.Second
	DefaultSettleInterval  = time.Second
	DefaultMode            = "synchronized"
	DefaultLogLevel        = "info"
)

// Rig holds the tunables of one scanning station.
type Rig struct {
	Tool             string
	CapturesDir      string
	FilenamePattern  string
	DiscoverTimeout  time.Duration
	IdentifyTimeout  time.Duration
	CaptureTimeout   time.Duration // zero waits for the tool to exit on its own
	SettleInterval   time.Duration
	Mode             string
	VerifyIdentities bool
	Journal          bool
	ReleaseHolders   bool
	LogLevel         string
}

// rigFile mirrors scanrig.toml. Durations are strings such as "3s".
type rigFile struct {
	Tool             string `toml:"tool"`
	CapturesDir      string `toml:"captures_dir"`
	FilenamePattern  string `toml:"filename_pattern"`
	DiscoverTimeout  string `toml:"discover_timeout"`
	IdentifyTimeout  string `toml:"identify_timeout"`
	CaptureTimeout   string `toml:"capture_timeout"`
	SettleInterval   string `toml:"settle_interval"`
	Mode             string `toml:"mode"`
	VerifyIdentities bool   `toml:"verify_identities"`
	Journal          bool   `toml:"journal"`
	ReleaseHolders   bool   `toml:"release_holders"`
	LogLevel         string `toml:"log_level"`
}

// Defaults returns the built-in rig settings.
func Defaults() Rig {
	return Rig{
		Tool:             DefaultTool,
		CapturesDir:      DefaultCapturesDir,
		FilenamePattern:  DefaultFilenamePattern,
		DiscoverTimeout:  DefaultDiscoverTimeout,
		IdentifyTimeout:  DefaultIdentifyTimeout,
		SettleInterval:   DefaultSettleInterval,
		Mode:             DefaultMode,
		VerifyIdentities: true,
		Journal:          true,
		ReleaseHolders:   true,
		LogLevel:         DefaultLogLevel,
	}
}

// FromEnv overlays SCANRIG_* environment variables (and .env) on Defaults.
func FromEnv() Rig {
	d := Defaults()
	return Rig{
		Tool:             String(EnvTool, d.Tool),
		CapturesDir:      String(EnvCapturesDir, d.CapturesDir),
		FilenamePattern:  String(EnvFilenamePattern, d.FilenamePattern),
		DiscoverTimeout:  Duration(EnvDiscoverTimeout, d.DiscoverTimeout),
		IdentifyTimeout:  Duration(EnvIdentifyTimeout, d.IdentifyTimeout),
		CaptureTimeout:   Duration(EnvCaptureTimeout, d.CaptureTimeout),
		SettleInterval:   Duration(EnvSettleInterval, d.SettleInterval),
		Mode:             strings.ToLower(String(EnvMode, d.Mode)),
		VerifyIdentities: Bool(EnvVerifyIdentities, d.VerifyIdentities),
		Journal:          Bool(EnvJournal, d.Journal),
		ReleaseHolders:   Bool(EnvReleaseHolders, d.ReleaseHolders),
		LogLevel:         strings.ToLower(String(EnvLogLevel, d.LogLevel)),
	}
}

// Load builds the rig settings from env and, when path is non-empty, a TOML
// file on top of it. Keys absent from the file keep their env/default value.
func Load(path string) (Rig, error) {
	cfg := FromEnv()
	path = strings.TrimSpace(path)
	if path == "" {
		path = String(EnvConfigFile, "")
	}
	if path == "" {
		return cfg, cfg.Validate()
	}
	if err := cfg.LoadFile(path); err != nil {
		return Rig{}, err
	}
	return cfg, cfg.Validate()
}

// LoadFile applies the keys defined in a scanrig.toml file.
func (r *Rig) LoadFile(path string) error {
	if _, err := os.Stat(path); err != nil {
		return errors.Wrapf(err, "config: stat %s", path)
	}
	var raw rigFile
	meta, err := toml.DecodeFile(path, &raw)
	if err != nil {
		return errors.Wrapf(err, "config: decode %s", path)
	}
	if undecoded := meta.Undecoded(); len(undecoded) > 0 {
		return errors.Errorf("config: unknown keys in %s: %v", path, undecoded)
	}

	if meta.IsDefined("tool") {
		r.Tool = strings.TrimSpace(raw.Tool)
	}
	if meta.IsDefined("captures_dir") {
		r.CapturesDir = strings.TrimSpace(raw.CapturesDir)
	}
	if meta.IsDefined("filename_pattern") {
		r.FilenamePattern = strings.TrimSpace(raw.FilenamePattern)
	}
	durations := []struct {
		key string
		raw string
		dst *time.Duration
	}{
		{"discover_timeout", raw.DiscoverTimeout, &r.DiscoverTimeout},
		{"identify_timeout", raw.IdentifyTimeout, &r.IdentifyTimeout},
		{"capture_timeout", raw.CaptureTimeout, &r.CaptureTimeout},
		{"settle_interval", raw.SettleInterval, &r.SettleInterval},
	}
	for _, d := range durations {
		if !meta.IsDefined(d.key) {
			continue
		}
		parsed, err := parseDuration(d.raw)
		if err != nil {
			return errors.Wrapf(err, "config: %s", d.key)
		}
		*d.dst = parsed
	}
	if meta.IsDefined("mode") {
		r.Mode = strings.ToLower(strings.TrimSpace(raw.Mode))
	}
	if meta.IsDefined("verify_identities") {
		r.VerifyIdentities = raw.VerifyIdentities
	}
	if meta.IsDefined("journal") {
		r.Journal = raw.Journal
	}
	if meta.IsDefined("release_holders") {
		r.ReleaseHolders = raw.ReleaseHolders
	}
	if meta.IsDefined("log_level") {
		r.LogLevel = strings.ToLower(strings.TrimSpace(raw.LogLevel))
	}
	return nil
}

// Validate reports the first invalid setting.
func (r Rig) Validate() error {
	if strings.TrimSpace(r.Tool) == "" {
		return errors.New("config: tool is required")
	}
	if strings.TrimSpace(r.CapturesDir) == "" {
		return errors.New("config: captures_dir is required")
	}
	if err := ValidatePattern(r.FilenamePattern); err != nil {
		return err
	}
	for name, d := range map[string]time.Duration{
		"discover_timeout": r.DiscoverTimeout,
		"identify_timeout": r.IdentifyTimeout,
		"capture_timeout":  r.CaptureTimeout,
		"settle_interval":  r.SettleInterval,
	} {
		if d < 0 {
			return errors.Errorf("config: %s must not be negative, got %s", name, d)
		}
	}
	if r.IdentifyTimeout == 0 {
		return errors.New("config: identify_timeout must be positive")
	}
	switch r.Mode {
	case "synchronized", "parallel", "sequential", "serial":
	default:
		return errors.Errorf("config: unknown mode %q", r.Mode)
	}
	return nil
}

// ValidatePattern checks that pattern formats exactly one image number.
func ValidatePattern(pattern string) error {
	if strings.TrimSpace(pattern) == "" {
		return errors.New("config: filename_pattern is required")
	}
	first := fmt.Sprintf(pattern, 0)
	if strings.Contains(first, "%!") {
		return errors.Errorf("config: filename_pattern %q must format one integer", pattern)
	}
	if first == fmt.Sprintf(pattern, 1) {
		return errors.Errorf("config: filename_pattern %q does not include the image number", pattern)
	}
	if strings.ContainsRune(first, os.PathSeparator) {
		return errors.Errorf("config: filename_pattern %q must not contain a path separator", pattern)
	}
	return nil
}
