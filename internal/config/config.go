// Package config loads agentwatch settings from defaults, an optional TOML
// file and AGENTWATCH_* environment variables, in increasing precedence.
package config

import (
	"bytes"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/spf13/viper"

	"github.com/Eric-Song-Nop/agentwatch/internal/model"
)

// ErrInvalid wraps every validation failure.
var ErrInvalid = errors.New("invalid config")

// EnvPrefix prefixes environment overrides, e.g. AGENTWATCH_POLL_INTERVAL.
const EnvPrefix = "AGENTWATCH"

// Config represents the application configuration.
type Config struct {
	// Agents lists the enabled detectors by name.
	Agents    []string        `mapstructure:"agents"`
	Claude    HomeConfig      `mapstructure:"claude"`
	Codex     HomeConfig      `mapstructure:"codex"`
	OpenCode  OpenCodeConfig  `mapstructure:"opencode"`
	Snapshot  SnapshotConfig  `mapstructure:"snapshot"`
	OpenFiles OpenFilesConfig `mapstructure:"openfiles"`
	VCS       VCSConfig       `mapstructure:"vcs"`
	Poll      PollConfig      `mapstructure:"poll"`
	Server    ServerConfig    `mapstructure:"server"`
	Log       LogConfig       `mapstructure:"log"`
}

// HomeConfig overrides an agent's data directory.
type HomeConfig struct {
	Home string `mapstructure:"home"`
}

type OpenCodeConfig struct {
	Storage string `mapstructure:"storage"`
}

type SnapshotConfig struct {
	MinInterval time.Duration `mapstructure:"min_interval"`
}

type OpenFilesConfig struct {
	// Timeout bounds the open file listing per process; 0 disables it.
	Timeout time.Duration `mapstructure:"timeout"`
}

type VCSConfig struct {
	Enabled  bool          `mapstructure:"enabled"`
	CacheTTL time.Duration `mapstructure:"cache_ttl"`
}

type PollConfig struct {
	Interval time.Duration `mapstructure:"interval"`
}

type ServerConfig struct {
	Addr string `mapstructure:"addr"`
}

type LogConfig struct {
	Dir        string `mapstructure:"dir"`
	Level      string `mapstructure:"level"`
	Format     string `mapstructure:"format"`
	MaxSizeMB  int    `mapstructure:"max_size_mb"`
	MaxBackups int    `mapstructure:"max_backups"`
	MaxAgeDays int    `mapstructure:"max_age_days"`
	Compress   bool   `mapstructure:"compress"`
}

// DefaultPath is ~/.config/agentwatch/config.toml.
func DefaultPath() string {
	dir, err := os.UserConfigDir()
	if err != nil {
		return ""
	}
	return filepath.Join(dir, "agentwatch", "config.toml")
}

func defaultLogDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ""
	}
	return filepath.Join(home, ".local", "state", "agentwatch")
}

func setDefaults(v *viper.Viper) {
	agents := make([]string, 0, len(model.AllAgents))
	for _, a := range model.AllAgents {
		agents = append(agents, string(a))
	}
	v.SetDefault("agents", agents)
	v.SetDefault("claude.home", "")
	v.SetDefault("codex.home", "")
	v.SetDefault("opencode.storage", "")
	v.SetDefault("snapshot.min_interval", 750*time.Millisecond)
	v.SetDefault("openfiles.timeout", 2*time.Second)
	v.SetDefault("vcs.enabled", true)
	v.SetDefault("vcs.cache_ttl", 60*time.Second)
	v.SetDefault("poll.interval", 3*time.Second)
	v.SetDefault("server.addr", "127.0.0.1:7878")
	v.SetDefault("log.dir", defaultLogDir())
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")
	v.SetDefault("log.max_size_mb", 10)
	v.SetDefault("log.max_backups", 5)
	v.SetDefault("log.max_age_days", 10)
	v.SetDefault("log.compress", false)
}

// Load reads the configuration. An explicit configPath must exist; when it
// is empty the default location is tried and silently skipped if absent.
func Load(configPath string) (*Config, error) {
	v := viper.New()
	setDefaults(v)
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	path := configPath
	if path == "" {
		path = DefaultPath()
	}
	if path != "" {
		v.SetConfigFile(path)
		v.SetConfigType("toml")
		if err := v.ReadInConfig(); err != nil {
			if configPath != "" || !errors.Is(err, fs.ErrNotExist) {
				return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
			}
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	cfg.Agents = splitList(cfg.Agents)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// splitList flattens comma separated entries, which is how a list arrives
// from a single environment variable.
func splitList(in []string) []string {
	var out []string
	for _, item := range in {
		for _, part := range strings.Split(item, ",") {
			if part = strings.TrimSpace(part); part != "" {
				out = append(out, strings.ToLower(part))
			}
		}
	}
	return out
}

// Validate rejects unknown agent names and non-positive intervals.
func (c *Config) Validate() error {
	var errs []error
	if len(c.Agents) == 0 {
		errs = append(errs, errors.New("agents: at least one agent must be enabled"))
	}
	for _, name := range c.Agents {
		if _, ok := model.ParseAgentType(name); !ok {
			errs = append(errs, fmt.Errorf("agents: unknown agent %q", name))
		}
	}
	positive := map[string]time.Duration{
		"snapshot.min_interval": c.Snapshot.MinInterval,
		"poll.interval":         c.Poll.Interval,
		"vcs.cache_ttl":         c.VCS.CacheTTL,
	}
	for key, d := range positive {
		if d <= 0 {
			errs = append(errs, fmt.Errorf("%s: must be positive, got %s", key, d))
		}
	}
	if c.OpenFiles.Timeout < 0 {
		errs = append(errs, fmt.Errorf("openfiles.timeout: must not be negative, got %s", c.OpenFiles.Timeout))
	}
	if c.Server.Addr == "" {
		errs = append(errs, errors.New("server.addr: must not be empty"))
	}
	if len(errs) == 0 {
		return nil
	}
	return fmt.Errorf("%w: %w", ErrInvalid, errors.Join(errs...))
}

// EnabledAgents returns the configured agents in declaration order.
func (c *Config) EnabledAgents() []model.AgentType {
	enabled := make(map[model.AgentType]bool, len(c.Agents))
	for _, name := range c.Agents {
		if a, ok := model.ParseAgentType(name); ok {
			enabled[a] = true
		}
	}
	var out []model.AgentType
	for _, a := range model.AllAgents {
		if enabled[a] {
			out = append(out, a)
		}
	}
	return out
}

// fileView is the TOML shape of Config. Durations are written as strings
// ("750ms") so the output can be fed back through Load.
type fileView struct {
	Agents    []string          `toml:"agents"`
	Claude    map[string]string `toml:"claude"`
	Codex     map[string]string `toml:"codex"`
	OpenCode  map[string]string `toml:"opencode"`
	Snapshot  map[string]string `toml:"snapshot"`
	OpenFiles map[string]string `toml:"openfiles"`
	VCS       map[string]any    `toml:"vcs"`
	Poll      map[string]string `toml:"poll"`
	Server    map[string]string `toml:"server"`
	Log       map[string]any    `toml:"log"`
}

// EncodeTOML renders the effective configuration as a TOML document.
func (c *Config) EncodeTOML() ([]byte, error) {
	view := fileView{
		Agents:    c.Agents,
		Claude:    map[string]string{"home": c.Claude.Home},
		Codex:     map[string]string{"home": c.Codex.Home},
		OpenCode:  map[string]string{"storage": c.OpenCode.Storage},
		Snapshot:  map[string]string{"min_interval": c.Snapshot.MinInterval.String()},
		OpenFiles: map[string]string{"timeout": c.OpenFiles.Timeout.String()},
		VCS:       map[string]any{"enabled": c.VCS.Enabled, "cache_ttl": c.VCS.CacheTTL.String()},
		Poll:      map[string]string{"interval": c.Poll.Interval.String()},
		Server:    map[string]string{"addr": c.Server.Addr},
		Log: map[string]any{
			"dir":          c.Log.Dir,
			"level":        c.Log.Level,
			"format":       c.Log.Format,
			"max_size_mb":  c.Log.MaxSizeMB,
			"max_backups":  c.Log.MaxBackups,
			"max_age_days": c.Log.MaxAgeDays,
			"compress":     c.Log.Compress,
		},
	}

	var buf bytes.Buffer
	buf.WriteString("# agentwatch configuration\n\n")
	if err := toml.NewEncoder(&buf).Encode(view); err != nil {
		return nil, fmt.Errorf("failed to encode config: %w", err)
	}
	return buf.Bytes(), nil
}
