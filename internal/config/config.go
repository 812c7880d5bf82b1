// Package config loads and validates the optional .robopanel YAML file.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// FileName is the name of the configuration file searched for by Load.
const FileName = ".robopanel"

// Default values.
const (
	DefaultTimeout   = 60 * time.Second
	DefaultMaxOutput = 1 << 20 // 1 MB
	DefaultListen    = ":8000"
	DefaultUsername  = "default"
	DefaultRedisAddr = "localhost:6379"
	DefaultRunCache  = 32
	DefaultDevicectl = "devicectl"
)

// Config holds the parsed .robopanel configuration.
// All fields are optional; zero values represent defaults.
type Config struct {
	Version      int           `yaml:"version"`
	RawTimeout   string        `yaml:"timeout"`    // e.g. "60s", "2m"
	RawMaxOutput int           `yaml:"max_output"` // bytes
	Listen       string        `yaml:"listen"`
	Username     string        `yaml:"username"`   // account whose devices are listed
	ErrorsWin    *bool         `yaml:"errors_win"` // stderr replaces stdout in responses (default true)
	Scripts      ScriptsConfig `yaml:"scripts"`
	Redis        RedisConfig   `yaml:"redis"`
	Log          LogConfig     `yaml:"log"`
	Runs         RunsConfig    `yaml:"runs"`
	Channel      ChannelConfig `yaml:"channel"`
}

// Timeout returns the configured timeout or the default.
func (c *Config) Timeout() time.Duration {
	if c.RawTimeout != "" {
		d, err := time.ParseDuration(c.RawTimeout)
		if err == nil && d > 0 {
			return d
		}
	}
	return DefaultTimeout
}

// MaxOutputBytes returns the configured max output size or the default.
func (c *Config) MaxOutputBytes() int {
	if c.RawMaxOutput > 0 {
		return c.RawMaxOutput
	}
	return DefaultMaxOutput
}

// ListenAddr returns the HTTP listen address.
func (c *Config) ListenAddr() string {
	if c.Listen != "" {
		return c.Listen
	}
	return DefaultListen
}

// User returns the account whose devices the panel lists.
func (c *Config) User() string {
	if c.Username != "" {
		return c.Username
	}
	return DefaultUsername
}

// PreferErrors reports whether diagnostic output replaces normal output in
// responses when both exist.
func (c *Config) PreferErrors() bool {
	return c.ErrorsWin == nil || *c.ErrorsWin
}

// ScriptsConfig holds the argv templates used for each panel operation.
// Tokens may contain the placeholders {id}, {command}, {data},
// {username} and {password}; each token is expanded on its own and never
// passed through a shell.
type ScriptsConfig struct {
	Dir       string   `yaml:"dir"`       // working directory for scripts
	Devicectl string   `yaml:"devicectl"` // path to the devicectl binary used by the default templates
	Devices   []string `yaml:"devices"`
	Feed      []string `yaml:"feed"`
	Command   []string `yaml:"command"`
	Signup    []string `yaml:"signup"`
}

func (s *ScriptsConfig) bin() string {
	if s.Devicectl != "" {
		return s.Devicectl
	}
	return DefaultDevicectl
}

// DevicesArgv returns the template for listing devices.
func (s *ScriptsConfig) DevicesArgv() []string {
	if len(s.Devices) > 0 {
		return s.Devices
	}
	return []string{s.bin(), "devices", "--username={username}"}
}

// FeedArgv returns the template for starting and stopping feeds.
func (s *ScriptsConfig) FeedArgv() []string {
	if len(s.Feed) > 0 {
		return s.Feed
	}
	return []string{s.bin(), "feed", "--identifier={id}", "--command={command}"}
}

// CommandArgv returns the template for sending a device command.
func (s *ScriptsConfig) CommandArgv() []string {
	if len(s.Command) > 0 {
		return s.Command
	}
	return []string{s.bin(), "publish", "--identifier={id}", "--command={command}", "--data={data}"}
}

// SignupArgv returns the template for registering a user.
func (s *ScriptsConfig) SignupArgv() []string {
	if len(s.Signup) > 0 {
		return s.Signup
	}
	return []string{s.bin(), "register", "--username={username}", "--password={password}"}
}

// RedisConfig describes the broker connection used by devicectl and the
// real-time channel.
type RedisConfig struct {
	Addr       string `yaml:"addr"` // host or host:port
	Username   string `yaml:"username"`
	Password   string `yaml:"password"`
	TLS        bool   `yaml:"tls"`
	CACert     string `yaml:"ca_cert"`     // PEM file for a self-signed server certificate
	SelfSigned bool   `yaml:"self_signed"` // trust CACert instead of the system roots
}

// Address returns the broker address, adding the default port when absent.
func (r *RedisConfig) Address() string {
	if r.Addr == "" {
		return DefaultRedisAddr
	}
	if !strings.Contains(r.Addr, ":") {
		return r.Addr + ":6379"
	}
	return r.Addr
}

// LogConfig controls structured logging.
type LogConfig struct {
	Level  string `yaml:"level"`  // debug, info, warn, error
	Format string `yaml:"format"` // text or json
	Output string `yaml:"output"` // stderr, stdout or a file path
}

// RunsConfig controls the run history store.
type RunsConfig struct {
	Dir   string `yaml:"dir"`   // default: a temp directory
	Cache int    `yaml:"cache"` // in-memory records kept
}

// CacheSize returns the configured cache size or the default.
func (r *RunsConfig) CacheSize() int {
	if r.Cache > 0 {
		return r.Cache
	}
	return DefaultRunCache
}

// ChannelConfig controls the real-time WebSocket channel.
type ChannelConfig struct {
	Topics           []string `yaml:"topics"`             // default: render_html, events, text_transcript
	ActionsPerSecond float64  `yaml:"actions_per_second"` // inbound action rate per connection
	Burst            int      `yaml:"burst"`
	Origins          []string `yaml:"origins"` // extra allowed WebSocket origin patterns
}

// DefaultTopics are the event channels forwarded to browsers.
var DefaultTopics = []string{"render_html", "events", "text_transcript"}

// EventTopics returns the configured topics, falling back to defaults.
func (c *ChannelConfig) EventTopics() []string {
	if len(c.Topics) > 0 {
		return c.Topics
	}
	return DefaultTopics
}

// ActionRate returns the inbound action rate and burst.
func (c *ChannelConfig) ActionRate() (float64, int) {
	rate, burst := c.ActionsPerSecond, c.Burst
	if rate <= 0 {
		rate = 10
	}
	if burst <= 0 {
		burst = 20
	}
	return rate, burst
}

// LoadResult holds the parsed config and where it came from.
type LoadResult struct {
	Config *Config
	Path   string // empty when no file was found
}

// Load searches for a .robopanel file walking upward from dir. If none
// exists, a default Config is returned. Environment overrides are applied
// in both cases.
func Load(dir string) (*LoadResult, error) {
	path, err := findConfig(dir)
	if err != nil {
		cfg := &Config{}
		cfg.ApplyEnv(os.LookupEnv)
		return &LoadResult{Config: cfg}, nil
	}
	return LoadFile(path)
}

// LoadFile reads the configuration at path.
func LoadFile(path string) (*LoadResult, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading %s: %w", path, err)
	}

	cfg := &Config{}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing %s: %w", path, err)
	}
	cfg.ApplyEnv(os.LookupEnv)
	return &LoadResult{Config: cfg, Path: path}, nil
}

// ApplyEnv overrides broker settings from the deployment environment:
// DB_IP, DB_PASS and DB_SSL_SELFSIGNED. A DB_IP override enables TLS.
func (c *Config) ApplyEnv(lookup func(string) (string, bool)) {
	if v, ok := lookup("DB_IP"); ok && v != "" {
		c.Redis.Addr = v
		c.Redis.TLS = true
	}
	if v, ok := lookup("DB_PASS"); ok {
		c.Redis.Password = v
	}
	if v, ok := lookup("DB_SSL_SELFSIGNED"); ok {
		if b, err := strconv.ParseBool(v); err == nil {
			c.Redis.SelfSigned = b
		}
	}
}

// findConfig walks upward from dir looking for a .robopanel file.
func findConfig(dir string) (string, error) {
	dir, err := filepath.Abs(dir)
	if err != nil {
		return "", err
	}
	for {
		path := filepath.Join(dir, FileName)
		if info, err := os.Stat(path); err == nil && !info.IsDir() {
			return path, nil
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			return "", fmt.Errorf("%s not found", FileName)
		}
		dir = parent
	}
}
