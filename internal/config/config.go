package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the root configuration for evolve.
type Config struct {
	General    GeneralConfig             `json:"general" yaml:"general"`
	Reminders  RemindersConfig           `json:"reminders" yaml:"reminders"`
	Generation GenerationConfig          `json:"generation" yaml:"generation"`
	Providers  map[string]ProviderConfig `json:"providers" yaml:"providers"`
	Database   DatabaseConfig            `json:"database" yaml:"database"`
	Server     ServerConfig              `json:"server" yaml:"server"`
	Channels   ChannelsConfig            `json:"channels" yaml:"channels"`
	Metrics    MetricsConfig             `json:"metrics" yaml:"metrics"`
}

type GeneralConfig struct {
	LogLevel string `json:"logLevel" yaml:"logLevel"`
	LogFile  string `json:"logFile,omitempty" yaml:"logFile,omitempty"` // optional log file path
}

// RemindersConfig controls the periodic reminder cycle.
type RemindersConfig struct {
	Enabled          bool   `json:"enabled" yaml:"enabled"`
	IntervalMinutes  int    `json:"intervalMinutes" yaml:"intervalMinutes"`
	LookaheadMinutes int    `json:"lookaheadMinutes" yaml:"lookaheadMinutes"`
	Timezone         string `json:"timezone" yaml:"timezone"` // IANA name, e.g. Asia/Kolkata
	JobID            string `json:"jobId" yaml:"jobId"`
	Persona          string `json:"persona,omitempty" yaml:"persona,omitempty"`
	HistorySize      int    `json:"historySize,omitempty" yaml:"historySize,omitempty"` // event replay buffer
}

func (r RemindersConfig) Interval() time.Duration {
	return time.Duration(r.IntervalMinutes) * time.Minute
}

func (r RemindersConfig) Lookahead() time.Duration {
	return time.Duration(r.LookaheadMinutes) * time.Minute
}

// Location resolves Timezone, falling back to UTC when it is empty.
func (r RemindersConfig) Location() (*time.Location, error) {
	if r.Timezone == "" {
		return time.UTC, nil
	}
	return time.LoadLocation(r.Timezone)
}

type GenerationConfig struct {
	Provider       string   `json:"provider" yaml:"provider"`
	FailoverChain  []string `json:"failoverChain,omitempty" yaml:"failoverChain,omitempty"` // provider failover order
	Model          string   `json:"model,omitempty" yaml:"model,omitempty"`
	MaxTokens      int      `json:"maxTokens" yaml:"maxTokens"`
	Temperature    float64  `json:"temperature" yaml:"temperature"`
	TimeoutSeconds int      `json:"timeoutSeconds" yaml:"timeoutSeconds"`
}

func (g GenerationConfig) Timeout() time.Duration {
	return time.Duration(g.TimeoutSeconds) * time.Second
}

type ProviderConfig struct {
	Enabled      bool   `json:"enabled" yaml:"enabled"`
	Kind         string `json:"kind,omitempty" yaml:"kind,omitempty"` // "openai" | "ollama"; defaults from the entry name
	APIBase      string `json:"apiBase,omitempty" yaml:"apiBase,omitempty"`
	APIKey       string `json:"apiKey,omitempty" yaml:"apiKey,omitempty"`
	DefaultModel string `json:"defaultModel,omitempty" yaml:"defaultModel,omitempty"`
}

type DatabaseConfig struct {
	Driver string `json:"driver" yaml:"driver"` // "sqlite" | "postgres"
	DSN    string `json:"dsn" yaml:"dsn"`
}

type ServerConfig struct {
	Host string `json:"host" yaml:"host"`
	Port int    `json:"port" yaml:"port"`
}

func (s ServerConfig) Addr() string {
	return fmt.Sprintf("%s:%d", s.Host, s.Port)
}

type ChannelsConfig struct {
	Telegram TelegramConfig `json:"telegram" yaml:"telegram"`
}

type TelegramConfig struct {
	Enabled   bool           `json:"enabled" yaml:"enabled"`
	Token     string         `json:"token" yaml:"token"`
	AllowFrom FlexStringList `json:"allowFrom" yaml:"allowFrom"`
	ParseMode string         `json:"parseMode" yaml:"parseMode"`
}

// FlexStringList is a []string that can unmarshal from JSON arrays containing
// both strings and numbers (e.g. ["123", 456] both become "123", "456").
type FlexStringList []string

func (f *FlexStringList) UnmarshalJSON(data []byte) error {
	var ss []string
	if err := json.Unmarshal(data, &ss); err == nil {
		*f = ss
		return nil
	}
	var raw []json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	result := make([]string, 0, len(raw))
	for _, item := range raw {
		var s string
		if err := json.Unmarshal(item, &s); err == nil {
			result = append(result, s)
			continue
		}
		var n float64
		if err := json.Unmarshal(item, &n); err == nil {
			result = append(result, strconv.FormatInt(int64(n), 10))
			continue
		}
		result = append(result, string(item))
	}
	*f = result
	return nil
}

// UnmarshalYAML accepts scalars of any kind; yaml decodes 123 and "123" to
// the same string.
func (f *FlexStringList) UnmarshalYAML(node *yaml.Node) error {
	if node.Kind != yaml.SequenceNode {
		return fmt.Errorf("allowFrom: expected a list, got %s", node.Tag)
	}
	result := make([]string, 0, len(node.Content))
	for _, item := range node.Content {
		result = append(result, item.Value)
	}
	*f = result
	return nil
}

// MetricsConfig configures the Prometheus text endpoint.
type MetricsConfig struct {
	Enabled  bool   `json:"enabled" yaml:"enabled"`
	Endpoint string `json:"endpoint" yaml:"endpoint"`
}

// DefaultConfigDir returns the default config directory (~/.evolve).
func DefaultConfigDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".evolve"
	}
	return filepath.Join(home, ".evolve")
}

func DefaultConfigPath() string {
	return filepath.Join(DefaultConfigDir(), "config.json")
}

func isYAML(path string) bool {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		return true
	}
	return false
}

// Load reads a JSON or YAML config file, expands ${VAR} references, applies
// environment overrides and validates the result.
func Load(path string) (*Config, error) {
	path = ExpandPath(path)

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("cannot read config file %s: %w", path, err)
	}

	// Substitute environment variables: ${VAR} and ${VAR:-default}
	data = []byte(ExpandEnvVars(string(data)))

	cfg := Defaults()
	if isYAML(path) {
		err = yaml.Unmarshal(data, cfg)
	} else {
		err = json.Unmarshal(data, cfg)
	}
	if err != nil {
		return nil, fmt.Errorf("cannot parse config file %s: %w", path, err)
	}

	if err := ApplyEnv(cfg); err != nil {
		return nil, err
	}
	cfg.General.LogFile = ExpandPath(cfg.General.LogFile)
	if cfg.Database.Driver == "sqlite" {
		cfg.Database.DSN = ExpandPath(cfg.Database.DSN)
	}

	if err := Validate(cfg); err != nil {
		return nil, fmt.Errorf("config validation: %w", err)
	}
	return cfg, nil
}

// LoadOrDefault loads path when it exists, otherwise returns validated
// defaults with environment overrides applied.
func LoadOrDefault(path string) (*Config, error) {
	if _, err := os.Stat(ExpandPath(path)); os.IsNotExist(err) {
		cfg := Defaults()
		if err := ApplyEnv(cfg); err != nil {
			return nil, err
		}
		cfg.Database.DSN = ExpandPath(cfg.Database.DSN)
		return cfg, Validate(cfg)
	}
	return Load(path)
}

// ApplyEnv overlays the deployment environment variables on cfg.
//
//	ENABLE_SCHEDULER  "true"/"1" enables the reminder cycle
//	DATABASE_URL      postgres://... or sqlite:///path
//	GEMINI_API_KEY    key for the gemini provider
//	OPENAI_API_KEY    key for the openai provider
func ApplyEnv(cfg *Config) error {
	if v, ok := os.LookupEnv("ENABLE_SCHEDULER"); ok && v != "" {
		enabled, err := strconv.ParseBool(strings.TrimSpace(v))
		if err != nil {
			return fmt.Errorf("ENABLE_SCHEDULER: %w", err)
		}
		cfg.Reminders.Enabled = enabled
	}
	if v := os.Getenv("DATABASE_URL"); v != "" {
		cfg.Database.Driver, cfg.Database.DSN = parseDatabaseURL(v)
	}
	for name, env := range map[string]string{"gemini": "GEMINI_API_KEY", "openai": "OPENAI_API_KEY"} {
		key := os.Getenv(env)
		if key == "" {
			continue
		}
		if cfg.Providers == nil {
			cfg.Providers = make(map[string]ProviderConfig)
		}
		pc := cfg.Providers[name]
		pc.APIKey = key
		pc.Enabled = true
		cfg.Providers[name] = pc
	}
	return nil
}

// parseDatabaseURL maps a DATABASE_URL style value to a driver and DSN.
// postgres:// and postgresql:// URLs select PostgreSQL, sqlite:// URLs and
// plain paths select SQLite.
func parseDatabaseURL(url string) (driver, dsn string) {
	switch {
	case strings.HasPrefix(url, "postgres://"), strings.HasPrefix(url, "postgresql://"):
		return "postgres", url
	case strings.HasPrefix(url, "sqlite:///"):
		return "sqlite", strings.TrimPrefix(url, "sqlite:///")
	case strings.HasPrefix(url, "sqlite://"):
		return "sqlite", strings.TrimPrefix(url, "sqlite://")
	default:
		return "sqlite", url
	}
}

// envVarPattern matches ${VAR} and ${VAR:-default} patterns in config strings.
var envVarPattern = regexp.MustCompile(`\$\{([A-Za-z_][A-Za-z0-9_]*)(?::-(.*?))?\}`)

// ExpandEnvVars replaces ${VAR} with the environment variable value.
// Supports default values: ${VAR:-default} uses "default" when VAR is unset or empty.
func ExpandEnvVars(input string) string {
	return envVarPattern.ReplaceAllStringFunc(input, func(match string) string {
		groups := envVarPattern.FindStringSubmatch(match)
		if len(groups) < 2 {
			return match
		}
		hasDefault := len(groups) >= 3 && groups[2] != ""

		val, exists := os.LookupEnv(groups[1])
		if !exists || val == "" {
			if hasDefault {
				return groups[2]
			}
			return match // keep original if no env var and no default
		}
		return val
	})
}

// Save writes cfg as JSON, or YAML when path ends in .yaml/.yml.
func Save(path string, cfg *Config) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("cannot create config directory: %w", err)
	}

	var (
		data []byte
		err  error
	)
	if isYAML(path) {
		data, err = yaml.Marshal(cfg)
	} else {
		data, err = json.MarshalIndent(cfg, "", "  ")
	}
	if err != nil {
		return fmt.Errorf("cannot marshal config: %w", err)
	}
	return os.WriteFile(path, data, 0o600)
}

// Validate checks that the config has valid values.
func Validate(cfg *Config) error {
	var errs []string
	for _, section := range sectionOrder {
		errs = append(errs, sectionChecks[section](cfg)...)
	}
	if len(errs) > 0 {
		return fmt.Errorf("config validation errors:\n  - %s", strings.Join(errs, "\n  - "))
	}
	return nil
}

// sectionOrder fixes the order Validate reports problems in.
var sectionOrder = []string{"general", "reminders", "generation", "database", "server", "channels", "metrics"}

// sectionChecks validates one top-level section each, keyed by its JSON name.
var sectionChecks = map[string]func(*Config) []string{
	"general":    checkGeneral,
	"reminders":  checkReminders,
	"generation": checkGeneration,
	"providers":  checkGeneration,
	"database":   checkDatabase,
	"server":     checkServer,
	"channels":   checkChannels,
	"metrics":    checkMetrics,
}

func checkGeneral(cfg *Config) []string {
	switch cfg.General.LogLevel {
	case "", "debug", "info", "warn", "error":
		return nil
	}
	return []string{"general.logLevel must be one of: debug, info, warn, error"}
}

func checkReminders(cfg *Config) []string {
	var errs []string
	r := cfg.Reminders
	if r.IntervalMinutes < 1 || r.IntervalMinutes > 24*60 {
		errs = append(errs, "reminders.intervalMinutes must be between 1 and 1440")
	}
	if r.LookaheadMinutes < 1 || r.LookaheadMinutes > 24*60 {
		errs = append(errs, "reminders.lookaheadMinutes must be between 1 and 1440")
	}
	if _, err := r.Location(); err != nil {
		errs = append(errs, fmt.Sprintf("reminders.timezone: %v", err))
	}
	if r.JobID == "" {
		errs = append(errs, "reminders.jobId is required")
	}
	if r.HistorySize < 0 {
		errs = append(errs, "reminders.historySize must be >= 0")
	}
	return errs
}

// checkGeneration also guards the providers section, since removing or
// renaming a provider can orphan generation.provider.
func checkGeneration(cfg *Config) []string {
	var errs []string
	g := cfg.Generation
	if g.TimeoutSeconds < 1 {
		errs = append(errs, "generation.timeoutSeconds must be >= 1")
	}
	if g.MaxTokens < 0 {
		errs = append(errs, "generation.maxTokens must be >= 0")
	}
	if g.Provider != "" {
		if _, ok := cfg.Providers[g.Provider]; !ok {
			errs = append(errs, fmt.Sprintf("generation.provider references unknown provider: %s", g.Provider))
		}
	}
	for _, name := range g.FailoverChain {
		if _, ok := cfg.Providers[name]; !ok {
			errs = append(errs, fmt.Sprintf("generation.failoverChain references unknown provider: %s", name))
		}
	}
	return errs
}

func checkDatabase(cfg *Config) []string {
	var errs []string
	switch cfg.Database.Driver {
	case "sqlite", "postgres":
	default:
		errs = append(errs, "database.driver must be one of: sqlite, postgres")
	}
	if cfg.Database.DSN == "" {
		errs = append(errs, "database.dsn is required")
	}
	return errs
}

func checkServer(cfg *Config) []string {
	if cfg.Server.Port < 0 || cfg.Server.Port > 65535 {
		return []string{"server.port must be between 0 and 65535"}
	}
	return nil
}

func checkChannels(cfg *Config) []string {
	if cfg.Channels.Telegram.Enabled && cfg.Channels.Telegram.Token == "" {
		return []string{"channels.telegram.token is required when telegram is enabled"}
	}
	return nil
}

func checkMetrics(cfg *Config) []string {
	if cfg.Metrics.Enabled && !strings.HasPrefix(cfg.Metrics.Endpoint, "/") {
		return []string{"metrics.endpoint must start with / when metrics are enabled"}
	}
	return nil
}

// ExpandPath resolves ~/ to the user's home directory.
func ExpandPath(path string) string {
	if strings.HasPrefix(path, "~/") {
		home, err := os.UserHomeDir()
		if err != nil {
			return path
		}
		return filepath.Join(home, path[2:])
	}
	return path
}
