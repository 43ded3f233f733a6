package config

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"gopkg.in/yaml.v3"
)

// clearEnv unsets the overrides ApplyEnv reads so the host environment
// cannot leak into a test.
func clearEnv(t *testing.T) {
	t.Helper()
	for _, k := range []string{"ENABLE_SCHEDULER", "DATABASE_URL", "GEMINI_API_KEY", "OPENAI_API_KEY"} {
		t.Setenv(k, "")
	}
}

// --- Validate ---

func TestValidate_ValidConfig(t *testing.T) {
	cfg := Defaults()
	if err := Validate(cfg); err != nil {
		t.Fatalf("expected valid config, got: %v", err)
	}
}

func TestValidate_Interval_Bounds(t *testing.T) {
	cfg := Defaults()
	cfg.Reminders.IntervalMinutes = 0
	if err := Validate(cfg); err == nil {
		t.Fatal("expected error for intervalMinutes=0")
	}

	cfg.Reminders.IntervalMinutes = 1
	if err := Validate(cfg); err != nil {
		t.Fatalf("intervalMinutes=1 should be valid: %v", err)
	}

	cfg.Reminders.IntervalMinutes = 1441
	if err := Validate(cfg); err == nil {
		t.Fatal("expected error for intervalMinutes=1441")
	}
}

func TestValidate_UnknownTimezone(t *testing.T) {
	cfg := Defaults()
	cfg.Reminders.Timezone = "Mars/Olympus_Mons"
	err := Validate(cfg)
	if err == nil || !strings.Contains(err.Error(), "reminders.timezone") {
		t.Fatalf("expected timezone error, got %v", err)
	}
}

func TestValidate_InvalidPort(t *testing.T) {
	cfg := Defaults()
	cfg.Server.Port = -1
	if err := Validate(cfg); err == nil {
		t.Fatal("expected error for negative port")
	}

	cfg.Server.Port = 70000
	if err := Validate(cfg); err == nil {
		t.Fatal("expected error for port > 65535")
	}
}

func TestValidate_InvalidDriver(t *testing.T) {
	cfg := Defaults()
	cfg.Database.Driver = "mysql"
	if err := Validate(cfg); err == nil {
		t.Fatal("expected error for unsupported driver")
	}
}

func TestValidate_FailoverChainUnknownProvider(t *testing.T) {
	cfg := Defaults()
	cfg.Generation.FailoverChain = []string{"gemini", "claude"}
	err := Validate(cfg)
	if err == nil || !strings.Contains(err.Error(), "claude") {
		t.Fatalf("expected failover chain error, got %v", err)
	}
}

func TestValidate_TelegramNeedsToken(t *testing.T) {
	cfg := Defaults()
	cfg.Channels.Telegram.Enabled = true
	if err := Validate(cfg); err == nil {
		t.Fatal("expected error for telegram without token")
	}
}

// --- Load / Save ---

func TestLoadSave_RoundTrip(t *testing.T) {
	clearEnv(t)
	path := filepath.Join(t.TempDir(), "config.json")

	original := Defaults()
	original.Generation.Provider = "openai"
	original.Reminders.LookaheadMinutes = 45

	if err := Save(path, original); err != nil {
		t.Fatalf("save: %v", err)
	}

	loaded, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if loaded.Generation.Provider != "openai" {
		t.Fatalf("expected 'openai', got %q", loaded.Generation.Provider)
	}
	if loaded.Reminders.Lookahead() != 45*time.Minute {
		t.Fatalf("expected 45m lookahead, got %v", loaded.Reminders.Lookahead())
	}
}

func TestLoadSave_YAMLRoundTrip(t *testing.T) {
	clearEnv(t)
	path := filepath.Join(t.TempDir(), "config.yaml")

	original := Defaults()
	original.Reminders.Timezone = "Europe/Berlin"
	original.Channels.Telegram.AllowFrom = FlexStringList{"42"}

	if err := Save(path, original); err != nil {
		t.Fatalf("save: %v", err)
	}
	data, _ := os.ReadFile(path)
	if strings.HasPrefix(strings.TrimSpace(string(data)), "{") {
		t.Fatalf("expected YAML output, got %s", data)
	}

	loaded, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if loaded.Reminders.Timezone != "Europe/Berlin" {
		t.Fatalf("expected Europe/Berlin, got %q", loaded.Reminders.Timezone)
	}
	if len(loaded.Channels.Telegram.AllowFrom) != 1 || loaded.Channels.Telegram.AllowFrom[0] != "42" {
		t.Fatalf("unexpected allowFrom: %v", loaded.Channels.Telegram.AllowFrom)
	}
}

func TestLoad_YAMLPartialKeepsDefaults(t *testing.T) {
	clearEnv(t)
	path := filepath.Join(t.TempDir(), "evolve.yml")
	content := "reminders:\n  enabled: true\n  intervalMinutes: 5\n  lookaheadMinutes: 30\n  timezone: UTC\n  jobId: scan\n"
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if !cfg.Reminders.Enabled || cfg.Reminders.Interval() != 5*time.Minute || cfg.Reminders.JobID != "scan" {
		t.Fatalf("unexpected reminders: %+v", cfg.Reminders)
	}
	if cfg.Server.Port != 8000 || cfg.Database.Driver != "sqlite" {
		t.Fatalf("defaults lost: %+v %+v", cfg.Server, cfg.Database)
	}
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := Load("/nonexistent/path/config.json")
	if err == nil {
		t.Fatal("expected error for missing file")
	}
}

func TestLoad_InvalidJSON(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bad.json")
	os.WriteFile(path, []byte("{not json}"), 0o644)

	_, err := Load(path)
	if err == nil {
		t.Fatal("expected error for invalid JSON")
	}
}

func TestLoad_ValidatesConfig(t *testing.T) {
	clearEnv(t)
	cfgFile := filepath.Join(t.TempDir(), "config.json")
	content := `{
		"reminders": {
			"lookaheadMinutes": 0
		}
	}`
	if err := os.WriteFile(cfgFile, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}

	_, err := Load(cfgFile)
	if err == nil {
		t.Fatal("expected validation error for lookaheadMinutes=0")
	}
}

func TestLoadOrDefault_MissingFileUsesDefaults(t *testing.T) {
	clearEnv(t)
	cfg, err := LoadOrDefault(filepath.Join(t.TempDir(), "absent.json"))
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Reminders.Enabled {
		t.Fatal("reminders should be disabled by default")
	}
}

// --- Environment overrides ---

func TestApplyEnv_EnableScheduler(t *testing.T) {
	clearEnv(t)
	t.Setenv("ENABLE_SCHEDULER", "true")
	cfg := Defaults()
	if err := ApplyEnv(cfg); err != nil {
		t.Fatal(err)
	}
	if !cfg.Reminders.Enabled {
		t.Fatal("expected reminders enabled")
	}

	t.Setenv("ENABLE_SCHEDULER", "nope")
	if err := ApplyEnv(Defaults()); err == nil {
		t.Fatal("expected error for unparsable ENABLE_SCHEDULER")
	}
}

func TestApplyEnv_DatabaseURL(t *testing.T) {
	clearEnv(t)
	cases := map[string][2]string{
		"postgres://u:p@db:5432/evolve": {"postgres", "postgres://u:p@db:5432/evolve"},
		"postgresql://db/evolve":        {"postgres", "postgresql://db/evolve"},
		"sqlite:///var/lib/evolve.db":   {"sqlite", "var/lib/evolve.db"},
		"sqlite://evolve.db":            {"sqlite", "evolve.db"},
		"./local.db":                    {"sqlite", "./local.db"},
	}
	for in, want := range cases {
		t.Setenv("DATABASE_URL", in)
		cfg := Defaults()
		if err := ApplyEnv(cfg); err != nil {
			t.Fatal(err)
		}
		if cfg.Database.Driver != want[0] || cfg.Database.DSN != want[1] {
			t.Errorf("%s: expected %v, got %+v", in, want, cfg.Database)
		}
	}
}

func TestApplyEnv_APIKeysEnableProviders(t *testing.T) {
	clearEnv(t)
	t.Setenv("GEMINI_API_KEY", "gm-key")
	cfg := Defaults()
	if err := ApplyEnv(cfg); err != nil {
		t.Fatal(err)
	}
	gm := cfg.Providers["gemini"]
	if !gm.Enabled || gm.APIKey != "gm-key" {
		t.Fatalf("expected gemini enabled with key, got %+v", gm)
	}
	if gm.APIBase == "" || gm.DefaultModel != "gemini-2.5-flash" {
		t.Fatalf("gemini defaults lost: %+v", gm)
	}
	if cfg.Providers["openai"].Enabled {
		t.Fatal("openai should stay disabled without a key")
	}
}

// --- Accessor ---

func TestGetByPath_SettingAndSection(t *testing.T) {
	cfg := Defaults()

	val, err := GetByPath(cfg, "reminders.timezone")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if val != "Asia/Kolkata" {
		t.Fatalf("expected 'Asia/Kolkata', got %v", val)
	}

	section, err := GetByPath(cfg, "server")
	if err != nil {
		t.Fatalf("get section: %v", err)
	}
	if m, ok := section.(map[string]any); !ok || m["host"] != "127.0.0.1" {
		t.Fatalf("unexpected server section: %v", section)
	}
}

func TestGetByPath_Unknown(t *testing.T) {
	cfg := Defaults()
	for _, path := range []string{"nonexistent", "reminders.bogus", "reminders.timezone.name", "providers.claude.apiKey"} {
		if _, err := GetByPath(cfg, path); err == nil {
			t.Errorf("expected error for %s", path)
		}
	}
}

func TestSetByPath_ParsesByCurrentType(t *testing.T) {
	cfg := Defaults()
	if err := SetByPath(cfg, "reminders.enabled", "true"); err != nil {
		t.Fatalf("set bool: %v", err)
	}
	if err := SetByPath(cfg, "reminders.intervalMinutes", "15"); err != nil {
		t.Fatalf("set int: %v", err)
	}
	if err := SetByPath(cfg, "generation.temperature", "0.2"); err != nil {
		t.Fatalf("set float: %v", err)
	}
	// digits stay a string for string settings
	if err := SetByPath(cfg, "reminders.jobId", "2024"); err != nil {
		t.Fatalf("set string: %v", err)
	}

	if !cfg.Reminders.Enabled || cfg.Reminders.IntervalMinutes != 15 {
		t.Fatalf("unexpected reminders: %+v", cfg.Reminders)
	}
	if cfg.Generation.Temperature != 0.2 {
		t.Fatalf("expected temperature 0.2, got %v", cfg.Generation.Temperature)
	}
	if cfg.Reminders.JobID != "2024" {
		t.Fatalf("expected jobId 2024, got %q", cfg.Reminders.JobID)
	}
}

func TestSetByPath_RejectsBadValues(t *testing.T) {
	cases := map[string]string{
		"reminders.enabled":          "sometimes",
		"reminders.intervalMinutes":  "0",
		"reminders.lookaheadMinutes": "1.5",
		"reminders.timezone":         "Mars/Olympus_Mons",
		"reminders.bogus":            "x",
		"generation.provider":        "claude",
		"database.driver":            "mysql",
		"server.port":                "70000",
		"metrics.endpoint":           "metrics",
		"reminders":                  "x",
		"providers.gemini":           "x",
	}
	for path, raw := range cases {
		cfg := Defaults()
		if err := SetByPath(cfg, path, raw); err == nil {
			t.Errorf("%s=%s: expected error", path, raw)
		}
		if err := Validate(cfg); err != nil {
			t.Errorf("%s=%s: config changed despite error: %v", path, raw, err)
		}
	}
}

func TestSetByPath_NewProviderAndLists(t *testing.T) {
	cfg := Defaults()
	if err := SetByPath(cfg, "providers.mistral.apiBase", "https://api.mistral.ai/v1"); err != nil {
		t.Fatalf("set new provider: %v", err)
	}
	if err := SetByPath(cfg, "providers.mistral.enabled", "true"); err != nil {
		t.Fatalf("enable provider: %v", err)
	}
	if err := SetByPath(cfg, "generation.failoverChain", "mistral, ollama"); err != nil {
		t.Fatalf("set list: %v", err)
	}
	if err := SetByPath(cfg, "channels.telegram.allowFrom", "42,7"); err != nil {
		t.Fatalf("set allowFrom: %v", err)
	}

	pc := cfg.Providers["mistral"]
	if !pc.Enabled || pc.APIBase != "https://api.mistral.ai/v1" {
		t.Fatalf("unexpected provider: %+v", pc)
	}
	if got := cfg.Generation.FailoverChain; len(got) != 2 || got[0] != "mistral" || got[1] != "ollama" {
		t.Fatalf("unexpected failover chain: %v", got)
	}
	if got := cfg.Channels.Telegram.AllowFrom; len(got) != 2 || got[0] != "42" {
		t.Fatalf("unexpected allowFrom: %v", got)
	}
	if err := Validate(cfg); err != nil {
		t.Fatalf("expected valid config: %v", err)
	}
}

// --- Sanitize ---

func TestSanitize_MasksSecrets(t *testing.T) {
	cfg := Defaults()
	cfg.Channels.Telegram.Token = "123456789:ABCdefGHIjklMNOpqrSTUvwxyz"
	cfg.Providers["openai"] = ProviderConfig{
		Enabled: true,
		APIKey:  "sk-1234567890abcdefghijklmnop",
	}
	cfg.Database = DatabaseConfig{Driver: "postgres", DSN: "postgres://evolve:hunter2@db/evolve"}

	sanitized := Sanitize(cfg)

	if sanitized.Channels.Telegram.Token == cfg.Channels.Telegram.Token {
		t.Fatal("telegram token should be masked")
	}
	if sanitized.Providers["openai"].APIKey == cfg.Providers["openai"].APIKey {
		t.Fatal("API key should be masked")
	}
	if strings.Contains(sanitized.Database.DSN, "hunter2") {
		t.Fatalf("database password should be masked: %s", sanitized.Database.DSN)
	}
	if cfg.Channels.Telegram.Token != "123456789:ABCdefGHIjklMNOpqrSTUvwxyz" {
		t.Fatal("original config should not be modified")
	}
}

func TestSanitize_ShortSecret(t *testing.T) {
	cfg := Defaults()
	cfg.Channels.Telegram.Token = "short"
	sanitized := Sanitize(cfg)
	if sanitized.Channels.Telegram.Token != "***" {
		t.Fatalf("short secret should be '***', got %q", sanitized.Channels.Telegram.Token)
	}
}

// --- ListPaths ---

func TestListPaths_ReturnsAllLeaves(t *testing.T) {
	cfg := Defaults()
	cfg.Generation.FailoverChain = []string{"gemini", "ollama"}
	paths := ListPaths(cfg)
	for _, expected := range []string{"general.logLevel", "reminders.lookaheadMinutes", "providers.gemini.apiBase", "metrics.endpoint"} {
		if _, ok := paths[expected]; !ok {
			t.Errorf("missing expected path: %s", expected)
		}
	}
	if _, ok := paths["generation.failoverChain"].([]any); !ok {
		t.Fatalf("expected list reported whole, got %v", paths["generation.failoverChain"])
	}
	if _, ok := paths["reminders"]; ok {
		t.Fatal("sections should not be listed as leaves")
	}
}

// --- FlexStringList ---

func TestFlexStringList_MixedTypes(t *testing.T) {
	var list FlexStringList
	if err := json.Unmarshal([]byte(`["hello", 123, "world", 456.0]`), &list); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if len(list) != 4 {
		t.Fatalf("expected 4 items, got %d", len(list))
	}
	if list[0] != "hello" || list[2] != "world" {
		t.Fatal("string items mismatch")
	}
	if list[1] != "123" || list[3] != "456" {
		t.Fatalf("number conversion mismatch: %v", list)
	}
}

func TestFlexStringList_YAML(t *testing.T) {
	var out struct {
		AllowFrom FlexStringList `yaml:"allowFrom"`
	}
	if err := yaml.Unmarshal([]byte("allowFrom: [alice, 123]"), &out); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if len(out.AllowFrom) != 2 || out.AllowFrom[1] != "123" {
		t.Fatalf("unexpected: %v", out.AllowFrom)
	}
	if err := yaml.Unmarshal([]byte("allowFrom: alice"), &out); err == nil {
		t.Fatal("expected error for scalar allowFrom")
	}
}

func TestFlexStringList_InvalidJSON(t *testing.T) {
	var list FlexStringList
	if err := json.Unmarshal([]byte(`not json`), &list); err == nil {
		t.Fatal("expected error for invalid JSON")
	}
}

// --- ExpandEnvVars ---

func TestExpandEnvVars_SimpleSubstitution(t *testing.T) {
	t.Setenv("TEST_API_KEY", "sk-abc123")
	result := ExpandEnvVars(`{"apiKey": "${TEST_API_KEY}"}`)
	expected := `{"apiKey": "sk-abc123"}`
	if result != expected {
		t.Fatalf("expected %q, got %q", expected, result)
	}
}

func TestExpandEnvVars_DefaultValue(t *testing.T) {
	os.Unsetenv("NONEXISTENT_VAR_12345")
	result := ExpandEnvVars(`{"port": "${NONEXISTENT_VAR_12345:-8080}"}`)
	expected := `{"port": "8080"}`
	if result != expected {
		t.Fatalf("expected %q, got %q", expected, result)
	}
}

func TestExpandEnvVars_SetVarOverridesDefault(t *testing.T) {
	t.Setenv("MY_PORT", "9090")
	result := ExpandEnvVars(`{"port": "${MY_PORT:-8080}"}`)
	expected := `{"port": "9090"}`
	if result != expected {
		t.Fatalf("expected %q, got %q", expected, result)
	}
}

func TestExpandEnvVars_UnsetVarNoDefault_KeepsOriginal(t *testing.T) {
	os.Unsetenv("TOTALLY_UNSET_VAR_XYZ")
	result := ExpandEnvVars(`"${TOTALLY_UNSET_VAR_XYZ}"`)
	expected := `"${TOTALLY_UNSET_VAR_XYZ}"`
	if result != expected {
		t.Fatalf("expected %q, got %q", expected, result)
	}
}

func TestExpandEnvVars_EmptyVarUsesDefault(t *testing.T) {
	t.Setenv("EMPTY_VAR", "")
	result := ExpandEnvVars(`"${EMPTY_VAR:-fallback}"`)
	if result != `"fallback"` {
		t.Fatalf("expected fallback, got %q", result)
	}
}

func TestExpandEnvVars_DollarSignWithoutBraces(t *testing.T) {
	input := `"$HOME is not substituted"`
	if result := ExpandEnvVars(input); result != input {
		t.Fatalf("expected no change for bare $VAR, got %q", result)
	}
}

func TestLoad_WithEnvVarSubstitution(t *testing.T) {
	clearEnv(t)
	t.Setenv("TEST_EVOLVE_TZ", "America/New_York")

	cfgFile := filepath.Join(t.TempDir(), "config.json")
	content := `{
		"reminders": {
			"intervalMinutes": 10,
			"lookaheadMinutes": 30,
			"timezone": "${TEST_EVOLVE_TZ}",
			"jobId": "task_reminders"
		},
		"server": {"host": "0.0.0.0", "port": ${TEST_EVOLVE_PORT:-9100}}
	}`
	if err := os.WriteFile(cfgFile, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load(cfgFile)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.Reminders.Timezone != "America/New_York" {
		t.Fatalf("expected America/New_York, got %q", cfg.Reminders.Timezone)
	}
	if cfg.Server.Addr() != "0.0.0.0:9100" {
		t.Fatalf("expected 0.0.0.0:9100, got %s", cfg.Server.Addr())
	}
}

// --- Defaults ---

func TestDefaults_ReturnsValidConfig(t *testing.T) {
	cfg := Defaults()
	if err := Validate(cfg); err != nil {
		t.Fatalf("defaults should be valid: %v", err)
	}
	if cfg.Reminders.Interval() != 10*time.Minute || cfg.Reminders.Lookahead() != 30*time.Minute {
		t.Fatalf("unexpected cadence: %+v", cfg.Reminders)
	}
	loc, err := cfg.Reminders.Location()
	if err != nil || loc.String() != "Asia/Kolkata" {
		t.Fatalf("unexpected location %v: %v", loc, err)
	}
}
