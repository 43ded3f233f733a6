package config

func Defaults() *Config {
	return &Config{
		General: GeneralConfig{
			LogLevel: "info",
		},
		Reminders: RemindersConfig{
			Enabled:          false,
			IntervalMinutes:  10,
			LookaheadMinutes: 30,
			Timezone:         "Asia/Kolkata",
			JobID:            "task_reminders",
			HistorySize:      200,
		},
		Generation: GenerationConfig{
			Provider:       "gemini",
			MaxTokens:      2048,
			Temperature:    0.7,
			TimeoutSeconds: 60,
		},
		Providers: map[string]ProviderConfig{
			"gemini": {
				Enabled:      false,
				Kind:         "openai",
				APIBase:      "https://generativelanguage.googleapis.com/v1beta/openai",
				DefaultModel: "gemini-2.5-flash",
			},
			"openai": {
				Enabled:      false,
				APIBase:      "https://api.openai.com/v1",
				DefaultModel: "gpt-4o-mini",
			},
			"ollama": {
				Enabled:      false,
				APIBase:      "http://localhost:11434",
				DefaultModel: "llama3.1:8b",
			},
		},
		Database: DatabaseConfig{
			Driver: "sqlite",
			DSN:    "~/.evolve/evolve.db",
		},
		Server: ServerConfig{
			Host: "127.0.0.1",
			Port: 8000,
		},
		Channels: ChannelsConfig{
			Telegram: TelegramConfig{
				Enabled:   false,
				ParseMode: "Markdown",
			},
		},
		Metrics: MetricsConfig{
			Enabled:  true,
			Endpoint: "/metrics",
		},
	}
}
