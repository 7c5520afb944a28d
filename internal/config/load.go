package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/titanous/json5"
)

// Default returns a Config with the stock settings.
func Default() *Config {
	return &Config{
		Home: "~/.hermes",
		Platforms: PlatformsConfig{
			WhatsApp: WhatsAppConfig{BridgeURL: "ws://localhost:3001"},
		},
		Sessions: SessionsConfig{
			Reset: ResetPolicy{
				Mode:        ResetBoth,
				ResetHour:   4,
				IdleMinutes: 120,
			},
			ResetTriggers: []string{"/new", "/reset"},
		},
		Delivery: DeliveryConfig{
			AlwaysLogLocal:      true,
			DirectoryTTLMinutes: 10,
		},
		Cron: CronConfig{
			DaemonIntervalSeconds: 60,
		},
		Agent: AgentConfig{
			Command:        "claude",
			TimeoutSeconds: 600,
		},
	}
}

// Load reads config from a JSON5 file, then overlays env vars.
// A missing file is not an error; defaults plus env apply.
func Load(path string) (*Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	if err != nil {
		if !os.IsNotExist(err) {
			return nil, fmt.Errorf("%w: read %s: %v", ErrConfig, path, err)
		}
	} else if err := json5.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("%w: parse %s: %v", ErrConfig, path, err)
	}

	cfg.applyEnvOverrides()
	cfg.Home = ExpandHome(cfg.Home)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// applyEnvOverrides overlays env vars onto the config.
// Env vars take precedence over file values.
func (c *Config) applyEnvOverrides() {
	envStr := func(key string, dst *string) {
		if v := os.Getenv(key); v != "" {
			*dst = v
		}
	}
	envStr("HERMES_HOME", &c.Home)
	envStr("HERMES_AGENT_CMD", &c.Agent.Command)

	envStr("TELEGRAM_BOT_TOKEN", &c.Platforms.Telegram.Token)
	envStr("TELEGRAM_HOME_CHANNEL", &c.Platforms.Telegram.HomeChannel)
	envStr("DISCORD_BOT_TOKEN", &c.Platforms.Discord.Token)
	envStr("DISCORD_HOME_CHANNEL", &c.Platforms.Discord.HomeChannel)
	if v := os.Getenv("DISCORD_FREE_RESPONSE_CHANNELS"); v != "" {
		c.Platforms.Discord.FreeResponseChannels = splitCSV(v)
	}
	if v := os.Getenv("DISCORD_REQUIRE_MENTION"); v != "" {
		b := v == "true" || v == "1"
		c.Platforms.Discord.RequireMention = &b
	}
	if v := os.Getenv("WHATSAPP_ENABLED"); v != "" {
		c.Platforms.WhatsApp.Enabled = v == "true" || v == "1"
	}

	// Tokens arriving via env imply the platform is wanted.
	if c.Platforms.Telegram.Token != "" {
		c.Platforms.Telegram.Enabled = true
	}
	if c.Platforms.Discord.Token != "" {
		c.Platforms.Discord.Enabled = true
	}

	if v := os.Getenv("SESSION_IDLE_MINUTES"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			c.Sessions.Reset.IdleMinutes = n
		}
	}
	if v := os.Getenv("SESSION_RESET_HOUR"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n >= 0 && n <= 23 {
			c.Sessions.Reset.ResetHour = n
		}
	}
	if v := os.Getenv("HERMES_TRUSTED_DIRS"); v != "" {
		c.TrustedDirs = append(c.TrustedDirs, splitCSV(v)...)
	}
}

// Save writes the config as plain JSON with restrictive permissions.
func (c *Config) Save(path string) error {
	data, err := json.MarshalIndent(c, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal config: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create config dir: %w", err)
	}
	if err := os.WriteFile(path, data, 0o600); err != nil {
		return fmt.Errorf("write config: %w", err)
	}
	return nil
}

// SessionsDir returns the session file root.
func (c *Config) SessionsDir() string {
	if c.Sessions.Dir != "" {
		return ExpandHome(c.Sessions.Dir)
	}
	return filepath.Join(c.Home, "sessions")
}

// CronJobsFile returns the job store path.
func (c *Config) CronJobsFile() string {
	if c.Cron.JobsFile != "" {
		return ExpandHome(c.Cron.JobsFile)
	}
	return filepath.Join(c.Home, "cron", "jobs.json")
}

// LocalOutputRoot returns the local sink root.
func (c *Config) LocalOutputRoot() string {
	if c.Platforms.Local.OutputRoot != "" {
		return ExpandHome(c.Platforms.Local.OutputRoot)
	}
	return filepath.Join(c.Home, "cron", "output")
}

// LogsDir returns the log file directory.
func (c *Config) LogsDir() string {
	return filepath.Join(c.Home, "logs")
}

// ExpandHome replaces a leading ~ with the user home directory.
func ExpandHome(path string) string {
	if path == "" || path[0] != '~' {
		return path
	}
	home, _ := os.UserHomeDir()
	if len(path) > 1 && path[1] == '/' {
		return home + path[1:]
	}
	if path == "~" {
		return home
	}
	return path
}

func splitCSV(v string) []string {
	var out []string
	for _, part := range strings.Split(v, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
