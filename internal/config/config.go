// Package config holds the typed gateway configuration. The file is
// JSON5 so hand-edited configs may carry comments and trailing commas.
package config

import (
	"errors"
	"fmt"

	"github.com/hermesworks/hermes/internal/bus"
)

// ErrConfig marks configuration problems that are fatal at startup.
var ErrConfig = errors.New("config error")

// Config is the root gateway configuration.
type Config struct {
	// Home is the state root; everything the gateway persists lives
	// under it (sessions/, cron/, logs/).
	Home string `json:"home,omitempty"` // default ~/.hermes

	Platforms PlatformsConfig `json:"platforms,omitempty"`
	Sessions  SessionsConfig  `json:"sessions,omitempty"`
	Delivery  DeliveryConfig  `json:"delivery,omitempty"`
	Cron      CronConfig      `json:"cron,omitempty"`
	Agent     AgentConfig     `json:"agent,omitempty"`

	// TrustedDirs extends the built-in trusted roots for document sends.
	TrustedDirs []string `json:"trusted_dirs,omitempty"`
}

// PlatformsConfig groups per-platform adapter settings.
type PlatformsConfig struct {
	Telegram TelegramConfig `json:"telegram,omitempty"`
	Discord  DiscordConfig  `json:"discord,omitempty"`
	Slack    SlackConfig    `json:"slack,omitempty"`
	WhatsApp WhatsAppConfig `json:"whatsapp,omitempty"`
	Local    LocalConfig    `json:"local,omitempty"`
}

// TelegramConfig configures the Telegram adapter.
type TelegramConfig struct {
	Enabled     bool     `json:"enabled,omitempty"`
	Token       string   `json:"token,omitempty"`
	HomeChannel string   `json:"home_channel,omitempty"` // default chat for platform-level targets
	AllowFrom   []string `json:"allow_from,omitempty"`   // user IDs or usernames; empty = everyone
}

// DiscordConfig configures the Discord adapter.
type DiscordConfig struct {
	Enabled bool   `json:"enabled,omitempty"`
	Token   string `json:"token,omitempty"`
	HomeChannel string `json:"home_channel,omitempty"`
	// RequireMention gates replies in guild channels. nil means the
	// default (true). The free-response list wins over this flag.
	RequireMention       *bool    `json:"require_mention,omitempty"`
	FreeResponseChannels []string `json:"free_response_channels,omitempty"`
	AllowFrom            []string `json:"allow_from,omitempty"`
}

// SlackConfig is recognized but the adapter is not shipped; the
// supervisor logs and skips an enabled Slack section.
type SlackConfig struct {
	Enabled     bool   `json:"enabled,omitempty"`
	Token       string `json:"token,omitempty"`
	HomeChannel string `json:"home_channel,omitempty"`
}

// WhatsAppConfig configures the WhatsApp bridge adapter. The bridge
// process speaks the actual WhatsApp protocol; the adapter exchanges
// JSON frames with it over a WebSocket.
type WhatsAppConfig struct {
	Enabled     bool   `json:"enabled,omitempty"`
	BridgeURL   string `json:"bridge_url,omitempty"` // default ws://localhost:3001
	HomeChannel string `json:"home_channel,omitempty"`
}

// LocalConfig configures the local markdown sink.
type LocalConfig struct {
	// OutputRoot overrides <home>/cron/output as the sink root.
	OutputRoot string `json:"output_root,omitempty"`
}

// ResetMode selects which reset conditions apply to a session.
type ResetMode string

const (
	ResetDaily ResetMode = "daily"
	ResetIdle  ResetMode = "idle"
	ResetBoth  ResetMode = "both"
)

// ResetPolicy decides when a conversation starts over.
type ResetPolicy struct {
	Mode        ResetMode `json:"mode,omitempty"`
	ResetHour   int       `json:"reset_hour,omitempty"`   // local time, 0..23
	IdleMinutes int       `json:"idle_minutes,omitempty"` // > 0
}

// SessionsConfig configures session persistence and reset behavior.
type SessionsConfig struct {
	// Dir overrides <home>/sessions as the session file root.
	Dir string `json:"dir,omitempty"`

	Reset ResetPolicy `json:"reset,omitempty"`
	// ResetByPlatform and ResetByChatType override the default policy.
	// Platform overrides win over chat-type overrides.
	ResetByPlatform map[string]ResetPolicy `json:"reset_by_platform,omitempty"`
	ResetByChatType map[string]ResetPolicy `json:"reset_by_chat_type,omitempty"`

	// ResetTriggers are commands that wipe the session explicitly.
	ResetTriggers []string `json:"reset_triggers,omitempty"` // default /new, /reset
}

// DeliveryConfig configures the delivery router.
type DeliveryConfig struct {
	// AlwaysLogLocal appends a local target to every delivery.
	AlwaysLogLocal bool `json:"always_log_local,omitempty"`
	// DirectoryTTLMinutes bounds channel-directory cache staleness.
	DirectoryTTLMinutes int `json:"directory_ttl_minutes,omitempty"` // default 10
}

// CronConfig configures the cron scheduler.
type CronConfig struct {
	// JobsFile overrides <home>/cron/jobs.json.
	JobsFile string `json:"jobs_file,omitempty"`
	// DaemonIntervalSeconds is the tick period in daemon mode.
	DaemonIntervalSeconds int `json:"daemon_interval_seconds,omitempty"` // default 60
}

// AgentConfig names the external agent command a turn shells out to.
type AgentConfig struct {
	// Command is the agent binary; the prompt is piped on stdin.
	Command string   `json:"command,omitempty"` // default "claude"
	Args    []string `json:"args,omitempty"`
	// TimeoutSeconds bounds a single conversation run.
	TimeoutSeconds int `json:"timeout_seconds,omitempty"` // default 600
}

// ResolveResetPolicy returns the effective policy for a session source:
// platform override > chat-type override > default.
func (c *Config) ResolveResetPolicy(platform bus.Platform, chatType bus.ChatType) ResetPolicy {
	if p, ok := c.Sessions.ResetByPlatform[string(platform)]; ok {
		return normalizePolicy(p, c.Sessions.Reset)
	}
	if p, ok := c.Sessions.ResetByChatType[string(chatType)]; ok {
		return normalizePolicy(p, c.Sessions.Reset)
	}
	return c.Sessions.Reset
}

// normalizePolicy fills unset override fields from the default policy.
func normalizePolicy(p, def ResetPolicy) ResetPolicy {
	if p.Mode == "" {
		p.Mode = def.Mode
	}
	if p.IdleMinutes <= 0 {
		p.IdleMinutes = def.IdleMinutes
	}
	if p.ResetHour < 0 || p.ResetHour > 23 {
		p.ResetHour = def.ResetHour
	}
	return p
}

// EnabledPlatforms lists the platforms the supervisor should start.
// Local is always on.
func (c *Config) EnabledPlatforms() []bus.Platform {
	out := []bus.Platform{bus.PlatformLocal}
	if c.Platforms.Telegram.Enabled {
		out = append(out, bus.PlatformTelegram)
	}
	if c.Platforms.Discord.Enabled {
		out = append(out, bus.PlatformDiscord)
	}
	if c.Platforms.Slack.Enabled {
		out = append(out, bus.PlatformSlack)
	}
	if c.Platforms.WhatsApp.Enabled {
		out = append(out, bus.PlatformWhatsApp)
	}
	return out
}

// HomeChannel returns the configured default chat for a platform.
func (c *Config) HomeChannel(p bus.Platform) string {
	switch p {
	case bus.PlatformTelegram:
		return c.Platforms.Telegram.HomeChannel
	case bus.PlatformDiscord:
		return c.Platforms.Discord.HomeChannel
	case bus.PlatformSlack:
		return c.Platforms.Slack.HomeChannel
	case bus.PlatformWhatsApp:
		return c.Platforms.WhatsApp.HomeChannel
	}
	return ""
}

// Validate checks invariants that must hold before the gateway starts.
func (c *Config) Validate() error {
	if c.Platforms.Telegram.Enabled && c.Platforms.Telegram.Token == "" {
		return fmt.Errorf("%w: telegram enabled without token", ErrConfig)
	}
	if c.Platforms.Discord.Enabled && c.Platforms.Discord.Token == "" {
		return fmt.Errorf("%w: discord enabled without token", ErrConfig)
	}
	if c.Platforms.WhatsApp.Enabled && c.Platforms.WhatsApp.BridgeURL == "" {
		return fmt.Errorf("%w: whatsapp enabled without bridge_url", ErrConfig)
	}
	if err := validatePolicy(c.Sessions.Reset); err != nil {
		return err
	}
	for name, p := range c.Sessions.ResetByPlatform {
		if _, ok := bus.ParsePlatform(name); !ok {
			return fmt.Errorf("%w: reset_by_platform: unknown platform %q", ErrConfig, name)
		}
		if err := validatePolicy(normalizePolicy(p, c.Sessions.Reset)); err != nil {
			return err
		}
	}
	return nil
}

func validatePolicy(p ResetPolicy) error {
	switch p.Mode {
	case ResetDaily, ResetIdle, ResetBoth:
	default:
		return fmt.Errorf("%w: invalid reset mode %q", ErrConfig, p.Mode)
	}
	if p.ResetHour < 0 || p.ResetHour > 23 {
		return fmt.Errorf("%w: reset_hour %d out of range", ErrConfig, p.ResetHour)
	}
	if p.IdleMinutes <= 0 {
		return fmt.Errorf("%w: idle_minutes must be positive", ErrConfig)
	}
	return nil
}
