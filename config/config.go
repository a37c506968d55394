package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds everything the reconciler needs. Components receive it (or a
// sub-struct) at construction; there is no global configuration state.
type Config struct {
	HelloAsso  HelloAssoConfig  `yaml:"helloasso"`
	Discord    DiscordConfig    `yaml:"discord"`
	Membership MembershipConfig `yaml:"membership"`
	Storage    StorageConfig    `yaml:"storage"`
	Sync       SyncConfig       `yaml:"sync"`
}

// HelloAssoConfig holds membership-source credentials and form coordinates.
type HelloAssoConfig struct {
	APIBase          string `yaml:"api_base"`
	ClientID         string `yaml:"client_id"`
	ClientSecret     string `yaml:"client_secret"`
	OrganizationSlug string `yaml:"organization_slug"`
	FormSlug         string `yaml:"form_slug"`
	// FieldName is the custom form field holding the Discord username.
	FieldName string        `yaml:"field_name"`
	Timeout   time.Duration `yaml:"timeout"`
}

// DiscordConfig holds chat-platform coordinates.
type DiscordConfig struct {
	BotToken   string `yaml:"bot_token"`
	GuildID    int64  `yaml:"server_id"`
	RoleID     int64  `yaml:"role_id"`
	WebhookURL string `yaml:"webhook_url"`
	// Dry logs every mutating call instead of performing it.
	Dry bool `yaml:"dry"`
}

// MembershipConfig holds expiration arithmetic and notification texts.
type MembershipConfig struct {
	DurationYears int      `yaml:"duration_years"`
	GraceDays     int      `yaml:"grace_days"`
	Locale        string   `yaml:"locale"`
	Messages      Messages `yaml:"messages"`
}

// Messages are notification templates. "{date}" expands to the localized
// expiration date, "{ago}" to the humanized time since expiration.
type Messages struct {
	Welcome       string `yaml:"welcome"`
	ExpiredRecent string `yaml:"expired_recent"`
	ExpiredLong   string `yaml:"expired_long"`
}

// StorageConfig selects the member store: the mongo store when a URI is set,
// the JSON save file otherwise.
type StorageConfig struct {
	SaveFile    string `yaml:"save_file"`
	MongoDBURI  string `yaml:"mongodb_uri"`
	MongoDBName string `yaml:"mongodb_name"`
}

// SyncConfig controls the run loop. Interval 0 means run once and exit.
type SyncConfig struct {
	Interval   time.Duration `yaml:"interval"`
	ListenAddr string        `yaml:"listen_addr"`
}

// LoadConfig reads the YAML file and applies environment overrides.
func LoadConfig(filename string) (*Config, error) {
	var cfg Config

	data, err := os.ReadFile(filename)
	if err != nil {
		if !os.IsNotExist(err) {
			return nil, fmt.Errorf("failed to read config: %w", err)
		}
	} else if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	cfg.applyEnv()
	cfg.applyDefaults()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

func (cfg *Config) applyEnv() {
	if v := os.Getenv("HELLOASSO_CLIENT_ID"); v != "" {
		cfg.HelloAsso.ClientID = v
	}
	if v := os.Getenv("HELLOASSO_CLIENT_SECRET"); v != "" {
		cfg.HelloAsso.ClientSecret = v
	}
	if v := os.Getenv("DISCORD_BOT_TOKEN"); v != "" {
		cfg.Discord.BotToken = v
	}
	if v := os.Getenv("DISCORD_WEBHOOK_URL"); v != "" {
		cfg.Discord.WebhookURL = v
	}
	if v := os.Getenv("DISCORD_DRY"); v != "" {
		cfg.Discord.Dry = v == "true" || v == "1"
	}
	if v := os.Getenv("MONGODB_URI"); v != "" {
		cfg.Storage.MongoDBURI = v
	}
	if v := os.Getenv("MONGODB_NAME"); v != "" {
		cfg.Storage.MongoDBName = v
	}
	if v := os.Getenv("LISTEN_ADDR"); v != "" {
		cfg.Sync.ListenAddr = v
	}
	if v := os.Getenv("SYNC_INTERVAL"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.Sync.Interval = d
		}
	}
	if v := os.Getenv("DISCORD_SERVER_ID"); v != "" {
		if id, err := strconv.ParseInt(v, 10, 64); err == nil {
			cfg.Discord.GuildID = id
		}
	}
	if v := os.Getenv("DISCORD_ROLE_ID"); v != "" {
		if id, err := strconv.ParseInt(v, 10, 64); err == nil {
			cfg.Discord.RoleID = id
		}
	}
}

func (cfg *Config) applyDefaults() {
	if cfg.HelloAsso.APIBase == "" {
		cfg.HelloAsso.APIBase = "https://api.helloasso.com"
	}
	if cfg.HelloAsso.Timeout == 0 {
		cfg.HelloAsso.Timeout = 30 * time.Second
	}
	if cfg.Membership.DurationYears == 0 {
		cfg.Membership.DurationYears = 1
	}
	if cfg.Membership.GraceDays == 0 {
		cfg.Membership.GraceDays = 30
	}
	if cfg.Membership.Locale == "" {
		cfg.Membership.Locale = "fr_FR"
	}
	if cfg.Membership.Messages.Welcome == "" {
		cfg.Membership.Messages.Welcome = "Bienvenue ! Ton adhésion est active jusqu'au {date}."
	}
	if cfg.Membership.Messages.ExpiredRecent == "" {
		cfg.Membership.Messages.ExpiredRecent = "Ton adhésion a expiré le {date}. Pense à la renouveler !"
	}
	if cfg.Membership.Messages.ExpiredLong == "" {
		cfg.Membership.Messages.ExpiredLong = "Ton adhésion a expiré {ago}. Renouvelle-la pour retrouver l'accès."
	}
	if cfg.Storage.SaveFile == "" {
		cfg.Storage.SaveFile = "save.json"
	}
	if cfg.Storage.MongoDBName == "" {
		cfg.Storage.MongoDBName = "rolesync"
	}
	if cfg.Sync.ListenAddr == "" {
		cfg.Sync.ListenAddr = ":8080"
	}
}

// Validate enumerates the required fields.
func (cfg *Config) Validate() error {
	if cfg.HelloAsso.ClientID == "" {
		return fmt.Errorf("helloasso.client_id is required")
	}
	if cfg.HelloAsso.ClientSecret == "" {
		return fmt.Errorf("helloasso.client_secret is required")
	}
	if cfg.HelloAsso.OrganizationSlug == "" {
		return fmt.Errorf("helloasso.organization_slug is required")
	}
	if cfg.HelloAsso.FormSlug == "" {
		return fmt.Errorf("helloasso.form_slug is required")
	}
	if cfg.HelloAsso.FieldName == "" {
		return fmt.Errorf("helloasso.field_name is required")
	}
	if cfg.Discord.BotToken == "" {
		return fmt.Errorf("discord.bot_token is required")
	}
	if cfg.Discord.GuildID == 0 {
		return fmt.Errorf("discord.server_id is required")
	}
	if cfg.Discord.RoleID == 0 {
		return fmt.Errorf("discord.role_id is required")
	}
	return nil
}

// GraceWindow is the configured span after expiration during which the
// softer notice is sent.
func (m MembershipConfig) GraceWindow() time.Duration {
	return time.Duration(m.GraceDays) * 24 * time.Hour
}
