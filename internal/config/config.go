package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Config top-level application configuration
type Config struct {
	Server     ServerConfig     `yaml:"server"`
	Database   DatabaseConfig   `yaml:"database"`
	Redis      RedisConfig      `yaml:"redis"`
	JWT        JWTConfig        `yaml:"jwt"`
	Stash      StashConfig      `yaml:"stash"`
	Moderation ModerationConfig `yaml:"moderation"`
}

// ServerConfig HTTP server settings
type ServerConfig struct {
	Port int    `yaml:"port"`
	Env  string `yaml:"env"`
}

// DatabaseConfig MySQL connection settings
type DatabaseConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	User     string `yaml:"user"`
	Password string `yaml:"password"`
	Name     string `yaml:"name"`
}

// DSN builds the MySQL connection string
func (d DatabaseConfig) DSN() string {
	return fmt.Sprintf("%s:%s@tcp(%s:%d)/%s?charset=utf8mb4&parseTime=True&loc=Local",
		d.User, d.Password, d.Host, d.Port, d.Name)
}

// RedisConfig Redis connection settings
type RedisConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
	PoolSize int    `yaml:"pool_size"`
}

// JWTConfig moderator API token settings
type JWTConfig struct {
	Secret string `yaml:"secret"`
}

// StashConfig S3-compatible staged-upload storage settings
type StashConfig struct {
	Endpoint        string `yaml:"endpoint"`
	Region          string `yaml:"region"`
	AccessKeyID     string `yaml:"access_key_id"`
	SecretAccessKey string `yaml:"secret_access_key"`
	Bucket          string `yaml:"bucket"`
	BasePath        string `yaml:"base_path"`
	ForcePathStyle  bool   `yaml:"force_path_style"`
}

// ModerationConfig moderation queue policy settings
type ModerationConfig struct {
	// Enabled toggles the whole queue. When false every action skips moderation.
	Enabled bool `yaml:"enabled"`
	// IgnoreNamespaces are exempt from moderation.
	IgnoreNamespaces []int `yaml:"ignore_namespaces"`
	// OnlyNamespaces, when non-empty, restricts moderation to the listed
	// namespaces; everything else is exempt.
	OnlyNamespaces []int `yaml:"only_namespaces"`
	// RejectedHorizon is the maximum age after which a rejected entry can no
	// longer be approved.
	RejectedHorizon time.Duration `yaml:"rejected_horizon"`
	// NotifyNewOnly limits moderator mail notifications to new-page entries.
	NotifyNewOnly bool `yaml:"notify_new_only"`
	// NotifyEmail receives moderator notifications; empty disables mail.
	NotifyEmail string `yaml:"notify_email"`
}

// DefaultRejectedHorizon matches the legacy two-week window
const DefaultRejectedHorizon = 14 * 24 * time.Hour

// Load reads a yaml config file and applies environment overrides.
// Env vars win over file values, matching the dotenv precedence.
func Load(path string) (*Config, error) {
	cfg := &Config{
		Server: ServerConfig{Port: 8082, Env: "local"},
		Moderation: ModerationConfig{
			Enabled:         true,
			RejectedHorizon: DefaultRejectedHorizon,
		},
		Redis: RedisConfig{PoolSize: 10},
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config %s: %w", path, err)
	}

	applyEnvOverrides(cfg)

	if cfg.Moderation.RejectedHorizon <= 0 {
		cfg.Moderation.RejectedHorizon = DefaultRejectedHorizon
	}
	return cfg, nil
}

func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("DB_HOST"); v != "" {
		cfg.Database.Host = v
	}
	if v := os.Getenv("DB_USER"); v != "" {
		cfg.Database.User = v
	}
	if v := os.Getenv("DB_PASSWORD"); v != "" {
		cfg.Database.Password = v
	}
	if v := os.Getenv("DB_NAME"); v != "" {
		cfg.Database.Name = v
	}
	if v := os.Getenv("REDIS_HOST"); v != "" {
		cfg.Redis.Host = v
	}
	if v := os.Getenv("JWT_SECRET"); v != "" {
		cfg.JWT.Secret = v
	}
	if v := os.Getenv("STASH_ACCESS_KEY_ID"); v != "" {
		cfg.Stash.AccessKeyID = v
	}
	if v := os.Getenv("STASH_SECRET_ACCESS_KEY"); v != "" {
		cfg.Stash.SecretAccessKey = v
	}
}
