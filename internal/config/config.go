package config

import (
	"fmt"
	"os"
	"time"

	"github.com/spf13/viper"
)

type Config struct {
	Server    ServerConfig    `mapstructure:"server"`
	Auth      AuthConfig      `mapstructure:"auth"`
	Bot       BotConfig       `mapstructure:"bot"`
	Bridge    BridgeConfig    `mapstructure:"bridge"`
	Logging   LoggingConfig   `mapstructure:"logging"`
	Telegram  TelegramConfig  `mapstructure:"telegram"`
}

type ServerConfig struct {
	HTTPPort        int           `mapstructure:"http_port"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
}

// Auth Configuration
type AuthConfig struct {
	JWTSecretEnv   string        `mapstructure:"jwt_secret_env"`
	AccessTokenTTL time.Duration `mapstructure:"access_token_ttl"`
	Users          []UserConfig  `mapstructure:"users"`
}

type UserConfig struct {
	Username     string `mapstructure:"username"`
	PasswordHash string `mapstructure:"password_hash"` // Argon2id encoded
	Role         string `mapstructure:"role"`          // admin | operator
}

type BotConfig struct {
	Interpreter string `mapstructure:"interpreter"`
	StartScript string `mapstructure:"start_script"`
	AccountsDir string `mapstructure:"accounts_dir"`
}

type BridgeConfig struct {
	AdbPath           string            `mapstructure:"adb_path"`
	ScrcpyPath        string            `mapstructure:"scrcpy_path"`
	CommandTimeout    time.Duration     `mapstructure:"command_timeout"`
	EnumerateInterval time.Duration     `mapstructure:"enumerate_interval"`
	BatteryInterval   time.Duration     `mapstructure:"battery_interval"`
	DeviceLabels      map[string]string `mapstructure:"device_labels"`
}

type LoggingConfig struct {
	Level      string `mapstructure:"level"`
	File       string `mapstructure:"file"`
	MaxSizeMB  int    `mapstructure:"max_size_mb"`
	MaxBackups int    `mapstructure:"max_backups"`
	MaxAgeDays int    `mapstructure:"max_age_days"`
}

type TelegramConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Token   string `mapstructure:"token"`
	ChatID  string `mapstructure:"chat_id"`
}

func Load(path string) (*Config, error) {
	viper.SetConfigFile(path)
	viper.SetConfigType("yaml")

	// Defaults setzen
	viper.SetDefault("server.http_port", 8080)
	viper.SetDefault("server.shutdown_timeout", "30s")
	viper.SetDefault("bot.interpreter", "python3")
	viper.SetDefault("bot.start_script", "scripts/start_bot.py")
	viper.SetDefault("bot.accounts_dir", "accounts")
	viper.SetDefault("bridge.adb_path", "adb")
	viper.SetDefault("bridge.scrcpy_path", "scrcpy")
	viper.SetDefault("bridge.command_timeout", "10s")
	viper.SetDefault("bridge.enumerate_interval", "30s")
	viper.SetDefault("bridge.battery_interval", "60s")
	viper.SetDefault("logging.level", "info")

	// Auth Defaults
	viper.SetDefault("auth.jwt_secret_env", "JWT_SECRET")
	viper.SetDefault("auth.access_token_ttl", "60m")

	// Environment Variables automatisch binden (Viper Feature)
	viper.AutomaticEnv()
	viper.SetEnvPrefix("OFC") // Environment Variables mit Prefix OFC_

	if err := viper.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("failed to read config: %w", err)
	}

	var config Config
	if err := viper.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	return &config, nil
}

// JWT Secret aus Environment Variable laden
func (a *AuthConfig) GetJWTSecret() string {
	envVar := a.JWTSecretEnv
	if envVar == "" {
		envVar = "JWT_SECRET" // Fallback
	}

	secret := os.Getenv(envVar)
	if secret == "" {
		// Development Fallback (MIT WARNING!)
		return "dev-secret-change-in-production-min-32-chars"
	}
	return secret
}

// Helper um zu prüfen ob Production-Ready
func (a *AuthConfig) IsProductionReady() bool {
	secret := a.GetJWTSecret()
	return secret != "dev-secret-change-in-production-min-32-chars" && len(secret) >= 32
}
