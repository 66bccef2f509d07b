package config

import (
	"fmt"
	"os"
	"time"

	"github.com/spf13/viper"
)

type Config struct {
	Mode      string `mapstructure:"mode"`
	SignalURL string `mapstructure:"signal_url"`

	// signald only.
	Port   int    `mapstructure:"port"`
	Secret string `mapstructure:"secret"`

	DialTimeout    time.Duration `mapstructure:"dial_timeout"`
	DialRetries    int           `mapstructure:"dial_retries"`
	DialRetryDelay time.Duration `mapstructure:"dial_retry_delay"`

	HistoryChunkSize   int           `mapstructure:"history_chunk_size"`
	HistorySettleDelay time.Duration `mapstructure:"history_settle_delay"`

	TypingInterval time.Duration `mapstructure:"typing_interval"`
	TypingQuiet    time.Duration `mapstructure:"typing_quiet"`

	EvictionGrace      time.Duration `mapstructure:"eviction_grace"`
	SupervisorInterval time.Duration `mapstructure:"supervisor_interval"`

	BotName      string `mapstructure:"bot_name"`
	ResponderURL string `mapstructure:"responder_url"`

	ProfilePath string `mapstructure:"profile_path"`
}

func Load() (*Config, error) {
	v := viper.New()
	v.SetConfigType("yaml")

	env := os.Getenv("CONFIG_ENV")
	if env == "" {
		env = "dev"
	}
	fileName := fmt.Sprintf("config/config.%s.yaml", env)

	v.SetConfigFile(fileName)
	v.AddConfigPath(".")
	v.AddConfigPath("./config")

	v.SetDefault("mode", "release")
	v.SetDefault("signal_url", "ws://localhost:8080/ws/signal")
	v.SetDefault("port", 8080)
	v.SetDefault("secret", "dev-secret")
	v.SetDefault("dial_timeout", "30s")
	v.SetDefault("dial_retries", 3)
	v.SetDefault("dial_retry_delay", "2s")
	v.SetDefault("history_chunk_size", 25)
	v.SetDefault("history_settle_delay", "300ms")
	v.SetDefault("typing_interval", "1500ms")
	v.SetDefault("typing_quiet", "2s")
	v.SetDefault("eviction_grace", "250ms")
	v.SetDefault("supervisor_interval", "3s")
	v.SetDefault("bot_name", "bot")
	v.SetDefault("profile_path", ".meshchat/profile.json")

	if err := v.ReadInConfig(); err != nil {
		fmt.Printf("config file not found (%s), using defaults\n", fileName)
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	return &cfg, nil
}
