package config

import (
	"fmt"
	"os"
	"time"

	"github.com/spf13/viper"
)

type Config struct {
	Mode       string `mapstructure:"mode"`
	Port       int    `mapstructure:"port"`
	StaticPath string `mapstructure:"static_path"`
	Secret     string `mapstructure:"secret"`

	ReadLimit int64 `mapstructure:"read_limit"`
	SendQueue int   `mapstructure:"send_queue"`

	PingTimeout     time.Duration `mapstructure:"ping_timeout"`
	SendTimeout     time.Duration `mapstructure:"send_timeout"`
	DisconnectDelay time.Duration `mapstructure:"disconnect_delay"`

	SweepInterval time.Duration `mapstructure:"sweep_interval"`
	MaxIdle       time.Duration `mapstructure:"max_idle"`
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
	v.SetDefault("port", 5540)
	v.SetDefault("static_path", "./web")
	v.SetDefault("read_limit", 32768)
	v.SetDefault("send_queue", 32)
	v.SetDefault("ping_timeout", "60s")
	v.SetDefault("send_timeout", "5s")
	v.SetDefault("disconnect_delay", "1s")
	v.SetDefault("sweep_interval", "30s")
	v.SetDefault("max_idle", "2h")

	if err := v.ReadInConfig(); err != nil {
		fmt.Printf("config file not found (%s), using defaults\n", fileName)
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	return &cfg, nil
}
