package config

import (
	"errors"
	"fmt"
	log "log/slog"
	"strings"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// Cfg 全局可访问的配置实例
var Cfg *Config

// LoadConfig 从文件加载配置并填充到 Cfg，环境变量优先级高于配置文件
func LoadConfig() error {
	if err := godotenv.Load(); err != nil {
		log.Info("No .env file found, using config file and environment")
	}

	v := viper.New()
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath("./configs")

	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		var configFileNotFoundError viper.ConfigFileNotFoundError
		if !errors.As(err, &configFileNotFoundError) {
			return fmt.Errorf("failed to read config: %w", err)
		}
		log.Warn("Config file not found, falling back to defaults and environment")
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return fmt.Errorf("failed to unmarshal config: %w", err)
	}

	Cfg = &cfg

	return nil
}

func setDefaults(v *viper.Viper) {
	im := DefaultIMConfig()
	v.SetDefault("server.port", 8080)
	v.SetDefault("mongo.database", "parley")
	v.SetDefault("kafka.topic", "im.message.events")
	v.SetDefault("kafka.producer.flush_frequency", 500)
	v.SetDefault("kafka.producer.retry_max", 3)
	v.SetDefault("kafka.producer.send_timeout", 2000)
	v.SetDefault("logstash.index", "logstash-parley")
	v.SetDefault("im.store_timeout", im.StoreTimeout)
	v.SetDefault("im.publish_timeout", im.PublishTimeout)
	v.SetDefault("im.edit_window", im.EditWindow)
	v.SetDefault("im.default_page_size", im.DefaultPageSize)
	v.SetDefault("im.max_page_size", im.MaxPageSize)
	v.SetDefault("im.sweep_spec", im.SweepSpec)
}
