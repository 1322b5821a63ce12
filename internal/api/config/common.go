package config

import "time"

// Config 配置主体
type Config struct {
	Server   ServerConfig   `mapstructure:"server"`
	DB       DBConfig       `mapstructure:"database"`
	Redis    RedisConfig    `mapstructure:"redis"`
	Mongo    MongoConfig    `mapstructure:"mongo"`
	Kafka    KafkaConfig    `mapstructure:"kafka"`
	Logstash LogstashConfig `mapstructure:"logstash"`
	JWT      JWTConfig      `mapstructure:"jwt"`
	IM       IMConfig       `mapstructure:"im"`
}

// ServerConfig Server配置
type ServerConfig struct {
	Port int `mapstructure:"port"`
}

// DBConfig 数据库配置
type DBConfig struct {
	DSN         string `mapstructure:"dsn"`
	MaxIdle     int    `mapstructure:"max_idle"`
	MaxOpen     int    `mapstructure:"max_open"`
	MaxLifetime int    `mapstructure:"max_lifetime"`
}

type RedisConfig struct {
	Addr     string `mapstructure:"addr"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
	PoolSize int    `mapstructure:"pool_size"`
}

type MongoConfig struct {
	URL      string `mapstructure:"url"`
	Database string `mapstructure:"database"`
}

type KafkaConfig struct {
	Enable   bool           `mapstructure:"enable"`
	Brokers  []string       `mapstructure:"brokers"`
	Topic    string         `mapstructure:"topic"`
	Sasl     SaslConfig     `mapstructure:"sasl"`
	Producer ProducerConfig `mapstructure:"producer"`
}

type SaslConfig struct {
	Enable   bool   `mapstructure:"enable"`
	Username string `mapstructure:"username"`
	Password string `mapstructure:"password"`
}

type ProducerConfig struct {
	FlushFrequency int `mapstructure:"flush_frequency"` // 毫秒
	RetryMax       int `mapstructure:"retry_max"`
	SendTimeout    int `mapstructure:"send_timeout"` // 毫秒，输入队列满时最多等待这么久
}

type LogstashConfig struct {
	Address string `mapstructure:"address"`
	Index   string `mapstructure:"index"`
	Token   string `mapstructure:"token"`
}

type JWTConfig struct {
	Secret string `mapstructure:"secret"`
}

// IMConfig 消息投递相关参数
type IMConfig struct {
	StoreTimeout    time.Duration `mapstructure:"store_timeout"`
	PublishTimeout  time.Duration `mapstructure:"publish_timeout"`
	EditWindow      time.Duration `mapstructure:"edit_window"`
	DefaultPageSize int           `mapstructure:"default_page_size"`
	MaxPageSize     int           `mapstructure:"max_page_size"`
	SweepSpec       string        `mapstructure:"sweep_spec"`
}

// DefaultIMConfig 未配置时使用的投递参数
func DefaultIMConfig() IMConfig {
	return IMConfig{
		StoreTimeout:    3 * time.Second,
		PublishTimeout:  2 * time.Second,
		EditWindow:      15 * time.Minute,
		DefaultPageSize: 50,
		MaxPageSize:     200,
		SweepSpec:       "@every 1m",
	}
}
