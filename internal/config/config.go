package config

import (
	"time"

	"github.com/spf13/viper"
)

type AppConfig struct {
	Env      string `mapstructure:"env"`
	Port     int    `mapstructure:"port"`
	LogLevel string `mapstructure:"log_level"`
}

type JWTConfig struct {
	Algorithm     string `mapstructure:"algorithm"`
	HSSecret      string `mapstructure:"hs_secret"`
	PublicKeyPath string `mapstructure:"public_key_path"`
}

type MongoConfig struct {
	URI      string `mapstructure:"uri"`
	Database string `mapstructure:"database"`
}

type RedisConfig struct {
	Addr   string `mapstructure:"addr"`
	Pass   string `mapstructure:"password"`
	DB     int    `mapstructure:"db"`
	Prefix string `mapstructure:"prefix"`
}

type KafkaConfig struct {
	Brokers           []string `mapstructure:"brokers"`
	TopicMessageSent  string   `mapstructure:"topic_message_sent"`
	TopicReceipt      string   `mapstructure:"topic_receipt"`
	TopicNotification string   `mapstructure:"topic_notification"`
}

type DirectoryConfig struct {
	BaseURL        string `mapstructure:"base_url"`
	TimeoutSeconds int    `mapstructure:"timeout_seconds"`
}

type WSConfig struct {
	PingIntervalSeconds  int   `mapstructure:"ping_interval_seconds"`
	WriteDeadlineSeconds int   `mapstructure:"write_deadline_seconds"`
	MaxMessageSizeBytes  int64 `mapstructure:"max_message_size_bytes"`
	SendBuffer           int   `mapstructure:"send_buffer"`
}

type DeliveryConfig struct {
	PushRetries        int `mapstructure:"push_retries"`
	PushBackoffMillis  int `mapstructure:"push_backoff_millis"`
	DeleteWindowHours  int `mapstructure:"delete_window_hours"`
	RateLimitPerMinute int `mapstructure:"rate_limit_per_minute"`
}

type Config struct {
	App       AppConfig       `mapstructure:"app"`
	JWT       JWTConfig       `mapstructure:"jwt"`
	Mongo     MongoConfig     `mapstructure:"mongo"`
	Redis     RedisConfig     `mapstructure:"redis"`
	Kafka     KafkaConfig     `mapstructure:"kafka"`
	Directory DirectoryConfig `mapstructure:"directory"`
	WS        WSConfig        `mapstructure:"ws"`
	Delivery  DeliveryConfig  `mapstructure:"delivery"`

	// derived
	PingInterval     time.Duration
	WriteDeadline    time.Duration
	DirectoryTimeout time.Duration
	PushBackoff      time.Duration
	DeleteWindow     time.Duration
}

func Load(path string) (*Config, error) {
	v := viper.New()
	v.SetConfigFile(path)
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		return nil, err
	}
	var c Config
	if err := v.Unmarshal(&c); err != nil {
		return nil, err
	}
	if c.App.Port == 0 {
		c.App.Port = 8080
	}
	if c.WS.PingIntervalSeconds == 0 {
		c.WS.PingIntervalSeconds = 25
	}
	if c.WS.WriteDeadlineSeconds == 0 {
		c.WS.WriteDeadlineSeconds = 10
	}
	if c.WS.MaxMessageSizeBytes == 0 {
		c.WS.MaxMessageSizeBytes = 65536
	}
	if c.WS.SendBuffer == 0 {
		c.WS.SendBuffer = 256
	}
	if c.Delivery.PushRetries == 0 {
		c.Delivery.PushRetries = 3
	}
	if c.Delivery.PushBackoffMillis == 0 {
		c.Delivery.PushBackoffMillis = 100
	}
	if c.Delivery.DeleteWindowHours == 0 {
		c.Delivery.DeleteWindowHours = 1
	}
	if c.Delivery.RateLimitPerMinute == 0 {
		c.Delivery.RateLimitPerMinute = 300
	}
	if c.Directory.TimeoutSeconds == 0 {
		c.Directory.TimeoutSeconds = 5
	}
	c.PingInterval = time.Duration(c.WS.PingIntervalSeconds) * time.Second
	c.WriteDeadline = time.Duration(c.WS.WriteDeadlineSeconds) * time.Second
	c.DirectoryTimeout = time.Duration(c.Directory.TimeoutSeconds) * time.Second
	c.PushBackoff = time.Duration(c.Delivery.PushBackoffMillis) * time.Millisecond
	c.DeleteWindow = time.Duration(c.Delivery.DeleteWindowHours) * time.Hour
	return &c, nil
}
