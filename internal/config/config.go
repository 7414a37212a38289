// Package config provides configuration management for the application.
package config

import (
	"fmt"
	"strings"

	"github.com/spf13/viper"
)

type Config struct {
	Server    ServerConfig    `mapstructure:"server"`
	Database  DatabaseConfig  `mapstructure:"database"`
	Redis     RedisConfig     `mapstructure:"redis"`
	Kafka     KafkaConfig     `mapstructure:"kafka"`
	Queue     QueueConfig     `mapstructure:"queue"`
	WhatsApp  WhatsAppConfig  `mapstructure:"whatsapp"`
	Processor ProcessorConfig `mapstructure:"processor"`
	Flow      FlowConfig      `mapstructure:"flow"`
	Broadcast BroadcastConfig `mapstructure:"broadcast"`
}

type ServerConfig struct {
	Port         string `mapstructure:"port"`
	ReadTimeout  int    `mapstructure:"read_timeout"`
	WriteTimeout int    `mapstructure:"write_timeout"`
}

type DatabaseConfig struct {
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	User     string `mapstructure:"user"`
	Password string `mapstructure:"password"`
	DBName   string `mapstructure:"dbname"`
	SSLMode  string `mapstructure:"sslmode"`
}

type RedisConfig struct {
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

type KafkaConfig struct {
	Brokers []string `mapstructure:"brokers"`
	Topic   string   `mapstructure:"topic"`
	GroupID string   `mapstructure:"group_id"`
}

// QueueConfig selects the broadcast queue driver. The redis driver uses a
// blocking list pop, the kafka driver a consumer-group subscription; both
// carry the same micro-batch payload.
type QueueConfig struct {
	Driver string `mapstructure:"driver"`
	Name   string `mapstructure:"name"`
}

type WhatsAppConfig struct {
	BaseURL        string               `mapstructure:"base_url"`
	APIVersion     string               `mapstructure:"api_version"`
	VerifyToken    string               `mapstructure:"verify_token"`
	AppSecret      string               `mapstructure:"app_secret"`
	Timeout        int                  `mapstructure:"timeout"`
	CircuitBreaker CircuitBreakerConfig `mapstructure:"circuit_breaker"`
}

type CircuitBreakerConfig struct {
	MaxRequests      uint32  `mapstructure:"max_requests"`
	Interval         int     `mapstructure:"interval"`
	Timeout          int     `mapstructure:"timeout"`
	FailureRatio     float64 `mapstructure:"failure_ratio"`
	ConsecutiveFails uint32  `mapstructure:"consecutive_fails"`
}

// ProcessorConfig drives the webhook-log sweep.
type ProcessorConfig struct {
	IntervalSeconds int `mapstructure:"interval_seconds"`
	BatchSize       int `mapstructure:"batch_size"`
	StatusBatchMax  int `mapstructure:"status_batch_max"`
}

type FlowConfig struct {
	SuspendTimeoutMinutes int `mapstructure:"suspend_timeout_minutes"`
	MaxSteps              int `mapstructure:"max_steps"`
}

type BroadcastConfig struct {
	DefaultMessagesPerSecond int `mapstructure:"default_messages_per_second"`
	RetryAttempts            int `mapstructure:"retry_attempts"`
	RetryBackoffSeconds      int `mapstructure:"retry_backoff_seconds"`
}

func LoadConfig(configPath string) (*Config, error) {
	viper.SetConfigFile(configPath)
	viper.SetConfigType("yaml")

	viper.SetDefault("server.port", "8080")
	viper.SetDefault("server.read_timeout", 10)
	viper.SetDefault("server.write_timeout", 10)
	viper.SetDefault("database.sslmode", "disable")
	viper.SetDefault("redis.db", 0)
	viper.SetDefault("kafka.topic", "broadcast-batches")
	viper.SetDefault("kafka.group_id", "broadcast-workers")
	viper.SetDefault("queue.driver", "redis")
	viper.SetDefault("queue.name", "broadcast:batches")
	viper.SetDefault("whatsapp.base_url", "https://graph.facebook.com")
	viper.SetDefault("whatsapp.api_version", "v23.0")
	viper.SetDefault("whatsapp.timeout", 20)
	viper.SetDefault("whatsapp.circuit_breaker.max_requests", 3)
	viper.SetDefault("whatsapp.circuit_breaker.interval", 60)
	viper.SetDefault("whatsapp.circuit_breaker.timeout", 60)
	viper.SetDefault("whatsapp.circuit_breaker.failure_ratio", 0.6)
	viper.SetDefault("whatsapp.circuit_breaker.consecutive_fails", 5)
	viper.SetDefault("processor.interval_seconds", 30)
	viper.SetDefault("processor.batch_size", 500)
	viper.SetDefault("processor.status_batch_max", 1000)
	viper.SetDefault("flow.suspend_timeout_minutes", 10)
	viper.SetDefault("flow.max_steps", 50)
	viper.SetDefault("broadcast.default_messages_per_second", 80)
	viper.SetDefault("broadcast.retry_attempts", 3)
	viper.SetDefault("broadcast.retry_backoff_seconds", 2)

	if err := viper.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.AutomaticEnv()

	var config Config
	if err := viper.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	return &config, nil
}

// GetDSN returns PostgreSQL connection string.
func (d *DatabaseConfig) GetDSN() string {
	return fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		d.Host, d.Port, d.User, d.Password, d.DBName, d.SSLMode)
}

// Addr returns the host:port address for the Redis client.
func (r *RedisConfig) Addr() string {
	return fmt.Sprintf("%s:%d", r.Host, r.Port)
}
