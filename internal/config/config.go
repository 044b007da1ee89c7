package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config 描述了网关在启动阶段需要加载的核心配置。
type Config struct {
	Server        ServerConfig        `json:"server" yaml:"server"`
	FutureHouse   FutureHouseConfig   `json:"futurehouse" yaml:"futurehouse"`
	Gateway       GatewayConfig       `json:"gateway" yaml:"gateway"`
	History       HistoryConfig       `json:"history" yaml:"history"`
	Notify        NotifyConfig        `json:"notify" yaml:"notify"`
	Logging       LoggingConfig       `json:"logging" yaml:"logging"`
	Observability ObservabilityConfig `json:"observability" yaml:"observability"`
}

// ServerConfig 控制 API 服务的监听地址等参数。
type ServerConfig struct {
	Address string `json:"address" yaml:"address"`
	// AuthToken 非空时要求请求携带 Bearer Token。
	AuthToken string `json:"auth_token" yaml:"auth_token"`
}

// FutureHouseConfig 描述访问 FutureHouse 远端服务所需的信息。
type FutureHouseConfig struct {
	BaseURL             string `json:"base_url" yaml:"base_url"`
	APIKey              string `json:"api_key" yaml:"api_key"`
	APIKeyEnv           string `json:"api_key_env" yaml:"api_key_env"`
	TimeoutSeconds      int    `json:"timeout_seconds" yaml:"timeout_seconds"`
	PollIntervalSeconds int    `json:"poll_interval_seconds" yaml:"poll_interval_seconds"`
}

// Timeout 返回单次远端调用的超时时间。
func (c FutureHouseConfig) Timeout() time.Duration {
	if c.TimeoutSeconds <= 0 {
		return 60 * time.Second
	}
	return time.Duration(c.TimeoutSeconds) * time.Second
}

// PollInterval 返回轮询远端任务状态的间隔。
func (c FutureHouseConfig) PollInterval() time.Duration {
	if c.PollIntervalSeconds <= 0 {
		return 5 * time.Second
	}
	return time.Duration(c.PollIntervalSeconds) * time.Second
}

// GatewayConfig 控制批量执行等网关自身的行为。
type GatewayConfig struct {
	// BatchWorkers 限制批量执行时的并发上限。
	BatchWorkers int `json:"batch_workers" yaml:"batch_workers"`
}

// HistoryConfig 描述提交历史的存储后端。
type HistoryConfig struct {
	Driver string            `json:"driver" yaml:"driver"`
	DSN    string            `json:"dsn" yaml:"dsn"`
	Redis  RedisConfig       `json:"redis" yaml:"redis"`
	Memory MemoryStoreConfig `json:"memory" yaml:"memory"`
}

// RedisConfig 描述 Redis 后端的连接参数。
type RedisConfig struct {
	Address   string `json:"address" yaml:"address"`
	Password  string `json:"password" yaml:"password"`
	DB        int    `json:"db" yaml:"db"`
	KeyPrefix string `json:"key_prefix" yaml:"key_prefix"`
}

// MemoryStoreConfig 控制内存后端的容量。
type MemoryStoreConfig struct {
	MaxEntries int `json:"max_entries" yaml:"max_entries"`
}

// NotifyConfig 描述任务生命周期事件的通知方式。
type NotifyConfig struct {
	// Driver 支持 ""（关闭）、"log"、"rabbitmq"。
	Driver   string         `json:"driver" yaml:"driver"`
	RabbitMQ RabbitMQConfig `json:"rabbitmq" yaml:"rabbitmq"`
}

// RabbitMQConfig 描述 RabbitMQ 通知器的连接参数。
type RabbitMQConfig struct {
	URL        string `json:"url" yaml:"url"`
	Queue      string `json:"queue" yaml:"queue"`
	Durable    bool   `json:"durable" yaml:"durable"`
	AutoDelete bool   `json:"auto_delete" yaml:"auto_delete"`
}

// LoggingConfig 控制日志输出行为。
type LoggingConfig struct {
	Level       string      `json:"level" yaml:"level"`
	Format      string      `json:"format" yaml:"format"`
	OutputPaths []string    `json:"output_paths" yaml:"output_paths"`
	Audit       AuditConfig `json:"audit" yaml:"audit"`
}

// AuditConfig 控制审计日志输出。
type AuditConfig struct {
	Enabled    bool   `json:"enabled" yaml:"enabled"`
	Path       string `json:"path" yaml:"path"`
	MaxSizeMB  int    `json:"max_size_mb" yaml:"max_size_mb"`
	MaxBackups int    `json:"max_backups" yaml:"max_backups"`
	MaxAgeDays int    `json:"max_age_days" yaml:"max_age_days"`
}

// ObservabilityConfig 控制指标暴露。
type ObservabilityConfig struct {
	// MetricsAddress 非空时在独立端口暴露 /metrics。
	MetricsAddress string `json:"metrics_address" yaml:"metrics_address"`
}

// Load 负责解析指定路径的 JSON 或 YAML 配置文件。
func Load(path string) (*Config, error) {
	if path == "" {
		return nil, errors.New("配置文件路径为空")
	}

	content, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("读取配置文件失败: %w", err)
	}

	var cfg Config
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(content, &cfg); err != nil {
			return nil, fmt.Errorf("解析 YAML 配置失败: %w", err)
		}
	default:
		if err := json.Unmarshal(content, &cfg); err != nil {
			return nil, fmt.Errorf("解析 JSON 配置失败: %w", err)
		}
	}

	cfg.applyEnvOverrides()
	cfg.applyDefaults()

	return &cfg, nil
}

// Default 返回仅依赖环境变量的配置，供没有配置文件的部署使用。
func Default() *Config {
	cfg := &Config{}
	cfg.applyEnvOverrides()
	cfg.applyDefaults()
	return cfg
}

// applyEnvOverrides 使用环境变量覆盖部分字段，保持与容器部署的约定一致。
func (c *Config) applyEnvOverrides() {
	if key := strings.TrimSpace(os.Getenv("FUTUREHOUSE_API_KEY")); key != "" {
		c.FutureHouse.APIKey = key
	}
	if port := strings.TrimSpace(os.Getenv("PORT")); port != "" {
		c.Server.Address = ":" + port
	}
	if debug := strings.TrimSpace(os.Getenv("DEBUG")); strings.EqualFold(debug, "true") {
		c.Logging.Level = "debug"
	}
}

// applyDefaults 在用户未填写部分字段时设置合理的默认值。
func (c *Config) applyDefaults() {
	if c.Server.Address == "" {
		c.Server.Address = ":5000"
	}

	if c.FutureHouse.BaseURL == "" {
		c.FutureHouse.BaseURL = "https://api.platform.futurehouse.org"
	}
	if c.FutureHouse.APIKeyEnv == "" {
		c.FutureHouse.APIKeyEnv = "FUTUREHOUSE_API_KEY"
	}

	if c.Gateway.BatchWorkers <= 0 {
		c.Gateway.BatchWorkers = 8
	}

	if c.History.Driver == "" {
		c.History.Driver = "memory"
	}
	if c.History.Redis.KeyPrefix == "" {
		c.History.Redis.KeyPrefix = "fhgw:submissions"
	}
	if c.History.Memory.MaxEntries <= 0 {
		c.History.Memory.MaxEntries = 10000
	}

	if c.Notify.RabbitMQ.Queue == "" {
		c.Notify.RabbitMQ.Queue = "fhgw.task-events"
	}

	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}
	if c.Logging.Format == "" {
		c.Logging.Format = "json"
	}
}
