package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Config 配置文件结构体
type Config struct {
	Version   string          `yaml:"version"`
	Storage   StorageConfig   `yaml:"storage"`
	Sqlite    SqliteConfig    `yaml:"sqlite"`
	Log       LogConfig       `yaml:"log"`
	Capture   CaptureConfig   `yaml:"capture"`
	Highlight HighlightConfig `yaml:"highlight"`
}

// StorageConfig 请求体/响应体文件与会话日志
type StorageConfig struct {
	Dir               string `yaml:"dir"`
	SessionMaxSizeMB  int    `yaml:"sessionMaxSizeMB"`
	SessionMaxBackups int    `yaml:"sessionMaxBackups"`
}

type SqliteConfig struct {
	Dsn    string `yaml:"dsn"`
	Prefix string `yaml:"prefix"`
}

type LogConfig struct {
	Level  string   `yaml:"level"`
	Writer []string `yaml:"writer"`
	File   string   `yaml:"file"`
}

// CaptureConfig 拦截配置
type CaptureConfig struct {
	ResponseTimeoutMS int      `yaml:"responseTimeoutMS"`
	IgnoredURLs       []string `yaml:"ignoredURLs"`
	CachePolicy       string   `yaml:"cachePolicy"`
}

// HighlightConfig 搜索高亮配置
type HighlightConfig struct {
	MaxHighlights     int `yaml:"maxHighlights"`
	RefreshIntervalMS int `yaml:"refreshIntervalMS"`
	SettleDelayMS     int `yaml:"settleDelayMS"`
}

// NewConfig 创建默认配置
func NewConfig() *Config {
	return &Config{
		Version: "1.0.0",
		Storage: StorageConfig{
			Dir:               "netmonitor-data",
			SessionMaxSizeMB:  10,
			SessionMaxBackups: 3,
		},
		Sqlite: SqliteConfig{
			Dsn:    "netmonitor.sqlite3",
			Prefix: "netmonitor_",
		},
		Log: LogConfig{
			Level:  "info",
			Writer: []string{"console"},
			File:   "netmonitor.log",
		},
		Capture: CaptureConfig{
			ResponseTimeoutMS: 30000,
			CachePolicy:       "allowed",
		},
		Highlight: HighlightConfig{
			MaxHighlights:     100,
			RefreshIntervalMS: 200,
			SettleDelayMS:     150,
		},
	}
}

// Load 读取 yaml 配置并覆盖默认值，path 为空时返回默认配置
func Load(path string) (*Config, error) {
	cfg := NewConfig()
	if path == "" {
		return cfg, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config %s: %w", path, err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate 校验配置
func (c *Config) Validate() error {
	if c.Storage.Dir == "" {
		return fmt.Errorf("storage.dir is required")
	}
	if c.Capture.ResponseTimeoutMS <= 0 {
		return fmt.Errorf("capture.responseTimeoutMS must be positive")
	}
	switch c.Capture.CachePolicy {
	case "allowed", "allowedInMemoryOnly", "notAllowed":
	default:
		return fmt.Errorf("capture.cachePolicy %q is invalid", c.Capture.CachePolicy)
	}
	if c.Highlight.MaxHighlights <= 0 {
		return fmt.Errorf("highlight.maxHighlights must be positive")
	}
	return nil
}

// ResponseTimeout 响应超时
func (c *Config) ResponseTimeout() time.Duration {
	return time.Duration(c.Capture.ResponseTimeoutMS) * time.Millisecond
}

func (c *Config) RefreshInterval() time.Duration {
	return time.Duration(c.Highlight.RefreshIntervalMS) * time.Millisecond
}

func (c *Config) SettleDelay() time.Duration {
	return time.Duration(c.Highlight.SettleDelayMS) * time.Millisecond
}
