package config

import (
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
)

// Config 聚合客户端的全部配置项。
type Config struct {
	API     APIConfig
	Storage StorageConfig
	Shell   ShellConfig
	Voice   VoiceConfig
}

// Load 从环境变量加载配置。调用方负责事先加载 .env 文件。
func Load() (*Config, error) {
	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return nil, fmt.Errorf("parse env: %w", err)
	}

	api, err := normalizeAPIConfig(cfg.API)
	if err != nil {
		return nil, err
	}

	storage, err := normalizeStorageConfig(cfg.Storage)
	if err != nil {
		return nil, err
	}

	shell, err := normalizeShellConfig(cfg.Shell)
	if err != nil {
		return nil, err
	}

	voice, err := normalizeVoiceConfig(cfg.Voice)
	if err != nil {
		return nil, err
	}

	return &Config{API: api, Storage: storage, Shell: shell, Voice: voice}, nil
}

// APIConfig 描述远端服务的访问方式。
type APIConfig struct {
	BaseURL   string        `env:"TAVERN_API_BASE_URL" envDefault:"http://localhost:8080/api"`
	Timeout   time.Duration `env:"TAVERN_API_TIMEOUT" envDefault:"30s"`
	RateLimit float64       `env:"TAVERN_API_RATE_LIMIT" envDefault:"10"`
	RateBurst int           `env:"TAVERN_API_RATE_BURST" envDefault:"5"`
}

func normalizeAPIConfig(c APIConfig) (APIConfig, error) {
	c.BaseURL = strings.TrimRight(strings.TrimSpace(c.BaseURL), "/")
	if c.BaseURL == "" {
		c.BaseURL = "http://localhost:8080/api"
	}
	parsed, err := url.Parse(c.BaseURL)
	if err != nil || parsed.Scheme == "" || parsed.Host == "" {
		return APIConfig{}, fmt.Errorf("invalid TAVERN_API_BASE_URL value: %q", c.BaseURL)
	}
	if c.Timeout <= 0 {
		return APIConfig{}, fmt.Errorf("invalid TAVERN_API_TIMEOUT value: %s", c.Timeout)
	}
	if c.RateLimit < 0 {
		return APIConfig{}, fmt.Errorf("invalid TAVERN_API_RATE_LIMIT value: %v", c.RateLimit)
	}
	if c.RateBurst < 1 {
		c.RateBurst = 1
	}
	return c, nil
}

// StorageConfig 描述会话令牌的本地持久化方式。
type StorageConfig struct {
	Driver      string `env:"TAVERN_STORAGE" envDefault:"sqlite"`
	Path        string `env:"TAVERN_STORAGE_PATH"`
	RedisAddr   string `env:"TAVERN_REDIS_ADDR" envDefault:"localhost:6379"`
	RedisPass   string `env:"TAVERN_REDIS_PASSWORD"`
	RedisDB     int    `env:"TAVERN_REDIS_DB" envDefault:"0"`
	RedisPrefix string `env:"TAVERN_REDIS_PREFIX" envDefault:"ztavern:profile:"`
}

// Storage drivers.
const (
	DriverSQLite = "sqlite"
	DriverRedis  = "redis"
	DriverMemory = "memory"
)

func normalizeStorageConfig(c StorageConfig) (StorageConfig, error) {
	c.Driver = strings.ToLower(strings.TrimSpace(c.Driver))
	if c.Driver == "" {
		c.Driver = DriverSQLite
	}
	switch c.Driver {
	case DriverSQLite:
		if strings.TrimSpace(c.Path) == "" {
			home, err := os.UserHomeDir()
			if err != nil {
				return StorageConfig{}, fmt.Errorf("get home directory: %w", err)
			}
			c.Path = filepath.Join(home, ".z-tavern", "profile.db")
		}
	case DriverRedis:
		if strings.TrimSpace(c.RedisAddr) == "" {
			return StorageConfig{}, fmt.Errorf("TAVERN_REDIS_ADDR is required for the redis driver")
		}
	case DriverMemory:
	default:
		return StorageConfig{}, fmt.Errorf("invalid TAVERN_STORAGE value: %q", c.Driver)
	}
	return c, nil
}

// ShellConfig 描述本地 HTTP shell 的监听配置。
type ShellConfig struct {
	Port string `env:"PORT" envDefault:"5173"`
	Addr string
}

// normalizeShellConfig 解析 shell 监听地址。
func normalizeShellConfig(c ShellConfig) (ShellConfig, error) {
	port := strings.TrimSpace(c.Port)
	if port == "" {
		port = "5173"
	}

	if strings.Contains(port, ":") {
		// 允许用户直接传入 ":5173" 或 "127.0.0.1:5173"。
		return ShellConfig{Port: port, Addr: port}, nil
	}

	if strings.Contains(port, " ") {
		return ShellConfig{}, fmt.Errorf("invalid PORT value: %q", port)
	}

	return ShellConfig{Port: port, Addr: "127.0.0.1:" + port}, nil
}

// VoiceConfig 描述录音设备与识别参数。
type VoiceConfig struct {
	Device     string `env:"TAVERN_VOICE_DEVICE"`
	Language   string `env:"TAVERN_VOICE_LANGUAGE" envDefault:"zh-CN"`
	SampleRate int    `env:"TAVERN_VOICE_SAMPLE_RATE" envDefault:"16000"`
}

// Enabled 表示是否配置了本地录音设备。未配置时语音识别只走远端接口。
func (c VoiceConfig) Enabled() bool {
	return c.Device != ""
}

func normalizeVoiceConfig(c VoiceConfig) (VoiceConfig, error) {
	c.Device = strings.TrimSpace(c.Device)
	c.Language = strings.TrimSpace(c.Language)
	if c.Language == "" {
		c.Language = "zh-CN"
	}
	if c.SampleRate <= 0 {
		return VoiceConfig{}, fmt.Errorf("invalid TAVERN_VOICE_SAMPLE_RATE value: %d", c.SampleRate)
	}
	return c, nil
}
