// Copyright (c) 2025 wangke <464829928@qq.com>
//
// This software is released under the AGPL-3.0 license.
// For more details, see the LICENSE file in the root directory.

package configs

import (
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config 存储所有应用程序的配置

type Config struct {
	Server ServerConfig `mapstructure:"server"`

	Remote RemoteConfig `mapstructure:"remote"`

	Credential CredentialConfig `mapstructure:"credential"`

	CredentialCache CredentialCacheConfig `mapstructure:"credential_cache"`

	RateLimit RateLimitConfig `mapstructure:"rate_limit"`

	Log LogConfig `mapstructure:"log"`
}

// LogConfig 存储日志相关的配置

type LogConfig struct {
	LogLevel string `mapstructure:"level"`

	OutputPaths []string `mapstructure:"output_paths"`
}

// ServerConfig 存储服务器相关的配置

type ServerConfig struct {
	Port string `mapstructure:"port"`

	Version string `mapstructure:"version"`

	// 可信前置代理写入客户端 IP 的头部，例如 "X-Real-IP"；为空则不信任任何头部
	ClientIPHeader string `mapstructure:"client_ip_header"`

	CORS CORSConfig `mapstructure:"cors"`
}

// CORSConfig 存储跨域资源共享相关的配置
type CORSConfig struct {
	Enabled bool `mapstructure:"enabled"`

	// AllowedOrigins 支持 "*" 和 "https://*.example.com" 形式的通配
	AllowedOrigins []string `mapstructure:"allowed_origins"`

	MaxAgeSeconds int `mapstructure:"max_age_seconds"`
}

// RemoteConfig 描述远端券商 API 以及应用身份凭据 (appkey / appsecret)

type RemoteConfig struct {
	BaseURL string `mapstructure:"base_url"`

	AppKey string `mapstructure:"app_key"`

	AppSecret string `mapstructure:"app_secret"`

	TimeoutSeconds int `mapstructure:"timeout_seconds"`

	// 对令牌签发接口的出站调用节流
	AcquireRPS   float64 `mapstructure:"acquire_rps"`
	AcquireBurst int     `mapstructure:"acquire_burst"`
}

// CredentialConfig 控制凭据的生命周期

type CredentialConfig struct {
	SafetyMarginSeconds int `mapstructure:"safety_margin_seconds"`

	NominalLifetimeHours int `mapstructure:"nominal_lifetime_hours"`

	BackgroundRefresh bool `mapstructure:"background_refresh"`
}

// RedisConfig 存储 Redis 连接相关的配置

type RedisConfig struct {
	Addr string `mapstructure:"addr"`

	Password string `mapstructure:"password"`

	DB int `mapstructure:"db"`

	KeyPrefix string `mapstructure:"key_prefix"`
}

// CredentialCacheConfig 存储凭据槽缓存相关的配置

type CredentialCacheConfig struct {
	Type string `mapstructure:"type"` // "in-memory" or "redis"

	Redis RedisConfig `mapstructure:"redis"`
}

// RateLimitStoreConfig 存储限流窗口存储相关的配置

type RateLimitStoreConfig struct {
	Type string `mapstructure:"type"` // "in-memory" or "redis"

	Redis RedisConfig `mapstructure:"redis"`
}

// RateLimitConfig 存储滑动窗口限流相关的配置

type RateLimitConfig struct {
	Enabled bool `mapstructure:"enabled"`

	WindowMs int `mapstructure:"window_ms"`

	MaxRequests int `mapstructure:"max_requests"`

	Store RateLimitStoreConfig `mapstructure:"store"`
}

// Timeout 返回凭据获取的网络超时
func (c RemoteConfig) Timeout() time.Duration {
	return time.Duration(c.TimeoutSeconds) * time.Second
}

// SafetyMargin 返回凭据过期前的安全余量
func (c CredentialConfig) SafetyMargin() time.Duration {
	return time.Duration(c.SafetyMarginSeconds) * time.Second
}

// NominalLifetime 返回凭据的名义有效期
func (c CredentialConfig) NominalLifetime() time.Duration {
	return time.Duration(c.NominalLifetimeHours) * time.Hour
}

// Window 返回限流窗口大小
func (c RateLimitConfig) Window() time.Duration {
	return time.Duration(c.WindowMs) * time.Millisecond
}

// ConfigurationError 表示启动时检测到的配置缺失或非法
type ConfigurationError struct {
	Field  string
	Reason string
}

func (e *ConfigurationError) Error() string {
	return fmt.Sprintf("配置错误: %s %s", e.Field, e.Reason)
}

// Validate 检查启动所必需的配置项
func (c *Config) Validate() error {
	if strings.TrimSpace(c.Remote.AppKey) == "" {
		return &ConfigurationError{Field: "remote.app_key", Reason: "不能为空"}
	}
	if strings.TrimSpace(c.Remote.AppSecret) == "" {
		return &ConfigurationError{Field: "remote.app_secret", Reason: "不能为空"}
	}
	if c.Remote.TimeoutSeconds <= 0 {
		return &ConfigurationError{Field: "remote.timeout_seconds", Reason: "必须大于 0"}
	}
	if c.Credential.NominalLifetime() <= c.Credential.SafetyMargin() {
		return &ConfigurationError{Field: "credential.nominal_lifetime_hours", Reason: "必须大于安全余量"}
	}
	if c.RateLimit.Enabled {
		if c.RateLimit.WindowMs <= 0 {
			return &ConfigurationError{Field: "rate_limit.window_ms", Reason: "必须大于 0"}
		}
		if c.RateLimit.MaxRequests <= 0 {
			return &ConfigurationError{Field: "rate_limit.max_requests", Reason: "必须大于 0"}
		}
	}
	return nil
}

// LoadConfig 从文件和环境变量中读取配置
// configFile 为空时在 ./configs 和当前目录下查找 config.yaml

func LoadConfig(configFile string) (config Config, err error) {
	v := viper.New()

	// 设置默认值

	v.SetDefault("server.port", "3000")

	v.SetDefault("server.version", "1.0.0")

	v.SetDefault("server.client_ip_header", "")

	v.SetDefault("server.cors.enabled", true)

	v.SetDefault("server.cors.allowed_origins", []string{"*"})

	v.SetDefault("server.cors.max_age_seconds", 300)

	v.SetDefault("log.level", "info")

	v.SetDefault("log.output_paths", []string{"stdout"}) // 默认输出到标准输出

	v.SetDefault("remote.base_url", "https://openapi.koreainvestment.com:9443")

	v.SetDefault("remote.app_key", "")

	v.SetDefault("remote.app_secret", "")

	v.SetDefault("remote.timeout_seconds", 10)

	v.SetDefault("remote.acquire_rps", 1.0)

	v.SetDefault("remote.acquire_burst", 2)

	v.SetDefault("credential.safety_margin_seconds", 300) // 5 minutes

	v.SetDefault("credential.nominal_lifetime_hours", 24)

	v.SetDefault("credential.background_refresh", true)

	// 凭据缓存默认配置

	v.SetDefault("credential_cache.type", "in-memory")

	v.SetDefault("credential_cache.redis.addr", "localhost:6379")

	v.SetDefault("credential_cache.redis.password", "")

	v.SetDefault("credential_cache.redis.db", 0)

	v.SetDefault("credential_cache.redis.key_prefix", "kisproxy:credential")

	// 限流默认配置

	v.SetDefault("rate_limit.enabled", true)

	v.SetDefault("rate_limit.window_ms", 60000)

	v.SetDefault("rate_limit.max_requests", 100)

	v.SetDefault("rate_limit.store.type", "in-memory")

	v.SetDefault("rate_limit.store.redis.addr", "localhost:6379")

	v.SetDefault("rate_limit.store.redis.password", "")

	v.SetDefault("rate_limit.store.redis.db", 0)

	v.SetDefault("rate_limit.store.redis.key_prefix", "rate_limit")

	// 从配置文件加载

	if configFile != "" {
		v.SetConfigFile(configFile)
	} else {
		v.SetConfigName("config") // 配置文件名 (不带扩展名)

		v.SetConfigType("yaml") // 配置文件类型

		v.AddConfigPath("./configs") // 配置文件路径

		v.AddConfigPath(".") // 可选的当前目录路径
	}

	// 读取配置文件

	err = v.ReadInConfig()

	if err != nil {

		if _, ok := err.(viper.ConfigFileNotFoundError); ok && configFile == "" {

			// 配置文件未找到是可接受的，因为可以使用环境变量

			slog.Debug("配置文件未找到，将使用默认值和环境变量", "error", err)

		} else {

			// 配置文件被找到但解析错误，或显式指定的文件不存在

			slog.Error("读取配置文件失败", "error", err)

			return config, err

		}

	} else {

		slog.Debug("成功加载配置文件", "file", v.ConfigFileUsed())

	}

	// 启用环境变量绑定

	v.SetEnvPrefix("KISPROXY")

	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	v.AutomaticEnv()

	// 兼容旧部署使用的 APP_KEY / APP_SECRET

	if err = v.BindEnv("remote.app_key", "KISPROXY_REMOTE_APP_KEY", "APP_KEY"); err != nil {
		return config, err
	}

	if err = v.BindEnv("remote.app_secret", "KISPROXY_REMOTE_APP_SECRET", "APP_SECRET"); err != nil {
		return config, err
	}

	// 将配置解组到结构体

	err = v.Unmarshal(&config)

	return

}
