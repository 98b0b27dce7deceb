package config

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// Duration 提供更灵活的反序列化能力，同时兼容纯秒整数与 Go Duration 字符串。
type Duration time.Duration

// UnmarshalText 使 Viper 可以识别诸如 "30s"、"24h" 或纯数字秒值等配置写法。
func (d *Duration) UnmarshalText(text []byte) error {
	raw := strings.TrimSpace(string(text))
	if raw == "" {
		*d = Duration(0)
		return nil
	}

	if parsed, err := time.ParseDuration(raw); err == nil {
		*d = Duration(parsed)
		return nil
	}

	if intVal, err := parseInt(raw); err == nil {
		*d = Duration(time.Duration(intVal) * time.Second)
		return nil
	}

	return fmt.Errorf("invalid duration value: %s", raw)
}

// DurationValue 返回真实的 time.Duration，便于调用方计算。
func (d Duration) DurationValue() time.Duration {
	return time.Duration(d)
}

// parseInt 支持十进制或 0x 前缀的十六进制字符串解析。
func parseInt(value string) (int64, error) {
	if strings.HasPrefix(value, "0x") || strings.HasPrefix(value, "0X") {
		return strconv.ParseInt(value, 0, 64)
	}
	return strconv.ParseInt(value, 10, 64)
}

// 缓存后端与安装模式的可选值。
const (
	StoreBackendDisk  = "disk"
	StoreBackendRedis = "redis"

	InstallModeBestEffort = "best-effort"
	InstallModeAtomic     = "atomic"
)

// GlobalConfig 描述全局运行时行为，所有 Host 共享同一份参数。
type GlobalConfig struct {
	ListenPort      int      `mapstructure:"ListenPort"`
	LogLevel        string   `mapstructure:"LogLevel"`
	LogFilePath     string   `mapstructure:"LogFilePath"`
	LogMaxSize      int      `mapstructure:"LogMaxSize"`
	LogMaxBackups   int      `mapstructure:"LogMaxBackups"`
	LogCompress     bool     `mapstructure:"LogCompress"`
	StoragePath     string   `mapstructure:"StoragePath"`
	StoreBackend    string   `mapstructure:"StoreBackend"`
	RedisAddr       string   `mapstructure:"RedisAddr"`
	RedisPassword   string   `mapstructure:"RedisPassword"`
	RedisDB         int      `mapstructure:"RedisDB"`
	RedisKeyPrefix  string   `mapstructure:"RedisKeyPrefix"`
	UpstreamTimeout Duration `mapstructure:"UpstreamTimeout"`
	MaxBodySize     int64    `mapstructure:"MaxBodySize"`
}

// WorkerConfig 对应站点 Service Worker 的缓存策略：版本号、路由规则与安装清单。
type WorkerConfig struct {
	CachePrefix          string   `mapstructure:"CachePrefix"`
	CacheVersion         string   `mapstructure:"CacheVersion"`
	SiteURL              string   `mapstructure:"SiteURL"`
	OfflinePage          string   `mapstructure:"OfflinePage"`
	InstallMode          string   `mapstructure:"InstallMode"`
	InstallConcurrency   int      `mapstructure:"InstallConcurrency"`
	CleanupInterval      Duration `mapstructure:"CleanupInterval"`
	MaxEntryAge          Duration `mapstructure:"MaxEntryAge"`
	NotificationFeedSize int      `mapstructure:"NotificationFeedSize"`
	NetworkFirst         []string `mapstructure:"NetworkFirst"`
	CacheFirst           []string `mapstructure:"CacheFirst"`
	Manifest             []string `mapstructure:"Manifest"`
}

// HostConfig 将请求 Host 映射到上游站点。第一个 Host 视为同源主站，其余为允许的跨域来源。
type HostConfig struct {
	Name     string `mapstructure:"Name"`
	Domain   string `mapstructure:"Domain"`
	Upstream string `mapstructure:"Upstream"`
}

// Config 是 TOML 文件映射的整体结构。
type Config struct {
	Global GlobalConfig `mapstructure:",squash"`
	Worker WorkerConfig `mapstructure:",squash"`
	Hosts  []HostConfig `mapstructure:"Host"`
}

// PrimaryHost 返回同源主站配置；未配置 Host 时返回 false。
func (c *Config) PrimaryHost() (HostConfig, bool) {
	if c == nil || len(c.Hosts) == 0 {
		return HostConfig{}, false
	}
	return c.Hosts[0], true
}

// HostNames 返回所有 Host 名称摘要，例如 site:www.mcnepal.fun，供日志字段使用。
func HostNames(hosts []HostConfig) []string {
	if len(hosts) == 0 {
		return nil
	}
	result := make([]string, len(hosts))
	for i, host := range hosts {
		result[i] = fmt.Sprintf("%s:%s", host.Name, host.Domain)
	}
	return result
}
