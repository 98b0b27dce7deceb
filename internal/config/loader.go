package config

import (
	"fmt"
	"path/filepath"
	"reflect"
	"strconv"
	"strings"
	"time"

	"github.com/mitchellh/mapstructure"
	"github.com/spf13/viper"
)

// 默认路由与安装清单沿用站点 Service Worker 的原始取值。
var (
	defaultNetworkFirst = []string{
		"/api/",
		"https://api.mcsrvstat.us/",
	}
	defaultCacheFirst = []string{
		"/assets/",
		"https://fonts.googleapis.com/",
		"https://fonts.gstatic.com/",
		"https://cdnjs.cloudflare.com/",
	}
	defaultManifest = []string{
		"/",
		"/index.html",
		"/assets/css/style.css",
		"/assets/css/animations.css",
		"/assets/js/main.js",
		"/assets/js/particles-config.js",
		"/assets/js/server-status.js",
		"/assets/js/store.js",
		"/assets/js/performance.js",
		"/assets/images/server_icon.png",
		"https://fonts.googleapis.com/css2?family=Inter:wght@300;400;500;600;700;800;900&family=Orbitron:wght@400;700;900&display=swap",
		"https://cdnjs.cloudflare.com/ajax/libs/font-awesome/6.5.1/css/all.min.css",
	}
)

// Load 读取并解析 TOML 配置文件，同时注入默认值与校验逻辑。
func Load(path string) (*Config, error) {
	if path == "" {
		path = "config.toml"
	}

	v := viper.New()
	v.SetConfigFile(path)
	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("读取配置失败: %w", err)
	}

	var cfg Config
	if err := v.Unmarshal(&cfg, viper.DecodeHook(mapstructure.ComposeDecodeHookFunc(
		durationDecodeHook(),
		mapstructure.StringToSliceHookFunc(","),
	))); err != nil {
		return nil, fmt.Errorf("解析配置失败: %w", err)
	}

	applyGlobalDefaults(&cfg.Global)
	applyWorkerDefaults(&cfg.Worker)
	for i := range cfg.Hosts {
		applyHostDefaults(&cfg.Hosts[i])
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	if cfg.Global.StoreBackend == StoreBackendDisk {
		absStorage, err := filepath.Abs(cfg.Global.StoragePath)
		if err != nil {
			return nil, fmt.Errorf("无法解析缓存目录: %w", err)
		}
		cfg.Global.StoragePath = absStorage
	}

	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("ListenPort", 5000)
	v.SetDefault("LogLevel", "info")
	v.SetDefault("LogFilePath", "")
	v.SetDefault("LogMaxSize", 100)
	v.SetDefault("LogMaxBackups", 10)
	v.SetDefault("LogCompress", true)
	v.SetDefault("StoragePath", "./storage")
	v.SetDefault("StoreBackend", StoreBackendDisk)
	v.SetDefault("RedisAddr", "localhost:6379")
	v.SetDefault("RedisDB", 0)
	v.SetDefault("RedisKeyPrefix", "edgecache")
	v.SetDefault("UpstreamTimeout", "30s")
	v.SetDefault("MaxBodySize", 32*1024*1024)

	v.SetDefault("CachePrefix", "mcnepal")
	v.SetDefault("CacheVersion", "1.0.0")
	v.SetDefault("SiteURL", "https://www.mcnepal.fun")
	v.SetDefault("OfflinePage", "/offline.html")
	v.SetDefault("InstallMode", InstallModeBestEffort)
	v.SetDefault("InstallConcurrency", 4)
	v.SetDefault("CleanupInterval", "24h")
	v.SetDefault("MaxEntryAge", "168h")
	v.SetDefault("NotificationFeedSize", 50)
	v.SetDefault("NetworkFirst", defaultNetworkFirst)
	v.SetDefault("CacheFirst", defaultCacheFirst)
	v.SetDefault("Manifest", defaultManifest)
}

func applyGlobalDefaults(g *GlobalConfig) {
	if g.ListenPort == 0 {
		g.ListenPort = 5000
	}
	g.StoreBackend = strings.ToLower(strings.TrimSpace(g.StoreBackend))
	if g.StoreBackend == "" {
		g.StoreBackend = StoreBackendDisk
	}
	if g.UpstreamTimeout.DurationValue() == 0 {
		g.UpstreamTimeout = Duration(30 * time.Second)
	}
	if g.MaxBodySize == 0 {
		g.MaxBodySize = 32 * 1024 * 1024
	}
}

func applyWorkerDefaults(w *WorkerConfig) {
	w.InstallMode = strings.ToLower(strings.TrimSpace(w.InstallMode))
	if w.InstallMode == "" {
		w.InstallMode = InstallModeBestEffort
	}
	if w.InstallConcurrency <= 0 {
		w.InstallConcurrency = 4
	}
	if w.CleanupInterval.DurationValue() == 0 {
		w.CleanupInterval = Duration(24 * time.Hour)
	}
	if w.MaxEntryAge.DurationValue() == 0 {
		w.MaxEntryAge = Duration(7 * 24 * time.Hour)
	}
	if w.NotificationFeedSize <= 0 {
		w.NotificationFeedSize = 50
	}
	if strings.TrimSpace(w.OfflinePage) == "" {
		w.OfflinePage = "/offline.html"
	}
}

func applyHostDefaults(h *HostConfig) {
	h.Name = strings.TrimSpace(h.Name)
	h.Domain = strings.ToLower(strings.TrimSpace(h.Domain))
	h.Upstream = strings.TrimRight(strings.TrimSpace(h.Upstream), "/")
}

func durationDecodeHook() mapstructure.DecodeHookFunc {
	targetType := reflect.TypeOf(Duration(0))

	return func(from reflect.Type, to reflect.Type, data interface{}) (interface{}, error) {
		if to != targetType {
			return data, nil
		}

		switch v := data.(type) {
		case string:
			if v == "" {
				return Duration(0), nil
			}
			if parsed, err := time.ParseDuration(v); err == nil {
				return Duration(parsed), nil
			}
			if seconds, err := strconv.ParseFloat(v, 64); err == nil {
				return Duration(time.Duration(seconds * float64(time.Second))), nil
			}
			return nil, fmt.Errorf("无法解析 Duration 字段: %s", v)
		case int:
			return Duration(time.Duration(v) * time.Second), nil
		case int64:
			return Duration(time.Duration(v) * time.Second), nil
		case float64:
			return Duration(time.Duration(v * float64(time.Second))), nil
		case time.Duration:
			return Duration(v), nil
		case Duration:
			return v, nil
		default:
			return nil, fmt.Errorf("不支持的 Duration 类型: %T", v)
		}
	}
}
