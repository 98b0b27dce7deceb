package main

import (
	"context"
	"fmt"
	"io"
	"net/url"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"

	"github.com/mcnepal/edgecache/internal/cache"
	"github.com/mcnepal/edgecache/internal/config"
	"github.com/mcnepal/edgecache/internal/router"
	"github.com/mcnepal/edgecache/internal/server"
	"github.com/mcnepal/edgecache/internal/strategy"
	"github.com/mcnepal/edgecache/internal/sw"
)

// storeHandle 附带后端需要在退出时释放的资源。
type storeHandle struct {
	cache.Store
	closer io.Closer
}

// buildEdge 按“配置 → HostRegistry → 缓存后端 → worker → router”顺序构建共享组件，
// 保证所有请求共享同一套路由与缓存实例。
func buildEdge(ctx context.Context, cfg *config.Config, logger *logrus.Logger) (*edgeRuntime, error) {
	registry, err := server.NewHostRegistry(cfg)
	if err != nil {
		return nil, fmt.Errorf("构建 Host 注册表失败: %w", err)
	}
	primary, ok := registry.Primary()
	if !ok {
		return nil, fmt.Errorf("缺少主站 Host")
	}

	store, err := openStore(ctx, cfg.Global)
	if err != nil {
		return nil, fmt.Errorf("初始化缓存后端失败: %w", err)
	}

	manifest, err := buildManifest(registry, primary, cfg.Worker.Manifest)
	if err != nil {
		return nil, err
	}

	fetcher := router.NewHTTPFetcher(server.NewUpstreamClient(cfg), cfg.Global.MaxBodySize)
	worker, err := sw.New(sw.Options{
		Store:              store,
		Fetcher:            fetcher,
		Names:              sw.Names{Prefix: cfg.Worker.CachePrefix, Version: cfg.Worker.CacheVersion},
		Manifest:           manifest,
		InstallMode:        cfg.Worker.InstallMode,
		InstallConcurrency: cfg.Worker.InstallConcurrency,
		MaxEntryAge:        cfg.Worker.MaxEntryAge.DurationValue(),
		Logger:             logger,
	})
	if err != nil {
		return nil, err
	}

	rt, err := router.New(router.Options{
		Fetcher:    fetcher,
		Static:     worker.Static(),
		Dynamic:    worker.Dynamic(),
		Rules:      strategy.NewRules(cfg.Worker.NetworkFirst, cfg.Worker.CacheFirst),
		OfflineURL: primary.Resolve(cfg.Worker.OfflinePage, "").String(),
		Logger:     logger,
	})
	if err != nil {
		return nil, err
	}

	return &edgeRuntime{
		registry: registry,
		store:    store,
		worker:   worker,
		router:   rt,
	}, nil
}

// openStore 根据 StoreBackend 选择磁盘或 Redis 后端。
func openStore(ctx context.Context, global config.GlobalConfig) (storeHandle, error) {
	switch global.StoreBackend {
	case config.StoreBackendRedis:
		client := redis.NewClient(&redis.Options{
			Addr:     global.RedisAddr,
			Password: global.RedisPassword,
			DB:       global.RedisDB,
		})
		pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		defer cancel()
		if err := client.Ping(pingCtx).Err(); err != nil {
			client.Close()
			return storeHandle{}, fmt.Errorf("连接 redis 失败: %w", err)
		}
		store, err := cache.NewRedisStore(client, global.RedisKeyPrefix)
		if err != nil {
			client.Close()
			return storeHandle{}, err
		}
		return storeHandle{Store: store, closer: client}, nil
	default:
		store, err := cache.NewStore(global.StoragePath)
		if err != nil {
			return storeHandle{}, err
		}
		return storeHandle{Store: store}, nil
	}
}

// buildManifest 把清单条目映射为缓存键：站内路径解析到主站上游，
// 指向已映射 Host 的绝对地址改写到对应上游，其余绝对地址原样保留。
func buildManifest(registry *server.HostRegistry, primary *server.HostRoute, entries []string) ([]*url.URL, error) {
	result := make([]*url.URL, 0, len(entries))
	for i, entry := range entries {
		parsed, err := url.Parse(strings.TrimSpace(entry))
		if err != nil {
			return nil, fmt.Errorf("Manifest[%d]: %w", i, err)
		}
		switch {
		case !parsed.IsAbs():
			parsed = primary.Resolve(parsed.Path, parsed.RawQuery)
		default:
			if route, ok := registry.Lookup(parsed.Host); ok {
				parsed = route.Resolve(parsed.Path, parsed.RawQuery)
			}
		}
		result = append(result, parsed)
	}
	return result, nil
}
