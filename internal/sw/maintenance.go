package sw

import (
	"context"
	"errors"
	"net/http"
	"net/url"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/mcnepal/edgecache/internal/cache"
	"github.com/mcnepal/edgecache/internal/config"
	"github.com/mcnepal/edgecache/internal/logging"
	"github.com/mcnepal/edgecache/internal/router"
)

// SyncTag 是触发后台同步的标签，其它标签被忽略。
const SyncTag = "background-sync"

// Cleanup 删除动态分区中 Date 头早于 MaxEntryAge 的条目；没有 Date 头的条目保留。
func (w *Worker) Cleanup(ctx context.Context) (int, error) {
	dynamic := w.Dynamic()
	keys, err := dynamic.Keys(ctx)
	if err != nil {
		return 0, err
	}

	cutoff := w.now().Add(-w.maxAge)
	removed := 0
	for _, key := range keys {
		resp, err := dynamic.Match(ctx, key)
		if err != nil {
			if errors.Is(err, cache.ErrNotFound) {
				continue
			}
			return removed, err
		}
		date, ok := resp.Date()
		if !ok || !date.Before(cutoff) {
			continue
		}
		if err := dynamic.Delete(ctx, key); err != nil {
			return removed, err
		}
		removed++
	}

	w.logger.WithFields(logrus.Fields{
		"action":  "cleanup",
		"store":   dynamic.Name(),
		"scanned": len(keys),
		"removed": removed,
	}).Info("cleanup_completed")
	return removed, nil
}

// Sync 重新拉取动态分区中的全部 URL 并写回成功的响应，单个 URL 失败只记日志。
func (w *Worker) Sync(ctx context.Context, tag string) (int, error) {
	if tag != SyncTag {
		return 0, nil
	}
	dynamic := w.Dynamic()
	keys, err := dynamic.Keys(ctx)
	if err != nil {
		return 0, err
	}

	refreshed := 0
	for _, key := range keys {
		if err := ctx.Err(); err != nil {
			return refreshed, err
		}
		target, err := url.Parse(key)
		if err != nil {
			continue
		}
		resp, err := w.fetcher.Fetch(ctx, &router.Request{Method: http.MethodGet, URL: target, Header: http.Header{}})
		if err != nil {
			w.logger.WithError(err).
				WithFields(logging.StoreFields("background_sync", dynamic.Name(), key)).
				Info("background_sync_failed")
			continue
		}
		if !resp.Shareable() {
			// 条目已变为私有或带会话，不再保留共享副本。
			if !resp.OK() {
				continue
			}
			if err := dynamic.Delete(ctx, key); err != nil {
				return refreshed, err
			}
			continue
		}
		if err := dynamic.Put(ctx, key, resp); err != nil {
			return refreshed, err
		}
		refreshed++
	}

	w.logger.WithFields(logrus.Fields{
		"action":    "background_sync",
		"store":     dynamic.Name(),
		"scanned":   len(keys),
		"refreshed": refreshed,
	}).Info("background_sync_completed")
	return refreshed, nil
}

// Run 按 interval 周期执行清理，直到 ctx 结束；安装失败的 worker 会在每个周期重试安装。
func (w *Worker) Run(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = 24 * time.Hour
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			w.tick(ctx)
		}
	}
}

// tick 推进未完成的生命周期后执行清理；安装或激活失败只记日志，不影响本轮清理。
func (w *Worker) tick(ctx context.Context) {
	switch w.State() {
	case StateParsed:
		if err := w.Install(ctx); err != nil {
			w.logger.WithError(err).WithField("action", "install").Warn("install_retry_failed")
		}
	case StateInstalled:
		// atomic 模式等待 SKIP_WAITING，只有 best-effort 会在这里重试激活。
		if w.mode == config.InstallModeBestEffort {
			if err := w.SkipWaiting(ctx); err != nil {
				w.logger.WithError(err).WithField("action", "activate").Warn("activate_retry_failed")
			}
		}
	}
	if _, err := w.Cleanup(ctx); err != nil {
		w.logger.WithError(err).WithField("action", "cleanup").Warn("cleanup_failed")
	}
}
