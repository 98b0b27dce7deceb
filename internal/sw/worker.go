package sw

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/mcnepal/edgecache/internal/cache"
	"github.com/mcnepal/edgecache/internal/config"
	"github.com/mcnepal/edgecache/internal/logging"
	"github.com/mcnepal/edgecache/internal/router"
)

// State 描述 worker 所处的生命周期阶段。
type State string

const (
	StateParsed     State = "parsed"
	StateInstalling State = "installing"
	StateInstalled  State = "installed"
	StateActivating State = "activating"
	StateActivated  State = "activated"
)

var (
	// ErrNotInstalled 表示在安装完成前请求了激活。
	ErrNotInstalled = errors.New("worker not installed")
	// ErrInstallInProgress 表示已有安装流程在执行。
	ErrInstallInProgress = errors.New("worker install in progress")
)

// Options 描述 Worker 的依赖与参数。
type Options struct {
	Store   cache.Store
	Fetcher router.Fetcher
	Names   Names
	// Manifest 为安装阶段预取的完整 URL 列表，按配置顺序排列。
	Manifest           []*url.URL
	InstallMode        string
	InstallConcurrency int
	MaxEntryAge        time.Duration
	Logger             *logrus.Logger
}

// Worker 持有生命周期状态，状态只在内存中，重启后需要重新安装与激活。
type Worker struct {
	store       cache.Store
	fetcher     router.Fetcher
	names       Names
	manifest    []*url.URL
	mode        string
	concurrency int
	maxAge      time.Duration
	logger      *logrus.Entry
	now         func() time.Time

	mu    sync.RWMutex
	state State
}

// New 校验依赖并构造处于 parsed 状态的 Worker。
func New(opts Options) (*Worker, error) {
	if opts.Store == nil {
		return nil, cache.ErrStoreUnavailable
	}
	if opts.Fetcher == nil {
		return nil, errors.New("fetcher is required")
	}
	if opts.Names.Prefix == "" || opts.Names.Version == "" {
		return nil, errors.New("cache prefix and version are required")
	}
	mode := opts.InstallMode
	if mode == "" {
		mode = config.InstallModeBestEffort
	}
	if mode != config.InstallModeBestEffort && mode != config.InstallModeAtomic {
		return nil, fmt.Errorf("unknown install mode %q", mode)
	}
	concurrency := opts.InstallConcurrency
	if concurrency <= 0 {
		concurrency = 4
	}
	maxAge := opts.MaxEntryAge
	if maxAge <= 0 {
		maxAge = 7 * 24 * time.Hour
	}
	return &Worker{
		store:       opts.Store,
		fetcher:     opts.Fetcher,
		names:       opts.Names,
		manifest:    opts.Manifest,
		mode:        mode,
		concurrency: concurrency,
		maxAge:      maxAge,
		logger:      logging.Component(opts.Logger, "worker"),
		now:         time.Now,
		state:       StateParsed,
	}, nil
}

// State 返回当前生命周期阶段。
func (w *Worker) State() State {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.state
}

// Controlling 在激活完成后返回 true，此前所有请求直接透传。
func (w *Worker) Controlling() bool {
	return w.State() == StateActivated
}

// Version 返回版本标签。
func (w *Worker) Version() string {
	return w.names.CacheName()
}

// Names 返回当前版本的分区命名。
func (w *Worker) Names() Names {
	return w.names
}

// Static 返回静态分区句柄。
func (w *Worker) Static() cache.Partition {
	return cache.NewPartition(w.store, w.names.Static())
}

// Dynamic 返回动态分区句柄。
func (w *Worker) Dynamic() cache.Partition {
	return cache.NewPartition(w.store, w.names.Dynamic())
}

// Install 预取静态清单。best-effort 模式下单个 URL 失败只记日志，完成后自动激活；
// atomic 模式下任一失败都不写入任何条目，成功后停在 installed 等待 SKIP_WAITING。
func (w *Worker) Install(ctx context.Context) error {
	w.mu.Lock()
	switch w.state {
	case StateParsed:
		w.state = StateInstalling
	case StateInstalling:
		w.mu.Unlock()
		return ErrInstallInProgress
	default:
		w.mu.Unlock()
		return nil
	}
	w.mu.Unlock()

	started := time.Now()
	var (
		stored int
		err    error
	)
	if w.mode == config.InstallModeAtomic {
		stored, err = w.installAtomic(ctx)
	} else {
		stored, err = w.installBestEffort(ctx)
	}

	fields := logging.StoreFields("install", w.names.Static(), "")
	fields["mode"] = w.mode
	fields["stored"] = stored
	fields["manifest"] = len(w.manifest)
	fields["elapsed_ms"] = time.Since(started).Milliseconds()

	if err != nil {
		w.setState(StateParsed)
		w.logger.WithError(err).WithFields(fields).Error("install_failed")
		return err
	}
	w.setState(StateInstalled)
	w.logger.WithFields(fields).Info("install_completed")

	if w.mode == config.InstallModeBestEffort {
		return w.SkipWaiting(ctx)
	}
	return nil
}

func (w *Worker) installBestEffort(ctx context.Context) (int, error) {
	static := w.Static()
	var (
		mu     sync.Mutex
		stored int
	)

	g := new(errgroup.Group)
	g.SetLimit(w.concurrency)
	for _, target := range w.manifest {
		g.Go(func() error {
			resp, err := w.fetchManifestEntry(ctx, target)
			if err == nil {
				err = static.Put(ctx, target.String(), resp)
			}
			if err != nil {
				w.logger.WithError(err).
					WithFields(logging.StoreFields("install_entry", static.Name(), target.String())).
					Warn("install_entry_failed")
				return nil
			}
			mu.Lock()
			stored++
			mu.Unlock()
			return nil
		})
	}
	_ = g.Wait()
	return stored, ctx.Err()
}

func (w *Worker) installAtomic(ctx context.Context) (int, error) {
	static := w.Static()
	responses := make([]*cache.Response, len(w.manifest))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(w.concurrency)
	for i, target := range w.manifest {
		g.Go(func() error {
			resp, err := w.fetchManifestEntry(gctx, target)
			if err != nil {
				return fmt.Errorf("%s: %w", target, err)
			}
			responses[i] = resp
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return 0, err
	}

	for i, target := range w.manifest {
		if err := static.Put(ctx, target.String(), responses[i]); err != nil {
			for _, written := range w.manifest[:i] {
				_ = static.Delete(context.WithoutCancel(ctx), written.String())
			}
			return 0, fmt.Errorf("store %s: %w", target, err)
		}
	}
	return len(w.manifest), nil
}

func (w *Worker) fetchManifestEntry(ctx context.Context, target *url.URL) (*cache.Response, error) {
	resp, err := w.fetcher.Fetch(ctx, &router.Request{Method: http.MethodGet, URL: target, Header: http.Header{}})
	if err != nil {
		return nil, err
	}
	if !resp.OK() {
		return nil, fmt.Errorf("unexpected status %d", resp.Status)
	}
	if reason := resp.BypassReason(); reason != "" {
		return nil, fmt.Errorf("response not shareable: %s", reason)
	}
	return resp, nil
}

// SkipWaiting 在 installed 状态下立即激活；已激活时无操作。
func (w *Worker) SkipWaiting(ctx context.Context) error {
	switch w.State() {
	case StateInstalled:
		return w.Activate(ctx)
	case StateActivating, StateActivated:
		return nil
	default:
		return ErrNotInstalled
	}
}

// Activate 删除所有非当前版本的分区，然后开始接管请求。
func (w *Worker) Activate(ctx context.Context) error {
	w.mu.Lock()
	if w.state != StateInstalled {
		current := w.state
		w.mu.Unlock()
		if current == StateActivated || current == StateActivating {
			return nil
		}
		return ErrNotInstalled
	}
	w.state = StateActivating
	w.mu.Unlock()

	removed, err := w.deleteStores(ctx, func(name string) bool { return !w.names.Current(name) })
	if err != nil {
		w.setState(StateInstalled)
		w.logger.WithError(err).WithField("action", "activate").Error("activate_failed")
		return err
	}

	w.setState(StateActivated)
	w.logger.WithFields(logrus.Fields{
		"action":  "activate",
		"version": w.Version(),
		"removed": removed,
	}).Info("worker_activated")
	return nil
}

// ClearCache 删除全部分区（包括当前版本），之后的请求会重新填充。
func (w *Worker) ClearCache(ctx context.Context) error {
	removed, err := w.deleteStores(ctx, func(string) bool { return true })
	if err != nil {
		return err
	}
	w.logger.WithFields(logrus.Fields{"action": "clear_cache", "removed": removed}).Info("cache_cleared")
	return nil
}

func (w *Worker) deleteStores(ctx context.Context, match func(string) bool) ([]string, error) {
	names, err := w.store.Stores(ctx)
	if err != nil {
		return nil, fmt.Errorf("list stores: %w", err)
	}
	var removed []string
	for _, name := range names {
		if !match(name) {
			continue
		}
		if _, err := w.store.DeleteStore(ctx, name); err != nil {
			return removed, fmt.Errorf("delete store %s: %w", name, err)
		}
		removed = append(removed, name)
	}
	return removed, nil
}

func (w *Worker) setState(state State) {
	w.mu.Lock()
	w.state = state
	w.mu.Unlock()
}
