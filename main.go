package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/sirupsen/logrus"

	"github.com/mcnepal/edgecache/internal/config"
	"github.com/mcnepal/edgecache/internal/logging"
	"github.com/mcnepal/edgecache/internal/notify"
	"github.com/mcnepal/edgecache/internal/proxy"
	"github.com/mcnepal/edgecache/internal/router"
	"github.com/mcnepal/edgecache/internal/server"
	"github.com/mcnepal/edgecache/internal/server/routes"
	"github.com/mcnepal/edgecache/internal/strategy"
	"github.com/mcnepal/edgecache/internal/sw"
	"github.com/mcnepal/edgecache/internal/version"
)

// cliOptions 汇总 CLI 标志解析后的结果，便于在测试中注入。
type cliOptions struct {
	configPath  string
	checkOnly   bool
	showVersion bool
}

var (
	stdOut io.Writer = os.Stdout
	stdErr io.Writer = os.Stderr
)

func main() {
	opts, err := parseCLIFlags(os.Args[1:])
	if err != nil {
		fmt.Fprintln(stdErr, err.Error())
		os.Exit(2)
	}
	os.Exit(run(opts))
}

// run 根据解析到的 CLI 选项执行业务流程，并返回退出码，方便测试。
func run(opts cliOptions) int {
	if opts.showVersion {
		printVersion()
		return 0
	}

	cfg, err := config.Load(opts.configPath)
	if err != nil {
		fmt.Fprintf(stdErr, "加载配置失败: %v\n", err)
		return 1
	}

	logger, err := logging.InitLogger(cfg.Global)
	if err != nil {
		fmt.Fprintf(stdErr, "初始化日志失败: %v\n", err)
		return 1
	}

	if opts.checkOnly {
		fields := logging.BaseFields("check_config", opts.configPath)
		fields["hosts"] = config.HostNames(cfg.Hosts)
		fields["store_backend"] = cfg.Global.StoreBackend
		fields["install_mode"] = cfg.Worker.InstallMode
		fields["result"] = "ok"
		logger.WithFields(fields).Info("配置校验通过")
		return 0
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	edge, err := buildEdge(ctx, cfg, logger)
	if err != nil {
		fmt.Fprintf(stdErr, "初始化边缘缓存失败: %v\n", err)
		return 1
	}
	defer edge.close()

	fields := logging.BaseFields("startup", opts.configPath)
	fields["hosts"] = config.HostNames(cfg.Hosts)
	fields["listen_port"] = cfg.Global.ListenPort
	fields["store_backend"] = cfg.Global.StoreBackend
	fields["cache_version"] = edge.worker.Version()
	fields["version"] = version.Full()
	logger.WithFields(fields).Info("配置加载完成")

	// 启动顺序：安装与周期维护在后台执行，HTTP 服务立即开始监听，激活前请求直接透传。
	go func() {
		if err := edge.worker.Install(ctx); err != nil {
			logger.WithError(err).WithField("action", "install").Warn("worker 安装失败，将在下一个维护周期重试")
		}
	}()
	go edge.worker.Run(ctx, cfg.Worker.CleanupInterval.DurationValue())

	if err := startHTTPServer(ctx, cfg, edge, logger); err != nil {
		fmt.Fprintf(stdErr, "HTTP 服务启动失败: %v\n", err)
		return 1
	}
	edge.router.Wait()
	return 0
}

// parseCLIFlags 解析 CLI 参数，并结合环境变量计算最终的配置路径。
func parseCLIFlags(args []string) (cliOptions, error) {
	fs := flag.NewFlagSet("edgecache", flag.ContinueOnError)
	fs.SetOutput(io.Discard)

	var (
		configFlag string
		checkOnly  bool
		showVer    bool
	)

	fs.StringVar(&configFlag, "config", "", "配置文件路径（默认 ./config.toml，可被 EDGECACHE_CONFIG 覆盖）")
	fs.BoolVar(&checkOnly, "check-config", false, "仅校验配置后退出")
	fs.BoolVar(&showVer, "version", false, "显示版本信息")

	if err := fs.Parse(args); err != nil {
		return cliOptions{}, fmt.Errorf("解析参数失败: %w", err)
	}

	path := os.Getenv("EDGECACHE_CONFIG")
	if configFlag != "" {
		path = configFlag
	}
	if path == "" {
		path = "config.toml"
	}

	return cliOptions{
		configPath:  path,
		checkOnly:   checkOnly,
		showVersion: showVer,
	}, nil
}

func startHTTPServer(ctx context.Context, cfg *config.Config, edge *edgeRuntime, logger *logrus.Logger) error {
	port := cfg.Global.ListenPort
	app, err := server.NewApp(server.AppOptions{
		Logger:     logger,
		Registry:   edge.registry,
		Proxy:      proxy.NewHandler(edge.router, edge.worker, logger),
		ListenPort: port,
		BodyLimit:  int(cfg.Global.MaxBodySize),
	})
	if err != nil {
		return err
	}
	routes.RegisterStatusRoutes(app, edge.registry, edge.worker, edge.store)
	routes.RegisterStrategyRoutes(app, edge.router.Rules())
	routes.RegisterWorkerRoutes(app, edge.worker, logger)
	routes.RegisterNotificationRoutes(app, notify.NewService(
		notify.NewFeed(cfg.Worker.NotificationFeedSize),
		cfg.Worker.SiteURL,
		logger,
	))
	routes.RegisterMetricsRoutes(app)

	go func() {
		<-ctx.Done()
		_ = app.Shutdown()
	}()

	logger.WithFields(logrus.Fields{
		"action":     "listen",
		"port":       port,
		"strategies": strategy.Keys(),
	}).Info("Fiber 服务启动")

	return app.Listen(fmt.Sprintf(":%d", port))
}

// edgeRuntime 聚合启动期构建的共享组件。
type edgeRuntime struct {
	registry *server.HostRegistry
	store    storeHandle
	worker   *sw.Worker
	router   *router.Router
}

func (e *edgeRuntime) close() {
	if e.store.closer != nil {
		_ = e.store.closer.Close()
	}
}
