// cmd/fulfillment-worker/main.go
package main

import (
	"context"
	"net/http"
	"os"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	zlog "github.com/rs/zerolog/log"
	"go.opentelemetry.io/otel"
	"gopkg.in/yaml.v3"

	"dropship/internal/fulfillment/application"
	"dropship/internal/fulfillment/infrastructure/alert"
	"dropship/internal/fulfillment/infrastructure/carrier"
	"dropship/internal/fulfillment/infrastructure/marketplace"
	"dropship/internal/fulfillment/infrastructure/persistence"
	"dropship/internal/fulfillment/infrastructure/routing"
	"dropship/internal/fulfillment/infrastructure/supplier"
	"dropship/internal/fulfillment/scheduler"
	"dropship/internal/pkg/bootstrap"
	"dropship/internal/pkg/config"
	"dropship/internal/pkg/httpclient"
	"dropship/internal/pkg/nacos"
	"dropship/internal/pkg/redis"
	"dropship/internal/zookeeper"
)

func main() {
	configPath := os.Getenv("CONFIG_PATH")
	if configPath == "" {
		configPath = "config/config.yaml"
	}
	cfg, err := config.Load(configPath)
	if err != nil {
		zlog.Fatal().Err(err).Str("path", configPath).Msg("failed to load config")
	}

	bootstrap.StartService(bootstrap.AppInfo{
		ServiceName:    cfg.Service.Name,
		Port:           cfg.Service.Port,
		JaegerEndpoint: cfg.Infra.Jaeger.Endpoint,
		Run: func(ctx context.Context) (func(ctx context.Context), error) {
			return run(ctx, cfg)
		},
		RegisterHandlers: func(appCtx bootstrap.AppCtx) {
			appCtx.Mux.Handle("/metrics", promhttp.Handler())
			appCtx.Mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(http.StatusOK)
				_, _ = w.Write([]byte("ok"))
			})
		},
	})
}

// run 组装全部依赖并启动调度器，返回关停时的清理函数
func run(ctx context.Context, cfg *config.Config) (func(ctx context.Context), error) {
	logger := zlog.Ctx(ctx)

	// 存储
	db, err := persistence.OpenMySQL(cfg.Infra.MySQLDSN)
	if err != nil {
		return nil, err
	}
	repo := persistence.NewGormOrderRepository(db)

	// 运单缓存，redis 不可用时降级为无缓存
	var cache *redis.Client
	if cfg.Infra.RedisAddr != "" {
		cache, err = redis.NewClient(ctx, cfg.Infra.RedisAddr, cfg.Infra.RedisPass, cfg.Infra.RedisDB)
		if err != nil {
			logger.Warn().Err(err).Msg("redis unavailable, tracking cache disabled")
			cache = nil
		}
	}

	// 出站 HTTP
	httpClient := httpclient.NewClient(
		otel.Tracer("fulfillment.httpclient"),
		time.Duration(cfg.HTTP.TimeoutSeconds)*time.Second,
		httpclient.RetryPolicy{
			MaxAttempts: cfg.HTTP.RetryAttempts,
			Backoff:     time.Duration(cfg.HTTP.BackoffSeconds) * time.Second,
		},
	)

	// 告警
	alerter := alert.NewKafkaAlerter(cfg.Infra.KafkaBrokers, cfg.Alert.Topic, cfg.Alert.StatsTopic)

	// 承运商
	trackers := carrier.NewManager(cache, cfg.Carriers.CacheTTL)
	trackers.Register(carrier.NewCJTracker(cfg.Carriers.Endpoints["cj"], cfg.Carriers.CodeMaps["cj"], httpClient))
	trackers.Register(carrier.NewHanjinTracker(cfg.Carriers.Endpoints["hanjin"], cfg.Carriers.CodeMaps["hanjin"], httpClient))
	trackers.Register(carrier.NewLotteTracker(cfg.Carriers.Endpoints["lotte"], cfg.Carriers.Secrets["lotte"], cfg.Carriers.CodeMaps["lotte"], httpClient))

	// 供应商路由
	baseResolver, err := routing.NewCELResolver(*cfg)
	if err != nil {
		return nil, err
	}
	resolver := routing.NewDynamicResolver(baseResolver)

	processor := application.NewProcessor(repo, trackers, resolver, alerter,
		time.Duration(cfg.Jobs.LookbackHours)*time.Hour, cfg.Alert.FailThreshold)

	// 渠道适配器
	for code, mc := range cfg.Marketplaces {
		if !mc.Enabled {
			continue
		}
		switch code {
		case "coupang":
			processor.RegisterAdapter(marketplace.NewCoupangAdapter(mc, httpClient))
		case "elevenst":
			processor.RegisterAdapter(marketplace.NewElevenstAdapter(mc, httpClient))
		case "smartstore":
			processor.RegisterAdapter(marketplace.NewSmartstoreAdapter(mc, httpClient))
		default:
			logger.Warn().Str("marketplace", code).Msg("unknown marketplace in config, ignored")
		}
	}

	// 供应商
	for code, sc := range cfg.Suppliers {
		switch code {
		case "ownerclan":
			processor.RegisterForwarder(supplier.NewOwnerClanForwarder(sc, httpClient))
		default:
			logger.Warn().Str("supplier", code).Msg("unknown supplier in config, ignored")
		}
	}

	// 路由规则热更新
	var nacosClient *nacos.Client
	if cfg.Infra.Nacos.ServerAddrs != "" && cfg.Infra.Nacos.DataID != "" {
		nacosClient, err = nacos.NewClient(cfg.Infra.Nacos.ServerAddrs, cfg.Infra.Nacos.Namespace, cfg.Infra.Nacos.Group)
		if err != nil {
			logger.Warn().Err(err).Msg("nacos unavailable, dynamic routing rules disabled")
		} else {
			// 启动时先拉一次全量，再挂增量监听
			if content, err := nacosClient.GetConfig(cfg.Infra.Nacos.DataID); err != nil {
				logger.Warn().Err(err).Msg("nacos initial fetch failed, using file routing rules")
			} else if content != "" {
				applyRoutingUpdate(ctx, cfg, resolver, content)
			}
			if err := nacosClient.WatchConfig(cfg.Infra.Nacos.DataID, func(content string) {
				applyRoutingUpdate(ctx, cfg, resolver, content)
			}); err != nil {
				logger.Warn().Err(err).Msg("nacos watch failed, dynamic routing rules disabled")
			}
		}
	}

	// 跨实例任务锁
	var zkConn *zookeeper.Conn
	if len(cfg.Infra.Zookeeper.Servers) > 0 {
		zkConn, err = zookeeper.Connect(cfg.Infra.Zookeeper.Servers, 10*time.Second)
		if err != nil {
			return nil, err
		}
	}

	// 调度器
	sched := scheduler.NewScheduler(zkConn, alerter)
	sched.AddJob("process_new_orders", cfg.Jobs.IngestInterval, processor.ProcessNewOrders)
	sched.AddJob("sync_order_status", cfg.Jobs.StatusSyncInterval, processor.SyncOrderStatus)
	sched.AddJob("update_tracking_info", cfg.Jobs.TrackingInterval, processor.UpdateTrackingInfo)
	sched.AddJob("process_cancellations", cfg.Jobs.CancelInterval, processor.ProcessCancellations)
	sched.Start(ctx)

	cleanup := func(ctx context.Context) {
		sched.Stop()
		if nacosClient != nil {
			nacosClient.Close()
		}
		if zkConn != nil {
			zkConn.Close()
		}
		if cache != nil {
			_ = cache.Close()
		}
		_ = alerter.Close()
	}
	return cleanup, nil
}

// applyRoutingUpdate 解析配置中心推下来的路由规则并热替换。
// 新规则编译失败时保留旧规则继续跑。
func applyRoutingUpdate(ctx context.Context, base *config.Config, resolver *routing.DynamicResolver, content string) {
	logger := zlog.Ctx(ctx)

	var update struct {
		Routing struct {
			Rules           []config.RoutingRule `yaml:"rules"`
			DefaultSupplier string               `yaml:"default_supplier"`
		} `yaml:"routing"`
	}
	if err := yaml.Unmarshal([]byte(content), &update); err != nil {
		logger.Error().Err(err).Msg("bad routing config update, keeping current rules")
		return
	}

	next := *base
	next.Routing.Rules = update.Routing.Rules
	if update.Routing.DefaultSupplier != "" {
		next.Routing.DefaultSupplier = update.Routing.DefaultSupplier
	}

	compiled, err := routing.NewCELResolver(next)
	if err != nil {
		logger.Error().Err(err).Msg("routing rules failed to compile, keeping current rules")
		return
	}
	resolver.Swap(compiled)
	logger.Info().Int("rules", len(update.Routing.Rules)).Msg("routing rules updated")
}
