// internal/pkg/bootstrap/app.go
package bootstrap

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	zlog "github.com/rs/zerolog/log"

	"dropship/internal/pkg/tracing"
)

type AppCtx struct {
	Mux *http.ServeMux
}

// AppInfo 包含了启动一个服务进程所需的所有特定信息。
type AppInfo struct {
	ServiceName    string
	Port           int
	JaegerEndpoint string

	// RegisterHandlers 允许每个服务注册自己独特的 HTTP 路由
	RegisterHandlers func(appCtx AppCtx)

	// Run 启动服务的后台工作（调度器等），返回关停时要执行的清理函数。
	// 收到退出信号时 ctx 被取消。
	Run func(ctx context.Context) (cleanup func(ctx context.Context), err error)
}

// StartService 封装了服务进程的通用启动和优雅关停逻辑。
func StartService(info AppInfo) {
	// 1. 配置 zerolog
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	zlog.Logger = zlog.With().Str("service", info.ServiceName).Logger()
	logger := zlog.Logger

	// 2. 初始化 Tracer
	tp, err := tracing.InitTracerProvider(info.ServiceName, info.JaegerEndpoint)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to initialize tracer provider")
	}

	runCtx, cancelRun := context.WithCancel(logger.WithContext(context.Background()))
	defer cancelRun()

	// 3. 启动后台工作
	var cleanup func(ctx context.Context)
	if info.Run != nil {
		cleanup, err = info.Run(runCtx)
		if err != nil {
			logger.Fatal().Err(err).Msg("failed to start service")
		}
	}

	// 4. 创建并启动 HTTP Server（健康检查、指标等）
	mux := http.NewServeMux()
	if info.RegisterHandlers != nil {
		info.RegisterHandlers(AppCtx{Mux: mux})
	}
	server := &http.Server{Addr: ":" + strconv.Itoa(info.Port), Handler: mux}
	go func() {
		logger.Info().Int("port", info.Port).Msg("http server listening")
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal().Err(err).Str("addr", server.Addr).Msg("could not listen")
		}
	}()

	// 5. 优雅关停
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	// 阻塞主 goroutine，直到接收到退出信号
	<-quit
	logger.Info().Msg("shutting down")
	cancelRun()

	// 关停流程带超时，按后进先出的顺序清理
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if cleanup != nil {
		cleanup(ctx)
	}

	// 关闭 Tracer Provider，确保所有缓冲的 trace 都被发送出去
	if err := tp.Shutdown(ctx); err != nil {
		logger.Error().Err(err).Msg("error shutting down tracer provider")
	}

	if err := server.Shutdown(ctx); err != nil {
		logger.Error().Err(err).Msg("error shutting down http server")
	}

	logger.Info().Msg("gracefully shut down")
}
