package metrics

import (
	"context"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/fx"

	"github.com/dep2p/go-courier/config"
	"github.com/dep2p/go-courier/internal/util/logger"
)

// ============================================================================
// Fx 模块
// ============================================================================

// Config 指标配置
type Config struct {
	// Enable 是否启用指标收集
	Enable bool

	// Listen 指标端点监听地址
	Listen string
}

// NewConfig 创建默认配置
func NewConfig() Config {
	return Config{
		Enable: false,
		Listen: "127.0.0.1:9464",
	}
}

// ConfigFromUnified 从统一配置创建指标配置
func ConfigFromUnified(cfg *config.Config) Config {
	if cfg == nil {
		return NewConfig()
	}
	return Config{
		Enable: cfg.Metrics.Enable,
		Listen: cfg.Metrics.Listen,
	}
}

// Result Fx 模块输出结果
type Result struct {
	fx.Out

	Metrics  *Metrics
	Registry *prometheus.Registry
}

// Module 返回 Fx 模块
func Module() fx.Option {
	return fx.Module("metrics",
		fx.Provide(
			ProvideConfig,
			ProvideMetrics,
		),
		fx.Invoke(registerLifecycle),
	)
}

// ProvideConfig 从统一配置提供指标配置
func ProvideConfig(cfg *config.Config) Config {
	return ConfigFromUnified(cfg)
}

// ProvideMetrics 提供指标集
//
// 禁用时指标写入独立的废弃注册表，调用方无需判空。
func ProvideMetrics() Result {
	reg := prometheus.NewRegistry()
	return Result{
		Metrics:  New(reg),
		Registry: reg,
	}
}

// exporter 指标端点
type exporter struct {
	server *http.Server
	log    *slog.Logger
}

// registerLifecycle 注册指标端点生命周期
func registerLifecycle(lc fx.Lifecycle, cfg Config, reg *prometheus.Registry) {
	if !cfg.Enable {
		return
	}

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
	exp := &exporter{
		server: &http.Server{
			Addr:              cfg.Listen,
			Handler:           mux,
			ReadHeaderTimeout: 5 * time.Second,
		},
		log: logger.Logger("metrics"),
	}

	lc.Append(fx.Hook{
		OnStart: func(_ context.Context) error {
			ln, err := net.Listen("tcp", cfg.Listen)
			if err != nil {
				return err
			}
			exp.log.Info("指标端点已启动", "addr", ln.Addr().String())
			go func() {
				if err := exp.server.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
					exp.log.Error("指标端点异常退出", "error", err)
				}
			}()
			return nil
		},
		OnStop: func(ctx context.Context) error {
			return exp.server.Shutdown(ctx)
		},
	})
}
