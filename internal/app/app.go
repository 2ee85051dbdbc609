// Copyright (c) 2025 wangke <464829928@qq.com>
//
// This software is released under the AGPL-3.0 license.
// For more details, see the LICENSE file in the root directory.

// Package app 将配置、存储、凭据代理、限流器和路由组装为一个可运行的服务。
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"kisproxy/configs"
	"kisproxy/internal/credential"
	"kisproxy/internal/gateway"
	"kisproxy/internal/middleware"
	"kisproxy/internal/ratelimit"
)

// shutdownTimeout 是优雅关闭时等待进行中请求的最长时间
const shutdownTimeout = 10 * time.Second

// App 持有一个运行中服务的全部组件
type App struct {
	cfg      configs.Config
	broker   *credential.Broker
	store    credential.Store
	limiter  *ratelimit.Limiter
	registry *prometheus.Registry
	handler  http.Handler

	closeLimiterStore func()
}

// New 根据配置构造所有组件，但不启动后台刷新和监听。
// acquirer 为 nil 时使用指向 remote.base_url 的 HTTPAcquirer。
func New(cfg configs.Config, acquirer credential.Acquirer) (*App, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	credMetrics, err := credential.NewMetrics(registry)
	if err != nil {
		return nil, err
	}
	rlMetrics, err := ratelimit.NewMetrics(registry)
	if err != nil {
		return nil, err
	}
	httpMetrics, err := middleware.NewHTTPMetrics(registry)
	if err != nil {
		return nil, err
	}

	store, err := credential.NewStore(cfg.CredentialCache)
	if err != nil {
		return nil, fmt.Errorf("初始化凭据缓存失败: %w", err)
	}

	if acquirer == nil {
		acquirer = credential.NewHTTPAcquirer(credential.HTTPAcquirerConfig{
			BaseURL:   cfg.Remote.BaseURL,
			AppKey:    cfg.Remote.AppKey,
			AppSecret: cfg.Remote.AppSecret,
			Timeout:   cfg.Remote.Timeout(),
			RPS:       cfg.Remote.AcquireRPS,
			Burst:     cfg.Remote.AcquireBurst,
		})
	}

	broker := credential.NewBroker(store, acquirer, credential.Options{
		SafetyMargin:    cfg.Credential.SafetyMargin(),
		NominalLifetime: cfg.Credential.NominalLifetime(),
		AcquireTimeout:  cfg.Remote.Timeout(),
		Metrics:         credMetrics,
	})

	a := &App{
		cfg:               cfg,
		broker:            broker,
		store:             store,
		registry:          registry,
		closeLimiterStore: func() {},
	}

	if cfg.RateLimit.Enabled {
		rlStore, closer, err := ratelimit.NewStore(cfg.RateLimit)
		if err != nil {
			_ = store.Close()
			return nil, fmt.Errorf("初始化限流存储失败: %w", err)
		}
		a.closeLimiterStore = closer
		a.limiter = ratelimit.New(rlStore, ratelimit.Config{
			Window:      cfg.RateLimit.Window(),
			MaxRequests: cfg.RateLimit.MaxRequests,
			Metrics:     rlMetrics,
		})
	}

	a.handler, err = gateway.NewRouter(gateway.Dependencies{
		Config:      &a.cfg,
		Broker:      broker,
		Limiter:     a.limiter,
		Gatherer:    registry,
		HTTPMetrics: httpMetrics,
	})
	if err != nil {
		a.Close()
		return nil, err
	}

	return a, nil
}

// Handler 返回完整的 HTTP 处理器链
func (a *App) Handler() http.Handler { return a.handler }

// Broker 返回凭据代理
func (a *App) Broker() *credential.Broker { return a.broker }

// Serve 在 ln 上提供服务直到 ctx 被取消，然后优雅关闭
func (a *App) Serve(ctx context.Context, ln net.Listener) error {
	if a.cfg.Credential.BackgroundRefresh {
		a.broker.StartBackgroundRefresh()
	}

	server := &http.Server{
		Handler:           a.handler,
		ReadHeaderTimeout: 10 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	serveErr := make(chan error, 1)
	go func() {
		slog.Info("kisproxy 开始启动", "addr", ln.Addr().String(), "version", a.cfg.Server.Version)
		serveErr <- server.Serve(ln)
	}()

	select {
	case err := <-serveErr:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("无法启动服务器: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	slog.Info("正在关闭服务器")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("关闭服务器失败: %w", err)
	}
	<-serveErr
	return nil
}

// ListenAndServe 监听 server.port 并提供服务直到 ctx 被取消
func (a *App) ListenAndServe(ctx context.Context) error {
	ln, err := net.Listen("tcp", ":"+a.cfg.Server.Port)
	if err != nil {
		return fmt.Errorf("监听端口 %s 失败: %w", a.cfg.Server.Port, err)
	}
	return a.Serve(ctx, ln)
}

// Close 停止后台刷新并释放存储
func (a *App) Close() {
	a.broker.Stop()
	a.closeLimiterStore()
	if err := a.store.Close(); err != nil {
		slog.Error("关闭凭据缓存失败", "error", err)
	}
}
