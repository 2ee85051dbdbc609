// Copyright (c) 2025 wangke <464829928@qq.com>
//
// This software is released under the AGPL-3.0 license.
// For more details, see the LICENSE file in the root directory.

// Package gateway 组装 HTTP 路由：管理接口、健康检查、指标以及带凭据的上游代理。
package gateway

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"kisproxy/configs"
	"kisproxy/internal/credential"
	"kisproxy/internal/middleware"
	"kisproxy/internal/ratelimit"
)

// isoLayout 与 JavaScript 的 toISOString 格式一致
const isoLayout = "2006-01-02T15:04:05.000Z07:00"

// CredentialBroker 是路由层使用的凭据代理接口
type CredentialBroker interface {
	Credential(ctx context.Context, name credential.SlotName) (string, error)
	CacheStatus(ctx context.Context) credential.Status
	Refresh(ctx context.Context) (map[credential.SlotName]error, error)
}

// Dependencies 是构造路由器所需的依赖项
type Dependencies struct {
	Config *configs.Config
	Broker CredentialBroker

	// Limiter 为 nil 时 /api 不限流
	Limiter *ratelimit.Limiter

	// Gatherer 为 nil 时不注册 /metrics
	Gatherer    prometheus.Gatherer
	HTTPMetrics *middleware.HTTPMetrics

	// Now 默认为 time.Now
	Now func() time.Time
}

// NewRouter 创建一个新的路由器，配置所有路由，并将其作为 http.Handler 返回。
func NewRouter(deps Dependencies) (http.Handler, error) {
	if deps.Config == nil {
		return nil, errors.New("gateway: config is required")
	}
	if deps.Broker == nil {
		return nil, errors.New("gateway: credential broker is required")
	}
	if deps.Now == nil {
		deps.Now = time.Now
	}

	proxyHandler, err := NewProxy(deps.Config.Remote, deps.Broker)
	if err != nil {
		return nil, err
	}

	h := &handlers{broker: deps.Broker, version: deps.Config.Server.Version, now: deps.Now}

	r := chi.NewRouter()

	// 顺序: Recovery -> CORS -> PlatformClientIP -> RequestID -> SecurityHeaders -> Logging -> Metrics -> HealthCheck -> 路由
	r.Use(middleware.Recovery)
	if deps.Config.Server.CORS.Enabled {
		r.Use(corsHandler(deps.Config.Server.CORS))
	}
	r.Use(middleware.PlatformClientIP(deps.Config.Server.ClientIPHeader))
	r.Use(middleware.RequestID)
	r.Use(middleware.SecurityHeadersMiddleware)
	r.Use(middleware.Logging)
	r.Use(deps.HTTPMetrics.Handler)
	r.Use(middleware.HealthCheck)

	r.NotFound(func(w http.ResponseWriter, req *http.Request) {
		middleware.WriteJSONError(w, req, http.StatusNotFound, "NOT_FOUND", "endpoint not found")
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, req *http.Request) {
		middleware.WriteJSONError(w, req, http.StatusMethodNotAllowed, "METHOD_NOT_ALLOWED", "method not allowed")
	})

	r.Get("/health", h.health)
	if deps.Gatherer != nil {
		r.Handle("/metrics", promhttp.HandlerFor(deps.Gatherer, promhttp.HandlerOpts{}))
	}

	r.Route("/api", func(api chi.Router) {
		if deps.Limiter != nil {
			api.Use(middleware.RateLimit(deps.Limiter, deps.Now))
		}
		api.Get("/token-status", h.tokenStatus)
		api.Post("/refresh-tokens", h.refreshTokens)
		api.Get("/approval-key", h.approvalKey)
		api.Get("/uapi/*", proxyHandler.ServeHTTP)
	})

	return r, nil
}

// corsHandler 为浏览器前端放行跨域请求，预检请求在此直接应答，不计入限流
func corsHandler(cfg configs.CORSConfig) func(http.Handler) http.Handler {
	origins := cfg.AllowedOrigins
	if len(origins) == 0 {
		origins = []string{"*"}
	}
	return cors.Handler(cors.Options{
		AllowedOrigins: origins,
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowedHeaders: []string{"Accept", "Content-Type", "tr_id", middleware.RequestIDHeader},
		ExposedHeaders: []string{
			"X-RateLimit-Limit",
			"X-RateLimit-Remaining",
			"X-RateLimit-Reset",
			"Retry-After",
			middleware.RequestIDHeader,
		},
		MaxAge: cfg.MaxAgeSeconds,
	})
}
