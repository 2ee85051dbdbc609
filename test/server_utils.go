//go:build integration

package test

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"time"

	"kisproxy/configs"
	"kisproxy/internal/app"
)

// KISProxyTestServer 封装了一个运行中的 kisproxy 服务器，用于测试
type KISProxyTestServer struct {
	URL      string
	App      *app.App
	Config   configs.Config
	StopFunc func() // 清理停止服务器的函数
}

// StartKISProxyServer 启动一个带指定配置的 kisproxy 服务器用于测试。
// 日志默认被丢弃，避免污染测试输出。
func StartKISProxyServer(cfg configs.Config) (*KISProxyTestServer, error) {
	slog.SetDefault(slog.New(slog.NewTextHandler(io.Discard, &slog.HandlerOptions{Level: slog.LevelError})))

	a, err := app.New(cfg, nil)
	if err != nil {
		return nil, fmt.Errorf("初始化 kisproxy 失败: %w", err)
	}

	// 为测试服务器使用一个随机的空闲端口
	listener, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		a.Close()
		return nil, fmt.Errorf("查找空闲端口失败: %w", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- a.Serve(ctx, listener) }()

	url := "http://" + listener.Addr().String()
	if err := waitHealthy(url, 2*time.Second); err != nil {
		cancel()
		<-done
		a.Close()
		return nil, err
	}

	stopFunc := func() {
		cancel()
		if err := <-done; err != nil {
			slog.Error("关闭 kisproxy 测试服务器失败", "error", err)
		}
		a.Close()
	}

	return &KISProxyTestServer{URL: url, App: a, Config: cfg, StopFunc: stopFunc}, nil
}

// waitHealthy 轮询 /health 直到服务器就绪
func waitHealthy(url string, timeout time.Duration) error {
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		resp, err := http.Get(url + "/health")
		if err == nil {
			resp.Body.Close()
			if resp.StatusCode == http.StatusOK {
				return nil
			}
		}
		time.Sleep(10 * time.Millisecond)
	}
	return fmt.Errorf("kisproxy 测试服务器在 %s 内未就绪", timeout)
}

// MockRemoteServer 封装了一个模拟的远端券商 API
type MockRemoteServer struct {
	URL    string
	Server *httptest.Server

	TokenCalls    atomic.Int32
	ApprovalCalls atomic.Int32

	// TokenDelay 使令牌签发变慢，便于观察并发合并
	TokenDelay time.Duration
	// Fail 为 true 时凭据接口返回 403
	Fail atomic.Bool

	LastRequest *LastRequestInfo
}

// LastRequestInfo 捕获模拟远端收到的最后一个 /uapi 请求的头部
type LastRequestInfo struct {
	sync.RWMutex
	Header http.Header
	Path   string
}

// StartMockRemoteServer 启动一个模拟的远端 API：
// /oauth2/tokenP、/oauth2/Approval 以及 /uapi/ 下的行情接口。
func StartMockRemoteServer(tokenDelay time.Duration) *MockRemoteServer {
	m := &MockRemoteServer{TokenDelay: tokenDelay, LastRequest: &LastRequestInfo{}}
	mux := http.NewServeMux()

	mux.HandleFunc("POST /oauth2/tokenP", func(w http.ResponseWriter, r *http.Request) {
		n := m.TokenCalls.Add(1)
		time.Sleep(m.TokenDelay)
		if m.Fail.Load() {
			writeJSON(w, http.StatusForbidden, map[string]string{"error_description": "유효하지 않은 AppKey입니다."})
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{
			"access_token": fmt.Sprintf("token-%d", n),
			"token_type":   "Bearer",
			"expires_in":   86400,
		})
	})

	mux.HandleFunc("POST /oauth2/Approval", func(w http.ResponseWriter, r *http.Request) {
		n := m.ApprovalCalls.Add(1)
		if m.Fail.Load() {
			writeJSON(w, http.StatusForbidden, map[string]string{"error_description": "denied"})
			return
		}
		writeJSON(w, http.StatusOK, map[string]string{"approval_key": fmt.Sprintf("approval-%d", n)})
	})

	mux.HandleFunc("/uapi/", func(w http.ResponseWriter, r *http.Request) {
		m.LastRequest.Lock()
		m.LastRequest.Header = r.Header.Clone()
		m.LastRequest.Path = r.URL.Path
		m.LastRequest.Unlock()

		writeJSON(w, http.StatusOK, map[string]any{
			"rt_cd":  "0",
			"msg_cd": "MCA00000",
			"output": map[string]string{"stck_prpr": "71000"},
		})
	})

	m.Server = httptest.NewServer(mux)
	m.URL = m.Server.URL
	return m
}

// Close 关闭模拟远端
func (m *MockRemoteServer) Close() { m.Server.Close() }

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// newTestConfig 返回指向 remoteURL 的最小配置
func newTestConfig(remoteURL string) configs.Config {
	return configs.Config{
		Server: configs.ServerConfig{Version: "integration"},
		Remote: configs.RemoteConfig{
			BaseURL:        remoteURL,
			AppKey:         "test-app-key",
			AppSecret:      "test-app-secret",
			TimeoutSeconds: 5,
			AcquireRPS:     100,
			AcquireBurst:   10,
		},
		Credential: configs.CredentialConfig{
			SafetyMarginSeconds:  300,
			NominalLifetimeHours: 24,
		},
		CredentialCache: configs.CredentialCacheConfig{Type: "in-memory"},
		RateLimit: configs.RateLimitConfig{
			Enabled:     true,
			WindowMs:    60000,
			MaxRequests: 1000,
			Store:       configs.RateLimitStoreConfig{Type: "in-memory"},
		},
	}
}
