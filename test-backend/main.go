// test-backend 是一个模拟的远端券商 API，用于在本地运行 kisproxy：
//
//	cd test-backend && go run .
//	KISPROXY_REMOTE_BASE_URL=http://localhost:8081 KISPROXY_REMOTE_APP_KEY=k KISPROXY_REMOTE_APP_SECRET=s go run ./cmd/kisproxy
package main

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"sync/atomic"
	"time"
)

// TokenRequest 是 /oauth2/tokenP 的请求体
type TokenRequest struct {
	GrantType string `json:"grant_type"`
	AppKey    string `json:"appkey"`
	AppSecret string `json:"appsecret"`
}

// ApprovalRequest 是 /oauth2/Approval 的请求体
type ApprovalRequest struct {
	GrantType string `json:"grant_type"`
	AppKey    string `json:"appkey"`
	SecretKey string `json:"secretkey"`
}

var issued atomic.Int64

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// tokenHandler 签发访问令牌
func tokenHandler(lifetime time.Duration) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req TokenRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error_description": "invalid body"})
			return
		}
		if req.GrantType != "client_credentials" || req.AppKey == "" || req.AppSecret == "" {
			writeJSON(w, http.StatusForbidden, map[string]string{"error_description": "invalid app credentials"})
			return
		}
		n := issued.Add(1)
		slog.Info("签发访问令牌", "n", n)
		writeJSON(w, http.StatusOK, map[string]any{
			"access_token": fmt.Sprintf("fake-access-token-%d", n),
			"token_type":   "Bearer",
			"expires_in":   int(lifetime.Seconds()),
		})
	}
}

// approvalHandler 签发批准密钥
func approvalHandler(w http.ResponseWriter, r *http.Request) {
	var req ApprovalRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.AppKey == "" || req.SecretKey == "" {
		writeJSON(w, http.StatusForbidden, map[string]string{"error_description": "invalid app credentials"})
		return
	}
	n := issued.Add(1)
	slog.Info("签发批准密钥", "n", n)
	writeJSON(w, http.StatusOK, map[string]string{"approval_key": fmt.Sprintf("fake-approval-key-%d", n)})
}

// quoteHandler 模拟 /uapi 下的行情接口，要求携带凭据头部
func quoteHandler(w http.ResponseWriter, r *http.Request) {
	if r.Header.Get("authorization") == "" || r.Header.Get("appkey") == "" {
		writeJSON(w, http.StatusUnauthorized, map[string]string{"rt_cd": "1", "msg1": "missing credentials"})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"rt_cd":  "0",
		"msg_cd": "MCA00000",
		"msg1":   "정상처리 되었습니다.",
		"output": map[string]string{
			"stck_prpr": "71000",
			"tr_id":     r.Header.Get("tr_id"),
			"path":      r.URL.Path,
		},
	})
}

// loggingMiddleware 记录每个请求
func loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		next.ServeHTTP(w, r)
		slog.Info("request", "method", r.Method, "path", r.URL.Path, "duration", time.Since(start))
	})
}

func main() {
	lifetime := 24 * time.Hour
	if v := os.Getenv("TOKEN_LIFETIME"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			lifetime = d
		}
	}

	mux := http.NewServeMux()
	mux.HandleFunc("POST /oauth2/tokenP", tokenHandler(lifetime))
	mux.HandleFunc("POST /oauth2/Approval", approvalHandler)
	mux.HandleFunc("/uapi/", quoteHandler)

	addr := ":8081"
	slog.Info("模拟远端 API 启动", "addr", addr, "token_lifetime", lifetime)
	if err := http.ListenAndServe(addr, loggingMiddleware(mux)); err != nil {
		slog.Error("模拟远端 API 退出", "error", err)
		os.Exit(1)
	}
}
