package middleware

import (
	"log/slog"
	"net"
	"net/http"
)

// HealthCheck 是一个中间件，用于处理来自本地主机的 /healthz 探活请求
func HealthCheck(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/healthz" {
			next.ServeHTTP(w, r)
			return
		}

		host, _, err := net.SplitHostPort(r.RemoteAddr)
		if err != nil {
			slog.Warn("健康检查: 无法解析来源地址", "remote_addr", r.RemoteAddr, "error", err)
			http.Error(w, "Forbidden", http.StatusForbidden)
			return
		}

		if ip := net.ParseIP(host); ip != nil && ip.IsLoopback() {
			w.WriteHeader(http.StatusOK)
			_, _ = w.Write([]byte("OK"))
			return
		}

		slog.Warn("健康检查: 拒绝来自非本地主机的访问", "host", host)
		http.Error(w, "Forbidden", http.StatusForbidden)
	})
}
