package middleware

import (
	"net/http"
)

// SecurityHeadersMiddleware 为所有响应添加推荐的安全头部。
func SecurityHeadersMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		headers := w.Header()

		// 防止浏览器对 JSON 响应进行 MIME 类型嗅探
		headers.Set("X-Content-Type-Options", "nosniff")

		headers.Set("X-Frame-Options", "DENY")

		// 响应可能包含凭据（例如批准密钥），禁止任何中间缓存保存
		headers.Set("Cache-Control", "no-store")

		if r.TLS != nil {
			headers.Set("Strict-Transport-Security", "max-age=31536000; includeSubDomains")
		}

		next.ServeHTTP(w, r)
	})
}
