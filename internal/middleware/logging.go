package middleware

import (
	"log/slog"
	"net/http"
	"time"
)

// responseWriter 是一个捕获状态码的自定义 ResponseWriter。
type responseWriter struct {
	http.ResponseWriter
	statusCode int
}

func newResponseWriter(w http.ResponseWriter) *responseWriter {
	// 默认状态码为 200 OK
	return &responseWriter{w, http.StatusOK}
}

// WriteHeader 捕获状态码
func (rw *responseWriter) WriteHeader(code int) {
	rw.statusCode = code
	rw.ResponseWriter.WriteHeader(code)
}

// Flush 使反向代理的流式响应可以透传
func (rw *responseWriter) Flush() {
	if f, ok := rw.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

// Unwrap 供 http.ResponseController 访问底层 ResponseWriter
func (rw *responseWriter) Unwrap() http.ResponseWriter {
	return rw.ResponseWriter
}

// Logging 是一个中间件，用于记录 HTTP 请求的信息
func Logging(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()

		rw := newResponseWriter(w)
		next.ServeHTTP(rw, r)

		// 记录结构化日志
		slog.Info("http request",
			"method", r.Method,
			"uri", r.RequestURI,
			"proto", r.Proto,
			"status", rw.statusCode,
			"duration", time.Since(start),
			"client_ip", ClientKey(r),
			"request_id", GetRequestID(r.Context()),
		)
	})
}
