// Copyright (c) 2025 wangke <464829928@qq.com>
//
// This software is released under the AGPL-3.0 license.
// For more details, see the LICENSE file in the root directory.

package middleware

import (
	"fmt"
	"net/http"
	"strconv"
	"time"

	"kisproxy/internal/ratelimit"
)

// resetLayout 与 JavaScript 的 toISOString 格式一致
const resetLayout = "2006-01-02T15:04:05.000Z07:00"

// RateLimit 在转发请求前执行滑动窗口限流，并写入配额相关的响应头。
// now 为空时使用 time.Now。
func RateLimit(l *ratelimit.Limiter, now func() time.Time) func(http.Handler) http.Handler {
	if now == nil {
		now = time.Now
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			res := l.Check(r.Context(), ClientKey(r), now())

			headers := w.Header()
			headers.Set("X-RateLimit-Limit", strconv.Itoa(res.Limit))
			headers.Set("X-RateLimit-Remaining", strconv.Itoa(res.Remaining))
			headers.Set("X-RateLimit-Reset", res.ResetAt.UTC().Format(resetLayout))

			if !res.Allowed {
				retryAfter := res.RetryAfterSeconds()
				headers.Set("Retry-After", strconv.Itoa(retryAfter))

				response := ErrorResponse{RequestID: GetRequestID(r.Context()), RetryAfter: retryAfter}
				response.Error.Code = "RATE_LIMITED"
				response.Error.Message = fmt.Sprintf("每 %d 秒最多 %d 个请求，请在 %d 秒后重试", int(l.Window()/time.Second), res.Limit, retryAfter)
				writeError(w, r, http.StatusTooManyRequests, response)
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}
