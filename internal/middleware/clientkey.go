// Copyright (c) 2025 wangke <464829928@qq.com>
//
// This software is released under the AGPL-3.0 license.
// For more details, see the LICENSE file in the root directory.

package middleware

import (
	"context"
	"net"
	"net/http"
	"strings"
)

type clientIPContextKey struct{}

// WithClientIP 记录由平台（可信的前置代理）提供的客户端 IP
func WithClientIP(ctx context.Context, ip string) context.Context {
	return context.WithValue(ctx, clientIPContextKey{}, ip)
}

// PlatformClientIP 从可信前置代理写入的头部读取客户端 IP 并放入上下文。
// header 为空时直接返回 next。
func PlatformClientIP(header string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		if header == "" {
			return next
		}
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if ip := strings.TrimSpace(r.Header.Get(header)); ip != "" {
				r = r.WithContext(WithClientIP(r.Context(), ip))
			}
			next.ServeHTTP(w, r)
		})
	}
}

// ClientKey 按固定优先级推导客户端键：
// 平台提供的客户端 IP -> 连接的远端地址 -> X-Forwarded-For 的第一个条目 -> "unknown"。
func ClientKey(r *http.Request) string {
	if ip, ok := r.Context().Value(clientIPContextKey{}).(string); ok {
		if ip = strings.TrimSpace(ip); ip != "" {
			return ip
		}
	}

	// RemoteAddr 的格式可能是 "ip:port"，我们需要分离出 IP
	if addr := strings.TrimSpace(r.RemoteAddr); addr != "" {
		if host, _, err := net.SplitHostPort(addr); err == nil && host != "" {
			return host
		}
		return addr
	}

	if forwardedFor := r.Header.Get("X-Forwarded-For"); forwardedFor != "" {
		first, _, _ := strings.Cut(forwardedFor, ",")
		if first = strings.TrimSpace(first); first != "" {
			return first
		}
	}

	return "unknown"
}
