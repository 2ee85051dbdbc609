// Copyright (c) 2025 wangke <464829928@qq.com>
//
// This software is released under the AGPL-3.0 license.
// For more details, see the LICENSE file in the root directory.

package gateway

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"net/http/httputil"
	"net/url"
	"regexp"

	"kisproxy/configs"
	"kisproxy/internal/credential"
	"kisproxy/internal/middleware"
)

// apiPrefix 是入站路径上需要剥离的前缀，/api/uapi/... 转发到 {base_url}/uapi/...
const apiPrefix = "/api"

// quotationPath 匹配允许转发的只读行情接口，例如
// /api/uapi/domestic-stock/v1/quotations/inquire-price。交易 (trading) 等其他接口一律拒绝。
var quotationPath = regexp.MustCompile(`^/api/uapi/[a-z0-9-]+/v1/quotations/[a-z0-9-]+$`)

type accessTokenKey struct{}

// allowedQuotation 判断请求是否落在只读行情接口白名单内。
// 含转义字符的路径 (RawPath 非空) 一律拒绝，避免解码后的路径与转发的路径不一致。
func allowedQuotation(r *http.Request) bool {
	return r.Method == http.MethodGet && r.URL.RawPath == "" && quotationPath.MatchString(r.URL.Path)
}

// NewProxy 创建并返回一个带凭据的只读行情代理处理器。
// 只有白名单内的 GET 行情请求会被转发：先从 broker 获取访问令牌，
// 再注入 authorization / appkey / appsecret / custtype 头部。其余请求返回 404，且不会获取凭据。
func NewProxy(remote configs.RemoteConfig, broker CredentialBroker) (http.Handler, error) {
	// 解析后端目标 URL
	target, err := url.Parse(remote.BaseURL)
	if err != nil {
		return nil, fmt.Errorf("无法解析目标 URL: %w", err)
	}
	if target.Scheme == "" || target.Host == "" {
		return nil, fmt.Errorf("无法解析目标 URL: %q 缺少 scheme 或 host", remote.BaseURL)
	}

	transport := http.DefaultTransport.(*http.Transport).Clone()
	transport.ResponseHeaderTimeout = remote.Timeout()

	proxy := &httputil.ReverseProxy{
		Transport: transport,
		Rewrite: func(pr *httputil.ProxyRequest) {
			pr.SetURL(target)
			pr.Out.Host = target.Host

			token, _ := pr.In.Context().Value(accessTokenKey{}).(string)
			pr.Out.Header.Set("authorization", "Bearer "+token)
			pr.Out.Header.Set("appkey", remote.AppKey)
			pr.Out.Header.Set("appsecret", remote.AppSecret)
			pr.Out.Header.Set("custtype", "P")
		},
		ErrorHandler: func(w http.ResponseWriter, r *http.Request, err error) {
			slog.Error("上游请求失败", "path", r.URL.Path, "error", err)
			middleware.WriteJSONError(w, r, http.StatusBadGateway, "UPSTREAM_UNAVAILABLE", "upstream request failed")
		},
	}

	forward := http.StripPrefix(apiPrefix, proxy)

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !allowedQuotation(r) {
			slog.Warn("拒绝转发非行情接口", "method", r.Method, "path", r.URL.Path)
			middleware.WriteJSONError(w, r, http.StatusNotFound, "NOT_FOUND", "only read-only quotation endpoints are proxied")
			return
		}
		token, err := broker.Credential(r.Context(), credential.AccessToken)
		if err != nil {
			middleware.WriteJSONError(w, r, http.StatusServiceUnavailable, "CREDENTIAL_UNAVAILABLE", err.Error())
			return
		}
		out := r.WithContext(context.WithValue(r.Context(), accessTokenKey{}, token))
		// 行情查询不携带请求体
		out.Body = http.NoBody
		out.ContentLength = 0
		forward.ServeHTTP(w, out)
	}), nil
}
