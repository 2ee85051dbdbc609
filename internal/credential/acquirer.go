// Copyright (c) 2025 wangke <464829928@qq.com>
//
// This software is released under the AGPL-3.0 license.
// For more details, see the LICENSE file in the root directory.

package credential

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"golang.org/x/time/rate"
)

// Grant 是一次成功获取的结果。Lifetime 为 0 表示远端未声明有效期。
type Grant struct {
	Value    string
	Lifetime time.Duration
}

// Acquirer 执行获取凭据的网络往返
type Acquirer interface {
	Acquire(ctx context.Context, name SlotName) (Grant, error)
}

// HTTPAcquirerConfig 定义了 HTTPAcquirer 的配置
type HTTPAcquirerConfig struct {
	BaseURL   string
	AppKey    string
	AppSecret string

	// 单次请求的超时，默认 10 秒
	Timeout time.Duration

	// RPS 小于等于 0 时不对签发调用节流
	RPS   float64
	Burst int

	HTTPClient *http.Client
}

// HTTPAcquirer 通过远端的 oauth2 接口获取访问令牌和批准密钥
type HTTPAcquirer struct {
	baseURL   string
	appKey    string
	appSecret string
	client    *http.Client
	pacer     *rate.Limiter
}

const (
	tokenPath    = "/oauth2/tokenP"
	approvalPath = "/oauth2/Approval"
)

type tokenRequest struct {
	GrantType string `json:"grant_type"`
	AppKey    string `json:"appkey"`
	AppSecret string `json:"appsecret"`
}

type tokenResponse struct {
	AccessToken string `json:"access_token"`
	ExpiresIn   int64  `json:"expires_in"`
}

// 批准密钥接口使用 secretkey 而不是 appsecret
type approvalRequest struct {
	GrantType string `json:"grant_type"`
	AppKey    string `json:"appkey"`
	SecretKey string `json:"secretkey"`
}

type approvalResponse struct {
	ApprovalKey string `json:"approval_key"`
}

type remoteError struct {
	Error            string `json:"error"`
	ErrorDescription string `json:"error_description"`
}

// NewHTTPAcquirer 创建一个新的 HTTPAcquirer
func NewHTTPAcquirer(cfg HTTPAcquirerConfig) *HTTPAcquirer {
	client := cfg.HTTPClient
	if client == nil {
		timeout := cfg.Timeout
		if timeout <= 0 {
			timeout = 10 * time.Second
		}
		client = &http.Client{Timeout: timeout}
	}

	var pacer *rate.Limiter
	if cfg.RPS > 0 {
		burst := cfg.Burst
		if burst <= 0 {
			burst = 1
		}
		pacer = rate.NewLimiter(rate.Limit(cfg.RPS), burst)
	}

	return &HTTPAcquirer{
		baseURL:   strings.TrimRight(cfg.BaseURL, "/"),
		appKey:    cfg.AppKey,
		appSecret: cfg.AppSecret,
		client:    client,
		pacer:     pacer,
	}
}

// Acquire 根据槽名调用对应的签发接口
func (a *HTTPAcquirer) Acquire(ctx context.Context, name SlotName) (Grant, error) {
	if !name.Known() {
		return Grant{}, ErrUnknownSlot
	}
	if a.pacer != nil {
		if err := a.pacer.Wait(ctx); err != nil {
			return Grant{}, fmt.Errorf("等待签发配额: %w", err)
		}
	}

	switch name {
	case AccessToken:
		return a.accessToken(ctx)
	default:
		return a.approvalKey(ctx)
	}
}

func (a *HTTPAcquirer) accessToken(ctx context.Context) (Grant, error) {
	var resp tokenResponse
	err := a.post(ctx, tokenPath, "application/json", tokenRequest{
		GrantType: "client_credentials",
		AppKey:    a.appKey,
		AppSecret: a.appSecret,
	}, &resp)
	if err != nil {
		return Grant{}, err
	}
	if resp.AccessToken == "" {
		return Grant{}, errMissingValue
	}
	return Grant{
		Value:    resp.AccessToken,
		Lifetime: time.Duration(resp.ExpiresIn) * time.Second,
	}, nil
}

func (a *HTTPAcquirer) approvalKey(ctx context.Context) (Grant, error) {
	var resp approvalResponse
	err := a.post(ctx, approvalPath, "application/json; utf-8", approvalRequest{
		GrantType: "client_credentials",
		AppKey:    a.appKey,
		SecretKey: a.appSecret,
	}, &resp)
	if err != nil {
		return Grant{}, err
	}
	if resp.ApprovalKey == "" {
		return Grant{}, errMissingValue
	}
	return Grant{Value: resp.ApprovalKey}, nil
}

func (a *HTTPAcquirer) post(ctx context.Context, path, contentType string, body, out any) error {
	payload, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("encode request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, a.baseURL+path, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", contentType)

	resp, err := a.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return fmt.Errorf("read response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		var re remoteError
		if json.Unmarshal(data, &re) == nil && re.ErrorDescription != "" {
			return fmt.Errorf("远端返回 %d: %s", resp.StatusCode, re.ErrorDescription)
		}
		return fmt.Errorf("远端返回状态码 %d", resp.StatusCode)
	}

	if err := json.Unmarshal(data, out); err != nil {
		slog.Debug("无法解析签发响应", "path", path, "error", err)
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}
