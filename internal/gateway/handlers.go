// Copyright (c) 2025 wangke <464829928@qq.com>
//
// This software is released under the AGPL-3.0 license.
// For more details, see the LICENSE file in the root directory.

package gateway

import (
	"log/slog"
	"net/http"
	"time"

	"kisproxy/internal/credential"
	"kisproxy/internal/middleware"
)

type handlers struct {
	broker  CredentialBroker
	version string
	now     func() time.Time
}

// HealthResponse 是 /health 的响应体
type HealthResponse struct {
	Status    string `json:"status"`
	Timestamp string `json:"timestamp"`
	Version   string `json:"version"`
}

// TokenStatusResponse 是 /api/token-status 的响应体
type TokenStatusResponse struct {
	AccessToken          string  `json:"accessToken"`
	ApprovalKey          string  `json:"approvalKey"`
	CacheSize            int     `json:"cacheSize"`
	AccessTokenExpiresAt *string `json:"accessTokenExpiresAt"`
	ApprovalKeyExpiresAt *string `json:"approvalKeyExpiresAt"`
	AutoRefreshEnabled   bool    `json:"autoRefreshEnabled"`
	Message              string  `json:"message"`
	Timestamp            string  `json:"timestamp"`
}

// RefreshResponse 是 /api/refresh-tokens 的响应体
type RefreshResponse struct {
	Message     string `json:"message"`
	AccessToken string `json:"accessToken"`
	ApprovalKey string `json:"approvalKey"`
	Timestamp   string `json:"timestamp"`
}

// ApprovalKeyResponse 是 /api/approval-key 的响应体
type ApprovalKeyResponse struct {
	ApprovalKey string `json:"approval_key"`
}

func (h *handlers) timestamp() string {
	return h.now().UTC().Format(isoLayout)
}

func expiresAt(st credential.SlotStatus) *string {
	if st.ExpiresAt == nil {
		return nil
	}
	s := st.ExpiresAt.UTC().Format(isoLayout)
	return &s
}

func (h *handlers) health(w http.ResponseWriter, req *http.Request) {
	middleware.WriteJSON(w, http.StatusOK, HealthResponse{
		Status:    "OK",
		Timestamp: h.timestamp(),
		Version:   h.version,
	})
}

// tokenStatus 只读地报告两个凭据槽的状态，不会触发获取
func (h *handlers) tokenStatus(w http.ResponseWriter, req *http.Request) {
	status := h.broker.CacheStatus(req.Context())

	middleware.WriteJSON(w, http.StatusOK, TokenStatusResponse{
		AccessToken:          status.State(credential.AccessToken),
		ApprovalKey:          status.State(credential.ApprovalKey),
		CacheSize:            status.CacheSize,
		AccessTokenExpiresAt: expiresAt(status.Slots[credential.AccessToken]),
		ApprovalKeyExpiresAt: expiresAt(status.Slots[credential.ApprovalKey]),
		AutoRefreshEnabled:   status.AutoRefreshEnabled,
		Message:              "token status retrieved",
		Timestamp:            h.timestamp(),
	})
}

// refreshTokens 清空缓存并重新获取两个槽
func (h *handlers) refreshTokens(w http.ResponseWriter, req *http.Request) {
	errs, err := h.broker.Refresh(req.Context())
	if err != nil {
		middleware.WriteJSONError(w, req, http.StatusInternalServerError, "REFRESH_FAILED", err.Error())
		return
	}

	for _, name := range credential.AllSlots {
		if errs[name] != nil {
			slog.Error("手动刷新凭据失败", "slot", name, "error", errs[name])
			middleware.WriteJSONError(w, req, http.StatusInternalServerError, "REFRESH_FAILED", errs[name].Error())
			return
		}
	}

	middleware.WriteJSON(w, http.StatusOK, RefreshResponse{
		Message:     "tokens refreshed",
		AccessToken: "issued",
		ApprovalKey: "issued",
		Timestamp:   h.timestamp(),
	})
}

func (h *handlers) approvalKey(w http.ResponseWriter, req *http.Request) {
	key, err := h.broker.Credential(req.Context(), credential.ApprovalKey)
	if err != nil {
		middleware.WriteJSONError(w, req, http.StatusServiceUnavailable, "CREDENTIAL_UNAVAILABLE", err.Error())
		return
	}
	middleware.WriteJSON(w, http.StatusOK, ApprovalKeyResponse{ApprovalKey: key})
}
