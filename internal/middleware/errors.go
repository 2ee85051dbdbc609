package middleware

import (
	"encoding/json"
	"log/slog"
	"net/http"
)

// ErrorResponse 定义了标准 JSON 错误响应格式。
type ErrorResponse struct {
	Error struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
	RequestID  string `json:"requestId,omitempty"`
	RetryAfter int    `json:"retryAfter,omitempty"`
}

// WriteJSONError 向客户端发送一个标准化的 JSON 错误响应。
// 它记录错误，然后写入一个包含机器可读错误码和人类可读错误信息的 JSON 对象。
func WriteJSONError(w http.ResponseWriter, r *http.Request, statusCode int, errorCode, message string) {
	response := ErrorResponse{RequestID: GetRequestID(r.Context())}
	response.Error.Code = errorCode
	response.Error.Message = message
	writeError(w, r, statusCode, response)
}

func writeError(w http.ResponseWriter, r *http.Request, statusCode int, response ErrorResponse) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)

	level := slog.LevelError
	if statusCode < http.StatusInternalServerError {
		level = slog.LevelWarn
	}
	slog.Log(r.Context(), level, "HTTP error response sent",
		"method", r.Method,
		"path", r.URL.Path,
		"status", statusCode,
		"code", response.Error.Code,
		"message", response.Error.Message,
		"request_id", response.RequestID,
	)

	if err := json.NewEncoder(w).Encode(response); err != nil {
		slog.Error("Failed to encode JSON error response", "error", err)
	}
}

// WriteJSON 以给定状态码写入 JSON 响应
func WriteJSON(w http.ResponseWriter, statusCode int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("Failed to encode JSON response", "error", err)
	}
}
