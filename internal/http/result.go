package httpapi

import (
	"encoding/json"
	"net/http"
)

// Result 统一响应信封
// - code: 2000 成功，-1 失败
// - type: 'success' | 'error'
type Result[T any] struct {
	Code    int    `json:"code"`
	Type    string `json:"type"`
	Message string `json:"message"`
	Result  T      `json:"result"`
}

const (
	ResultSuccess = 2000
	ResultError   = -1
)

func Ok[T any](result T) Result[T] {
	return Result[T]{Code: ResultSuccess, Type: "success", Message: "ok", Result: result}
}

func Fail(message string) Result[any] {
	return Result[any]{Code: ResultError, Type: "error", Message: message, Result: nil}
}

// SyncErrorDetail 类型化同步错误的响应体
// nextAction 驱动前端：init/sign 提示重新认证，retry 给重试按钮。
type SyncErrorDetail struct {
	ErrorCode  string `json:"errorCode"`
	NextAction string `json:"nextAction"`
}

// FailSync 携带错误代码与 nextAction 的失败信封
func FailSync(code, message, nextAction string) Result[SyncErrorDetail] {
	return Result[SyncErrorDetail]{
		Code:    ResultError,
		Type:    "error",
		Message: message,
		Result:  SyncErrorDetail{ErrorCode: code, NextAction: nextAction},
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
