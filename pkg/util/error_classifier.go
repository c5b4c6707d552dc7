package util

import (
	"context"
	"errors"
	"net"
	"net/textproto"
	"net/url"
	"strings"

	"eznotify/pkg/circuitbreaker"
)

// ClassifySendError tags a delivery error for logs and metrics.
// Returns: (isRetryable, errorKind)
//
// 注意：分类只用于观测，重试与否由 attempts 上限决定
func ClassifySendError(err error) (bool, string) {
	if err == nil {
		return false, ""
	}

	errStr := err.Error()

	// Context timeout - 发送超时，可重试
	if errors.Is(err, context.DeadlineExceeded) {
		return true, "send_timeout"
	}
	if errors.Is(err, context.Canceled) {
		return false, "context_canceled"
	}

	// 熔断器打开 - 通道暂时不可用，可重试
	if errors.Is(err, circuitbreaker.ErrCircuitBreakerOpen) {
		return true, "circuit_open"
	}

	// Network errors - 可重试
	var netErr net.Error
	if errors.As(err, &netErr) {
		if netErr.Timeout() {
			return true, "network_timeout"
		}
		return true, "network_error"
	}

	var urlErr *url.Error
	if errors.As(err, &urlErr) {
		if urlErr.Timeout() {
			return true, "network_timeout"
		}
		return true, "network_error"
	}

	if strings.Contains(errStr, "connection refused") || strings.Contains(errStr, "connection reset") {
		return true, "connection_error"
	}

	// SMTP 回复码：4xx 临时失败，5xx 永久拒绝
	var tpErr *textproto.Error
	if errors.As(err, &tpErr) {
		if tpErr.Code >= 500 {
			return false, "smtp_permanent"
		}
		return true, "smtp_transient"
	}

	// SMS 网关按状态码判断：5xx 和 429 可重试，其余 4xx 是永久错误
	if strings.Contains(errStr, "gateway returned status") {
		if strings.Contains(errStr, "status 5") || strings.Contains(errStr, "status 429") {
			return true, "gateway_unavailable"
		}
		return false, "gateway_rejected"
	}

	if strings.Contains(errStr, "panic") {
		return false, "sender_panic"
	}

	// 默认：未知错误
	return false, "unknown_error"
}
