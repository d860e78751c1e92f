// Package errors 提供统一错误类型与哨兵错误。
//
// 两层错误体系:
//   - L1 哨兵错误: ErrTransport / ErrBackend / ErrMalformedEvent 等
//   - L2 AppError: 带 Op + Code + Message 的应用级错误
package errors

import (
	"errors"
	"fmt"
)

// ========================================
// L1 哨兵错误 (Sentinel Errors)
// ========================================

var (
	// ErrNotFound 资源不存在
	ErrNotFound = errors.New("not found")

	// ErrInvalidInput 输入参数无效
	ErrInvalidInput = errors.New("invalid input")

	// ErrTimeout 操作超时
	ErrTimeout = errors.New("timeout")

	// ErrTransport 传输层失败 (推送通道断开、请求失败)。本地降级处理, 不向用户暴露。
	ErrTransport = errors.New("transport failure")

	// ErrBackend 后端返回的处理错误 ({error: ...})。需要展示给用户。
	ErrBackend = errors.New("backend error")

	// ErrMalformedEvent 推送事件无法解析。记录日志后丢弃单条事件。
	ErrMalformedEvent = errors.New("malformed event")

	// ErrUnknownEvent 推送事件的判别字段不在已知集合中。
	ErrUnknownEvent = errors.New("unknown event kind")
)

// 错误码
const (
	CodeTransport = "TRANSPORT"
	CodeBackend   = "BACKEND"
	CodeDecode    = "DECODE"
	CodeConfig    = "CONFIG"
	CodeStore     = "STORE"
)

// ========================================
// L2 AppError (应用级错误)
// ========================================

// AppError 应用级错误，带操作上下文。
type AppError struct {
	Op      string // 操作名，如 "Client.CreateIdea"
	Code    string // 错误码，如 "TRANSPORT"、"BACKEND"
	Message string // 人类可读消息
	Err     error  // 原始错误
}

// Error 实现 error 接口。
func (e *AppError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Op, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Op, e.Message)
}

// Unwrap 支持 errors.Is / errors.As 链式查找。
func (e *AppError) Unwrap() error {
	return e.Err
}

// ========================================
// 工厂函数
// ========================================

// New 创建无原因链的应用错误。
func New(op, message string) error {
	return &AppError{Op: op, Message: message}
}

// Newf 创建带格式化消息的应用错误。
func Newf(op, format string, args ...any) error {
	return &AppError{Op: op, Message: fmt.Sprintf(format, args...)}
}

// Wrap 包装错误并附加操作上下文。
func Wrap(err error, op string, message string) error {
	return &AppError{Op: op, Message: message, Err: err}
}

// Wrapf 用格式化消息包装错误。
func Wrapf(err error, op, format string, args ...any) error {
	return &AppError{Op: op, Message: fmt.Sprintf(format, args...), Err: err}
}

// WithCode 包装错误并设置错误码。
func WithCode(err error, op, code, message string) error {
	return &AppError{Op: op, Code: code, Message: message, Err: err}
}

// CodeOf 返回链上第一个 AppError 的错误码, 无则为空。
func CodeOf(err error) string {
	var ae *AppError
	for err != nil {
		if errors.As(err, &ae) {
			if ae.Code != "" {
				return ae.Code
			}
			err = ae.Err
			continue
		}
		return ""
	}
	return ""
}

// Is / As 转发标准库, 调用方无需同时 import 两个 errors 包。
func Is(err, target error) bool { return errors.Is(err, target) }

// As 见 errors.As。
func As(err error, target any) bool { return errors.As(err, target) }
