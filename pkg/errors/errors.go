// Package errors 提供统一错误类型与哨兵错误。
//
// 两层错误体系:
//   - L1 哨兵错误: ErrStreamClosed / ErrAborted
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
	// ErrStreamClosed 通道已关闭, 不再接受读写
	ErrStreamClosed = errors.New("stream closed")

	// ErrAborted 用户或系统中止了当前 turn
	ErrAborted = errors.New("aborted")
)

// ========================================
// L2 AppError (应用级错误)
// ========================================

// AppError 应用级错误，带操作上下文。
type AppError struct {
	Op      string // 操作名，如 "TranscriptStore.ListPage"
	Code    string // 错误码，如 "DB_ERROR"、"DECODE"
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

// Unwrap 返回原始错误，支持 errors.Is / errors.As。
func (e *AppError) Unwrap() error { return e.Err }

// Wrap 包装错误并附加操作上下文。err 为 nil 时返回 nil。
func Wrap(err error, op, message string) error {
	if err == nil {
		return nil
	}
	return &AppError{Op: op, Message: message, Err: err}
}

// Wrapf 包装错误并附加格式化消息。err 为 nil 时返回 nil。
func Wrapf(err error, op, format string, args ...any) error {
	if err == nil {
		return nil
	}
	return &AppError{Op: op, Message: fmt.Sprintf(format, args...), Err: err}
}

// New 创建不带原始错误的 AppError。
func New(op, message string) error {
	return &AppError{Op: op, Message: message}
}

// Newf 创建带格式化消息的 AppError。
func Newf(op, format string, args ...any) error {
	return &AppError{Op: op, Message: fmt.Sprintf(format, args...)}
}

// WithCode 创建带错误码的 AppError。
func WithCode(err error, op, code, message string) error {
	return &AppError{Op: op, Code: code, Message: message, Err: err}
}

// Is 转发到标准库 errors.Is。
func Is(err, target error) bool { return errors.Is(err, target) }

// As 转发到标准库 errors.As。
func As(err error, target any) bool { return errors.As(err, target) }
