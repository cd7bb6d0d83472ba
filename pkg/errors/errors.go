package errors

import (
	"errors"
	"fmt"
)

// ErrorCode 错误码类型
type ErrorCode string

const (
	CodeInvalidInput        ErrorCode = "INVALID_INPUT"
	CodeNotFound            ErrorCode = "NOT_FOUND"
	CodeUpstreamUnavailable ErrorCode = "UPSTREAM_UNAVAILABLE"
	CodeUpstreamFailed      ErrorCode = "UPSTREAM_FAILED"
	CodeInternal            ErrorCode = "INTERNAL_ERROR"
)

// AppError 应用错误
type AppError struct {
	Code    ErrorCode
	Message string
	Err     error
	// Status 上游返回的 HTTP 状态码 (仅 upstream 错误填充)
	Status int
}

// Error 实现 error 接口
func (e *AppError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// Unwrap 实现 errors.Unwrap
func (e *AppError) Unwrap() error {
	return e.Err
}

// HTTPStatus 返回错误对应的 HTTP 状态码
func (e *AppError) HTTPStatus() int {
	switch e.Code {
	case CodeInvalidInput:
		return 400
	case CodeNotFound:
		return 404
	case CodeUpstreamUnavailable, CodeUpstreamFailed:
		if e.Status >= 400 {
			return e.Status
		}
		return 502
	default:
		return 500
	}
}

// NewInvalidInputError 创建无效输入错误
func NewInvalidInputError(message string) *AppError {
	return &AppError{
		Code:    CodeInvalidInput,
		Message: message,
	}
}

// NewNotFoundError 创建未找到错误
func NewNotFoundError(message string) *AppError {
	return &AppError{
		Code:    CodeNotFound,
		Message: message,
	}
}

// NewUpstreamError 创建瞬时上游错误 (可重试)
func NewUpstreamError(message string, status int, cause error) *AppError {
	return &AppError{
		Code:    CodeUpstreamUnavailable,
		Message: message,
		Status:  status,
		Err:     cause,
	}
}

// NewUpstreamFailedError 创建永久上游错误 (不可重试)
func NewUpstreamFailedError(message string, cause error) *AppError {
	return &AppError{
		Code:    CodeUpstreamFailed,
		Message: message,
		Err:     cause,
	}
}

// NewInternalError 创建内部错误
func NewInternalError(message string) *AppError {
	return &AppError{
		Code:    CodeInternal,
		Message: message,
	}
}

// NewInternalErrorWithCause 创建带原因的内部错误
func NewInternalErrorWithCause(message string, cause error) *AppError {
	return &AppError{
		Code:    CodeInternal,
		Message: message,
		Err:     cause,
	}
}

// IsNotFound 判断是否为未找到错误
func IsNotFound(err error) bool {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.Code == CodeNotFound
	}
	return false
}

// IsInvalidInput 判断是否为无效输入错误
func IsInvalidInput(err error) bool {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.Code == CodeInvalidInput
	}
	return false
}

// IsUpstream 判断是否为上游错误 (瞬时或永久)
func IsUpstream(err error) bool {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.Code == CodeUpstreamUnavailable || appErr.Code == CodeUpstreamFailed
	}
	return false
}

// HTTPStatusOf 提取错误的 HTTP 状态码, 非 AppError 返回 500
func HTTPStatusOf(err error) int {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.HTTPStatus()
	}
	return 500
}
