package errcode

import (
	"errors"
	"fmt"
	"net/http"
)

// Code 是对外暴露的错误类别，直接写入响应体的 error 字段。
type Code string

const (
	ValidationFailed Code = "ValidationFailed"
	Unauthorized     Code = "Unauthorized"
	Forbidden        Code = "Forbidden"
	NotFound         Code = "NotFound"
	Conflict         Code = "Conflict"
	RateLimited      Code = "RateLimited"
	InternalError    Code = "InternalError"
)

// Detail 描述单个字段的校验失败原因。
type Detail struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}

// Error 是业务层返回的可恢复错误，由 API 层转换为 JSON 响应。
type Error struct {
	Code    Code     `json:"error"`
	Message string   `json:"message"`
	Details []Detail `json:"details,omitempty"`
	Data    any      `json:"-"`
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// New 创建一个业务错误。
func New(code Code, message string) *Error {
	return &Error{Code: code, Message: message}
}

// Newf 按格式化字符串创建业务错误。
func Newf(code Code, format string, args ...any) *Error {
	return &Error{Code: code, Message: fmt.Sprintf(format, args...)}
}

// WithDetails 附加字段级校验信息。
func (e *Error) WithDetails(details ...Detail) *Error {
	e.Details = append(e.Details, details...)
	return e
}

// WithData 附加响应数据，例如重复下单时返回已有订单，由 API 层自行渲染。
func (e *Error) WithData(data any) *Error {
	e.Data = data
	return e
}

// From 从错误链中取出业务错误。
func From(err error) (*Error, bool) {
	var target *Error
	if errors.As(err, &target) {
		return target, true
	}
	return nil, false
}

// IsCode 判断错误链中是否包含指定类别的业务错误。
func IsCode(err error, code Code) bool {
	e, ok := From(err)
	return ok && e.Code == code
}

// HTTPStatus 返回类别对应的 HTTP 状态码。
func HTTPStatus(code Code) int {
	switch code {
	case ValidationFailed:
		return http.StatusBadRequest
	case Unauthorized:
		return http.StatusUnauthorized
	case Forbidden:
		return http.StatusForbidden
	case NotFound:
		return http.StatusNotFound
	case Conflict:
		return http.StatusConflict
	case RateLimited:
		return http.StatusTooManyRequests
	default:
		return http.StatusInternalServerError
	}
}
