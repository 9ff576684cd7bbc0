package transport

import (
	"errors"
	"net/http"
)

var (
	// ErrNetwork 请求未收到任何响应
	ErrNetwork = errors.New("network error")
	// ErrRequestFailed 服务端返回失败信封或非 2xx 状态
	ErrRequestFailed = errors.New("request failed")
	// ErrUnauthorized 401，会话被清空并要求重新登录，不重试
	ErrUnauthorized = errors.New("unauthorized")
)

// RequestError carries the classified kind plus the message shown to the user.
type RequestError struct {
	Kind       error
	StatusCode int
	Message    string
}

func (e *RequestError) Error() string {
	if e.Message != "" {
		return e.Message
	}
	return e.Kind.Error()
}

func (e *RequestError) Unwrap() error {
	return e.Kind
}

func statusMessage(status int, fallback string) string {
	switch status {
	case http.StatusUnauthorized:
		return "unauthorized, please sign in again"
	case http.StatusForbidden:
		return "permission denied"
	case http.StatusNotFound:
		return "requested resource not found"
	case http.StatusInternalServerError:
		return "server error"
	}
	if fallback != "" {
		return fallback
	}
	return "request failed"
}
