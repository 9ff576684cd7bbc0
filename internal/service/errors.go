package service

import "errors"

var (
	// ErrMissingTicket 视频接口接受了上传但没有返回任务 ID
	ErrMissingTicket = errors.New("failed to obtain task id")
	// ErrChannel 进度通道本身出错（断线、无法建立）
	ErrChannel = errors.New("progress channel error")
	// ErrServerReported 进度事件中服务端明确报告失败
	ErrServerReported = errors.New("video processing failed")
	ErrClosed         = errors.New("media service closed")
	ErrUnexpectedBody = errors.New("unexpected response from image endpoint")
)
