package utils

import (
	"net/http"

	"github.com/gin-contrib/sse"
)

type SSEWriter struct {
	w http.ResponseWriter
}

func NewSSEWriter(w http.ResponseWriter) *SSEWriter {
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")

	return &SSEWriter{w: w}
}

// Write 发送一个事件，data 为字符串时原样写出，其他值编码为 JSON
func (s *SSEWriter) Write(event string, data interface{}) error {
	if err := sse.Encode(s.w, sse.Event{Event: event, Data: data}); err != nil {
		return err
	}

	if f, ok := s.w.(http.Flusher); ok {
		f.Flush()
	}

	return nil
}
