package utils

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
)

var ErrStreamingUnsupported = errors.New("streaming unsupported")

// SSEWriter 写出带事件类型的 Server-Sent Events 并立即刷新。
type SSEWriter struct {
	w       http.ResponseWriter
	flusher http.Flusher
}

// NewSSEWriter 设置 SSE 响应头。ResponseWriter 不支持 Flush 时返回 ErrStreamingUnsupported。
func NewSSEWriter(w http.ResponseWriter) (*SSEWriter, error) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		return nil, ErrStreamingUnsupported
	}

	SetupSSEHeaders(w)
	return &SSEWriter{w: w, flusher: flusher}, nil
}

// Send 以 JSON 编码 data 并作为 event 事件发送。
func (s *SSEWriter) Send(event string, data any) error {
	payload, err := json.Marshal(data)
	if err != nil {
		return fmt.Errorf("marshal sse event %s: %w", event, err)
	}

	if _, err := fmt.Fprintf(s.w, "event: %s\ndata: %s\n\n", event, payload); err != nil {
		return fmt.Errorf("write sse event %s: %w", event, err)
	}
	s.flusher.Flush()
	return nil
}

// SetupSSEHeaders 设置Server-Sent Events响应头
func SetupSSEHeaders(w http.ResponseWriter) {
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")
}
