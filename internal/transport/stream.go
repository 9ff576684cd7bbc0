package transport

import (
	"bufio"
	"context"
	"io"
	"net/http"
	"strings"
	"sync"
)

const maxEventSize = 1 << 20

// Event 一条 server-sent event
type Event struct {
	Name string
	ID   string
	Data string
}

// EventStream 单向推送通道，Close 可重复调用
type EventStream struct {
	body    io.ReadCloser
	scanner *bufio.Scanner
	once    sync.Once
}

// Stream 打开一个 SSE 长连接。非 2xx 响应与普通调用一样分类（401 同样清空会话）。
func (c *Client) Stream(ctx context.Context, path string, opts ...CallOption) (*EventStream, error) {
	o := callOptions{}
	for _, opt := range opts {
		opt(&o)
	}

	req, err := c.newRequest(ctx, http.MethodGet, path, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "text/event-stream")
	req.Header.Set("Cache-Control", "no-cache")

	resp, err := c.stream.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, c.fail(o, networkError(err))
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		defer resp.Body.Close()
		body, _ := io.ReadAll(io.LimitReader(resp.Body, maxEventSize))
		return nil, c.fail(o, c.statusError(resp.StatusCode, body))
	}

	return NewEventStream(resp.Body), nil
}

func NewEventStream(body io.ReadCloser) *EventStream {
	sc := bufio.NewScanner(body)
	sc.Buffer(make([]byte, 0, 64*1024), maxEventSize)
	return &EventStream{body: body, scanner: sc}
}

// Next blocks until a complete event arrives. It returns io.EOF when the
// server ends the stream, or the read error when the connection drops.
func (s *EventStream) Next() (Event, error) {
	var (
		ev      Event
		data    []string
		hasData bool
	)

	for s.scanner.Scan() {
		line := s.scanner.Text()

		if line == "" {
			if hasData {
				ev.Data = strings.Join(data, "\n")
				return ev, nil
			}
			ev = Event{}
			continue
		}
		if strings.HasPrefix(line, ":") {
			continue
		}

		field, value := line, ""
		if i := strings.IndexByte(line, ':'); i >= 0 {
			field, value = line[:i], strings.TrimPrefix(line[i+1:], " ")
		}

		switch field {
		case "event":
			ev.Name = value
		case "id":
			ev.ID = value
		case "data":
			data = append(data, value)
			hasData = true
		}
	}

	if err := s.scanner.Err(); err != nil {
		return Event{}, err
	}
	// 没有空行收尾的残余事件按 SSE 规范丢弃
	return Event{}, io.EOF
}

func (s *EventStream) Close() error {
	var err error
	s.once.Do(func() {
		err = s.body.Close()
	})
	return err
}
