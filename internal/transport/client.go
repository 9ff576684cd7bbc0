package transport

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime"
	"mime/multipart"
	"net/http"
	"net/textproto"
	"strings"

	"mediaportal/internal/model"
	"mediaportal/internal/notify"
	"mediaportal/internal/utils"
	"mediaportal/pkg/logger"
)

// Credentials 由会话上下文提供，401 时调用 Logout
type Credentials interface {
	Token() string
	Logout() error
}

type Options struct {
	BaseURL     string
	HTTPClient  *http.Client
	Credentials Credentials
	Notifier    notify.Notifier
	// OnUnauthorized 在凭证被清空后调用，用于跳转到登录页
	OnUnauthorized func()
}

type Client struct {
	baseURL        string
	http           *http.Client
	stream         *http.Client
	creds          Credentials
	notifier       notify.Notifier
	onUnauthorized func()
}

func NewClient(opts Options) *Client {
	hc := opts.HTTPClient
	if hc == nil {
		hc = utils.NewHTTPClient(0)
	}
	n := opts.Notifier
	if n == nil {
		n = notify.LogNotifier{}
	}
	return &Client{
		baseURL: strings.TrimRight(opts.BaseURL, "/"),
		http:    hc,
		// 长连接不能受整体超时限制，复用同一个 Transport
		stream:         &http.Client{Transport: hc.Transport},
		creds:          opts.Credentials,
		notifier:       n,
		onUnauthorized: opts.OnUnauthorized,
	}
}

type callOptions struct {
	silent bool
}

type CallOption func(*callOptions)

// Silent 失败时不自动提示，由调用方自行处理
func Silent() CallOption {
	return func(o *callOptions) { o.silent = true }
}

// Form 一个文件加若干文本字段的 multipart 请求体
type Form struct {
	Fields      map[string]string
	FileField   string
	FileName    string
	ContentType string
	File        []byte
}

// Response 成功响应。Binary 为 true 时 Body 是原始二进制内容。
type Response struct {
	StatusCode  int
	ContentType string
	Binary      bool
	Body        []byte
}

func (r *Response) Decode(v interface{}) error {
	if r.Binary {
		return fmt.Errorf("cannot decode binary response (%s)", r.ContentType)
	}
	return json.Unmarshal(r.Body, v)
}

// URL resolves a portal path against the configured base.
func (c *Client) URL(path string) string {
	if strings.HasPrefix(path, "http://") || strings.HasPrefix(path, "https://") {
		return path
	}
	if !strings.HasPrefix(path, "/") {
		path = "/" + path
	}
	return c.baseURL + path
}

func (c *Client) Get(ctx context.Context, path string, opts ...CallOption) (*Response, error) {
	return c.Call(ctx, http.MethodGet, path, nil, opts...)
}

func (c *Client) Post(ctx context.Context, path string, body interface{}, opts ...CallOption) (*Response, error) {
	return c.Call(ctx, http.MethodPost, path, body, opts...)
}

func (c *Client) Upload(ctx context.Context, path string, form *Form, opts ...CallOption) (*Response, error) {
	return c.Call(ctx, http.MethodPost, path, form, opts...)
}

// Call 发送请求并统一分类响应:
// 二进制内容原样返回；带 code/success 的信封按指示判断成败；其余 JSON 直接返回。
func (c *Client) Call(ctx context.Context, method, path string, body interface{}, opts ...CallOption) (*Response, error) {
	o := callOptions{}
	for _, opt := range opts {
		opt(&o)
	}

	req, err := c.newRequest(ctx, method, path, body)
	if err != nil {
		return nil, err
	}

	resp, err := c.http.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, c.fail(o, networkError(err))
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, c.fail(o, networkError(err))
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, c.fail(o, c.statusError(resp.StatusCode, data))
	}

	// classify 返回具体类型，不能复用上面的 err，否则 nil 指针会变成非 nil 接口
	out, rerr := classify(resp.StatusCode, resp.Header.Get("Content-Type"), data)
	if rerr != nil {
		return nil, c.fail(o, rerr)
	}
	return out, nil
}

func (c *Client) newRequest(ctx context.Context, method, path string, body interface{}) (*http.Request, error) {
	var (
		reader      io.Reader
		contentType string
	)

	switch b := body.(type) {
	case nil:
	case *Form:
		buf, ct, err := encodeForm(b)
		if err != nil {
			return nil, fmt.Errorf("failed to encode form: %w", err)
		}
		reader, contentType = buf, ct
	default:
		data, err := json.Marshal(b)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal request: %w", err)
		}
		reader, contentType = bytes.NewReader(data), "application/json"
	}

	req, err := http.NewRequestWithContext(ctx, method, c.URL(path), reader)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	c.authorize(req)
	return req, nil
}

func (c *Client) authorize(req *http.Request) {
	if c.creds == nil {
		return
	}
	if token := c.creds.Token(); token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
}

func (c *Client) statusError(status int, body []byte) *RequestError {
	if status == http.StatusUnauthorized {
		if c.creds != nil {
			if err := c.creds.Logout(); err != nil {
				logger.Errorf("Failed to clear session after 401: %v", err)
			}
		}
		if c.onUnauthorized != nil {
			c.onUnauthorized()
		}
		return &RequestError{Kind: ErrUnauthorized, StatusCode: status, Message: statusMessage(status, "")}
	}

	return &RequestError{
		Kind:       ErrRequestFailed,
		StatusCode: status,
		Message:    statusMessage(status, envelopeMessage(body)),
	}
}

// fail 记录并按需提示一次
func (c *Client) fail(o callOptions, err *RequestError) error {
	logger.Warnf("Portal request failed: %v (status %d)", err.Message, err.StatusCode)
	if !o.silent {
		c.notifier.Error(err.Message)
	}
	return err
}

func networkError(err error) *RequestError {
	msg := err.Error()
	if msg == "" {
		msg = "network error"
	}
	return &RequestError{Kind: ErrNetwork, Message: msg}
}

func classify(status int, contentType string, data []byte) (*Response, *RequestError) {
	resp := &Response{StatusCode: status, ContentType: contentType, Body: data}

	if !isJSON(contentType, data) {
		resp.Binary = true
		return resp, nil
	}

	env, ok := decodeEnvelope(data)
	if !ok || envelopeOK(env) {
		// 非对象的 JSON 或不带 code/success 的对象直接返回
		return resp, nil
	}

	return nil, &RequestError{
		Kind:       ErrRequestFailed,
		StatusCode: status,
		Message:    statusMessage(0, env.Message),
	}
}

// decodeEnvelope 解析门户信封；ok 表示带有 code 或 success 指示
func decodeEnvelope(data []byte) (model.Envelope[json.RawMessage], bool) {
	var env model.Envelope[json.RawMessage]
	if err := json.Unmarshal(data, &env); err != nil {
		return env, false
	}
	return env, env.Code != nil || env.Success != nil
}

func envelopeOK(env model.Envelope[json.RawMessage]) bool {
	if env.Code != nil && *env.Code >= 200 && *env.Code < 300 {
		return true
	}
	return env.Success != nil && *env.Success
}

func envelopeMessage(body []byte) string {
	env, _ := decodeEnvelope(body)
	return env.Message
}

func isJSON(contentType string, data []byte) bool {
	if contentType == "" {
		trimmed := bytes.TrimSpace(data)
		return len(trimmed) > 0 && (trimmed[0] == '{' || trimmed[0] == '[')
	}
	mt, _, err := mime.ParseMediaType(contentType)
	if err != nil {
		return false
	}
	return mt == "application/json" || strings.HasSuffix(mt, "+json")
}

func encodeForm(f *Form) (*bytes.Buffer, string, error) {
	buf := &bytes.Buffer{}
	w := multipart.NewWriter(buf)

	field := f.FileField
	if field == "" {
		field = "file"
	}
	ct := f.ContentType
	if ct == "" {
		ct = "application/octet-stream"
	}

	h := make(textproto.MIMEHeader)
	h.Set("Content-Disposition", fmt.Sprintf(`form-data; name="%s"; filename="%s"`,
		escapeQuotes(field), escapeQuotes(f.FileName)))
	h.Set("Content-Type", ct)
	part, err := w.CreatePart(h)
	if err != nil {
		return nil, "", err
	}
	if _, err := part.Write(f.File); err != nil {
		return nil, "", err
	}

	for k, v := range f.Fields {
		if err := w.WriteField(k, v); err != nil {
			return nil, "", err
		}
	}
	if err := w.Close(); err != nil {
		return nil, "", err
	}
	return buf, w.FormDataContentType(), nil
}

var quoteEscaper = strings.NewReplacer("\\", "\\\\", `"`, "\\\"")

func escapeQuotes(s string) string {
	return quoteEscaper.Replace(s)
}

// Unwrap 解出响应数据：带信封时取 data 字段，否则整体解码
func Unwrap[T any](resp *Response) (T, error) {
	var zero T
	if resp == nil {
		return zero, errors.New("nil response")
	}

	if env, ok := decodeEnvelope(resp.Body); ok && len(env.Data) > 0 {
		var out T
		if err := json.Unmarshal(env.Data, &out); err != nil {
			return zero, fmt.Errorf("failed to decode response data: %w", err)
		}
		return out, nil
	}

	var out T
	if err := resp.Decode(&out); err != nil {
		return zero, fmt.Errorf("failed to decode response: %w", err)
	}
	return out, nil
}
