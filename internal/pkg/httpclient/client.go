// internal/pkg/httpclient/client.go
package httpclient

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/trace"
)

// maxResponseSize 限制单次响应体大小，防止异常响应吃掉内存 (10MB)
const maxResponseSize = 10 * 1024 * 1024

// RetryPolicy 有界重试策略：固定次数、固定间隔。
// 只对瞬时网络错误重试，业务错误码由各适配器自行判断。
type RetryPolicy struct {
	MaxAttempts int           // 包含首次请求的总次数
	Backoff     time.Duration // 相邻两次请求之间的固定间隔
}

// DefaultRetryPolicy 默认最多 3 次，间隔 2 秒
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{MaxAttempts: 3, Backoff: 2 * time.Second}
}

// Client 是一个可追踪的、所有外部适配器共用的 HTTP 客户端。
// 每次请求都套一个固定超时，重试耗尽后把最后一个错误抛回调用方。
type Client struct {
	Tracer     trace.Tracer
	HTTPClient *http.Client
	Timeout    time.Duration
	Retry      RetryPolicy
}

// NewClient 创建一个新的客户端实例。
// 不设置 http.Client.Timeout，超时完全受控于每次请求的 context。
func NewClient(tracer trace.Tracer, timeout time.Duration, retry RetryPolicy) *Client {
	httpClient := &http.Client{
		Transport: &http.Transport{
			MaxIdleConns:        100,
			MaxIdleConnsPerHost: 100,
		},
	}
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	if retry.MaxAttempts <= 0 {
		retry = DefaultRetryPolicy()
	}
	return &Client{Tracer: tracer, HTTPClient: httpClient, Timeout: timeout, Retry: retry}
}

// Response 一次外部调用的结果
type Response struct {
	StatusCode int
	Body       []byte
}

// Request 描述一次外部调用
type Request struct {
	Method  string
	URL     string
	Query   url.Values
	Headers map[string]string
	Body    []byte
	// Form 非空时按 application/x-www-form-urlencoded 提交，忽略 Body
	Form url.Values
	// NoRetry 置位时跳过重试（例如带一次性签名的请求）
	NoRetry bool
}

// Do 执行请求。连接/超时类错误按重试策略重试；
// 只要拿到 HTTP 响应就算调用成功，状态码留给适配器自己判断。
func (c *Client) Do(ctx context.Context, req Request) (*Response, error) {
	spanName := fmt.Sprintf("call-%s", hostOf(req.URL))
	ctx, span := c.Tracer.Start(ctx, spanName, trace.WithSpanKind(trace.SpanKindClient))
	defer span.End()

	span.SetAttributes(
		attribute.String("http.url", req.URL),
		attribute.String("http.method", req.Method),
	)

	attempts := c.Retry.MaxAttempts
	if req.NoRetry {
		attempts = 1
	}

	var lastErr error
	for attempt := 1; attempt <= attempts; attempt++ {
		resp, err := c.doOnce(ctx, req)
		if err == nil {
			span.SetAttributes(attribute.Int("http.status_code", resp.StatusCode))
			return resp, nil
		}
		lastErr = err
		// 外层 context 已经取消/超时就不再重试
		if ctx.Err() != nil {
			break
		}
		if !isRetryable(err) {
			break
		}
		span.AddEvent(fmt.Sprintf("attempt %d failed, retrying", attempt))
		if attempt < attempts {
			select {
			case <-time.After(c.Retry.Backoff):
			case <-ctx.Done():
				span.RecordError(ctx.Err())
				span.SetStatus(codes.Error, ctx.Err().Error())
				return nil, ctx.Err()
			}
		}
	}

	span.RecordError(lastErr)
	span.SetStatus(codes.Error, lastErr.Error())
	return nil, lastErr
}

func (c *Client) doOnce(ctx context.Context, req Request) (*Response, error) {
	ctx, cancel := context.WithTimeout(ctx, c.Timeout)
	defer cancel()

	fullURL := req.URL
	if len(req.Query) > 0 {
		parsed, err := url.Parse(req.URL)
		if err != nil {
			return nil, err
		}
		q := parsed.Query()
		for key, values := range req.Query {
			for _, v := range values {
				q.Add(key, v)
			}
		}
		parsed.RawQuery = q.Encode()
		fullURL = parsed.String()
	}

	var body io.Reader
	contentType := ""
	switch {
	case len(req.Form) > 0:
		body = strings.NewReader(req.Form.Encode())
		contentType = "application/x-www-form-urlencoded"
	case len(req.Body) > 0:
		body = bytes.NewReader(req.Body)
	}

	httpReq, err := http.NewRequestWithContext(ctx, req.Method, fullURL, body)
	if err != nil {
		return nil, err
	}
	if contentType != "" {
		httpReq.Header.Set("Content-Type", contentType)
	}
	for k, v := range req.Headers {
		httpReq.Header.Set(k, v)
	}
	otel.GetTextMapPropagator().Inject(ctx, propagation.HeaderCarrier(httpReq.Header))

	resp, err := c.HTTPClient.Do(httpReq)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseSize))
	if err != nil {
		return nil, err
	}
	return &Response{StatusCode: resp.StatusCode, Body: data}, nil
}

// isRetryable 连接失败和超时算瞬时错误，可以重试
func isRetryable(err error) bool {
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}
	var urlErr *url.Error
	return errors.As(err, &urlErr)
}

func hostOf(raw string) string {
	parsed, err := url.Parse(raw)
	if err != nil {
		return "unknown"
	}
	return strings.Split(parsed.Host, ":")[0]
}
