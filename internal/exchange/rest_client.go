package exchange

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"zrx-ladder-bot/internal/models"
)

const defaultTimeout = 10 * time.Second

// restClient 是各个 HTTP API 客户端共用的请求层。
type restClient struct {
	baseURL    string
	httpClient *http.Client
	limiter    *rate.Limiter
	logger     *zap.Logger
	headers    map[string]string
}

// newRestClient 创建一个带客户端限速的请求层。requestsPerSec <= 0 表示不限速。
func newRestClient(baseURL string, requestsPerSec float64, logger *zap.Logger) *restClient {
	limit := rate.Inf
	if requestsPerSec > 0 {
		limit = rate.Limit(requestsPerSec)
	}
	return &restClient{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{Timeout: defaultTimeout},
		limiter:    rate.NewLimiter(limit, 1),
		logger:     logger,
		headers:    map[string]string{},
	}
}

// doRequest 发送请求并返回响应体。GET 请求的参数放在查询串里，其他方法把 body 编码为 JSON。
func (c *restClient) doRequest(ctx context.Context, method, endpoint string, params url.Values, body any) ([]byte, error) {
	// 1. 等待限速器放行
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("rate limiter: %w", err)
	}

	// 2. 准备 URL 和请求体
	fullURL := c.baseURL + endpoint
	if len(params) > 0 {
		fullURL = fmt.Sprintf("%s?%s", fullURL, params.Encode())
	}

	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("encode request body: %w", err)
		}
		reader = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, fullURL, reader)
	if err != nil {
		return nil, fmt.Errorf("创建请求失败: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	for k, v := range c.headers {
		req.Header.Set(k, v)
	}
	c.logger.Debug("发送请求", zap.String("method", method), zap.String("url", fullURL))

	// 3. 执行请求
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("执行请求失败: %w", err)
	}
	defer resp.Body.Close()

	// 4. 读取和处理响应
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("读取响应体失败: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		var apiErr models.Error
		if json.Unmarshal(data, &apiErr) == nil && (apiErr.Code != 0 || apiErr.Reason != "") {
			return data, &apiErr
		}
		// 非 2xx 时把响应体一起返回，方便上层记录
		return data, fmt.Errorf("API请求失败, 状态码: %d, 响应: %s", resp.StatusCode, string(data))
	}
	return data, nil
}

// getJSON 发送 GET 请求并解码响应。
func (c *restClient) getJSON(ctx context.Context, endpoint string, params url.Values, out any) error {
	data, err := c.doRequest(ctx, http.MethodGet, endpoint, params, nil)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("解析响应失败 %s: %w", endpoint, err)
	}
	return nil
}
