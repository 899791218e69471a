package registry

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"
)

// Config SDK客户端配置
type Config struct {
	// 注册中心地址，如 localhost:8000
	ServerAddr string `json:"server_addr"`
	// 服务名称
	ServiceName string `json:"service_name"`
	// 服务类型，如 api、worker
	ServiceType string `json:"service_type"`
	// 服务主机地址
	Host string `json:"host"`
	// 服务端口
	Port int `json:"port"`
	// 健康检查路径，默认为 /health
	HealthCheckEndpoint string `json:"health_check_endpoint"`
	// 服务元数据
	Metadata *ServiceMetadata `json:"metadata"`
	// 单次请求超时时间
	Timeout time.Duration `json:"timeout"`
	// 是否使用HTTPS
	Secure bool `json:"secure"`
}

// ServiceMetadata 注册时携带的服务元数据
type ServiceMetadata struct {
	Version      string            `json:"version,omitempty"`
	Environment  string            `json:"environment,omitempty"`
	Region       string            `json:"region,omitempty"`
	Tags         map[string]string `json:"tags,omitempty"`
	Capabilities []string          `json:"capabilities,omitempty"`
}

// Service 注册中心返回的服务记录
type Service struct {
	ID                  string           `json:"id"`
	Name                string           `json:"name"`
	Type                string           `json:"type"`
	Host                string           `json:"host"`
	Port                int              `json:"port"`
	Status              string           `json:"status"`
	HealthCheckEndpoint string           `json:"health_check_endpoint"`
	Metadata            *ServiceMetadata `json:"metadata,omitempty"`
	RegisteredAt        time.Time        `json:"registered_at"`
	LastSeenAt          time.Time        `json:"last_seen_at"`
	Version             int              `json:"version"`
}

// Response API响应信封
type Response struct {
	Code    int             `json:"code"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data,omitempty"`
}

// Client 注册中心SDK客户端
type Client struct {
	config     *Config
	httpClient *http.Client

	mu        sync.Mutex
	serviceID string
	stopCh    chan struct{}
}

// NewClient 创建SDK客户端
func NewClient(config *Config) (*Client, error) {
	// 验证必填配置
	if config.ServerAddr == "" {
		return nil, fmt.Errorf("注册中心地址不能为空")
	}
	if config.ServiceName == "" {
		return nil, fmt.Errorf("服务名称不能为空")
	}
	if config.Host == "" {
		return nil, fmt.Errorf("服务主机地址不能为空")
	}
	if config.Port <= 0 || config.Port > 65535 {
		return nil, fmt.Errorf("无效的服务端口")
	}

	// 设置默认值
	if config.ServiceType == "" {
		config.ServiceType = "api"
	}
	if config.Timeout == 0 {
		config.Timeout = 5 * time.Second
	}

	return &Client{
		config: config,
		httpClient: &http.Client{
			Timeout: config.Timeout,
		},
	}, nil
}

// ServiceID 返回注册后分配的服务ID，未注册时为空
func (c *Client) ServiceID() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.serviceID
}

// 构建API地址
func (c *Client) buildURL(path string) string {
	protocol := "http"
	if c.config.Secure {
		protocol = "https"
	}
	return fmt.Sprintf("%s://%s%s", protocol, c.config.ServerAddr, path)
}

// 发送HTTP请求并解析响应信封
func (c *Client) doRequest(ctx context.Context, method, path string, body interface{}) (*Response, error) {
	url := c.buildURL(path)

	var bodyReader io.Reader
	if body != nil {
		bodyBytes, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("序列化请求体失败: %w", err)
		}
		bodyReader = bytes.NewReader(bodyBytes)
	}

	req, err := http.NewRequestWithContext(ctx, method, url, bodyReader)
	if err != nil {
		return nil, fmt.Errorf("创建HTTP请求失败: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("发送HTTP请求失败: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("读取响应体失败: %w", err)
	}

	// 204等无内容响应没有信封
	var apiResp Response
	if len(respBody) > 0 {
		if err := json.Unmarshal(respBody, &apiResp); err != nil {
			return nil, fmt.Errorf("解析响应失败: %w, 响应内容: %s", err, string(respBody))
		}
	}

	if resp.StatusCode >= http.StatusMultipleChoices {
		return &apiResp, fmt.Errorf("API请求失败: %s (状态码: %d)", apiResp.Message, resp.StatusCode)
	}
	return &apiResp, nil
}
