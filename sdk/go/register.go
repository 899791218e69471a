package registry

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
)

// registerRequest 服务注册请求体
type registerRequest struct {
	Name                string           `json:"name"`
	Type                string           `json:"type"`
	Host                string           `json:"host"`
	Port                int              `json:"port"`
	HealthCheckEndpoint string           `json:"health_check_endpoint,omitempty"`
	Metadata            *ServiceMetadata `json:"metadata,omitempty"`
}

// Register 注册服务并记住分配的服务ID
// 重复调用是安全的，注册中心会按更新处理同一 (name, host, port) 的再次注册
func (c *Client) Register(ctx context.Context) (*Service, error) {
	req := registerRequest{
		Name:                c.config.ServiceName,
		Type:                c.config.ServiceType,
		Host:                c.config.Host,
		Port:                c.config.Port,
		HealthCheckEndpoint: c.config.HealthCheckEndpoint,
		Metadata:            c.config.Metadata,
	}

	resp, err := c.doRequest(ctx, http.MethodPost, "/api/v1/services/register", req)
	if err != nil {
		return nil, fmt.Errorf("服务注册失败: %w", err)
	}

	var svc Service
	if err := json.Unmarshal(resp.Data, &svc); err != nil {
		return nil, fmt.Errorf("解析注册响应失败: %w", err)
	}

	c.mu.Lock()
	c.serviceID = svc.ID
	c.mu.Unlock()
	return &svc, nil
}

// Deregister 注销服务
func (c *Client) Deregister(ctx context.Context) error {
	id := c.ServiceID()
	if id == "" {
		return fmt.Errorf("服务尚未注册")
	}

	if _, err := c.doRequest(ctx, http.MethodDelete, "/api/v1/services/"+id, nil); err != nil {
		return fmt.Errorf("服务注销失败: %w", err)
	}

	c.mu.Lock()
	c.serviceID = ""
	c.mu.Unlock()
	return nil
}
