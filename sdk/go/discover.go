package registry

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
)

// Discover 查询指定服务的健康实例，按最后活跃时间降序排列
func (c *Client) Discover(ctx context.Context, serviceName string) ([]*Service, error) {
	path := "/api/v1/services/discover/" + url.PathEscape(serviceName)
	resp, err := c.doRequest(ctx, http.MethodGet, path, nil)
	if err != nil {
		return nil, fmt.Errorf("服务发现失败: %w", err)
	}

	var data struct {
		Services []*Service `json:"services"`
		Total    int        `json:"total"`
	}
	if err := json.Unmarshal(resp.Data, &data); err != nil {
		return nil, fmt.Errorf("解析发现响应失败: %w", err)
	}
	return data.Services, nil
}
