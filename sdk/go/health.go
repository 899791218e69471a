package registry

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"time"
)

// ReportHealth 上报一次布尔健康信号
func (c *Client) ReportHealth(ctx context.Context, healthy bool) error {
	id := c.ServiceID()
	if id == "" {
		return fmt.Errorf("服务尚未注册")
	}

	path := fmt.Sprintf("/api/v1/services/%s/health?healthy=%t", id, healthy)
	if _, err := c.doRequest(ctx, http.MethodPost, path, nil); err != nil {
		return fmt.Errorf("上报健康状态失败: %w", err)
	}
	return nil
}

// StartHealthReporting 启动后台健康上报任务
// 每个周期执行probe并上报其结果，probe为nil时上报健康；
// 单次上报失败只记录日志，等待下一个周期重试
func (c *Client) StartHealthReporting(interval time.Duration, probe func() bool) {
	c.StopHealthReporting()

	c.mu.Lock()
	c.stopCh = make(chan struct{})
	stopCh := c.stopCh
	c.mu.Unlock()

	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		for {
			select {
			case <-ticker.C:
				healthy := true
				if probe != nil {
					healthy = probe()
				}

				ctx, cancel := context.WithTimeout(context.Background(), c.config.Timeout)
				if err := c.ReportHealth(ctx, healthy); err != nil {
					log.Printf("健康上报失败: %v, 将在下一个周期重试", err)
				}
				cancel()
			case <-stopCh:
				return
			}
		}
	}()
}

// StopHealthReporting 停止后台健康上报任务，重复调用是安全的
func (c *Client) StopHealthReporting() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.stopCh != nil {
		close(c.stopCh)
		c.stopCh = nil
	}
}

// Close 停止健康上报并注销服务
func (c *Client) Close(ctx context.Context) error {
	c.StopHealthReporting()

	if c.ServiceID() != "" {
		if err := c.Deregister(ctx); err != nil {
			return fmt.Errorf("注销服务失败: %w", err)
		}
	}
	return nil
}
