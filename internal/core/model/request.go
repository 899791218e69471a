package model

import (
	"fmt"
	"regexp"
	"strings"
)

// 规范化后服务名的合法字符集
var serviceNamePattern = regexp.MustCompile(`^[a-z0-9_-]+$`)

// NormalizeServiceName 将服务名转为小写并校验长度与字符集
func NormalizeServiceName(name string) (string, error) {
	name = strings.ToLower(strings.TrimSpace(name))
	if name == "" || len(name) > 100 {
		return "", fmt.Errorf("服务名长度必须在1到100个字符之间")
	}
	if !serviceNamePattern.MatchString(name) {
		return "", fmt.Errorf("服务名只能包含字母、数字、连字符和下划线")
	}
	return name, nil
}

// RegisterServiceRequest 表示服务注册请求
type RegisterServiceRequest struct {
	Name                string      `json:"name" validate:"required,min=1,max=100"`                                                              // 服务名称
	Type                ServiceType `json:"type" validate:"required,oneof=api worker scheduler gateway cache database message_broker monitoring"` // 服务类型
	Host                string      `json:"host" validate:"required"`                                                                            // 主机地址
	Port                int         `json:"port" validate:"required,min=1,max=65535"`                                                            // 端口
	HealthCheckEndpoint string      `json:"health_check_endpoint,omitempty"`                                                                     // 健康检查路径
	Metadata            *Metadata   `json:"metadata,omitempty"`                                                                                  // 服务元数据
}

// Normalize 规范化请求字段并填充默认值
func (r *RegisterServiceRequest) Normalize() error {
	name, err := NormalizeServiceName(r.Name)
	if err != nil {
		return err
	}
	r.Name = name
	r.Host = strings.TrimSpace(r.Host)
	if r.HealthCheckEndpoint == "" {
		r.HealthCheckEndpoint = "/health"
	}
	if r.Metadata == nil {
		r.Metadata = &Metadata{}
	}
	if r.Metadata.Version == "" {
		r.Metadata.Version = "1.0.0"
	}
	if r.Metadata.Environment == "" {
		r.Metadata.Environment = "development"
	}
	return nil
}

// ApiResponse 表示通用API响应
type ApiResponse struct {
	Code    int         `json:"code"`
	Message string      `json:"message"`
	Data    interface{} `json:"data,omitempty"`
}

// ServiceListData 服务列表响应数据
type ServiceListData struct {
	Services []*Service `json:"services"`
	Total    int        `json:"total"`
}

// ServiceEventListData 服务事件列表响应数据
type ServiceEventListData struct {
	Events []*ServiceEvent `json:"events"`
	Total  int             `json:"total"`
}
