package model

import (
	"fmt"
	"strings"
	"time"
)

// ServiceStatus 表示服务的健康状态
type ServiceStatus string

const (
	// StatusUnknown 初始状态，尚未收到任何健康信号
	StatusUnknown ServiceStatus = "unknown"
	// StatusStarting 服务正在启动
	StatusStarting ServiceStatus = "starting"
	// StatusHealthy 服务健康
	StatusHealthy ServiceStatus = "healthy"
	// StatusDegraded 服务降级（健康检查失败但未达阈值）
	StatusDegraded ServiceStatus = "degraded"
	// StatusUnhealthy 服务不健康（连续失败达到阈值）
	StatusUnhealthy ServiceStatus = "unhealthy"
	// StatusStopping 服务正在停止
	StatusStopping ServiceStatus = "stopping"
	// StatusStopped 服务已停止
	StatusStopped ServiceStatus = "stopped"
)

// ParseServiceStatus 解析状态字符串，返回状态值和是否合法
func ParseServiceStatus(s string) (ServiceStatus, bool) {
	switch ServiceStatus(strings.ToLower(s)) {
	case StatusUnknown, StatusStarting, StatusHealthy, StatusDegraded,
		StatusUnhealthy, StatusStopping, StatusStopped:
		return ServiceStatus(strings.ToLower(s)), true
	}
	return "", false
}

// ServiceType 表示服务的类型
type ServiceType string

const (
	// TypeAPI API服务
	TypeAPI ServiceType = "api"
	// TypeWorker 后台工作进程
	TypeWorker ServiceType = "worker"
	// TypeScheduler 调度器
	TypeScheduler ServiceType = "scheduler"
	// TypeGateway 网关
	TypeGateway ServiceType = "gateway"
	// TypeCache 缓存
	TypeCache ServiceType = "cache"
	// TypeDatabase 数据库
	TypeDatabase ServiceType = "database"
	// TypeMessageBroker 消息代理
	TypeMessageBroker ServiceType = "message_broker"
	// TypeMonitoring 监控服务
	TypeMonitoring ServiceType = "monitoring"
)

// ParseServiceType 解析类型字符串，返回类型值和是否合法
func ParseServiceType(s string) (ServiceType, bool) {
	switch ServiceType(strings.ToLower(s)) {
	case TypeAPI, TypeWorker, TypeScheduler, TypeGateway, TypeCache,
		TypeDatabase, TypeMessageBroker, TypeMonitoring:
		return ServiceType(strings.ToLower(s)), true
	}
	return "", false
}

// 服务事件类型
const (
	// EventServiceRegistered 服务首次注册
	EventServiceRegistered = "service_registered"
	// EventStatusChange 服务状态变化
	EventStatusChange = "status_change"
	// EventServiceUnregistered 服务注销
	EventServiceUnregistered = "service_unregistered"
)

// Metadata 表示服务的结构化元数据
type Metadata struct {
	Version      string            `json:"version"`                // 服务版本号
	Environment  string            `json:"environment"`            // 部署环境
	Region       string            `json:"region,omitempty"`       // 部署区域（可选）
	Tags         map[string]string `json:"tags,omitempty"`         // 标签键值对
	Capabilities []string          `json:"capabilities,omitempty"` // 服务能力列表
}

// Service 表示一个已注册的服务实例
// (name, host, port) 三元组全局唯一，由数据库唯一索引保证
type Service struct {
	ID                  string        `gorm:"column:id;type:char(36);primaryKey" json:"id"`
	Name                string        `gorm:"column:name;size:100;not null;uniqueIndex:uk_service_endpoint" json:"name"`
	Type                ServiceType   `gorm:"column:type;size:32;not null" json:"type"`
	Host                string        `gorm:"column:host;size:255;not null;uniqueIndex:uk_service_endpoint" json:"host"`
	Port                int           `gorm:"column:port;not null;uniqueIndex:uk_service_endpoint" json:"port"`
	Status              ServiceStatus `gorm:"column:status;size:32;not null;default:unknown" json:"status"`
	HealthCheckEndpoint string        `gorm:"column:health_check_endpoint;size:500" json:"health_check_endpoint"`
	HealthCheckInterval int           `gorm:"column:health_check_interval;not null;default:30" json:"health_check_interval"`
	HealthCheckTimeout  int           `gorm:"column:health_check_timeout;not null;default:10" json:"health_check_timeout"`
	HealthCheckFailures int           `gorm:"column:health_check_failures;not null;default:0" json:"health_check_failures"`
	LastHealthCheckAt   *time.Time    `gorm:"column:last_health_check_at" json:"last_health_check_at,omitempty"`
	Metadata            Metadata      `gorm:"column:service_metadata;serializer:json" json:"metadata"`
	RegisteredAt        time.Time     `gorm:"column:registered_at;not null" json:"registered_at"`
	LastSeenAt          time.Time     `gorm:"column:last_seen_at;not null;index:idx_services_last_seen" json:"last_seen_at"`
	UpdatedAt           time.Time     `gorm:"column:updated_at;not null;autoUpdateTime" json:"updated_at"`
	Version             int           `gorm:"column:version;not null;default:1" json:"version"`
}

// TableName 指定表名
func (Service) TableName() string {
	return "services"
}

// Endpoint 返回服务的 host:port 地址
func (s *Service) Endpoint() string {
	return fmt.Sprintf("%s:%d", s.Host, s.Port)
}

// ServiceEvent 表示一条不可变的服务审计事件
// 随所属服务级联删除，仅用于审计回放，不参与发现逻辑
type ServiceEvent struct {
	ID        string                 `gorm:"column:id;type:char(36);primaryKey" json:"id"`
	ServiceID string                 `gorm:"column:service_id;type:char(36);not null;index:idx_service_events_service_id" json:"service_id"`
	EventType string                 `gorm:"column:event_type;size:50;not null" json:"event_type"`
	EventData map[string]interface{} `gorm:"column:event_data;serializer:json" json:"event_data"`
	CreatedAt time.Time              `gorm:"column:created_at;not null;autoCreateTime" json:"created_at"`
	Service   *Service               `gorm:"foreignKey:ServiceID;constraint:OnDelete:CASCADE" json:"-"`
}

// TableName 指定表名
func (ServiceEvent) TableName() string {
	return "service_events"
}

// ServiceUpdate 表示一次部分字段更新，nil 字段保持不变
type ServiceUpdate struct {
	Type                *ServiceType
	Status              *ServiceStatus
	HealthCheckEndpoint *string
	Metadata            *Metadata
}

// ServiceFilter 表示服务列表查询的过滤条件
// 标签过滤仅支持单个 key=value 谓词
type ServiceFilter struct {
	Type     *ServiceType
	Status   *ServiceStatus
	TagKey   string
	TagValue string
}

// HasTag 返回过滤条件是否包含标签谓词
func (f ServiceFilter) HasTag() bool {
	return f.TagKey != ""
}
