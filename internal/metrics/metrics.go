// Package metrics 定义注册中心的Prometheus指标
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const (
	// Namespace 所有指标的命名空间
	Namespace = "registry"

	// 各组件的子系统名称
	SubsystemRegistration = "registration"
	SubsystemDiscovery    = "discovery"
	SubsystemHealth       = "health"
	SubsystemStore        = "store"
	SubsystemSweeper      = "sweeper"
)

// 注册结果
const (
	OutcomeCreated  = "created"
	OutcomeUpdated  = "updated"
	OutcomeConflict = "conflict"
)

var (
	// RegistrationsTotal 按服务类型和结果统计注册请求
	RegistrationsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: Namespace,
			Subsystem: SubsystemRegistration,
			Name:      "requests_total",
			Help:      "Total number of service registration requests",
		},
		[]string{"type", "outcome"},
	)

	// DiscoveryRequestsTotal 按服务名和是否命中统计发现请求
	DiscoveryRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: Namespace,
			Subsystem: SubsystemDiscovery,
			Name:      "requests_total",
			Help:      "Total number of service discovery requests",
		},
		[]string{"service", "found"},
	)

	// HealthTransitionsTotal 按新旧状态统计健康状态迁移
	HealthTransitionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: Namespace,
			Subsystem: SubsystemHealth,
			Name:      "transitions_total",
			Help:      "Total number of service status transitions",
		},
		[]string{"from", "to"},
	)

	// StaleServicesSweptTotal 统计被过期清理删除的服务数
	StaleServicesSweptTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: Namespace,
			Subsystem: SubsystemSweeper,
			Name:      "stale_services_swept_total",
			Help:      "Total number of stale services removed by the sweeper",
		},
	)

	// StoreOperationDuration 按操作统计存储耗时
	StoreOperationDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: Namespace,
			Subsystem: SubsystemStore,
			Name:      "operation_duration_seconds",
			Help:      "Duration of store operations in seconds",
			Buckets:   []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5},
		},
		[]string{"operation"},
	)
)

// ObserveStoreOperation 记录一次存储操作的耗时
func ObserveStoreOperation(operation string, start time.Time) {
	StoreOperationDuration.WithLabelValues(operation).Observe(time.Since(start).Seconds())
}
