package model

import "time"

// UnhealthyFailureThreshold 连续失败达到该次数后服务被判定为不健康
const UnhealthyFailureThreshold = 3

// ApplyHealthSignal 将一次布尔健康信号应用到服务上
//
// 信号为健康时立即恢复 healthy 并清零失败计数；信号为不健康时累加失败计数，
// 达到阈值判定 unhealthy，否则 degraded。多次失败才判死、一次成功即复活，
// 避免瞬时抖动导致状态翻转。
//
// checkTime 记录到 last_health_check_at，now 记录到 last_seen_at。
// 返回变化前的状态以及状态是否发生变化，调用方据此决定是否记录
// status_change 事件。
func ApplyHealthSignal(svc *Service, healthy bool, checkTime, now time.Time) (old ServiceStatus, changed bool) {
	old = svc.Status

	if healthy {
		svc.Status = StatusHealthy
		svc.HealthCheckFailures = 0
	} else {
		svc.HealthCheckFailures++
		if svc.HealthCheckFailures >= UnhealthyFailureThreshold {
			svc.Status = StatusUnhealthy
		} else {
			svc.Status = StatusDegraded
		}
	}

	svc.LastHealthCheckAt = &checkTime
	svc.LastSeenAt = now

	return old, svc.Status != old
}
