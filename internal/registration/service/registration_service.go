package service

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/hewenyu/service-registry/internal/config"
	"github.com/hewenyu/service-registry/internal/core/model"
	"github.com/hewenyu/service-registry/internal/metrics"
	serviceStore "github.com/hewenyu/service-registry/internal/store/service"
)

// RegistrationService 提供服务注册相关的业务逻辑
type RegistrationService interface {
	// Register 注册服务，三元组已存在时按重复注册处理
	// 返回的布尔值表示本次是否新建了记录（true=新建，false=更新）
	Register(ctx context.Context, req *model.RegisterServiceRequest) (*model.Service, bool, error)

	// ReportHealth 上报一次布尔健康信号
	ReportHealth(ctx context.Context, serviceID string, healthy bool) (*model.Service, error)

	// Deregister 注销服务
	Deregister(ctx context.Context, serviceID string) error

	// CleanupStaleServices 清理超过TTL未上报的服务，返回清理数量
	CleanupStaleServices(ctx context.Context) (int, error)
}

// registrationService 实现 RegistrationService 接口
type registrationService struct {
	store    serviceStore.ServiceStore
	logger   config.Logger
	staleTTL time.Duration
}

// NewRegistrationService 创建一个新的服务注册服务
// staleTTL 是服务未上报视为过期的时间阈值
func NewRegistrationService(store serviceStore.ServiceStore, logger config.Logger, staleTTL time.Duration) RegistrationService {
	return &registrationService{
		store:    store,
		logger:   logger,
		staleTTL: staleTTL,
	}
}

// Register 注册服务
//
// 两阶段处理并发首次注册的竞争：先按三元组查找，未命中则尝试创建；
// 创建因唯一索引冲突失败时说明并发注册抢先完成，重新查找并回退到更新路径；
// 重查仍未命中（极端时序）才把冲突暴露给调用方。
// 普通的存在性预检查在并发下不可靠，唯一索引才是三元组归属的最终裁决者。
func (s *registrationService) Register(ctx context.Context, req *model.RegisterServiceRequest) (*model.Service, bool, error) {
	if err := req.Normalize(); err != nil {
		return nil, false, serviceStore.NewInvalidArgumentError(err.Error())
	}

	// 第一步：是否为重复注册
	existing, err := s.store.GetByEndpoint(ctx, req.Name, req.Host, req.Port)
	if err == nil {
		svc, uerr := s.applyReRegistration(ctx, existing.ID, req)
		if uerr != nil {
			return nil, false, uerr
		}
		metrics.RegistrationsTotal.WithLabelValues(string(req.Type), metrics.OutcomeUpdated).Inc()
		return svc, false, nil
	}
	if !serviceStore.IsNotFound(err) {
		return nil, false, fmt.Errorf("查询服务注册记录失败: %w", err)
	}

	// 第二步：尝试创建
	created, cerr := s.store.Create(ctx, &model.Service{
		Name:                req.Name,
		Type:                req.Type,
		Host:                req.Host,
		Port:                req.Port,
		HealthCheckEndpoint: req.HealthCheckEndpoint,
		Metadata:            *req.Metadata,
	})
	if cerr == nil {
		metrics.RegistrationsTotal.WithLabelValues(string(req.Type), metrics.OutcomeCreated).Inc()
		return created, true, nil
	}
	if !serviceStore.IsConflict(cerr) {
		return nil, false, fmt.Errorf("创建服务失败: %w", cerr)
	}

	// 第三步：创建冲突，说明输掉了并发注册的竞争，回退到更新路径
	s.logger.Info("并发注册冲突，回退到更新路径",
		zap.String("service_name", req.Name),
		zap.String("host", req.Host),
		zap.Int("port", req.Port))

	existing, err = s.store.GetByEndpoint(ctx, req.Name, req.Host, req.Port)
	if err != nil {
		metrics.RegistrationsTotal.WithLabelValues(string(req.Type), metrics.OutcomeConflict).Inc()
		if serviceStore.IsNotFound(err) {
			// 赢家在重查前被删除的极端时序，向调用方暴露原始冲突
			return nil, false, cerr
		}
		return nil, false, fmt.Errorf("查询服务注册记录失败: %w", err)
	}

	svc, uerr := s.applyReRegistration(ctx, existing.ID, req)
	if uerr != nil {
		return nil, false, uerr
	}
	metrics.RegistrationsTotal.WithLabelValues(string(req.Type), metrics.OutcomeUpdated).Inc()
	return svc, false, nil
}

// applyReRegistration 重复注册按更新处理
// 刷新类型、元数据与健康检查路径，并把状态重置为unknown：
// 重复注册意味着进程重启，旧的健康状态不再可信，需要重新赢得
func (s *registrationService) applyReRegistration(ctx context.Context, serviceID string, req *model.RegisterServiceRequest) (*model.Service, error) {
	unknown := model.StatusUnknown
	update := model.ServiceUpdate{
		Type:                &req.Type,
		Status:              &unknown,
		HealthCheckEndpoint: &req.HealthCheckEndpoint,
		Metadata:            req.Metadata,
	}

	svc, err := s.store.Update(ctx, serviceID, update, nil)
	if err != nil {
		return nil, fmt.Errorf("更新服务注册记录失败: %w", err)
	}

	s.logger.Info("服务重复注册，已更新现有记录",
		zap.String("service_id", svc.ID),
		zap.String("service_name", svc.Name),
		zap.Int("version", svc.Version))
	return svc, nil
}

// ReportHealth 上报一次布尔健康信号
func (s *registrationService) ReportHealth(ctx context.Context, serviceID string, healthy bool) (*model.Service, error) {
	svc, err := s.store.UpdateHealthStatus(ctx, serviceID, healthy, nil)
	if err != nil {
		return nil, fmt.Errorf("更新健康状态失败: %w", err)
	}
	return svc, nil
}

// Deregister 注销服务
func (s *registrationService) Deregister(ctx context.Context, serviceID string) error {
	if err := s.store.Delete(ctx, serviceID); err != nil {
		return fmt.Errorf("注销服务失败: %w", err)
	}
	return nil
}

// CleanupStaleServices 清理过期服务
func (s *registrationService) CleanupStaleServices(ctx context.Context) (int, error) {
	// 计算过期时间线
	before := time.Now().UTC().Add(-s.staleTTL)

	count, err := s.store.CleanupStaleServices(ctx, before)
	if err != nil {
		return 0, fmt.Errorf("清理过期服务失败: %w", err)
	}

	if count > 0 {
		metrics.StaleServicesSweptTotal.Add(float64(count))
	}
	return count, nil
}
