package service

import (
	"context"
	"fmt"
	"regexp"
	"strings"

	"go.uber.org/zap"

	"github.com/hewenyu/service-registry/internal/config"
	"github.com/hewenyu/service-registry/internal/core/model"
	"github.com/hewenyu/service-registry/internal/metrics"
	serviceStore "github.com/hewenyu/service-registry/internal/store/service"
)

// StatusAny 表示调用方显式放宽状态过滤，仅排除不健康实例
const StatusAny = "any"

// 标签键的合法字符集，标签键会被拼入JSON路径表达式，必须先行校验
var tagKeyPattern = regexp.MustCompile(`^[A-Za-z0-9._-]+$`)

// DiscoveryService 提供服务发现相关的查询逻辑
type DiscoveryService interface {
	// Discover 按名称发现服务实例，按最后活跃时间降序排列
	// statusParam 为空时默认只返回健康实例，为 any 时仅排除不健康实例
	Discover(ctx context.Context, serviceName, statusParam string) ([]*model.Service, error)

	// ListServices 按类型、状态和标签列出服务，按名称升序排列
	// tagParam 为单个 key=value 谓词，格式非法时返回参数无效错误
	ListServices(ctx context.Context, typeParam, statusParam, tagParam string) ([]*model.Service, error)

	// GetService 按ID获取服务详情
	GetService(ctx context.Context, serviceID string) (*model.Service, error)

	// ListServiceEvents 按创建时间升序返回服务的审计事件
	ListServiceEvents(ctx context.Context, serviceID string) ([]*model.ServiceEvent, error)
}

// discoveryService 实现 DiscoveryService 接口
type discoveryService struct {
	store  serviceStore.ServiceStore
	logger config.Logger
}

// NewDiscoveryService 创建一个新的服务发现服务
func NewDiscoveryService(store serviceStore.ServiceStore, logger config.Logger) DiscoveryService {
	return &discoveryService{
		store:  store,
		logger: logger,
	}
}

// Discover 按名称发现服务实例
func (s *discoveryService) Discover(ctx context.Context, serviceName, statusParam string) ([]*model.Service, error) {
	name, err := model.NormalizeServiceName(serviceName)
	if err != nil {
		return nil, serviceStore.NewInvalidArgumentError(err.Error())
	}

	var status *model.ServiceStatus
	excludeUnhealthy := false
	switch strings.ToLower(strings.TrimSpace(statusParam)) {
	case "":
		// 默认只返回健康实例
		healthy := model.StatusHealthy
		status = &healthy
	case StatusAny:
		excludeUnhealthy = true
	default:
		parsed, ok := model.ParseServiceStatus(statusParam)
		if !ok {
			return nil, serviceStore.NewInvalidArgumentError(fmt.Sprintf("无效的服务状态: %s", statusParam))
		}
		status = &parsed
	}

	services, err := s.store.FindByName(ctx, name, status, excludeUnhealthy)
	if err != nil {
		return nil, fmt.Errorf("服务发现查询失败: %w", err)
	}

	found := "false"
	if len(services) > 0 {
		found = "true"
	}
	metrics.DiscoveryRequestsTotal.WithLabelValues(name, found).Inc()

	s.logger.Debug("服务发现查询完成",
		zap.String("service_name", name),
		zap.Int("instances", len(services)))
	return services, nil
}

// ListServices 按过滤条件列出服务
func (s *discoveryService) ListServices(ctx context.Context, typeParam, statusParam, tagParam string) ([]*model.Service, error) {
	filter := model.ServiceFilter{}

	if typeParam != "" {
		t, ok := model.ParseServiceType(typeParam)
		if !ok {
			return nil, serviceStore.NewInvalidArgumentError(fmt.Sprintf("无效的服务类型: %s", typeParam))
		}
		filter.Type = &t
	}

	if statusParam != "" {
		st, ok := model.ParseServiceStatus(statusParam)
		if !ok {
			return nil, serviceStore.NewInvalidArgumentError(fmt.Sprintf("无效的服务状态: %s", statusParam))
		}
		filter.Status = &st
	}

	if tagParam != "" {
		key, value, err := parseTagFilter(tagParam)
		if err != nil {
			return nil, serviceStore.NewInvalidArgumentError(err.Error())
		}
		filter.TagKey = key
		filter.TagValue = value
	}

	services, err := s.store.ListServices(ctx, filter)
	if err != nil {
		return nil, fmt.Errorf("查询服务列表失败: %w", err)
	}
	return services, nil
}

// GetService 按ID获取服务详情
func (s *discoveryService) GetService(ctx context.Context, serviceID string) (*model.Service, error) {
	svc, err := s.store.GetService(ctx, serviceID)
	if err != nil {
		return nil, fmt.Errorf("查询服务失败: %w", err)
	}
	return svc, nil
}

// ListServiceEvents 返回服务的审计事件
func (s *discoveryService) ListServiceEvents(ctx context.Context, serviceID string) ([]*model.ServiceEvent, error) {
	events, err := s.store.ListEvents(ctx, serviceID)
	if err != nil {
		return nil, fmt.Errorf("查询服务事件失败: %w", err)
	}
	return events, nil
}

// parseTagFilter 解析 key=value 形式的标签过滤条件
func parseTagFilter(raw string) (string, string, error) {
	if !strings.Contains(raw, "=") {
		return "", "", fmt.Errorf("标签过滤格式必须为 key=value")
	}
	parts := strings.SplitN(raw, "=", 2)
	key, value := parts[0], parts[1]
	if key == "" {
		return "", "", fmt.Errorf("标签键不能为空")
	}
	if !tagKeyPattern.MatchString(key) {
		return "", "", fmt.Errorf("标签键只能包含字母、数字、点、连字符和下划线")
	}
	return key, value, nil
}
